// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/luxfi/comm/serialize"
)

func init() {
	registerTransport(TransportTable, createTable, resolveTable)
}

// tableFile exchanges rows of an ASCII table. The writer records the row
// format as the first comment line, so a reader without WithFormat picks it
// up from the file.
//
// In row mode every message is one formatted line. In array mode
// (WithTableArray) a message is a packed column-major buffer: sending writes
// all of its rows, receiving reads every remaining row.
type tableFile struct {
	*fileLines
	format *serialize.Format
	ser    serialize.Serializer
	array  *serialize.TableArray
}

func createTable(s *Session, o *options) (Transport, error) {
	path, err := newFilePath(s, TransportTable, ".tsv")
	if err != nil {
		return nil, err
	}
	return openTable(s, o, path, true)
}

func resolveTable(s *Session, o *options) (Transport, error) {
	return openTable(s, o, o.address, false)
}

func openTable(s *Session, o *options, path string, create bool) (*tableFile, error) {
	if o.dir == DirSend && o.format == "" {
		return nil, fmt.Errorf("%w: writing a table needs a format", serialize.ErrBadFormat)
	}
	header := ""
	if o.dir == DirSend {
		header = o.format
	}
	fl, err := openFileLines(s, o, path, create, header)
	if err != nil {
		return nil, err
	}

	t := &tableFile{fileLines: fl}
	format := o.format
	if format == "" {
		if format, err = t.discoverFormat(); err != nil {
			fl.Close()
			return nil, err
		}
	}
	if err := t.setFormat(format, o.tableArray); err != nil {
		fl.Close()
		return nil, err
	}
	return t, nil
}

// discoverFormat reads leading comment lines up to the first one holding a
// conversion.
func (t *tableFile) discoverFormat() (string, error) {
	for {
		line, err := t.readLine()
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: no format line in %s", serialize.ErrBadFormat, t.path)
		}
		if err != nil {
			return "", err
		}
		if !t.isComment(line) {
			return "", fmt.Errorf("%w: data before format line in %s", serialize.ErrBadFormat, t.path)
		}
		body := bytes.TrimPrefix(bytes.TrimPrefix(line, t.comment), []byte(" "))
		if bytes.IndexByte(body, '%') >= 0 {
			return string(body), nil
		}
	}
}

func (t *tableFile) setFormat(format string, array bool) error {
	if array {
		ta, err := serialize.NewTableArray(format)
		if err != nil {
			return err
		}
		t.format, t.ser, t.array = ta.Format(), ta, ta
		return nil
	}
	fs, err := serialize.NewFormat(format)
	if err != nil {
		return err
	}
	t.format, t.ser = fs.Format(), fs
	return nil
}

// DefaultSerializer matches the message layout of the table mode.
func (t *tableFile) DefaultSerializer() serialize.Serializer { return t.ser }

func (t *tableFile) Send(ctx context.Context, frame []byte) error {
	if t.array == nil || IsEOF(frame) {
		return t.fileLines.Send(ctx, frame)
	}
	cols, err := t.array.UnpackColumns(frame)
	if err != nil {
		return err
	}
	nrows := 0
	if len(cols) > 0 {
		nrows = len(cols[0])
	}
	row := make([]serialize.Value, len(cols))
	for i := 0; i < nrows; i++ {
		for j := range cols {
			row[j] = cols[j][i]
		}
		line, err := t.format.Render(row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := t.fileLines.Send(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (t *tableFile) Recv(ctx context.Context) ([]byte, error) {
	if t.array == nil {
		return t.fileLines.Recv(ctx)
	}
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.dir != DirRecv {
		return nil, fmt.Errorf("%w: %s opened for writing", ErrInvalidDirection, t.path)
	}

	cols := make([][]serialize.Value, t.format.NumColumns())
	nrows := 0
	for {
		line, err := t.nextLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := t.format.Scan(line)
		if err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", nrows, t.path, err)
		}
		for j, v := range row {
			cols[j] = append(cols[j], v)
		}
		nrows++
	}
	if nrows == 0 {
		return EOFMessage(), nil
	}
	return t.array.PackColumns(cols)
}
