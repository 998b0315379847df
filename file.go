// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/xid"
)

func init() {
	registerTransport(TransportFile, createFile, resolveFile)
}

// fileLines exchanges one message per line of a text file. The address is
// the file path. Sending appends; receiving reads from the start, skips
// comment lines, and reports EOF at the end of the file.
type fileLines struct {
	path    string
	dir     Direction
	comment []byte
	f       *os.File
	rd      *bufio.Reader
	closed  atomic.Bool
}

func createFile(s *Session, o *options) (Transport, error) {
	path, err := newFilePath(s, TransportFile, ".txt")
	if err != nil {
		return nil, err
	}
	return openFileLines(s, o, path, true, o.fileHeader)
}

func resolveFile(s *Session, o *options) (Transport, error) {
	return openFileLines(s, o, o.address, false, o.fileHeader)
}

func newFilePath(s *Session, transport, ext string) (string, error) {
	path := filepath.Join(s.cfg.File.Dir, "comm-"+xid.New().String()+ext)
	if !s.reserve(transport, path) {
		return "", fmt.Errorf("file %s handed out twice", path)
	}
	return path, nil
}

func openFileLines(s *Session, o *options, path string, create bool, header string) (*fileLines, error) {
	fl := &fileLines{path: path, dir: o.dir, comment: []byte(s.cfg.File.Comment)}

	var err error
	switch {
	case o.dir == DirSend:
		flag := os.O_WRONLY | os.O_CREATE | os.O_APPEND
		if create {
			flag |= os.O_EXCL
		}
		fl.f, err = os.OpenFile(path, flag, 0o644)
	case create:
		fl.f, err = os.OpenFile(path, os.O_RDONLY|os.O_CREATE|os.O_EXCL, 0o644)
	default:
		fl.f, err = os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no file %s", ErrMissingAddress, path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if o.dir == DirRecv {
		fl.rd = bufio.NewReader(fl.f)
		return fl, nil
	}
	if header != "" {
		if err := fl.writeHeader(header); err != nil {
			fl.f.Close()
			return nil, err
		}
	}
	return fl, nil
}

// writeHeader writes a comment line unless the file already has content.
func (fl *fileLines) writeHeader(line string) error {
	info, err := fl.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", fl.path, err)
	}
	if info.Size() > 0 {
		return nil
	}
	b := []byte(line)
	if !fl.isComment(b) {
		b = append(append(bytes.Clone(fl.comment), ' '), b...)
	}
	return fl.writeLine(b)
}

func (fl *fileLines) isComment(line []byte) bool {
	return len(fl.comment) > 0 && bytes.HasPrefix(line, fl.comment)
}

func (fl *fileLines) writeLine(b []byte) error {
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(bytes.Clone(b), '\n')
	}
	if _, err := fl.f.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", fl.path, err)
	}
	return nil
}

// readLine returns the next line, comment lines included, with its newline.
// The last line of a file may lack one. End of file is io.EOF.
func (fl *fileLines) readLine() ([]byte, error) {
	line, err := fl.rd.ReadBytes('\n')
	if errors.Is(err, io.EOF) {
		if len(line) == 0 {
			return nil, io.EOF
		}
		return line, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fl.path, err)
	}
	return line, nil
}

// nextLine returns the next non-comment line.
func (fl *fileLines) nextLine() ([]byte, error) {
	for {
		line, err := fl.readLine()
		if err != nil {
			return nil, err
		}
		if !fl.isComment(line) {
			return line, nil
		}
	}
}

func (fl *fileLines) Address() string { return fl.path }
func (fl *fileLines) MaxMsgSize() int { return 0 }

// Pending is not countable on a file.
func (fl *fileLines) Pending(context.Context) (int, error) { return 0, nil }

// Send appends frame as a line. End of stream writes nothing; the end of
// the file marks it.
func (fl *fileLines) Send(_ context.Context, frame []byte) error {
	if fl.closed.Load() {
		return ErrClosed
	}
	if fl.dir != DirSend {
		return fmt.Errorf("%w: %s opened for reading", ErrInvalidDirection, fl.path)
	}
	if IsEOF(frame) {
		return nil
	}
	return fl.writeLine(frame)
}

func (fl *fileLines) Recv(context.Context) ([]byte, error) {
	if fl.closed.Load() {
		return nil, ErrClosed
	}
	if fl.dir != DirRecv {
		return nil, fmt.Errorf("%w: %s opened for writing", ErrInvalidDirection, fl.path)
	}
	line, err := fl.nextLine()
	if errors.Is(err, io.EOF) {
		return EOFMessage(), nil
	}
	return line, err
}

func (fl *fileLines) Close() error {
	if fl.closed.Swap(true) {
		return nil
	}
	return fl.f.Close()
}
