// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serialize

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// layout caches the per-column geometry derived once from a format string.
type layout struct {
	format  *Format
	specs   []Spec
	rowSize int
}

func newLayout(format string) (layout, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return layout{}, err
	}
	rowSize, err := f.RowSize()
	if err != nil {
		return layout{}, err
	}
	return layout{format: f, specs: f.Specs(), rowSize: rowSize}, nil
}

// Format returns the parsed format.
func (l layout) Format() *Format { return l.format }

// RowSize returns the packed size of one row in bytes.
func (l layout) RowSize() int { return l.rowSize }

// ColumnSizes returns the packed width of each column.
func (l layout) ColumnSizes() []int {
	sizes := make([]int, len(l.specs))
	for i, s := range l.specs {
		sizes[i] = s.Size
	}
	return sizes
}

// NumRows returns how many rows a packed buffer of n bytes holds.
func (l layout) NumRows(n int) (int, error) {
	if n%l.rowSize != 0 {
		return 0, fmt.Errorf("%w: %d bytes, row size %d", ErrRowSize, n, l.rowSize)
	}
	return n / l.rowSize, nil
}

// PackColumns packs equally long columns into one buffer, column after
// column, each element at its column's fixed width.
func (l layout) PackColumns(cols [][]Value) ([]byte, error) {
	if len(cols) != len(l.specs) {
		return nil, fmt.Errorf("%w: %d columns for %d conversions", ErrArgCount, len(cols), len(l.specs))
	}
	nrows := 0
	if len(cols) > 0 {
		nrows = len(cols[0])
	}
	buf := make([]byte, 0, nrows*l.rowSize)
	for j, col := range cols {
		if len(col) != nrows {
			return nil, fmt.Errorf("%w: column %d has %d rows, want %d", ErrArgCount, j, len(col), nrows)
		}
		for i, v := range col {
			var err error
			buf, err = appendElem(buf, l.specs[j], v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
		}
	}
	return buf, nil
}

// UnpackColumns is the inverse of PackColumns.
func (l layout) UnpackColumns(data []byte) ([][]Value, error) {
	nrows, err := l.NumRows(len(data))
	if err != nil {
		return nil, err
	}
	cols := make([][]Value, len(l.specs))
	off := 0
	for j, spec := range l.specs {
		col := make([]Value, nrows)
		for i := range col {
			col[i] = readElem(spec, data[off:off+spec.Size])
			off += spec.Size
		}
		cols[j] = col
	}
	return cols, nil
}

func appendElem(buf []byte, spec Spec, v Value) ([]byte, error) {
	switch spec.Kind {
	case KindInt, KindUint:
		if !v.IsNumeric() {
			return nil, fmt.Errorf("%w: %s for %s", ErrValueKind, v.Kind(), spec.String())
		}
		if !fits(spec, v) {
			return nil, fmt.Errorf("%w: %s for %s", ErrValueRange, v, spec.String())
		}
		bits := v.Uint()
		if spec.Kind == KindInt {
			bits = uint64(v.Int())
		}
		switch spec.Size {
		case 1:
			return append(buf, byte(bits)), nil
		case 2:
			return binary.LittleEndian.AppendUint16(buf, uint16(bits)), nil
		case 4:
			return binary.LittleEndian.AppendUint32(buf, uint32(bits)), nil
		default:
			return binary.LittleEndian.AppendUint64(buf, bits), nil
		}
	case KindFloat:
		if !v.IsNumeric() {
			return nil, fmt.Errorf("%w: %s for %s", ErrValueKind, v.Kind(), spec.String())
		}
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.Float())), nil
	}

	if v.IsNumeric() {
		return nil, fmt.Errorf("%w: %s for %s", ErrValueKind, v.Kind(), spec.String())
	}
	elem := make([]byte, spec.Size)
	copy(elem, v.Bytes())
	return append(buf, elem...), nil
}

// fits reports whether numeric v packs into an integer column of spec
// without losing bits.
func fits(spec Spec, v Value) bool {
	bits := uint(spec.Size) * 8
	if spec.Kind == KindInt {
		if v.Kind() == KindUint {
			return v.Uint() <= uint64(1)<<(min(bits, 64)-1)-1
		}
		if bits >= 64 {
			return true
		}
		n, lim := v.Int(), int64(1)<<(bits-1)
		return n >= -lim && n < lim
	}
	if v.Kind() != KindUint && v.Int() < 0 {
		return false
	}
	return bits >= 64 || v.Uint() < uint64(1)<<bits
}

func readElem(spec Spec, b []byte) Value {
	switch spec.Kind {
	case KindInt:
		switch spec.Size {
		case 1:
			return Int(int64(int8(b[0])))
		case 2:
			return Int(int64(int16(binary.LittleEndian.Uint16(b))))
		case 4:
			return Int(int64(int32(binary.LittleEndian.Uint32(b))))
		default:
			return Int(int64(binary.LittleEndian.Uint64(b)))
		}
	case KindUint:
		switch spec.Size {
		case 1:
			return Uint(uint64(b[0]))
		case 2:
			return Uint(uint64(binary.LittleEndian.Uint16(b)))
		case 4:
			return Uint(uint64(binary.LittleEndian.Uint32(b)))
		default:
			return Uint(binary.LittleEndian.Uint64(b))
		}
	case KindFloat:
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	}
	return String(string(bytes.TrimRight(b, "\x00")))
}

// Table packs rows of typed columns. Values are supplied row after row and
// travel column-major on the wire.
type Table struct {
	layout
}

// NewTable returns a row-oriented table serializer for format.
func NewTable(format string) (*Table, error) {
	l, err := newLayout(format)
	if err != nil {
		return nil, err
	}
	return &Table{layout: l}, nil
}

func (t *Table) Tag() string { return TagTable }

func (t *Table) Serialize(values []Value) ([]byte, error) {
	ncols := len(t.specs)
	if len(values)%ncols != 0 {
		return nil, fmt.Errorf("%w: %d values is not a whole number of %d-column rows",
			ErrArgCount, len(values), ncols)
	}
	nrows := len(values) / ncols
	cols := make([][]Value, ncols)
	for j := range cols {
		cols[j] = make([]Value, nrows)
		for i := 0; i < nrows; i++ {
			cols[j][i] = values[i*ncols+j]
		}
	}
	return t.PackColumns(cols)
}

func (t *Table) Deserialize(data []byte) ([]Value, error) {
	cols, err := t.UnpackColumns(data)
	if err != nil {
		return nil, err
	}
	ncols := len(cols)
	nrows := len(cols[0])
	values := make([]Value, 0, nrows*ncols)
	for i := 0; i < nrows; i++ {
		for j := 0; j < ncols; j++ {
			values = append(values, cols[j][i])
		}
	}
	return values, nil
}

// Rows splits row-major values into rows.
func (t *Table) Rows(values []Value) [][]Value {
	ncols := len(t.specs)
	rows := make([][]Value, 0, len(values)/ncols)
	for i := 0; i+ncols <= len(values); i += ncols {
		rows = append(rows, values[i:i+ncols])
	}
	return rows
}

// TableArray packs whole columns. Values are supplied column after column
// (all rows of column 0, then column 1, ...).
type TableArray struct {
	layout
}

// NewTableArray returns a column-oriented table serializer for format.
func NewTableArray(format string) (*TableArray, error) {
	l, err := newLayout(format)
	if err != nil {
		return nil, err
	}
	return &TableArray{layout: l}, nil
}

func (t *TableArray) Tag() string { return TagTableArray }

func (t *TableArray) Serialize(values []Value) ([]byte, error) {
	ncols := len(t.specs)
	if len(values)%ncols != 0 {
		return nil, fmt.Errorf("%w: %d values is not a whole number of %d columns",
			ErrArgCount, len(values), ncols)
	}
	return t.PackColumns(t.Columns(values))
}

func (t *TableArray) Deserialize(data []byte) ([]Value, error) {
	cols, err := t.UnpackColumns(data)
	if err != nil {
		return nil, err
	}
	values := make([]Value, 0, len(data)/t.rowSize*len(cols))
	for _, col := range cols {
		values = append(values, col...)
	}
	return values, nil
}

// Columns splits column-major values into columns.
func (t *TableArray) Columns(values []Value) [][]Value {
	ncols := len(t.specs)
	nrows := len(values) / ncols
	cols := make([][]Value, ncols)
	for j := range cols {
		cols[j] = values[j*nrows : (j+1)*nrows]
	}
	return cols
}
