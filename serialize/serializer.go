// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package serialize converts ordered slots of typed values to and from wire
// bytes. A Serializer is selected by tag through New:
//
//	direct       raw bytes, no interpretation
//	format       printf/scanf-style text per a format string
//	table        rows of typed columns packed column-major
//	table_array  whole columns packed column-major
package serialize

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Serializer tags
const (
	TagDirect     = "direct"
	TagFormat     = "format"
	TagTable      = "table"
	TagTableArray = "table_array"
)

var (
	ErrUnknownSerializer = errors.New("serialize: unknown serializer")
	ErrArgCount          = errors.New("serialize: argument count mismatch")
	ErrBadFormat         = errors.New("serialize: invalid format string")
	ErrValueKind         = errors.New("serialize: value kind does not match conversion")
	ErrRowSize           = errors.New("serialize: buffer is not a whole number of rows")
	ErrValueRange        = errors.New("serialize: value does not fit column width")
)

// Serializer converts typed values to wire bytes and back.
type Serializer interface {
	// Tag returns the serializer type tag
	Tag() string

	// Serialize encodes values into one message body
	Serialize(values []Value) ([]byte, error)

	// Deserialize decodes one message body
	Deserialize(data []byte) ([]Value, error)
}

type factory func(info string) (Serializer, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]factory{
		TagDirect:     func(string) (Serializer, error) { return Direct{}, nil },
		TagFormat:     func(info string) (Serializer, error) { return NewFormat(info) },
		TagTable:      func(info string) (Serializer, error) { return NewTable(info) },
		TagTableArray: func(info string) (Serializer, error) { return NewTableArray(info) },
	}
)

// Register adds a serializer constructor under tag, replacing any previous one.
func Register(tag string, fn func(info string) (Serializer, error)) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[tag] = fn
}

// New returns the serializer registered under tag, configured with info
// (a format string for every built-in tag except direct).
func New(tag, info string) (Serializer, error) {
	factoriesMu.RLock()
	fn, ok := factories[tag]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, tag)
	}
	return fn(info)
}

// Available returns the registered serializer tags.
func Available() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	tags := make([]string, 0, len(factories))
	for tag := range factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Direct passes bytes through unchanged.
type Direct struct{}

func (Direct) Tag() string { return TagDirect }

func (Direct) Serialize(values []Value) ([]byte, error) {
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: direct takes 1 value, got %d", ErrArgCount, len(values))
	}
	if values[0].IsNumeric() {
		return nil, fmt.Errorf("%w: direct takes bytes, got %s", ErrValueKind, values[0].Kind())
	}
	return values[0].Bytes(), nil
}

func (Direct) Deserialize(data []byte) ([]Value, error) {
	return []Value{Bytes(data)}, nil
}

// FormatSerializer renders values as text with a printf-style format and
// scans them back.
type FormatSerializer struct {
	format *Format
}

// NewFormat parses format and returns a serializer for it.
func NewFormat(format string) (*FormatSerializer, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return &FormatSerializer{format: f}, nil
}

func (s *FormatSerializer) Tag() string { return TagFormat }

// Format returns the parsed format.
func (s *FormatSerializer) Format() *Format { return s.format }

func (s *FormatSerializer) Serialize(values []Value) ([]byte, error) {
	return s.format.Render(values)
}

func (s *FormatSerializer) Deserialize(data []byte) ([]Value, error) {
	return s.format.Scan(data)
}
