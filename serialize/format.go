// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serialize

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec is one printf-style conversion parsed from a format string.
type Spec struct {
	Flags     string
	Width     string
	Precision string // without the leading '.'
	Length    string // C length modifier: h, hh, l, ll, L, z, j, t
	Verb      byte

	// Kind is the Value kind the conversion produces and consumes.
	Kind Kind
	// Size is the packed byte width of one element in table buffers. It is
	// zero for conversions without a fixed width (e.g. "%s").
	Size int
}

// String renders the conversion back to C printf syntax.
func (s Spec) String() string {
	var b strings.Builder
	b.WriteByte('%')
	b.WriteString(s.Flags)
	b.WriteString(s.Width)
	if s.Precision != "" {
		b.WriteByte('.')
		b.WriteString(s.Precision)
	}
	b.WriteString(s.Length)
	b.WriteByte(s.Verb)
	return b.String()
}

// goVerb translates the conversion into a Go fmt verb. Length modifiers are
// dropped because Go values carry their own width.
func (s Spec) goVerb() string {
	verb := s.Verb
	switch verb {
	case 'i', 'u':
		verb = 'd'
	case 'F':
		verb = 'f'
	}
	var b strings.Builder
	b.WriteByte('%')
	b.WriteString(s.Flags)
	b.WriteString(s.Width)
	if s.Precision != "" {
		b.WriteByte('.')
		b.WriteString(s.Precision)
	}
	b.WriteByte(verb)
	return b.String()
}

// scanWidth is the maximum number of input bytes a conversion may consume
// while scanning. Only string and char conversions honour a width, numeric
// widths are printf padding.
func (s Spec) scanWidth() int {
	if s.Verb != 's' && s.Verb != 'c' {
		return 0
	}
	if s.Width == "" {
		if s.Verb == 'c' {
			return 1
		}
		return 0
	}
	w, _ := strconv.Atoi(s.Width)
	return w
}

type piece struct {
	literal string
	spec    *Spec
}

// Format is a parsed printf-style format string.
type Format struct {
	raw    string
	pieces []piece
	specs  []Spec
}

// ParseFormat parses a C printf-style format string. Supported conversions
// are d i u x X o f F e E g G s c; "%%" is a literal percent sign.
func ParseFormat(format string) (*Format, error) {
	f := &Format{raw: format}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			f.pieces = append(f.pieces, piece{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			lit.WriteByte(c)
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			lit.WriteByte('%')
			i++
			continue
		}

		spec, n, err := parseSpec(format[i:])
		if err != nil {
			return nil, err
		}
		flush()
		f.pieces = append(f.pieces, piece{spec: &spec})
		f.specs = append(f.specs, spec)
		i += n - 1
	}
	flush()

	if len(f.specs) == 0 {
		return nil, fmt.Errorf("%w: no conversions in %q", ErrBadFormat, format)
	}
	return f, nil
}

// parseSpec parses one conversion starting at s[0] == '%' and returns it with
// the number of bytes consumed.
func parseSpec(s string) (Spec, int, error) {
	var spec Spec
	i := 1
	start := i
	for i < len(s) && strings.IndexByte("-+ #0", s[i]) >= 0 {
		i++
	}
	spec.Flags = s[start:i]

	start = i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	spec.Width = s[start:i]

	if i < len(s) && s[i] == '.' {
		i++
		start = i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		spec.Precision = s[start:i]
	}

	start = i
	for i < len(s) && strings.IndexByte("hlLzjtq", s[i]) >= 0 {
		i++
	}
	spec.Length = s[start:i]

	if i >= len(s) {
		return Spec{}, 0, fmt.Errorf("%w: truncated conversion %q", ErrBadFormat, s)
	}
	spec.Verb = s[i]
	i++

	if err := spec.classify(); err != nil {
		return Spec{}, 0, err
	}
	return spec, i, nil
}

func (s *Spec) classify() error {
	switch s.Verb {
	case 'd', 'i':
		s.Kind = KindInt
		s.Size = intSize(s.Length)
	case 'u', 'x', 'X', 'o':
		s.Kind = KindUint
		s.Size = intSize(s.Length)
	case 'f', 'F', 'e', 'E', 'g', 'G':
		s.Kind = KindFloat
		s.Size = 8
	case 's':
		s.Kind = KindString
		if s.Width != "" {
			s.Size, _ = strconv.Atoi(s.Width)
		}
	case 'c':
		s.Kind = KindString
		s.Size = 1
		if s.Width != "" {
			s.Size, _ = strconv.Atoi(s.Width)
		}
	default:
		return fmt.Errorf("%w: unsupported conversion %q", ErrBadFormat, s.String())
	}
	return nil
}

// intSize maps a C length modifier to the byte width of the integer type on
// an LP64 platform.
func intSize(length string) int {
	switch length {
	case "hh":
		return 1
	case "h":
		return 2
	case "l", "ll", "L", "q", "z", "j", "t":
		return 8
	}
	return 4
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// String returns the original format string.
func (f *Format) String() string { return f.raw }

// Specs returns the conversions in order of appearance.
func (f *Format) Specs() []Spec { return f.specs }

// NumColumns returns the number of conversions.
func (f *Format) NumColumns() int { return len(f.specs) }

// RowSize returns the packed byte size of one row. Every conversion must
// have a fixed width.
func (f *Format) RowSize() (int, error) {
	size := 0
	for _, s := range f.specs {
		if s.Size == 0 {
			return 0, fmt.Errorf("%w: %q has no fixed width", ErrBadFormat, s.String())
		}
		size += s.Size
	}
	return size, nil
}

// Simplify returns the format with numeric width, precision and length
// modifiers removed. The result is what scanning matches against.
func (f *Format) Simplify() string {
	var b strings.Builder
	for _, p := range f.pieces {
		if p.spec == nil {
			b.WriteString(strings.ReplaceAll(p.literal, "%", "%%"))
			continue
		}
		b.WriteByte('%')
		if w := p.spec.scanWidth(); w > 0 && p.spec.Width != "" {
			b.WriteString(p.spec.Width)
		}
		b.WriteByte(p.spec.Verb)
	}
	return b.String()
}

// Render formats one row of values.
func (f *Format) Render(values []Value) ([]byte, error) {
	if len(values) != len(f.specs) {
		return nil, fmt.Errorf("%w: format %q takes %d values, got %d",
			ErrArgCount, f.raw, len(f.specs), len(values))
	}

	var b strings.Builder
	idx := 0
	for _, p := range f.pieces {
		if p.spec == nil {
			b.WriteString(p.literal)
			continue
		}
		arg, err := goArg(*p.spec, values[idx])
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", idx, err)
		}
		if p.spec.Verb == 'c' {
			writeChars(&b, arg.(string), p.spec.Size)
		} else {
			fmt.Fprintf(&b, p.spec.goVerb(), arg)
		}
		idx++
	}
	return []byte(b.String()), nil
}

func goArg(s Spec, v Value) (interface{}, error) {
	switch s.Kind {
	case KindInt:
		if !v.IsNumeric() {
			return nil, fmt.Errorf("%w: %s for %s", ErrValueKind, v.Kind(), s.String())
		}
		return v.Int(), nil
	case KindUint:
		if !v.IsNumeric() {
			return nil, fmt.Errorf("%w: %s for %s", ErrValueKind, v.Kind(), s.String())
		}
		return v.Uint(), nil
	case KindFloat:
		if !v.IsNumeric() {
			return nil, fmt.Errorf("%w: %s for %s", ErrValueKind, v.Kind(), s.String())
		}
		return v.Float(), nil
	}
	if v.IsNumeric() {
		return nil, fmt.Errorf("%w: %s for %s", ErrValueKind, v.Kind(), s.String())
	}
	return string(v.Bytes()), nil
}

// writeChars writes exactly n bytes of s, padding with spaces.
func writeChars(b *strings.Builder, s string, n int) {
	if len(s) >= n {
		b.WriteString(s[:n])
		return
	}
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", n-len(s)))
}
