// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serialize

import (
	"fmt"
	"strconv"
	"strings"
)

// Scan parses one row of text according to the format. Precision and length
// modifiers are ignored; numeric widths are treated as padding. Every
// conversion must match or ErrArgCount is returned.
func (f *Format) Scan(data []byte) ([]Value, error) {
	s := &scanner{in: string(data)}
	values := make([]Value, 0, len(f.specs))

	for _, p := range f.pieces {
		if p.spec == nil {
			if !s.literal(p.literal) {
				break
			}
			continue
		}
		v, ok := s.convert(*p.spec)
		if !ok {
			break
		}
		values = append(values, v)
	}

	if len(values) != len(f.specs) {
		return values, fmt.Errorf("%w: scanned %d of %d values from %q",
			ErrArgCount, len(values), len(f.specs), truncate(s.in, 64))
	}
	return values, nil
}

type scanner struct {
	in  string
	pos int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.in) && isSpace(s.in[s.pos]) {
		s.pos++
	}
}

// literal matches format text: whitespace matches any run of input
// whitespace, anything else must match exactly.
func (s *scanner) literal(lit string) bool {
	for i := 0; i < len(lit); i++ {
		if isSpace(lit[i]) {
			s.skipSpace()
			continue
		}
		if s.pos >= len(s.in) || s.in[s.pos] != lit[i] {
			return false
		}
		s.pos++
	}
	return true
}

func (s *scanner) convert(spec Spec) (Value, bool) {
	if spec.Verb == 'c' {
		n := spec.scanWidth()
		if s.pos+n > len(s.in) {
			return Value{}, false
		}
		tok := s.in[s.pos : s.pos+n]
		s.pos += n
		return String(strings.TrimRight(tok, " ")), true
	}

	s.skipSpace()
	switch spec.Kind {
	case KindInt:
		tok := s.take(func(i int, c byte) bool {
			return isDigit(c) || (i == 0 && (c == '-' || c == '+')) ||
				(spec.Verb == 'i' && isHexRune(c))
		}, 0)
		base := 10
		if spec.Verb == 'i' {
			base = 0
		}
		v, err := strconv.ParseInt(tok, base, 64)
		if err != nil {
			return Value{}, false
		}
		return Int(v), true
	case KindUint:
		base := 10
		switch spec.Verb {
		case 'x', 'X':
			base = 16
		case 'o':
			base = 8
		}
		tok := s.take(func(i int, c byte) bool {
			if i == 0 && c == '+' {
				return true
			}
			if base == 16 {
				return isHexRune(c)
			}
			return isDigit(c)
		}, 0)
		tok = strings.TrimPrefix(tok, "+")
		if base == 16 {
			tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		}
		v, err := strconv.ParseUint(tok, base, 64)
		if err != nil {
			return Value{}, false
		}
		return Uint(v), true
	case KindFloat:
		tok := s.take(func(_ int, c byte) bool {
			return isDigit(c) || strings.IndexByte("+-.eEinfatyINFATYxXpP", c) >= 0
		}, 0)
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return Value{}, false
		}
		return Float(v), true
	}

	tok := s.take(func(_ int, c byte) bool { return !isSpace(c) }, spec.scanWidth())
	if tok == "" {
		return Value{}, false
	}
	return String(tok), true
}

// take consumes the longest prefix accepted by ok, limited to max bytes when
// max is positive.
func (s *scanner) take(ok func(i int, c byte) bool, max int) string {
	start := s.pos
	for s.pos < len(s.in) && ok(s.pos-start, s.in[s.pos]) {
		if max > 0 && s.pos-start >= max {
			break
		}
		s.pos++
	}
	return s.in[start:s.pos]
}

func isHexRune(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == 'x' || c == 'X'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
