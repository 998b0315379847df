// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serialize

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("New", func() {
	It("should dispatch every built-in tag", func() {
		for _, tag := range []string{TagDirect, TagFormat, TagTable, TagTableArray} {
			s, err := New(tag, "%5s\t%d\n")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Tag()).To(Equal(tag))
		}
	})

	It("should reject unknown tags", func() {
		_, err := New("pickle", "")
		Expect(err).To(MatchError(ErrUnknownSerializer))
	})

	It("should list available tags", func() {
		Expect(Available()).To(ContainElements(TagDirect, TagFormat, TagTable, TagTableArray))
	})
})

var _ = Describe("Direct", func() {
	It("should pass bytes through", func() {
		data, err := Direct{}.Serialize([]Value{Bytes([]byte{0, 1, 2, 255})})
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte{0, 1, 2, 255}))

		values, err := Direct{}.Deserialize(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(values).To(HaveLen(1))
		Expect(values[0].Bytes()).To(Equal(data))
	})

	It("should require exactly one value", func() {
		_, err := Direct{}.Serialize([]Value{String("a"), String("b")})
		Expect(err).To(MatchError(ErrArgCount))
	})

	It("should refuse numbers", func() {
		_, err := Direct{}.Serialize([]Value{Int(3)})
		Expect(err).To(MatchError(ErrValueKind))
	})
})

var _ = Describe("FormatSerializer", func() {
	It("should round trip integers, floats and strings", func() {
		s, err := NewFormat("%d\t%lf\t%s\t%u\n")
		Expect(err).NotTo(HaveOccurred())

		in := []Value{Int(-42), Float(3.25), String("hello"), Uint(7)}
		data, err := s.Serialize(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("-42\t3.250000\thello\t7\n"))

		out, err := s.Deserialize(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(len(in)))
		for i := range in {
			Expect(out[i].Equal(in[i])).To(BeTrue(), "value %d: %#v", i, out[i])
		}
	})

	It("should strip precision before scanning", func() {
		s, err := NewFormat("%5.2f,%08.3e\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Format().Simplify()).To(Equal("%f,%e\n"))

		data, err := s.Serialize([]Value{Float(1.5), Float(1234.5)})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(" 1.50,1.234e+03\n"))

		out, err := s.Deserialize(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(out[0].Float()).To(Equal(1.5))
		Expect(out[1].Float()).To(Equal(1234.0))
	})

	It("should read hexadecimal and char conversions", func() {
		s, err := NewFormat("%x %3c|%i")
		Expect(err).NotTo(HaveOccurred())

		data, err := s.Serialize([]Value{Uint(255), String("ab"), Int(9)})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("ff ab |9"))

		out, err := s.Deserialize(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(out[0].Uint()).To(Equal(uint64(255)))
		Expect(out[1].String()).To(Equal("ab"))
		Expect(out[2].Int()).To(Equal(int64(9)))
	})

	It("should report argument count mismatches", func() {
		s, err := NewFormat("%d %d %d\n")
		Expect(err).NotTo(HaveOccurred())

		_, err = s.Serialize([]Value{Int(1)})
		Expect(err).To(MatchError(ErrArgCount))

		values, err := s.Deserialize([]byte("1 2\n"))
		Expect(err).To(MatchError(ErrArgCount))
		Expect(values).To(HaveLen(2))
	})

	It("should refuse strings for numeric conversions", func() {
		s, err := NewFormat("%d")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Serialize([]Value{String("x")})
		Expect(err).To(MatchError(ErrValueKind))
	})

	It("should keep literal percent signs", func() {
		s, err := NewFormat("%d%%\n")
		Expect(err).NotTo(HaveOccurred())
		data, err := s.Serialize([]Value{Int(50)})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("50%\n"))

		out, err := s.Deserialize(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(out[0].Int()).To(Equal(int64(50)))
	})

	It("should reject formats without conversions", func() {
		_, err := NewFormat("plain text\n")
		Expect(err).To(MatchError(ErrBadFormat))
		_, err = NewFormat("%q")
		Expect(err).To(MatchError(ErrBadFormat))
	})
})
