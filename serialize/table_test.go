// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serialize

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseFormat", func() {
	It("should derive column widths from length modifiers", func() {
		f, err := ParseFormat("%hhd %hd %d %ld %lld %u %lu %f %lf %g %6s %c\n")
		Expect(err).NotTo(HaveOccurred())

		var sizes []int
		for _, s := range f.Specs() {
			sizes = append(sizes, s.Size)
		}
		Expect(sizes).To(Equal([]int{1, 2, 4, 8, 8, 4, 8, 8, 8, 8, 6, 1}))
	})

	It("should refuse rows with unbounded strings", func() {
		f, err := ParseFormat("%s\t%d\n")
		Expect(err).NotTo(HaveOccurred())
		_, err = f.RowSize()
		Expect(err).To(MatchError(ErrBadFormat))
	})
})

var _ = Describe("Table", func() {
	var (
		table *Table
		rows  []Value
	)

	BeforeEach(func() {
		var err error
		table, err = NewTable("%6s\t%d\t%f\n")
		Expect(err).NotTo(HaveOccurred())

		rows = []Value{
			String("one"), Int(1), Float(1.5),
			String("two"), Int(-2), Float(2.25),
			String("threee"), Int(3), Float(-3.125),
		}
	})

	It("should pack three rows into 3*(6+4+8) bytes", func() {
		data, err := table.Serialize(rows)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(HaveLen(3 * (6 + 4 + 8)))
		Expect(table.RowSize()).To(Equal(18))
		Expect(table.ColumnSizes()).To(Equal([]int{6, 4, 8}))
	})

	It("should lay columns out one after another", func() {
		data, err := table.Serialize(rows)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data[0:6])).To(Equal("one\x00\x00\x00"))
		Expect(string(data[12:18])).To(Equal("threee"))
		Expect(data[18:22]).To(Equal([]byte{1, 0, 0, 0}))
	})

	It("should round trip rows", func() {
		data, err := table.Serialize(rows)
		Expect(err).NotTo(HaveOccurred())

		out, err := table.Deserialize(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HaveLen(len(rows)))
		for i := range rows {
			Expect(out[i].Equal(rows[i])).To(BeTrue(), "value %d: %#v", i, out[i])
		}
		Expect(table.Rows(out)).To(HaveLen(3))
	})

	It("should reject partial rows", func() {
		_, err := table.Serialize(rows[:4])
		Expect(err).To(MatchError(ErrArgCount))

		_, err = table.Deserialize(make([]byte, 20))
		Expect(err).To(MatchError(ErrRowSize))
	})
})

var _ = Describe("TableArray", func() {
	It("should round trip whole columns", func() {
		ta, err := NewTableArray("%4s %hd %lu\n")
		Expect(err).NotTo(HaveOccurred())

		cols := [][]Value{
			{String("ab"), String("cd")},
			{Int(-300), Int(300)},
			{Uint(1 << 40), Uint(5)},
		}
		data, err := ta.PackColumns(cols)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(HaveLen(2 * (4 + 2 + 8)))

		out, err := ta.UnpackColumns(data)
		Expect(err).NotTo(HaveOccurred())
		for j := range cols {
			for i := range cols[j] {
				Expect(out[j][i].Equal(cols[j][i])).To(BeTrue())
			}
		}

		flat, err := ta.Deserialize(data)
		Expect(err).NotTo(HaveOccurred())
		again, err := ta.Serialize(flat)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(Equal(data))
	})

	It("should reject integers wider than their column", func() {
		ta, err := NewTableArray("%d %hhu %ld")
		Expect(err).NotTo(HaveOccurred())

		_, err = ta.PackColumns([][]Value{{Int(1 << 40)}, {Uint(1)}, {Int(1)}})
		Expect(err).To(MatchError(ErrValueRange))
		_, err = ta.PackColumns([][]Value{{Int(1)}, {Uint(256)}, {Int(1)}})
		Expect(err).To(MatchError(ErrValueRange))
		_, err = ta.PackColumns([][]Value{{Int(1)}, {Int(-1)}, {Int(1)}})
		Expect(err).To(MatchError(ErrValueRange))
		_, err = ta.PackColumns([][]Value{{Int(1)}, {Uint(1)}, {Uint(1 << 63)}})
		Expect(err).To(MatchError(ErrValueRange))

		data, err := ta.PackColumns([][]Value{{Int(-1 << 31)}, {Uint(255)}, {Int(1 << 40)}})
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(HaveLen(4 + 1 + 8))
	})

	It("should reject ragged columns", func() {
		ta, err := NewTableArray("%d %d")
		Expect(err).NotTo(HaveOccurred())
		_, err = ta.PackColumns([][]Value{{Int(1), Int(2)}, {Int(1)}})
		Expect(err).To(MatchError(ErrArgCount))
	})
})
