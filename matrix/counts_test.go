// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package matrix_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/diffbind/matrix"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounts() *matrix.Counts {
	return &matrix.Counts{
		Rows: []interval.Entry{
			{ChrName: "chr1", Start0: 0, End: 10},
			{ChrName: "chr1", Start0: 50, End: 60},
			{ChrName: "chr2", Start0: 0, End: 10},
		},
		Samples:           []string{"a", "b"},
		Counts:            [][]int32{{1, 2}, {3, 4}, {5, 6}},
		LibSizes:          []int64{100, 200},
		ParamsFingerprint: 7,
		Width:             10,
		Spacing:           50,
	}
}

func TestBasics(t *testing.T) {
	c := newCounts()
	require.NoError(t, c.Validate())
	expect.EQ(t, c.NumRows(), 3)
	expect.EQ(t, c.NumSamples(), 2)
	expect.EQ(t, c.RowSums(), []int64{3, 7, 11})
	expect.EQ(t, c.Column(1), []float64{2, 4, 6})
	expect.EQ(t, c.Row(2), []float64{5, 6})
	expect.EQ(t, c.EffectiveLibSizes(), []float64{100, 200})

	n, err := c.WithNormFactors([]float64{0.5, 2})
	require.NoError(t, err)
	expect.EQ(t, n.EffectiveLibSizes(), []float64{50, 400})
	expect.EQ(t, c.EffectiveLibSizes(), []float64{100, 200})
	off := n.LogOffsets()
	expect.EQ(t, len(off), 3)
	assert.InDelta(t, math.Log(400), off[1][1], 1e-12)

	_, err = c.WithNormFactors([]float64{1})
	assert.Error(t, err)
	_, err = c.WithNormFactors([]float64{1, 0})
	assert.Error(t, err)
}

func TestSubset(t *testing.T) {
	c := newCounts()
	c, err := c.WithOffsets([][]float64{{1, 1}, {2, 2}, {3, 3}})
	require.NoError(t, err)
	s, err := c.Subset([]bool{true, false, true})
	require.NoError(t, err)
	expect.EQ(t, s.NumRows(), 2)
	expect.EQ(t, s.Rows[1].ChrName, "chr2")
	expect.EQ(t, s.Counts, [][]int32{{1, 2}, {5, 6}})
	expect.EQ(t, s.Offsets, [][]float64{{1, 1}, {3, 3}})
	expect.EQ(t, c.NumRows(), 3)

	_, err = c.Subset([]bool{true})
	assert.Error(t, err)
	_, err = c.WithOffsets([][]float64{{1}})
	assert.Error(t, err)
}

func TestCBind(t *testing.T) {
	a := newCounts()
	b := newCounts()
	b.Samples = []string{"c", "d"}
	b.NormFactors = []float64{2, 3}
	out, err := matrix.CBind(a, b)
	require.NoError(t, err)
	expect.EQ(t, out.Samples, []string{"a", "b", "c", "d"})
	expect.EQ(t, out.Counts[1], []int32{3, 4, 3, 4})
	expect.EQ(t, out.LibSizes, []int64{100, 200, 100, 200})
	expect.EQ(t, out.NormFactors, []float64{1, 1, 2, 3})
	require.NoError(t, out.Validate())

	b.ParamsFingerprint = 8
	_, err = matrix.CBind(a, b)
	assert.Error(t, err)

	b = newCounts()
	b.Rows = append([]interval.Entry(nil), b.Rows...)
	b.Rows[0].End = 11
	_, err = matrix.CBind(a, b)
	assert.Error(t, err)

	_, err = matrix.CBind()
	assert.Error(t, err)
}

func TestSameLibraries(t *testing.T) {
	a, b := newCounts(), newCounts()
	expect.True(t, a.SameLibraries(b))
	b.LibSizes = []int64{100, 201}
	expect.False(t, a.SameLibraries(b))
	b = newCounts()
	b.ParamsFingerprint++
	expect.False(t, a.SameLibraries(b))
}

func TestWrite(t *testing.T) {
	c := newCounts()
	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	expect.EQ(t, lines[0], "#CHROM\tSTART\tEND\ta\tb")
	expect.EQ(t, lines[2], "chr1\t51\t60\t3\t4")
	expect.EQ(t, len(lines), 4)

	buf.Reset()
	require.NoError(t, c.WriteLibraries(&buf))
	lines = strings.Split(strings.TrimSpace(buf.String()), "\n")
	expect.EQ(t, len(lines), 3)
	expect.True(t, strings.HasPrefix(lines[1], "a\t100\t"), lines[1])
}
