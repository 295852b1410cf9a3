// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBEDUnionFromPath(t *testing.T) {
	u, err := NewBEDUnionFromPath(vcontext.Background(), "testdata/regions.bed", BEDOpts{})
	require.NoError(t, err)
	expect.EQ(t, u.nameMap["chr1"], []PosType{100, 300, 400, 450})
	expect.EQ(t, u.nameMap["chr2"], []PosType{0, 50})
	expect.EQ(t, u.TotalBases(), int64(300))
	expect.EQ(t, u.Chromosomes(), []string{"chr1", "chr2"})
}

func TestBEDUnionQueries(t *testing.T) {
	u, err := NewBEDUnionFromEntries([]Entry{
		{ChrName: "chr1", Start0: 400, End: 450},
		{ChrName: "chr1", Start0: 100, End: 200},
		{ChrName: "chr1", Start0: 200, End: 250},
	})
	require.NoError(t, err)
	tests := []struct {
		start, end PosType
		contains   bool
	}{
		{100, 250, true},
		{99, 120, false},
		{240, 260, false},
		{250, 400, false},
		{410, 420, true},
		{449, 451, false},
		{500, 600, false},
		{120, 120, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.contains, u.ContainsRange("chr1", tt.start, tt.end), "contains [%d,%d)", tt.start, tt.end)
	}
	assert.False(t, u.ContainsRange("chrX", 100, 101))

	expect.EQ(t, u.TotalBases(), int64(200))
	expect.EQ(t, u.ChrBases("chr1", -1), int64(200))
	expect.EQ(t, u.ChrBases("chr1", 420), int64(170))
	expect.EQ(t, u.ChrBases("chr1", 150), int64(50))
	expect.EQ(t, u.ChrBases("chr1", 50), int64(0))
	expect.EQ(t, u.ChrBases("chrX", -1), int64(0))
}

func TestBEDUnionDigest(t *testing.T) {
	a, err := NewBEDUnion(strings.NewReader("chr1\t0\t10\nchr1\t5\t20\n"), BEDOpts{})
	require.NoError(t, err)
	b, err := NewBEDUnion(strings.NewReader("chr1\t0\t20\n"), BEDOpts{})
	require.NoError(t, err)
	var da, db strings.Builder
	require.NoError(t, a.WriteDigest(&da))
	require.NoError(t, b.WriteDigest(&db))
	expect.EQ(t, da.String(), db.String())
}

func TestBEDUnionInvalid(t *testing.T) {
	_, err := NewBEDUnion(strings.NewReader("chr1\t20\t10\n"), BEDOpts{})
	assert.Error(t, err)
	_, err = NewBEDUnion(strings.NewReader("chr1\t20\n"), BEDOpts{})
	assert.Error(t, err)
}
