// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func TestIndexOverlapping(t *testing.T) {
	entries, err := ReadBEDFromPath(vcontext.Background(), "testdata/regions.bed", BEDOpts{})
	require.NoError(t, err)
	expect.EQ(t, len(entries), 5)
	idx, err := NewIndex(entries)
	require.NoError(t, err)
	expect.EQ(t, idx.Len(), 5)

	tests := []struct {
		chr        string
		start, end PosType
		want       []int
	}{
		{"chr1", 0, 100, nil},
		{"chr1", 0, 101, []int{0}},
		{"chr1", 160, 170, []int{0, 1}},
		{"chr1", 200, 500, []int{1, 2}},
		{"chr2", 40, 70, []int{3}},
		{"chr3", 0, 1000, nil},
	}
	for _, tt := range tests {
		expect.EQ(t, idx.Overlapping(tt.chr, tt.start, tt.end), tt.want, "%s:%d-%d", tt.chr, tt.start, tt.end)
	}
	expect.EQ(t, idx.CountOverlaps(Entry{ChrName: "chr1", Start0: 150, End: 160}), 2)
}
