// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window_test

import (
	"context"
	"testing"

	"github.com/grailbio/diffbind/encoding/bamprovider"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/diffbind/matrix"
	"github.com/grailbio/diffbind/window"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleEndProviders() []bamprovider.Provider {
	return []bamprovider.Provider{
		newProvider("a",
			newRecord("a1", chr1, 100),
			newRecord("a2", chr1, 195, flags(sam.Reverse)),
			newRecord("a3", chr1, 500, flags(sam.Secondary)),
			newRecord("a4", chr1, 600, flags(sam.Unmapped)),
		),
		newProvider("b",
			newRecord("b1", chr1, 100, mapq(5)),
			newRecord("b2", chr1, 102),
			newRecord("b3", chr1, 102, flags(sam.Duplicate)),
			newRecord("b4", chr2, 0),
		),
	}
}

func seOpts() window.Opts {
	opts := window.DefaultOpts
	opts.Width = 10
	opts.Spacing = 50
	opts.Ext = []int{20}
	opts.Filter = 1
	opts.Params.MinMapQ = 10
	opts.Params.Dedup = true
	return opts
}

func entry(chr string, start, end int) interval.Entry {
	return interval.Entry{ChrName: chr, Start0: interval.PosType(start), End: interval.PosType(end)}
}

func TestWindowCountsSingleEnd(t *testing.T) {
	ctx := context.Background()
	c, err := window.WindowCounts(ctx, singleEndProviders(), seOpts())
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	expect.EQ(t, c.Samples, []string{"a", "b"})
	expect.EQ(t, c.Rows, []interval.Entry{
		entry("chr1", 100, 110),
		entry("chr1", 200, 210),
		entry("chr2", 0, 10),
	})
	expect.EQ(t, c.Counts, [][]int32{{1, 1}, {1, 0}, {0, 1}})
	expect.EQ(t, c.LibSizes, []int64{2, 2})
	expect.EQ(t, c.Ext, []int{20, 20})
	expect.EQ(t, c.Width, 10)
	expect.EQ(t, c.Spacing, 50)

	opts := seOpts()
	opts.Filter = 2
	c2, err := window.WindowCounts(ctx, singleEndProviders(), opts)
	require.NoError(t, err)
	expect.EQ(t, c2.Rows, []interval.Entry{entry("chr1", 100, 110)})
	// Same read parameters, same library sizes.
	expect.EQ(t, c2.LibSizes, c.LibSizes)
	expect.EQ(t, c2.ParamsFingerprint, c.ParamsFingerprint)
}

// Records recycled by one scan must not leak flags into reads built later.
func TestWindowCountsRepeatable(t *testing.T) {
	ctx := context.Background()
	want, err := window.WindowCounts(ctx, singleEndProviders(), seOpts())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = window.PESizes(ctx, newProvider("pe",
			newRecord("x", chr1, 100, mate(chr1, 150), flags(sam.Read1|sam.Unmapped)),
			newRecord("x", chr1, 150, mate(chr1, 100), flags(sam.Read2|sam.Reverse|sam.MateReverse)),
			newRecord("y", chr1, 300, flags(sam.Reverse|sam.Duplicate|sam.Secondary)),
		), window.DefaultReadParams)
		require.NoError(t, err)
		got, err := window.WindowCounts(ctx, singleEndProviders(), seOpts())
		require.NoError(t, err)
		expect.EQ(t, got.Rows, want.Rows)
		expect.EQ(t, got.Counts, want.Counts)
		expect.EQ(t, got.LibSizes, want.LibSizes)
	}
}

func TestWindowCountsRestrict(t *testing.T) {
	ctx := context.Background()
	opts := seOpts()
	opts.Params.Restrict = []string{"chr2"}
	c, err := window.WindowCounts(ctx, singleEndProviders(), opts)
	require.NoError(t, err)
	expect.EQ(t, c.Rows, []interval.Entry{entry("chr2", 0, 10)})
	expect.EQ(t, c.LibSizes, []int64{2, 2})
	expect.EQ(t, c.ParamsFingerprint, seOpts().Params.Fingerprint())

	opts.Params.Restrict = []string{"chrX"}
	_, err = window.WindowCounts(ctx, singleEndProviders(), opts)
	assert.Error(t, err)
}

func TestWindowCountsDiscard(t *testing.T) {
	ctx := context.Background()
	discard, err := interval.NewBEDUnionFromEntries([]interval.Entry{entry("chr1", 90, 130)})
	require.NoError(t, err)
	opts := seOpts()
	opts.Params.Discard = discard
	c, err := window.WindowCounts(ctx, singleEndProviders(), opts)
	require.NoError(t, err)
	expect.EQ(t, c.LibSizes, []int64{1, 1})
	expect.EQ(t, c.Rows, []interval.Entry{entry("chr1", 200, 210), entry("chr2", 0, 10)})
	assert.NotEqual(t, seOpts().Params.Fingerprint(), opts.Params.Fingerprint())
}

func TestWindowCountsRescale(t *testing.T) {
	ctx := context.Background()
	providers := []bamprovider.Provider{
		newProvider("short", newRecord("s", chr1, 100)),
		newProvider("long", newRecord("l", chr1, 100)),
	}
	opts := seOpts()
	opts.Ext = []int{20, 200}
	c, err := window.WindowCounts(ctx, providers, opts)
	require.NoError(t, err)
	// [100,120) and [100,300).
	expect.EQ(t, len(c.Rows), 4)
	expect.EQ(t, c.Counts[0], []int32{1, 1})

	opts.RescaleTo = 50
	c, err = window.WindowCounts(ctx, providers, opts)
	require.NoError(t, err)
	// [85,135) and [175,225).
	expect.EQ(t, c.Rows, []interval.Entry{entry("chr1", 100, 110), entry("chr1", 200, 210)})
	expect.EQ(t, c.Counts, [][]int32{{1, 0}, {0, 1}})
	expect.EQ(t, c.Ext, []int{50, 50})
}

func TestWindowCountsBins(t *testing.T) {
	ctx := context.Background()
	providers := []bamprovider.Provider{
		newProvider("a",
			newRecord("a1", chr1, 95),
			newRecord("a2", chr1, 990, flags(sam.Reverse)),
			newRecord("a3", chr2, 240, flags(sam.Reverse)),
		),
	}
	opts := window.DefaultOpts
	opts.Bin = true
	opts.Width = 100
	opts.Spacing = 7
	opts.Ext = []int{100}
	c, err := window.WindowCounts(ctx, providers, opts)
	require.NoError(t, err)
	expect.EQ(t, c.Spacing, 100)
	expect.EQ(t, c.NumRows(), 13)

	byChr := map[string][]interval.Entry{}
	for _, r := range c.Rows {
		byChr[r.ChrName] = append(byChr[r.ChrName], r)
	}
	for _, ref := range header.Refs() {
		bins := byChr[ref.Name()]
		require.NotEmpty(t, bins)
		expect.EQ(t, bins[0].Start0, interval.PosType(0))
		for i := 1; i < len(bins); i++ {
			expect.EQ(t, bins[i].Start0, bins[i-1].End)
		}
		expect.EQ(t, int(bins[len(bins)-1].End), ref.Len())
	}
	var total int64
	for _, row := range c.Counts {
		total += int64(row[0])
	}
	expect.EQ(t, total, c.LibSizes[0])
	expect.EQ(t, c.Counts[0], []int32{1})
	expect.EQ(t, c.Counts[9], []int32{1})
	expect.EQ(t, c.Counts[12], []int32{1})
}

func TestWindowCountsPairedEnd(t *testing.T) {
	ctx := context.Background()
	recs := []*sam.Record{
		newRecord("p1", chr1, 100, mate(chr1, 250), flags(sam.Read1|sam.MateReverse)),
		newRecord("p1", chr1, 250, mate(chr1, 100), flags(sam.Read2|sam.Reverse)),
		newRecord("big", chr1, 300, mate(chr1, 900), flags(sam.Read1|sam.MateReverse)),
		newRecord("big", chr1, 900, mate(chr1, 300), flags(sam.Read2|sam.Reverse)),
		newRecord("inter", chr1, 400, mate(chr2, 10), flags(sam.Read1)),
		newRecord("same", chr1, 500, mate(chr1, 520), flags(sam.Read1)),
		newRecord("same", chr1, 520, mate(chr1, 500), flags(sam.Read2)),
		newRecord("lone", chr1, 600, mate(chr1, 600), flags(sam.Read1|sam.MateUnmapped)),
		newRecord("lowq", chr1, 700, mate(chr1, 750), flags(sam.Read1|sam.MateReverse)),
		newRecord("lowq", chr1, 750, mate(chr1, 700), flags(sam.Read2|sam.Reverse), mapq(1)),
	}
	params := window.DefaultReadParams
	params.MinMapQ = 10
	res, err := window.PESizes(ctx, newProvider("pe", recs...), params)
	require.NoError(t, err)
	expect.EQ(t, res.Sizes, []int{160})
	expect.EQ(t, res.Stats.Fragments, int64(1))
	expect.EQ(t, res.Stats.TooLarge, int64(1))
	expect.EQ(t, res.Stats.InterChr, int64(1))
	expect.EQ(t, res.Stats.Unoriented, int64(1))
	expect.EQ(t, res.Stats.Singles, int64(1))
	expect.EQ(t, res.Stats.Filtered, int64(1))
	expect.EQ(t, res.Stats.Reads, int64(10))

	opts := window.DefaultOpts
	opts.Width = 10
	opts.Spacing = 50
	opts.Filter = 1
	opts.Params = params
	opts.Params.PairedEnd = true
	c, err := window.WindowCounts(ctx, []bamprovider.Provider{newProvider("pe", recs...)}, opts)
	require.NoError(t, err)
	expect.EQ(t, c.LibSizes, []int64{1})
	expect.EQ(t, c.Rows, []interval.Entry{
		entry("chr1", 100, 110),
		entry("chr1", 150, 160),
		entry("chr1", 200, 210),
		entry("chr1", 250, 260),
	})
}

func TestOptsValidation(t *testing.T) {
	ctx := context.Background()
	opts := seOpts()
	opts.Ext = []int{1, 2, 3}
	_, err := window.WindowCounts(ctx, singleEndProviders(), opts)
	assert.Error(t, err)

	opts = seOpts()
	opts.Shift = opts.Width
	_, err = window.WindowCounts(ctx, singleEndProviders(), opts)
	assert.Error(t, err)

	opts = seOpts()
	opts.Spacing = 0
	_, err = window.WindowCounts(ctx, singleEndProviders(), opts)
	assert.Error(t, err)

	_, err = window.WindowCounts(ctx, nil, seOpts())
	assert.Error(t, err)
}

func TestShiftedWindows(t *testing.T) {
	ctx := context.Background()
	opts := seOpts()
	opts.Shift = 5
	opts.Params = window.DefaultReadParams
	c, err := window.WindowCounts(ctx, []bamprovider.Provider{newProvider("a", newRecord("a1", chr1, 97))}, opts)
	require.NoError(t, err)
	// [97,117) overlaps [95,105).
	expect.EQ(t, c.Rows, []interval.Entry{entry("chr1", 95, 105)})
}

func TestRegionCounts(t *testing.T) {
	ctx := context.Background()
	regions := []interval.Entry{
		entry("chr1", 100, 300),
		entry("chr1", 90, 110),
		entry("chrX", 0, 10),
	}
	c, err := window.RegionCounts(ctx, singleEndProviders(), regions, seOpts())
	require.NoError(t, err)
	expect.EQ(t, c.Rows, regions)
	expect.EQ(t, c.Samples, []string{"a", "b"})
	expect.EQ(t, c.Counts, [][]int32{{2, 1}, {1, 1}, {0, 0}})
	expect.EQ(t, c.LibSizes, []int64{2, 2})

	w, err := window.WindowCounts(ctx, singleEndProviders(), seOpts())
	require.NoError(t, err)
	expect.True(t, w.SameLibraries(c))
	_, err = matrix.CBind(w, c)
	assert.Error(t, err)
}

func TestCorrelateReads(t *testing.T) {
	ctx := context.Background()
	var recs []*sam.Record
	for x := 0; x < 900; x += 100 {
		recs = append(recs,
			newRecord("f", chr1, x),
			// 5' end of the reverse read is at x+30.
			newRecord("r", chr1, x+21, flags(sam.Reverse)))
	}
	ccf, err := window.CorrelateReads(ctx, newProvider("se", recs...), 60, window.DefaultReadParams)
	require.NoError(t, err)
	expect.EQ(t, len(ccf), 61)
	expect.EQ(t, window.MaximizeCCF(ccf, 0), 30)
	expect.EQ(t, window.MaximizeCCF(ccf, 61), -1)

	_, err = window.CorrelateReads(ctx, newProvider("se", recs...), -1, window.DefaultReadParams)
	assert.Error(t, err)
}

func TestGenomeLength(t *testing.T) {
	params := window.DefaultReadParams
	n, err := params.GenomeLength(header)
	require.NoError(t, err)
	expect.EQ(t, n, int64(1250))
	params.Restrict = []string{"chr2"}
	n, err = params.GenomeLength(header)
	require.NoError(t, err)
	expect.EQ(t, n, int64(250))
	params.Restrict = []string{"chrX"}
	_, err = params.GenomeLength(header)
	assert.Error(t, err)

	discard, err := interval.NewBEDUnionFromEntries([]interval.Entry{
		entry("chr1", 0, 100),
		entry("chr2", 200, 400),
		entry("chrX", 0, 50),
	})
	require.NoError(t, err)
	params = window.DefaultReadParams
	params.Discard = discard
	n, err = params.GenomeLength(header)
	require.NoError(t, err)
	// chr2 is 250bp long, so only [200,250) of its discarded range counts.
	expect.EQ(t, n, int64(1250-100-50))
	params.Restrict = []string{"chr2"}
	n, err = params.GenomeLength(header)
	require.NoError(t, err)
	expect.EQ(t, n, int64(200))
}
