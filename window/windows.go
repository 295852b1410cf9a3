// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package window counts sequencing fragments over sliding genomic windows,
// bins, and arbitrary regions.
package window

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/diffbind/encoding/bamprovider"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/diffbind/matrix"
	"github.com/willf/bitset"
)

// Opts controls window counting.
type Opts struct {
	// Width is the window width.
	Width int
	// Spacing is the distance between the starts of consecutive windows.
	Spacing int
	// Shift moves every window left by this many bases.  0 <= Shift < Width.
	Shift int
	// Ext is the single-end fragment length.  It holds either one value for
	// every sample or one value per sample; values <= 0 use the alignment span.
	Ext []int
	// RescaleTo, if > 0, resizes every fragment to this length about its
	// centre, so that samples with different Ext give comparable windows.
	RescaleTo int
	// Filter drops windows whose total count across samples is below it.
	Filter int
	// Bin tiles each chromosome with non-overlapping bins of size Width and
	// counts each fragment once, in the bin holding its 5' end.  Spacing,
	// Shift and Filter are ignored.
	Bin bool
	// Params are the read filters.
	Params ReadParams
}

// DefaultOpts is the default window setup: 50bp windows every 50bp,
// 100bp fragments, and a minimum total count of 10.
var DefaultOpts = Opts{
	Width:   50,
	Spacing: 50,
	Ext:     []int{100},
	Filter:  10,
	Params:  DefaultReadParams,
}

// validate fills derived fields and checks the options for nSample inputs.
func (o Opts) validate(nSample int) (Opts, error) {
	if nSample == 0 {
		return o, fmt.Errorf("window: no input files")
	}
	if o.Width <= 0 {
		return o, fmt.Errorf("window: width must be positive, got %d", o.Width)
	}
	if o.Bin {
		o.Spacing = o.Width
		o.Shift = 0
		o.Filter = 0
	}
	if o.Spacing <= 0 {
		return o, fmt.Errorf("window: spacing must be positive, got %d", o.Spacing)
	}
	if o.Shift < 0 || o.Shift >= o.Width {
		return o, fmt.Errorf("window: shift %d out of range [0, %d)", o.Shift, o.Width)
	}
	switch len(o.Ext) {
	case nSample:
		o.Ext = append([]int(nil), o.Ext...)
	case 0:
		o.Ext = make([]int, nSample)
	case 1:
		ext := make([]int, nSample)
		for i := range ext {
			ext[i] = o.Ext[0]
		}
		o.Ext = ext
	default:
		return o, fmt.Errorf("window: %d extension lengths for %d samples", len(o.Ext), nSample)
	}
	return o, nil
}

// numWindows is the number of windows whose start lies on a chromosome of
// length chrLen.
func (o *Opts) numWindows(chrLen int) int {
	return (chrLen + o.Shift + o.Spacing - 1) / o.Spacing
}

// windowEntry returns window k on chromosome chrName, clipped to chrLen.
func (o *Opts) windowEntry(chrName string, chrLen, k int) interval.Entry {
	start := k*o.Spacing - o.Shift
	end := start + o.Width
	if start < 0 {
		start = 0
	}
	if end > chrLen {
		end = chrLen
	}
	return interval.Entry{ChrName: chrName, Start0: interval.PosType(start), End: interval.PosType(end)}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// windowRange returns the first and last windows that f overlaps.  lo > hi
// if there are none.
func (o *Opts) windowRange(f fragment, nWin int) (lo, hi int) {
	if o.Bin {
		k := f.fivePrime / o.Width
		return k, k
	}
	// Window k covers [k*Spacing-Shift, k*Spacing-Shift+Width).
	lo = floorDiv(f.start+o.Shift-o.Width, o.Spacing) + 1
	hi = floorDiv(f.end+o.Shift-1, o.Spacing)
	if lo < 0 {
		lo = 0
	}
	if hi >= nWin {
		hi = nWin - 1
	}
	return lo, hi
}

// WindowCounts counts the fragments of every provider over sliding windows.
// Samples are named after providers and appear in input order.  Each
// chromosome is counted for all samples in parallel and the per-sample
// columns are then merged, so memory is bounded by the largest chromosome.
func WindowCounts(ctx context.Context, providers []bamprovider.Provider, opts Opts) (*matrix.Counts, error) {
	opts, err := opts.validate(len(providers))
	if err != nil {
		return nil, err
	}
	header, err := bamprovider.CheckHeadersMatch(providers)
	if err != nil {
		return nil, err
	}
	reported, err := opts.Params.reportedRefs(header)
	if err != nil {
		return nil, err
	}
	nSample := len(providers)
	out := &matrix.Counts{
		Samples:           make([]string, nSample),
		LibSizes:          make([]int64, nSample),
		ParamsFingerprint: opts.Params.Fingerprint(),
		Width:             opts.Width,
		Spacing:           opts.Spacing,
		Ext:               append([]int(nil), opts.Ext...),
	}
	if opts.RescaleTo > 0 {
		for j := range out.Ext {
			out.Ext[j] = opts.RescaleTo
		}
	}
	for j, p := range providers {
		out.Samples[j] = p.Name()
	}
	stats := make([]ScanStats, nSample)
	for refIdx, ref := range header.Refs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chrLen := ref.Len()
		nWin := opts.numWindows(chrLen)
		cols := make([][]int32, nSample)
		touched := make([]*bitset.BitSet, nSample)
		err := traverse.Each(nSample, func(j int) error {
			s := scanner{params: &opts.Params, ext: opts.Ext[j], rescaleTo: opts.RescaleTo}
			var col []int32
			var seen *bitset.BitSet
			if reported[refIdx] {
				col = make([]int32, nWin)
				seen = bitset.New(uint(nWin))
			}
			refStats, err := s.scanRef(providers[j], ref, func(f fragment) {
				if col == nil {
					return
				}
				lo, hi := opts.windowRange(f, nWin)
				for k := lo; k <= hi; k++ {
					col[k]++
					seen.Set(uint(k))
				}
			})
			if err != nil {
				return err
			}
			stats[j].Add(refStats)
			cols[j], touched[j] = col, seen
			return nil
		})
		if err != nil {
			return nil, errors.E(err, "window counting on", ref.Name())
		}
		if !reported[refIdx] {
			continue
		}
		nRows := out.NumRows()
		addRow := func(k int) {
			row := make([]int32, nSample)
			var total int64
			for j := range cols {
				row[j] = cols[j][k]
				total += int64(row[j])
			}
			if total < int64(opts.Filter) {
				return
			}
			out.Rows = append(out.Rows, opts.windowEntry(ref.Name(), chrLen, k))
			out.Counts = append(out.Counts, row)
		}
		if opts.Filter <= 0 {
			for k := 0; k < nWin; k++ {
				addRow(k)
			}
		} else {
			union := touched[0]
			for _, t := range touched[1:] {
				union.InPlaceUnion(t)
			}
			for k, ok := union.NextSet(0); ok; k, ok = union.NextSet(k + 1) {
				addRow(int(k))
			}
		}
		log.Debug.Printf("%s: %d of %d windows kept", ref.Name(), out.NumRows()-nRows, nWin)
	}
	for j := range stats {
		out.LibSizes[j] = stats[j].Fragments
		log.Printf("%s: %d fragments (%d reads, %d unmapped, %d filtered)",
			out.Samples[j], stats[j].Fragments, stats[j].Reads, stats[j].Unmapped, stats[j].Filtered)
	}
	return out, nil
}
