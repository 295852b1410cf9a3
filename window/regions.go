// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/diffbind/encoding/bamprovider"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/diffbind/matrix"
)

// RegionCounts counts the fragments of every provider over arbitrary regions,
// such as promoters or wide background bins.  A fragment overlapping several
// regions counts once in each.  Rows keep the order of regions.  Only Ext,
// RescaleTo and Params of opts are used; Restrict does not apply.
func RegionCounts(ctx context.Context, providers []bamprovider.Provider, regions []interval.Entry, opts Opts) (*matrix.Counts, error) {
	opts.Bin = false
	opts.Width, opts.Spacing, opts.Shift = 1, 1, 0
	opts, err := opts.validate(len(providers))
	if err != nil {
		return nil, err
	}
	header, err := bamprovider.CheckHeadersMatch(providers)
	if err != nil {
		return nil, err
	}
	index, err := interval.NewIndex(regions)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	for _, ref := range header.Refs() {
		known[ref.Name()] = true
	}
	for _, r := range regions {
		if !known[r.ChrName] {
			log.Error.Printf("region %v: chromosome not in the BAM header; its counts will be zero", r)
			known[r.ChrName] = true
		}
	}
	fingerprint := opts.Params.Fingerprint()
	parts := make([]*matrix.Counts, len(providers))
	err = traverse.Each(len(providers), func(j int) error {
		s := scanner{params: &opts.Params, ext: opts.Ext[j], rescaleTo: opts.RescaleTo}
		counts := make([][]int32, len(regions))
		for i := range counts {
			counts[i] = make([]int32, 1)
		}
		var stats ScanStats
		for _, ref := range header.Refs() {
			if err := ctx.Err(); err != nil {
				return err
			}
			chrName := ref.Name()
			refStats, err := s.scanRef(providers[j], ref, func(f fragment) {
				for _, i := range index.Overlapping(chrName, interval.PosType(f.start), interval.PosType(f.end)) {
					counts[i][0]++
				}
			})
			if err != nil {
				return errors.E(err, "region counting")
			}
			stats.Add(refStats)
		}
		parts[j] = &matrix.Counts{
			Rows:              regions,
			Samples:           []string{providers[j].Name()},
			Counts:            counts,
			LibSizes:          []int64{stats.Fragments},
			ParamsFingerprint: fingerprint,
			Ext:               []int{opts.Ext[j]},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matrix.CBind(parts...)
}
