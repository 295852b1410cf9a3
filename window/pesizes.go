// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window

import (
	"context"

	"github.com/grailbio/diffbind/encoding/bamprovider"
)

// PESizesResult describes the fragments of a paired-end file.
type PESizesResult struct {
	// Sizes lists the length of every accepted fragment, in file order.
	Sizes []int
	// Stats tallies why reads were rejected.
	Stats ScanStats
}

// PESizes pairs the reads of p under params (PairedEnd is implied) and
// returns the fragment lengths with pairing diagnostics.  It is used to pick
// MaxFragSize.
func PESizes(ctx context.Context, p bamprovider.Provider, params ReadParams) (PESizesResult, error) {
	params.PairedEnd = true
	var res PESizesResult
	header, err := p.GetHeader()
	if err != nil {
		return res, err
	}
	s := scanner{params: &params}
	for _, ref := range header.Refs() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		stats, err := s.scanRef(p, ref, func(f fragment) {
			res.Sizes = append(res.Sizes, f.size)
		})
		if err != nil {
			return res, err
		}
		res.Stats.Add(stats)
	}
	return res, nil
}
