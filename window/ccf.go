// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/diffbind/encoding/bamprovider"
)

// strandCounts holds the number of read 5' ends at each occupied position of
// one strand, sorted by position.
type strandCounts struct {
	pos    []int
	counts []float64
}

func newStrandCounts(m map[int]float64) strandCounts {
	s := strandCounts{pos: make([]int, 0, len(m))}
	for p := range m {
		s.pos = append(s.pos, p)
	}
	sort.Ints(s.pos)
	s.counts = make([]float64, len(s.pos))
	for i, p := range s.pos {
		s.counts[i] = m[p]
	}
	return s
}

func (s *strandCounts) sums() (sum, sumSq float64) {
	for _, c := range s.counts {
		sum += c
		sumSq += c * c
	}
	return
}

// CorrelateReads computes the cross-correlation between forward-strand and
// reverse-strand read 5' ends for every delay 0..maxDist.  The peak of the
// returned curve estimates the average fragment length of a single-end
// library.  Chromosomes are weighted by their read counts.
func CorrelateReads(ctx context.Context, p bamprovider.Provider, maxDist int, params ReadParams) ([]float64, error) {
	if maxDist < 0 {
		return nil, fmt.Errorf("window.CorrelateReads: negative distance %d", maxDist)
	}
	params.PairedEnd = false
	header, err := p.GetHeader()
	if err != nil {
		return nil, err
	}
	ccf := make([]float64, maxDist+1)
	var totalWeight float64
	s := scanner{params: &params}
	for _, ref := range header.Refs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fwdMap := make(map[int]float64)
		revMap := make(map[int]float64)
		if _, err := s.scanRef(p, ref, func(f fragment) {
			if f.reverse {
				revMap[f.fivePrime]++
			} else {
				fwdMap[f.fivePrime]++
			}
		}); err != nil {
			return nil, err
		}
		if len(fwdMap) == 0 || len(revMap) == 0 {
			continue
		}
		fwd, rev := newStrandCounts(fwdMap), newStrandCounts(revMap)
		chrLen := float64(ref.Len())
		fSum, fSq := fwd.sums()
		rSum, rSq := rev.sums()
		fMean, rMean := fSum/chrLen, rSum/chrLen
		fVar, rVar := fSq/chrLen-fMean*fMean, rSq/chrLen-rMean*rMean
		if fVar <= 0 || rVar <= 0 {
			continue
		}
		cross := make([]float64, maxDist+1)
		for i, x := range fwd.pos {
			k := sort.SearchInts(rev.pos, x)
			for ; k < len(rev.pos) && rev.pos[k]-x <= maxDist; k++ {
				cross[rev.pos[k]-x] += fwd.counts[i] * rev.counts[k]
			}
		}
		weight := fSum + rSum
		for d := range cross {
			n := chrLen - float64(d)
			if n <= 0 {
				continue
			}
			r := (cross[d]/n - fMean*rMean) / math.Sqrt(fVar*rVar)
			ccf[d] += r * weight
		}
		totalWeight += weight
	}
	if totalWeight > 0 {
		for d := range ccf {
			ccf[d] /= totalWeight
		}
	}
	return ccf, nil
}

// MaximizeCCF returns the delay with the largest correlation, ignoring
// delays below ignore (which are dominated by read-length artifacts).  Ties
// go to the smaller delay.  It returns -1 if no delay qualifies.
func MaximizeCCF(ccf []float64, ignore int) int {
	best := -1
	for d := ignore; d < len(ccf); d++ {
		if d < 0 {
			continue
		}
		if best < 0 || ccf[d] > ccf[best] {
			best = d
		}
	}
	return best
}
