// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package util holds small numeric helpers shared by the analysis packages.
package util

import (
	"math"
	"sort"
)

// Ranks returns the 1-based rank of every element of x, averaging the ranks
// of ties.  NaNs get rank NaN and are excluded from the ranking.
func Ranks(x []float64) []float64 {
	idx := make([]int, 0, len(x))
	for i, v := range x {
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	ranks := make([]float64, len(x))
	for i := range ranks {
		ranks[i] = math.NaN()
	}
	for lo := 0; lo < len(idx); {
		hi := lo + 1
		for hi < len(idx) && x[idx[hi]] == x[idx[lo]] {
			hi++
		}
		// Positions lo..hi-1 share the average of ranks lo+1..hi.
		avg := float64(lo+1+hi) / 2
		for k := lo; k < hi; k++ {
			ranks[idx[k]] = avg
		}
		lo = hi
	}
	return ranks
}

// Quantile returns the p quantile of x by linear interpolation between order
// statistics (the "type 7" definition).  x need not be sorted.  It returns
// NaN for empty input.
func Quantile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// Median returns the median of x.
func Median(x []float64) float64 {
	return Quantile(x, 0.5)
}
