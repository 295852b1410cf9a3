// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"math"
	"sort"
)

// finiteOrder returns the indices of the non-NaN entries of p sorted by
// increasing p.
func finiteOrder(p []float64) []int {
	idx := make([]int, 0, len(p))
	for i, v := range p {
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	return idx
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// AdjustBH returns Benjamini-Hochberg adjusted p-values.  NaN entries stay
// NaN and do not count towards the number of tests.
func AdjustBH(p []float64) []float64 {
	out := nanSlice(len(p))
	idx := finiteOrder(p)
	m := float64(len(idx))
	running := 1.0
	for k := len(idx) - 1; k >= 0; k-- {
		v := p[idx[k]] * (m / float64(k+1))
		if v < running {
			running = v
		}
		out[idx[k]] = running
	}
	return out
}

// AdjustHolm returns Holm-Bonferroni adjusted p-values.  NaN entries stay
// NaN and do not count towards the number of tests.
func AdjustHolm(p []float64) []float64 {
	out := nanSlice(len(p))
	idx := finiteOrder(p)
	m := len(idx)
	running := 0.0
	for k, i := range idx {
		v := math.Min(1, p[i]*float64(m-k))
		if v > running {
			running = v
		}
		out[i] = running
	}
	return out
}
