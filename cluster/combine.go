// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/diffbind/glm"
)

// Direction summarizes the sign of change in a cluster.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Mixed Direction = "mixed"
	// NoWindows marks a cluster without windows.
	NoWindows Direction = ""
)

// Combined is the aggregated test of one cluster.
type Combined struct {
	NWindows int
	// NUp and NDown count the windows changing in each direction whose
	// within-cluster BH-adjusted p-value is at most Opts.FCThreshold.
	NUp, NDown int
	PValue     float64
	// FDR is the BH-adjusted PValue across clusters (or the empirical FDR).
	FDR       float64
	Direction Direction
	// Best is the representative window, or -1 for an empty cluster.
	Best int
	// LogFC is the log fold change of Best.
	LogFC float64
}

// Opts configures test combination.
type Opts struct {
	// Weights holds one weight per window.  nil means equal weights.
	Weights []float64
	// FCThreshold is the within-cluster FDR at which windows are counted in
	// NUp and NDown.
	FCThreshold float64
}

// DefaultOpts uses equal weights and a 0.05 threshold.
var DefaultOpts = Opts{FCThreshold: 0.05}

func (o Opts) weight(i int) float64 {
	if o.Weights == nil {
		return 1
	}
	return o.Weights[i]
}

func (o Opts) check(tests []glm.Result) error {
	if o.Weights != nil && len(o.Weights) != len(tests) {
		return fmt.Errorf("cluster: %d weights, %d windows", len(o.Weights), len(tests))
	}
	for i, w := range o.Weights {
		if !(w > 0) || math.IsInf(w, 0) {
			return fmt.Errorf("cluster: invalid weight %v for window %d", w, i)
		}
	}
	return nil
}

func checkGroups(g Groups, n int) error {
	for k, members := range g {
		for _, i := range members {
			if i < 0 || i >= n {
				return fmt.Errorf("cluster: cluster %d refers to window %d of %d", k, i, n)
			}
		}
	}
	return nil
}

// simes returns the weighted Simes combination of the p-values of members
// and the position, in increasing p order, of the p-value that attains it.
func simes(members []int, p []float64, o Opts) (float64, []int, int) {
	order := append([]int(nil), members...)
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })
	var total float64
	for _, i := range order {
		total += o.weight(i)
	}
	best, bestK := math.Inf(1), 0
	var cum float64
	for k, i := range order {
		cum += o.weight(i)
		if v := p[i] * total / cum; v < best {
			best, bestK = v, k
		}
	}
	return math.Min(best, 1), order, bestK
}

func pValues(tests []glm.Result) []float64 {
	p := make([]float64, len(tests))
	for i, t := range tests {
		p[i] = t.PValue
	}
	return p
}

// countDirections counts the significant windows of members in each
// direction after a within-cluster BH adjustment.
func countDirections(members []int, tests []glm.Result, threshold float64) (up, down int) {
	p := make([]float64, len(members))
	for k, i := range members {
		p[k] = tests[i].PValue
	}
	for k, q := range AdjustBH(p) {
		if q > threshold {
			continue
		}
		switch fc := tests[members[k]].LogFC; {
		case fc > 0:
			up++
		case fc < 0:
			down++
		}
	}
	return
}

func directionOf(windows []int, tests []glm.Result) Direction {
	var up, down bool
	for _, i := range windows {
		if tests[i].LogFC > 0 {
			up = true
		} else if tests[i].LogFC < 0 {
			down = true
		}
	}
	switch {
	case up && down:
		return Mixed
	case down:
		return Down
	}
	return Up
}

func emptyCombined() Combined {
	return Combined{PValue: math.NaN(), FDR: math.NaN(), Best: -1, LogFC: math.NaN()}
}

func fillFDR(out []Combined) {
	p := make([]float64, len(out))
	for k, c := range out {
		p[k] = c.PValue
	}
	for k, q := range AdjustBH(p) {
		out[k].FDR = q
	}
}

// CombineTests computes a weighted Simes p-value for every cluster, under
// the null that no window in it is differentially bound, and adjusts the
// cluster p-values for the false discovery rate.  The direction is taken
// from the windows up to the one attaining the Simes minimum, which is also
// the representative window.
func CombineTests(g Groups, tests []glm.Result, opts Opts) ([]Combined, error) {
	if err := opts.check(tests); err != nil {
		return nil, err
	}
	if err := checkGroups(g, len(tests)); err != nil {
		return nil, err
	}
	p := pValues(tests)
	out := make([]Combined, len(g))
	for k, members := range g {
		if len(members) == 0 {
			out[k] = emptyCombined()
			continue
		}
		pc, order, bestK := simes(members, p, opts)
		up, down := countDirections(members, tests, opts.FCThreshold)
		out[k] = Combined{
			NWindows:  len(members),
			NUp:       up,
			NDown:     down,
			PValue:    pc,
			Direction: directionOf(order[:bestK+1], tests),
			Best:      order[bestK],
			LogFC:     tests[order[bestK]].LogFC,
		}
	}
	fillFDR(out)
	return out, nil
}

// GetBestTest reports one window per cluster.  With byPValue, it picks the
// window with the smallest weighted p-value and applies a Bonferroni
// correction for the cluster size (the total weight over the window's
// weight).  Otherwise it picks the most abundant window and keeps its p-value
// unadjusted.
func GetBestTest(g Groups, tests []glm.Result, byPValue bool, opts Opts) ([]Combined, error) {
	if err := opts.check(tests); err != nil {
		return nil, err
	}
	if err := checkGroups(g, len(tests)); err != nil {
		return nil, err
	}
	out := make([]Combined, len(g))
	for k, members := range g {
		if len(members) == 0 {
			out[k] = emptyCombined()
			continue
		}
		best := members[0]
		var pc float64
		if byPValue {
			var total float64
			for _, i := range members {
				total += opts.weight(i)
			}
			pc = math.Inf(1)
			for _, i := range members {
				if v := tests[i].PValue * total / opts.weight(i); v < pc {
					pc, best = v, i
				}
			}
			pc = math.Min(pc, 1)
		} else {
			for _, i := range members[1:] {
				if tests[i].LogCPM > tests[best].LogCPM {
					best = i
				}
			}
			pc = tests[best].PValue
		}
		up, down := countDirections(members, tests, opts.FCThreshold)
		out[k] = Combined{
			NWindows:  len(members),
			NUp:       up,
			NDown:     down,
			PValue:    pc,
			Direction: directionOf([]int{best}, tests),
			Best:      best,
			LogFC:     tests[best].LogFC,
		}
	}
	fillFDR(out)
	return out, nil
}

// UpweightSummit returns window weights that favor the most abundant window
// of each cluster: it gets the summed weight of the other windows (at least
// one), and every other window gets one.  A window that is the summit of
// several clusters keeps its largest weight.
func UpweightSummit(g Groups, abundances []float64) ([]float64, error) {
	if err := checkGroups(g, len(abundances)); err != nil {
		return nil, err
	}
	w := make([]float64, len(abundances))
	for i := range w {
		w[i] = 1
	}
	for _, members := range g {
		if len(members) == 0 {
			continue
		}
		summit := members[0]
		for _, i := range members[1:] {
			if abundances[i] > abundances[summit] {
				summit = i
			}
		}
		w[summit] = math.Max(w[summit], math.Max(1, float64(len(members)-1)))
	}
	return w, nil
}

// oneSided converts two-sided p-values into one-sided p-values for the
// given direction of change.
func oneSided(tests []glm.Result, dir Direction) []float64 {
	p := make([]float64, len(tests))
	for i, t := range tests {
		half := t.PValue / 2
		if (t.LogFC > 0) == (dir == Up) {
			p[i] = half
		} else {
			p[i] = 1 - half
		}
	}
	return p
}

// MixedTests tests every cluster for change in both directions: the
// one-sided Simes p-values for increase and for decrease are combined by
// intersection-union, taking the larger.  Clusters with a small p-value
// hold windows changing in opposite directions.
func MixedTests(g Groups, tests []glm.Result, opts Opts) ([]Combined, error) {
	if err := opts.check(tests); err != nil {
		return nil, err
	}
	if err := checkGroups(g, len(tests)); err != nil {
		return nil, err
	}
	pUp, pDown := oneSided(tests, Up), oneSided(tests, Down)
	out := make([]Combined, len(g))
	for k, members := range g {
		if len(members) == 0 {
			out[k] = emptyCombined()
			continue
		}
		up, upOrder, upK := simes(members, pUp, opts)
		down, _, _ := simes(members, pDown, opts)
		nUp, nDown := countDirections(members, tests, opts.FCThreshold)
		out[k] = Combined{
			NWindows:  len(members),
			NUp:       nUp,
			NDown:     nDown,
			PValue:    math.Max(up, down),
			Direction: Mixed,
			Best:      upOrder[upK],
			LogFC:     tests[upOrder[upK]].LogFC,
		}
	}
	fillFDR(out)
	return out, nil
}

// MinimalTests requires change in several windows of each cluster.  A
// cluster of n windows needs x = max(minN, ceil(minProp*n)) significant
// windows, capped at n; its p-value is the x-th smallest Holm-adjusted
// window p-value.
func MinimalTests(g Groups, tests []glm.Result, minN int, minProp float64, opts Opts) ([]Combined, error) {
	if minN < 1 || minProp < 0 || minProp > 1 {
		return nil, fmt.Errorf("cluster.MinimalTests: invalid minimum %d windows or proportion %v", minN, minProp)
	}
	if err := opts.check(tests); err != nil {
		return nil, err
	}
	if err := checkGroups(g, len(tests)); err != nil {
		return nil, err
	}
	out := make([]Combined, len(g))
	for k, members := range g {
		n := len(members)
		if n == 0 {
			out[k] = emptyCombined()
			continue
		}
		x := minN
		if need := int(math.Ceil(minProp * float64(n))); need > x {
			x = need
		}
		if x > n {
			x = n
		}
		p := make([]float64, n)
		for j, i := range members {
			p[j] = tests[i].PValue
		}
		holm := AdjustHolm(p)
		order := finiteOrder(holm)
		if len(order) < x {
			out[k] = emptyCombined()
			out[k].NWindows = n
			continue
		}
		// Holm values are monotone in raw p, so the first x windows in order
		// are the x most significant ones.
		top := make([]int, x)
		for j := range top {
			top[j] = members[order[j]]
		}
		best := members[order[0]]
		nUp, nDown := countDirections(members, tests, opts.FCThreshold)
		out[k] = Combined{
			NWindows:  n,
			NUp:       nUp,
			NDown:     nDown,
			PValue:    holm[order[x-1]],
			Direction: directionOf(top, tests),
			Best:      best,
			LogFC:     tests[best].LogFC,
		}
	}
	fillFDR(out)
	return out, nil
}

// EmpiricalFDR estimates the FDR of an enrichment comparison without
// replicate-based nulls.  Clusters are tested one-sided in the expected
// direction (the opposite of neg) and in the wrong direction; the number of
// wrong-direction clusters at or below a p-value estimates the number of
// false positives among right-direction clusters at or below it.
func EmpiricalFDR(g Groups, tests []glm.Result, neg Direction, opts Opts) ([]Combined, error) {
	if neg != Up && neg != Down {
		return nil, fmt.Errorf("cluster.EmpiricalFDR: wrong direction must be up or down, got %q", neg)
	}
	if err := opts.check(tests); err != nil {
		return nil, err
	}
	if err := checkGroups(g, len(tests)); err != nil {
		return nil, err
	}
	right := Up
	if neg == Up {
		right = Down
	}
	pRight, pWrong := oneSided(tests, right), oneSided(tests, neg)
	out := make([]Combined, len(g))
	var wrong []float64
	for k, members := range g {
		if len(members) == 0 {
			out[k] = emptyCombined()
			continue
		}
		pr, order, bestK := simes(members, pRight, opts)
		pw, _, _ := simes(members, pWrong, opts)
		wrong = append(wrong, pw)
		nUp, nDown := countDirections(members, tests, opts.FCThreshold)
		out[k] = Combined{
			NWindows:  len(members),
			NUp:       nUp,
			NDown:     nDown,
			PValue:    pr,
			Direction: right,
			Best:      order[bestK],
			LogFC:     tests[order[bestK]].LogFC,
		}
	}
	sort.Float64s(wrong)
	p := make([]float64, len(out))
	for k, c := range out {
		p[k] = c.PValue
	}
	idx := finiteOrder(p)
	// Walk from the largest p down, keeping the estimate monotone.
	running := 1.0
	for r := len(idx) - 1; r >= 0; r-- {
		k := idx[r]
		nWrong := sort.Search(len(wrong), func(i int) bool { return wrong[i] > p[k] })
		fdr := math.Min(1, float64(nWrong)/float64(r+1))
		if fdr < running {
			running = fdr
		}
		out[k].FDR = running
	}
	return out, nil
}
