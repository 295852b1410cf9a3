// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package filter selects the windows worth testing for differential binding.
//
// Every strategy computes its statistic from counts alone, without looking at
// the contrast being tested, so that filtering does not disturb the null
// distribution of the test statistic.  Each strategy keeps the rows whose
// statistic reaches a threshold; raising the threshold never keeps more rows.
package filter

import (
	"fmt"
	"math"

	"github.com/grailbio/base/log"
	"github.com/grailbio/diffbind/glm"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/diffbind/matrix"
	"github.com/grailbio/diffbind/util"
)

// Strategy is a window filter.  The implementations are alternatives: an
// analysis applies exactly one of them.
type Strategy interface {
	// Name returns the short name of the strategy.
	Name() string
	strategy()
}

// Abundance keeps rows whose average log-CPM is at least MinLogCPM.
type Abundance struct {
	MinLogCPM float64
	// PriorCount is the prior used for the abundance.  Zero means
	// glm.DefaultPriorCount.
	PriorCount float64
}

// Count keeps rows whose total count across samples is at least MinCount.
type Count struct {
	MinCount int64
}

// Proportion keeps the most abundant windows, up to Prop of all the windows
// that tile a genome of GenomeLength bases.
type Proportion struct {
	Prop         float64
	GenomeLength int64
}

// GlobalBackground keeps windows enriched at least MinFC-fold over the
// median abundance of large bins, rescaled to the window width.
type GlobalBackground struct {
	// Bins holds bin counts from the same libraries as the windows.
	Bins       *matrix.Counts
	MinFC      float64
	PriorCount float64
}

// LocalBackground keeps windows enriched at least MinFC-fold over their
// neighborhood.  Neighbor row i counts the region around window i (see
// NeighborRegions); the window's own counts are removed from it before
// comparison.
//
// The neighborhood is assumed to hold no other enrichment.  A window next
// to a second bound site gets an inflated background and may be wrongly
// discarded.
type LocalBackground struct {
	Neighbor   *matrix.Counts
	MinFC      float64
	PriorCount float64
}

// Control keeps windows enriched at least MinFC-fold over a matched negative
// control counted over the same windows.  When Bins and ControlBins are set,
// the control is scaled for composition bias with TMM on the pooled bins;
// otherwise it is scaled by library size.
type Control struct {
	Control           *matrix.Counts
	Bins, ControlBins *matrix.Counts
	MinFC             float64
	PriorCount        float64
}

// Annotation keeps windows overlapping at least MinOverlaps regions (at least
// one) of an external region set.
type Annotation struct {
	Regions     *interval.Index
	MinOverlaps int
}

func (Abundance) Name() string        { return "abundance" }
func (Count) Name() string            { return "count" }
func (Proportion) Name() string       { return "proportion" }
func (GlobalBackground) Name() string { return "global" }
func (LocalBackground) Name() string  { return "local" }
func (Control) Name() string          { return "control" }
func (Annotation) Name() string       { return "annotation" }

func (Abundance) strategy()        {}
func (Count) strategy()            {}
func (Proportion) strategy()       {}
func (GlobalBackground) strategy() {}
func (LocalBackground) strategy()  {}
func (Control) strategy()          {}
func (Annotation) strategy()       {}

// Result holds the filter statistic of every row and the rows kept.
type Result struct {
	Stat []float64
	Keep []bool
}

// NumKept returns the number of rows kept.
func (r Result) NumKept() int {
	n := 0
	for _, k := range r.Keep {
		if k {
			n++
		}
	}
	return n
}

func atLeast(stat []float64, threshold float64) Result {
	keep := make([]bool, len(stat))
	for i, s := range stat {
		keep[i] = s >= threshold
	}
	return Result{Stat: stat, Keep: keep}
}

func priorOrDefault(p float64) float64 {
	if p == 0 {
		return glm.DefaultPriorCount
	}
	return p
}

func log2FC(minFC float64) (float64, error) {
	if !(minFC > 0) {
		return 0, fmt.Errorf("filter: fold change threshold %v must be positive", minFC)
	}
	return math.Log2(minFC), nil
}

// Compute evaluates s on c.
func Compute(c *matrix.Counts, s Strategy) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	switch s := s.(type) {
	case Abundance:
		return atLeast(glm.AveLogCPM(c, priorOrDefault(s.PriorCount), glm.DefaultAbundanceDisp), s.MinLogCPM), nil
	case Count:
		sums := c.RowSums()
		stat := make([]float64, len(sums))
		for i, v := range sums {
			stat[i] = float64(v)
		}
		return atLeast(stat, float64(s.MinCount)), nil
	case Proportion:
		return proportion(c, s)
	case GlobalBackground:
		return globalBackground(c, s)
	case LocalBackground:
		return localBackground(c, s)
	case Control:
		return control(c, s)
	case Annotation:
		if s.Regions == nil {
			return Result{}, fmt.Errorf("filter: no annotation regions given")
		}
		stat := make([]float64, c.NumRows())
		for i, r := range c.Rows {
			stat[i] = float64(s.Regions.CountOverlaps(r))
		}
		minOverlaps := s.MinOverlaps
		if minOverlaps < 1 {
			minOverlaps = 1
		}
		return atLeast(stat, float64(minOverlaps)), nil
	}
	return Result{}, fmt.Errorf("filter: unknown strategy %T", s)
}

// Apply evaluates s on c and returns the kept rows.
func Apply(c *matrix.Counts, s Strategy) (*matrix.Counts, Result, error) {
	r, err := Compute(c, s)
	if err != nil {
		return nil, Result{}, err
	}
	out, err := c.Subset(r.Keep)
	if err != nil {
		return nil, Result{}, err
	}
	log.Printf("filter(%s): kept %d of %d rows", s.Name(), out.NumRows(), c.NumRows())
	return out, r, nil
}

// proportion ranks windows by abundance.  The statistic is one minus the
// fraction of the genome's windows that are more abundant.
func proportion(c *matrix.Counts, s Proportion) (Result, error) {
	if s.Prop < 0 || s.Prop > 1 {
		return Result{}, fmt.Errorf("filter: proportion %v outside [0, 1]", s.Prop)
	}
	if c.Spacing <= 0 || s.GenomeLength <= 0 {
		return Result{}, fmt.Errorf("filter: proportion filter needs window spacing and genome length (got %d, %d)",
			c.Spacing, s.GenomeLength)
	}
	genomeWindows := float64(s.GenomeLength) / float64(c.Spacing)
	ab := glm.AveLogCPM(c, glm.DefaultPriorCount, glm.DefaultAbundanceDisp)
	ranks := util.Ranks(ab)
	n := float64(len(ab))
	stat := make([]float64, len(ab))
	keep := make([]bool, len(ab))
	for i, r := range ranks {
		stat[i] = 1 - (n-r)/genomeWindows
		keep[i] = stat[i] > 1-s.Prop
	}
	return Result{Stat: stat, Keep: keep}, nil
}
