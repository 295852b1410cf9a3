// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package filter

import (
	"fmt"
	"math"

	"github.com/grailbio/diffbind/glm"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/diffbind/matrix"
	"github.com/grailbio/diffbind/normalize"
	"github.com/grailbio/diffbind/util"
)

// ScaledAverage returns the abundance of each row of c expressed per unit
// of a region scale[i] times smaller, so that counts over wide regions
// compare with counts over windows.  scale holds one value for all rows or
// one per row.  The prior count is scaled too.
func ScaledAverage(c *matrix.Counts, scale []float64, priorCount float64) ([]float64, error) {
	if len(scale) != 1 && len(scale) != c.NumRows() {
		return nil, fmt.Errorf("filter.ScaledAverage: %d scale values, %d rows", len(scale), c.NumRows())
	}
	offsets := c.LogOffsets()
	out := make([]float64, c.NumRows())
	for i := range out {
		s := scale[0]
		if len(scale) > 1 {
			s = scale[i]
		}
		if !(s > 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = glm.RowAveLogCPM(c.Row(i), offsets[i], s*priorCount, glm.DefaultAbundanceDisp) - math.Log2(s)
	}
	return out, nil
}

// NeighborRegions returns, for each row, the region extending flank bases
// on either side of it, clipped to the chromosome lengths in chrLens.
func NeighborRegions(rows []interval.Entry, flank int, chrLens map[string]int) []interval.Entry {
	out := make([]interval.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.Resize(interval.PosType(flank), interval.PosType(chrLens[r.ChrName]))
	}
	return out
}

func checkSameLibraries(c, aux *matrix.Counts, what string) error {
	if aux == nil {
		return fmt.Errorf("filter: no %s counts given", what)
	}
	if !c.SameLibraries(aux) {
		return fmt.Errorf("filter: %s counts come from different libraries or read parameters", what)
	}
	return nil
}

func checkSameRows(c, aux *matrix.Counts, what string) error {
	if aux.NumRows() != c.NumRows() {
		return fmt.Errorf("filter: %d %s rows, %d windows", aux.NumRows(), what, c.NumRows())
	}
	return nil
}

func globalBackground(c *matrix.Counts, s GlobalBackground) (Result, error) {
	if err := checkSameLibraries(c, s.Bins, "bin"); err != nil {
		return Result{}, err
	}
	minLogFC, err := log2FC(s.MinFC)
	if err != nil {
		return Result{}, err
	}
	if c.Width <= 0 || s.Bins.Width <= 0 {
		return Result{}, fmt.Errorf("filter: global background needs window and bin widths (got %d, %d)",
			c.Width, s.Bins.Width)
	}
	if s.Bins.NumRows() == 0 {
		return Result{}, fmt.Errorf("filter: no background bins")
	}
	prior := priorOrDefault(s.PriorCount)
	binAb, err := ScaledAverage(s.Bins, []float64{float64(s.Bins.Width) / float64(c.Width)}, prior)
	if err != nil {
		return Result{}, err
	}
	bg := util.Median(binAb)
	ab := glm.AveLogCPM(c, prior, glm.DefaultAbundanceDisp)
	stat := make([]float64, len(ab))
	for i, a := range ab {
		stat[i] = a - bg
	}
	return atLeast(stat, minLogFC), nil
}

func localBackground(c *matrix.Counts, s LocalBackground) (Result, error) {
	if err := checkSameLibraries(c, s.Neighbor, "neighborhood"); err != nil {
		return Result{}, err
	}
	if err := checkSameRows(c, s.Neighbor, "neighborhood"); err != nil {
		return Result{}, err
	}
	minLogFC, err := log2FC(s.MinFC)
	if err != nil {
		return Result{}, err
	}
	prior := priorOrDefault(s.PriorCount)
	offsets := c.LogOffsets()
	stat := make([]float64, c.NumRows())
	for i, w := range c.Rows {
		nb := s.Neighbor.Rows[i]
		if nb.ChrName != w.ChrName || nb.Start0 > w.Start0 || nb.End < w.End {
			return Result{}, fmt.Errorf("filter: neighborhood %v does not contain window %v", nb, w)
		}
		bgWidth := float64(nb.Len() - w.Len())
		if bgWidth <= 0 {
			stat[i] = math.NaN()
			continue
		}
		y := c.Row(i)
		bg := s.Neighbor.Row(i)
		for j := range bg {
			bg[j] = math.Max(bg[j]-y[j], 0)
		}
		scale := bgWidth / float64(w.Len())
		bgAb := glm.RowAveLogCPM(bg, offsets[i], scale*prior, glm.DefaultAbundanceDisp) - math.Log2(scale)
		stat[i] = glm.RowAveLogCPM(y, offsets[i], prior, glm.DefaultAbundanceDisp) - bgAb
	}
	return atLeast(stat, minLogFC), nil
}

// pooledBins sums every sample of bins into one column.
func pooledBins(bins *matrix.Counts) (counts []int64, lib int64) {
	counts = make([]int64, bins.NumRows())
	for i, row := range bins.Counts {
		for _, v := range row {
			counts[i] += int64(v)
		}
	}
	for _, n := range bins.LibSizes {
		lib += n
	}
	return
}

// controlScale returns the TMM factors of the pooled ChIP and pooled control
// bins.
func controlScale(bins, controlBins *matrix.Counts) (chip, ctrl float64, err error) {
	if bins.NumRows() != controlBins.NumRows() {
		return 0, 0, fmt.Errorf("filter: %d ChIP bins, %d control bins", bins.NumRows(), controlBins.NumRows())
	}
	chipCounts, chipLib := pooledBins(bins)
	ctrlCounts, ctrlLib := pooledBins(controlBins)
	pooled := &matrix.Counts{
		Rows:     bins.Rows,
		Samples:  []string{"chip", "control"},
		Counts:   make([][]int32, bins.NumRows()),
		LibSizes: []int64{chipLib, ctrlLib},
	}
	for i := range pooled.Counts {
		if chipCounts[i] > math.MaxInt32 || ctrlCounts[i] > math.MaxInt32 {
			return 0, 0, fmt.Errorf("filter: pooled bin %v overflows", bins.Rows[i])
		}
		pooled.Counts[i] = []int32{int32(chipCounts[i]), int32(ctrlCounts[i])}
	}
	f, err := normalize.CalcNormFactors(pooled, normalize.DefaultTMMOpts)
	if err != nil {
		return 0, 0, err
	}
	return f[0], f[1], nil
}

func withFactor(c *matrix.Counts, f float64) (*matrix.Counts, error) {
	factors := make([]float64, c.NumSamples())
	for j := range factors {
		factors[j] = f
	}
	return c.WithNormFactors(factors)
}

func control(c *matrix.Counts, s Control) (Result, error) {
	if s.Control == nil {
		return Result{}, fmt.Errorf("filter: no control counts given")
	}
	if err := s.Control.Validate(); err != nil {
		return Result{}, err
	}
	if err := checkSameRows(c, s.Control, "control"); err != nil {
		return Result{}, err
	}
	for i, r := range c.Rows {
		cr := s.Control.Rows[i]
		if cr.ChrName != r.ChrName || cr.Start0 != r.Start0 || cr.End != r.End {
			return Result{}, fmt.Errorf("filter: control row %d is %v, window is %v", i, cr, r)
		}
	}
	minLogFC, err := log2FC(s.MinFC)
	if err != nil {
		return Result{}, err
	}
	chipF, ctrlF := 1.0, 1.0
	if s.Bins != nil || s.ControlBins != nil {
		if err := checkSameLibraries(c, s.Bins, "ChIP bin"); err != nil {
			return Result{}, err
		}
		if err := checkSameLibraries(s.Control, s.ControlBins, "control bin"); err != nil {
			return Result{}, err
		}
		if chipF, ctrlF, err = controlScale(s.Bins, s.ControlBins); err != nil {
			return Result{}, err
		}
	}
	chip, err := withFactor(c, chipF)
	if err != nil {
		return Result{}, err
	}
	ctrl, err := withFactor(s.Control, ctrlF)
	if err != nil {
		return Result{}, err
	}
	prior := priorOrDefault(s.PriorCount)
	chipAb, err := ScaledAverage(chip, []float64{1}, prior)
	if err != nil {
		return Result{}, err
	}
	ctrlAb, err := ScaledAverage(ctrl, []float64{1}, prior)
	if err != nil {
		return Result{}, err
	}
	stat := make([]float64, len(chipAb))
	for i := range stat {
		stat[i] = chipAb[i] - ctrlAb[i]
	}
	return atLeast(stat, minLogFC), nil
}
