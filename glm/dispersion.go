// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DispOpts configures EstimateTrendedDisp.
type DispOpts struct {
	// MinLogDisp and MaxLogDisp bound the natural-log dispersion grid.
	MinLogDisp, MaxLogDisp float64
	// GridSize is the number of grid points.
	GridSize int
	// MaxBins caps the number of abundance bins.
	MaxBins int
	// MinBinRows is the smallest number of rows per bin.
	MinBinRows int
}

// DefaultDispOpts searches dispersions from 1e-4 to 4.
var DefaultDispOpts = DispOpts{
	MinLogDisp: math.Log(1e-4),
	MaxLogDisp: math.Log(4),
	GridSize:   31,
	MaxBins:    50,
	MinBinRows: 20,
}

// DispTrend is a piecewise linear trend of log dispersion against abundance.
type DispTrend struct {
	// Abundance holds the median abundance of each bin, increasing.
	Abundance []float64
	// LogDisp holds the natural-log dispersion fitted in each bin.
	LogDisp []float64
}

// At returns the trended dispersion at abundance a: linear interpolation
// between bins, constant beyond the first and last.
func (t DispTrend) At(a float64) float64 {
	n := len(t.Abundance)
	switch {
	case n == 0:
		return math.NaN()
	case a <= t.Abundance[0]:
		return math.Exp(t.LogDisp[0])
	case a >= t.Abundance[n-1]:
		return math.Exp(t.LogDisp[n-1])
	}
	k := sort.SearchFloat64s(t.Abundance, a)
	x0, x1 := t.Abundance[k-1], t.Abundance[k]
	y0, y1 := t.LogDisp[k-1], t.LogDisp[k]
	if x1 == x0 {
		return math.Exp(y1)
	}
	return math.Exp(y0 + (y1-y0)*(a-x0)/(x1-x0))
}

// Common returns the geometric mean of the binned dispersions.
func (t DispTrend) Common() float64 {
	if len(t.LogDisp) == 0 {
		return math.NaN()
	}
	return math.Exp(stat.Mean(t.LogDisp, nil))
}

// gridMax returns the location of the maximum of f sampled on grid, refined
// by fitting a parabola through the best point and its neighbours.
func gridMax(grid, f []float64) float64 {
	best := floats.MaxIdx(f)
	if best == 0 || best == len(f)-1 {
		return grid[best]
	}
	x0, x1, x2 := grid[best-1], grid[best], grid[best+1]
	y0, y1, y2 := f[best-1], f[best], f[best+1]
	denom := (x0-x1)*(x0-x2)*(x1-x2)
	if denom == 0 {
		return x1
	}
	a := (x2*(y1-y0) + x1*(y0-y2) + x0*(y2-y1)) / denom
	b := (x2*x2*(y0-y1) + x1*x1*(y2-y0) + x0*x0*(y1-y2)) / denom
	if a >= 0 {
		return x1
	}
	v := -b / (2 * a)
	if v < x0 || v > x2 {
		return x1
	}
	return v
}

// EstimateTrendedDisp estimates a negative binomial dispersion trend.  For
// every row it evaluates the Cox-Reid adjusted profile likelihood on a grid
// of log dispersions; rows are binned by abundance, the likelihoods are
// summed within each bin, and the maximizing dispersion of each bin becomes
// a point of the trend.  y and offsets are indexed [row][sample].  It returns
// the trend and the trended dispersion of every row.
func EstimateTrendedDisp(design Design, y, offsets [][]float64, abundance []float64, opts DispOpts) (DispTrend, []float64, error) {
	nRow := len(y)
	if nRow == 0 {
		return DispTrend{}, nil, fmt.Errorf("glm.EstimateTrendedDisp: no rows")
	}
	if len(offsets) != nRow || len(abundance) != nRow {
		return DispTrend{}, nil, fmt.Errorf("glm.EstimateTrendedDisp: %d rows, %d offsets, %d abundances",
			nRow, len(offsets), len(abundance))
	}
	if opts.GridSize < 3 {
		return DispTrend{}, nil, fmt.Errorf("glm.EstimateTrendedDisp: grid too small (%d)", opts.GridSize)
	}
	if design.NumSamples() <= design.NumCoefs() {
		return DispTrend{}, nil, fmt.Errorf("glm.EstimateTrendedDisp: no residual degrees of freedom; use LRT with a fixed dispersion")
	}
	grid := make([]float64, opts.GridSize)
	floats.Span(grid, opts.MinLogDisp, opts.MaxLogDisp)

	apl := make([][]float64, nRow)
	forRows(nRow, func(low, high int) {
		for i := low; i < high; i++ {
			row := make([]float64, len(grid))
			var start []float64
			for g, logDisp := range grid {
				var fit nbFit
				row[g], fit = coxReidAPL(design.X, y[i], offsets[i], math.Exp(logDisp), start)
				start = fit.beta
			}
			apl[i] = row
		}
	})

	order := make([]int, nRow)
	sorted := append([]float64(nil), abundance...)
	floats.Argsort(sorted, order)
	nBins := nRow / opts.MinBinRows
	if nBins > opts.MaxBins {
		nBins = opts.MaxBins
	}
	if nBins < 1 {
		nBins = 1
	}
	var trend DispTrend
	sum := make([]float64, len(grid))
	for b := 0; b < nBins; b++ {
		lo, hi := b*nRow/nBins, (b+1)*nRow/nBins
		for g := range sum {
			sum[g] = 0
		}
		for _, i := range order[lo:hi] {
			floats.Add(sum, apl[i])
		}
		trend.Abundance = append(trend.Abundance, stat.Quantile(0.5, stat.Empirical, sorted[lo:hi], nil))
		trend.LogDisp = append(trend.LogDisp, gridMax(grid, sum))
	}
	disp := make([]float64, nRow)
	for i, a := range abundance {
		disp[i] = trend.At(a)
	}
	return trend, disp, nil
}

// fitRows fits every row of y with its own dispersion.
func fitRows(x *mat.Dense, y, offsets [][]float64, disp []float64) []nbFit {
	fits := make([]nbFit, len(y))
	forRows(len(y), func(low, high int) {
		for i := low; i < high; i++ {
			fits[i] = fitNB(x, y[i], offsets[i], disp[i], nil)
		}
	})
	return fits
}
