// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package normalize

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/diffbind/matrix"
	"github.com/grailbio/diffbind/util"
)

// TMMOpts configures the trimmed mean of M-values.
type TMMOpts struct {
	// LogRatioTrim is the fraction of rows trimmed from each end of the
	// log-ratio (M) distribution.
	LogRatioTrim float64
	// SumTrim is the fraction of rows trimmed from each end of the log
	// abundance (A) distribution.
	SumTrim float64
	// Weighting enables inverse-variance precision weights.
	Weighting bool
	// ACutoff drops rows whose A value is at or below it.
	ACutoff float64
}

// DefaultTMMOpts are the usual TMM settings.
var DefaultTMMOpts = TMMOpts{
	LogRatioTrim: 0.3,
	SumTrim:      0.05,
	Weighting:    true,
	ACutoff:      -1e10,
}

// refColumn picks the sample whose upper-quartile proportion is closest to
// the mean upper quartile across samples.
func refColumn(c *matrix.Counts) int {
	n := c.NumSamples()
	uq := make([]float64, n)
	var mean float64
	for j := 0; j < n; j++ {
		col := c.Column(j)
		lib := float64(c.LibSizes[j])
		for i := range col {
			col[i] /= lib
		}
		uq[j] = util.Quantile(col, 0.75)
		mean += uq[j]
	}
	mean /= float64(n)
	best := 0
	for j := 1; j < n; j++ {
		if math.Abs(uq[j]-mean) < math.Abs(uq[best]-mean) {
			best = j
		}
	}
	return best
}

// tmmFactor returns the TMM scaling factor of obs relative to ref.  Rows with
// a zero count in either sample have an infinite M or A value and are
// excluded.
func tmmFactor(obs, ref []float64, libObs, libRef float64, opts TMMOpts) float64 {
	var logR, absE, v []float64
	for i := range obs {
		po, pr := obs[i]/libObs, ref[i]/libRef
		m := math.Log2(po / pr)
		a := (math.Log2(po) + math.Log2(pr)) / 2
		if math.IsInf(m, 0) || math.IsNaN(m) || math.IsInf(a, 0) || math.IsNaN(a) || a <= opts.ACutoff {
			continue
		}
		logR = append(logR, m)
		absE = append(absE, a)
		v = append(v, (libObs-obs[i])/libObs/obs[i]+(libRef-ref[i])/libRef/ref[i])
	}
	n := len(logR)
	if n == 0 {
		return 1
	}
	maxAbs := 0.0
	for _, m := range logR {
		maxAbs = math.Max(maxAbs, math.Abs(m))
	}
	if maxAbs < 1e-6 {
		return 1
	}
	loL := math.Floor(float64(n)*opts.LogRatioTrim) + 1
	hiL := float64(n) + 1 - loL
	loS := math.Floor(float64(n)*opts.SumTrim) + 1
	hiS := float64(n) + 1 - loS
	rankR, rankE := util.Ranks(logR), util.Ranks(absE)
	var num, den float64
	for i := range logR {
		if rankR[i] < loL || rankR[i] > hiL || rankE[i] < loS || rankE[i] > hiS {
			continue
		}
		w := 1.0
		if opts.Weighting {
			w = 1 / v[i]
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		num += w * logR[i]
		den += w
	}
	if den == 0 {
		return 1
	}
	f := num / den
	if math.IsNaN(f) {
		f = 0
	}
	return math.Exp2(f)
}

// CalcNormFactors computes TMM normalization factors for the samples of c,
// using c.LibSizes as the library sizes.  The factors multiply to one.  Rows
// that are zero in every sample carry no information and are ignored.
func CalcNormFactors(c *matrix.Counts, opts TMMOpts) ([]float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	n := c.NumSamples()
	if n == 0 {
		return nil, fmt.Errorf("normalize.CalcNormFactors: no samples")
	}
	for j, lib := range c.LibSizes {
		if lib <= 0 {
			return nil, errors.E("normalize.CalcNormFactors: empty library", c.Samples[j])
		}
	}
	keep := make([]bool, c.NumRows())
	for i, s := range c.RowSums() {
		keep[i] = s > 0
	}
	nz, err := c.Subset(keep)
	if err != nil {
		return nil, err
	}
	factors := make([]float64, n)
	if nz.NumRows() == 0 {
		for j := range factors {
			factors[j] = 1
		}
		return factors, nil
	}
	ref := refColumn(nz)
	refCol := nz.Column(ref)
	var sumLog float64
	for j := 0; j < n; j++ {
		factors[j] = tmmFactor(nz.Column(j), refCol, float64(nz.LibSizes[j]), float64(nz.LibSizes[ref]), opts)
		sumLog += math.Log(factors[j])
	}
	geo := math.Exp(sumLog / float64(n))
	for j := range factors {
		factors[j] /= geo
	}
	return factors, nil
}
