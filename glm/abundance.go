// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"math"

	"github.com/grailbio/diffbind/matrix"
)

const (
	// DefaultPriorCount is the prior count added before computing abundances.
	DefaultPriorCount = 2
	// DefaultAbundanceDisp is the dispersion used when computing abundances.
	DefaultAbundanceDisp = 0.05
	// logFCPriorCount is added to counts when estimating log fold changes, so
	// that rows with an all-zero group get finite values.
	logFCPriorCount = 0.125
)

// addPrior adds priorCount, scaled by each sample's relative library size,
// to y and widens the offsets by twice the added amount.
func addPrior(y, offset []float64, priorCount float64) (py, poff []float64) {
	n := len(y)
	lib := make([]float64, n)
	var mean float64
	for j := range offset {
		lib[j] = math.Exp(offset[j])
		mean += lib[j]
	}
	mean /= float64(n)
	py = make([]float64, n)
	poff = make([]float64, n)
	for j := range y {
		prior := priorCount * lib[j] / mean
		py[j] = y[j] + prior
		poff[j] = math.Log(lib[j] + 2*prior)
	}
	return
}

// oneGroup fits log(mu_j) = beta + offset_j by Newton's method and returns
// beta.
func oneGroup(y, offset []float64, disp float64) float64 {
	var sumY, sumLib float64
	for j := range y {
		sumY += y[j]
		sumLib += math.Exp(offset[j])
	}
	if sumY <= 0 {
		return math.Inf(-1)
	}
	beta := math.Log(sumY / sumLib)
	for iter := 0; iter < maxIter; iter++ {
		var score, info float64
		for j := range y {
			mu := math.Exp(beta + offset[j])
			denom := 1 + disp*mu
			score += (y[j] - mu) / denom
			info += mu / denom
		}
		step := score / info
		beta += step
		if math.Abs(step) < 1e-10 {
			break
		}
	}
	return beta
}

// RowAveLogCPM computes the abundance of one row with natural-log library
// offsets: the log2 counts per million of a one-group negative binomial fit
// with a prior count.
func RowAveLogCPM(y, offset []float64, priorCount, disp float64) float64 {
	py, poff := addPrior(y, offset, priorCount)
	return (oneGroup(py, poff, disp) + math.Log(1e6)) / math.Ln2
}

// AveLogCPM returns the abundance of each row of c: the average log2 count
// per million, fitted with dispersion disp after adding priorCount (scaled by
// relative library size) to every count.  Offsets, when present, are used as
// the log library sizes.
func AveLogCPM(c *matrix.Counts, priorCount, disp float64) []float64 {
	offsets := c.LogOffsets()
	out := make([]float64, c.NumRows())
	forRows(len(out), func(low, high int) {
		for i := low; i < high; i++ {
			out[i] = RowAveLogCPM(c.Row(i), offsets[i], priorCount, disp)
		}
	})
	return out
}
