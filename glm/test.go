// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/diffbind/matrix"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Result is the test of one row.
type Result struct {
	// LogFC is the log2 fold change along the contrast.
	LogFC float64
	// LogCPM is the abundance.
	LogCPM float64
	// Stat is the F statistic of QLFTest or the likelihood ratio of LRT.
	Stat   float64
	PValue float64
}

// logFC estimates contrast·beta in log2 units from a fit with a small prior
// count, which keeps rows with an all-zero group finite.
func logFC(design Design, y, offset, contrast []float64, disp float64) float64 {
	py, poff := addPrior(y, offset, logFCPriorCount)
	fit := fitNB(design.X, py, poff, disp, nil)
	return floats.Dot(fit.beta, contrast) / math.Ln2
}

// QLFTest tests every row of fit for contrast·beta = 0 with a
// quasi-likelihood F-test.  The denominator degrees of freedom are the
// row's prior plus residual degrees of freedom; infinite prior degrees of
// freedom reduce the test to a scaled chi-square.
func QLFTest(fit *QLFitResult, contrast []float64) ([]Result, error) {
	null, err := fit.Design.nullDesign(contrast)
	if err != nil {
		return nil, err
	}
	df1 := 1.0
	out := make([]Result, len(fit.Y))
	forRows(len(out), func(low, high int) {
		for i := low; i < high; i++ {
			disp := fit.Dispersion[i]
			nullFit := fitNB(null, fit.Y[i], fit.Offsets[i], disp, nil)
			lr := math.Max(nullFit.deviance-fit.Deviance[i], 0)
			f := lr / df1 / fit.S2Post[i]
			r := Result{
				LogFC:  logFC(fit.Design, fit.Y[i], fit.Offsets[i], contrast, disp),
				LogCPM: fit.AveLogCPM[i],
				Stat:   f,
			}
			df2 := fit.DFPrior[i] + fit.DFResidual[i]
			if math.IsInf(df2, 1) {
				r.PValue = distuv.ChiSquared{K: df1}.Survival(f * df1)
			} else {
				r.PValue = distuv.F{D1: df1, D2: df2}.Survival(f)
			}
			out[i] = r
		}
	})
	return out, nil
}

// LRT tests every row of c for contrast·beta = 0 with a likelihood ratio
// test at a fixed dispersion.  It needs no replicates, but it cannot account
// for variability between replicates and is anticonservative when the
// dispersion is underestimated.
func LRT(ctx context.Context, c *matrix.Counts, design Design, disp float64, contrast []float64) ([]Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if design.NumSamples() != c.NumSamples() {
		return nil, fmt.Errorf("glm.LRT: design has %d rows, matrix has %d samples", design.NumSamples(), c.NumSamples())
	}
	if disp < 0 || math.IsNaN(disp) {
		return nil, fmt.Errorf("glm.LRT: invalid dispersion %v", disp)
	}
	null, err := design.nullDesign(contrast)
	if err != nil {
		return nil, err
	}
	y := rowsOf(c)
	offsets := c.LogOffsets()
	abundance := AveLogCPM(c, DefaultPriorCount, DefaultAbundanceDisp)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Result, len(y))
	forRows(len(y), func(low, high int) {
		for i := low; i < high; i++ {
			full := fitNB(design.X, y[i], offsets[i], disp, nil)
			nullFit := fitNB(null, y[i], offsets[i], disp, nil)
			lr := math.Max(nullFit.deviance-full.deviance, 0)
			out[i] = Result{
				LogFC:  logFC(design, y[i], offsets[i], contrast, disp),
				LogCPM: abundance[i],
				Stat:   lr,
				PValue: distuv.ChiSquared{K: 1}.Survival(lr),
			}
		}
	})
	return out, nil
}
