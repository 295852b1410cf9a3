// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/log"
	"github.com/grailbio/diffbind/matrix"
)

// QLOpts configures QLFit.
type QLOpts struct {
	// PriorCount and AbundanceDisp are used for the abundance of each row.
	PriorCount    float64
	AbundanceDisp float64
	Disp          DispOpts
	Squeeze       SqueezeOpts
}

// DefaultQLOpts is the robust quasi-likelihood setup.
var DefaultQLOpts = QLOpts{
	PriorCount:    DefaultPriorCount,
	AbundanceDisp: DefaultAbundanceDisp,
	Disp:          DefaultDispOpts,
	Squeeze:       DefaultSqueezeOpts,
}

// Diagnostics reports conditions that make a fit less reliable without
// invalidating it.
type Diagnostics struct {
	// PriorDF is the shared prior degrees of freedom of the QL dispersions.
	PriorDF float64
	// InfinitePriorDF is set when the QL dispersions vary no more than
	// sampling explains.  This usually indicates an unmodelled batch effect
	// or too few rows; the trend then dominates every row.
	InfinitePriorDF bool
	// Outliers counts rows whose prior degrees of freedom were lowered.
	Outliers int
	// NotConverged counts rows whose GLM fit hit the iteration limit.
	NotConverged int
}

// QLFitResult holds a quasi-likelihood fit of every row of a count matrix.
type QLFitResult struct {
	Design  Design
	Y       [][]float64
	Offsets [][]float64
	// AveLogCPM is the abundance of each row.
	AveLogCPM []float64
	// Trend is the negative binomial dispersion trend; Dispersion holds its
	// value for each row.
	Trend      DispTrend
	Dispersion []float64

	Beta       [][]float64
	Deviance   []float64
	DFResidual []float64
	// S2 is the raw QL dispersion of each row; S2Prior and S2Post its prior
	// and posterior after squeezing; DFPrior the prior degrees of freedom.
	S2      []float64
	S2Prior []float64
	S2Post  []float64
	DFPrior []float64

	Diagnostics Diagnostics
}

func rowsOf(c *matrix.Counts) [][]float64 {
	y := make([][]float64, c.NumRows())
	for i := range y {
		y[i] = c.Row(i)
	}
	return y
}

// QLFit fits a negative binomial GLM to every row of c with a trended
// dispersion and estimates moderated quasi-likelihood dispersions.
func QLFit(ctx context.Context, c *matrix.Counts, design Design, opts QLOpts) (*QLFitResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if design.NumSamples() != c.NumSamples() {
		return nil, fmt.Errorf("glm.QLFit: design has %d rows, matrix has %d samples", design.NumSamples(), c.NumSamples())
	}
	res := &QLFitResult{
		Design:    design,
		Y:         rowsOf(c),
		Offsets:   c.LogOffsets(),
		AveLogCPM: AveLogCPM(c, opts.PriorCount, opts.AbundanceDisp),
	}
	var err error
	if res.Trend, res.Dispersion, err = EstimateTrendedDisp(design, res.Y, res.Offsets, res.AveLogCPM, opts.Disp); err != nil {
		return nil, err
	}
	log.Debug.Printf("glm.QLFit: dispersion trend over %d bins, common %.4g", len(res.Trend.LogDisp), res.Trend.Common())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fits := fitRows(design.X, res.Y, res.Offsets, res.Dispersion)
	nRow := len(fits)
	res.Beta = make([][]float64, nRow)
	res.Deviance = make([]float64, nRow)
	res.DFResidual = make([]float64, nRow)
	res.S2 = make([]float64, nRow)
	dfRes := float64(design.NumSamples() - design.NumCoefs())
	for i, f := range fits {
		res.Beta[i] = f.beta
		res.Deviance[i] = f.deviance
		res.DFResidual[i] = dfRes
		res.S2[i] = f.deviance / dfRes
		if !f.converged {
			res.Diagnostics.NotConverged++
		}
	}
	sq := SqueezeVar(res.S2, res.DFResidual, res.AveLogCPM, opts.Squeeze)
	res.S2Prior, res.S2Post, res.DFPrior = sq.Prior, sq.Post, sq.RowPriorDF
	res.Diagnostics.PriorDF = sq.PriorDF
	res.Diagnostics.Outliers = sq.Outliers
	if math.IsInf(sq.PriorDF, 1) {
		res.Diagnostics.InfinitePriorDF = true
		log.Error.Printf("glm.QLFit: prior degrees of freedom are infinite; " +
			"the QL dispersion trend may be unreliable, check for unmodelled batch effects")
	}
	log.Printf("glm.QLFit: %d rows, prior df %.3g, %d outliers, %d not converged",
		nRow, sq.PriorDF, sq.Outliers, res.Diagnostics.NotConverged)
	return res, nil
}
