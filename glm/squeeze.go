// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SqueezeOpts configures SqueezeVar.
type SqueezeOpts struct {
	// Robust winsorizes the log variances before estimating the prior and
	// lowers the prior degrees of freedom of outlying rows.
	Robust bool
	// WinsorLow and WinsorHigh are the tail proportions winsorized at each
	// end.
	WinsorLow, WinsorHigh float64
	// OutlierP is the two-sided tail probability below which a row is
	// treated as an outlier and its prior degrees of freedom reduced.
	OutlierP float64
	// Lowess smooths the log variances against the covariate.
	Lowess LowessOpts
}

// DefaultSqueezeOpts is the robust setup.
var DefaultSqueezeOpts = SqueezeOpts{
	Robust:     true,
	WinsorLow:  0.05,
	WinsorHigh: 0.1,
	OutlierP:   0.05,
	Lowess:     LowessOpts{Span: 0.5, Iter: 3, DeltaFrac: 0.01},
}

// Squeezed is the result of SqueezeVar.
type Squeezed struct {
	// Prior is the prior variance of each row.
	Prior []float64
	// PriorDF is the prior degrees of freedom shared by typical rows; it may
	// be +Inf.
	PriorDF float64
	// RowPriorDF is the prior degrees of freedom of each row, lowered for
	// outliers when robust.
	RowPriorDF []float64
	// Post is the posterior variance of each row.
	Post []float64
	// Outliers counts rows whose prior degrees of freedom were lowered.
	Outliers int
}

// logFQuantile returns the u quantile of log(X) for X ~ F(d1, d2); d2 may
// be +Inf.
func logFQuantile(u, d1, d2 float64) float64 {
	if math.IsInf(d2, 1) {
		return math.Log(2 * mathext.GammaIncRegInv(d1/2, u) / d1)
	}
	// X = (d2/d1) B/(1-B) with B ~ Beta(d1/2, d2/2) and 1-B ~ Beta(d2/2, d1/2).
	b := mathext.InvRegIncBeta(d1/2, d2/2, u)
	c := mathext.InvRegIncBeta(d2/2, d1/2, 1-u)
	return math.Log(d2/d1) + math.Log(b) - math.Log(c)
}

// winsorizedLogFVar returns the variance of log(X), X ~ F(d1, d2),
// winsorized at tail proportions lo and hi.
func winsorizedLogFVar(d1, d2, lo, hi float64) float64 {
	const nodes = 400
	qlo, qhi := logFQuantile(lo, d1, d2), logFQuantile(1-hi, d1, d2)
	m1 := lo*qlo + hi*qhi
	m2 := lo*qlo*qlo + hi*qhi*qhi
	width := (1 - lo - hi) / nodes
	for k := 0; k < nodes; k++ {
		q := logFQuantile(lo+(float64(k)+0.5)*width, d1, d2)
		m1 += width * q
		m2 += width * q * q
	}
	return m2 - m1*m1
}

const (
	minPriorDF = 0.1
	maxPriorDF = 1e6
)

// robustPriorDF finds the prior degrees of freedom d0 for which the
// winsorized variance of log F(d1, d0) equals target.  The variance falls as
// d0 grows.
func robustPriorDF(d1, target, lo, hi float64) float64 {
	if target <= winsorizedLogFVar(d1, math.Inf(1), lo, hi) {
		return math.Inf(1)
	}
	if target >= winsorizedLogFVar(d1, minPriorDF, lo, hi) {
		return minPriorDF
	}
	a, b := math.Log(minPriorDF), math.Log(maxPriorDF)
	for iter := 0; iter < 60; iter++ {
		mid := (a + b) / 2
		if winsorizedLogFVar(d1, math.Exp(mid), lo, hi) > target {
			a = mid
		} else {
			b = mid
		}
	}
	return math.Exp((a + b) / 2)
}

// SqueezeVar moderates the variances s2, each with df degrees of freedom,
// by empirical Bayes.  The log variances are modelled as scaled F
// distributed around a trend in covariate (nil for a constant prior).  The
// prior degrees of freedom come from the excess of the variance of the log
// variances over what df alone explains; when there is no excess the prior
// degrees of freedom are infinite and every row gets the trend.  In robust
// mode the log variances are winsorized first and matched against the
// winsorized variance of the log F distribution.
func SqueezeVar(s2, df, covariate []float64, opts SqueezeOpts) Squeezed {
	n := len(s2)
	res := Squeezed{
		Prior:      make([]float64, n),
		RowPriorDF: make([]float64, n),
		Post:       make([]float64, n),
	}
	if n == 0 {
		res.PriorDF = math.Inf(1)
		return res
	}
	// Exact zeros would give -Inf logs.
	positive := make([]float64, 0, n)
	for _, v := range s2 {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	floor := 1e-300
	if len(positive) > 0 {
		sort.Float64s(positive)
		floor = 1e-5 * stat.Quantile(0.5, stat.Empirical, positive, nil)
	}
	e := make([]float64, n)
	var meanTri float64
	for i, v := range s2 {
		half := df[i] / 2
		e[i] = math.Log(math.Max(v, floor)) - mathext.Digamma(half) + math.Log(half)
		meanTri += trigamma(half)
	}
	meanTri /= float64(n)

	emean := make([]float64, n)
	if covariate != nil && n > 2 {
		emean = Lowess(covariate, e, opts.Lowess)
	} else {
		m := stat.Mean(e, nil)
		for i := range emean {
			emean[i] = m
		}
	}
	resid := make([]float64, n)
	for i := range e {
		resid[i] = e[i] - emean[i]
	}
	res.PriorDF = math.Inf(1)
	if opts.Robust && n > 2 {
		sorted := append([]float64(nil), resid...)
		sort.Float64s(sorted)
		lo := stat.Quantile(opts.WinsorLow, stat.Empirical, sorted, nil)
		hi := stat.Quantile(1-opts.WinsorHigh, stat.Empirical, sorted, nil)
		for i, r := range resid {
			resid[i] = math.Min(math.Max(r, lo), hi)
		}
		dfs := append([]float64(nil), df...)
		sort.Float64s(dfs)
		d1 := stat.Quantile(0.5, stat.Empirical, dfs, nil)
		res.PriorDF = robustPriorDF(d1, stat.Variance(resid, nil), opts.WinsorLow, opts.WinsorHigh)
	} else if n > 1 {
		if evar := stat.Variance(resid, nil) - meanTri; evar > 0 {
			res.PriorDF = 2 * trigammaInverse(evar)
		}
	}
	for i := range res.Prior {
		if math.IsInf(res.PriorDF, 1) {
			if covariate == nil {
				// The pooled variance is the maximum likelihood scale.
				res.Prior[i] = stat.Mean(s2, nil)
			} else {
				res.Prior[i] = math.Exp(emean[i])
			}
		} else {
			half := res.PriorDF / 2
			res.Prior[i] = math.Exp(emean[i] + mathext.Digamma(half) - math.Log(half))
		}
		res.RowPriorDF[i] = res.PriorDF
	}
	if opts.Robust && !math.IsInf(res.PriorDF, 1) {
		for i, v := range s2 {
			f := distuv.F{D1: df[i], D2: res.PriorDF}
			upper := f.Survival(v / res.Prior[i])
			p := 2 * math.Min(upper, 1-upper)
			if p < opts.OutlierP {
				res.RowPriorDF[i] = res.PriorDF * p / opts.OutlierP
				res.Outliers++
			}
		}
	}
	for i, v := range s2 {
		d0 := res.RowPriorDF[i]
		if math.IsInf(d0, 1) {
			res.Post[i] = res.Prior[i]
			continue
		}
		res.Post[i] = (d0*res.Prior[i] + df[i]*v) / (d0 + df[i])
	}
	return res
}
