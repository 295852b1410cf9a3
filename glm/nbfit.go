// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	maxIter     = 50
	maxHalvings = 20
	devTol      = 1e-8
	// minMu keeps log(mu) finite when a coefficient runs off to -Inf.
	minMu = 1e-300
	// maxEta caps the linear predictor.
	maxEta = 700
)

// nbFit is the fit of one row.
type nbFit struct {
	beta      []float64
	mu        []float64
	deviance  float64
	iter      int
	converged bool
}

// unitDeviance is the negative binomial deviance of one observation.  disp
// near zero gives the Poisson deviance.
func unitDeviance(y, mu, disp float64) float64 {
	if mu < minMu {
		mu = minMu
	}
	if disp < 1e-8 {
		if y > 0 {
			return 2 * (y*math.Log(y/mu) - (y - mu))
		}
		return 2 * mu
	}
	if y > 0 {
		return 2 * (y*math.Log(y/mu) + (y+1/disp)*math.Log((1+disp*mu)/(1+disp*y)))
	}
	return 2 / disp * math.Log1p(disp*mu)
}

func deviance(y, mu []float64, disp float64) float64 {
	var dev float64
	for i := range y {
		dev += unitDeviance(y[i], mu[i], disp)
	}
	return dev
}

// logLik is the negative binomial log likelihood of y given mu.
func logLik(y, mu []float64, disp float64) float64 {
	var ll float64
	if disp < 1e-8 {
		for i := range y {
			m := math.Max(mu[i], minMu)
			lg, _ := math.Lgamma(y[i] + 1)
			ll += y[i]*math.Log(m) - m - lg
		}
		return ll
	}
	r := 1 / disp
	lgr, _ := math.Lgamma(r)
	for i := range y {
		m := math.Max(mu[i], minMu)
		a, _ := math.Lgamma(y[i] + r)
		b, _ := math.Lgamma(y[i] + 1)
		ll += a - lgr - b + y[i]*math.Log(m/(r+m)) + r*math.Log(r/(r+m))
	}
	return ll
}

// linearPredictor computes mu = exp(X·beta + offset) into mu.
func linearPredictor(x *mat.Dense, beta, offset, mu []float64) {
	for i := range mu {
		eta := offset[i]
		if x != nil {
			for j, b := range beta {
				eta += x.At(i, j) * b
			}
		}
		if eta > maxEta {
			eta = maxEta
		}
		mu[i] = math.Max(math.Exp(eta), minMu)
	}
}

// weightedNormal returns X'WX for working weights w.
func weightedNormal(x *mat.Dense, w []float64) *mat.Dense {
	n, p := x.Dims()
	a := mat.NewDense(p, p, nil)
	for j := 0; j < p; j++ {
		for k := j; k < p; k++ {
			var s float64
			for i := 0; i < n; i++ {
				s += x.At(i, j) * w[i] * x.At(i, k)
			}
			a.Set(j, k, s)
			a.Set(k, j, s)
		}
	}
	return a
}

// startBeta solves the unweighted least squares fit of log(y+0.5)-offset.
func startBeta(x *mat.Dense, y, offset []float64) []float64 {
	n, p := x.Dims()
	w := make([]float64, n)
	z := make([]float64, p)
	for i := range w {
		w[i] = 1
		t := math.Log(y[i]+0.5) - offset[i]
		for j := 0; j < p; j++ {
			z[j] += x.At(i, j) * t
		}
	}
	var beta mat.VecDense
	if err := beta.SolveVec(weightedNormal(x, w), mat.NewVecDense(p, z)); err != nil {
		return make([]float64, p)
	}
	return beta.RawVector().Data
}

// fitNB fits log(mu) = X·beta + offset by iteratively reweighted least
// squares with step halving.  x may be nil for an offset-only model.  start,
// if non-nil, seeds beta.
func fitNB(x *mat.Dense, y, offset []float64, disp float64, start []float64) nbFit {
	n := len(y)
	fit := nbFit{mu: make([]float64, n)}
	if x == nil {
		linearPredictor(nil, nil, offset, fit.mu)
		fit.deviance = deviance(y, fit.mu, disp)
		fit.converged = true
		return fit
	}
	_, p := x.Dims()
	if start != nil {
		fit.beta = append([]float64(nil), start...)
	} else {
		fit.beta = startBeta(x, y, offset)
	}
	linearPredictor(x, fit.beta, offset, fit.mu)
	fit.deviance = deviance(y, fit.mu, disp)

	w := make([]float64, n)
	rhs := make([]float64, p)
	trialMu := make([]float64, n)
	for fit.iter = 1; fit.iter <= maxIter; fit.iter++ {
		for j := range rhs {
			rhs[j] = 0
		}
		for i := 0; i < n; i++ {
			mu := fit.mu[i]
			w[i] = mu / (1 + disp*mu)
			eta := math.Log(mu) - offset[i]
			z := eta + (y[i]-mu)/mu
			for j := 0; j < p; j++ {
				rhs[j] += x.At(i, j) * w[i] * z
			}
		}
		a := weightedNormal(x, w)
		// Levenberg-style damping keeps the system solvable when a group is all
		// zeros and its weights underflow.
		for j := 0; j < p; j++ {
			a.Set(j, j, a.At(j, j)*(1+1e-10)+1e-12)
		}
		var next mat.VecDense
		if err := next.SolveVec(a, mat.NewVecDense(p, rhs)); err != nil {
			break
		}
		trial := append([]float64(nil), next.RawVector().Data...)
		linearPredictor(x, trial, offset, trialMu)
		trialDev := deviance(y, trialMu, disp)
		for h := 0; h < maxHalvings && !(trialDev <= fit.deviance+devTol); h++ {
			for j := range trial {
				trial[j] = (trial[j] + fit.beta[j]) / 2
			}
			linearPredictor(x, trial, offset, trialMu)
			trialDev = deviance(y, trialMu, disp)
		}
		if !(trialDev <= fit.deviance+devTol) {
			fit.converged = true
			break
		}
		delta := fit.deviance - trialDev
		fit.beta = trial
		copy(fit.mu, trialMu)
		fit.deviance = trialDev
		if math.Abs(delta) < devTol*(math.Abs(trialDev)+0.1) {
			fit.converged = true
			break
		}
	}
	return fit
}

// coxReidAPL returns the Cox-Reid adjusted profile log likelihood of one row
// at dispersion disp, together with the fit, which seeds the next call.
func coxReidAPL(x *mat.Dense, y, offset []float64, disp float64, start []float64) (float64, nbFit) {
	fit := fitNB(x, y, offset, disp, start)
	apl := logLik(y, fit.mu, disp)
	n := len(y)
	w := make([]float64, n)
	for i, mu := range fit.mu {
		w[i] = mu / (1 + disp*mu)
		if w[i] < 1e-12 {
			w[i] = 1e-12
		}
	}
	logDet, sign := mat.LogDet(weightedNormal(x, w))
	if sign > 0 {
		apl -= 0.5 * logDet
	}
	return apl, fit
}
