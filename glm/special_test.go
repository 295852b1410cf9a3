// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrigamma(t *testing.T) {
	assert.InDelta(t, math.Pi*math.Pi/6, trigamma(1), 1e-12)
	assert.InDelta(t, math.Pi*math.Pi/2, trigamma(0.5), 1e-10)
	assert.InDelta(t, math.Pi*math.Pi/2-4, trigamma(1.5), 1e-12)
	// trigamma(n) = pi^2/6 - sum_{k<n} 1/k^2.
	want := math.Pi * math.Pi / 6
	for k := 1; k < 12; k++ {
		want -= 1 / float64(k*k)
		assert.InDelta(t, want, trigamma(float64(k+1)), 1e-12, "n=%d", k+1)
	}
	assert.InDelta(t, -2.404113806319188, tetragamma(1), 1e-9)
	for _, x := range []float64{0.01, 0.3, 1, 2.5, 10, 150} {
		assert.InDelta(t, x, trigammaInverse(trigamma(x)), 1e-6*x, "x=%v", x)
	}
	assert.True(t, math.IsInf(trigammaInverse(0), 1))
	assert.True(t, math.IsNaN(trigammaInverse(-1)))
}

func TestUnitDeviance(t *testing.T) {
	assert.Equal(t, 0.0, unitDeviance(5, 5, 0.1))
	assert.Equal(t, 0.0, unitDeviance(5, 5, 0))
	assert.True(t, unitDeviance(0, 3, 0.1) > 0)
	// The negative binomial deviance approaches the Poisson deviance.
	assert.InDelta(t, unitDeviance(7, 3, 0), unitDeviance(7, 3, 1e-7), 1e-4)
	assert.True(t, unitDeviance(7, 3, 0.5) < unitDeviance(7, 3, 0))
}

func TestLowess(t *testing.T) {
	x := make([]float64, 50)
	y := make([]float64, 50)
	for i := range x {
		// Deliberately unsorted.
		x[i] = float64((i * 7) % 50)
		y[i] = 2*x[i] + 1
	}
	fit := Lowess(x, y, DefaultLowessOpts)
	for i := range x {
		assert.InDelta(t, y[i], fit[i], 1e-8)
	}

	// A single outlier is ignored by the robustness iterations.
	y[10] += 1000
	fit = Lowess(x, y, DefaultLowessOpts)
	for i := range x {
		if i == 10 {
			continue
		}
		assert.InDelta(t, 2*x[i]+1, fit[i], 1e-6)
	}
	assert.Nil(t, Lowess(nil, nil, DefaultLowessOpts))
}

func TestSqueezeVar(t *testing.T) {
	n := 2000
	s2 := make([]float64, n)
	df := make([]float64, n)
	for i := range s2 {
		s2[i] = 0.5
		df[i] = 2
	}
	// Identical variances: no excess spread, infinite prior df.
	sq := SqueezeVar(s2, df, nil, DefaultSqueezeOpts)
	assert.True(t, math.IsInf(sq.PriorDF, 1))
	for i := range s2 {
		assert.InDelta(t, sq.Prior[i], sq.Post[i], 1e-12)
	}

	// Scaled F variances with 10 prior df, plus one outlier.
	r := rand.New(rand.NewSource(1))
	for i := range s2 {
		var chi10 float64
		for k := 0; k < 5; k++ {
			chi10 += r.ExpFloat64()
		}
		s2[i] = r.ExpFloat64() / (chi10 / 5)
	}
	s2[0] = 1000
	sq = SqueezeVar(s2, df, nil, DefaultSqueezeOpts)
	assert.False(t, math.IsInf(sq.PriorDF, 1))
	assert.InDelta(t, 10, sq.PriorDF, 3)
	assert.True(t, sq.RowPriorDF[0] < sq.PriorDF)
	assert.True(t, sq.RowPriorDF[0] < 1)
	assert.True(t, sq.Outliers >= 1)
	for i := range s2 {
		lo, hi := math.Min(s2[i], sq.Prior[i]), math.Max(s2[i], sq.Prior[i])
		assert.True(t, sq.Post[i] >= lo*(1-1e-9) && sq.Post[i] <= hi*(1+1e-9), "row %d", i)
	}

	// A near-zero variance is as suspicious as a huge one.
	s2[0] = 1e-8
	low := SqueezeVar(s2, df, nil, DefaultSqueezeOpts)
	assert.InDelta(t, 10, low.PriorDF, 3)
	assert.True(t, low.RowPriorDF[0] < low.PriorDF)
	assert.True(t, low.RowPriorDF[0] < 1)
	assert.True(t, low.Outliers >= 1)
	assert.True(t, low.Post[0] > s2[0])
}

func TestWinsorizedLogF(t *testing.T) {
	full := trigamma(2) + trigamma(5)
	assert.InDelta(t, full, winsorizedLogFVar(4, 10, 1e-6, 1e-6), 0.05)
	v10 := winsorizedLogFVar(2, 10, 0.05, 0.1)
	v100 := winsorizedLogFVar(2, 100, 0.05, 0.1)
	vInf := winsorizedLogFVar(2, math.Inf(1), 0.05, 0.1)
	assert.True(t, v10 > v100 && v100 > vInf)
	assert.InDelta(t, 10, robustPriorDF(2, v10, 0.05, 0.1), 0.1)
	assert.True(t, math.IsInf(robustPriorDF(2, vInf*0.99, 0.05, 0.1), 1))
}
