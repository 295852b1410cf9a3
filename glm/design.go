// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// maxCond is the largest condition number accepted for a design matrix.
const maxCond = 1e12

// Design is an n×p model matrix: one row per sample, one column per
// coefficient.
type Design struct {
	X *mat.Dense
	// Coefs names the columns.
	Coefs []string
}

// NewDesign wraps x, checking that it has full column rank.
func NewDesign(x *mat.Dense, coefs []string) (Design, error) {
	n, p := x.Dims()
	if len(coefs) != p {
		return Design{}, fmt.Errorf("glm.NewDesign: %d names for %d coefficients", len(coefs), p)
	}
	if n <= 0 || p <= 0 || p > n {
		return Design{}, fmt.Errorf("glm.NewDesign: bad design dimensions %dx%d", n, p)
	}
	if c := mat.Cond(x, 2); math.IsInf(c, 0) || math.IsNaN(c) || c > maxCond {
		return Design{}, fmt.Errorf("glm.NewDesign: design matrix is not of full rank (condition number %g)", c)
	}
	return Design{X: x, Coefs: coefs}, nil
}

// OneWayDesign builds the design of a one-factor experiment with an
// intercept.  Levels are ordered by first appearance in groups; the first
// level is the baseline, and coefficient k (k >= 1) is the log fold change of
// level k over the baseline.  The contrast with a 1 at coefficient k and 0
// elsewhere therefore has positive log fold changes where level k is higher.
func OneWayDesign(groups []string) (Design, []string, error) {
	var levels []string
	levelIdx := make(map[string]int)
	for _, g := range groups {
		if _, ok := levelIdx[g]; !ok {
			levelIdx[g] = len(levels)
			levels = append(levels, g)
		}
	}
	if len(levels) < 2 {
		return Design{}, nil, fmt.Errorf("glm.OneWayDesign: need at least two groups, got %v", levels)
	}
	n, p := len(groups), len(levels)
	x := mat.NewDense(n, p, nil)
	for i, g := range groups {
		x.Set(i, 0, 1)
		if k := levelIdx[g]; k > 0 {
			x.Set(i, k, 1)
		}
	}
	coefs := make([]string, p)
	coefs[0] = "(Intercept)"
	for k := 1; k < p; k++ {
		coefs[k] = "group" + levels[k]
	}
	d, err := NewDesign(x, coefs)
	return d, levels, err
}

// NumSamples returns the number of design rows.
func (d Design) NumSamples() int {
	n, _ := d.X.Dims()
	return n
}

// NumCoefs returns the number of coefficients.
func (d Design) NumCoefs() int {
	_, p := d.X.Dims()
	return p
}

// CoefContrast returns the contrast that tests coefficient k alone.
func (d Design) CoefContrast(k int) []float64 {
	c := make([]float64, d.NumCoefs())
	if k >= 0 && k < len(c) {
		c[k] = 1
	}
	return c
}

// nullDesign returns the design constrained by contrast·β = 0.  The
// coefficient space is rotated by the Householder reflection that maps the
// first axis onto the normalized contrast; the remaining reflected axes span
// the orthogonal complement of the contrast, and X times them is the null
// design.
func (d Design) nullDesign(contrast []float64) (*mat.Dense, error) {
	n, p := d.X.Dims()
	if len(contrast) != p {
		return nil, fmt.Errorf("glm: contrast has %d entries, design has %d coefficients", len(contrast), p)
	}
	norm := floats.Norm(contrast, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("glm: invalid contrast %v", contrast)
	}
	if p == 1 {
		return nil, nil
	}
	v := make([]float64, p)
	for i, c := range contrast {
		v[i] = c / norm
	}
	// Reflect e1 onto +-v; choose the sign that avoids cancellation.
	if v[0] > 0 {
		v[0] += 1
	} else {
		v[0] -= 1
	}
	vv := floats.Dot(v, v)
	h := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			val := -2 * v[i] * v[j] / vv
			if i == j {
				val++
			}
			h.Set(i, j, val)
		}
	}
	var rotated mat.Dense
	rotated.Mul(d.X, h)
	null := mat.NewDense(n, p-1, nil)
	null.Copy(rotated.Slice(0, n, 1, p))
	return null, nil
}
