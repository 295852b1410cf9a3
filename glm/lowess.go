// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LowessOpts configures Lowess.
type LowessOpts struct {
	// Span is the fraction of points used for each local fit.
	Span float64
	// Iter is the number of robustness iterations.
	Iter int
	// DeltaFrac sets, as a fraction of the range of x, the distance within
	// which fitted values are interpolated rather than computed.
	DeltaFrac float64
}

// DefaultLowessOpts matches the usual lowess defaults.
var DefaultLowessOpts = LowessOpts{Span: 2.0 / 3, Iter: 3, DeltaFrac: 0.01}

// Lowess fits a robust locally weighted linear regression of y on x and
// returns the fitted value at every x, in input order.
func Lowess(x, y []float64, opts LowessOpts) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	order := make([]int, n)
	sx := append([]float64(nil), x...)
	floats.Argsort(sx, order)
	sy := make([]float64, n)
	for i, k := range order {
		sy[i] = y[k]
	}
	delta := opts.DeltaFrac * (sx[n-1] - sx[0])
	fitted := lowessSorted(sx, sy, opts.Span, opts.Iter, delta)
	out := make([]float64, n)
	for i, k := range order {
		out[k] = fitted[i]
	}
	return out
}

// lowestFit computes the weighted local linear fit at xs from points
// [nleft, nright].  It returns false if every weight is zero.
func lowestFit(x, y []float64, xs float64, nleft, nright int, w, rw []float64, robust bool) (float64, bool) {
	n := len(x)
	rng := x[n-1] - x[0]
	h := math.Max(xs-x[nleft], x[nright]-xs)
	h9, h1 := 0.999*h, 0.001*h
	var a float64
	j := nleft
	for ; j < n; j++ {
		w[j] = 0
		r := math.Abs(x[j] - xs)
		if r <= h9 {
			if r <= h1 {
				w[j] = 1
			} else {
				q := r / h
				q = 1 - q*q*q
				w[j] = q * q * q
			}
			if robust {
				w[j] *= rw[j]
			}
			a += w[j]
		} else if x[j] > xs {
			break
		}
	}
	nrt := j - 1
	if a <= 0 {
		return 0, false
	}
	for j = nleft; j <= nrt; j++ {
		w[j] /= a
	}
	if h > 0 {
		a = 0
		for j = nleft; j <= nrt; j++ {
			a += w[j] * x[j]
		}
		b := xs - a
		var c float64
		for j = nleft; j <= nrt; j++ {
			c += w[j] * (x[j] - a) * (x[j] - a)
		}
		if math.Sqrt(c) > 0.001*rng {
			b /= c
			for j = nleft; j <= nrt; j++ {
				w[j] *= b*(x[j]-a) + 1
			}
		}
	}
	var ys float64
	for j = nleft; j <= nrt; j++ {
		ys += w[j] * y[j]
	}
	return ys, true
}

// lowessSorted is Cleveland's lowess on x sorted in increasing order.
func lowessSorted(x, y []float64, span float64, iter int, delta float64) []float64 {
	n := len(x)
	ys := make([]float64, n)
	if n < 2 {
		copy(ys, y)
		return ys
	}
	ns := int(span*float64(n) + 1e-7)
	if ns > n {
		ns = n
	}
	if ns < 2 {
		ns = 2
	}
	rw := make([]float64, n)
	res := make([]float64, n)
	w := make([]float64, n)
	for it := 0; it <= iter; it++ {
		nleft, nright := 0, ns-1
		last := -1
		i := 0
		for {
			if nright < n-1 {
				if x[i]-x[nleft] > x[nright+1]-x[i] {
					nleft++
					nright++
					continue
				}
			}
			if v, ok := lowestFit(x, y, x[i], nleft, nright, w, rw, it > 0); ok {
				ys[i] = v
			} else {
				ys[i] = y[i]
			}
			if last < i-1 {
				denom := x[i] - x[last]
				for j := last + 1; j < i; j++ {
					alpha := (x[j] - x[last]) / denom
					ys[j] = alpha*ys[i] + (1-alpha)*ys[last]
				}
			}
			last = i
			cut := x[last] + delta
			for i = last + 1; i < n; i++ {
				if x[i] > cut {
					break
				}
				if x[i] == x[last] {
					ys[i] = ys[last]
					last = i
				}
			}
			if i-1 > last+1 {
				i = i - 1
			} else {
				i = last + 1
			}
			if last >= n-1 {
				break
			}
		}
		for i := range res {
			res[i] = y[i] - ys[i]
		}
		if it == iter {
			break
		}
		abs := make([]float64, n)
		for i, r := range res {
			abs[i] = math.Abs(r)
		}
		sort.Float64s(abs)
		cmad := 6 * stat.Quantile(0.5, stat.Empirical, abs, nil)
		if cmad < 1e-7*stat.Mean(abs, nil) || cmad == 0 {
			break
		}
		c9, c1 := 0.999*cmad, 0.001*cmad
		for i, r := range res {
			r = math.Abs(r)
			switch {
			case r <= c1:
				rw[i] = 1
			case r <= c9:
				q := r / cmad
				q = 1 - q*q
				rw[i] = q * q
			default:
				rw[i] = 0
			}
		}
	}
	return ys
}
