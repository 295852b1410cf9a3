// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import "math"

// trigamma is the derivative of the digamma function.
func trigamma(x float64) float64 {
	if x <= 0 && x == math.Floor(x) {
		return math.Inf(1)
	}
	var r float64
	for x < 10 {
		r += 1 / (x * x)
		x++
	}
	x2 := 1 / (x * x)
	return r + 1/x + x2/2 + x2/x*(1.0/6-x2*(1.0/30-x2*(1.0/42-x2/30)))
}

// tetragamma is the second derivative of the digamma function.
func tetragamma(x float64) float64 {
	var r float64
	for x < 10 {
		r -= 2 / (x * x * x)
		x++
	}
	x2 := 1 / (x * x)
	return r - x2 - x2/x - x2*x2*(0.5-x2*(1.0/6-x2*(1.0/6-x2*0.3)))
}

// trigammaInverse solves trigamma(x) = y for x > 0 by Newton's method.
func trigammaInverse(y float64) float64 {
	switch {
	case math.IsNaN(y) || y < 0:
		return math.NaN()
	case y == 0:
		return math.Inf(1)
	case y > 1e7:
		return 1 / math.Sqrt(y)
	case y < 1e-6:
		return 1 / y
	}
	x := 0.5 + 1/y
	for iter := 0; iter < 50; iter++ {
		tri := trigamma(x)
		dif := tri * (1 - tri/y) / tetragamma(x)
		x += dif
		if -dif/x < 1e-8 {
			break
		}
	}
	return x
}
