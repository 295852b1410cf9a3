// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package util

import (
	"math"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
)

func TestRanks(t *testing.T) {
	expect.EQ(t, Ranks([]float64{3, 1, 2}), []float64{3, 1, 2})
	expect.EQ(t, Ranks([]float64{5, 1, 5, 0}), []float64{3.5, 2, 3.5, 1})
	r := Ranks([]float64{2, math.NaN(), 1})
	expect.EQ(t, r[0], 2.0)
	expect.EQ(t, r[2], 1.0)
	expect.True(t, math.IsNaN(r[1]))
	expect.EQ(t, len(Ranks(nil)), 0)
}

func TestQuantile(t *testing.T) {
	x := []float64{4, 1, 3, 2}
	assert.InDelta(t, 2.5, Median(x), 1e-12)
	assert.InDelta(t, 3.25, Quantile(x, 0.75), 1e-12)
	assert.InDelta(t, 1, Quantile(x, 0), 1e-12)
	assert.InDelta(t, 4, Quantile(x, 1), 1e-12)
	expect.EQ(t, x, []float64{4, 1, 3, 2})
	expect.True(t, math.IsNaN(Median(nil)))
}
