// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster_test

import (
	"bytes"
	"math"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/diffbind/cluster"
	"github.com/grailbio/diffbind/glm"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func win(chr string, start, end int) interval.Entry {
	return interval.Entry{ChrName: chr, Start0: interval.PosType(start), End: interval.PosType(end)}
}

func TestMergeWindows(t *testing.T) {
	rows := []interval.Entry{
		win("chr1", 0, 10),
		win("chr1", 50, 60),
		win("chr1", 100, 110),
		win("chr1", 200, 210),
		win("chr2", 0, 10),
		win("chr2", 10, 20),
	}
	m, err := cluster.MergeWindows(rows, 40, 0)
	require.NoError(t, err)
	expect.EQ(t, m.IDs, []int{0, 0, 0, 1, 2, 2})
	expect.EQ(t, m.Regions, []interval.Entry{win("chr1", 0, 110), win("chr1", 200, 210), win("chr2", 0, 20)})
	expect.EQ(t, m.Groups(), cluster.Groups{{0, 1, 2}, {3}, {4, 5}})

	m, err = cluster.MergeWindows(rows, 0, 0)
	require.NoError(t, err)
	expect.EQ(t, len(m.Regions), 5)

	_, err = cluster.MergeWindows([]interval.Entry{win("chr1", 50, 60), win("chr1", 0, 10)}, 10, 0)
	assert.Error(t, err)
	_, err = cluster.MergeWindows([]interval.Entry{win("chr1", 0, 10), win("chr2", 0, 10), win("chr1", 50, 60)}, 10, 0)
	assert.Error(t, err)
}

func TestMergeWindowsMaxWidth(t *testing.T) {
	var rows []interval.Entry
	for i := 0; i < 20; i++ {
		rows = append(rows, win("chr1", 50*i, 50*i+10))
	}
	// One 960bp cluster split into ceil(960/300) = 4 pieces of 240bp.
	m, err := cluster.MergeWindows(rows, 100, 300)
	require.NoError(t, err)
	expect.EQ(t, len(m.Regions), 4)
	for _, r := range m.Regions {
		assert.True(t, r.Len() <= 300, "%v", r)
	}
	for i := 1; i < len(m.IDs); i++ {
		assert.True(t, m.IDs[i] >= m.IDs[i-1])
	}
	sizes := make([]int, 0, 4)
	for _, g := range m.Groups() {
		sizes = append(sizes, len(g))
	}
	expect.EQ(t, sizes, []int{5, 5, 5, 5})
}

// Every window lands in exactly one cluster, and every cluster's region
// covers its windows.
func TestMergeWindowsPartition(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	var rows []interval.Entry
	pos := 0
	for i := 0; i < 500; i++ {
		pos += r.Intn(200)
		rows = append(rows, win("chr1", pos, pos+10+r.Intn(40)))
	}
	for _, maxWidth := range []int{0, 150, 1000} {
		m, err := cluster.MergeWindows(rows, 50, maxWidth)
		require.NoError(t, err)
		seen := make([]int, len(rows))
		for k, g := range m.Groups() {
			require.NotEmpty(t, g)
			for _, i := range g {
				seen[i]++
				assert.True(t, m.Regions[k].Start0 <= rows[i].Start0 && rows[i].End <= m.Regions[k].End)
			}
		}
		for i, n := range seen {
			expect.EQ(t, n, 1, "window %d", i)
		}
	}
}

func TestFindOverlaps(t *testing.T) {
	rows := []interval.Entry{win("chr1", 0, 10), win("chr1", 50, 60), win("chr1", 100, 110)}
	regions := []interval.Entry{win("chr1", 5, 55), win("chr1", 0, 200), win("chr1", 300, 400), win("chr2", 0, 100)}
	g, err := cluster.FindOverlaps(regions, rows)
	require.NoError(t, err)
	expect.EQ(t, len(g), 4)
	expect.EQ(t, g[0], []int{0, 1})
	expect.EQ(t, g[1], []int{0, 1, 2})
	expect.EQ(t, len(g[2]), 0)
	expect.EQ(t, len(g[3]), 0)

	res, err := cluster.CombineTests(g, tests(0.01, 0.2, 0.5), cluster.DefaultOpts)
	require.NoError(t, err)
	expect.True(t, math.IsNaN(res[2].PValue))
	expect.EQ(t, res[2].Best, -1)
	expect.False(t, math.IsNaN(res[0].FDR))
}

func tests(p ...float64) []glm.Result {
	out := make([]glm.Result, len(p))
	for i, v := range p {
		out[i] = glm.Result{PValue: v, LogFC: 1, LogCPM: float64(i)}
	}
	return out
}

func TestCombineTests(t *testing.T) {
	res := tests(0.01, 0.015, 0.9)
	res[1].LogFC = -1
	res[2].LogFC = -1
	c, err := cluster.CombineTests(cluster.Groups{{0, 1, 2}, {2}}, res, cluster.DefaultOpts)
	require.NoError(t, err)
	// min(0.01*3/1, 0.015*3/2, 0.9*3/3) = 0.0225.
	assert.InDelta(t, 0.0225, c[0].PValue, 1e-12)
	expect.EQ(t, c[0].Best, 1)
	expect.EQ(t, c[0].Direction, cluster.Mixed)
	expect.EQ(t, c[0].NWindows, 3)
	expect.EQ(t, c[0].NUp, 1)
	expect.EQ(t, c[0].NDown, 1)
	assert.InDelta(t, 0.9, c[1].PValue, 1e-12)
	expect.EQ(t, c[1].Direction, cluster.Down)
	assert.InDelta(t, 0.045, c[0].FDR, 1e-12)

	// Weights shift the combination towards heavy windows.
	opts := cluster.DefaultOpts
	opts.Weights = []float64{4, 1, 1}
	c, err = cluster.CombineTests(cluster.Groups{{0, 1, 2}}, res, opts)
	require.NoError(t, err)
	assert.InDelta(t, 0.01*6/4, c[0].PValue, 1e-12)
	expect.EQ(t, c[0].Direction, cluster.Up)

	opts.Weights = []float64{1, 0, 1}
	_, err = cluster.CombineTests(cluster.Groups{{0}}, res, opts)
	assert.Error(t, err)
	_, err = cluster.CombineTests(cluster.Groups{{3}}, res, cluster.DefaultOpts)
	assert.Error(t, err)
}

func TestGetBestTest(t *testing.T) {
	res := tests(0.01, 0.002, 0.5)
	c, err := cluster.GetBestTest(cluster.Groups{{0, 1, 2}}, res, true, cluster.DefaultOpts)
	require.NoError(t, err)
	expect.EQ(t, c[0].Best, 1)
	assert.InDelta(t, 0.006, c[0].PValue, 1e-12)

	c, err = cluster.GetBestTest(cluster.Groups{{0, 1, 2}}, res, false, cluster.DefaultOpts)
	require.NoError(t, err)
	expect.EQ(t, c[0].Best, 2)
	assert.InDelta(t, 0.5, c[0].PValue, 1e-12)

	big := tests(0.4, 0.5, 0.6)
	c, err = cluster.GetBestTest(cluster.Groups{{0, 1, 2}}, big, true, cluster.DefaultOpts)
	require.NoError(t, err)
	expect.EQ(t, c[0].PValue, 1.0)
}

func TestUpweightSummit(t *testing.T) {
	w, err := cluster.UpweightSummit(cluster.Groups{{0, 1, 2, 3}, {4}}, []float64{1, 5, 2, 3, 0})
	require.NoError(t, err)
	expect.EQ(t, w, []float64{1, 3, 1, 1, 1})
}

func TestMixedTests(t *testing.T) {
	res := tests(0.001, 0.001, 0.001, 0.001)
	res[2].LogFC = -1
	res[3].LogFC = -1
	c, err := cluster.MixedTests(cluster.Groups{{0, 1, 2, 3}, {0, 1}}, res, cluster.DefaultOpts)
	require.NoError(t, err)
	// Both directions: each one-sided Simes p is 0.0005*4/2.
	assert.InDelta(t, 0.001, c[0].PValue, 1e-12)
	expect.EQ(t, c[0].Direction, cluster.Mixed)
	// Only increases: the decrease p-value is large.
	assert.True(t, c[1].PValue > 0.9)
}

func TestMinimalTests(t *testing.T) {
	res := tests(0.001, 0.01, 0.02, 0.5)
	// Holm: 0.004, 0.03, 0.04, 0.5.
	c, err := cluster.MinimalTests(cluster.Groups{{0, 1, 2, 3}}, res, 2, 0, cluster.DefaultOpts)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, c[0].PValue, 1e-12)
	c, err = cluster.MinimalTests(cluster.Groups{{0, 1, 2, 3}}, res, 1, 0.8, cluster.DefaultOpts)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c[0].PValue, 1e-12)
	c, err = cluster.MinimalTests(cluster.Groups{{0}}, res, 3, 0, cluster.DefaultOpts)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, c[0].PValue, 1e-12)
	_, err = cluster.MinimalTests(cluster.Groups{{0}}, res, 0, 0, cluster.DefaultOpts)
	assert.Error(t, err)
}

func TestEmpiricalFDR(t *testing.T) {
	res := tests(0.001, 0.002, 0.003, 0.004)
	res[3].LogFC = -1
	g := cluster.Groups{{0}, {1}, {2}, {3}}
	c, err := cluster.EmpiricalFDR(g, res, cluster.Down, cluster.DefaultOpts)
	require.NoError(t, err)
	// Right-direction p: 0.0005, 0.001, 0.0015, 0.998.  Wrong: 0.9995, 0.999,
	// 0.9985, 0.002.
	expect.EQ(t, c[0].FDR, 0.0)
	expect.EQ(t, c[1].FDR, 0.0)
	expect.EQ(t, c[2].FDR, 0.0)
	assert.InDelta(t, 0.25, c[3].FDR, 1e-12)
	_, err = cluster.EmpiricalFDR(g, res, cluster.Mixed, cluster.DefaultOpts)
	assert.Error(t, err)
}

func isMonotone(t *testing.T, p, adj []float64) {
	idx := make([]int, 0, len(p))
	for i := range p {
		if !math.IsNaN(p[i]) {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	for k := 1; k < len(idx); k++ {
		assert.True(t, adj[idx[k]] >= adj[idx[k-1]])
	}
	for _, i := range idx {
		assert.True(t, adj[i] >= p[i] && adj[i] <= 1)
	}
}

func TestAdjust(t *testing.T) {
	p := []float64{0.01, 0.04, math.NaN(), 0.03, 0.2}
	bh := cluster.AdjustBH(p)
	assert.InDelta(t, 0.04, bh[0], 1e-12)
	assert.InDelta(t, 0.04*4/3, bh[1], 1e-12)
	assert.InDelta(t, 0.04*4/3, bh[3], 1e-12)
	assert.InDelta(t, 0.2, bh[4], 1e-12)
	expect.True(t, math.IsNaN(bh[2]))
	holm := cluster.AdjustHolm(p)
	assert.InDelta(t, 0.04, holm[0], 1e-12)
	assert.InDelta(t, 0.09, holm[3], 1e-12)
	assert.InDelta(t, 0.09, holm[1], 1e-12)
	assert.InDelta(t, 0.2, holm[4], 1e-12)

	r := rand.New(rand.NewSource(2))
	for trial := 0; trial < 20; trial++ {
		p := make([]float64, 100)
		for i := range p {
			p[i] = math.Pow(r.Float64(), 3)
		}
		isMonotone(t, p, cluster.AdjustBH(p))
		isMonotone(t, p, cluster.AdjustHolm(p))
	}
}

// Large uniform p-values sit right at the 1-ulp edge of p*m/k.
func TestAdjustBHNeverBelowRaw(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for trial := 0; trial < 200; trial++ {
		p := make([]float64, 100)
		for i := range p {
			p[i] = r.Float64()
		}
		bh := cluster.AdjustBH(p)
		for i := range p {
			if bh[i] < p[i] {
				t.Fatalf("trial %d: adjusted %.17g < raw %.17g", trial, bh[i], p[i])
			}
		}
	}
	p := []float64{0.5, 0.99660183126182922}
	bh := cluster.AdjustBH(p)
	expect.EQ(t, bh[1], p[1])
}

// Combined p-values lie in [0, 1] and never beat the smallest window
// p-value.
func TestCombinedBounds(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	res := make([]glm.Result, 300)
	for i := range res {
		res[i] = glm.Result{PValue: r.Float64(), LogFC: r.NormFloat64(), LogCPM: r.Float64()}
	}
	var g cluster.Groups
	for i := 0; i < len(res); {
		n := 1 + r.Intn(8)
		if i+n > len(res) {
			n = len(res) - i
		}
		var members []int
		for k := i; k < i+n; k++ {
			members = append(members, k)
		}
		g = append(g, members)
		i += n
	}
	weights, err := cluster.UpweightSummit(g, func() []float64 {
		ab := make([]float64, len(res))
		for i := range res {
			ab[i] = res[i].LogCPM
		}
		return ab
	}())
	require.NoError(t, err)
	for _, w := range [][]float64{nil, weights} {
		opts := cluster.DefaultOpts
		opts.Weights = w
		for _, f := range []func() ([]cluster.Combined, error){
			func() ([]cluster.Combined, error) { return cluster.CombineTests(g, res, opts) },
			func() ([]cluster.Combined, error) { return cluster.GetBestTest(g, res, true, opts) },
			func() ([]cluster.Combined, error) { return cluster.MinimalTests(g, res, 2, 0.3, opts) },
		} {
			c, err := f()
			require.NoError(t, err)
			for k, members := range g {
				minP := 1.0
				for _, i := range members {
					minP = math.Min(minP, res[i].PValue)
				}
				assert.True(t, c[k].PValue >= minP-1e-15 && c[k].PValue <= 1, "cluster %d: %v < %v", k, c[k].PValue, minP)
			}
		}
	}
}

func TestWriteTSV(t *testing.T) {
	var buf bytes.Buffer
	regions := []interval.Entry{win("chr1", 0, 110)}
	combined := []cluster.Combined{{NWindows: 3, NUp: 2, PValue: 0.5, FDR: 0.5, Direction: cluster.Up, Best: 1, LogFC: 2}}
	require.NoError(t, cluster.WriteTSV(&buf, regions, combined))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "CHROM\tSTART\tEND\tNWINDOWS"))
	assert.True(t, strings.HasPrefix(lines[1], "chr1\t1\t110\t3\t2\t0\tup\t2\t"))
	assert.Error(t, cluster.WriteTSV(&buf, regions, nil))
}
