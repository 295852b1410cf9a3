// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package matrix holds the window-by-sample count matrix shared by every stage
// of a differential binding analysis.
package matrix

import (
	"fmt"
	"math"

	"github.com/grailbio/diffbind/interval"
)

// Counts is a matrix of fragment counts.  Rows are genomic intervals in
// genomic order; columns are samples in input order.  A Counts value is
// treated as immutable once built: every transformation returns a new value
// that may share storage with its input.
type Counts struct {
	// Rows lists the interval counted by each row.
	Rows []interval.Entry
	// Samples names the columns.
	Samples []string
	// Counts[i][j] is the number of fragments from sample j overlapping Rows[i].
	Counts [][]int32
	// LibSizes[j] is the number of fragments in sample j that passed the read
	// filters, whether or not they overlap any row.
	LibSizes []int64
	// NormFactors scales LibSizes.  nil means all ones.
	NormFactors []float64
	// Offsets, when set, holds natural-log offsets indexed [row][sample] that
	// replace log(LibSizes*NormFactors) in model fits.
	Offsets [][]float64

	// ParamsFingerprint identifies the read parameters used for counting.
	// Matrices with different fingerprints have incomparable LibSizes.
	ParamsFingerprint uint64
	// Width and Spacing describe the window geometry.  Both are zero for
	// matrices counted over arbitrary regions.
	Width, Spacing int
	// Ext lists the per-sample fragment extension used when counting.
	Ext []int
}

// NumRows returns the number of intervals.
func (c *Counts) NumRows() int { return len(c.Rows) }

// NumSamples returns the number of samples.
func (c *Counts) NumSamples() int { return len(c.Samples) }

// Validate checks that the matrix dimensions agree.
func (c *Counts) Validate() error {
	nSample := len(c.Samples)
	if len(c.Counts) != len(c.Rows) {
		return fmt.Errorf("matrix: %d count rows, %d intervals", len(c.Counts), len(c.Rows))
	}
	if len(c.LibSizes) != nSample {
		return fmt.Errorf("matrix: %d library sizes, %d samples", len(c.LibSizes), nSample)
	}
	if c.NormFactors != nil && len(c.NormFactors) != nSample {
		return fmt.Errorf("matrix: %d normalization factors, %d samples", len(c.NormFactors), nSample)
	}
	for i, row := range c.Counts {
		if len(row) != nSample {
			return fmt.Errorf("matrix: row %d (%v) has %d columns, want %d", i, c.Rows[i], len(row), nSample)
		}
	}
	if c.Offsets != nil {
		if len(c.Offsets) != len(c.Rows) {
			return fmt.Errorf("matrix: %d offset rows, %d intervals", len(c.Offsets), len(c.Rows))
		}
		for i, row := range c.Offsets {
			if len(row) != nSample {
				return fmt.Errorf("matrix: offset row %d has %d columns, want %d", i, len(row), nSample)
			}
		}
	}
	return nil
}

// RowSums returns the total count of each row across samples.
func (c *Counts) RowSums() []int64 {
	sums := make([]int64, len(c.Counts))
	for i, row := range c.Counts {
		for _, v := range row {
			sums[i] += int64(v)
		}
	}
	return sums
}

// Column returns the counts of sample j as float64s.
func (c *Counts) Column(j int) []float64 {
	col := make([]float64, len(c.Counts))
	for i, row := range c.Counts {
		col[i] = float64(row[j])
	}
	return col
}

// Row returns the counts of row i as float64s.
func (c *Counts) Row(i int) []float64 {
	row := make([]float64, len(c.Counts[i]))
	for j, v := range c.Counts[i] {
		row[j] = float64(v)
	}
	return row
}

// EffectiveLibSizes returns LibSizes scaled by NormFactors.
func (c *Counts) EffectiveLibSizes() []float64 {
	eff := make([]float64, len(c.LibSizes))
	for j, n := range c.LibSizes {
		eff[j] = float64(n)
		if c.NormFactors != nil {
			eff[j] *= c.NormFactors[j]
		}
	}
	return eff
}

// LogOffsets returns the natural-log offset of every cell: Offsets when set,
// otherwise the log effective library size of each sample.
func (c *Counts) LogOffsets() [][]float64 {
	if c.Offsets != nil {
		return c.Offsets
	}
	eff := c.EffectiveLibSizes()
	logEff := make([]float64, len(eff))
	for j, v := range eff {
		logEff[j] = math.Log(v)
	}
	out := make([][]float64, len(c.Rows))
	for i := range out {
		out[i] = logEff
	}
	return out
}

// shallowCopy returns a copy of c that shares all slices.
func (c *Counts) shallowCopy() *Counts {
	out := *c
	return &out
}

// WithNormFactors returns a copy of c with the given normalization factors.
// Any offsets are dropped, since they were computed from the old library
// sizes.
func (c *Counts) WithNormFactors(factors []float64) (*Counts, error) {
	if len(factors) != len(c.Samples) {
		return nil, fmt.Errorf("matrix.WithNormFactors: %d factors, %d samples", len(factors), len(c.Samples))
	}
	for j, f := range factors {
		if !(f > 0) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("matrix.WithNormFactors: invalid factor %v for %s", f, c.Samples[j])
		}
	}
	out := c.shallowCopy()
	out.NormFactors = append([]float64(nil), factors...)
	out.Offsets = nil
	return out, nil
}

// WithOffsets returns a copy of c with the given per-cell log offsets.
func (c *Counts) WithOffsets(offsets [][]float64) (*Counts, error) {
	out := c.shallowCopy()
	out.Offsets = offsets
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Subset returns the rows i with keep[i] set, in their original order.
func (c *Counts) Subset(keep []bool) (*Counts, error) {
	if len(keep) != len(c.Rows) {
		return nil, fmt.Errorf("matrix.Subset: %d flags, %d rows", len(keep), len(c.Rows))
	}
	out := c.shallowCopy()
	out.Rows = nil
	out.Counts = nil
	if c.Offsets != nil {
		out.Offsets = nil
	}
	for i, k := range keep {
		if !k {
			continue
		}
		out.Rows = append(out.Rows, c.Rows[i])
		out.Counts = append(out.Counts, c.Counts[i])
		if c.Offsets != nil {
			out.Offsets = append(out.Offsets, c.Offsets[i])
		}
	}
	return out, nil
}

// SameLibraries reports whether c and o were counted from the same libraries
// under the same read parameters: equal fingerprints and equal LibSizes.
func (c *Counts) SameLibraries(o *Counts) bool {
	if c.ParamsFingerprint != o.ParamsFingerprint || len(c.LibSizes) != len(o.LibSizes) {
		return false
	}
	for j, n := range c.LibSizes {
		if o.LibSizes[j] != n {
			return false
		}
	}
	return true
}

// CBind concatenates the columns of parts, which must share the same rows and
// read parameters.  It is the reduction step for per-sample counting.
func CBind(parts ...*Counts) (*Counts, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("matrix.CBind: no inputs")
	}
	first := parts[0]
	out := &Counts{
		Rows:              first.Rows,
		Counts:            make([][]int32, len(first.Rows)),
		ParamsFingerprint: first.ParamsFingerprint,
		Width:             first.Width,
		Spacing:           first.Spacing,
	}
	hasFactors := false
	for _, p := range parts {
		if p.NormFactors != nil {
			hasFactors = true
		}
		if p.Offsets != nil {
			return nil, fmt.Errorf("matrix.CBind: cannot combine matrices with offsets")
		}
	}
	for pi, p := range parts {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if p.ParamsFingerprint != first.ParamsFingerprint {
			return nil, fmt.Errorf("matrix.CBind: part %d was counted with different read parameters (%x vs %x)",
				pi, p.ParamsFingerprint, first.ParamsFingerprint)
		}
		if p.Width != first.Width || p.Spacing != first.Spacing {
			return nil, fmt.Errorf("matrix.CBind: part %d has window geometry %d/%d, want %d/%d",
				pi, p.Width, p.Spacing, first.Width, first.Spacing)
		}
		if len(p.Rows) != len(first.Rows) {
			return nil, fmt.Errorf("matrix.CBind: part %d has %d rows, want %d", pi, len(p.Rows), len(first.Rows))
		}
		for i, r := range p.Rows {
			if r.ChrName != first.Rows[i].ChrName || r.Start0 != first.Rows[i].Start0 || r.End != first.Rows[i].End {
				return nil, fmt.Errorf("matrix.CBind: part %d row %d is %v, want %v", pi, i, r, first.Rows[i])
			}
		}
		out.Samples = append(out.Samples, p.Samples...)
		out.LibSizes = append(out.LibSizes, p.LibSizes...)
		out.Ext = append(out.Ext, p.Ext...)
		for j := range p.Samples {
			f := 1.0
			if p.NormFactors != nil {
				f = p.NormFactors[j]
			}
			if hasFactors {
				out.NormFactors = append(out.NormFactors, f)
			}
		}
	}
	nSample := len(out.Samples)
	for i := range out.Counts {
		row := make([]int32, 0, nSample)
		for _, p := range parts {
			row = append(row, p.Counts[i]...)
		}
		out.Counts[i] = row
	}
	return out, nil
}
