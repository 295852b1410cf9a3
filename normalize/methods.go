// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package normalize

import (
	"fmt"
	"math"

	"github.com/grailbio/base/log"
	"github.com/grailbio/diffbind/glm"
	"github.com/grailbio/diffbind/matrix"
)

// Method is a normalization strategy.  The implementations are alternative
// modeling assumptions; an analysis applies exactly one of them.
type Method interface {
	// Name returns the short name of the method.
	Name() string
	method()
}

// None leaves library sizes untouched.
type None struct{}

// Composition removes composition bias with TMM over large genomic bins,
// assuming most of the genome is not differentially bound.
type Composition struct {
	// Bins holds bin counts from the same libraries as the windows.
	Bins *matrix.Counts
	TMM  TMMOpts
}

// Efficiency removes efficiency bias with TMM over high-abundance bins,
// assuming most bound regions are not differentially bound.
type Efficiency struct {
	// Bins holds bin counts from the same libraries as the windows.  When nil,
	// the windows being normalized are used instead.
	Bins *matrix.Counts
	// MinLogCPM is the abundance a bin needs to take part.
	MinLogCPM float64
	TMM       TMMOpts
}

// Loess removes abundance-dependent (trended) bias by giving every window
// and sample its own offset.
type Loess struct {
	// Span is the lowess span.  Zero means DefaultLoessSpan.
	Span float64
	// PriorCount is added before taking log-CPMs.  Zero means 0.5.
	PriorCount float64
}

// SpikeIn computes TMM factors on counts over a spiked-in reference genome
// and transplants them onto the windows.
type SpikeIn struct {
	// Spike holds the spike-in counts, taken from the same files with the same
	// read parameters as the windows.
	Spike *matrix.Counts
	TMM   TMMOpts
}

// DefaultLoessSpan is the span used by Loess when none is given.
const DefaultLoessSpan = 0.3

func (None) Name() string        { return "none" }
func (Composition) Name() string { return "composition" }
func (Efficiency) Name() string  { return "efficiency" }
func (Loess) Name() string       { return "loess" }
func (SpikeIn) Name() string     { return "spikein" }

func (None) method()        {}
func (Composition) method() {}
func (Efficiency) method()  {}
func (Loess) method()       {}
func (SpikeIn) method()     {}

func tmmOpts(o TMMOpts) TMMOpts {
	if o == (TMMOpts{}) {
		return DefaultTMMOpts
	}
	return o
}

// checkLibraries verifies that aux was counted from the same libraries as c,
// which is what makes its factors transferable.
func checkLibraries(c, aux *matrix.Counts, what string) error {
	if aux == nil {
		return fmt.Errorf("normalize: no %s counts given", what)
	}
	if aux.ParamsFingerprint != c.ParamsFingerprint {
		return fmt.Errorf("normalize: %s counts used different read parameters (%x vs %x)",
			what, aux.ParamsFingerprint, c.ParamsFingerprint)
	}
	if !c.SameLibraries(aux) {
		return fmt.Errorf("normalize: %s library sizes %v differ from window library sizes %v",
			what, aux.LibSizes, c.LibSizes)
	}
	return nil
}

// Normalize applies m to c.  Scaling methods return a copy with NormFactors
// set; Loess returns a copy with Offsets set.
func Normalize(c *matrix.Counts, m Method) (*matrix.Counts, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch m := m.(type) {
	case None:
		return c, nil
	case Composition:
		if err := checkLibraries(c, m.Bins, "bin"); err != nil {
			return nil, err
		}
		return transplant(c, m.Bins, tmmOpts(m.TMM), m.Name())
	case Efficiency:
		src := c
		if m.Bins != nil {
			if err := checkLibraries(c, m.Bins, "bin"); err != nil {
				return nil, err
			}
			src = m.Bins
		}
		high, err := highAbundance(src, m.MinLogCPM)
		if err != nil {
			return nil, err
		}
		return transplant(c, high, tmmOpts(m.TMM), m.Name())
	case SpikeIn:
		if err := checkLibraries(c, m.Spike, "spike-in"); err != nil {
			return nil, err
		}
		return transplant(c, m.Spike, tmmOpts(m.TMM), m.Name())
	case Loess:
		offsets, err := loessOffsets(c, m)
		if err != nil {
			return nil, err
		}
		return c.WithOffsets(offsets)
	}
	return nil, fmt.Errorf("normalize: unknown method %T", m)
}

func transplant(c, src *matrix.Counts, opts TMMOpts, name string) (*matrix.Counts, error) {
	factors, err := CalcNormFactors(src, opts)
	if err != nil {
		return nil, err
	}
	for j, f := range factors {
		log.Printf("normalize(%s): %s factor %.4f", name, c.Samples[j], f)
	}
	return c.WithNormFactors(factors)
}

// rawLibraries returns a view of c that ignores any earlier normalization.
func rawLibraries(c *matrix.Counts) *matrix.Counts {
	raw := *c
	raw.NormFactors = nil
	raw.Offsets = nil
	return &raw
}

func highAbundance(c *matrix.Counts, minLogCPM float64) (*matrix.Counts, error) {
	ab := glm.AveLogCPM(rawLibraries(c), glm.DefaultPriorCount, glm.DefaultAbundanceDisp)
	keep := make([]bool, len(ab))
	n := 0
	for i, a := range ab {
		if a >= minLogCPM {
			keep[i] = true
			n++
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("normalize: no bins with abundance >= %v log-CPM", minLogCPM)
	}
	log.Debug.Printf("normalize(efficiency): %d of %d bins above %v log-CPM", n, len(ab), minLogCPM)
	return c.Subset(keep)
}

// loessOffsets fits, for every sample, a lowess curve of its log-CPM minus
// the average log-CPM against the average log-CPM.  The fitted curves are
// centred across samples within each row and added to the log library
// sizes.
func loessOffsets(c *matrix.Counts, m Loess) ([][]float64, error) {
	span := m.Span
	if span == 0 {
		span = DefaultLoessSpan
	}
	if span <= 0 || span > 1 {
		return nil, fmt.Errorf("normalize: loess span %v outside (0, 1]", span)
	}
	prior := m.PriorCount
	if prior == 0 {
		prior = 0.5
	}
	nRow, nSample := c.NumRows(), c.NumSamples()
	if nRow < 2 {
		return nil, fmt.Errorf("normalize: loess needs at least two rows, got %d", nRow)
	}
	base := glm.AveLogCPM(rawLibraries(c), prior, glm.DefaultAbundanceDisp)
	lowessOpts := glm.DefaultLowessOpts
	lowessOpts.Span = span
	offsets := make([][]float64, nRow)
	for i := range offsets {
		offsets[i] = make([]float64, nSample)
	}
	diff := make([]float64, nRow)
	for j := 0; j < nSample; j++ {
		lib := float64(c.LibSizes[j])
		if lib <= 0 {
			return nil, fmt.Errorf("normalize: empty library %s", c.Samples[j])
		}
		for i, row := range c.Counts {
			cur := math.Log2((float64(row[j]) + prior) / (lib + 2*prior) * 1e6)
			diff[i] = cur - base[i]
		}
		fit := glm.Lowess(base, diff, lowessOpts)
		for i := range offsets {
			offsets[i][j] = fit[i] * math.Ln2
		}
	}
	for i, row := range offsets {
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(nSample)
		for j := range row {
			offsets[i][j] = row[j] - mean + math.Log(float64(c.LibSizes[j]))
		}
	}
	return offsets, nil
}
