// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/grailbio/base/log"
	"github.com/grailbio/diffbind/cluster"
	"github.com/grailbio/diffbind/encoding/bamprovider"
	"github.com/grailbio/diffbind/filter"
	"github.com/grailbio/diffbind/glm"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/diffbind/matrix"
	"github.com/grailbio/diffbind/normalize"
	"github.com/grailbio/diffbind/util"
	"github.com/grailbio/diffbind/window"
	"github.com/grailbio/hts/sam"
)

// Result holds the outcome of an analysis.
type Result struct {
	// RunID identifies the analysis in logs and outputs.
	RunID string
	// Levels lists the groups in design order; Coef is the tested
	// coefficient.
	Levels []string
	Coef   string
	// Windows holds every counted window; Filter the filter outcome on them.
	Windows *matrix.Counts
	Filter  filter.Result
	// Counts holds the filtered, normalized windows that were tested, and
	// Tests their results, row for row.
	Counts *matrix.Counts
	Tests  []glm.Result
	// Diagnostics is set for QL tests.
	Diagnostics glm.Diagnostics
	// Regions and Combined hold the aggregated clusters.
	Regions  []interval.Entry
	Groups   cluster.Groups
	Combined []cluster.Combined
}

// run holds the state of one analysis, with auxiliary counts computed on
// first use.
type run struct {
	opts        Opts
	chip        []bamprovider.Provider
	control     []bamprovider.Provider
	chipWin     window.Opts
	ctrlWin     window.Opts
	header      *sam.Header
	windows     *matrix.Counts
	bins        *matrix.Counts
	controlBins *matrix.Counts
}

// splitExt gives the ChIP and control samples their own window options.  A
// per-sample Ext list is in sample sheet order.
func (r *run) splitExt(samples []Sample) {
	r.chipWin, r.ctrlWin = r.opts.Window, r.opts.Window
	ext := r.opts.Window.Ext
	if len(ext) <= 1 || len(ext) != len(samples) {
		return
	}
	r.chipWin.Ext, r.ctrlWin.Ext = nil, nil
	for i, s := range samples {
		if s.Role == RoleControl {
			r.ctrlWin.Ext = append(r.ctrlWin.Ext, ext[i])
		} else {
			r.chipWin.Ext = append(r.chipWin.Ext, ext[i])
		}
	}
}

func (r *run) binOpts(control bool) window.Opts {
	o := r.chipWin
	if control {
		o = r.ctrlWin
	}
	o.Bin = true
	o.Width = r.opts.BinWidth
	return o
}

func (r *run) chipBins(ctx context.Context) (*matrix.Counts, error) {
	if r.bins == nil {
		var err error
		if r.bins, err = window.WindowCounts(ctx, r.chip, r.binOpts(false)); err != nil {
			return nil, err
		}
	}
	return r.bins, nil
}

func (r *run) ctrlBins(ctx context.Context) (*matrix.Counts, error) {
	if r.controlBins == nil {
		var err error
		if r.controlBins, err = window.WindowCounts(ctx, r.control, r.binOpts(true)); err != nil {
			return nil, err
		}
	}
	return r.controlBins, nil
}

func (r *run) chrLens() map[string]int {
	lens := make(map[string]int)
	for _, ref := range r.header.Refs() {
		lens[ref.Name()] = ref.Len()
	}
	return lens
}

// filterStrategy builds the filter variant named by the options.
func (r *run) filterStrategy(ctx context.Context) (filter.Strategy, error) {
	o := r.opts
	switch o.Filter {
	case FilterAbundance:
		return filter.Abundance{MinLogCPM: o.FilterThreshold}, nil
	case FilterCount:
		return filter.Count{MinCount: int64(math.Ceil(o.FilterThreshold))}, nil
	case FilterProportion:
		genome := o.GenomeLength
		if genome == 0 {
			var err error
			if genome, err = o.Window.Params.GenomeLength(r.header); err != nil {
				return nil, err
			}
		}
		return filter.Proportion{Prop: o.FilterThreshold, GenomeLength: genome}, nil
	case FilterGlobal:
		bins, err := r.chipBins(ctx)
		if err != nil {
			return nil, err
		}
		return filter.GlobalBackground{Bins: bins, MinFC: o.FilterThreshold}, nil
	case FilterLocal:
		regions := filter.NeighborRegions(r.windows.Rows, o.NeighborFlank, r.chrLens())
		neighbor, err := window.RegionCounts(ctx, r.chip, regions, r.chipWin)
		if err != nil {
			return nil, err
		}
		return filter.LocalBackground{Neighbor: neighbor, MinFC: o.FilterThreshold}, nil
	case FilterControl:
		if len(r.control) == 0 {
			return nil, fmt.Errorf("analysis: the control filter needs control samples")
		}
		ctrl, err := window.RegionCounts(ctx, r.control, r.windows.Rows, r.ctrlWin)
		if err != nil {
			return nil, err
		}
		bins, err := r.chipBins(ctx)
		if err != nil {
			return nil, err
		}
		ctrlBins, err := r.ctrlBins(ctx)
		if err != nil {
			return nil, err
		}
		return filter.Control{Control: ctrl, Bins: bins, ControlBins: ctrlBins, MinFC: o.FilterThreshold}, nil
	case FilterAnnotation:
		entries, err := interval.ReadBEDFromPath(ctx, o.AnnotationPath, interval.BEDOpts{})
		if err != nil {
			return nil, err
		}
		idx, err := interval.NewIndex(entries)
		if err != nil {
			return nil, err
		}
		return filter.Annotation{Regions: idx, MinOverlaps: int(o.FilterThreshold)}, nil
	}
	return nil, checkName("filter", o.Filter, filterNames)
}

// normMethod builds the normalization variant named by the options.
func (r *run) normMethod(ctx context.Context) (normalize.Method, error) {
	o := r.opts
	switch o.Norm {
	case NormNone:
		return normalize.None{}, nil
	case NormComposition:
		bins, err := r.chipBins(ctx)
		if err != nil {
			return nil, err
		}
		return normalize.Composition{Bins: bins}, nil
	case NormEfficiency:
		bins, err := r.chipBins(ctx)
		if err != nil {
			return nil, err
		}
		ab := glm.AveLogCPM(bins, glm.DefaultPriorCount, glm.DefaultAbundanceDisp)
		minLogCPM := util.Median(ab) + math.Log2(o.EfficiencyMinFC)
		return normalize.Efficiency{Bins: bins, MinLogCPM: minLogCPM}, nil
	case NormLoess:
		return normalize.Loess{Span: o.LoessSpan}, nil
	case NormSpikeIn:
		spikeOpts := r.binOpts(false)
		spikeOpts.Params.Restrict = o.SpikeChroms
		spike, err := window.WindowCounts(ctx, r.chip, spikeOpts)
		if err != nil {
			return nil, err
		}
		return normalize.SpikeIn{Spike: spike}, nil
	}
	return nil, checkName("normalization", o.Norm, normNames)
}

// combine aggregates the window tests with the named method.
func combine(o Opts, g cluster.Groups, tests []glm.Result) ([]cluster.Combined, error) {
	copts := cluster.DefaultOpts
	if o.Summit {
		ab := make([]float64, len(tests))
		for i, t := range tests {
			ab[i] = t.LogCPM
		}
		w, err := cluster.UpweightSummit(g, ab)
		if err != nil {
			return nil, err
		}
		copts.Weights = w
	}
	switch o.Combine {
	case CombineSimes:
		return cluster.CombineTests(g, tests, copts)
	case CombineBest:
		return cluster.GetBestTest(g, tests, true, copts)
	case CombineBestAbundance:
		return cluster.GetBestTest(g, tests, false, copts)
	case CombineMixed:
		return cluster.MixedTests(g, tests, copts)
	case CombineMinimal:
		return cluster.MinimalTests(g, tests, o.MinWindows, o.MinProp, copts)
	case CombineEmpirical:
		return cluster.EmpiricalFDR(g, tests, cluster.Down, copts)
	}
	return nil, checkName("combination", o.Combine, combineNames)
}

// design builds the one-way design of the ChIP samples and the contrast for
// opts.Coef.
func design(samples []Sample, coef string) (glm.Design, []string, string, []float64, error) {
	groups := make([]string, len(samples))
	for i, s := range samples {
		groups[i] = s.Group
	}
	d, levels, err := glm.OneWayDesign(groups)
	if err != nil {
		return glm.Design{}, nil, "", nil, err
	}
	k := 1
	if coef != "" {
		k = -1
		for i, name := range d.Coefs {
			if name == coef {
				k = i
			}
		}
		if k < 1 {
			return glm.Design{}, nil, "", nil, fmt.Errorf("analysis: coefficient %q not in %v", coef, d.Coefs[1:])
		}
	}
	return d, levels, d.Coefs[k], d.CoefContrast(k), nil
}

// Analyze runs the analysis on samples, reading sample i from providers[i].
func Analyze(ctx context.Context, samples []Sample, providers []bamprovider.Provider, opts Opts) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(samples) != len(providers) {
		return nil, fmt.Errorf("analysis: %d samples, %d inputs", len(samples), len(providers))
	}
	res := &Result{RunID: uuid.New().String()}
	r := &run{opts: opts}
	var chipSamples []Sample
	for i, s := range samples {
		if s.Role == RoleControl {
			r.control = append(r.control, providers[i])
			continue
		}
		chipSamples = append(chipSamples, s)
		r.chip = append(r.chip, providers[i])
	}
	r.splitExt(samples)
	d, levels, coef, contrast, err := design(chipSamples, opts.Coef)
	if err != nil {
		return nil, err
	}
	res.Levels, res.Coef = levels, coef
	log.Printf("analysis %s: %d ChIP and %d control samples, testing %s", res.RunID, len(r.chip), len(r.control), coef)
	if r.header, err = bamprovider.CheckHeadersMatch(providers); err != nil {
		return nil, err
	}

	if r.windows, err = window.WindowCounts(ctx, r.chip, r.chipWin); err != nil {
		return nil, err
	}
	if r.windows.NumRows() == 0 {
		return nil, fmt.Errorf("analysis %s: no windows reach the count threshold", res.RunID)
	}
	res.Windows = r.windows

	strategy, err := r.filterStrategy(ctx)
	if err != nil {
		return nil, err
	}
	filtered, fres, err := filter.Apply(r.windows, strategy)
	if err != nil {
		return nil, err
	}
	res.Filter = fres
	if filtered.NumRows() == 0 {
		return nil, fmt.Errorf("analysis %s: the %s filter kept no windows", res.RunID, strategy.Name())
	}

	method, err := r.normMethod(ctx)
	if err != nil {
		return nil, err
	}
	if res.Counts, err = normalize.Normalize(filtered, method); err != nil {
		return nil, err
	}

	switch opts.Test {
	case TestQL:
		qlOpts := glm.DefaultQLOpts
		qlOpts.Squeeze.Robust = opts.Robust
		fit, err := glm.QLFit(ctx, res.Counts, d, qlOpts)
		if err != nil {
			return nil, err
		}
		res.Diagnostics = fit.Diagnostics
		if res.Tests, err = glm.QLFTest(fit, contrast); err != nil {
			return nil, err
		}
	case TestLRT:
		log.Error.Printf("analysis %s: LRT with fixed dispersion %v; results are less reliable than a QL test",
			res.RunID, opts.Dispersion)
		if res.Tests, err = glm.LRT(ctx, res.Counts, d, opts.Dispersion, contrast); err != nil {
			return nil, err
		}
	}

	if opts.RegionsPath != "" {
		if res.Regions, err = interval.ReadBEDFromPath(ctx, opts.RegionsPath, interval.BEDOpts{}); err != nil {
			return nil, err
		}
		if res.Groups, err = cluster.FindOverlaps(res.Regions, res.Counts.Rows); err != nil {
			return nil, err
		}
	} else {
		merged, err := cluster.MergeWindows(res.Counts.Rows, opts.MergeTol, opts.MaxWidth)
		if err != nil {
			return nil, err
		}
		res.Regions, res.Groups = merged.Regions, merged.Groups()
	}
	if res.Combined, err = combine(opts, res.Groups, res.Tests); err != nil {
		return nil, err
	}
	nSig := 0
	for _, c := range res.Combined {
		if c.FDR <= 0.05 {
			nSig++
		}
	}
	log.Printf("analysis %s: %d windows tested, %d of %d regions at FDR <= 0.05",
		res.RunID, len(res.Tests), nSig, len(res.Combined))
	return res, nil
}
