// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

/*
bio-diffbind tests sliding ChIP-seq windows for differential binding between
the groups of a sample sheet, and aggregates the window results into regions.
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/diffbind/analysis"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/diffbind/window"
)

var (
	width       = flag.Int("width", analysis.DefaultOpts.Window.Width, "Window width")
	spacing     = flag.Int("spacing", analysis.DefaultOpts.Window.Spacing, "Distance between window starts")
	shift       = flag.Int("shift", analysis.DefaultOpts.Window.Shift, "Shift windows left by this many bases")
	ext         = flag.String("ext", "100", "Single-end fragment length; one value, or a comma-separated value per sample in sample sheet order. 'auto' estimates it by cross-correlation")
	rescaleTo   = flag.Int("rescale-to", analysis.DefaultOpts.Window.RescaleTo, "If > 0, rescale every fragment to this length")
	minCount    = flag.Int("min-count", analysis.DefaultOpts.Window.Filter, "Drop windows whose total count is below this while counting")
	minMapQ     = flag.Int("mapq", analysis.DefaultOpts.Window.Params.MinMapQ, "Minimum mapping quality")
	dedup       = flag.Bool("dedup", analysis.DefaultOpts.Window.Params.Dedup, "Skip reads marked as duplicates")
	pairedEnd   = flag.Bool("paired", analysis.DefaultOpts.Window.Params.PairedEnd, "Count paired-end fragments")
	maxFrag     = flag.Int("max-frag", analysis.DefaultOpts.Window.Params.MaxFragSize, "Maximum paired-end fragment size")
	restrict    = flag.String("restrict", "", "Comma-separated chromosomes to report windows on")
	discard     = flag.String("discard", "", "BED file of regions whose reads are discarded")
	binWidth    = flag.Int("bin-width", analysis.DefaultOpts.BinWidth, "Width of background bins")
	filterName  = flag.String("filter", analysis.DefaultOpts.Filter, "Filter: abundance, count, proportion, global, local, control or annotation")
	threshold   = flag.Float64("filter-threshold", analysis.DefaultOpts.FilterThreshold, "Filter threshold: log-CPM, count, proportion, fold change or number of regions")
	genomeLen   = flag.Int64("genome-length", analysis.DefaultOpts.GenomeLength, "Genome length for the proportion filter; 0 = reported chromosomes")
	flank       = flag.Int("neighbor-flank", analysis.DefaultOpts.NeighborFlank, "Background flank for the local filter")
	annotation  = flag.String("annotation", analysis.DefaultOpts.AnnotationPath, "BED file for the annotation filter")
	norm        = flag.String("norm", analysis.DefaultOpts.Norm, "Normalization: none, composition, efficiency, loess or spikein")
	effFC       = flag.Float64("efficiency-fc", analysis.DefaultOpts.EfficiencyMinFC, "Efficiency normalization uses bins this many times above the median")
	span        = flag.Float64("loess-span", analysis.DefaultOpts.LoessSpan, "Span of loess normalization")
	spike       = flag.String("spike-chroms", "", "Comma-separated spike-in chromosomes")
	test        = flag.String("test", analysis.DefaultOpts.Test, "Test: ql, or lrt when there are no replicates")
	disp        = flag.Float64("dispersion", analysis.DefaultOpts.Dispersion, "Fixed dispersion of the LRT")
	robust      = flag.Bool("robust", analysis.DefaultOpts.Robust, "Robust empirical Bayes squeezing of QL dispersions")
	coef        = flag.String("coef", analysis.DefaultOpts.Coef, "Design coefficient to test, e.g. groupB; default is the second group against the first")
	combineName = flag.String("combine", analysis.DefaultOpts.Combine, "Region test: simes, best, best-abundance, mixed, minimal or empirical")
	mergeTol    = flag.Int("merge-tol", analysis.DefaultOpts.MergeTol, "Merge windows separated by at most this many bases")
	maxWidth    = flag.Int("max-width", analysis.DefaultOpts.MaxWidth, "Split merged regions wider than this; 0 = no limit")
	regions     = flag.String("regions", analysis.DefaultOpts.RegionsPath, "BED file of regions to aggregate windows into, instead of merging")
	summit      = flag.Bool("summit", analysis.DefaultOpts.Summit, "Up-weight the most abundant window of each region")
	minWindows  = flag.Int("min-windows", analysis.DefaultOpts.MinWindows, "Minimal test: minimum number of significant windows")
	minProp     = flag.Float64("min-prop", analysis.DefaultOpts.MinProp, "Minimal test: minimum proportion of significant windows")
	outPrefix   = flag.String("out", "diffbind", "Output path prefix")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] samplesheet.tsv\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "The sample sheet has columns SAMPLE, GROUP, ROLE (chip or control) and BAM.\n")
	flag.PrintDefaults()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// fragmentLengths parses -ext.  "auto" estimates one length per sample.
func fragmentLengths(ctx context.Context, sheet string, params window.ReadParams) ([]int, error) {
	if *ext != "auto" {
		var out []int
		for _, s := range splitList(*ext) {
			v, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("-ext %q: %v", *ext, err)
			}
			out = append(out, v)
		}
		return out, nil
	}
	samples, err := analysis.ReadSampleSheetFromPath(ctx, sheet)
	if err != nil {
		return nil, err
	}
	var out []int
	for i, p := range analysis.OpenProviders(samples) {
		ccf, err := window.CorrelateReads(ctx, p, 500, params)
		if cerr := p.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, err
		}
		frag := window.MaximizeCCF(ccf, 50)
		if frag < 0 {
			return nil, fmt.Errorf("%s: no cross-correlation peak", samples[i].Name)
		}
		log.Printf("%s: estimated fragment length %d", samples[i].Name, frag)
		out = append(out, frag)
	}
	return out, nil
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("Expected exactly one positional argument (the sample sheet); please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	sheet := flag.Arg(0)
	ctx := vcontext.Background()

	opts := analysis.DefaultOpts
	opts.Window.Width = *width
	opts.Window.Spacing = *spacing
	opts.Window.Shift = *shift
	opts.Window.RescaleTo = *rescaleTo
	opts.Window.Filter = *minCount
	opts.Window.Params.MinMapQ = *minMapQ
	opts.Window.Params.Dedup = *dedup
	opts.Window.Params.PairedEnd = *pairedEnd
	opts.Window.Params.MaxFragSize = *maxFrag
	opts.Window.Params.Restrict = splitList(*restrict)
	if *discard != "" {
		u, err := interval.NewBEDUnionFromPath(ctx, *discard, interval.BEDOpts{})
		if err != nil {
			log.Fatalf("-discard %s: %v", *discard, err)
		}
		log.Printf("discarding reads within %d bases listed in %s", u.TotalBases(), *discard)
		opts.Window.Params.Discard = u
	}
	if !*pairedEnd {
		lens, err := fragmentLengths(ctx, sheet, opts.Window.Params)
		if err != nil {
			log.Fatalf("%v", err)
		}
		opts.Window.Ext = lens
	}
	opts.BinWidth = *binWidth
	opts.Filter = *filterName
	opts.FilterThreshold = *threshold
	opts.GenomeLength = *genomeLen
	opts.NeighborFlank = *flank
	opts.AnnotationPath = *annotation
	opts.Norm = *norm
	opts.EfficiencyMinFC = *effFC
	opts.LoessSpan = *span
	opts.SpikeChroms = splitList(*spike)
	opts.Test = *test
	opts.Dispersion = *disp
	opts.Robust = *robust
	opts.Coef = *coef
	opts.Combine = *combineName
	opts.MergeTol = *mergeTol
	opts.MaxWidth = *maxWidth
	opts.RegionsPath = *regions
	opts.Summit = *summit
	opts.MinWindows = *minWindows
	opts.MinProp = *minProp

	if err := analysis.Run(ctx, sheet, *outPrefix, opts); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("exiting")
}
