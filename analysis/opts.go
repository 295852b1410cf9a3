// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package analysis runs a complete window-based differential binding
// analysis: counting, filtering, normalization, testing and aggregation into
// regions.
package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/diffbind/window"
)

// Filter strategy names.
const (
	FilterAbundance  = "abundance"
	FilterCount      = "count"
	FilterProportion = "proportion"
	FilterGlobal     = "global"
	FilterLocal      = "local"
	FilterControl    = "control"
	FilterAnnotation = "annotation"
)

// Normalization method names.
const (
	NormNone        = "none"
	NormComposition = "composition"
	NormEfficiency  = "efficiency"
	NormLoess       = "loess"
	NormSpikeIn     = "spikein"
)

// Test names.
const (
	TestQL  = "ql"
	TestLRT = "lrt"
)

// Combination names.
const (
	CombineSimes         = "simes"
	CombineBest          = "best"
	CombineBestAbundance = "best-abundance"
	CombineMixed         = "mixed"
	CombineMinimal       = "minimal"
	CombineEmpirical     = "empirical"
)

var (
	filterNames  = []string{FilterAbundance, FilterCount, FilterProportion, FilterGlobal, FilterLocal, FilterControl, FilterAnnotation}
	normNames    = []string{NormNone, NormComposition, NormEfficiency, NormLoess, NormSpikeIn}
	testNames    = []string{TestQL, TestLRT}
	combineNames = []string{CombineSimes, CombineBest, CombineBestAbundance, CombineMixed, CombineMinimal, CombineEmpirical}
)

// Opts configures an analysis.
type Opts struct {
	// Window configures window counting.  Window.Params applies to every
	// count taken during the analysis, so that library sizes agree.
	Window window.Opts
	// BinWidth is the width of the background bins used by the global and
	// control filters and by the composition, efficiency and spike-in
	// normalizations.
	BinWidth int

	// Filter names the filter strategy.  FilterThreshold is its threshold:
	// the minimum log-CPM (abundance), total count (count), proportion of
	// the genome (proportion), fold change (global, local, control) or number
	// of overlapping regions (annotation).
	Filter          string
	FilterThreshold float64
	// GenomeLength is used by the proportion filter.  Zero means the total
	// length of the reported chromosomes.
	GenomeLength int64
	// NeighborFlank is the distance on each side of a window that the local
	// filter treats as background.
	NeighborFlank int
	// AnnotationPath is the BED file used by the annotation filter.
	AnnotationPath string

	// Norm names the normalization method.
	Norm string
	// EfficiencyMinFC selects the bins used by efficiency normalization:
	// those at least this many times above the median bin abundance.
	EfficiencyMinFC float64
	// LoessSpan is the span of loess normalization.
	LoessSpan float64
	// SpikeChroms lists the spike-in chromosomes for spike-in normalization.
	SpikeChroms []string

	// Test names the significance test.  Dispersion is the fixed dispersion
	// of the LRT.  Robust enables robust squeezing of QL dispersions.
	Test       string
	Dispersion float64
	Robust     bool
	// Coef is the design coefficient tested, such as "groupB".  Empty means
	// the second group against the first.
	Coef string

	// Combine names the way window tests are aggregated.
	Combine string
	// MergeTol and MaxWidth control clustering of adjacent windows.
	MergeTol, MaxWidth int
	// RegionsPath, when set, clusters windows by overlap with the regions of
	// this BED file instead of by adjacency.
	RegionsPath string
	// Summit up-weights the most abundant window of each cluster.
	Summit bool
	// MinWindows and MinProp configure the minimal test.
	MinWindows int
	MinProp    float64
}

// DefaultOpts is a composition-normalized, globally filtered QL analysis
// with Simes-combined clusters.
var DefaultOpts = Opts{
	Window:          window.DefaultOpts,
	BinWidth:        10000,
	Filter:          FilterGlobal,
	FilterThreshold: 3,
	NeighborFlank:   2000,
	Norm:            NormComposition,
	EfficiencyMinFC: 3,
	LoessSpan:       0.3,
	Test:            TestQL,
	Dispersion:      0.05,
	Robust:          true,
	Combine:         CombineSimes,
	MergeTol:        100,
	MaxWidth:        5000,
	MinWindows:      3,
	MinProp:         0.4,
}

func checkName(kind, name string, names []string) error {
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return fmt.Errorf("analysis: unknown %s %q; choose one of %s", kind, name, strings.Join(sorted, ", "))
}

// Validate checks the strategy names and the options they depend on.
func (o *Opts) Validate() error {
	if err := checkName("filter", o.Filter, filterNames); err != nil {
		return err
	}
	if err := checkName("normalization", o.Norm, normNames); err != nil {
		return err
	}
	if err := checkName("test", o.Test, testNames); err != nil {
		return err
	}
	if err := checkName("combination", o.Combine, combineNames); err != nil {
		return err
	}
	if o.BinWidth <= 0 {
		return fmt.Errorf("analysis: bin width %d must be positive", o.BinWidth)
	}
	if o.Filter == FilterAnnotation && o.AnnotationPath == "" {
		return fmt.Errorf("analysis: the annotation filter needs an annotation BED file")
	}
	if o.Norm == NormSpikeIn && len(o.SpikeChroms) == 0 {
		return fmt.Errorf("analysis: spike-in normalization needs spike-in chromosomes")
	}
	if o.Test == TestLRT && !(o.Dispersion >= 0) {
		return fmt.Errorf("analysis: invalid LRT dispersion %v", o.Dispersion)
	}
	if o.MergeTol < 0 {
		return fmt.Errorf("analysis: negative merge tolerance %d", o.MergeTol)
	}
	return nil
}
