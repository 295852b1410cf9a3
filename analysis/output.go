// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package analysis

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/diffbind/cluster"
)

// Output file suffixes, appended to the output prefix.
const (
	WindowsSuffix   = ".windows.tsv"
	LibrariesSuffix = ".libraries.tsv"
	RegionsSuffix   = ".regions.tsv"
)

// WriteWindows writes the tested windows: coordinates (START 1-based),
// per-sample counts, and the test columns.
func (r *Result) WriteWindows(w io.Writer) (err error) {
	c := r.Counts
	if len(r.Tests) != c.NumRows() {
		return fmt.Errorf("analysis: %d tests, %d windows", len(r.Tests), c.NumRows())
	}
	out := tsv.NewWriter(w)
	out.WriteString("#CHROM\tSTART\tEND")
	for _, s := range c.Samples {
		out.WriteString(s)
	}
	out.WriteString("LOGFC\tLOGCPM\tSTAT\tPVALUE")
	if err = out.EndLine(); err != nil {
		return
	}
	for i, row := range c.Rows {
		out.WriteString(row.ChrName)
		out.WriteInt64(int64(row.Start0) + 1)
		out.WriteInt64(int64(row.End))
		for _, v := range c.Counts[i] {
			out.WriteInt64(int64(v))
		}
		t := r.Tests[i]
		out.WriteString(strconv.FormatFloat(t.LogFC, 'g', 6, 64))
		out.WriteString(strconv.FormatFloat(t.LogCPM, 'g', 6, 64))
		out.WriteString(strconv.FormatFloat(t.Stat, 'g', 6, 64))
		out.WriteString(strconv.FormatFloat(t.PValue, 'g', 6, 64))
		if err = out.EndLine(); err != nil {
			return
		}
	}
	return out.Flush()
}

func writeFile(ctx context.Context, path string, write func(w io.Writer) error) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	return write(dst.Writer(ctx))
}

// WriteOutputs writes the window, library and region tables of r to files
// named prefix plus WindowsSuffix, LibrariesSuffix and RegionsSuffix.
func (r *Result) WriteOutputs(ctx context.Context, prefix string) error {
	if err := writeFile(ctx, prefix+WindowsSuffix, r.WriteWindows); err != nil {
		return err
	}
	if err := writeFile(ctx, prefix+LibrariesSuffix, r.Counts.WriteLibraries); err != nil {
		return err
	}
	err := writeFile(ctx, prefix+RegionsSuffix, func(w io.Writer) error {
		return cluster.WriteTSV(w, r.Regions, r.Combined)
	})
	if err != nil {
		return err
	}
	log.Printf("analysis %s: wrote %s{%s,%s,%s}", r.RunID, prefix, WindowsSuffix, LibrariesSuffix, RegionsSuffix)
	return nil
}

// Run reads the sample sheet at sheetPath, analyzes the samples and writes
// the results under outPrefix.
func Run(ctx context.Context, sheetPath, outPrefix string, opts Opts) (err error) {
	if err = opts.Validate(); err != nil {
		return
	}
	samples, err := ReadSampleSheetFromPath(ctx, sheetPath)
	if err != nil {
		return
	}
	providers := OpenProviders(samples)
	defer func() {
		for _, p := range providers {
			if cerr := p.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	res, err := Analyze(ctx, samples, providers, opts)
	if err != nil {
		return
	}
	return res.WriteOutputs(ctx, outPrefix)
}
