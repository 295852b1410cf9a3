// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package matrix

import (
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Write writes c as a TSV table with columns CHROM, START, END and one count
// column per sample.  START is 1-based, END inclusive.
func (c *Counts) Write(w io.Writer) (err error) {
	out := tsv.NewWriter(w)
	out.WriteString("#CHROM\tSTART\tEND")
	for _, s := range c.Samples {
		out.WriteString(s)
	}
	if err = out.EndLine(); err != nil {
		return
	}
	for i, r := range c.Rows {
		out.WriteString(r.ChrName)
		out.WriteInt64(int64(r.Start0) + 1)
		out.WriteInt64(int64(r.End))
		for _, v := range c.Counts[i] {
			out.WriteInt64(int64(v))
		}
		if err = out.EndLine(); err != nil {
			return
		}
	}
	return out.Flush()
}

// LibraryRow is one line of the library-size table written by WriteLibraries.
type LibraryRow struct {
	Sample     string  `tsv:"SAMPLE"`
	LibSize    int64   `tsv:"LIBSIZE"`
	NormFactor float64 `tsv:"NORMFACTOR"`
	Ext        int64   `tsv:"EXT"`
}

// Libraries returns one LibraryRow per sample.
func (c *Counts) Libraries() []LibraryRow {
	rows := make([]LibraryRow, len(c.Samples))
	for j, s := range c.Samples {
		rows[j] = LibraryRow{Sample: s, LibSize: c.LibSizes[j], NormFactor: 1}
		if c.NormFactors != nil {
			rows[j].NormFactor = c.NormFactors[j]
		}
		if j < len(c.Ext) {
			rows[j].Ext = int64(c.Ext[j])
		}
	}
	return rows
}

// WriteLibraries writes the per-sample library sizes and normalization
// factors of c.
func (c *Counts) WriteLibraries(w io.Writer) error {
	out := tsv.NewRowWriter(w)
	for _, row := range c.Libraries() {
		row := row
		if err := out.Write(&row); err != nil {
			return err
		}
	}
	return out.Flush()
}

// WriteFile writes the count table to path and the library table to
// libPath (skipped when libPath is empty).
func (c *Counts) WriteFile(ctx context.Context, path, libPath string) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	if err = c.Write(dst.Writer(ctx)); err != nil {
		return
	}
	if libPath == "" {
		return
	}
	var libDst file.File
	if libDst, err = file.Create(ctx, libPath); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, libDst, &err)
	return c.WriteLibraries(libDst.Writer(ctx))
}
