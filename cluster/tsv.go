// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"fmt"
	"io"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/diffbind/interval"
)

// Row is one line of the region table.  START is 1-based.
type Row struct {
	Chrom     string  `tsv:"CHROM"`
	Start     int64   `tsv:"START"`
	End       int64   `tsv:"END"`
	NWindows  int64   `tsv:"NWINDOWS"`
	NUp       int64   `tsv:"NUP"`
	NDown     int64   `tsv:"NDOWN"`
	Direction string  `tsv:"DIRECTION"`
	Best      int64   `tsv:"BEST"`
	LogFC     float64 `tsv:"LOGFC"`
	PValue    float64 `tsv:"PVALUE"`
	FDR       float64 `tsv:"FDR"`
}

// Rows pairs regions with their combined tests.  Best is the 1-based row of
// the representative window in the tested matrix, or 0.
func Rows(regions []interval.Entry, combined []Combined) ([]Row, error) {
	if len(regions) != len(combined) {
		return nil, fmt.Errorf("cluster.Rows: %d regions, %d results", len(regions), len(combined))
	}
	out := make([]Row, len(regions))
	for k, r := range regions {
		c := combined[k]
		out[k] = Row{
			Chrom:     r.ChrName,
			Start:     int64(r.Start0) + 1,
			End:       int64(r.End),
			NWindows:  int64(c.NWindows),
			NUp:       int64(c.NUp),
			NDown:     int64(c.NDown),
			Direction: string(c.Direction),
			Best:      int64(c.Best) + 1,
			LogFC:     c.LogFC,
			PValue:    c.PValue,
			FDR:       c.FDR,
		}
	}
	return out, nil
}

// WriteTSV writes the region table.
func WriteTSV(w io.Writer, regions []interval.Entry, combined []Combined) error {
	rows, err := Rows(regions, combined)
	if err != nil {
		return err
	}
	out := tsv.NewRowWriter(w)
	for i := range rows {
		if err := out.Write(&rows[i]); err != nil {
			return err
		}
	}
	return out.Flush()
}
