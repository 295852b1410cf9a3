// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package analysis

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/diffbind/encoding/bamprovider"
)

// Sample roles.
const (
	RoleChIP    = "chip"
	RoleControl = "control"
)

// Sample is one line of a sample sheet.
type Sample struct {
	Name string `tsv:"SAMPLE"`
	// Group is the experimental condition of a ChIP sample.
	Group string `tsv:"GROUP"`
	// Role is RoleChIP or RoleControl.
	Role string `tsv:"ROLE"`
	// BAM is the path of the indexed BAM file.
	BAM string `tsv:"BAM"`
}

// ReadSampleSheet parses a sample sheet: a TSV file with a header row and
// the columns SAMPLE, GROUP, ROLE, BAM.  Lines starting with # are ignored.
func ReadSampleSheet(r io.Reader) ([]Sample, error) {
	in := tsv.NewReader(r)
	in.HasHeaderRow = true
	in.UseHeaderNames = true
	in.Comment = '#'
	var samples []Sample
	names := make(map[string]bool)
	for {
		var s Sample
		if err := in.Read(&s); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if s.Role == "" {
			s.Role = RoleChIP
		}
		if s.Role != RoleChIP && s.Role != RoleControl {
			return nil, fmt.Errorf("analysis: sample %s: unknown role %q", s.Name, s.Role)
		}
		if names[s.Name] {
			return nil, fmt.Errorf("analysis: duplicate sample %s", s.Name)
		}
		names[s.Name] = true
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("analysis: empty sample sheet")
	}
	return samples, nil
}

// ReadSampleSheetFromPath is ReadSampleSheet on a file.
func ReadSampleSheetFromPath(ctx context.Context, path string) (samples []Sample, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	return ReadSampleSheet(in.Reader(ctx))
}

// OpenProviders opens the BAM file of every sample.
func OpenProviders(samples []Sample) []bamprovider.Provider {
	out := make([]bamprovider.Provider, len(samples))
	for i, s := range samples {
		out[i] = bamprovider.NewProvider(s.BAM)
	}
	return out
}
