// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window

import (
	"fmt"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/diffbind/encoding/bamprovider"
	"github.com/grailbio/diffbind/interval"
	"github.com/grailbio/hts/sam"
)

// ReadParams decides which alignments become countable fragments.  Every
// counting call in one analysis must use the same ReadParams, otherwise the
// library sizes of the resulting matrices are not comparable.
type ReadParams struct {
	// MinMapQ is the minimum mapping quality.  In paired-end mode both mates
	// must pass.
	MinMapQ int
	// Dedup drops reads flagged as duplicates.
	Dedup bool
	// PairedEnd counts each properly oriented pair as one fragment spanning
	// both mates, instead of extending single reads.
	PairedEnd bool
	// MaxFragSize drops pairs whose fragment is longer.  <= 0 means no limit.
	MaxFragSize int
	// Restrict, when nonempty, limits the chromosomes on which windows are
	// reported.  Library sizes always cover every chromosome.
	Restrict []string
	// Discard drops reads whose alignment lies wholly inside one of its
	// intervals.  May be nil.
	Discard *interval.BEDUnion
}

// DefaultReadParams counts every primary mapped read, with a 500bp cap on
// paired-end fragment sizes.
var DefaultReadParams = ReadParams{
	MaxFragSize: 500,
}

// Fingerprint returns a hash of every parameter that affects library sizes.
// Restrict is excluded.
func (p ReadParams) Fingerprint() uint64 {
	h := seahash.New()
	fmt.Fprintf(h, "minq=%d;dedup=%v;pe=%v;maxfrag=%d;", p.MinMapQ, p.Dedup, p.PairedEnd, p.MaxFragSize) // nolint: errcheck
	if p.Discard != nil {
		p.Discard.WriteDigest(h) // nolint: errcheck
	}
	return h.Sum64()
}

// ignoreFlags marks records that never take part in counting or pairing.
const ignoreFlags = sam.Secondary | sam.Supplementary

// readFilter is the reason a mapped primary record was rejected.
type readFilter int

const (
	filterNone readFilter = iota
	filterQC
	filterDup
	filterMapQ
	filterDiscard
)

// classify applies the per-read filters to r.
func (p *ReadParams) classify(r *sam.Record) readFilter {
	if r.Flags&sam.QCFail != 0 {
		return filterQC
	}
	if p.Dedup && r.Flags&sam.Duplicate != 0 {
		return filterDup
	}
	if int(r.MapQ) < p.MinMapQ {
		return filterMapQ
	}
	if p.Discard != nil && p.Discard.ContainsRange(r.Ref.Name(), interval.PosType(r.Pos), interval.PosType(r.End())) {
		return filterDiscard
	}
	return filterNone
}

// reportedRefs returns, for each reference of h, whether windows on it are
// reported under p.Restrict.
func (p *ReadParams) reportedRefs(h *sam.Header) ([]bool, error) {
	refs := h.Refs()
	out := make([]bool, len(refs))
	if len(p.Restrict) == 0 {
		for i := range out {
			out[i] = true
		}
		return out, nil
	}
	for _, name := range p.Restrict {
		ref := bamprovider.RefByName(h, name)
		if ref == nil {
			return nil, fmt.Errorf("window: restricted chromosome %s not in the BAM header", name)
		}
		out[ref.ID()] = true
	}
	return out, nil
}

// GenomeLength returns the total length of the chromosomes of h that
// windows are reported on, less the bases covered by p.Discard.
func (p ReadParams) GenomeLength(h *sam.Header) (int64, error) {
	reported, err := p.reportedRefs(h)
	if err != nil {
		return 0, err
	}
	var n int64
	for i, ref := range h.Refs() {
		if !reported[i] {
			continue
		}
		n += int64(ref.Len())
		if p.Discard != nil {
			n -= p.Discard.ChrBases(ref.Name(), interval.PosType(ref.Len()))
		}
	}
	return n, nil
}
