// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/diffbind/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// fragment is one countable DNA fragment, clipped to its chromosome.
type fragment struct {
	// start and end bound the fragment, 0-based half-open.
	start, end int
	// fivePrime is the 5' end of the read (single-end) or the leftmost base of
	// the pair (paired-end).
	fivePrime int
	reverse   bool
	// size is the unclipped fragment length.
	size int
}

// ScanStats summarizes what happened to the alignments of one file.
type ScanStats struct {
	// Reads is the number of primary alignments placed on a chromosome.
	Reads int64
	// Unmapped counts placed but unmapped reads.
	Unmapped int64
	// Filtered counts reads rejected by QC flag, duplicate flag, mapping
	// quality or discard regions.
	Filtered int64
	// Singles counts paired-end reads without a usable mate: single-end reads,
	// reads whose mate is unmapped, and reads whose mate never appeared.
	Singles int64
	// Unoriented counts pairs not in forward-reverse orientation.
	Unoriented int64
	// InterChr counts reads whose mate maps to another chromosome.
	InterChr int64
	// TooLarge counts pairs whose fragment exceeds MaxFragSize.
	TooLarge int64
	// Fragments is the library size: fragments that passed every filter.
	Fragments int64
}

// Add accumulates o into s.
func (s *ScanStats) Add(o ScanStats) {
	s.Reads += o.Reads
	s.Unmapped += o.Unmapped
	s.Filtered += o.Filtered
	s.Singles += o.Singles
	s.Unoriented += o.Unoriented
	s.InterChr += o.InterChr
	s.TooLarge += o.TooLarge
	s.Fragments += o.Fragments
}

// mateInfo is what pairing needs to remember about the first mate seen.
type mateInfo struct {
	pos, end int
	reverse  bool
	pass     bool
}

// scanner turns the alignments of one chromosome into fragments.
type scanner struct {
	params *ReadParams
	// ext is the single-end extension.  <= 0 uses the alignment span.
	ext int
	// rescaleTo, when > 0, resizes every fragment about its centre.
	rescaleTo int
}

// clip applies rescaling and chromosome bounds to f.  It returns false if
// nothing of f lies on the chromosome.
func (s *scanner) clip(f *fragment, chrLen int) bool {
	if s.rescaleTo > 0 {
		centre := (f.start + f.end) / 2
		f.start = centre - s.rescaleTo/2
		f.end = f.start + s.rescaleTo
	}
	if f.start < 0 {
		f.start = 0
	}
	if f.end > chrLen {
		f.end = chrLen
	}
	if f.fivePrime < 0 {
		f.fivePrime = 0
	} else if f.fivePrime >= chrLen {
		f.fivePrime = chrLen - 1
	}
	return f.start < f.end
}

// scanRef reads every alignment of ref from p and calls fn for each fragment
// that passes the filters.
func (s *scanner) scanRef(p bamprovider.Provider, ref *sam.Reference, fn func(f fragment)) (stats ScanStats, err error) {
	iter := p.NewIterator(ref, 0, ref.Len())
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = errors.E(e, "scan", p.Name(), ref.Name())
		}
	}()
	chrLen := ref.Len()
	emit := func(f fragment) {
		stats.Fragments++
		if s.clip(&f, chrLen) {
			fn(f)
		}
	}
	var pending map[string]mateInfo
	if s.params.PairedEnd {
		pending = make(map[string]mateInfo)
	}
	for iter.Scan() {
		r := iter.Record()
		if r.Flags&ignoreFlags != 0 {
			sam.PutInFreePool(r)
			continue
		}
		stats.Reads++
		if r.Flags&sam.Unmapped != 0 {
			stats.Unmapped++
			sam.PutInFreePool(r)
			continue
		}
		reason := s.params.classify(r)
		if !s.params.PairedEnd {
			if reason != filterNone {
				stats.Filtered++
			} else {
				emit(s.singleEnd(r))
			}
			sam.PutInFreePool(r)
			continue
		}
		if reason != filterNone {
			stats.Filtered++
		}
		switch {
		case r.Flags&sam.Paired == 0 || r.Flags&sam.MateUnmapped != 0:
			stats.Singles++
		case r.MateRef == nil || r.MateRef.ID() != r.Ref.ID():
			stats.InterChr++
		default:
			info := mateInfo{pos: r.Pos, end: r.End(), reverse: r.Flags&sam.Reverse != 0, pass: reason == filterNone}
			mate, ok := pending[r.Name]
			if !ok {
				pending[r.Name] = info
				break
			}
			delete(pending, r.Name)
			if f, ok := s.pair(mate, info, &stats); ok {
				emit(f)
			}
		}
		sam.PutInFreePool(r)
	}
	stats.Singles += int64(len(pending))
	return stats, nil
}

// singleEnd extends a read in its mapped direction.
func (s *scanner) singleEnd(r *sam.Record) fragment {
	f := fragment{start: r.Pos, end: r.End()}
	if r.Flags&sam.Reverse != 0 {
		f.reverse = true
		f.fivePrime = f.end - 1
		if s.ext > 0 {
			f.start = f.end - s.ext
		}
	} else {
		f.fivePrime = f.start
		if s.ext > 0 {
			f.end = f.start + s.ext
		}
	}
	f.size = f.end - f.start
	return f
}

// pair joins two mates into a fragment spanning the forward mate's start to
// the reverse mate's end.
func (s *scanner) pair(a, b mateInfo, stats *ScanStats) (fragment, bool) {
	if !a.pass || !b.pass {
		return fragment{}, false
	}
	if a.reverse == b.reverse {
		stats.Unoriented++
		return fragment{}, false
	}
	fwd, rev := a, b
	if fwd.reverse {
		fwd, rev = b, a
	}
	if fwd.pos >= rev.end {
		stats.Unoriented++
		return fragment{}, false
	}
	f := fragment{start: fwd.pos, end: rev.end, fivePrime: fwd.pos}
	f.size = f.end - f.start
	if s.params.MaxFragSize > 0 && f.size > s.params.MaxFragSize {
		stats.TooLarge++
		return fragment{}, false
	}
	return f, true
}
