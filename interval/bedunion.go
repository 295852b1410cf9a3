// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// BEDUnion is a collection of length-2N endpoint sequences, one per
// chromosome, where N is the number of disjoint intervals; the start of
// interval k is in element [2k] and its end in element [2k+1].
//
// A BEDUnion is immutable after construction and safe for concurrent use.
type BEDUnion struct {
	// nameMap is a chromosome-keyed map with disjoint-interval-set values.
	nameMap map[string][]PosType
	// totBases is the number of bases covered by the union.
	totBases int64
}

// NewBEDUnionFromEntries builds a BEDUnion from entries in any order,
// merging touching/overlapping intervals and eliminating empty ones.
func NewBEDUnionFromEntries(entries []Entry) (*BEDUnion, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	SortEntries(sorted, nil)

	u := &BEDUnion{nameMap: make(map[string][]PosType)}
	var chrIntervals []PosType
	prevChr := ""
	var prevStart, prevEnd PosType = -1, -1
	flush := func() {
		if prevChr == "" {
			return
		}
		if prevEnd != -1 {
			chrIntervals = append(chrIntervals, prevStart, prevEnd)
			u.totBases += int64(prevEnd - prevStart)
		}
		u.nameMap[prevChr] = chrIntervals
	}
	for _, e := range sorted {
		if e.Start0 < 0 || e.End < e.Start0 || e.End >= PosTypeMax {
			return nil, fmt.Errorf("interval.NewBEDUnionFromEntries: invalid coordinate pair [%d, %d)", e.Start0, e.End)
		}
		if e.ChrName != prevChr {
			flush()
			prevChr = e.ChrName
			chrIntervals = []PosType{}
			prevStart, prevEnd = -1, -1
		}
		if e.End == e.Start0 {
			// Still "mentions" the chromosome.
			continue
		}
		if prevEnd == -1 {
			prevStart, prevEnd = e.Start0, e.End
			continue
		}
		if e.Start0 > prevEnd {
			chrIntervals = append(chrIntervals, prevStart, prevEnd)
			u.totBases += int64(prevEnd - prevStart)
			prevStart, prevEnd = e.Start0, e.End
		} else if e.End > prevEnd {
			prevEnd = e.End
		}
	}
	flush()
	return u, nil
}

// NewBEDUnion loads the intervals from a BED stream and merges them.
func NewBEDUnion(reader io.Reader, opts BEDOpts) (*BEDUnion, error) {
	entries, err := ReadBED(reader, opts)
	if err != nil {
		return nil, err
	}
	return NewBEDUnionFromEntries(entries)
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that takes a path instead
// of an io.Reader.
func NewBEDUnionFromPath(ctx context.Context, path string, opts BEDOpts) (*BEDUnion, error) {
	entries, err := ReadBEDFromPath(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return NewBEDUnionFromEntries(entries)
}

// ContainsRange checks whether all of [start, end) lies within a single
// interval of the union.  Empty ranges are never contained.
func (u *BEDUnion) ContainsRange(chrName string, start, end PosType) bool {
	if end <= start {
		return false
	}
	endpoints := u.nameMap[chrName]
	n := endpointsAtOrBefore(endpoints, start)
	return n%2 == 1 && end <= endpoints[n]
}

// Chromosomes returns the names of the chromosomes mentioned by the union, in
// sorted order.
func (u *BEDUnion) Chromosomes() []string {
	names := make([]string, 0, len(u.nameMap))
	for name := range u.nameMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalBases returns the number of bases covered by the union.
func (u *BEDUnion) TotalBases() int64 {
	return u.totBases
}

// ChrBases returns the number of bases of [0, limit) on chrName covered by
// the union.  A negative limit means no limit.
func (u *BEDUnion) ChrBases(chrName string, limit PosType) int64 {
	var n int64
	endpoints := u.nameMap[chrName]
	for i := 0; i+1 < len(endpoints); i += 2 {
		start, end := endpoints[i], endpoints[i+1]
		if limit >= 0 {
			if start >= limit {
				break
			}
			if end > limit {
				end = limit
			}
		}
		n += int64(end - start)
	}
	return n
}

// WriteDigest writes a canonical rendering of the union to w, for use in
// content hashes.
func (u *BEDUnion) WriteDigest(w io.Writer) error {
	for _, name := range u.Chromosomes() {
		if _, err := fmt.Fprintf(w, "%s:", name); err != nil {
			return err
		}
		for _, pos := range u.nameMap[name] {
			if _, err := fmt.Fprintf(w, "%d,", pos); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, ";"); err != nil {
			return err
		}
	}
	return nil
}
