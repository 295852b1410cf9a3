// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"fmt"
	"sort"
)

// Entry represents a single genomic interval, with 0-based half-open
// coordinates.  Name and Strand are optional; they are filled in when a BED
// file carries the corresponding columns.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
	Name    string
	// Strand is '+', '-', or 0 when unknown.
	Strand byte
}

// Len returns the number of bases covered by e.
func (e Entry) Len() PosType {
	return e.End - e.Start0
}

// Mid returns the (rounded-down) midpoint of e.
func (e Entry) Mid() PosType {
	return e.Start0 + (e.End-e.Start0)/2
}

// Overlaps returns whether e and o share at least one base.
func (e Entry) Overlaps(o Entry) bool {
	return e.ChrName == o.ChrName && e.Start0 < o.End && o.Start0 < e.End
}

// Resize returns a copy of e widened by flank bases on both sides, clipped at
// position 0 and at chrLen (if chrLen > 0).
func (e Entry) Resize(flank PosType, chrLen PosType) Entry {
	out := e
	out.Start0 -= flank
	if out.Start0 < 0 {
		out.Start0 = 0
	}
	out.End += flank
	if chrLen > 0 && out.End > chrLen {
		out.End = chrLen
	}
	return out
}

// String renders e as a 1-based region string, the inverse of
// ParseRegionString.
func (e Entry) String() string {
	return fmt.Sprintf("%s:%d-%d", e.ChrName, e.Start0+1, e.End)
}

// SortEntries sorts entries by chromosome name order given in chrOrder (names
// missing from chrOrder sort last, lexicographically), then start, then end.
func SortEntries(entries []Entry, chrOrder []string) {
	rank := make(map[string]int, len(chrOrder))
	for i, name := range chrOrder {
		rank[name] = i
	}
	chrRank := func(name string) int {
		if r, ok := rank[name]; ok {
			return r
		}
		return len(chrOrder)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if a.ChrName != b.ChrName {
			ra, rb := chrRank(a.ChrName), chrRank(b.ChrName)
			if ra != rb {
				return ra < rb
			}
			return a.ChrName < b.ChrName
		}
		if a.Start0 != b.Start0 {
			return a.Start0 < b.Start0
		}
		return a.End < b.End
	})
}
