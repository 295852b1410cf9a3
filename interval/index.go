// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"sort"

	"github.com/biogo/store/interval"
)

// treeEntry adapts an Entry to the biogo interval tree.  Ranges are
// half-open.
type treeEntry struct {
	start, end int
	id         uintptr
}

func (t treeEntry) Overlap(b interval.IntRange) bool {
	return t.start < b.End && b.Start < t.end
}

func (t treeEntry) ID() uintptr { return t.id }

func (t treeEntry) Range() interval.IntRange { return interval.IntRange{Start: t.start, End: t.end} }

type query struct {
	start, end int
}

func (q query) Overlap(b interval.IntRange) bool {
	return q.start < b.End && b.Start < q.end
}

// Index supports many-to-many overlap queries against a fixed list of
// entries.  Unlike BEDUnion, overlapping entries are kept separate, and query
// results refer to positions in the original list.
type Index struct {
	entries []Entry
	trees   map[string]*interval.IntTree
}

// NewIndex builds an Index over entries.  Empty entries are kept in the list
// but never reported as overlapping anything.
func NewIndex(entries []Entry) (*Index, error) {
	idx := &Index{
		entries: entries,
		trees:   make(map[string]*interval.IntTree),
	}
	for i, e := range entries {
		if e.End <= e.Start0 {
			continue
		}
		tree, ok := idx.trees[e.ChrName]
		if !ok {
			tree = &interval.IntTree{}
			idx.trees[e.ChrName] = tree
		}
		if err := tree.Insert(treeEntry{start: int(e.Start0), end: int(e.End), id: uintptr(i)}, true); err != nil {
			return nil, err
		}
	}
	for _, tree := range idx.trees {
		tree.AdjustRanges()
	}
	return idx, nil
}

// Len returns the number of entries in the index.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Entries returns the indexed entries.  The caller must not modify them.
func (idx *Index) Entries() []Entry {
	return idx.entries
}

// Overlapping returns the positions (in the original entry list) of every
// entry sharing at least one base with [start, end) on chrName, in
// increasing order.
func (idx *Index) Overlapping(chrName string, start, end PosType) []int {
	tree, ok := idx.trees[chrName]
	if !ok || end <= start {
		return nil
	}
	hits := tree.Get(query{start: int(start), end: int(end)})
	if len(hits) == 0 {
		return nil
	}
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = int(h.ID())
	}
	sort.Ints(out)
	return out
}

// CountOverlaps returns the number of entries overlapping e.
func (idx *Index) CountOverlaps(e Entry) int {
	return len(idx.Overlapping(e.ChrName, e.Start0, e.End))
}
