// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cluster aggregates window-level tests into regions and controls
// the false discovery rate across regions.
package cluster

import (
	"fmt"
	"math"

	"github.com/grailbio/diffbind/interval"
)

// Groups lists the member windows of every cluster.  A window may belong to
// zero, one, or several clusters.
type Groups [][]int

// Merged is the result of MergeWindows.
type Merged struct {
	// IDs[i] is the cluster of window i.
	IDs []int
	// Regions[k] spans the windows of cluster k.
	Regions []interval.Entry
}

// Groups returns the members of each cluster in window order.
func (m Merged) Groups() Groups {
	g := make(Groups, len(m.Regions))
	for i, id := range m.IDs {
		g[id] = append(g[id], i)
	}
	return g
}

// MergeWindows clusters rows by single linkage: consecutive windows on the
// same chromosome join a cluster when the gap between them is at most tol.
// When maxWidth > 0, a cluster wider than maxWidth is split into
// ceil(width/maxWidth) sub-clusters of equal width, assigning each window by
// its midpoint.  Rows must be sorted by chromosome and start.
func MergeWindows(rows []interval.Entry, tol, maxWidth int) (Merged, error) {
	if tol < 0 {
		return Merged{}, fmt.Errorf("cluster.MergeWindows: negative tolerance %d", tol)
	}
	var m Merged
	m.IDs = make([]int, len(rows))
	seen := make(map[string]bool)
	var (
		start    int
		curEnd   interval.PosType
		curChr   string
		clusters [][2]int // half-open row ranges
	)
	for i, r := range rows {
		if i > 0 && r.ChrName == curChr && r.Start0 < rows[i-1].Start0 {
			return Merged{}, fmt.Errorf("cluster.MergeWindows: row %d (%v) is out of order", i, r)
		}
		if i == 0 || r.ChrName != curChr || int(r.Start0-curEnd) > tol {
			if i > 0 {
				clusters = append(clusters, [2]int{start, i})
			}
			if r.ChrName != curChr {
				if seen[r.ChrName] {
					return Merged{}, fmt.Errorf("cluster.MergeWindows: chromosome %s appears twice", r.ChrName)
				}
				seen[r.ChrName] = true
			}
			start, curEnd, curChr = i, r.End, r.ChrName
			continue
		}
		if r.End > curEnd {
			curEnd = r.End
		}
	}
	if len(rows) > 0 {
		clusters = append(clusters, [2]int{start, len(rows)})
	}
	for _, c := range clusters {
		m.addCluster(rows, c[0], c[1], maxWidth)
	}
	return m, nil
}

// addCluster records rows [lo, hi) as one or more clusters.
func (m *Merged) addCluster(rows []interval.Entry, lo, hi, maxWidth int) {
	span := rows[lo]
	for _, r := range rows[lo+1 : hi] {
		if r.End > span.End {
			span.End = r.End
		}
	}
	span.Name, span.Strand = "", 0
	width := int(span.Len())
	if maxWidth <= 0 || width <= maxWidth {
		id := len(m.Regions)
		for i := lo; i < hi; i++ {
			m.IDs[i] = id
		}
		m.Regions = append(m.Regions, span)
		return
	}
	nSplit := int(math.Ceil(float64(width) / float64(maxWidth)))
	subWidth := float64(width) / float64(nSplit)
	first := len(m.Regions)
	subID := make([]int, nSplit)
	for k := range subID {
		subID[k] = -1
	}
	for i := lo; i < hi; i++ {
		mid := float64(rows[i].Start0+rows[i].End)/2 - float64(span.Start0)
		k := int(mid / subWidth)
		if k >= nSplit {
			k = nSplit - 1
		}
		if subID[k] < 0 {
			subID[k] = len(m.Regions)
			m.Regions = append(m.Regions, rows[i])
		}
		id := subID[k]
		m.IDs[i] = id
		reg := &m.Regions[id]
		if rows[i].Start0 < reg.Start0 {
			reg.Start0 = rows[i].Start0
		}
		if rows[i].End > reg.End {
			reg.End = rows[i].End
		}
	}
	for k := first; k < len(m.Regions); k++ {
		m.Regions[k].Name, m.Regions[k].Strand = "", 0
	}
}

// FindOverlaps assigns windows to external regions: the result has one group
// per region, holding the windows sharing at least one base with it.  Regions
// may own no windows, and windows may belong to several regions.
func FindOverlaps(regions, rows []interval.Entry) (Groups, error) {
	idx, err := interval.NewIndex(rows)
	if err != nil {
		return nil, err
	}
	g := make(Groups, len(regions))
	for k, r := range regions {
		g[k] = idx.Overlapping(r.ChrName, r.Start0, r.End)
	}
	return g, nil
}
