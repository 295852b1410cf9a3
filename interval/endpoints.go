// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"math"
	"sort"
)

// PosType holds a genomic coordinate.  BAM positions fit in int32.
type PosType int32

// PosTypeMax is the largest PosType.  It never appears as an interval end, so
// endpoint lists stay strictly increasing.
const PosTypeMax = math.MaxInt32

// endpointsAtOrBefore returns the number of entries of the sorted endpoint
// list that are <= pos.  A disjoint union {s0, e0, s1, e1, ...} contains
// [pos, pos+1) iff the result is odd; in that case the result also indexes
// the end of the containing interval.
func endpointsAtOrBefore(endpoints []PosType, pos PosType) int {
	return sort.Search(len(endpoints), func(i int) bool { return endpoints[i] > pos })
}
