// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package interval holds the genomic coordinate types shared by the window
  counter, the filters and the region aggregator.

  Two representations are provided.  BEDUnion merges touching/overlapping
  intervals into a sorted endpoint sequence per chromosome; it answers
  "is this position (or read) inside the set" queries, which is what
  discard-region handling needs.  Index keeps every interval separately and
  answers many-to-many overlap queries, which is what external region sets
  need.

  Coordinates are 0-based and half-open, and fit in a PosType (int32, the BAM
  limit).
*/
package interval
