// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package window_test

import (
	"github.com/grailbio/diffbind/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

var (
	chr1, _ = sam.NewReference("chr1", "", "", 1000, nil, nil)
	chr2, _ = sam.NewReference("chr2", "", "", 250, nil, nil)
	header  = newHeader()
)

func newHeader() *sam.Header {
	h, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	if err != nil {
		panic(err)
	}
	return h
}

type recOpt func(r *sam.Record)

func mapq(q byte) recOpt {
	return func(r *sam.Record) { r.MapQ = q }
}

func flags(f sam.Flags) recOpt {
	return func(r *sam.Record) { r.Flags |= f }
}

func mate(ref *sam.Reference, pos int) recOpt {
	return func(r *sam.Record) {
		r.MateRef = ref
		r.MatePos = pos
		r.Flags |= sam.Paired
	}
}

// newRecord creates a 10bp read.
func newRecord(name string, ref *sam.Reference, pos int, opts ...recOpt) *sam.Record {
	r := &sam.Record{}
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MapQ = 60
	r.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)}
	r.MateRef = nil
	r.MatePos = -1
	for _, o := range opts {
		o(r)
	}
	return r
}

func newProvider(name string, recs ...*sam.Record) bamprovider.Provider {
	return bamprovider.NewFakeProvider(name, header, recs)
}
