// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamprovider

import (
	"sort"

	"github.com/grailbio/hts/sam"
)

// memProvider serves records held in memory, bucketed by reference.
type memProvider struct {
	name   string
	header *sam.Header
	byRef  map[int][]*sam.Record
}

// NewFakeProvider returns a Provider over recs for tests.  Unmapped records
// are dropped; the rest are served in coordinate order.  Iterators hand out
// copies, so callers cannot alter recs.
func NewFakeProvider(name string, header *sam.Header, recs []*sam.Record) Provider {
	p := &memProvider{name: name, header: header, byRef: make(map[int][]*sam.Record)}
	for _, r := range recs {
		if r.Ref == nil {
			continue
		}
		p.byRef[r.Ref.ID()] = append(p.byRef[r.Ref.ID()], r)
	}
	for _, list := range p.byRef {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Pos < list[j].Pos })
	}
	return p
}

func (p *memProvider) Name() string                    { return p.name }
func (p *memProvider) GetHeader() (*sam.Header, error) { return p.header, nil }
func (p *memProvider) Close() error                    { return nil }

func (p *memProvider) NewIterator(ref *sam.Reference, start, limit int) Iterator {
	list := p.byRef[ref.ID()]
	lo := sort.Search(len(list), func(i int) bool { return list[i].Pos >= start })
	hi := sort.Search(len(list), func(i int) bool { return list[i].Pos >= limit })
	if hi < lo {
		hi = lo
	}
	return &memIterator{pending: list[lo:hi]}
}

type memIterator struct {
	pending []*sam.Record
	cur     *sam.Record
}

func (i *memIterator) Scan() bool {
	if len(i.pending) == 0 {
		return false
	}
	i.cur, i.pending = i.pending[0], i.pending[1:]
	return true
}

func (i *memIterator) Record() *sam.Record {
	r := sam.GetFromFreePool()
	*r = *i.cur
	return r
}

func (i *memIterator) Err() error   { return nil }
func (i *memIterator) Close() error { return nil }
