// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamprovider

import (
	"fmt"

	"github.com/grailbio/hts/sam"
)

// Provider gives access to the reads of one sample.  It is safe for
// concurrent use; window counting scans one chromosome per goroutine.
type Provider interface {
	// Name identifies the sample's data, usually its path.
	Name() string

	// GetHeader returns the shared header.  Callers must not modify it.
	GetHeader() (*sam.Header, error)

	// NewIterator returns the records of ref whose alignment start lies in
	// [start, limit), in coordinate order.
	NewIterator(ref *sam.Reference, start, limit int) Iterator

	// Close releases the provider and returns the first error seen by it or
	// by any of its iterators.  Every iterator must be closed first, and no
	// method may be called afterwards.
	Close() error
}

// Iterator walks one range of a Provider.  It is not safe for concurrent
// use.
type Iterator interface {
	// Scan advances to the next record.  It returns false at the end of the
	// range or on error; Err tells the two apart.
	Scan() bool

	// Record returns the record Scan advanced to.  The caller owns it.
	Record() *sam.Record

	// Err returns the iteration error, if any.
	Err() error

	// Close must be called once, and returns Err.
	Close() error
}

// NewProvider returns a Provider for the BAM file at path, indexed by
// path + ".bai".
func NewProvider(path string) Provider {
	return &BAMProvider{Path: path}
}

// RefByName finds a sam.Reference with the given name. It returns nil if a
// reference is not found.
func RefByName(h *sam.Header, refName string) *sam.Reference {
	for _, ref := range h.Refs() {
		if ref.Name() == refName {
			return ref
		}
	}
	return nil
}

// CheckHeadersMatch returns the header shared by all providers.  Every
// provider must list the same references, with the same lengths, in the same
// order; otherwise windows from different samples could not be lined up.
func CheckHeadersMatch(providers []Provider) (*sam.Header, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("bamprovider.CheckHeadersMatch: no inputs")
	}
	first, err := providers[0].GetHeader()
	if err != nil {
		return nil, err
	}
	firstRefs := first.Refs()
	for _, p := range providers[1:] {
		h, err := p.GetHeader()
		if err != nil {
			return nil, err
		}
		refs := h.Refs()
		if len(refs) != len(firstRefs) {
			return nil, fmt.Errorf("bamprovider.CheckHeadersMatch: %s has %d references, %s has %d",
				p.Name(), len(refs), providers[0].Name(), len(firstRefs))
		}
		for i, ref := range refs {
			if ref.Name() != firstRefs[i].Name() || ref.Len() != firstRefs[i].Len() {
				return nil, fmt.Errorf("bamprovider.CheckHeadersMatch: reference %d differs between %s (%s:%d) and %s (%s:%d)",
					i, p.Name(), ref.Name(), ref.Len(), providers[0].Name(), firstRefs[i].Name(), firstRefs[i].Len())
			}
		}
	}
	return first, nil
}
