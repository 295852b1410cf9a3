// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamprovider

import (
	"fmt"
	"io"
	"sync"

	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// BAMProvider reads a coordinate-sorted BAM file through its index.  Path
// and Index may name anything github.com/grailbio/base/file can open,
// including S3 URLs.
//
// Every iterator holds an open file handle and a decoded index.  Closed
// iterators are parked and reused by later NewIterator calls, so scanning a
// file chromosome by chromosome opens it only once per concurrent reader.
type BAMProvider struct {
	// Path of the *.bam file. Must be nonempty.
	Path string
	// Index is the path of the *.bam.bai file. If "", Path + ".bai".
	Index string

	errs errorreporter.T

	mu     sync.Mutex
	header *sam.Header
	inUse  int
	parked []*bamIterator
}

func (b *BAMProvider) indexPath() string {
	if b.Index != "" {
		return b.Index
	}
	return b.Path + ".bai"
}

// Name implements the Provider interface.
func (b *BAMProvider) Name() string {
	return b.Path
}

// GetHeader implements the Provider interface.  The header is read once.
func (b *BAMProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header == nil {
		h, err := b.readHeader()
		if err != nil {
			b.errs.Set(err)
			return nil, err
		}
		b.header = h
	}
	return b.header, nil
}

func (b *BAMProvider) readHeader() (*sam.Header, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		return nil, err
	}
	defer in.Close(ctx) // nolint: errcheck
	r, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: not a BAM file", b.Path)
	}
	defer r.Close() // nolint: errcheck
	return r.Header(), nil
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse > 0 {
		vlog.Fatalf("%s: closed with %d iterators in use", b.Path, b.inUse)
	}
	for _, it := range b.parked {
		it.release()
	}
	b.parked = nil
	return b.errs.Err()
}

// NewIterator implements the Provider interface.
func (b *BAMProvider) NewIterator(ref *sam.Reference, start, limit int) Iterator {
	it := b.acquire()
	if it.err == nil {
		it.seek(ref, start, limit)
	}
	return it
}

// acquire returns a parked iterator or opens a new one.  Failures are
// recorded in the returned iterator's err.
func (b *BAMProvider) acquire() *bamIterator {
	b.mu.Lock()
	b.inUse++
	if n := len(b.parked); n > 0 {
		it := b.parked[n-1]
		b.parked = b.parked[:n-1]
		b.mu.Unlock()
		it.inUse, it.err, it.rec = true, nil, nil
		return it
	}
	b.mu.Unlock()

	it := &bamIterator{provider: b, inUse: true}
	it.err = it.open()
	return it
}

// park takes back an iterator after Close.  Iterators that failed are not
// reused.
func (b *BAMProvider) park(it *bamIterator) {
	if !it.inUse {
		vlog.Fatalf("%s: iterator closed twice", b.Path)
	}
	it.inUse = false
	if it.Err() != nil {
		it.release()
		it = nil
	}
	b.mu.Lock()
	if it != nil {
		b.parked = append(b.parked, it)
	}
	b.inUse--
	b.mu.Unlock()
}

// bamIterator yields the records of ref whose start lies in [start, limit).
type bamIterator struct {
	provider *BAMProvider
	in       file.File
	reader   *bam.Reader
	index    *bam.Index

	ref          *sam.Reference
	start, limit int
	lastPos      int

	inUse bool
	err   error
	rec   *sam.Record
}

func (i *bamIterator) open() error {
	b := i.provider
	ctx := vcontext.Background()
	var err error
	if i.in, err = file.Open(ctx, b.Path); err != nil {
		return err
	}
	idx, err := file.Open(ctx, b.indexPath())
	if err != nil {
		return errors.Wrapf(err, "%s: BAM index missing", b.Path)
	}
	defer idx.Close(ctx) // nolint: errcheck
	if i.index, err = bam.ReadIndex(idx.Reader(ctx)); err != nil {
		return errors.Wrapf(err, "%s: unreadable BAM index %s", b.Path, b.indexPath())
	}
	if i.reader, err = bam.NewReader(i.in.Reader(ctx), 1); err != nil {
		return err
	}
	vlog.VI(1).Infof("%s: opened with index %s", b.Path, b.indexPath())
	return nil
}

// seek positions the reader at the first chunk the index lists for the
// range.  An empty range or one without indexed reads ends at once.
func (i *bamIterator) seek(ref *sam.Reference, start, limit int) {
	i.ref, i.start, i.limit, i.lastPos = ref, start, limit, -1
	if start >= limit {
		i.err = io.EOF
		return
	}
	chunks, err := i.index.Chunks(ref, start, limit)
	switch {
	case err == index.ErrInvalid || (err == nil && len(chunks) == 0):
		i.err = io.EOF
	case err != nil:
		i.err = err
	default:
		i.err = i.reader.Seek(chunks[0].Begin)
	}
}

// Scan implements the Iterator interface.
func (i *bamIterator) Scan() bool {
	if !i.inUse {
		vlog.Fatalf("%s: Scan on a closed iterator", i.provider.Path)
	}
	for i.err == nil {
		var r *sam.Record
		if r, i.err = i.reader.Read(); i.err != nil {
			break
		}
		i.rec = r
		switch {
		case r.Ref == nil || r.Ref.ID() > i.ref.ID():
			i.err = io.EOF
		case r.Ref.ID() < i.ref.ID() || r.Pos < i.start:
			// Chunks may begin before the range.
		case r.Pos < i.lastPos:
			i.err = fmt.Errorf("%s: record %s at %s:%d out of order; the BAM is unsorted or its index is stale",
				i.provider.Path, r.Name, i.ref.Name(), r.Pos)
		case r.Pos >= i.limit:
			i.err = io.EOF
		default:
			i.lastPos = r.Pos
			return true
		}
	}
	return false
}

// Record implements the Iterator interface.
func (i *bamIterator) Record() *sam.Record {
	return i.rec
}

// Err implements the Iterator interface.
func (i *bamIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *bamIterator) Close() error {
	err := i.Err()
	i.provider.park(i)
	return err
}

// release closes the underlying file and reports any error to the provider.
func (i *bamIterator) release() {
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.errs.Set(i.Err())
}
