// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamprovider_test

import (
	"path/filepath"
	"testing"

	"github.com/grailbio/diffbind/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(name string, ref *sam.Reference, pos int) *sam.Record {
	r := &sam.Record{}
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MapQ = 60
	r.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)}
	return r
}

func TestFakeProvider(t *testing.T) {
	chr1, _ := sam.NewReference("chr1", "", "", 1000, nil, nil)
	chr2, _ := sam.NewReference("chr2", "", "", 1000, nil, nil)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	require.NoError(t, err)

	p := bamprovider.NewFakeProvider("s1", header, []*sam.Record{
		newRecord("c", chr2, 5),
		newRecord("b", chr1, 50),
		newRecord("a", chr1, 10),
		newRecord("u", nil, 0),
	})
	expect.EQ(t, p.Name(), "s1")

	var names []string
	iter := p.NewIterator(chr1, 0, 1000)
	for iter.Scan() {
		names = append(names, iter.Record().Name)
	}
	require.NoError(t, iter.Close())
	expect.EQ(t, names, []string{"a", "b"})

	names = nil
	iter = p.NewIterator(chr1, 11, 1000)
	for iter.Scan() {
		names = append(names, iter.Record().Name)
	}
	require.NoError(t, iter.Close())
	expect.EQ(t, names, []string{"b"})

	ref := bamprovider.RefByName(header, "chr2")
	require.NotNil(t, ref)
	expect.EQ(t, ref.ID(), 1)
	expect.Nil(t, bamprovider.RefByName(header, "chrX"))
	require.NoError(t, p.Close())
}

func TestCheckHeadersMatch(t *testing.T) {
	chr1, _ := sam.NewReference("chr1", "", "", 1000, nil, nil)
	chr1b, _ := sam.NewReference("chr1", "", "", 2000, nil, nil)
	h1, _ := sam.NewHeader(nil, []*sam.Reference{chr1})
	h2, _ := sam.NewHeader(nil, []*sam.Reference{chr1b})

	same := []bamprovider.Provider{
		bamprovider.NewFakeProvider("a", h1, nil),
		bamprovider.NewFakeProvider("b", h1, nil),
	}
	h, err := bamprovider.CheckHeadersMatch(same)
	require.NoError(t, err)
	expect.EQ(t, len(h.Refs()), 1)

	_, err = bamprovider.CheckHeadersMatch([]bamprovider.Provider{
		bamprovider.NewFakeProvider("a", h1, nil),
		bamprovider.NewFakeProvider("b", h2, nil),
	})
	assert.Error(t, err)
	_, err = bamprovider.CheckHeadersMatch(nil)
	assert.Error(t, err)
}

func TestBAMProviderMissingFile(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	p := bamprovider.NewProvider(filepath.Join(tempDir, "missing.bam"))
	_, err := p.GetHeader()
	assert.Error(t, err)
	assert.Error(t, p.Close())
}
