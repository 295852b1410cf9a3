// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// splitBEDLine stores up to len(fields) whitespace-separated fields of line
// in fields and returns how many it found.  The fields alias line.
func splitBEDLine(line []byte, fields [][]byte) int {
	n, start := 0, -1
	for i := 0; i <= len(line) && n < len(fields); i++ {
		sep := i == len(line) || line[i] <= ' '
		switch {
		case sep && start >= 0:
			fields[n] = line[start:i]
			n++
			start = -1
		case !sep && start < 0:
			start = i
		}
	}
	return n
}

// BEDOpts configures BED loading.
type BEDOpts struct {
	// OneBasedInput interprets the BED interval boundaries as one-based [start,
	// end] instead of the usual zero-based [start, end).
	OneBasedInput bool
}

// isBEDHeader reports whether line is a comment, track or browser line.
func isBEDHeader(line []byte) bool {
	return bytes.HasPrefix(line, []byte("#")) ||
		bytes.HasPrefix(line, []byte("track")) ||
		bytes.HasPrefix(line, []byte("browser"))
}

// ReadBED loads every interval from a BED stream, preserving input order and
// keeping overlapping intervals separate.  The optional name (4th) and strand
// (6th) columns are retained.
func ReadBED(reader io.Reader, opts BEDOpts) ([]Entry, error) {
	sc := bufio.NewScanner(reader)
	var (
		fields  [6][]byte
		entries []Entry
	)
	for line := 1; sc.Scan(); line++ {
		text := sc.Bytes()
		if isBEDHeader(text) {
			continue
		}
		n := splitBEDLine(text, fields[:])
		if n == 0 {
			continue
		}
		if n < 3 {
			return nil, fmt.Errorf("interval.ReadBED: line %d: expected at least 3 columns, got %d", line, n)
		}
		var coords [2]int
		for k := range coords {
			v, err := strconv.Atoi(gunsafe.BytesToString(fields[k+1]))
			if err != nil {
				return nil, errors.E(err, "interval.ReadBED: line", line)
			}
			coords[k] = v
		}
		if opts.OneBasedInput {
			coords[0]--
		}
		if coords[0] < 0 || coords[1] < coords[0] || coords[1] >= PosTypeMax {
			return nil, fmt.Errorf("interval.ReadBED: line %d: invalid interval [%d, %d)", line, coords[0], coords[1])
		}
		e := Entry{ChrName: string(fields[0]), Start0: PosType(coords[0]), End: PosType(coords[1])}
		if n >= 4 {
			e.Name = string(fields[3])
		}
		if n >= 6 && (string(fields[5]) == "+" || string(fields[5]) == "-") {
			e.Strand = fields[5][0]
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadBEDFromPath is a wrapper for ReadBED that takes a path instead of an
// io.Reader.  Gzipped input is detected from the file extension.
func ReadBEDFromPath(ctx context.Context, path string, opts BEDOpts) (entries []Entry, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return
		}
		defer gz.Close() // nolint: errcheck
		reader = gz
	}
	if entries, err = ReadBED(reader, opts); err != nil {
		return
	}
	log.Printf("%s: %d BED interval(s) loaded", path, len(entries))
	return
}
