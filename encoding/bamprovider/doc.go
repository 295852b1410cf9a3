// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bamprovider gives indexed, per-chromosome access to the aligned
// reads of one sample.
//
// The Provider is an interface over a coordinate-sorted, indexed BAM file.
// NewFakeProvider serves in-memory records for unittests.
package bamprovider
