// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package normalize removes technical biases between ChIP-seq libraries.
//
// Scaling methods (Composition, Efficiency, SpikeIn) compute one TMM factor
// per sample from auxiliary counts and attach it to the window matrix; the
// auxiliary counts must come from the same libraries under the same read
// parameters.  Loess instead attaches a per-window, per-sample log offset.
package normalize
