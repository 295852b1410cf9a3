// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package glm

import "github.com/exascience/pargo/parallel"

// forRows runs f over [0, n) split into parallel batches.
func forRows(n int, f func(low, high int)) {
	if n <= 0 {
		return
	}
	parallel.Range(0, n, 0, f)
}
