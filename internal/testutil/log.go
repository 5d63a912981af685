// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import "log"

func init() {
	// For test, the date is irrelevant, but microseconds are.
	log.SetFlags(log.Lmicroseconds)
}

// Logger returns a kernel diagnostics logger that is silent unless
// DEBUG=1 is set.
func Logger() *log.Logger {
	if VerboseTest() {
		return log.Default()
	}
	return nil
}
