// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This is a repository containing a Go rendition of the xv6 teaching
// kernel's core, run as a deterministic user-space simulation.
//
// Go to https://godoc.org/github.com/hanwen/go-xv6/kern for the
// in-depth documentation for the kernel itself; disk images are built
// with github.com/hanwen/go-xv6/mkfs and user programs live in
// github.com/hanwen/go-xv6/uprog.
package lib
