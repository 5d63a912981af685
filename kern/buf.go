// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "github.com/hanwen/go-xv6/disk"

// BSIZE is the unit of disk I/O.
const BSIZE = disk.BlockSize

// Buf is a cached image of one disk block.
//
// valid means the contents match the disk (or staged writes that the
// log will install); dirty means the contents must go to disk. A dirty
// buffer counts as in use even with refcnt zero, because the log has
// pinned it until commit.
type Buf struct {
	valid   bool
	dirty   bool
	dev     uint32
	blockno uint32
	lock    SleepLock
	refcnt  uint32
	prev    *Buf // LRU cache list
	next    *Buf
	qnext   *Buf // disk queue
	data    [BSIZE]byte
}

// Data returns the block contents. The caller must hold the buffer's
// sleep-lock.
func (b *Buf) Data() []byte { return b.data[:] }

// Blockno returns the block number the buffer currently holds.
func (b *Buf) Blockno() uint32 { return b.blockno }
