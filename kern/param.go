// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// System-wide sizing. These mirror the classic teaching-kernel values;
// changing MAXOPBLOCKS requires LOGSIZE >= 3*MAXOPBLOCKS (see log.go).
const (
	NPROC       = 64              // maximum number of processes
	KSTACKSIZE  = 4096            // size of each process's kernel stack
	NCPU        = 8               // maximum number of CPUs
	NOFILE      = 16              // open files per process
	NFILE       = 100             // open files per system
	NINODE      = 50              // maximum number of active inodes
	NDEV        = 10              // maximum major device number
	ROOTDEV     = 1               // device number of root file system
	MAXARG      = 32              // max exec arguments
	MAXOPBLOCKS = 10              // max blocks any FS op may write
	LOGSIZE     = MAXOPBLOCKS * 3 // max data blocks in on-disk log
	NBUF        = MAXOPBLOCKS * 3 // size of disk block cache
	FSSIZE      = 40000           // default file system size in blocks
)
