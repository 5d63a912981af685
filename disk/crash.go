// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package disk

import "sync"

// CrashDisk wraps a Disk and simulates power loss at a chosen write:
// once tripped, every subsequent write is silently dropped, so the
// backing disk retains exactly the state an interrupted machine would
// have left behind. Reads keep working; the test simply abandons the
// wedged machine and boots a fresh one from the backing disk.
type CrashDisk struct {
	Disk

	mu      sync.Mutex
	allowed int // writes remaining before the crash; -1 = unlimited
	hook    func(blockno int, p []byte) bool
	crashed bool
	dropped int
}

// NewCrashDisk returns a wrapper that lets through allowed writes and
// drops the rest. allowed < 0 means never crash (until Trip).
func NewCrashDisk(d Disk, allowed int) *CrashDisk {
	return &CrashDisk{Disk: d, allowed: allowed}
}

// SetHook installs a predicate consulted before each write; returning
// false trips the crash. The hook runs before the allowed-write
// counter.
func (d *CrashDisk) SetHook(hook func(blockno int, p []byte) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hook = hook
}

// Trip forces the crash immediately.
func (d *CrashDisk) Trip() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crashed = true
}

// Crashed reports whether the crash point has been reached.
func (d *CrashDisk) Crashed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crashed
}

// Dropped returns the number of writes lost after the crash point.
func (d *CrashDisk) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *CrashDisk) WriteBlock(blockno int, p []byte) error {
	d.mu.Lock()
	if !d.crashed {
		if d.hook != nil && !d.hook(blockno, p) {
			d.crashed = true
		} else if d.allowed == 0 {
			d.crashed = true
		} else if d.allowed > 0 {
			d.allowed--
		}
	}
	if d.crashed {
		d.dropped++
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.Disk.WriteBlock(blockno, p)
}

var _ = (Disk)((*CrashDisk)(nil))
