// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is the interrupt-safe mutual exclusion primitive. Acquiring
// always disables interrupts on the acquiring CPU first (pushcli), and
// the nesting counter restores the original interrupt state only when
// the last lock is released. A kernel thread never blocks while
// holding one; contenders busy-wait.
//
// sync.Mutex would hide exactly the machinery this type exists to
// expose: sched() must be able to assert the pushcli nesting depth,
// and holding() must identify the owning CPU.
type Spinlock struct {
	locked uint32
	name   string
	cpu    atomic.Pointer[CPU]
}

func (lk *Spinlock) init(name string) {
	lk.name = name
}

// acquire spins until the lock is held by c. Re-acquisition by the
// same CPU is a fatal error.
func (lk *Spinlock) acquire(c *CPU) {
	c.pushcli() // disable interrupts to avoid deadlock
	if lk.holding(c) {
		panic("acquire " + lk.name)
	}

	for !atomic.CompareAndSwapUint32(&lk.locked, 0, 1) {
		runtime.Gosched()
	}
	// The CAS is the memory barrier: loads and stores of the
	// critical section cannot move above it.
	lk.cpu.Store(c)
}

// release drops the lock and, at nesting depth zero, restores the
// interrupt state captured by the first pushcli.
func (lk *Spinlock) release(c *CPU) {
	if !lk.holding(c) {
		panic("release " + lk.name)
	}
	lk.cpu.Store(nil)
	// The atomic store publishes every write of the critical
	// section before the lock appears free.
	atomic.StoreUint32(&lk.locked, 0)
	c.popcli()
}

// holding reports whether CPU c owns the lock.
func (lk *Spinlock) holding(c *CPU) bool {
	return atomic.LoadUint32(&lk.locked) != 0 && lk.cpu.Load() == c
}

// pushcli/popcli are like cli/sti except that they nest: it takes two
// popcli to undo two pushcli, and if interrupts were already off then
// pushcli, popcli leaves them off.

func (c *CPU) pushcli() {
	was := c.intrOn
	c.intrOn = false
	if c.ncli == 0 {
		c.intena = was
	}
	c.ncli++
}

func (c *CPU) popcli() {
	if c.intrOn {
		panic("popcli - interruptible")
	}
	c.ncli--
	if c.ncli < 0 {
		panic("popcli")
	}
	if c.ncli == 0 && c.intena {
		c.intrOn = true
	}
}

// sti enables interrupts on c, as the scheduler loop does at the top
// of each scan.
func (c *CPU) sti() { c.intrOn = true }
