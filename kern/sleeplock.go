// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// SleepLock is the blocking mutex, layered on a spinlock that guards
// the locked flag. Contenders sleep on the lock object itself.
// Holding one is compatible with disk I/O and with taking further
// sleep-locks in a fixed order.
type SleepLock struct {
	locked bool
	lk     Spinlock

	name string
	pid  int // holder, for debugging
}

func (lk *SleepLock) init(name string) {
	lk.lk.init("sleep lock")
	lk.name = name
}

func (m *Machine) acquiresleep(p *Proc, lk *SleepLock) {
	lk.lk.acquire(p.cpu)
	for lk.locked {
		m.sleep(p, lk, &lk.lk)
	}
	lk.locked = true
	lk.pid = p.pid
	lk.lk.release(p.cpu)
}

func (m *Machine) releasesleep(p *Proc, lk *SleepLock) {
	lk.lk.acquire(p.cpu)
	lk.locked = false
	lk.pid = 0
	m.wakeup(p.cpu, lk)
	lk.lk.release(p.cpu)
}

// holdingsleep reports whether p holds lk.
func (m *Machine) holdingsleep(p *Proc, lk *SleepLock) bool {
	lk.lk.acquire(p.cpu)
	r := lk.locked && lk.pid == p.pid
	lk.lk.release(p.cpu)
	return r
}
