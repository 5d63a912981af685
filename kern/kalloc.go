// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "encoding/binary"

// Physical page allocator. Allocates 4096-byte pages of the simulated
// physical memory for user memory, page-table pages and the first-user
// image. The free list is threaded through the pages themselves: the
// first word of a free page holds the physical address of the next
// free page.
type kmem struct {
	lock     Spinlock
	useLock  bool
	freelist uint32 // physical address of first free page; 0 if empty
}

// Initialization happens in two phases: kinit1 is called before any
// other CPU or interrupt source exists and runs without locking;
// kinit2 enables locking and frees the rest of physical memory.
func (m *Machine) kinit1(start, end uint32) {
	m.kmem.lock.init("kmem")
	m.kmem.useLock = false
	m.freerange(start, end)
}

func (m *Machine) kinit2(start, end uint32) {
	m.freerange(start, end)
	m.kmem.useLock = true
}

func (m *Machine) freerange(start, end uint32) {
	for pa := pgRoundUp(start); pa+PGSIZE <= end; pa += PGSIZE {
		m.kfree(m.bootCPU, pa)
	}
}

// kfree frees the page of physical memory at pa, which must be
// page-aligned, above the kernel image and below physical top.
func (m *Machine) kfree(c *CPU, pa uint32) {
	if pa%PGSIZE != 0 || pa < kernEnd || pa >= m.physTop {
		panic("kfree")
	}

	// Fill with junk to catch dangling reads.
	pg := m.page(pa)
	for i := range pg {
		pg[i] = 1
	}

	if m.kmem.useLock {
		m.kmem.lock.acquire(c)
	}
	binary.LittleEndian.PutUint32(pg, m.kmem.freelist)
	m.kmem.freelist = pa
	if m.kmem.useLock {
		m.kmem.lock.release(c)
	}
}

// kalloc returns the physical address of a zeroed 4096-byte page, or
// 0 if the memory cannot be allocated. Running out of pages is policy,
// not a broken contract, so the caller decides what failure means.
func (m *Machine) kalloc(c *CPU) uint32 {
	if m.kmem.useLock {
		m.kmem.lock.acquire(c)
	}
	pa := m.kmem.freelist
	if pa != 0 {
		m.kmem.freelist = binary.LittleEndian.Uint32(m.page(pa))
	}
	if m.kmem.useLock {
		m.kmem.lock.release(c)
	}
	if pa != 0 {
		pg := m.page(pa)
		for i := range pg {
			pg[i] = 0
		}
	}
	return pa
}

// page returns the physical page at pa as a byte slice.
func (m *Machine) page(pa uint32) []byte {
	return m.phys[pa : pa+PGSIZE]
}
