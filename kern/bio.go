// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// Buffer cache.
//
// The cache is a doubly linked list of Buf structures holding cached
// copies of disk block contents. Caching blocks in memory reduces the
// number of disk reads and also provides a synchronization point for
// blocks used by multiple processes:
//
//   - bread returns a locked buffer with valid contents.
//   - bwrite schedules a write of a modified buffer.
//   - brelse unlocks the buffer and moves it to the MRU end.
//
// At most one buffer exists per (dev, blockno); the cache spinlock
// serializes identity changes, while each buffer's sleep-lock
// serializes access to its contents.
type bcache struct {
	lock Spinlock
	buf  [NBUF]Buf

	// head.next is the most recently used buffer.
	head Buf
}

func (m *Machine) binit() {
	m.bcache.lock.init("bcache")

	m.bcache.head.prev = &m.bcache.head
	m.bcache.head.next = &m.bcache.head
	for i := range m.bcache.buf {
		b := &m.bcache.buf[i]
		b.next = m.bcache.head.next
		b.prev = &m.bcache.head
		b.lock.init("buffer")
		m.bcache.head.next.prev = b
		m.bcache.head.next = b
	}
}

// bget scans the cache for the block on device dev, allocating a
// buffer if it is not cached. Returns a locked buffer.
func (m *Machine) bget(p *Proc, dev, blockno uint32) *Buf {
	m.bcache.lock.acquire(p.cpu)

	// Is the block already cached?
	for b := m.bcache.head.next; b != &m.bcache.head; b = b.next {
		if b.dev == dev && b.blockno == blockno {
			b.refcnt++
			m.bcache.lock.release(p.cpu)
			m.acquiresleep(p, &b.lock)
			return b
		}
	}

	// Not cached; recycle an unused buffer. Even with refcnt zero a
	// dirty buffer is in use: the log has modified it but not yet
	// committed it.
	for b := m.bcache.head.prev; b != &m.bcache.head; b = b.prev {
		if b.refcnt == 0 && !b.dirty {
			b.dev = dev
			b.blockno = blockno
			b.valid = false
			b.refcnt = 1
			m.bcache.lock.release(p.cpu)
			m.acquiresleep(p, &b.lock)
			return b
		}
	}
	panic("bget: no buffers")
}

// bread returns a locked buffer with the contents of the indicated
// block.
func (m *Machine) bread(p *Proc, dev, blockno uint32) *Buf {
	b := m.bget(p, dev, blockno)
	if !b.valid {
		m.iderw(p, b)
	}
	return b
}

// bwrite writes b's contents to disk. The caller must hold the
// buffer's sleep-lock.
func (m *Machine) bwrite(p *Proc, b *Buf) {
	if !m.holdingsleep(p, &b.lock) {
		panic("bwrite")
	}
	b.dirty = true
	m.iderw(p, b)
}

// brelse releases a locked buffer and, once unreferenced, moves it to
// the head of the MRU list.
func (m *Machine) brelse(p *Proc, b *Buf) {
	if !m.holdingsleep(p, &b.lock) {
		panic("brelse")
	}

	m.releasesleep(p, &b.lock)

	m.bcache.lock.acquire(p.cpu)
	b.refcnt--
	if b.refcnt == 0 {
		// No one is waiting for it.
		b.next.prev = b.prev
		b.prev.next = b.next
		b.next = m.bcache.head.next
		b.prev = &m.bcache.head
		m.bcache.head.next.prev = b
		m.bcache.head.next = b
	}
	m.bcache.lock.release(p.cpu)
}
