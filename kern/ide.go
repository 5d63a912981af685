// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// IDE driver. One request is in flight at a time; pending buffers wait
// on a singly linked queue. The controller goroutine stands in for the
// drive plus its IRQ line: it performs the transfer against the
// backing Disk and then runs ideintr, exactly what the interrupt
// handler would do on hardware.
type ideState struct {
	lock  Spinlock
	queue *Buf // head is the request being served

	reqCh chan *Buf
}

func (m *Machine) ideinit() {
	m.ide.lock.init("ide")
	m.ide.reqCh = make(chan *Buf, 1)
	go m.idecontroller()
}

// idestart hands the buffer at the head of the queue to the
// controller. The caller must hold the IDE lock.
func (m *Machine) idestart(b *Buf) {
	if b == nil {
		panic("idestart")
	}
	if int(b.blockno) >= m.disk.Size() {
		panic("incorrect blockno")
	}
	m.ide.reqCh <- b
}

// idecontroller serves one request at a time: transfer, then deliver
// the completion interrupt.
func (m *Machine) idecontroller() {
	for {
		var b *Buf
		select {
		case b = <-m.ide.reqCh:
		case <-m.stopCh:
			return
		}
		var err error
		if b.dirty {
			err = m.disk.WriteBlock(int(b.blockno), b.data[:])
		} else {
			err = m.disk.ReadBlock(int(b.blockno), b.data[:])
		}
		if err != nil {
			m.logf("ide: block %d: %v", b.blockno, err)
		}
		m.ideintr()
	}
}

// ideintr completes the head request: mark the buffer valid and
// clean, wake its waiters, and start the next request.
func (m *Machine) ideintr() {
	c := &m.ideCPU
	m.ide.lock.acquire(c)

	b := m.ide.queue
	if b == nil {
		m.ide.lock.release(c)
		return
	}
	m.ide.queue = b.qnext

	// Wake the process waiting for this buffer.
	b.valid = true
	b.dirty = false
	m.wakeup(c, b)

	// Start disk on next buffer in queue.
	if m.ide.queue != nil {
		m.idestart(m.ide.queue)
	}

	m.ide.lock.release(c)
}

// iderw syncs the buffer with the disk: if dirty, write it and clear
// dirty; otherwise read it and set valid. The caller must hold the
// buffer's sleep-lock, and exactly one of those two states must apply.
func (m *Machine) iderw(p *Proc, b *Buf) {
	if !m.holdingsleep(p, &b.lock) {
		panic("iderw: buf not locked")
	}
	if b.valid && !b.dirty {
		panic("iderw: nothing to do")
	}

	m.ide.lock.acquire(p.cpu)

	// Append b to the request queue.
	b.qnext = nil
	pp := &m.ide.queue
	for *pp != nil {
		pp = &(*pp).qnext
	}
	*pp = b

	// Start disk if necessary.
	if m.ide.queue == b {
		m.idestart(b)
	}

	// Wait for the request to finish.
	for !(b.valid && !b.dirty) {
		m.sleep(p, b, &m.ide.lock)
	}

	m.ide.lock.release(p.cpu)
}
