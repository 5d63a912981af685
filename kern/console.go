// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// Console device, major number CONSOLE in the devsw table. The
// terminal hardware itself (UART, keyboard controller) is an external
// collaborator: output goes to the configured io.Writer, and input
// arrives through ConsoleInput, which runs the interrupt handler the
// keyboard or COM1 IRQ would run.

const inputBufSize = 128

type console struct {
	lock Spinlock

	buf  [inputBufSize]byte
	r, w uint32 // read and write indices into buf
}

func (m *Machine) consoleinit() {
	m.cons.lock.init("console")
	m.devsw[CONSOLE].read = m.consoleread
	m.devsw[CONSOLE].write = m.consolewrite
}

// consoleread blocks until input is available, returning at most one
// line. The inode is unlocked while sleeping so that writers to the
// same device node are not held up.
func (m *Machine) consoleread(p *Proc, ip *Inode, dst []byte) int {
	m.iunlock(p, ip)
	m.cons.lock.acquire(p.cpu)

	n := 0
	for n < len(dst) {
		if m.cons.r == m.cons.w {
			if n > 0 {
				break
			}
			if p.isKilled() {
				m.cons.lock.release(p.cpu)
				m.ilock(p, ip)
				return -1
			}
			m.sleep(p, &m.cons.r, &m.cons.lock)
			continue
		}
		c := m.cons.buf[m.cons.r%inputBufSize]
		m.cons.r++
		dst[n] = c
		n++
		if c == '\n' {
			break
		}
	}

	m.cons.lock.release(p.cpu)
	m.ilock(p, ip)
	return n
}

// consolewrite copies the data to the configured output writer.
func (m *Machine) consolewrite(p *Proc, ip *Inode, src []byte) int {
	m.iunlock(p, ip)
	m.cons.lock.acquire(p.cpu)
	m.out.Write(src)
	m.cons.lock.release(p.cpu)
	m.ilock(p, ip)
	return len(src)
}

// consoleintr is the input interrupt handler, running on the console
// interrupt pseudo-CPU.
func (m *Machine) consoleintr(c byte) {
	cc := &m.consCPU
	m.cons.lock.acquire(cc)
	if m.cons.w-m.cons.r < inputBufSize {
		m.cons.buf[m.cons.w%inputBufSize] = c
		m.cons.w++
		m.wakeup(cc, &m.cons.r)
	}
	m.cons.lock.release(cc)
}

// ConsoleInput feeds bytes to the console, as the keyboard or serial
// line would. It must not be called concurrently with itself.
func (m *Machine) ConsoleInput(data []byte) {
	for _, c := range data {
		m.consoleintr(c)
	}
}
