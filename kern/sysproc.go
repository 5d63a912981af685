// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "time"

// Process-related system calls.

func (m *Machine) sysFork(p *Proc) int32 {
	return int32(m.fork(p))
}

func (m *Machine) sysExit(p *Proc) int32 {
	m.exit(p)
	return 0 // not reached
}

func (m *Machine) sysWait(p *Proc) int32 {
	return int32(m.wait(p))
}

func (m *Machine) sysKill(p *Proc) int32 {
	pid, ok := m.argint(p, 0)
	if !ok {
		return -1
	}
	return int32(m.kill(p.cpu, int(pid)))
}

func (m *Machine) sysGetpid(p *Proc) int32 {
	return int32(p.pid)
}

func (m *Machine) sysSbrk(p *Proc) int32 {
	n, ok := m.argint(p, 0)
	if !ok {
		return -1
	}
	addr := p.sz
	if m.growproc(p, int(n)) < 0 {
		return -1
	}
	return int32(addr)
}

func (m *Machine) sysSleep(p *Proc) int32 {
	n, ok := m.argint(p, 0)
	if !ok {
		return -1
	}
	m.tickslock.acquire(p.cpu)
	ticks0 := m.ticks
	for m.ticks-ticks0 < uint32(n) {
		if p.isKilled() {
			m.tickslock.release(p.cpu)
			return -1
		}
		m.sleep(p, &m.ticks, &m.tickslock)
	}
	m.tickslock.release(p.cpu)
	return 0
}

// sysUptime returns how many clock tick interrupts have occurred
// since start.
func (m *Machine) sysUptime(p *Proc) int32 {
	m.tickslock.acquire(p.cpu)
	xticks := m.ticks
	m.tickslock.release(p.cpu)
	return int32(xticks)
}

// rtcdateSize is the byte size of the rtcdate struct filled by date:
// six 32-bit fields.
const rtcdateSize = 24

// sysDate fills a struct rtcdate with the current wall-clock time.
// The CMOS RTC is an external collaborator; the host clock stands in
// for it.
func (m *Machine) sysDate(p *Proc) int32 {
	va, ok := m.argptr(p, 0, rtcdateSize)
	if !ok {
		return -1
	}
	now := time.Now()
	var buf [rtcdateSize]byte
	for i, v := range []uint32{
		uint32(now.Second()),
		uint32(now.Minute()),
		uint32(now.Hour()),
		uint32(now.Day()),
		uint32(now.Month()),
		uint32(now.Year()),
	} {
		buf[4*i] = byte(v)
		buf[4*i+1] = byte(v >> 8)
		buf[4*i+2] = byte(v >> 16)
		buf[4*i+3] = byte(v >> 24)
	}
	if m.copyout(p.pgdir, va, buf[:]) < 0 {
		return -1
	}
	return 0
}
