// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// PIPESIZE is the capacity of a pipe's ring buffer.
const PIPESIZE = 512

// Pipe is an in-memory bounded FIFO with two open ends. nread and
// nwrite count bytes forever; their difference is the fill level, and
// their identities double as the sleep channels for readers and
// writers.
type Pipe struct {
	lock      Spinlock
	data      [PIPESIZE]byte
	nread     uint32 // number of bytes read
	nwrite    uint32 // number of bytes written
	readopen  bool   // read fd is still open
	writeopen bool   // write fd is still open
}

// pipealloc creates a pipe and its two file ends.
func (m *Machine) pipealloc(p *Proc) (rf, wf *File, ok bool) {
	rf = m.filealloc(p)
	wf = m.filealloc(p)
	if rf == nil || wf == nil {
		if rf != nil {
			m.fileclose(p, rf)
		}
		if wf != nil {
			m.fileclose(p, wf)
		}
		return nil, nil, false
	}
	pi := &Pipe{readopen: true, writeopen: true}
	pi.lock.init("pipe")

	rf.typ = fdPipe
	rf.readable = true
	rf.writable = false
	rf.pipe = pi
	wf.typ = fdPipe
	wf.readable = false
	wf.writable = true
	wf.pipe = pi
	return rf, wf, true
}

// pipeclose closes one end, waking the opposite side so it can
// observe EOF or a broken pipe.
func (m *Machine) pipeclose(p *Proc, pi *Pipe, writable bool) {
	pi.lock.acquire(p.cpu)
	if writable {
		pi.writeopen = false
		m.wakeup(p.cpu, &pi.nread)
	} else {
		pi.readopen = false
		m.wakeup(p.cpu, &pi.nwrite)
	}
	pi.lock.release(p.cpu)
}

// pipewrite blocks while the buffer is full and the reader is still
// around; it fails once the read end is closed or the writer is
// killed.
func (m *Machine) pipewrite(p *Proc, pi *Pipe, src []byte) int {
	pi.lock.acquire(p.cpu)
	for _, c := range src {
		for pi.nwrite == pi.nread+PIPESIZE {
			if !pi.readopen || p.isKilled() {
				pi.lock.release(p.cpu)
				return -1
			}
			m.wakeup(p.cpu, &pi.nread)
			m.sleep(p, &pi.nwrite, &pi.lock)
		}
		pi.data[pi.nwrite%PIPESIZE] = c
		pi.nwrite++
	}
	m.wakeup(p.cpu, &pi.nread)
	pi.lock.release(p.cpu)
	return len(src)
}

// piperead blocks while the buffer is empty and a writer remains;
// it returns 0 at EOF only when the write end is fully closed and the
// buffer has drained.
func (m *Machine) piperead(p *Proc, pi *Pipe, dst []byte) int {
	pi.lock.acquire(p.cpu)
	for pi.nread == pi.nwrite && pi.writeopen {
		if p.isKilled() {
			pi.lock.release(p.cpu)
			return -1
		}
		m.sleep(p, &pi.nread, &pi.lock)
	}
	var i int
	for i = 0; i < len(dst); i++ {
		if pi.nread == pi.nwrite {
			break
		}
		dst[i] = pi.data[pi.nread%PIPESIZE]
		pi.nread++
	}
	m.wakeup(p.cpu, &pi.nwrite)
	pi.lock.release(p.cpu)
	return i
}
