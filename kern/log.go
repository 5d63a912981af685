// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "encoding/binary"

// Write-ahead log, turning the block writes of one or more concurrent
// system calls into a single crash-atomic transaction.
//
// A system call that will touch the disk brackets its work with
// beginOp/endOp. beginOp admits the call only while no commit is in
// progress and the reservation (outstanding+1)*MAXOPBLOCKS still fits
// in the log. Inside the op, logWrite replaces bwrite: it records the
// block number in the in-memory header (absorbing duplicates) and
// pins the buffer in the cache by marking it dirty. The last endOp
// commits:
//
//	write each pinned block into its log slot
//	write the header            <- the commit point
//	install the blocks home
//	clear the header
//
// On boot, recovery replays whatever a committed header names; doing
// so repeatedly is safe.

// logheader names the data blocks of the current transaction, both in
// memory and on disk. It must fit in one block.
type logheader struct {
	n     int32
	block [LOGSIZE]int32
}

type logState struct {
	lock        Spinlock
	start       int32
	size        int32
	outstanding int32 // how many FS sys calls are executing
	committing  bool  // in commit(), please wait
	dev         uint32
	lh          logheader
}

func (m *Machine) initlog(p *Proc, dev uint32) {
	if 4+4*LOGSIZE >= BSIZE {
		panic("initlog: too big logheader")
	}

	var sb Superblock
	m.log.lock.init("log")
	m.readsb(p, dev, &sb)
	m.log.start = int32(sb.Logstart)
	m.log.size = int32(sb.Nlog)
	m.log.dev = dev
	m.recoverFromLog(p)
}

// installTrans copies committed blocks from the log to their home
// locations. With copyFromLog false it only rewrites the home blocks already
// staged in the cache (the in-memory transaction).
func (m *Machine) installTrans(p *Proc, copyFromLog bool) {
	for tail := int32(0); tail < m.log.lh.n; tail++ {
		dbuf := m.bread(p, m.log.dev, uint32(m.log.lh.block[tail]))
		if copyFromLog {
			lbuf := m.bread(p, m.log.dev, uint32(m.log.start+tail+1))
			copy(dbuf.data[:], lbuf.data[:])
			m.brelse(p, lbuf)
		}
		m.bwrite(p, dbuf)
		m.brelse(p, dbuf)
	}
}

// readHead reads the log header from disk into the in-memory header.
func (m *Machine) readHead(p *Proc) {
	buf := m.bread(p, m.log.dev, uint32(m.log.start))
	m.log.lh.n = int32(binary.LittleEndian.Uint32(buf.data[:]))
	for i := int32(0); i < m.log.lh.n; i++ {
		m.log.lh.block[i] = int32(binary.LittleEndian.Uint32(buf.data[4+4*i:]))
	}
	m.brelse(p, buf)
}

// writeHead writes the in-memory log header to disk. This is the
// point at which the current transaction commits.
func (m *Machine) writeHead(p *Proc) {
	buf := m.bread(p, m.log.dev, uint32(m.log.start))
	binary.LittleEndian.PutUint32(buf.data[:], uint32(m.log.lh.n))
	for i := int32(0); i < m.log.lh.n; i++ {
		binary.LittleEndian.PutUint32(buf.data[4+4*i:], uint32(m.log.lh.block[i]))
	}
	m.bwrite(p, buf)
	m.brelse(p, buf)
}

func (m *Machine) recoverFromLog(p *Proc) {
	m.readHead(p)
	m.installTrans(p, true) // if committed, copy from log to disk
	m.log.lh.n = 0
	m.writeHead(p) // clear the log
}

// beginOp is called at the start of each FS system call.
func (m *Machine) beginOp(p *Proc) {
	m.log.lock.acquire(p.cpu)
	for {
		if m.log.committing {
			m.sleep(p, &m.log, &m.log.lock)
		} else if m.log.lh.n+(m.log.outstanding+1)*MAXOPBLOCKS > LOGSIZE {
			// This op might exhaust log space; wait for commit.
			m.sleep(p, &m.log, &m.log.lock)
		} else {
			m.log.outstanding++
			m.log.lock.release(p.cpu)
			break
		}
	}
}

// endOp is called at the end of each FS system call and commits if
// this was the last outstanding operation.
func (m *Machine) endOp(p *Proc) {
	doCommit := false

	m.log.lock.acquire(p.cpu)
	m.log.outstanding--
	if m.log.committing {
		panic("log.committing")
	}
	if m.log.outstanding == 0 {
		doCommit = true
		m.log.committing = true
	} else {
		// beginOp may be waiting for log space, and decrementing
		// outstanding has decreased the amount of reserved space.
		m.wakeup(p.cpu, &m.log)
	}
	m.log.lock.release(p.cpu)

	if doCommit {
		// Call commit without holding a lock, since sleeping with
		// locks held is not allowed.
		m.commit(p)
		m.log.lock.acquire(p.cpu)
		m.log.committing = false
		m.wakeup(p.cpu, &m.log)
		m.log.lock.release(p.cpu)
	}
}

// writeLog copies modified blocks from the cache to the log region.
func (m *Machine) writeLog(p *Proc) {
	for tail := int32(0); tail < m.log.lh.n; tail++ {
		to := m.bread(p, m.log.dev, uint32(m.log.start+tail+1))
		from := m.bread(p, m.log.dev, uint32(m.log.lh.block[tail]))
		copy(to.data[:], from.data[:])
		m.bwrite(p, to)
		m.brelse(p, from)
		m.brelse(p, to)
	}
}

func (m *Machine) commit(p *Proc) {
	if m.log.lh.n > 0 {
		m.writeLog(p)            // write modified blocks from cache to log
		m.writeHead(p)           // write header to disk -- the real commit
		m.installTrans(p, false) // install writes to home locations
		m.log.lh.n = 0
		m.writeHead(p) // erase the transaction from the log
	}
}

// logWrite replaces bwrite inside a transaction. The caller has
// modified b.data; record the block number, pin the buffer by marking
// it dirty, and let commit do the disk writes. Typical use:
//
//	bp := m.bread(...)
//	modify bp.data[:]
//	m.logWrite(p, bp)
//	m.brelse(p, bp)
func (m *Machine) logWrite(p *Proc, b *Buf) {
	if m.log.lh.n >= LOGSIZE || m.log.lh.n >= m.log.size-1 {
		panic("too big a transaction")
	}
	if m.log.outstanding < 1 {
		panic("log_write outside of trans")
	}

	m.log.lock.acquire(p.cpu)
	var i int32
	for i = 0; i < m.log.lh.n; i++ {
		if m.log.lh.block[i] == int32(b.blockno) { // log absorption
			break
		}
	}
	m.log.lh.block[i] = int32(b.blockno)
	if i == m.log.lh.n {
		m.log.lh.n++
	}
	b.dirty = true // prevent eviction
	m.log.lock.release(p.cpu)
}
