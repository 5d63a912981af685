// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "encoding/binary"

// Open file descriptions and the devsw table.

// Stat is the metadata returned by fstat.
type Stat struct {
	Type  int16  // type of file
	Dev   int32  // file system's disk device
	Ino   uint32 // inode number
	Nlink int16  // number of links to file
	Size  uint32 // size of file in bytes
}

// statSize is the byte size of the C layout of Stat: i16 type, pad,
// i32 dev, u32 ino, i16 nlink, pad, u32 size.
const statSize = 20

func encodeStat(st *Stat, p []byte) {
	binary.LittleEndian.PutUint16(p[0:], uint16(st.Type))
	binary.LittleEndian.PutUint32(p[4:], uint32(st.Dev))
	binary.LittleEndian.PutUint32(p[8:], st.Ino)
	binary.LittleEndian.PutUint16(p[12:], uint16(st.Nlink))
	binary.LittleEndian.PutUint32(p[16:], st.Size)
}

type fileType int

const (
	fdNone fileType = iota
	fdPipe
	fdInode
)

// File is a reference-counted open-file description, shared across
// fork and dup.
type File struct {
	typ      fileType
	ref      int
	readable bool
	writable bool
	pipe     *Pipe
	ip       *Inode
	off      uint32
}

// devsw maps a major device number to device read/write functions.
type devsw struct {
	read  func(p *Proc, ip *Inode, dst []byte) int
	write func(p *Proc, ip *Inode, src []byte) int
}

// CONSOLE is the major device number of the console.
const CONSOLE = 1

type ftable struct {
	lock Spinlock
	file [NFILE]File
}

func (m *Machine) fileinit() {
	m.ftable.lock.init("ftable")
}

// filealloc allocates a file structure.
func (m *Machine) filealloc(p *Proc) *File {
	m.ftable.lock.acquire(p.cpu)
	for i := range m.ftable.file {
		f := &m.ftable.file[i]
		if f.ref == 0 {
			f.ref = 1
			m.ftable.lock.release(p.cpu)
			return f
		}
	}
	m.ftable.lock.release(p.cpu)
	return nil
}

// filedup increments the reference count of f.
func (m *Machine) filedup(p *Proc, f *File) *File {
	m.ftable.lock.acquire(p.cpu)
	if f.ref < 1 {
		panic("filedup")
	}
	f.ref++
	m.ftable.lock.release(p.cpu)
	return f
}

// fileclose drops a reference to f and, on the last one, closes the
// underlying pipe end or inode. Closing an inode may trigger a
// truncate-and-free, so that path runs inside a transaction.
func (m *Machine) fileclose(p *Proc, f *File) {
	m.ftable.lock.acquire(p.cpu)
	if f.ref < 1 {
		panic("fileclose")
	}
	f.ref--
	if f.ref > 0 {
		m.ftable.lock.release(p.cpu)
		return
	}
	ff := *f
	f.ref = 0
	f.typ = fdNone
	m.ftable.lock.release(p.cpu)

	if ff.typ == fdPipe {
		m.pipeclose(p, ff.pipe, ff.writable)
	} else if ff.typ == fdInode {
		m.beginOp(p)
		m.iput(p, ff.ip)
		m.endOp(p)
	}
}

// filestat fills st with metadata about f.
func (m *Machine) filestat(p *Proc, f *File, st *Stat) int {
	if f.typ == fdInode {
		m.ilock(p, f.ip)
		stati(f.ip, st)
		m.iunlock(p, f.ip)
		return 0
	}
	return -1
}

// fileread reads from f into dst, advancing the offset.
func (m *Machine) fileread(p *Proc, f *File, dst []byte) int {
	if !f.readable {
		return -1
	}
	switch f.typ {
	case fdPipe:
		return m.piperead(p, f.pipe, dst)
	case fdInode:
		m.ilock(p, f.ip)
		r := m.readi(p, f.ip, dst, f.off)
		if r > 0 {
			f.off += uint32(r)
		}
		m.iunlock(p, f.ip)
		return r
	}
	panic("fileread")
}

// filewrite writes src to f. Inode writes are split into chunks so
// that no single transaction exceeds the log's per-op budget,
// including the worst case of two bitmap blocks, two indirect-block
// writes, the inode update, and data blocks that straddle a boundary.
func (m *Machine) filewrite(p *Proc, f *File, src []byte) int {
	if !f.writable {
		return -1
	}
	switch f.typ {
	case fdPipe:
		return m.pipewrite(p, f.pipe, src)
	case fdInode:
		max := ((MAXOPBLOCKS - 1 - 1 - 2) / 2) * BSIZE
		i := 0
		for i < len(src) {
			n := len(src) - i
			if n > max {
				n = max
			}

			m.beginOp(p)
			m.ilock(p, f.ip)
			r := m.writei(p, f.ip, src[i:i+n], f.off)
			if r > 0 {
				f.off += uint32(r)
			}
			m.iunlock(p, f.ip)
			m.endOp(p)

			if r < 0 {
				break
			}
			if r != n {
				panic("short filewrite")
			}
			i += r
		}
		if i == len(src) {
			return len(src)
		}
		return -1
	}
	panic("filewrite")
}
