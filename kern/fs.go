// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "encoding/binary"

// File system implementation. Five layers:
//
//   - blocks: the raw disk block allocator
//   - log: crash recovery for multi-step updates
//   - files: inode allocator, reading, writing, metadata
//   - directories: inodes whose content is a list of other inodes
//   - names: paths like /usr/rtm/xv6/fs.c, for convenient naming
//
// This file contains the low-level file system routines; the (higher
// level) system call implementations are in sysfile.go.

const (
	ROOTINO = 1 // root inode number

	NDIRECT   = 12
	NINDIRECT = BSIZE / 4
	MAXFILE   = NDIRECT + NINDIRECT

	// DIRSIZ bounds directory entry names.
	DIRSIZ = 14

	dinodeSize = 64
	IPB        = BSIZE / dinodeSize // inodes per block
	BPB        = BSIZE * 8          // bitmap bits per block

	direntSize = 16
)

// File types stored in an inode. Zero means the on-disk inode is free.
const (
	T_DIR  = 1 // directory
	T_FILE = 2 // file
	T_DEV  = 3 // device
)

// Superblock describes the disk layout:
//
//	[ boot block | super block | log | inode blocks | free bit map | data blocks ]
type Superblock struct {
	Size       uint32 // size of file system image in blocks
	Nblocks    uint32 // number of data blocks
	Ninodes    uint32 // number of inodes
	Nlog       uint32 // number of log blocks
	Logstart   uint32 // block number of first log block
	Inodestart uint32 // block number of first inode block
	Bmapstart  uint32 // block number of first free map block
}

// EncodeSuperblock writes sb in its on-disk layout into p.
func EncodeSuperblock(sb *Superblock, p []byte) {
	for i, v := range []uint32{sb.Size, sb.Nblocks, sb.Ninodes, sb.Nlog, sb.Logstart, sb.Inodestart, sb.Bmapstart} {
		binary.LittleEndian.PutUint32(p[4*i:], v)
	}
}

// DecodeSuperblock parses the on-disk superblock layout.
func DecodeSuperblock(p []byte) Superblock {
	var v [7]uint32
	for i := range v {
		v[i] = binary.LittleEndian.Uint32(p[4*i:])
	}
	return Superblock{v[0], v[1], v[2], v[3], v[4], v[5], v[6]}
}

// readsb reads the super block from block 1.
func (m *Machine) readsb(p *Proc, dev uint32, sb *Superblock) {
	bp := m.bread(p, dev, 1)
	*sb = DecodeSuperblock(bp.data[:])
	m.brelse(p, bp)
}

// iblock returns the block containing inode inum.
func iblock(inum uint32, sb *Superblock) uint32 { return inum/IPB + sb.Inodestart }

// bblock returns the free-map block holding block b's bit.
func bblock(b uint32, sb *Superblock) uint32 { return b/BPB + sb.Bmapstart }

// bzero zeroes a block through the log.
func (m *Machine) bzero(p *Proc, dev, bno uint32) {
	bp := m.bread(p, dev, bno)
	for i := range bp.data {
		bp.data[i] = 0
	}
	m.logWrite(p, bp)
	m.brelse(p, bp)
}

// Blocks.

// balloc allocates a zeroed disk block, or returns 0 if the disk is
// full. Exhaustion is policy, not a broken invariant, so it surfaces
// as ENOSPC at the system-call boundary rather than a panic.
func (m *Machine) balloc(p *Proc, dev uint32) uint32 {
	for b := uint32(0); b < m.sb.Size; b += BPB {
		bp := m.bread(p, dev, bblock(b, &m.sb))
		for bi := uint32(0); bi < BPB && b+bi < m.sb.Size; bi++ {
			mask := byte(1) << (bi % 8)
			if bp.data[bi/8]&mask == 0 { // is block free?
				bp.data[bi/8] |= mask // mark block in use
				m.logWrite(p, bp)
				m.brelse(p, bp)
				m.bzero(p, dev, b+bi)
				return b + bi
			}
		}
		m.brelse(p, bp)
	}
	return 0
}

// bfree frees a disk block.
func (m *Machine) bfree(p *Proc, dev, b uint32) {
	bp := m.bread(p, dev, bblock(b, &m.sb))
	bi := b % BPB
	mask := byte(1) << (bi % 8)
	if bp.data[bi/8]&mask == 0 {
		panic("freeing free block")
	}
	bp.data[bi/8] &^= mask
	m.logWrite(p, bp)
	m.brelse(p, bp)
}

// Inodes.
//
// An inode describes a single unnamed file: metadata plus the list of
// blocks holding the content. Inodes are laid out sequentially on disk
// at sb.Inodestart, and the kernel keeps a cache of in-use inodes to
// synchronize access from multiple processes.
//
// An inode and its in-memory copy go through these states:
//
//   - Allocation: an inode is allocated iff its on-disk type is
//     non-zero. ialloc allocates, iput frees when the reference and
//     link counts reach zero.
//   - Referencing in cache: an icache entry is free when ref is zero,
//     otherwise ref tracks in-memory pointers (open files, cwds).
//     iget finds or creates an entry and increments ref; iput drops it.
//   - Valid: the cached fields are correct only when valid is set.
//     ilock reads the inode from disk and sets valid; iget clears
//     valid when it recycles an unused entry, and iput clears it when
//     it frees an inode whose link count is zero.
//   - Locked: code may examine or modify an inode and its content only
//     with the sleep-lock held.
//
// Thus the typical sequence is:
//
//	ip := m.iget(dev, inum)
//	m.ilock(p, ip)
//	... examine and modify ip ...
//	m.iunlock(p, ip)
//	m.iput(p, ip)
//
// ilock is separate from iget so that system calls can hold a
// long-term reference (as opened files and cwds do) while locking
// only for short stretches (as read does); the separation also avoids
// deadlock and races during path lookup.
//
// The icache spinlock protects entry allocation: ref, dev and inum.
// Each inode's sleep-lock protects everything else, including valid.

// Inode is the in-memory copy of a disk inode.
type Inode struct {
	dev   uint32
	inum  uint32
	ref   int // reference count
	lock  SleepLock
	valid bool

	typ   int16 // copy of disk inode
	major int16
	minor int16
	nlink int16
	size  uint32
	addrs [NDIRECT + 1]uint32
}

// Inum returns the inode number.
func (ip *Inode) Inum() uint32 { return ip.inum }

// Type returns the inode type; the caller must hold the lock.
func (ip *Inode) Type() int16 { return ip.typ }

// Size returns the file size in bytes; the caller must hold the lock.
func (ip *Inode) Size() uint32 { return ip.size }

type icache struct {
	lock  Spinlock
	inode [NINODE]Inode
}

func (m *Machine) iinit(p *Proc, dev uint32) {
	m.icache.lock.init("icache")
	for i := range m.icache.inode {
		m.icache.inode[i].lock.init("inode")
	}

	m.readsb(p, dev, &m.sb)
	m.logf("sb: size %d nblocks %d ninodes %d nlog %d logstart %d inodestart %d bmap start %d",
		m.sb.Size, m.sb.Nblocks, m.sb.Ninodes, m.sb.Nlog,
		m.sb.Logstart, m.sb.Inodestart, m.sb.Bmapstart)
}

// ialloc allocates an inode of the given type on device dev, marking
// it allocated through the log. Returns an unlocked but referenced
// inode, or nil if every on-disk inode is in use.
func (m *Machine) ialloc(p *Proc, dev uint32, typ int16) *Inode {
	for inum := uint32(1); inum < m.sb.Ninodes; inum++ {
		bp := m.bread(p, dev, iblock(inum, &m.sb))
		off := int(inum%IPB) * dinodeSize
		if int16(binary.LittleEndian.Uint16(bp.data[off:])) == 0 { // a free inode
			for i := 0; i < dinodeSize; i++ {
				bp.data[off+i] = 0
			}
			binary.LittleEndian.PutUint16(bp.data[off:], uint16(typ))
			m.logWrite(p, bp) // mark it allocated on the disk
			m.brelse(p, bp)
			return m.iget(p, dev, inum)
		}
		m.brelse(p, bp)
	}
	return nil
}

// iupdate copies a modified in-memory inode to disk, through the log.
// The cache is write-through: call it after every change to a field
// that lives on disk. The caller must hold ip's lock.
func (m *Machine) iupdate(p *Proc, ip *Inode) {
	bp := m.bread(p, ip.dev, iblock(ip.inum, &m.sb))
	off := int(ip.inum%IPB) * dinodeSize
	d := bp.data[off:]
	binary.LittleEndian.PutUint16(d, uint16(ip.typ))
	binary.LittleEndian.PutUint16(d[2:], uint16(ip.major))
	binary.LittleEndian.PutUint16(d[4:], uint16(ip.minor))
	binary.LittleEndian.PutUint16(d[6:], uint16(ip.nlink))
	binary.LittleEndian.PutUint32(d[8:], ip.size)
	for i, a := range ip.addrs {
		binary.LittleEndian.PutUint32(d[12+4*i:], a)
	}
	m.logWrite(p, bp)
	m.brelse(p, bp)
}

// iget finds the inode with number inum on device dev and returns its
// in-memory copy, without locking it or reading it from disk.
func (m *Machine) iget(p *Proc, dev, inum uint32) *Inode {
	m.icache.lock.acquire(p.cpu)

	// Is the inode already cached?
	var empty *Inode
	for i := range m.icache.inode {
		ip := &m.icache.inode[i]
		if ip.ref > 0 && ip.dev == dev && ip.inum == inum {
			ip.ref++
			m.icache.lock.release(p.cpu)
			return ip
		}
		if empty == nil && ip.ref == 0 { // remember empty slot
			empty = ip
		}
	}

	// Recycle an inode cache entry.
	if empty == nil {
		panic("iget: no inodes")
	}

	ip := empty
	ip.dev = dev
	ip.inum = inum
	ip.ref = 1
	ip.valid = false
	m.icache.lock.release(p.cpu)

	return ip
}

// idup increments ip's reference count and returns ip to enable the
// idiom ip := m.idup(p, ip1).
func (m *Machine) idup(p *Proc, ip *Inode) *Inode {
	m.icache.lock.acquire(p.cpu)
	ip.ref++
	m.icache.lock.release(p.cpu)
	return ip
}

// ilock locks the given inode, reading it from disk if necessary.
func (m *Machine) ilock(p *Proc, ip *Inode) {
	if ip == nil || ip.ref < 1 {
		panic("ilock")
	}

	m.acquiresleep(p, &ip.lock)

	if !ip.valid {
		bp := m.bread(p, ip.dev, iblock(ip.inum, &m.sb))
		d := bp.data[int(ip.inum%IPB)*dinodeSize:]
		ip.typ = int16(binary.LittleEndian.Uint16(d))
		ip.major = int16(binary.LittleEndian.Uint16(d[2:]))
		ip.minor = int16(binary.LittleEndian.Uint16(d[4:]))
		ip.nlink = int16(binary.LittleEndian.Uint16(d[6:]))
		ip.size = binary.LittleEndian.Uint32(d[8:])
		for i := range ip.addrs {
			ip.addrs[i] = binary.LittleEndian.Uint32(d[12+4*i:])
		}
		m.brelse(p, bp)
		ip.valid = true
		if ip.typ == 0 {
			panic("ilock: no type")
		}
	}
}

// iunlock unlocks the given inode.
func (m *Machine) iunlock(p *Proc, ip *Inode) {
	if ip == nil || !m.holdingsleep(p, &ip.lock) || ip.ref < 1 {
		panic("iunlock")
	}
	m.releasesleep(p, &ip.lock)
}

// iput drops a reference to an in-memory inode. If that was the last
// reference the cache entry becomes recyclable, and if the inode also
// has no links, iput frees the inode and its content on disk. All
// calls must be inside a transaction in case the free happens.
func (m *Machine) iput(p *Proc, ip *Inode) {
	m.acquiresleep(p, &ip.lock)
	if ip.valid && ip.nlink == 0 {
		m.icache.lock.acquire(p.cpu)
		r := ip.ref
		m.icache.lock.release(p.cpu)
		if r == 1 {
			// inode has no links and no other references: truncate and free.
			m.itrunc(p, ip)
			ip.typ = 0
			m.iupdate(p, ip)
			ip.valid = false
		}
	}
	m.releasesleep(p, &ip.lock)

	m.icache.lock.acquire(p.cpu)
	ip.ref--
	m.icache.lock.release(p.cpu)
}

// iunlockput is the common idiom: unlock, then put.
func (m *Machine) iunlockput(p *Proc, ip *Inode) {
	m.iunlock(p, ip)
	m.iput(p, ip)
}

// Inode content.
//
// The first NDIRECT blocks of a file are listed in ip.addrs; the next
// NINDIRECT are in the indirect block at addrs[NDIRECT].

// bmap returns the disk block address of the nth block in inode ip,
// allocating it if needed. Returns 0 when the disk is full.
func (m *Machine) bmap(p *Proc, ip *Inode, bn uint32) uint32 {
	if bn < NDIRECT {
		addr := ip.addrs[bn]
		if addr == 0 {
			addr = m.balloc(p, ip.dev)
			ip.addrs[bn] = addr
		}
		return addr
	}
	bn -= NDIRECT

	if bn < NINDIRECT {
		// Load indirect block, allocating if necessary.
		addr := ip.addrs[NDIRECT]
		if addr == 0 {
			addr = m.balloc(p, ip.dev)
			if addr == 0 {
				return 0
			}
			ip.addrs[NDIRECT] = addr
		}
		bp := m.bread(p, ip.dev, addr)
		addr = binary.LittleEndian.Uint32(bp.data[4*bn:])
		if addr == 0 {
			if addr = m.balloc(p, ip.dev); addr != 0 {
				binary.LittleEndian.PutUint32(bp.data[4*bn:], addr)
				m.logWrite(p, bp)
			}
		}
		m.brelse(p, bp)
		return addr
	}

	panic("bmap: out of range")
}

// itrunc discards the contents of ip. Called only when the inode has
// no links to it and no in-memory references to it.
func (m *Machine) itrunc(p *Proc, ip *Inode) {
	for i := 0; i < NDIRECT; i++ {
		if ip.addrs[i] != 0 {
			m.bfree(p, ip.dev, ip.addrs[i])
			ip.addrs[i] = 0
		}
	}

	if ip.addrs[NDIRECT] != 0 {
		bp := m.bread(p, ip.dev, ip.addrs[NDIRECT])
		for j := 0; j < NINDIRECT; j++ {
			if a := binary.LittleEndian.Uint32(bp.data[4*j:]); a != 0 {
				m.bfree(p, ip.dev, a)
			}
		}
		m.brelse(p, bp)
		m.bfree(p, ip.dev, ip.addrs[NDIRECT])
		ip.addrs[NDIRECT] = 0
	}

	ip.size = 0
	m.iupdate(p, ip)
}

// stati copies stat information from ip. The caller must hold ip's
// lock.
func stati(ip *Inode, st *Stat) {
	st.Dev = int32(ip.dev)
	st.Ino = ip.inum
	st.Type = ip.typ
	st.Nlink = ip.nlink
	st.Size = ip.size
}

// readi reads data from inode ip. The caller must hold ip's lock.
func (m *Machine) readi(p *Proc, ip *Inode, dst []byte, off uint32) int {
	if ip.typ == T_DEV {
		if ip.major < 0 || ip.major >= NDEV || m.devsw[ip.major].read == nil {
			return -1
		}
		return m.devsw[ip.major].read(p, ip, dst)
	}

	n := uint32(len(dst))
	if off > ip.size || off+n < off {
		return -1
	}
	if off+n > ip.size {
		n = ip.size - off
	}

	for tot := uint32(0); tot < n; {
		addr := m.bmap(p, ip, off/BSIZE)
		bp := m.bread(p, ip.dev, addr)
		c := n - tot
		if frag := BSIZE - off%BSIZE; c > frag {
			c = frag
		}
		copy(dst[tot:tot+c], bp.data[off%BSIZE:])
		m.brelse(p, bp)
		tot += c
		off += c
	}
	return int(n)
}

// writei writes data to inode ip, extending the file and persisting
// the new size if the write runs past the end. The caller must hold
// ip's lock.
func (m *Machine) writei(p *Proc, ip *Inode, src []byte, off uint32) int {
	if ip.typ == T_DEV {
		if ip.major < 0 || ip.major >= NDEV || m.devsw[ip.major].write == nil {
			return -1
		}
		return m.devsw[ip.major].write(p, ip, src)
	}

	n := uint32(len(src))
	if off > ip.size || off+n < off {
		return -1
	}
	if off+n > MAXFILE*BSIZE {
		return -1
	}

	for tot := uint32(0); tot < n; {
		addr := m.bmap(p, ip, off/BSIZE)
		if addr == 0 {
			return -1 // out of blocks
		}
		bp := m.bread(p, ip.dev, addr)
		c := n - tot
		if frag := BSIZE - off%BSIZE; c > frag {
			c = frag
		}
		copy(bp.data[off%BSIZE:], src[tot:tot+c])
		m.logWrite(p, bp)
		m.brelse(p, bp)
		tot += c
		off += c
	}

	if n > 0 && off > ip.size {
		ip.size = off
		m.iupdate(p, ip)
	}
	return int(n)
}

// Directories.

// A directory is a file containing a sequence of dirent structures:
// a 16-bit inode number followed by a DIRSIZ-byte name. inum zero
// marks a free slot.

func namecmp(s, t string) bool {
	if len(s) > DIRSIZ {
		s = s[:DIRSIZ]
	}
	if len(t) > DIRSIZ {
		t = t[:DIRSIZ]
	}
	return s == t
}

func direntName(d []byte) string {
	name := d[2 : 2+DIRSIZ]
	for i, c := range name {
		if c == 0 {
			return string(name[:i])
		}
	}
	return string(name)
}

// dirlookup looks for a directory entry by name. If found and poff is
// non-nil, *poff is set to the entry's byte offset.
func (m *Machine) dirlookup(p *Proc, dp *Inode, name string, poff *uint32) *Inode {
	if dp.typ != T_DIR {
		panic("dirlookup not DIR")
	}

	var de [direntSize]byte
	for off := uint32(0); off < dp.size; off += direntSize {
		if m.readi(p, dp, de[:], off) != direntSize {
			panic("dirlookup read")
		}
		inum := uint32(binary.LittleEndian.Uint16(de[:]))
		if inum == 0 {
			continue
		}
		if namecmp(name, direntName(de[:])) {
			// entry matches path element
			if poff != nil {
				*poff = off
			}
			return m.iget(p, dp.dev, inum)
		}
	}
	return nil
}

// dirlink writes a new directory entry (name, inum) into directory
// dp. Fails if name already exists or the directory cannot grow.
func (m *Machine) dirlink(p *Proc, dp *Inode, name string, inum uint32) int {
	// Check that name is not present.
	if ip := m.dirlookup(p, dp, name, nil); ip != nil {
		m.iput(p, ip)
		return -1
	}

	// Look for an empty dirent.
	var de [direntSize]byte
	var off uint32
	for off = 0; off < dp.size; off += direntSize {
		if m.readi(p, dp, de[:], off) != direntSize {
			panic("dirlink read")
		}
		if binary.LittleEndian.Uint16(de[:]) == 0 {
			break
		}
	}

	for i := range de {
		de[i] = 0
	}
	binary.LittleEndian.PutUint16(de[:], uint16(inum))
	copy(de[2:2+DIRSIZ], name)
	if m.writei(p, dp, de[:], off) != direntSize {
		return -1
	}

	return 0
}

// Paths.

// skipelem copies the next path element from path into name and
// returns the rest. The returned path has no leading slashes, so the
// caller can check path == "" to see if the name is the last one. If
// no name remains, ok is false.
//
// Examples:
//
//	skipelem("a/bb/c") = ("bb/c", "a", true)
//	skipelem("///a//bb") = ("bb", "a", true)
//	skipelem("a") = ("", "a", true)
//	skipelem("") = skipelem("////") = ("", "", false)
func skipelem(path string) (rest, name string, ok bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", "", false
	}
	s := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	name = path[s:i]
	if len(name) > DIRSIZ {
		name = name[:DIRSIZ]
	}
	for i < len(path) && path[i] == '/' {
		i++
	}
	return path[i:], name, true
}

// namex looks up a path and returns its inode. If parent is true it
// stops one level early, returning the parent directory unlocked and
// the final path element. Must be called inside a transaction since it
// calls iput.
func (m *Machine) namex(p *Proc, path string, parent bool) (*Inode, string) {
	var ip *Inode
	if len(path) > 0 && path[0] == '/' {
		ip = m.iget(p, ROOTDEV, ROOTINO)
	} else {
		ip = m.idup(p, p.cwd)
	}

	var name string
	var ok bool
	for {
		if path, name, ok = skipelem(path); !ok {
			break
		}
		m.ilock(p, ip)
		if ip.typ != T_DIR {
			m.iunlockput(p, ip)
			return nil, ""
		}
		if parent && path == "" {
			// Stop one level early.
			m.iunlock(p, ip)
			return ip, name
		}
		next := m.dirlookup(p, ip, name, nil)
		if next == nil {
			m.iunlockput(p, ip)
			return nil, ""
		}
		m.iunlockput(p, ip)
		ip = next
	}
	if parent {
		m.iput(p, ip)
		return nil, ""
	}
	return ip, name
}

func (m *Machine) namei(p *Proc, path string) *Inode {
	ip, _ := m.namex(p, path, false)
	return ip
}

func (m *Machine) nameiparent(p *Proc, path string) (*Inode, string) {
	return m.namex(p, path, true)
}
