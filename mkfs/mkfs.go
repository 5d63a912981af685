// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mkfs builds file system images in the on-disk format the
// kernel mounts: boot block, super block, log, inode blocks, free
// bitmap, data blocks.
package mkfs

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/hanwen/go-xv6/disk"
	"github.com/hanwen/go-xv6/kern"
)

// Config describes the image to build.
type Config struct {
	// Size is the total image size in blocks; default kern.FSSIZE.
	Size int

	// Ninodes is the number of on-disk inodes; default 200.
	Ninodes int

	// Nlog is the size of the log region; default kern.LOGSIZE.
	Nlog int

	// Files maps absolute paths to file contents. Parent directories
	// are created as needed.
	Files map[string][]byte
}

type builder struct {
	img       []byte
	sb        kern.Superblock
	freeinode uint32
	freeblock uint32
	dirs      map[string]uint32 // path -> inum
}

// Build returns a fresh file system image.
func Build(cfg Config) ([]byte, error) {
	size := cfg.Size
	if size == 0 {
		size = kern.FSSIZE
	}
	ninodes := cfg.Ninodes
	if ninodes == 0 {
		ninodes = 200
	}
	nlog := cfg.Nlog
	if nlog == 0 {
		nlog = kern.LOGSIZE
	}

	nbitmap := size/(kern.BSIZE*8) + 1
	ninodeblocks := ninodes/(kern.BSIZE/64) + 1
	nmeta := 2 + nlog + ninodeblocks + nbitmap
	if nmeta >= size {
		return nil, fmt.Errorf("mkfs: %d blocks is too small", size)
	}

	b := &builder{
		img: make([]byte, size*kern.BSIZE),
		sb: kern.Superblock{
			Size:       uint32(size),
			Nblocks:    uint32(size - nmeta),
			Ninodes:    uint32(ninodes),
			Nlog:       uint32(nlog),
			Logstart:   2,
			Inodestart: uint32(2 + nlog),
			Bmapstart:  uint32(2 + nlog + ninodeblocks),
		},
		freeinode: 1,
		freeblock: uint32(nmeta), // first free data block
		dirs:      map[string]uint32{},
	}
	kern.EncodeSuperblock(&b.sb, b.img[kern.BSIZE:])

	root := b.ialloc(kern.T_DIR)
	if root != kern.ROOTINO {
		panic("mkfs: root inum")
	}
	b.dirent(root, ".", root)
	b.dirent(root, "..", root)
	b.dirs["/"] = root

	// Create files in path order so parents exist before children.
	paths := make([]string, 0, len(cfg.Files))
	for p := range cfg.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := b.addFile(p, cfg.Files[p]); err != nil {
			return nil, err
		}
	}

	// Mark the meta and allocated data blocks in use.
	b.bitmap(int(b.freeblock))
	return b.img, nil
}

// BuildDisk is a convenience wrapper returning the image as an
// in-memory disk.
func BuildDisk(cfg Config) (*disk.MemDisk, error) {
	img, err := Build(cfg)
	if err != nil {
		return nil, err
	}
	return disk.NewMemDiskImage(img)
}

func (b *builder) block(n uint32) []byte {
	return b.img[n*kern.BSIZE : (n+1)*kern.BSIZE]
}

// dinode returns the on-disk inode slot for inum.
func (b *builder) dinode(inum uint32) []byte {
	bn := inum/(kern.BSIZE/64) + b.sb.Inodestart
	off := (inum % (kern.BSIZE / 64)) * 64
	return b.block(bn)[off : off+64]
}

func (b *builder) ialloc(typ int16) uint32 {
	inum := b.freeinode
	b.freeinode++
	if inum >= b.sb.Ninodes {
		panic("mkfs: out of inodes")
	}
	d := b.dinode(inum)
	binary.LittleEndian.PutUint16(d[0:], uint16(typ))
	binary.LittleEndian.PutUint16(d[6:], 1) // nlink
	return inum
}

// iappend appends data to inode inum, allocating direct and indirect
// blocks as needed.
func (b *builder) iappend(inum uint32, data []byte) {
	d := b.dinode(inum)
	off := binary.LittleEndian.Uint32(d[8:])

	for len(data) > 0 {
		fbn := off / kern.BSIZE
		var bn uint32
		switch {
		case fbn < kern.NDIRECT:
			bn = binary.LittleEndian.Uint32(d[12+4*fbn:])
			if bn == 0 {
				bn = b.balloc()
				binary.LittleEndian.PutUint32(d[12+4*fbn:], bn)
			}
		case fbn < kern.NDIRECT+kern.NINDIRECT:
			ind := binary.LittleEndian.Uint32(d[12+4*kern.NDIRECT:])
			if ind == 0 {
				ind = b.balloc()
				binary.LittleEndian.PutUint32(d[12+4*kern.NDIRECT:], ind)
			}
			slot := b.block(ind)[4*(fbn-kern.NDIRECT):]
			bn = binary.LittleEndian.Uint32(slot)
			if bn == 0 {
				bn = b.balloc()
				binary.LittleEndian.PutUint32(slot, bn)
			}
		default:
			panic("mkfs: file too large")
		}

		n := kern.BSIZE - off%kern.BSIZE
		if int(n) > len(data) {
			n = uint32(len(data))
		}
		copy(b.block(bn)[off%kern.BSIZE:], data[:n])
		data = data[n:]
		off += n
	}

	binary.LittleEndian.PutUint32(d[8:], off)
}

func (b *builder) balloc() uint32 {
	bn := b.freeblock
	b.freeblock++
	if bn >= b.sb.Size {
		panic("mkfs: out of blocks")
	}
	return bn
}

func (b *builder) dirent(dir uint32, name string, inum uint32) {
	if len(name) > kern.DIRSIZ {
		panic("mkfs: name too long: " + name)
	}
	var de [16]byte
	binary.LittleEndian.PutUint16(de[0:], uint16(inum))
	copy(de[2:], name)
	b.iappend(dir, de[:])
}

// mkdirp ensures every directory on path exists, returning the inum
// of the deepest one.
func (b *builder) mkdirp(path string) uint32 {
	cur := b.dirs["/"]
	if path == "/" {
		return cur
	}
	walked := ""
	for _, elem := range strings.Split(strings.Trim(path, "/"), "/") {
		walked += "/" + elem
		if inum, ok := b.dirs[walked]; ok {
			cur = inum
			continue
		}
		inum := b.ialloc(kern.T_DIR)
		b.dirent(inum, ".", inum)
		b.dirent(inum, "..", cur)
		b.dirent(cur, elem, inum)
		// ".." adds a link to the parent.
		d := b.dinode(cur)
		binary.LittleEndian.PutUint16(d[6:], binary.LittleEndian.Uint16(d[6:])+1)
		b.dirs[walked] = inum
		cur = inum
	}
	return cur
}

func (b *builder) addFile(path string, data []byte) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("mkfs: path %q is not absolute", path)
	}
	slash := strings.LastIndex(path, "/")
	dirpath, name := path[:slash], path[slash+1:]
	if dirpath == "" {
		dirpath = "/"
	}
	if name == "" || len(name) > kern.DIRSIZ {
		return fmt.Errorf("mkfs: bad file name %q", name)
	}
	dir := b.mkdirp(dirpath)
	inum := b.ialloc(kern.T_FILE)
	b.iappend(inum, data)
	b.dirent(dir, name, inum)
	return nil
}

// bitmap marks the first used blocks allocated in the free map.
func (b *builder) bitmap(used int) {
	const bpb = kern.BSIZE * 8
	for i := 0; i < used; i++ {
		bm := b.block(b.sb.Bmapstart + uint32(i/bpb))
		bm[(i%bpb)/8] |= 1 << (i % 8)
	}
}
