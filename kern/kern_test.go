// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/hanwen/go-xv6/disk"
	"github.com/hanwen/go-xv6/internal/testutil"
)

// testImage builds a minimal file system image holding just the root
// directory. Tests create everything else through the kernel itself.
func testImage(tb testing.TB, size int) []byte {
	tb.Helper()
	const ninodes = 200
	nbitmap := size/BPB + 1
	ninodeblocks := ninodes/IPB + 1
	nmeta := 2 + LOGSIZE + ninodeblocks + nbitmap
	if nmeta+10 > size {
		tb.Fatalf("image size %d too small", size)
	}

	img := make([]byte, size*BSIZE)
	sb := Superblock{
		Size:       uint32(size),
		Nblocks:    uint32(size - nmeta),
		Ninodes:    ninodes,
		Nlog:       LOGSIZE,
		Logstart:   2,
		Inodestart: uint32(2 + LOGSIZE),
		Bmapstart:  uint32(2 + LOGSIZE + ninodeblocks),
	}
	EncodeSuperblock(&sb, img[BSIZE:])

	// Root inode.
	rootBlk := int(iblock(ROOTINO, &sb))
	d := img[rootBlk*BSIZE+(ROOTINO%IPB)*dinodeSize:]
	binary.LittleEndian.PutUint16(d[0:], T_DIR)
	binary.LittleEndian.PutUint16(d[6:], 1)              // nlink
	binary.LittleEndian.PutUint32(d[8:], 2*direntSize)   // size
	binary.LittleEndian.PutUint32(d[12:], uint32(nmeta)) // addrs[0]

	// "." and ".." entries.
	de := img[nmeta*BSIZE:]
	binary.LittleEndian.PutUint16(de[0:], ROOTINO)
	copy(de[2:], ".")
	binary.LittleEndian.PutUint16(de[direntSize:], ROOTINO)
	copy(de[direntSize+2:], "..")

	// Mark meta blocks plus the root directory block in use.
	for i := 0; i <= nmeta; i++ {
		img[(int(sb.Bmapstart)+i/BPB)*BSIZE+(i%BPB)/8] |= 1 << (i % 8)
	}
	return img
}

func testDisk(tb testing.TB, size int) *disk.MemDisk {
	tb.Helper()
	d, err := disk.NewMemDiskImage(testImage(tb, size))
	if err != nil {
		tb.Fatal(err)
	}
	return d
}

// testMachine boots a machine on the given disk (or a fresh small
// one) and registers shutdown with the test.
func testMachine(tb testing.TB, d disk.Disk, opts *Options) *Machine {
	tb.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.Disk == nil {
		if d == nil {
			d = testDisk(tb, 2000)
		}
		opts.Disk = d
	}
	if opts.PhysTop == 0 {
		opts.PhysTop = 4 << 20
	}
	if opts.Logger == nil {
		opts.Logger = testutil.Logger()
	}
	m, err := NewMachine(opts)
	if err != nil {
		tb.Fatal(err)
	}
	m.Boot()
	tb.Cleanup(m.Shutdown)
	return m
}

// runProc runs fn in process context and waits for it to finish.
func runProc(tb testing.TB, m *Machine, fn func(p *Proc)) {
	tb.Helper()
	done := make(chan struct{})
	if _, err := m.Spawn("test", func(p *Proc) {
		defer close(done)
		fn(p)
	}); err != nil {
		tb.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		m.ProcDump()
		tb.Fatal("test process did not finish")
	}
}

// readFile returns the contents of path, or ok=false if it cannot be
// opened.
func readFile(tb testing.TB, m *Machine, path string) (string, bool) {
	tb.Helper()
	var data []byte
	var ok bool
	runProc(tb, m, func(p *Proc) {
		fd, errno := m.openfile(p, path, O_RDONLY)
		if errno != OK {
			return
		}
		ok = true
		buf := make([]byte, 512)
		for {
			n := m.fileread(p, p.ofile[fd], buf)
			if n <= 0 {
				break
			}
			data = append(data, buf[:n]...)
		}
		m.closeFd(p, fd)
	})
	return string(data), ok
}

// writeFile creates path with the given contents.
func writeFile(tb testing.TB, m *Machine, path, data string) {
	tb.Helper()
	runProc(tb, m, func(p *Proc) {
		fd, errno := m.openfile(p, path, O_CREATE|O_WRONLY)
		if errno != OK {
			tb.Errorf("open %s: %v", path, errno)
			return
		}
		if n := m.filewrite(p, p.ofile[fd], []byte(data)); n != len(data) {
			tb.Errorf("write %s: got %d, want %d", path, n, len(data))
		}
		m.closeFd(p, fd)
	})
}

// syncBuf is an io.Writer safe for concurrent use, for capturing
// console output.
type syncBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(tb testing.TB, what string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	tb.Fatalf("timeout waiting for %s", what)
}
