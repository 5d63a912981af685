// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestSkipelem(t *testing.T) {
	type result struct {
		Rest, Name string
		Ok         bool
	}
	for _, tc := range []struct {
		path string
		want result
	}{
		{"a/bb/c", result{"bb/c", "a", true}},
		{"///a//bb", result{"bb", "a", true}},
		{"a", result{"", "a", true}},
		{"", result{"", "", false}},
		{"////", result{"", "", false}},
		{"averylongnamepastlimit/x", result{"x", "averylongnamep", true}},
	} {
		rest, name, ok := skipelem(tc.path)
		got := result{rest, name, ok}
		if diff := pretty.Compare(got, tc.want); diff != "" {
			t.Errorf("skipelem(%q) diff (-got +want):\n%s", tc.path, diff)
		}
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	m := testMachine(t, nil, nil)

	runProc(t, m, func(p *Proc) {
		fd, errno := m.openfile(p, "/a", O_CREATE|O_RDWR)
		if errno != OK {
			t.Errorf("open: %v", errno)
			return
		}
		f := p.ofile[fd]

		msg := []byte("hello")
		if n := m.filewrite(p, f, msg); n != len(msg) {
			t.Errorf("write = %d", n)
			return
		}
		if _, errno := m.lseek(p, f, 0, SEEK_SET); errno != OK {
			t.Errorf("lseek: %v", errno)
			return
		}
		got := make([]byte, len(msg))
		if n := m.fileread(p, f, got); n != len(msg) {
			t.Errorf("read = %d", n)
			return
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("read back %q, want %q", got, msg)
		}

		var st Stat
		if m.filestat(p, f, &st) < 0 {
			t.Error("fstat")
			return
		}
		want := Stat{Type: T_FILE, Dev: ROOTDEV, Ino: st.Ino, Nlink: 1, Size: 5}
		if diff := pretty.Compare(st, want); diff != "" {
			t.Errorf("stat diff (-got +want):\n%s", diff)
		}
		m.closeFd(p, fd)
	})

	// Still there after everything is closed.
	if data, ok := readFile(t, m, "/a"); !ok || data != "hello" {
		t.Errorf("reopen: ok=%v data=%q", ok, data)
	}
}

// TestBigFile spills into the indirect block and checks contents and
// end-of-file behavior.
func TestBigFile(t *testing.T) {
	m := testMachine(t, nil, &Options{Disk: testDisk(t, 1500)})

	const nblocks = NDIRECT + 20
	chunk := make([]byte, BSIZE)
	runProc(t, m, func(p *Proc) {
		fd, errno := m.openfile(p, "/big", O_CREATE|O_WRONLY)
		if errno != OK {
			t.Errorf("open: %v", errno)
			return
		}
		f := p.ofile[fd]
		for i := 0; i < nblocks; i++ {
			for j := range chunk {
				chunk[j] = byte(i)
			}
			if n := m.filewrite(p, f, chunk); n != BSIZE {
				t.Errorf("write block %d = %d", i, n)
				return
			}
		}
		m.closeFd(p, fd)
	})

	runProc(t, m, func(p *Proc) {
		fd, errno := m.openfile(p, "/big", O_RDONLY)
		if errno != OK {
			t.Errorf("reopen: %v", errno)
			return
		}
		f := p.ofile[fd]
		got := make([]byte, BSIZE)
		for i := 0; i < nblocks; i++ {
			if n := m.fileread(p, f, got); n != BSIZE {
				t.Errorf("read block %d = %d", i, n)
				return
			}
			if got[0] != byte(i) || got[BSIZE-1] != byte(i) {
				t.Errorf("block %d contents corrupted", i)
				return
			}
		}
		if n := m.fileread(p, f, got); n != 0 {
			t.Errorf("read past EOF = %d", n)
		}
		m.closeFd(p, fd)
	})
}

// TestLinkUnlink is the link/unlink property: b keeps a's identity,
// and the last unlink frees the inode and its blocks.
func TestLinkUnlink(t *testing.T) {
	m := testMachine(t, nil, nil)
	writeFile(t, m, "/a", "payload")

	runProc(t, m, func(p *Proc) {
		if errno := m.link(p, "/a", "/b"); errno != OK {
			t.Errorf("link: %v", errno)
			return
		}

		m.beginOp(p)
		ipa := m.namei(p, "/a")
		ipb := m.namei(p, "/b")
		if ipa == nil || ipb == nil {
			t.Error("namei after link")
			m.endOp(p)
			return
		}
		if ipa != ipb {
			t.Error("link does not share the inode")
		}
		m.ilock(p, ipa)
		if ipa.nlink != 2 {
			t.Errorf("nlink = %d, want 2", ipa.nlink)
		}
		m.iunlock(p, ipa)
		m.iput(p, ipa)
		m.iput(p, ipb)
		m.endOp(p)

		if errno := m.unlink(p, "/a"); errno != OK {
			t.Errorf("unlink /a: %v", errno)
		}
	})

	if _, ok := readFile(t, m, "/a"); ok {
		t.Error("/a still present after unlink")
	}
	if data, ok := readFile(t, m, "/b"); !ok || data != "payload" {
		t.Errorf("/b: ok=%v data=%q", ok, data)
	}

	// Unlinking the last link frees the inode: its number is reused
	// by the next allocation.
	var freedIno, reusedIno uint32
	runProc(t, m, func(p *Proc) {
		m.beginOp(p)
		ip := m.namei(p, "/b")
		freedIno = ip.inum
		m.iput(p, ip)
		m.endOp(p)

		if errno := m.unlink(p, "/b"); errno != OK {
			t.Errorf("unlink /b: %v", errno)
			return
		}
		fd, errno := m.openfile(p, "/c", O_CREATE|O_WRONLY)
		if errno != OK {
			t.Errorf("open /c: %v", errno)
			return
		}
		reusedIno = p.ofile[fd].ip.inum
		m.closeFd(p, fd)
	})
	if freedIno != reusedIno {
		t.Errorf("freed inode %d, next allocation got %d", freedIno, reusedIno)
	}
}

// TestInodeRefcount is the iget/idup/iput accounting property.
func TestInodeRefcount(t *testing.T) {
	m := testMachine(t, nil, nil)

	runProc(t, m, func(p *Proc) {
		ip := m.iget(p, ROOTDEV, ROOTINO)
		base := ip.ref

		m.idup(p, ip)
		m.idup(p, ip)
		if ip.ref != base+2 {
			t.Errorf("ref = %d, want %d", ip.ref, base+2)
		}

		m.beginOp(p)
		m.iput(p, ip)
		m.iput(p, ip)
		m.iput(p, ip)
		m.endOp(p)
		if ip.ref != base-1 {
			t.Errorf("ref = %d, want %d", ip.ref, base-1)
		}
	})
}

func TestDirectories(t *testing.T) {
	m := testMachine(t, nil, nil)

	runProc(t, m, func(p *Proc) {
		for _, dir := range []string{"/d", "/d/e"} {
			if errno := m.mkdir(p, dir); errno != OK {
				t.Errorf("mkdir %s: %v", dir, errno)
				return
			}
		}
		if errno := m.mkdir(p, "/d"); errno == OK {
			t.Error("mkdir of existing directory succeeded")
		}

		// A fresh directory has "." and "..".
		m.beginOp(p)
		ip := m.namei(p, "/d/e")
		m.ilock(p, ip)
		if ip.typ != T_DIR || ip.size != 2*direntSize {
			t.Errorf("fresh dir: type=%d size=%d", ip.typ, ip.size)
		}
		var off uint32
		dot := m.dirlookup(p, ip, ".", &off)
		if dot == nil || dot.inum != ip.inum || off != 0 {
			t.Error("bad \".\" entry")
		}
		m.iunlockput(p, ip)
		if dot != nil {
			m.iput(p, dot)
		}
		m.endOp(p)

		// rmdir-equivalent: unlink refuses non-empty directories.
		fd, _ := m.openfile(p, "/d/e/f", O_CREATE|O_WRONLY)
		m.closeFd(p, fd)
		if errno := m.unlink(p, "/d/e"); errno == OK {
			t.Error("unlink of non-empty directory succeeded")
		}
		if errno := m.unlink(p, "/d/e/f"); errno != OK {
			t.Errorf("unlink file: %v", errno)
			return
		}
		if errno := m.unlink(p, "/d/e"); errno != OK {
			t.Errorf("unlink of now-empty directory: %v", errno)
		}
	})
}

// TestChdirRoundtrip is the path resolution idempotence property:
// resolving the path of the cwd from the root leads back to the same
// directory.
func TestChdirRoundtrip(t *testing.T) {
	m := testMachine(t, nil, nil)

	runProc(t, m, func(p *Proc) {
		if errno := m.mkdir(p, "/x"); errno != OK {
			t.Error(errno)
			return
		}
		if errno := m.mkdir(p, "/x/y"); errno != OK {
			t.Error(errno)
			return
		}
		if errno := m.chdir(p, "/x/y"); errno != OK {
			t.Error(errno)
			return
		}
		first := p.cwd.inum

		// Relative resolution works from the new cwd.
		if errno := m.chdir(p, ".."); errno != OK {
			t.Error(errno)
			return
		}
		if errno := m.chdir(p, "y"); errno != OK {
			t.Error(errno)
			return
		}
		if p.cwd.inum != first {
			t.Errorf("cwd inum %d, want %d", p.cwd.inum, first)
		}

		if errno := m.chdir(p, "/"); errno != OK {
			t.Error(errno)
			return
		}
		if errno := m.chdir(p, "x/y"); errno != OK {
			t.Error(errno)
			return
		}
		if p.cwd.inum != first {
			t.Errorf("cwd inum after roundtrip %d, want %d", p.cwd.inum, first)
		}
	})
}

func TestNameTruncation(t *testing.T) {
	m := testMachine(t, nil, nil)
	long := "/" + strings.Repeat("n", DIRSIZ+5)
	writeFile(t, m, long, "x")

	// Lookup sees only the first DIRSIZ bytes.
	if _, ok := readFile(t, m, long[:1+DIRSIZ]); !ok {
		t.Error("truncated name does not resolve")
	}
	if _, ok := readFile(t, m, long); !ok {
		t.Error("overlong name does not resolve to its truncation")
	}
}

// TestOutOfSpace fills a tiny disk; exhaustion must surface as an
// error, not a panic, and the kernel must keep working.
func TestOutOfSpace(t *testing.T) {
	m := testMachine(t, nil, &Options{Disk: testDisk(t, 160)})

	runProc(t, m, func(p *Proc) {
		fd, errno := m.openfile(p, "/fill", O_CREATE|O_WRONLY)
		if errno != OK {
			t.Errorf("open: %v", errno)
			return
		}
		f := p.ofile[fd]
		chunk := make([]byte, BSIZE)
		wrote := 0
		for i := 0; i < 400; i++ {
			n := m.filewrite(p, f, chunk)
			if n < 0 {
				break
			}
			wrote++
		}
		if wrote == 0 || wrote >= 400 {
			t.Errorf("wrote %d blocks before ENOSPC", wrote)
		}
		m.closeFd(p, fd)

		// Metadata operations still work after exhaustion.
		if _, errno := m.openfile(p, "/fill", O_RDONLY); errno != OK {
			t.Errorf("reopen after ENOSPC: %v", errno)
		}
	})
}

func TestDeviceDispatch(t *testing.T) {
	m := testMachine(t, nil, nil)

	runProc(t, m, func(p *Proc) {
		if errno := m.mknod(p, "/null", NDEV+3, 0); errno != OK {
			t.Errorf("mknod: %v", errno)
			return
		}
		fd, errno := m.openfile(p, "/null", O_RDWR)
		if errno != OK {
			t.Errorf("open: %v", errno)
			return
		}
		// Major number out of range: read and write fail cleanly.
		if n := m.fileread(p, p.ofile[fd], make([]byte, 4)); n != -1 {
			t.Errorf("read from bad major = %d, want -1", n)
		}
		if n := m.filewrite(p, p.ofile[fd], []byte("x")); n != -1 {
			t.Errorf("write to bad major = %d, want -1", n)
		}
		m.closeFd(p, fd)
	})
}

func TestOpenModes(t *testing.T) {
	m := testMachine(t, nil, nil)
	writeFile(t, m, "/mode", "0123456789")

	runProc(t, m, func(p *Proc) {
		// O_RDONLY refuses writes.
		fd, _ := m.openfile(p, "/mode", O_RDONLY)
		if n := m.filewrite(p, p.ofile[fd], []byte("x")); n != -1 {
			t.Error("write on O_RDONLY fd succeeded")
		}
		m.closeFd(p, fd)

		// O_WRONLY refuses reads.
		fd, _ = m.openfile(p, "/mode", O_WRONLY)
		if n := m.fileread(p, p.ofile[fd], make([]byte, 1)); n != -1 {
			t.Error("read on O_WRONLY fd succeeded")
		}
		m.closeFd(p, fd)

		// Directories only open read-only.
		if _, errno := m.openfile(p, "/", O_WRONLY); errno == OK {
			t.Error("opened / for writing")
		}

		// O_APPEND starts at the end.
		fd, errno := m.openfile(p, "/mode", O_WRONLY|O_CREATE|O_APPEND)
		if errno != OK {
			t.Errorf("append open: %v", errno)
			return
		}
		m.filewrite(p, p.ofile[fd], []byte("ab"))
		m.closeFd(p, fd)

		// Plain O_WRONLY|O_CREATE truncates.
		fd, _ = m.openfile(p, "/mode2", O_CREATE|O_WRONLY)
		m.filewrite(p, p.ofile[fd], []byte("zap"))
		m.closeFd(p, fd)
		fd, _ = m.openfile(p, "/mode2", O_CREATE|O_WRONLY)
		m.closeFd(p, fd)
	})

	if data, ok := readFile(t, m, "/mode"); !ok || data != "0123456789ab" {
		t.Errorf("append result %q", data)
	}
	if data, ok := readFile(t, m, "/mode2"); !ok || data != "" {
		t.Errorf("truncate result %q", data)
	}
}

func TestLseekBounds(t *testing.T) {
	m := testMachine(t, nil, nil)
	writeFile(t, m, "/s", "0123456789")

	runProc(t, m, func(p *Proc) {
		fd, _ := m.openfile(p, "/s", O_RDONLY)
		f := p.ofile[fd]

		for _, tc := range []struct {
			off    int32
			whence int
			ok     bool
			at     uint32
		}{
			{4, SEEK_SET, true, 4},
			{3, SEEK_CUR, true, 7},
			{-2, SEEK_CUR, true, 5},
			{0, SEEK_END, true, 10},
			{-10, SEEK_END, true, 0},
			{11, SEEK_SET, false, 0},
			{-1, SEEK_SET, false, 0},
			{1, SEEK_END, false, 0}, // no sparse growth
			{0, 99, false, 0},
		} {
			_, errno := m.lseek(p, f, tc.off, tc.whence)
			if (errno == OK) != tc.ok {
				t.Errorf("lseek(%d, %d): errno=%v want ok=%v", tc.off, tc.whence, errno, tc.ok)
			}
			if tc.ok && f.off != tc.at {
				t.Errorf("lseek(%d, %d): off=%d want %d", tc.off, tc.whence, f.off, tc.at)
			}
		}
		m.closeFd(p, fd)
	})
}

func TestFileTableSharing(t *testing.T) {
	m := testMachine(t, nil, nil)
	writeFile(t, m, "/t", "abcdef")

	runProc(t, m, func(p *Proc) {
		fd, _ := m.openfile(p, "/t", O_RDONLY)
		f := p.ofile[fd]
		m.filedup(p, f)
		fd2 := m.fdalloc(p, f)

		// A dup'd descriptor shares the offset by reference.
		one := make([]byte, 1)
		m.fileread(p, p.ofile[fd], one)
		m.fileread(p, p.ofile[fd2], one)
		if one[0] != 'b' {
			t.Errorf("dup did not share offset: got %q", one)
		}
		m.closeFd(p, fd)
		// Still usable through the second descriptor.
		m.fileread(p, p.ofile[fd2], one)
		if one[0] != 'c' {
			t.Errorf("read after partner close: got %q", one)
		}
		m.closeFd(p, fd2)
	})
}

// TestDescriptorExhaustion exercises EMFILE.
func TestDescriptorExhaustion(t *testing.T) {
	m := testMachine(t, nil, nil)
	writeFile(t, m, "/x", "x")

	runProc(t, m, func(p *Proc) {
		var fds []int
		for {
			fd, errno := m.openfile(p, "/x", O_RDONLY)
			if errno != OK {
				break
			}
			fds = append(fds, fd)
		}
		if len(fds) != NOFILE {
			t.Errorf("opened %d descriptors, want %d", len(fds), NOFILE)
		}
		for _, fd := range fds {
			m.closeFd(p, fd)
		}
	})
}

func TestStatFormats(t *testing.T) {
	st := Stat{Type: T_FILE, Dev: 1, Ino: 7, Nlink: 2, Size: 512}
	var buf [statSize]byte
	encodeStat(&st, buf[:])
	want := fmt.Sprintf("%x", []byte{
		2, 0, 0, 0, // type + pad
		1, 0, 0, 0, // dev
		7, 0, 0, 0, // ino
		2, 0, 0, 0, // nlink + pad
		0, 2, 0, 0, // size
	})
	if got := fmt.Sprintf("%x", buf[:]); got != want {
		t.Errorf("stat encoding = %s, want %s", got, want)
	}
}
