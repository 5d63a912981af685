// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "syscall"

// File-system system calls. Each sys* function is a thin translator:
// it fetches and validates arguments from the caller's address space
// and delegates to the kernel-level operation below it, which is also
// the surface the in-kernel test harness drives. Operations that
// mutate on-disk state run inside a transaction.

// OK is the zero Errno.
const OK = syscall.Errno(0)

// Open modes.
const (
	O_RDONLY = 0x000
	O_WRONLY = 0x001
	O_RDWR   = 0x002
	O_CREATE = 0x200
	O_APPEND = 0x400
)

// lseek whence values.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// fdalloc allocates a file descriptor for the given file.
func (m *Machine) fdalloc(p *Proc, f *File) int {
	for fd := 0; fd < NOFILE; fd++ {
		if p.ofile[fd] == nil {
			p.ofile[fd] = f
			return fd
		}
	}
	return -1
}

// create makes a new inode of the given type at path, returning it
// locked, or nil. Opening an existing regular file with O_CREATE is
// not an error. The caller must be inside a transaction.
func (m *Machine) create(p *Proc, path string, typ, major, minor int16) *Inode {
	dp, name := m.nameiparent(p, path)
	if dp == nil {
		return nil
	}
	m.ilock(p, dp)

	if ip := m.dirlookup(p, dp, name, nil); ip != nil {
		m.iunlockput(p, dp)
		m.ilock(p, ip)
		if typ == T_FILE && ip.typ == T_FILE {
			return ip
		}
		m.iunlockput(p, ip)
		return nil
	}

	ip := m.ialloc(p, dp.dev, typ)
	if ip == nil {
		// Out of on-disk inodes; policy, not a broken invariant.
		m.iunlockput(p, dp)
		return nil
	}

	m.ilock(p, ip)
	ip.major = major
	ip.minor = minor
	ip.nlink = 1
	m.iupdate(p, ip)

	fail := false
	if typ == T_DIR {
		dp.nlink++ // for ".."
		m.iupdate(p, dp)
		// No ip.nlink++ for ".": avoid cyclic ref count.
		if m.dirlink(p, ip, ".", ip.inum) < 0 || m.dirlink(p, ip, "..", dp.inum) < 0 {
			fail = true
		}
	}
	if !fail && m.dirlink(p, dp, name, ip.inum) < 0 {
		fail = true
	}
	if fail {
		// Out of directory space: undo the allocation; iput frees
		// the inode since nlink drops to zero.
		if typ == T_DIR {
			dp.nlink--
			m.iupdate(p, dp)
		}
		ip.nlink = 0
		m.iupdate(p, ip)
		m.iunlockput(p, ip)
		m.iunlockput(p, dp)
		return nil
	}

	m.iunlockput(p, dp)
	return ip
}

// openfile opens path with the given mode and binds it to a new file
// descriptor.
func (m *Machine) openfile(p *Proc, path string, omode int) (int, syscall.Errno) {
	m.beginOp(p)

	var ip *Inode
	if omode&O_CREATE != 0 {
		ip = m.create(p, path, T_FILE, 0, 0)
		if ip == nil {
			m.endOp(p)
			return -1, syscall.ENOENT
		}
	} else {
		if ip = m.namei(p, path); ip == nil {
			m.endOp(p)
			return -1, syscall.ENOENT
		}
		m.ilock(p, ip)
		if ip.typ == T_DIR && omode != O_RDONLY {
			m.iunlockput(p, ip)
			m.endOp(p)
			return -1, syscall.EINVAL
		}
	}

	f := m.filealloc(p)
	fd := -1
	if f != nil {
		fd = m.fdalloc(p, f)
	}
	if f == nil || fd < 0 {
		errno := syscall.ENFILE
		if f != nil {
			m.fileclose(p, f)
			errno = syscall.EMFILE
		}
		m.iunlockput(p, ip)
		m.endOp(p)
		return -1, errno
	}

	f.off = 0
	if ip.typ == T_FILE {
		if omode == O_WRONLY|O_CREATE|O_APPEND {
			f.off = ip.size
		} else if omode == O_WRONLY|O_CREATE {
			// Recreating an existing file truncates it.
			m.itrunc(p, ip)
		}
	}
	m.iunlock(p, ip)
	m.endOp(p)

	f.typ = fdInode
	f.ip = ip
	f.readable = omode&O_WRONLY == 0
	f.writable = omode&O_WRONLY != 0 || omode&O_RDWR != 0
	return fd, OK
}

// mkdir creates a directory.
func (m *Machine) mkdir(p *Proc, path string) syscall.Errno {
	m.beginOp(p)
	ip := m.create(p, path, T_DIR, 0, 0)
	if ip == nil {
		m.endOp(p)
		return syscall.ENOENT
	}
	m.iunlockput(p, ip)
	m.endOp(p)
	return OK
}

// mknod creates a device file.
func (m *Machine) mknod(p *Proc, path string, major, minor int16) syscall.Errno {
	m.beginOp(p)
	ip := m.create(p, path, T_DEV, major, minor)
	if ip == nil {
		m.endOp(p)
		return syscall.ENOENT
	}
	m.iunlockput(p, ip)
	m.endOp(p)
	return OK
}

// link creates newpath as another name for the inode at oldpath.
func (m *Machine) link(p *Proc, oldpath, newpath string) syscall.Errno {
	m.beginOp(p)
	ip := m.namei(p, oldpath)
	if ip == nil {
		m.endOp(p)
		return syscall.ENOENT
	}

	m.ilock(p, ip)
	if ip.typ == T_DIR {
		m.iunlockput(p, ip)
		m.endOp(p)
		return syscall.EINVAL
	}

	ip.nlink++
	m.iupdate(p, ip)
	m.iunlock(p, ip)

	errno := syscall.EEXIST
	if dp, name := m.nameiparent(p, newpath); dp != nil {
		m.ilock(p, dp)
		if dp.dev == ip.dev && m.dirlink(p, dp, name, ip.inum) == 0 {
			m.iunlockput(p, dp)
			m.iput(p, ip)
			m.endOp(p)
			return OK
		}
		m.iunlockput(p, dp)
	} else {
		errno = syscall.ENOENT
	}

	// Undo the link count.
	m.ilock(p, ip)
	ip.nlink--
	m.iupdate(p, ip)
	m.iunlockput(p, ip)
	m.endOp(p)
	return errno
}

// isdirempty reports whether dp is empty except for "." and "..".
func (m *Machine) isdirempty(p *Proc, dp *Inode) bool {
	var de [direntSize]byte
	for off := uint32(2 * direntSize); off < dp.size; off += direntSize {
		if m.readi(p, dp, de[:], off) != direntSize {
			panic("isdirempty: readi")
		}
		if de[0] != 0 || de[1] != 0 {
			return false
		}
	}
	return true
}

// unlink removes the directory entry at path, freeing the inode once
// its last link and reference are gone.
func (m *Machine) unlink(p *Proc, path string) syscall.Errno {
	m.beginOp(p)
	dp, name := m.nameiparent(p, path)
	if dp == nil {
		m.endOp(p)
		return syscall.ENOENT
	}

	m.ilock(p, dp)

	errno := syscall.ENOENT
	// Cannot unlink "." or "..".
	if !namecmp(name, ".") && !namecmp(name, "..") {
		var off uint32
		if ip := m.dirlookup(p, dp, name, &off); ip != nil {
			m.ilock(p, ip)

			if ip.nlink < 1 {
				panic("unlink: nlink < 1")
			}
			if ip.typ == T_DIR && !m.isdirempty(p, ip) {
				m.iunlockput(p, ip)
				errno = syscall.ENOTEMPTY
			} else {
				var de [direntSize]byte
				if m.writei(p, dp, de[:], off) != direntSize {
					panic("unlink: writei")
				}
				if ip.typ == T_DIR {
					dp.nlink--
					m.iupdate(p, dp)
				}
				m.iunlockput(p, dp)

				ip.nlink--
				m.iupdate(p, ip)
				m.iunlockput(p, ip)

				m.endOp(p)
				return OK
			}
		}
	} else {
		errno = syscall.EINVAL
	}

	m.iunlockput(p, dp)
	m.endOp(p)
	return errno
}

// chdir changes the current directory of p.
func (m *Machine) chdir(p *Proc, path string) syscall.Errno {
	m.beginOp(p)
	ip := m.namei(p, path)
	if ip == nil {
		m.endOp(p)
		return syscall.ENOENT
	}
	m.ilock(p, ip)
	if ip.typ != T_DIR {
		m.iunlockput(p, ip)
		m.endOp(p)
		return syscall.EINVAL
	}
	m.iunlock(p, ip)
	m.iput(p, p.cwd)
	m.endOp(p)
	p.cwd = ip
	return OK
}

// mkpipe creates a pipe and returns its read and write descriptors.
func (m *Machine) mkpipe(p *Proc) (int, int, syscall.Errno) {
	rf, wf, ok := m.pipealloc(p)
	if !ok {
		return -1, -1, syscall.ENFILE
	}
	fd0 := m.fdalloc(p, rf)
	fd1 := -1
	if fd0 >= 0 {
		fd1 = m.fdalloc(p, wf)
	}
	if fd0 < 0 || fd1 < 0 {
		if fd0 >= 0 {
			p.ofile[fd0] = nil
		}
		m.fileclose(p, rf)
		m.fileclose(p, wf)
		return -1, -1, syscall.EMFILE
	}
	return fd0, fd1, OK
}

// lseek repositions the offset of an open regular file. Seeking past
// the current size is rejected; sparse growth is not supported.
func (m *Machine) lseek(p *Proc, f *File, offset int32, whence int) (int32, syscall.Errno) {
	if f.typ != fdInode {
		return -1, syscall.EINVAL
	}
	ip := f.ip
	m.ilock(p, ip)
	if ip.typ != T_FILE {
		m.iunlock(p, ip)
		return -1, syscall.EINVAL
	}

	size := int32(ip.size)
	var newoff int32
	switch whence {
	case SEEK_SET:
		newoff = offset
	case SEEK_CUR:
		newoff = int32(f.off) + offset
	case SEEK_END:
		newoff = size + offset
	default:
		m.iunlock(p, ip)
		return -1, syscall.EINVAL
	}
	if newoff < 0 || newoff > size {
		m.iunlock(p, ip)
		return -1, syscall.EINVAL
	}
	f.off = uint32(newoff)
	m.iunlock(p, ip)
	return 0, OK
}

// System call wrappers.

func (m *Machine) sysDup(p *Proc) int32 {
	_, f, ok := m.argfd(p, 0)
	if !ok {
		return -1
	}
	fd := m.fdalloc(p, f)
	if fd < 0 {
		return -1
	}
	m.filedup(p, f)
	return int32(fd)
}

func (m *Machine) sysDup2(p *Proc) int32 {
	ofd, of, ok := m.argfd(p, 0)
	if !ok {
		return -1
	}
	nfd, nf, ok := m.argfd(p, 1)
	if !ok {
		return -1
	}
	if ofd == nfd {
		return int32(nfd)
	}
	m.fileclose(p, nf)
	p.ofile[nfd] = of
	m.filedup(p, of)
	return int32(nfd)
}

func (m *Machine) sysLseek(p *Proc) int32 {
	_, f, ok := m.argfd(p, 0)
	if !ok {
		return -1
	}
	offset, ok1 := m.argint(p, 1)
	whence, ok2 := m.argint(p, 2)
	if !ok1 || !ok2 {
		return -1
	}
	if _, errno := m.lseek(p, f, offset, int(whence)); errno != OK {
		return -1
	}
	return 0
}

func (m *Machine) sysRead(p *Proc) int32 {
	_, f, ok := m.argfd(p, 0)
	if !ok {
		return -1
	}
	n, ok1 := m.argint(p, 2)
	if !ok1 || n < 0 {
		return -1
	}
	va, ok2 := m.argptr(p, 1, int(n))
	if !ok2 {
		return -1
	}
	buf := make([]byte, n)
	r := m.fileread(p, f, buf)
	if r > 0 && m.copyout(p.pgdir, va, buf[:r]) < 0 {
		return -1
	}
	return int32(r)
}

func (m *Machine) sysWrite(p *Proc) int32 {
	_, f, ok := m.argfd(p, 0)
	if !ok {
		return -1
	}
	n, ok1 := m.argint(p, 2)
	if !ok1 || n < 0 {
		return -1
	}
	va, ok2 := m.argptr(p, 1, int(n))
	if !ok2 {
		return -1
	}
	buf := make([]byte, n)
	if m.copyin(p.pgdir, buf, va) < 0 {
		return -1
	}
	return int32(m.filewrite(p, f, buf))
}

// closeFd releases descriptor fd of p.
func (m *Machine) closeFd(p *Proc, fd int) syscall.Errno {
	if fd < 0 || fd >= NOFILE || p.ofile[fd] == nil {
		return syscall.EBADF
	}
	f := p.ofile[fd]
	p.ofile[fd] = nil
	m.fileclose(p, f)
	return OK
}

func (m *Machine) sysClose(p *Proc) int32 {
	fd, _, ok := m.argfd(p, 0)
	if !ok {
		return -1
	}
	if m.closeFd(p, fd) != OK {
		return -1
	}
	return 0
}

func (m *Machine) sysFstat(p *Proc) int32 {
	_, f, ok := m.argfd(p, 0)
	if !ok {
		return -1
	}
	va, ok1 := m.argptr(p, 1, statSize)
	if !ok1 {
		return -1
	}
	var st Stat
	if m.filestat(p, f, &st) < 0 {
		return -1
	}
	var buf [statSize]byte
	encodeStat(&st, buf[:])
	if m.copyout(p.pgdir, va, buf[:]) < 0 {
		return -1
	}
	return 0
}

func (m *Machine) sysLink(p *Proc) int32 {
	old, ok1 := m.argstr(p, 0)
	new, ok2 := m.argstr(p, 1)
	if !ok1 || !ok2 {
		return -1
	}
	if m.link(p, old, new) != OK {
		return -1
	}
	return 0
}

func (m *Machine) sysUnlink(p *Proc) int32 {
	path, ok := m.argstr(p, 0)
	if !ok {
		return -1
	}
	if m.unlink(p, path) != OK {
		return -1
	}
	return 0
}

func (m *Machine) sysOpen(p *Proc) int32 {
	path, ok1 := m.argstr(p, 0)
	omode, ok2 := m.argint(p, 1)
	if !ok1 || !ok2 {
		return -1
	}
	fd, errno := m.openfile(p, path, int(omode))
	if errno != OK {
		return -1
	}
	return int32(fd)
}

func (m *Machine) sysMkdir(p *Proc) int32 {
	path, ok := m.argstr(p, 0)
	if !ok || m.mkdir(p, path) != OK {
		return -1
	}
	return 0
}

func (m *Machine) sysMknod(p *Proc) int32 {
	path, ok := m.argstr(p, 0)
	major, ok1 := m.argint(p, 1)
	minor, ok2 := m.argint(p, 2)
	if !ok || !ok1 || !ok2 {
		return -1
	}
	if m.mknod(p, path, int16(major), int16(minor)) != OK {
		return -1
	}
	return 0
}

func (m *Machine) sysChdir(p *Proc) int32 {
	path, ok := m.argstr(p, 0)
	if !ok || m.chdir(p, path) != OK {
		return -1
	}
	return 0
}

func (m *Machine) sysExec(p *Proc) int32 {
	path, ok1 := m.argstr(p, 0)
	uargv, ok2 := m.argint(p, 1)
	if !ok1 || !ok2 {
		return -1
	}
	var argv []string
	for i := 0; ; i++ {
		if i >= MAXARG {
			return -1
		}
		uarg, ok := m.fetchint(p, uint32(uargv)+4*uint32(i))
		if !ok {
			return -1
		}
		if uarg == 0 {
			break
		}
		arg, ok := m.fetchstr(p, uint32(uarg))
		if !ok {
			return -1
		}
		argv = append(argv, arg)
	}
	return int32(m.exec(p, path, argv))
}

func (m *Machine) sysPipe(p *Proc) int32 {
	va, ok := m.argptr(p, 0, 8)
	if !ok {
		return -1
	}
	fd0, fd1, errno := m.mkpipe(p)
	if errno != OK {
		return -1
	}
	var buf [8]byte
	buf[0] = byte(fd0)
	buf[4] = byte(fd1)
	if m.copyout(p.pgdir, va, buf[:]) < 0 {
		rf, wf := p.ofile[fd0], p.ofile[fd1]
		p.ofile[fd0] = nil
		p.ofile[fd1] = nil
		m.fileclose(p, rf)
		m.fileclose(p, wf)
		return -1
	}
	return 0
}
