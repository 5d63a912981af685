// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "syscall"

// File access helpers for harnesses and tools that sit outside the
// machine: each runs a short-lived kernel process so the operation
// has full process context (transactions, sleep-locks, disk waits).

// ReadFile returns the contents of path.
func (m *Machine) ReadFile(path string) ([]byte, error) {
	var data []byte
	errno := m.runHarness("readfile", func(p *Proc) syscall.Errno {
		fd, errno := m.openfile(p, path, O_RDONLY)
		if errno != OK {
			return errno
		}
		defer m.closeFd(p, fd)
		buf := make([]byte, 4*BSIZE)
		for {
			n := m.fileread(p, p.ofile[fd], buf)
			if n < 0 {
				return syscall.EIO
			}
			if n == 0 {
				return OK
			}
			data = append(data, buf[:n]...)
		}
	})
	if errno != OK {
		return nil, errno
	}
	return data, nil
}

// WriteFile creates or truncates path with the given contents.
func (m *Machine) WriteFile(path string, data []byte) error {
	errno := m.runHarness("writefile", func(p *Proc) syscall.Errno {
		fd, errno := m.openfile(p, path, O_CREATE|O_WRONLY)
		if errno != OK {
			return errno
		}
		defer m.closeFd(p, fd)
		if n := m.filewrite(p, p.ofile[fd], data); n != len(data) {
			return syscall.ENOSPC
		}
		return OK
	})
	if errno != OK {
		return errno
	}
	return nil
}

// Mkdir creates a directory.
func (m *Machine) Mkdir(path string) error {
	if errno := m.runHarness("mkdir", func(p *Proc) syscall.Errno {
		return m.mkdir(p, path)
	}); errno != OK {
		return errno
	}
	return nil
}

// Unlink removes a path.
func (m *Machine) Unlink(path string) error {
	if errno := m.runHarness("unlink", func(p *Proc) syscall.Errno {
		return m.unlink(p, path)
	}); errno != OK {
		return errno
	}
	return nil
}

func (m *Machine) runHarness(name string, fn func(p *Proc) syscall.Errno) syscall.Errno {
	res := make(chan syscall.Errno, 1)
	if _, err := m.Spawn(name, func(p *Proc) {
		res <- fn(p)
	}); err != nil {
		return syscall.EAGAIN
	}
	return <-res
}
