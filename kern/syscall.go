// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// System call numbers and the dispatcher. User code executes int
// T_SYSCALL with the call number in eax and the arguments on the
// stack above the saved return PC; the fetch helpers below read them
// back out of the caller's address space with bounds checks against
// the process size.
const (
	SYS_fork   = 1
	SYS_exit   = 2
	SYS_wait   = 3
	SYS_pipe   = 4
	SYS_read   = 5
	SYS_kill   = 6
	SYS_exec   = 7
	SYS_fstat  = 8
	SYS_chdir  = 9
	SYS_dup    = 10
	SYS_getpid = 11
	SYS_sbrk   = 12
	SYS_sleep  = 13
	SYS_uptime = 14
	SYS_open   = 15
	SYS_write  = 16
	SYS_mknod  = 17
	SYS_unlink = 18
	SYS_link   = 19
	SYS_mkdir  = 20
	SYS_close  = 21
	SYS_date   = 22
	SYS_dup2   = 23
	SYS_lseek  = 24
)

// fetchint fetches an int at addr from the current process.
func (m *Machine) fetchint(p *Proc, addr uint32) (int32, bool) {
	if addr >= p.sz || addr+4 > p.sz {
		return 0, false
	}
	var b [4]byte
	if m.copyin(p.pgdir, b[:], addr) < 0 {
		return 0, false
	}
	return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24), true
}

// fetchstr fetches the NUL-terminated string at addr, bounded by a
// scan that stays inside the process size.
func (m *Machine) fetchstr(p *Proc, addr uint32) (string, bool) {
	if addr >= p.sz {
		return "", false
	}
	var s []byte
	for a := addr; a < p.sz; a++ {
		var b [1]byte
		if m.copyin(p.pgdir, b[:], a) < 0 {
			return "", false
		}
		if b[0] == 0 {
			return string(s), true
		}
		s = append(s, b[0])
	}
	return "", false
}

// argint fetches the nth 32-bit system call argument.
func (m *Machine) argint(p *Proc, n int) (int32, bool) {
	return m.fetchint(p, p.tf.Esp+4+4*uint32(n))
}

// argptr fetches the nth argument as a pointer to a block of size
// bytes and checks that it lies within the process address space.
func (m *Machine) argptr(p *Proc, n, size int) (uint32, bool) {
	i, ok := m.argint(p, n)
	if !ok {
		return 0, false
	}
	if size < 0 || uint32(i) >= p.sz || uint32(i)+uint32(size) > p.sz {
		return 0, false
	}
	return uint32(i), true
}

// argstr fetches the nth argument as a string pointer and checks that
// the pointer is valid and the string NUL-terminated.
func (m *Machine) argstr(p *Proc, n int) (string, bool) {
	addr, ok := m.argint(p, n)
	if !ok {
		return "", false
	}
	return m.fetchstr(p, uint32(addr))
}

// argfd fetches the nth argument as a file descriptor and returns the
// descriptor and the corresponding File.
func (m *Machine) argfd(p *Proc, n int) (int, *File, bool) {
	fd, ok := m.argint(p, n)
	if !ok {
		return 0, nil, false
	}
	if fd < 0 || fd >= NOFILE || p.ofile[fd] == nil {
		return 0, nil, false
	}
	return int(fd), p.ofile[fd], true
}

var syscalls = [...]func(*Machine, *Proc) int32{
	SYS_fork:   (*Machine).sysFork,
	SYS_exit:   (*Machine).sysExit,
	SYS_wait:   (*Machine).sysWait,
	SYS_pipe:   (*Machine).sysPipe,
	SYS_read:   (*Machine).sysRead,
	SYS_kill:   (*Machine).sysKill,
	SYS_exec:   (*Machine).sysExec,
	SYS_fstat:  (*Machine).sysFstat,
	SYS_chdir:  (*Machine).sysChdir,
	SYS_dup:    (*Machine).sysDup,
	SYS_getpid: (*Machine).sysGetpid,
	SYS_sbrk:   (*Machine).sysSbrk,
	SYS_sleep:  (*Machine).sysSleep,
	SYS_uptime: (*Machine).sysUptime,
	SYS_open:   (*Machine).sysOpen,
	SYS_write:  (*Machine).sysWrite,
	SYS_mknod:  (*Machine).sysMknod,
	SYS_unlink: (*Machine).sysUnlink,
	SYS_link:   (*Machine).sysLink,
	SYS_mkdir:  (*Machine).sysMkdir,
	SYS_close:  (*Machine).sysClose,
	SYS_date:   (*Machine).sysDate,
	SYS_dup2:   (*Machine).sysDup2,
	SYS_lseek:  (*Machine).sysLseek,
}

func (m *Machine) syscall(p *Proc) {
	num := int(p.tf.Eax)
	if num > 0 && num < len(syscalls) && syscalls[num] != nil {
		p.tf.Eax = uint32(syscalls[num](m, p))
	} else {
		m.logf("%d %s: unknown sys call %d", p.pid, p.name, num)
		p.tf.Eax = uint32(0xFFFFFFFF)
	}
}
