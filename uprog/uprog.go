// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uprog holds stock user programs for the kernel's micro-ISA
// and helpers for writing new ones. A program's only mutable state is
// the trapframe registers and user memory, so programs survive fork
// and exec like real machine code. Conventions: branches go through
// UserCtx.Jmp, and an instruction that forks must make Syscall its
// last action so the child resumes cleanly at the next instruction.
package uprog

import "github.com/hanwen/go-xv6/kern"

// Argc reads the argument count from the entry stack frame.
func Argc(u *kern.UserCtx) uint32 {
	return u.Load32(u.Tf().Esp + 4)
}

// Argv reads the address of the i'th argument string.
func Argv(u *kern.UserCtx, i uint32) uint32 {
	argv := u.Load32(u.Tf().Esp + 8)
	return u.Load32(argv + 4*i)
}

// CString stores s NUL-terminated at va and returns va.
func CString(u *kern.UserCtx, va uint32, s string) uint32 {
	u.StoreBytes(va, append([]byte(s), 0))
	return va
}

// Hang returns an instruction that sleeps forever, for init-style
// programs that must never exit.
func Hang(self uint32) kern.Instr {
	return func(u *kern.UserCtx) {
		u.Syscall(kern.SYS_sleep, 1000)
		u.Jmp(self)
	}
}

// Exit returns an instruction that terminates the process.
func Exit() kern.Instr {
	return func(u *kern.UserCtx) {
		u.Syscall(kern.SYS_exit)
	}
}

// Init is the stock first process: it creates the console device,
// opens descriptors 0/1/2 on it, forks a child that execs /bin/main,
// and loops reaping children. Init itself never exits.
var Init = &kern.Program{
	Name: "init",
	Text: []kern.Instr{
		// 0: scratch = sbrk(128), kept in ebx
		func(u *kern.UserCtx) {
			u.Tf().Ebx = u.Syscall(kern.SYS_sbrk, 128)
		},
		// 1: mknod("console", 1, 1); open("console", O_RDWR); dup; dup
		func(u *kern.UserCtx) {
			cons := CString(u, u.Tf().Ebx, "console")
			u.Syscall(kern.SYS_mknod, cons, 1, 1)
			u.Syscall(kern.SYS_open, cons, kern.O_RDWR)
			u.Syscall(kern.SYS_dup, 0) // stdout
			u.Syscall(kern.SYS_dup, 0) // stderr
		},
		// 2: fork
		func(u *kern.UserCtx) {
			u.Syscall(kern.SYS_fork)
		},
		// 3: the child execs /bin/main
		func(u *kern.UserCtx) {
			if u.Tf().Eax != 0 {
				return
			}
			scratch := u.Tf().Ebx
			path := CString(u, scratch+8, "/bin/main")
			name := CString(u, scratch+24, "main")
			argv := scratch + 40
			u.Store32(argv, name)
			u.Store32(argv+4, 0)
			u.Syscall(kern.SYS_exec, path, argv)
			u.Syscall(kern.SYS_exit)
		},
		// 4: reap children forever
		func(u *kern.UserCtx) {
			if int32(u.Syscall(kern.SYS_wait)) >= 0 {
				u.Jmp(4)
			}
		},
		Hang(5),
	},
}

// Cat copies each file named in argv (or standard input) to standard
// output.
var Cat = &kern.Program{
	Name: "cat",
	Text: []kern.Instr{
		// ebx = next arg index, ecx = sbrk(512) buffer
		func(u *kern.UserCtx) {
			u.Tf().Ebx = 1
			u.Tf().Ecx = u.Syscall(kern.SYS_sbrk, 512)
		},
		// open next argument (or use fd 0), edx = fd
		func(u *kern.UserCtx) {
			tf := u.Tf()
			if Argc(u) < 2 {
				tf.Edx = 0
				u.Jmp(2)
				return
			}
			if tf.Ebx >= Argc(u) {
				u.Syscall(kern.SYS_exit)
				return
			}
			fd := u.Syscall(kern.SYS_open, Argv(u, tf.Ebx), kern.O_RDONLY)
			if int32(fd) < 0 {
				u.Syscall(kern.SYS_exit)
				return
			}
			tf.Edx = fd
			u.Jmp(2)
		},
		// copy loop
		func(u *kern.UserCtx) {
			tf := u.Tf()
			n := u.Syscall(kern.SYS_read, tf.Edx, tf.Ecx, 512)
			if int32(n) > 0 {
				u.Syscall(kern.SYS_write, 1, tf.Ecx, n)
				u.Jmp(2)
				return
			}
			if Argc(u) < 2 {
				u.Syscall(kern.SYS_exit)
				return
			}
			u.Syscall(kern.SYS_close, tf.Edx)
			tf.Ebx++
			u.Jmp(1)
		},
	},
}

// Echo writes its arguments to standard output.
var Echo = &kern.Program{
	Name: "echo",
	Text: []kern.Instr{
		func(u *kern.UserCtx) {
			u.Tf().Ebx = u.Syscall(kern.SYS_sbrk, 4096)
		},
		func(u *kern.UserCtx) {
			buf := u.Tf().Ebx
			n := uint32(0)
			for i := uint32(1); i < Argc(u); i++ {
				if i > 1 {
					u.Store8(buf+n, ' ')
					n++
				}
				for a := Argv(u, i); ; a++ {
					c := u.Load8(a)
					if c == 0 {
						break
					}
					u.Store8(buf+n, c)
					n++
				}
			}
			u.Store8(buf+n, '\n')
			n++
			u.Syscall(kern.SYS_write, 1, buf, n)
			u.Syscall(kern.SYS_exit)
		},
	},
}

// Registry returns the stock programs keyed by name, ready for
// kern.Options.Programs.
func Registry() map[string]*kern.Program {
	return map[string]*kern.Program{
		Init.Name: Init,
		Cat.Name:  Cat,
		Echo.Name: Echo,
	}
}
