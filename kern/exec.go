// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// exec replaces the current process image with the program stored at
// path. The executable format is delegated to a collaborator (see
// Options.ResolveProgram); the default recognizes the interpreter
// line written by ProgImage. The memory image is the classic one:
// the file contents mapped from address zero, then a guard page, then
// one stack page carrying argv.
func (m *Machine) exec(p *Proc, path string, argv []string) int {
	m.beginOp(p)

	ip := m.namei(p, path)
	if ip == nil {
		m.endOp(p)
		return -1
	}
	m.ilock(p, ip)

	var pgdir uint32
	bad := func() int {
		if pgdir != 0 {
			m.freevm(p.cpu, pgdir)
		}
		if ip != nil {
			m.iunlockput(p, ip)
			m.endOp(p)
		}
		return -1
	}

	// Identify the program.
	hdr := make([]byte, BSIZE)
	n := m.readi(p, ip, hdr, 0)
	if n < 0 {
		return bad()
	}
	prog := m.resolveProgram(hdr[:n])
	if prog == nil {
		return bad()
	}

	if pgdir = m.setupkvm(p.cpu); pgdir == 0 {
		return bad()
	}

	// Load the image at address zero.
	sz := m.allocuvm(p.cpu, pgdir, 0, pgRoundUp(ip.size))
	if sz == 0 {
		return bad()
	}
	if m.loaduvm(p, pgdir, 0, ip, 0, ip.size) < 0 {
		return bad()
	}
	m.iunlockput(p, ip)
	m.endOp(p)
	ip = nil

	// Allocate two pages at the next page boundary: the first is a
	// stack guard, the second the user stack.
	sz = pgRoundUp(sz)
	if sz = m.allocuvm(p.cpu, pgdir, sz, sz+2*PGSIZE); sz == 0 {
		m.freevm(p.cpu, pgdir)
		return -1
	}
	m.clearpteu(p.cpu, pgdir, sz-2*PGSIZE)
	sp := sz

	// Push argument strings, then the array of argv pointers, argc
	// and a fake return PC.
	if len(argv) > MAXARG {
		m.freevm(p.cpu, pgdir)
		return -1
	}
	ustack := make([]uint32, 3+len(argv)+1)
	for i, arg := range argv {
		sp = (sp - uint32(len(arg)+1)) &^ 3
		if m.copyout(pgdir, sp, append([]byte(arg), 0)) < 0 {
			m.freevm(p.cpu, pgdir)
			return -1
		}
		ustack[3+i] = sp
	}
	ustack[3+len(argv)] = 0

	ustack[0] = 0xFFFFFFFF // fake return PC
	ustack[1] = uint32(len(argv))
	ustack[2] = sp - uint32(len(argv)+1)*4 // argv pointer

	sp -= uint32(len(ustack)) * 4
	buf := make([]byte, len(ustack)*4)
	for i, v := range ustack {
		buf[4*i] = byte(v)
		buf[4*i+1] = byte(v >> 8)
		buf[4*i+2] = byte(v >> 16)
		buf[4*i+3] = byte(v >> 24)
	}
	if m.copyout(pgdir, sp, buf) < 0 {
		m.freevm(p.cpu, pgdir)
		return -1
	}

	name := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			name = path[i+1:]
			break
		}
	}

	// Commit to the user image.
	oldpgdir := p.pgdir
	p.pgdir = pgdir
	p.sz = sz
	p.prog = prog
	p.name = name
	p.tf.Eip = 0
	p.tf.Esp = sp
	m.switchuvm(p.cpu, p)
	m.freevm(p.cpu, oldpgdir)
	return 0
}

// resolveProgram maps an executable's bytes to a Program.
func (m *Machine) resolveProgram(image []byte) *Program {
	if m.opts.ResolveProgram != nil {
		return m.opts.ResolveProgram(m, image)
	}
	name, ok := ParseProgImage(image)
	if !ok {
		return nil
	}
	return m.progs[name]
}
