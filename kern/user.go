// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "sync/atomic"

// User-mode execution.
//
// User code is a micro-ISA collaborator standing in for the machine
// code a real kernel would run: a Program is a named sequence of
// instructions, and an instruction is a function whose only mutable
// state is the trapframe and user memory. Everything else about a
// process (its heap, its stack, its argv) lives behind the page
// table, so fork's trapframe-plus-pgdir copy duplicates a running
// program exactly, and exec replaces it wholesale.
//
// Memory operations translate through the process page table and
// raise real page faults; the fault handler either grows the heap or
// kills the process, and the operation retries, which is the restart
// semantics of a faulting mov on hardware.

// Program is a user text segment.
type Program struct {
	Name string
	Text []Instr
}

// Instr is one user instruction. After it returns, the program
// counter advances unless the instruction branched with Jmp or made a
// Syscall (which sets the next Eip itself).
type Instr func(u *UserCtx)

// UserCtx is the register/memory view an instruction executes
// against.
type UserCtx struct {
	m *Machine
	p *Proc

	curIP  uint32 // index of the executing instruction
	jumped bool   // the instruction redirected control flow
}

// Tf returns the register file.
func (u *UserCtx) Tf() *Trapframe { return u.p.tf }

// Jmp transfers control to the instruction at target. Branches must
// go through Jmp (not direct Eip writes) so the executor knows not to
// advance the program counter.
func (u *UserCtx) Jmp(target uint32) {
	u.p.tf.Eip = target
	u.jumped = true
}

// translate resolves a user virtual address, faulting into the
// kernel until the access is satisfiable. It does not return if the
// fault kills the process.
func (u *UserCtx) translate(va uint32, write bool) uint32 {
	for {
		pte := u.m.walkpgdir(nil, u.p.pgdir, va, false)
		if pte != 0 {
			v := u.m.getu32(pte)
			if v&PTE_P != 0 && v&PTE_U != 0 && (!write || v&PTE_W != 0) {
				return pteAddr(v) + va%PGSIZE
			}
		}
		u.m.pagefault(u.p, va)
	}
}

// Load8 loads a byte from user memory.
func (u *UserCtx) Load8(va uint32) byte {
	return u.m.phys[u.translate(va, false)]
}

// Store8 stores a byte to user memory.
func (u *UserCtx) Store8(va uint32, b byte) {
	u.m.phys[u.translate(va, true)] = b
}

// Load32 loads a little-endian 32-bit word from user memory. The
// access may straddle a page boundary.
func (u *UserCtx) Load32(va uint32) uint32 {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(u.Load8(va+i)) << (8 * i)
	}
	return v
}

// Store32 stores a little-endian 32-bit word to user memory.
func (u *UserCtx) Store32(va, v uint32) {
	for i := uint32(0); i < 4; i++ {
		u.Store8(va+i, byte(v>>(8*i)))
	}
}

// StoreBytes copies data into user memory at va.
func (u *UserCtx) StoreBytes(va uint32, data []byte) {
	for i, b := range data {
		u.Store8(va+uint32(i), b)
	}
}

// LoadBytes copies n bytes of user memory at va.
func (u *UserCtx) LoadBytes(va, n uint32) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = u.Load8(va + uint32(i))
	}
	return data
}

// LoadString reads a NUL-terminated string at va.
func (u *UserCtx) LoadString(va uint32) string {
	var data []byte
	for {
		b := u.Load8(va)
		if b == 0 {
			return string(data)
		}
		data = append(data, b)
		va++
	}
}

// Syscall pushes args onto the user stack per the 32-bit calling
// convention (arguments above a fake return PC), executes int
// T_SYSCALL, and returns the value left in Eax.
//
// The int completes the instruction: Eip is advanced before the
// kernel runs, so a forked child resumes at the next instruction. A
// program that branches on fork's result must therefore read Eax in
// the instruction after the one that called Syscall.
func (u *UserCtx) Syscall(num uint32, args ...uint32) uint32 {
	tf := u.p.tf
	oldsp := tf.Esp
	sp := oldsp
	for i := len(args) - 1; i >= 0; i-- {
		sp -= 4
		u.Store32(sp, args[i])
	}
	sp -= 4
	u.Store32(sp, 0xFFFFFFFF) // fake return PC
	tf.Esp = sp
	tf.Eax = num
	tf.Trapno = T_SYSCALL
	if !u.jumped {
		tf.Eip = u.curIP + 1
		u.jumped = true
	}

	u.m.trap(u.p, tf)

	if tf.Esp != sp {
		// The kernel replaced the whole image (a successful exec):
		// the rest of this instruction belongs to the old text and
		// must not run. The executor unwinds to the new entry point.
		panic(execTrap{})
	}
	// Pop the arguments.
	tf.Esp = oldsp
	return tf.Eax
}

// execTrap unwinds the remainder of an instruction whose Syscall
// replaced the process image.
type execTrap struct{}

// pagefault delivers a page fault for va to the trap handler.
func (m *Machine) pagefault(p *Proc, va uint32) {
	p.cpu.cr2 = va
	p.tf.Trapno = T_PGFLT
	p.tf.Err = 0
	m.trap(p, p.tf)
	p.tf.Trapno = 0
}

// userRun executes user instructions until the process exits. It is
// the return-to-user half of the trap path: between instructions it
// delivers pending timer interrupts and lets the kernel run the
// process down if it was killed.
func (m *Machine) userRun(p *Proc) {
	u := &UserCtx{m: m, p: p}
	for {
		if atomic.SwapUint32(&p.cpu.resched, 0) != 0 {
			p.tf.Trapno = T_IRQ0 + IRQ_TIMER
			m.trap(p, p.tf)
			p.tf.Trapno = 0
		}

		ip := p.tf.Eip
		if p.prog == nil || int(ip) >= len(p.prog.Text) {
			// Executing past the text is an illegal instruction.
			p.tf.Trapno = tIllop
			m.trap(p, p.tf)
			continue
		}
		u.curIP = ip
		u.jumped = false
		step(u, p.prog.Text[ip])
		if !u.jumped {
			p.tf.Eip = ip + 1
		}
	}
}

// step runs one instruction, absorbing the unwind of a successful
// exec.
func step(u *UserCtx, ins Instr) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(execTrap); ok {
				return
			}
			panic(r)
		}
	}()
	ins(u)
}

// tIllop is the x86 invalid-opcode trap.
const tIllop = 6

// ProgImage builds the on-disk executable image for a registered
// program: an interpreter line naming it. Real ELF loading belongs to
// an external collaborator; see Options.ResolveProgram.
func ProgImage(name string) []byte {
	return []byte("#!" + name + "\n")
}

// ParseProgImage extracts the program name from an executable image.
func ParseProgImage(image []byte) (string, bool) {
	if len(image) < 2 || image[0] != '#' || image[1] != '!' {
		return "", false
	}
	for i := 2; i < len(image); i++ {
		if image[i] == '\n' {
			return string(image[2:i]), i > 2
		}
	}
	return "", false
}
