// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// Trap dispatch. Every kernel entry from a running process comes
// through here: system calls, timer and device interrupts, and
// faults. A process with the kill mark set is torn down on the way
// back to user space, never in the middle of kernel work.

func (m *Machine) trap(p *Proc, tf *Trapframe) {
	if tf.Trapno == T_SYSCALL {
		if p.isKilled() {
			m.exit(p)
		}
		m.syscall(p)
		if p.isKilled() {
			m.exit(p)
		}
		return
	}

	switch tf.Trapno {
	case T_IRQ0 + IRQ_TIMER:
		// The tick count is maintained by the timer source acting as
		// CPU 0's handler (see clock); here only the yield below is
		// left to do.
	case T_IRQ0 + IRQ_IDE:
		m.ideintr()
	case T_IRQ0 + IRQ_IDE + 1:
		// Bochs generates spurious IDE1 interrupts.
	case T_IRQ0 + IRQ_KBD, T_IRQ0 + IRQ_COM1:
		// Console input arrives through ConsoleInput, which runs the
		// handler in interrupt context already.
	case T_IRQ0 + 7, T_IRQ0 + IRQ_SPURIOUS:
		m.logf("cpu%d: spurious interrupt at %x:%x", p.cpu.id, tf.Cs, tf.Eip)

	default:
		if p == nil || tf.Cs&3 == 0 {
			// In kernel: it must be our mistake.
			m.logf("unexpected trap %d eip %x", tf.Trapno, tf.Eip)
			panic("trap")
		}
		if tf.Trapno == T_PGFLT && m.growForFault(p, p.cpu.cr2) {
			break
		}
		// In user space: the process misbehaved.
		m.logf("pid %d %s: trap %d err %d on cpu %d eip 0x%x addr 0x%x--kill proc",
			p.pid, p.name, tf.Trapno, tf.Err, p.cpu.id, tf.Eip, p.cpu.cr2)
		p.setKilled(true)
	}

	// Force process exit if it has been killed and is in user space.
	// (If it is still executing in the kernel, let it keep running
	// until it gets to the regular system call return.)
	if p != nil && p.isKilled() && tf.Cs&3 == DPL_USER {
		m.exit(p)
	}

	// Force process to give up CPU on clock tick.
	if p != nil && p.state == RUNNING && tf.Trapno == T_IRQ0+IRQ_TIMER {
		m.yield(p)
	}

	// Check if the process has been killed since we yielded.
	if p != nil && p.isKilled() && tf.Cs&3 == DPL_USER {
		m.exit(p)
	}
}

// growForFault handles a user-mode page fault above the current size
// by growing the heap from p.sz to cover the faulting address.
// Growing from the current size keeps [0, p.sz) contiguously mapped,
// which fork's address-space copy depends on; a fault landing several
// pages up fills the whole gap. It reports false, leaving size and
// page table untouched, when the fault is not a growth fault or the
// allocator is exhausted; allocuvm frees only the pages it added, so
// a failed growth is invisible and a repeated fault is idempotent.
func (m *Machine) growForFault(p *Proc, va uint32) bool {
	if va >= KERNBASE {
		return false
	}
	if pte := m.walkpgdir(nil, p.pgdir, va, false); pte != 0 && m.getu32(pte)&PTE_P != 0 {
		// Present but inaccessible: a protection violation (the stack
		// guard page), not missing memory.
		return false
	}
	newsz := pgRoundUp(va + 1)
	if newsz <= p.sz {
		// Below the current size everything is already mapped, so
		// this fault cannot be cured by growth.
		return false
	}
	if m.allocuvm(p.cpu, p.pgdir, p.sz, newsz) == 0 {
		return false
	}
	p.sz = newsz
	return true
}
