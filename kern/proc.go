// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import (
	"sync/atomic"
	"time"
)

type procstate int

const (
	UNUSED procstate = iota
	EMBRYO
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

func (s procstate) String() string {
	switch s {
	case UNUSED:
		return "unused"
	case EMBRYO:
		return "embryo"
	case SLEEPING:
		return "sleep "
	case RUNNABLE:
		return "runble"
	case RUNNING:
		return "run   "
	case ZOMBIE:
		return "zombie"
	}
	return "???"
}

// taskstate is the slice of the x86 TSS the kernel writes: the ring-0
// stack and the I/O permission bitmap offset.
type taskstate struct {
	ss0  uint32
	esp0 uint32
	iomb uint16
}

// CPU is the per-CPU state. The scheduler CPUs each own a goroutine;
// interrupt sources (timer, IDE, console) get pseudo-CPUs of their own
// so the spinlock nesting protocol covers interrupt context too.
type CPU struct {
	id        int
	scheduler *Context // swtch here to enter the scheduler
	ts        taskstate
	cr3       uint32 // current page table
	intrOn    bool   // simulated IF flag
	ncli      int    // depth of pushcli nesting
	intena    bool   // were interrupts enabled before pushcli?
	proc      *Proc  // the process running on this cpu, or nil
	cr2       uint32 // faulting address of the last page fault

	resched uint32 // timer requested a yield (atomic)
}

// Trapframe is the CPU state saved on kernel entry. The micro-ISA
// user code keeps all of its register state here, which is what makes
// fork's trapframe copy sufficient to duplicate a running program.
type Trapframe struct {
	Edi, Esi, Ebp uint32
	Ebx, Edx, Ecx uint32
	Eax           uint32

	Trapno uint32
	Err    uint32

	Eip    uint32
	Cs     uint32
	Eflags uint32
	Esp    uint32
}

// FL_IF is the interrupt-enable bit in Eflags.
const FL_IF = 0x200

// Proc is a process.
type Proc struct {
	sz      uint32        // size of process memory in bytes
	pgdir   uint32        // page table (physical address)
	state   procstate     // process state
	pid     int           // process ID
	parent  *Proc         // parent process
	tf      *Trapframe    // trapframe for current syscall
	context *Context      // swtch here to run the process
	wchan   any           // if non-nil, sleeping on wchan
	killed  int32         // non-zero if killed (atomic)
	ofile   [NOFILE]*File // open files
	cwd     *Inode        // current directory
	name    string        // process name (debugging)

	cpu    *CPU // CPU the process is running on
	m      *Machine
	prog   *Program    // user text, set by userinit/exec
	kentry func(*Proc) // kernel-process entry; nil for user processes
}

// Pid returns the process ID.
func (p *Proc) Pid() int { return p.pid }

// Machine returns the owning kernel instance.
func (p *Proc) Machine() *Machine { return p.m }

func (p *Proc) isKilled() bool { return atomic.LoadInt32(&p.killed) != 0 }
func (p *Proc) setKilled(v bool) {
	if v {
		atomic.StoreInt32(&p.killed, 1)
	} else {
		atomic.StoreInt32(&p.killed, 0)
	}
}

type ptable struct {
	lock Spinlock
	proc [NPROC]Proc
}

func (m *Machine) pinit() {
	m.ptable.lock.init("ptable")
	m.nextpid = 1
}

// allocproc looks for an UNUSED slot in the process table. If found,
// it sets the state to EMBRYO and seeds a context whose first run
// enters forkret. Returns nil if no slot is free.
func (m *Machine) allocproc(c *CPU) *Proc {
	m.ptable.lock.acquire(c)

	var p *Proc
	for i := range m.ptable.proc {
		if m.ptable.proc[i].state == UNUSED {
			p = &m.ptable.proc[i]
			break
		}
	}
	if p == nil {
		m.ptable.lock.release(c)
		return nil
	}

	p.state = EMBRYO
	p.pid = m.nextpid
	m.nextpid++

	m.ptable.lock.release(c)

	p.m = m
	p.tf = &Trapframe{}
	p.parent = nil
	p.wchan = nil
	p.kentry = nil
	p.prog = nil
	p.sz = 0
	p.setKilled(false)

	// Set up the new context to start executing at forkret.
	p.context = newContext(func() { m.forkret(p) })

	return p
}

// userinit sets up the first user process from the configured init
// program.
func (m *Machine) userinit() {
	p := m.allocproc(m.bootCPU)
	if p == nil {
		panic("userinit: no proc")
	}
	m.initproc = p

	if p.pgdir = m.setupkvm(m.bootCPU); p.pgdir == 0 {
		panic("userinit: out of memory?")
	}
	prog := m.progs[m.opts.Init]
	if prog == nil {
		panic("userinit: no init program " + m.opts.Init)
	}
	m.inituvm(m.bootCPU, p.pgdir, ProgImage(prog.Name))
	p.sz = PGSIZE
	*p.tf = Trapframe{
		Cs:     SEG_UCODE,
		Eflags: FL_IF,
		Esp:    PGSIZE,
		Eip:    0,
	}
	p.prog = prog
	p.name = "initcode"
	// p.cwd is set on first run, in forkret, once the file system is
	// up; the root directory cannot disappear underneath it.

	// Publishing RUNNABLE lets another core run this process; the
	// acquire makes the writes above visible.
	m.ptable.lock.acquire(m.bootCPU)
	p.state = RUNNABLE
	m.ptable.lock.release(m.bootCPU)
}

// growproc grows or shrinks the current process's memory by n bytes.
func (m *Machine) growproc(p *Proc, n int) int {
	sz := p.sz
	target := uint32(int64(sz) + int64(n))
	if n > 0 {
		if sz = m.allocuvm(p.cpu, p.pgdir, sz, target); sz == 0 {
			return -1
		}
	} else if n < 0 {
		if sz = m.deallocuvm(p.cpu, p.pgdir, sz, target); sz == 0 {
			return -1
		}
	}
	p.sz = sz
	m.switchuvm(p.cpu, p)
	return 0
}

// fork creates a new process copying p as the parent, with a return
// frame arranged as if it had just returned from the same system
// call. Returns the child pid, or -1 on failure.
func (m *Machine) fork(p *Proc) int {
	np := m.allocproc(p.cpu)
	if np == nil {
		return -1
	}

	// Copy process state.
	if np.pgdir = m.copyuvm(p.cpu, p.pgdir, p.sz); np.pgdir == 0 {
		np.context.free()
		np.context = nil
		m.ptable.lock.acquire(p.cpu)
		np.pid = 0
		np.state = UNUSED
		m.ptable.lock.release(p.cpu)
		return -1
	}
	np.sz = p.sz
	np.parent = p
	*np.tf = *p.tf
	np.prog = p.prog

	// Clear eax so that fork returns 0 in the child.
	np.tf.Eax = 0

	for i, f := range p.ofile {
		if f != nil {
			np.ofile[i] = m.filedup(p, f)
		}
	}
	np.cwd = m.idup(p, p.cwd)

	np.name = p.name

	pid := np.pid

	m.ptable.lock.acquire(p.cpu)
	np.state = RUNNABLE
	m.ptable.lock.release(p.cpu)

	return pid
}

// exit terminates the current process; it does not return. The
// process stays a zombie until its parent calls wait.
func (m *Machine) exit(p *Proc) {
	if p == m.initproc {
		panic("init exiting")
	}

	// Close all open files.
	for fd, f := range p.ofile {
		if f != nil {
			m.fileclose(p, f)
			p.ofile[fd] = nil
		}
	}

	m.beginOp(p)
	m.iput(p, p.cwd)
	m.endOp(p)
	p.cwd = nil

	m.ptable.lock.acquire(p.cpu)

	// Parent might be sleeping in wait().
	m.wakeup1(p.parent)

	// Pass abandoned children to init.
	for i := range m.ptable.proc {
		q := &m.ptable.proc[i]
		if q.parent == p {
			q.parent = m.initproc
			if q.state == ZOMBIE {
				m.wakeup1(m.initproc)
			}
		}
	}

	// Jump into the scheduler, never to return.
	p.state = ZOMBIE
	m.sched(p)
	panic("zombie exit")
}

// wait blocks until a child of p exits, reaps it and returns its pid,
// or returns -1 if p has no children.
func (m *Machine) wait(p *Proc) int {
	m.ptable.lock.acquire(p.cpu)
	for {
		// Scan the table looking for exited children.
		havekids := false
		for i := range m.ptable.proc {
			q := &m.ptable.proc[i]
			if q.parent != p {
				continue
			}
			havekids = true
			if q.state == ZOMBIE {
				// Found one.
				pid := q.pid
				q.context.free() // free the kernel stack
				q.context = nil
				m.freevm(p.cpu, q.pgdir)
				q.pgdir = 0
				q.pid = 0
				q.parent = nil
				q.name = ""
				q.setKilled(false)
				q.state = UNUSED
				m.ptable.lock.release(p.cpu)
				return pid
			}
		}

		// No point waiting if we don't have any children.
		if !havekids || p.isKilled() {
			m.ptable.lock.release(p.cpu)
			return -1
		}

		// Wait for children to exit; exit wakes us on our identity.
		m.sleep(p, p, &m.ptable.lock)
	}
}

// scheduler is the per-CPU scheduler loop. It never returns (until
// the machine halts): it picks a runnable process, switches to it,
// and regains control when the process switches back.
func (m *Machine) scheduler(c *CPU) {
	c.proc = nil

	for {
		// Enable interrupts on this processor.
		c.sti()

		if m.isHalted() {
			return
		}

		ran := false
		m.ptable.lock.acquire(c)
		for i := range m.ptable.proc {
			p := &m.ptable.proc[i]
			if p.state != RUNNABLE {
				continue
			}

			// Switch to the chosen process. It is the process's job
			// to release ptable.lock and reacquire it before
			// switching back.
			c.proc = p
			p.cpu = c
			m.switchuvm(c, p)
			p.state = RUNNING

			swtch(c.scheduler, p.context)
			m.switchkvm(c)

			// The process is done running for now; it changed its
			// state before coming back.
			c.proc = nil
			ran = true
		}
		m.ptable.lock.release(c)

		if !ran {
			// Idle; don't burn the host CPU scanning.
			time.Sleep(20 * time.Microsecond)
		}
	}
}

// sched reenters the scheduler. The caller must hold ptable.lock and
// only ptable.lock, and must already have changed p.state. intena is
// a property of this kernel thread, not this CPU, so save and restore
// it across the switch; the process may wake on a different CPU.
func (m *Machine) sched(p *Proc) {
	c := p.cpu
	if !m.ptable.lock.holding(c) {
		panic("sched ptable.lock")
	}
	if c.ncli != 1 {
		panic("sched locks")
	}
	if p.state == RUNNING {
		panic("sched running")
	}
	if c.intrOn {
		panic("sched interruptible")
	}
	intena := c.intena
	swtch(p.context, c.scheduler)
	p.cpu.intena = intena
}

// yield gives up the CPU for one scheduling round.
func (m *Machine) yield(p *Proc) {
	m.ptable.lock.acquire(p.cpu)
	p.state = RUNNABLE
	m.sched(p)
	m.ptable.lock.release(p.cpu)
}

// forkret is the first thing a new process runs, switched to by the
// scheduler, which still holds ptable.lock. Some initialization (the
// superblock read, log recovery) must sleep, so it cannot run in the
// boot sequence and happens here, in the first process's context.
func (m *Machine) forkret(p *Proc) {
	// Still holding ptable.lock from the scheduler.
	m.ptable.lock.release(p.cpu)

	m.fsOnce.Do(func() {
		m.iinit(p, ROOTDEV)
		m.initlog(p, ROOTDEV)
	})
	if p.cwd == nil {
		p.cwd = m.iget(p, ROOTDEV, ROOTINO)
	}

	if p.kentry != nil {
		p.kentry(p)
		m.kexit(p)
		panic("kexit returned")
	}

	// "Return" to user space.
	m.userRun(p)
	panic("userRun returned")
}

// kexit tears down a kernel process once its entry function returns:
// the slot is freed directly since nothing will wait for it.
func (m *Machine) kexit(p *Proc) {
	for fd, f := range p.ofile {
		if f != nil {
			m.fileclose(p, f)
			p.ofile[fd] = nil
		}
	}
	if p.cwd != nil {
		m.beginOp(p)
		m.iput(p, p.cwd)
		m.endOp(p)
		p.cwd = nil
	}

	c := p.cpu
	m.ptable.lock.acquire(c)
	m.freevm(c, p.pgdir)
	p.pgdir = 0
	p.pid = 0
	p.parent = nil
	p.name = ""
	p.setKilled(false)
	p.context = nil
	p.state = UNUSED
	// Leave the CPU for good; the scheduler releases ptable.lock.
	handoff(c.scheduler)
}

// sleep atomically releases lk and sleeps on chan, reacquiring lk
// when awakened. There are no lost wakeups because wakeup runs with
// ptable.lock held, the same lock that protects the state transition
// here.
func (m *Machine) sleep(p *Proc, chn any, lk *Spinlock) {
	if p == nil {
		panic("sleep")
	}
	if lk == nil {
		panic("sleep without lk")
	}

	// Must acquire ptable.lock in order to change p.state and then
	// call sched. Once we hold ptable.lock, we are guaranteed not to
	// miss any wakeup (wakeup runs with ptable.lock locked), so it is
	// safe to release lk.
	if lk != &m.ptable.lock {
		m.ptable.lock.acquire(p.cpu)
		lk.release(p.cpu)
	}
	// Go to sleep.
	p.wchan = chn
	p.state = SLEEPING

	m.sched(p)

	// Tidy up.
	p.wchan = nil

	// Reacquire original lock.
	if lk != &m.ptable.lock {
		m.ptable.lock.release(p.cpu)
		lk.acquire(p.cpu)
	}
}

// wakeup1 wakes all processes sleeping on chan. The caller must hold
// ptable.lock.
func (m *Machine) wakeup1(chn any) {
	for i := range m.ptable.proc {
		p := &m.ptable.proc[i]
		if p.state == SLEEPING && p.wchan == chn {
			p.state = RUNNABLE
		}
	}
}

// wakeup wakes all processes sleeping on chan.
func (m *Machine) wakeup(c *CPU, chn any) {
	m.ptable.lock.acquire(c)
	m.wakeup1(chn)
	m.ptable.lock.release(c)
}

// kill marks the process with the given pid as killed. It won't
// actually exit until it next returns to user space (see trap).
func (m *Machine) kill(c *CPU, pid int) int {
	m.ptable.lock.acquire(c)
	for i := range m.ptable.proc {
		p := &m.ptable.proc[i]
		if p.pid == pid && p.state != UNUSED {
			p.setKilled(true)
			// Wake process from sleep if necessary.
			if p.state == SLEEPING {
				p.state = RUNNABLE
			}
			m.ptable.lock.release(c)
			return 0
		}
	}
	m.ptable.lock.release(c)
	return -1
}
