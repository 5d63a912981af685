// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kern implements the core of a teaching-grade Unix-like
// kernel as a deterministic user-space simulation: buffered block
// I/O, a write-ahead log, an on-disk file system, pipes, a process
// model with a per-CPU scheduler, two-level page tables over a
// simulated physical memory, and the system-call surface tying them
// together. CPUs are goroutines, a context switch is a channel
// hand-off, and the disk is a pluggable block device.
package kern

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanwen/go-xv6/disk"
)

// Options configures a Machine. Disk is required; zero values for the
// rest select sensible defaults.
type Options struct {
	// Disk is the block device holding the root file system.
	Disk disk.Disk

	// NCPUs is the number of scheduler CPUs; default 2, max NCPU.
	NCPUs int

	// PhysTop bounds the simulated physical memory in bytes; default
	// DefaultPhysTop. Must be page-aligned and at least 4 MiB.
	PhysTop uint32

	// Programs registers user programs by name for exec and Init.
	Programs map[string]*Program

	// Init names the program to run as the first user process. Empty
	// means no first process is started; the machine then only runs
	// kernel processes started with Spawn.
	Init string

	// ConsoleOutput receives console device writes; default discard.
	ConsoleOutput io.Writer

	// TickInterval enables an automatic timer. Zero means the timer
	// fires only on explicit Tick calls, which keeps tests
	// deterministic.
	TickInterval time.Duration

	// ResolveProgram overrides how exec maps an executable file's
	// bytes to a Program. The default parses the interpreter line
	// written by ProgImage and consults Programs.
	ResolveProgram func(m *Machine, image []byte) *Program

	// Logger receives kernel diagnostics; default discard.
	Logger *log.Logger
}

// Machine is one kernel instance and every process-wide singleton it
// owns. Boot sets up, in this order: locks, the first part of kmem,
// the kernel page table, the console, procs, the buffer cache, the
// file table, IDE, the rest of kmem and the first user process. The
// inode cache and the log are not set up by Boot: the first process
// to run initializes them in forkret.
type Machine struct {
	opts    Options
	phys    []byte
	physTop uint32
	disk    disk.Disk
	out     io.Writer
	logger  *log.Logger
	progs   map[string]*Program

	cpus []CPU

	// Pseudo-CPUs for contexts that are not scheduler CPUs: boot,
	// the interrupt sources, and external entry points.
	bootCPU  *CPU
	timerCPU CPU
	ideCPU   CPU
	consCPU  CPU
	extCPU   CPU
	extMu    sync.Mutex

	kmem   kmem
	kpgdir uint32

	ptable   ptable
	nextpid  int
	initproc *Proc

	ticks     uint32
	tickslock Spinlock

	bcache bcache
	ide    ideState
	log    logState
	sb     Superblock
	icache icache
	ftable ftable
	devsw  [NDEV]devsw
	cons   console

	fsOnce  sync.Once
	halted  int32
	stopCh  chan struct{}
	stopped sync.Once
}

// NewMachine builds a machine from opts without starting it.
func NewMachine(opts *Options) (*Machine, error) {
	if opts.Disk == nil {
		return nil, fmt.Errorf("kern: Options.Disk is required")
	}
	m := &Machine{
		opts:    *opts,
		physTop: opts.PhysTop,
		disk:    opts.Disk,
		out:     opts.ConsoleOutput,
		logger:  opts.Logger,
		progs:   map[string]*Program{},
	}
	if m.physTop == 0 {
		m.physTop = DefaultPhysTop
	}
	if m.physTop%PGSIZE != 0 || m.physTop < 4<<20 {
		return nil, fmt.Errorf("kern: bad PhysTop %#x", m.physTop)
	}
	if m.out == nil {
		m.out = io.Discard
	}
	if m.logger == nil {
		m.logger = log.New(io.Discard, "", 0)
	}
	ncpu := opts.NCPUs
	if ncpu <= 0 {
		ncpu = 2
	}
	if ncpu > NCPU {
		return nil, fmt.Errorf("kern: NCPUs %d > %d", ncpu, NCPU)
	}
	m.cpus = make([]CPU, ncpu)
	for i := range m.cpus {
		m.cpus[i].id = i
	}
	m.bootCPU = &CPU{id: -1}
	m.timerCPU.id = -2
	m.ideCPU.id = -3
	m.consCPU.id = -4
	m.extCPU.id = -5
	for name, prog := range opts.Programs {
		m.progs[name] = prog
	}
	if opts.Init != "" && m.progs[opts.Init] == nil {
		return nil, fmt.Errorf("kern: init program %q not registered", opts.Init)
	}
	m.stopCh = make(chan struct{})
	return m, nil
}

// Boot initializes every subsystem in dependency order and starts the
// scheduler CPUs. The file system pieces that must sleep (superblock
// read, log recovery) run in the context of the first process; see
// forkret.
func (m *Machine) Boot() {
	m.phys = make([]byte, m.physTop)

	phys4 := uint32(4 << 20)
	if phys4 > m.physTop {
		phys4 = m.physTop
	}
	m.kinit1(kernEnd, phys4) // phys page allocator
	m.kvmalloc()             // kernel page table
	m.consoleinit()          // console device
	m.pinit()                // process table
	m.tickslock.init("time") // trap vectors' tick lock
	m.binit()                // buffer cache
	m.fileinit()             // file table
	m.ideinit()              // disk
	m.kinit2(phys4, m.physTop)
	if m.opts.Init != "" {
		m.userinit() // first user process
	}

	for i := range m.cpus {
		c := &m.cpus[i]
		c.scheduler = newSchedContext()
		go m.scheduler(c)
	}
	if m.opts.TickInterval > 0 {
		go m.clock()
	}
}

// Shutdown stops the scheduler CPUs, the timer and the disk
// controller. Processes parked in the kernel stay parked; the machine
// is abandoned, not cleanly unwound, just as a real power-off.
func (m *Machine) Shutdown() {
	atomic.StoreInt32(&m.halted, 1)
	m.stopped.Do(func() { close(m.stopCh) })
}

func (m *Machine) isHalted() bool { return atomic.LoadInt32(&m.halted) != 0 }

// clock is the timer interrupt source, firing on TickInterval.
func (m *Machine) clock() {
	t := time.NewTicker(m.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.timerTick()
		case <-m.stopCh:
			return
		}
	}
}

// Tick fires one timer interrupt by hand, for deterministic tests.
// Do not mix with a non-zero TickInterval.
func (m *Machine) Tick() { m.timerTick() }

// timerTick runs the CPU-0 half of the timer interrupt (advance the
// tick count, wake sleepers) and asks every CPU's current process to
// yield.
func (m *Machine) timerTick() {
	c := &m.timerCPU
	m.tickslock.acquire(c)
	m.ticks++
	m.wakeup(c, &m.ticks)
	m.tickslock.release(c)

	for i := range m.cpus {
		atomic.StoreUint32(&m.cpus[i].resched, 1)
	}
}

// Ticks returns the current tick count.
func (m *Machine) Ticks() uint32 {
	m.extMu.Lock()
	defer m.extMu.Unlock()
	c := &m.extCPU
	m.tickslock.acquire(c)
	t := m.ticks
	m.tickslock.release(c)
	return t
}

// Spawn starts a kernel process executing fn in process context, with
// full access to sleep/wakeup, transactions and the file system. When
// fn returns the process slot is freed directly; nothing waits for
// it. Spawn is for harnesses and in-kernel services; user processes
// come from userinit and fork.
func (m *Machine) Spawn(name string, fn func(p *Proc)) (*Proc, error) {
	m.extMu.Lock()
	defer m.extMu.Unlock()

	c := &m.extCPU
	p := m.allocproc(c)
	if p == nil {
		return nil, fmt.Errorf("kern: process table full")
	}
	if p.pgdir = m.setupkvm(c); p.pgdir == 0 {
		p.context.free()
		p.context = nil
		m.ptable.lock.acquire(c)
		p.pid = 0
		p.state = UNUSED
		m.ptable.lock.release(c)
		return nil, fmt.Errorf("kern: out of memory")
	}
	p.parent = m.initproc
	p.kentry = fn
	p.name = name
	*p.tf = Trapframe{Cs: SEG_KCODE}

	m.ptable.lock.acquire(c)
	p.state = RUNNABLE
	m.ptable.lock.release(c)
	return p, nil
}

// Kill marks the process with the given pid killed, as the kill
// system call does.
func (m *Machine) Kill(pid int) int {
	m.extMu.Lock()
	defer m.extMu.Unlock()
	return m.kill(&m.extCPU, pid)
}

// ProcDump logs the process table, for debugging.
func (m *Machine) ProcDump() {
	for i := range m.ptable.proc {
		p := &m.ptable.proc[i]
		if p.state == UNUSED {
			continue
		}
		if p.state == SLEEPING {
			m.logf("%d %s %s chan=%v", p.pid, p.state, p.name, p.wchan)
		} else {
			m.logf("%d %s %s", p.pid, p.state, p.name)
		}
	}
}

func (m *Machine) logf(format string, args ...any) {
	m.logger.Printf(format, args...)
}
