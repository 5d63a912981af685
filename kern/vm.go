// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "encoding/binary"

// Virtual memory. Every page directory and page table is a physical
// page inside m.phys holding 1024 little-endian entries; pgdir values
// passed around below are physical addresses of directory pages.
//
// There is one page table per process, plus one (m.kpgdir) that the
// CPUs use when no process is running. Every per-process table
// contains the same kernel mappings above KERNBASE:
//
//	KERNBASE..KERNBASE+EXTMEM  -> 0..EXTMEM        (I/O space)
//	KERNLINK..KERNLINK+text    -> EXTMEM..kernData (kernel text, read-only)
//	data..KERNBASE+physTop     -> kernData..physTop (kernel data, free memory)
//	DEVSPACE..0                -> identity          (devices)
//
// The user half covers [0, KERNBASE).

func (m *Machine) getu32(pa uint32) uint32 {
	return binary.LittleEndian.Uint32(m.phys[pa:])
}

func (m *Machine) putu32(pa, v uint32) {
	binary.LittleEndian.PutUint32(m.phys[pa:], v)
}

// walkpgdir returns the physical address of the PTE in pgdir that
// corresponds to virtual address va. If alloc is true, it creates any
// required page-table page; a zero return means the table page is
// absent (or could not be allocated).
func (m *Machine) walkpgdir(c *CPU, pgdir, va uint32, alloc bool) uint32 {
	pdeAddr := pgdir + 4*pdx(va)
	pde := m.getu32(pdeAddr)
	var pgtab uint32
	if pde&PTE_P != 0 {
		pgtab = pteAddr(pde)
	} else {
		if !alloc {
			return 0
		}
		if pgtab = m.kalloc(c); pgtab == 0 {
			return 0
		}
		// Leave permissive flags in the directory; the PTEs, if
		// necessary, restrict further.
		m.putu32(pdeAddr, pgtab|PTE_P|PTE_W|PTE_U)
	}
	return pgtab + 4*ptx(va)
}

// mappages creates PTEs for virtual addresses starting at va that
// refer to physical addresses starting at pa. va and size might not
// be page-aligned.
func (m *Machine) mappages(c *CPU, pgdir, va, size, pa, perm uint32) int {
	a := pgRoundDown(va)
	last := pgRoundDown(va + size - 1)
	for {
		pte := m.walkpgdir(c, pgdir, a, true)
		if pte == 0 {
			return -1
		}
		if m.getu32(pte)&PTE_P != 0 {
			panic("remap")
		}
		m.putu32(pte, pa|perm|PTE_P)
		if a == last {
			break
		}
		a += PGSIZE
		pa += PGSIZE
	}
	return 0
}

// setupkvm builds a page directory holding only the kernel mappings,
// returning 0 cleanly if the allocator is exhausted.
func (m *Machine) setupkvm(c *CPU) uint32 {
	pgdir := m.kalloc(c)
	if pgdir == 0 {
		return 0
	}
	kmap := []struct {
		virt, physStart, physEnd, perm uint32
	}{
		{KERNBASE, 0, EXTMEM, PTE_W},                // I/O space
		{KERNLINK, EXTMEM, kernData, 0},             // kernel text+rodata
		{p2v(kernData), kernData, m.physTop, PTE_W}, // kernel data + free memory
		{DEVSPACE, DEVSPACE, 0, PTE_W},              // devices
	}
	for _, k := range kmap {
		if m.mappages(c, pgdir, k.virt, k.physEnd-k.physStart, k.physStart, k.perm) < 0 {
			m.freevm(c, pgdir)
			return 0
		}
	}
	return pgdir
}

// kvmalloc builds the scheduler's kernel-only page table.
func (m *Machine) kvmalloc() {
	m.kpgdir = m.setupkvm(m.bootCPU)
	if m.kpgdir == 0 {
		panic("kvmalloc")
	}
}

// switchkvm switches the CPU to the kernel-only page table, for when
// no process is running.
func (m *Machine) switchkvm(c *CPU) {
	c.cr3 = m.kpgdir
}

// switchuvm switches the CPU's TSS and page table to process p. The
// CR3/TSS window runs with interrupts disabled, and user I/O is denied
// by IOPL=0 plus an iomb beyond the segment limit.
func (m *Machine) switchuvm(c *CPU, p *Proc) {
	if p == nil {
		panic("switchuvm: no process")
	}
	if p.context == nil {
		panic("switchuvm: no kstack")
	}
	if p.pgdir == 0 {
		panic("switchuvm: no pgdir")
	}

	c.pushcli()
	c.ts.ss0 = SEG_KDATA
	c.ts.esp0 = KSTACKTOP
	c.ts.iomb = 0xFFFF
	c.cr3 = p.pgdir
	c.popcli()
}

// inituvm copies an initial image of less than one page into page
// zero of pgdir, mapped user read/write.
func (m *Machine) inituvm(c *CPU, pgdir uint32, init []byte) {
	if len(init) >= PGSIZE {
		panic("inituvm: more than a page")
	}
	pa := m.kalloc(c)
	if pa == 0 {
		panic("inituvm: out of memory")
	}
	if m.mappages(c, pgdir, 0, PGSIZE, pa, PTE_W|PTE_U) < 0 {
		panic("inituvm: mappages")
	}
	copy(m.page(pa), init)
}

// loaduvm copies a file segment into pgdir at va, which must be
// page-aligned and already mapped.
func (m *Machine) loaduvm(p *Proc, pgdir, va uint32, ip *Inode, off, sz uint32) int {
	if va%PGSIZE != 0 {
		panic("loaduvm: addr must be page aligned")
	}
	for i := uint32(0); i < sz; i += PGSIZE {
		pte := m.walkpgdir(p.cpu, pgdir, va+i, false)
		if pte == 0 || m.getu32(pte)&PTE_P == 0 {
			panic("loaduvm: address should exist")
		}
		pa := pteAddr(m.getu32(pte))
		n := sz - i
		if n > PGSIZE {
			n = PGSIZE
		}
		if m.readi(p, ip, m.phys[pa:pa+n], off+i) != int(n) {
			return -1
		}
	}
	return 0
}

// allocuvm grows a user address space from oldsz to newsz, allocating
// and mapping zeroed pages. Pages that are already present are left in
// place, which makes the page-fault growth path safe to repeat. On
// failure everything added is rolled back and 0 is returned.
func (m *Machine) allocuvm(c *CPU, pgdir, oldsz, newsz uint32) uint32 {
	if newsz >= KERNBASE {
		return 0
	}
	if newsz < oldsz {
		return oldsz
	}

	var added []uint32
	rollback := func() {
		for _, a := range added {
			m.deallocuvm(c, pgdir, a+PGSIZE, a)
		}
	}
	for a := pgRoundUp(oldsz); a < newsz; a += PGSIZE {
		if pte := m.walkpgdir(c, pgdir, a, false); pte != 0 && m.getu32(pte)&PTE_P != 0 {
			continue
		}
		pa := m.kalloc(c)
		if pa == 0 {
			m.logf("allocuvm out of memory")
			rollback()
			return 0
		}
		if m.mappages(c, pgdir, a, PGSIZE, pa, PTE_W|PTE_U) < 0 {
			m.logf("allocuvm out of memory (2)")
			m.kfree(c, pa)
			rollback()
			return 0
		}
		added = append(added, a)
	}
	return newsz
}

// deallocuvm unmaps and frees user pages to shrink the address space
// from oldsz to newsz. A missing page table is skipped by stepping to
// the next directory boundary.
func (m *Machine) deallocuvm(c *CPU, pgdir, oldsz, newsz uint32) uint32 {
	if newsz >= oldsz {
		return oldsz
	}

	for a := pgRoundUp(newsz); a < oldsz; a += PGSIZE {
		pte := m.walkpgdir(c, pgdir, a, false)
		if pte == 0 {
			a = pgaddr(pdx(a)+1, 0, 0) - PGSIZE
		} else if v := m.getu32(pte); v&PTE_P != 0 {
			pa := pteAddr(v)
			if pa == 0 {
				panic("kfree")
			}
			m.kfree(c, pa)
			m.putu32(pte, 0)
		}
	}
	return newsz
}

// freevm frees the user pages, every present page-table page, and the
// directory itself.
func (m *Machine) freevm(c *CPU, pgdir uint32) {
	if pgdir == 0 {
		panic("freevm: no pgdir")
	}
	m.deallocuvm(c, pgdir, KERNBASE, 0)
	for i := uint32(0); i < NPDENTRIES; i++ {
		pde := m.getu32(pgdir + 4*i)
		if pde&PTE_P != 0 {
			m.kfree(c, pteAddr(pde))
		}
	}
	m.kfree(c, pgdir)
}

// clearpteu removes PTE_U from the page at uva, used to create an
// inaccessible guard page below the user stack.
func (m *Machine) clearpteu(c *CPU, pgdir, uva uint32) {
	pte := m.walkpgdir(c, pgdir, uva, false)
	if pte == 0 {
		panic("clearpteu")
	}
	m.putu32(pte, m.getu32(pte)&^uint32(PTE_U))
}

// copyuvm makes a deep copy of a user address space for a child
// process, returning 0 on allocation failure.
func (m *Machine) copyuvm(c *CPU, pgdir, sz uint32) uint32 {
	d := m.setupkvm(c)
	if d == 0 {
		return 0
	}
	for i := uint32(0); i < sz; i += PGSIZE {
		pte := m.walkpgdir(c, pgdir, i, false)
		if pte == 0 {
			panic("copyuvm: pte should exist")
		}
		v := m.getu32(pte)
		if v&PTE_P == 0 {
			panic("copyuvm: page not present")
		}
		pa := pteAddr(v)
		flags := pteFlags(v)
		mem := m.kalloc(c)
		if mem == 0 {
			m.freevm(c, d)
			return 0
		}
		copy(m.page(mem), m.page(pa))
		if m.mappages(c, d, i, PGSIZE, mem, flags) < 0 {
			m.kfree(c, mem)
			m.freevm(c, d)
			return 0
		}
	}
	return d
}

// uva2ka translates a user virtual address to a physical page base.
// The translation is read-only and requires PTE_U, so the kernel can
// never be tricked into touching its own mappings on behalf of a user
// pointer.
func (m *Machine) uva2ka(pgdir, uva uint32) (uint32, bool) {
	pte := m.walkpgdir(nil, pgdir, uva, false)
	if pte == 0 {
		return 0, false
	}
	v := m.getu32(pte)
	if v&PTE_P == 0 || v&PTE_U == 0 {
		return 0, false
	}
	return pteAddr(v), true
}

// copyout copies len(src) bytes to user address va in pgdir, page by
// page through uva2ka. Most useful when pgdir is not the current page
// table.
func (m *Machine) copyout(pgdir, va uint32, src []byte) int {
	for len(src) > 0 {
		va0 := pgRoundDown(va)
		pa0, ok := m.uva2ka(pgdir, va0)
		if !ok {
			return -1
		}
		n := PGSIZE - (va - va0)
		if int(n) > len(src) {
			n = uint32(len(src))
		}
		copy(m.phys[pa0+(va-va0):], src[:n])
		src = src[n:]
		va = va0 + PGSIZE
	}
	return 0
}

// copyin is the mirror image of copyout: it copies len(dst) bytes
// from user address va into dst.
func (m *Machine) copyin(pgdir uint32, dst []byte, va uint32) int {
	for len(dst) > 0 {
		va0 := pgRoundDown(va)
		pa0, ok := m.uva2ka(pgdir, va0)
		if !ok {
			return -1
		}
		n := PGSIZE - (va - va0)
		if int(n) > len(dst) {
			n = uint32(len(dst))
		}
		copy(dst[:n], m.phys[pa0+(va-va0):])
		dst = dst[n:]
		va = va0 + PGSIZE
	}
	return 0
}
