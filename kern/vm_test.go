// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import (
	"bytes"
	"testing"
)

func TestSetupKvm(t *testing.T) {
	m := testMachine(t, nil, nil)
	c := m.bootCPU

	pgdir := m.setupkvm(c)
	if pgdir == 0 {
		t.Fatal("setupkvm failed")
	}
	defer m.freevm(c, pgdir)

	// Kernel text is mapped read-only, kernel data writable, and
	// the user half is empty.
	for _, tc := range []struct {
		va       uint32
		pa       uint32
		writable bool
	}{
		{KERNBASE, 0, true},
		{KERNLINK, EXTMEM, false},
		{KERNLINK + 0x1234, EXTMEM + 0x1000, false},
		{p2v(kernData), kernData, true},
		{p2v(m.physTop) - PGSIZE, m.physTop - PGSIZE, true},
		{DEVSPACE, DEVSPACE, true},
	} {
		pte := m.walkpgdir(c, pgdir, tc.va, false)
		if pte == 0 {
			t.Errorf("va %#x: no page table", tc.va)
			continue
		}
		v := m.getu32(pte)
		if v&PTE_P == 0 {
			t.Errorf("va %#x: not present", tc.va)
			continue
		}
		if got := pteAddr(v) + tc.va%PGSIZE; got != tc.pa+tc.va%PGSIZE {
			t.Errorf("va %#x maps to %#x, want %#x", tc.va, got, tc.pa)
		}
		if w := v&PTE_W != 0; w != tc.writable {
			t.Errorf("va %#x: writable=%v, want %v", tc.va, w, tc.writable)
		}
		if v&PTE_U != 0 {
			t.Errorf("va %#x: kernel mapping has PTE_U", tc.va)
		}
	}

	if pte := m.walkpgdir(c, pgdir, 0, false); pte != 0 && m.getu32(pte)&PTE_P != 0 {
		t.Error("user half is mapped in a fresh kernel page table")
	}
}

func TestAllocDeallocUvm(t *testing.T) {
	m := testMachine(t, nil, nil)
	c := m.bootCPU

	pgdir := m.setupkvm(c)
	if pgdir == 0 {
		t.Fatal("setupkvm")
	}
	defer m.freevm(c, pgdir)

	sz := m.allocuvm(c, pgdir, 0, 3*PGSIZE)
	if sz != 3*PGSIZE {
		t.Fatalf("allocuvm = %d", sz)
	}
	for va := uint32(0); va < sz; va += PGSIZE {
		pa, ok := m.uva2ka(pgdir, va)
		if !ok {
			t.Fatalf("va %#x not mapped", va)
		}
		for _, b := range m.page(pa) {
			if b != 0 {
				t.Fatal("user page not zeroed")
			}
		}
	}

	// Shrinking unmaps and frees.
	if got := m.deallocuvm(c, pgdir, sz, PGSIZE); got != PGSIZE {
		t.Fatalf("deallocuvm = %d", got)
	}
	if _, ok := m.uva2ka(pgdir, PGSIZE); ok {
		t.Error("page still mapped after dealloc")
	}
	if _, ok := m.uva2ka(pgdir, 0); !ok {
		t.Error("surviving page unmapped by dealloc")
	}

	// Growing into KERNBASE is refused.
	if got := m.allocuvm(c, pgdir, PGSIZE, KERNBASE+PGSIZE); got != 0 {
		t.Errorf("allocuvm above KERNBASE = %d, want 0", got)
	}
}

// TestAllocUvmRollback drains the allocator and checks that a failed
// growth leaves the page table exactly as it was.
func TestAllocUvmRollback(t *testing.T) {
	m := testMachine(t, nil, nil)
	c := m.bootCPU

	pgdir := m.setupkvm(c)
	if pgdir == 0 {
		t.Fatal("setupkvm")
	}

	if m.allocuvm(c, pgdir, 0, PGSIZE) != PGSIZE {
		t.Fatal("allocuvm")
	}
	pa0, _ := m.uva2ka(pgdir, 0)
	m.phys[pa0] = 0x5A

	// Drain all free pages.
	var drained []uint32
	for {
		pa := m.kalloc(c)
		if pa == 0 {
			break
		}
		drained = append(drained, pa)
	}

	if got := m.allocuvm(c, pgdir, PGSIZE, 64*PGSIZE); got != 0 {
		t.Errorf("allocuvm with empty allocator = %d, want 0", got)
	}

	// The old size is intact: page zero still mapped with its data,
	// nothing beyond it mapped.
	if pa, ok := m.uva2ka(pgdir, 0); !ok || m.phys[pa] != 0x5A {
		t.Error("rollback disturbed the existing mapping")
	}
	for va := uint32(PGSIZE); va < 64*PGSIZE; va += PGSIZE {
		if _, ok := m.uva2ka(pgdir, va); ok {
			t.Errorf("va %#x mapped after failed growth", va)
		}
	}

	for _, pa := range drained {
		m.kfree(c, pa)
	}
	m.freevm(c, pgdir)
}

func TestCopyUvm(t *testing.T) {
	m := testMachine(t, nil, nil)
	c := m.bootCPU

	src := m.setupkvm(c)
	if m.allocuvm(c, src, 0, 2*PGSIZE) == 0 {
		t.Fatal("allocuvm")
	}
	pa, _ := m.uva2ka(src, PGSIZE)
	copy(m.page(pa), "deep copy me")

	dst := m.copyuvm(c, src, 2*PGSIZE)
	if dst == 0 {
		t.Fatal("copyuvm")
	}

	dpa, ok := m.uva2ka(dst, PGSIZE)
	if !ok {
		t.Fatal("copy not mapped")
	}
	if dpa == pa {
		t.Error("copyuvm aliased the parent's page")
	}
	if !bytes.HasPrefix(m.page(dpa), []byte("deep copy me")) {
		t.Error("copy has wrong contents")
	}

	// Writes to the copy don't show through.
	m.page(dpa)[0] = 'X'
	if m.page(pa)[0] == 'X' {
		t.Error("copy shares storage with original")
	}

	m.freevm(c, src)
	m.freevm(c, dst)
}

func TestCopyoutCopyin(t *testing.T) {
	m := testMachine(t, nil, nil)
	c := m.bootCPU

	pgdir := m.setupkvm(c)
	if m.allocuvm(c, pgdir, 0, 2*PGSIZE) == 0 {
		t.Fatal("allocuvm")
	}
	defer m.freevm(c, pgdir)

	// Straddle the page boundary.
	msg := []byte("crosses a page boundary")
	va := uint32(PGSIZE - 7)
	if m.copyout(pgdir, va, msg) < 0 {
		t.Fatal("copyout")
	}
	got := make([]byte, len(msg))
	if m.copyin(pgdir, got, va) < 0 {
		t.Fatal("copyin")
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("roundtrip = %q, want %q", got, msg)
	}

	// Unmapped and non-user targets are refused.
	if m.copyout(pgdir, 10*PGSIZE, msg) >= 0 {
		t.Error("copyout to unmapped address succeeded")
	}
	if m.copyout(pgdir, KERNBASE, msg) >= 0 {
		t.Error("copyout to kernel address succeeded")
	}
	m.clearpteu(c, pgdir, 0)
	if m.copyout(pgdir, 0, msg) >= 0 {
		t.Error("copyout to PTE_U-cleared page succeeded")
	}
}
