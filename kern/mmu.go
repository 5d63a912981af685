// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// x86 page-table constants. Page tables live inside the Machine's
// physical memory array and are encoded little-endian, so a page
// directory or page table is just a physical page holding 1024
// 32-bit entries.
const (
	PGSIZE     = 4096
	NPDENTRIES = 1024
	NPTENTRIES = 1024

	PTE_P = 0x001 // present
	PTE_W = 0x002 // writeable
	PTE_U = 0x004 // user

	pteAddrMask = 0xFFFFF000
)

// pdx returns the page-directory index of a virtual address.
func pdx(va uint32) uint32 { return (va >> 22) & 0x3FF }

// ptx returns the page-table index of a virtual address.
func ptx(va uint32) uint32 { return (va >> 12) & 0x3FF }

// pgaddr builds a virtual address from directory index, table index
// and offset.
func pgaddr(d, t, o uint32) uint32 { return d<<22 | t<<12 | o }

func pteAddr(pte uint32) uint32  { return pte & pteAddrMask }
func pteFlags(pte uint32) uint32 { return pte &^ uint32(pteAddrMask) }

func pgRoundUp(sz uint32) uint32  { return (sz + PGSIZE - 1) &^ (PGSIZE - 1) }
func pgRoundDown(a uint32) uint32 { return a &^ (PGSIZE - 1) }

// Trap numbers and IRQ lines, as the trap vector hardware would
// deliver them.
const (
	T_SYSCALL = 64
	T_PGFLT   = 14

	T_IRQ0 = 32

	IRQ_TIMER    = 0
	IRQ_KBD      = 1
	IRQ_COM1     = 4
	IRQ_IDE      = 14
	IRQ_SPURIOUS = 31
)

// Segment selector rings; only the privilege bits matter to the
// simulation. cs&3 == DPL_USER means the trap came from user mode.
const (
	DPL_USER = 0x3

	SEG_KCODE = 1 << 3
	SEG_KDATA = 2 << 3
	SEG_UCODE = 3<<3 | DPL_USER
)
