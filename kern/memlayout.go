// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

// Memory layout of the simulated machine.
//
// Physical memory is a single byte array of physTop bytes owned by the
// Machine. The kernel "image" occupies [0, kernEnd); everything from
// kernEnd to physTop is handed to the page allocator. The virtual
// layout is the classic one: the user half is [0, KERNBASE), and the
// kernel is mapped at KERNBASE plus the physical address.
const (
	EXTMEM   = 0x100000   // start of extended memory
	DEVSPACE = 0xFE000000 // other devices are at high addresses

	KERNBASE = 0x80000000        // first kernel virtual address
	KERNLINK = KERNBASE + EXTMEM // address where kernel is linked

	// kernData marks the end of kernel text+rodata, kernEnd the first
	// address past the loaded kernel. Fixed here since there is no
	// linker script to define them.
	kernData = 0x180000
	kernEnd  = 0x200000

	// KSTACKTOP is the ring-0 stack top installed in the TSS. Kernel
	// stacks are goroutine stacks in this simulation, so a single
	// representative address serves every process.
	KSTACKTOP = KERNBASE + kernEnd

	// DefaultPhysTop bounds the simulated physical memory. The
	// historical value (0xE000000) would make every Machine carry
	// 224 MiB; 16 MiB is plenty for the workloads the kernel runs.
	DefaultPhysTop = 0x1000000
)

// v2p translates a kernel virtual address to physical.
func v2p(va uint32) uint32 { return va - KERNBASE }

// p2v translates a physical address to the kernel virtual mapping.
func p2v(pa uint32) uint32 { return pa + KERNBASE }
