// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disk provides block-device backends for the kernel's IDE
// driver: an in-memory disk for tests, a file-backed disk for real
// images, and a crash-injecting wrapper for recovery testing.
package disk

import (
	"fmt"
	"sync"
)

// BlockSize is the unit of disk I/O, in bytes.
const BlockSize = 512

// Disk is a block device. Implementations must allow concurrent calls;
// the kernel issues at most one request at a time per device, but test
// harnesses may not.
type Disk interface {
	// ReadBlock fills p (BlockSize bytes) with block blockno.
	ReadBlock(blockno int, p []byte) error
	// WriteBlock stores p (BlockSize bytes) as block blockno.
	WriteBlock(blockno int, p []byte) error
	// Size returns the device capacity in blocks.
	Size() int
	// Sync flushes buffered writes to stable storage.
	Sync() error
	// Close releases the device.
	Close() error
}

// MemDisk is a RAM-backed disk. It survives a simulated reboot as long
// as the caller keeps the value, which is what the crash-recovery
// tests rely on.
type MemDisk struct {
	mu     sync.Mutex
	blocks []byte
}

// NewMemDisk returns a zeroed in-memory disk of nblocks blocks.
func NewMemDisk(nblocks int) *MemDisk {
	return &MemDisk{blocks: make([]byte, nblocks*BlockSize)}
}

// NewMemDiskImage returns an in-memory disk initialized from a raw
// image, whose length must be a multiple of BlockSize.
func NewMemDiskImage(image []byte) (*MemDisk, error) {
	if len(image)%BlockSize != 0 {
		return nil, fmt.Errorf("disk: image size %d not a multiple of %d", len(image), BlockSize)
	}
	d := &MemDisk{blocks: make([]byte, len(image))}
	copy(d.blocks, image)
	return d, nil
}

func (d *MemDisk) check(blockno int, p []byte) error {
	if len(p) != BlockSize {
		return fmt.Errorf("disk: bad buffer size %d", len(p))
	}
	if blockno < 0 || blockno >= d.Size() {
		return fmt.Errorf("disk: block %d out of range", blockno)
	}
	return nil
}

func (d *MemDisk) ReadBlock(blockno int, p []byte) error {
	if err := d.check(blockno, p); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(p, d.blocks[blockno*BlockSize:])
	return nil
}

func (d *MemDisk) WriteBlock(blockno int, p []byte) error {
	if err := d.check(blockno, p); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.blocks[blockno*BlockSize:], p)
	return nil
}

func (d *MemDisk) Size() int { return len(d.blocks) / BlockSize }

func (d *MemDisk) Sync() error  { return nil }
func (d *MemDisk) Close() error { return nil }

// Clone returns an independent copy of the disk's current contents.
func (d *MemDisk) Clone() *MemDisk {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &MemDisk{blocks: make([]byte, len(d.blocks))}
	copy(c.blocks, d.blocks)
	return c
}

var _ = (Disk)((*MemDisk)(nil))
