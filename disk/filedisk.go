// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package disk

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// FileDisk is a disk backed by an image file, addressed with
// positioned reads and writes. An advisory lock on the image keeps a
// second simulator from opening it concurrently.
type FileDisk struct {
	f       *os.File
	lock    *flock.Flock
	nblocks int
}

// OpenFileDisk opens an existing image file as a block device. The
// image size must be a multiple of BlockSize.
func OpenFileDisk(path string) (*FileDisk, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("disk: %s is locked by another process", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, err
	}
	if fi.Size()%BlockSize != 0 {
		f.Close()
		lock.Unlock()
		return nil, fmt.Errorf("disk: image size %d not a multiple of %d", fi.Size(), BlockSize)
	}
	return &FileDisk{f: f, lock: lock, nblocks: int(fi.Size() / BlockSize)}, nil
}

func (d *FileDisk) check(blockno int, p []byte) error {
	if len(p) != BlockSize {
		return fmt.Errorf("disk: bad buffer size %d", len(p))
	}
	if blockno < 0 || blockno >= d.nblocks {
		return fmt.Errorf("disk: block %d out of range", blockno)
	}
	return nil
}

func (d *FileDisk) ReadBlock(blockno int, p []byte) error {
	if err := d.check(blockno, p); err != nil {
		return err
	}
	n, err := unix.Pread(int(d.f.Fd()), p, int64(blockno)*BlockSize)
	if err != nil {
		return err
	}
	if n != BlockSize {
		return fmt.Errorf("disk: short read of block %d: %d bytes", blockno, n)
	}
	return nil
}

func (d *FileDisk) WriteBlock(blockno int, p []byte) error {
	if err := d.check(blockno, p); err != nil {
		return err
	}
	n, err := unix.Pwrite(int(d.f.Fd()), p, int64(blockno)*BlockSize)
	if err != nil {
		return err
	}
	if n != BlockSize {
		return fmt.Errorf("disk: short write of block %d: %d bytes", blockno, n)
	}
	return nil
}

func (d *FileDisk) Size() int { return d.nblocks }

func (d *FileDisk) Sync() error { return d.f.Sync() }

func (d *FileDisk) Close() error {
	err := d.f.Close()
	if uerr := d.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

var _ = (Disk)((*FileDisk)(nil))
