// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import (
	"bytes"
	"sync"
	"testing"
)

func TestPipeBasic(t *testing.T) {
	m := testMachine(t, nil, nil)

	var got []byte
	var wg sync.WaitGroup
	wg.Add(2)

	var pi *Pipe
	var rf, wf *File
	runProc(t, m, func(p *Proc) {
		var ok bool
		rf, wf, ok = m.pipealloc(p)
		if !ok {
			t.Error("pipealloc")
			return
		}
		pi = rf.pipe
	})

	if _, err := m.Spawn("writer", func(p *Proc) {
		defer wg.Done()
		for _, c := range []byte("ABC") {
			if n := m.pipewrite(p, pi, []byte{c}); n != 1 {
				t.Errorf("pipewrite = %d", n)
			}
		}
		m.fileclose(p, wf)
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Spawn("reader", func(p *Proc) {
		defer wg.Done()
		buf := make([]byte, 4)
		for {
			n := m.piperead(p, pi, buf)
			if n == 0 {
				break // EOF: write end closed, buffer drained
			}
			if n < 0 {
				t.Error("piperead failed")
				break
			}
			got = append(got, buf[:n]...)
		}
		m.fileclose(p, rf)
	}); err != nil {
		t.Fatal(err)
	}

	wg.Wait()
	if !bytes.Equal(got, []byte("ABC")) {
		t.Errorf("read %q, want ABC in order", got)
	}
}

// TestPipeFullBlocks checks writer back-pressure: a writer fills the
// ring, blocks, and resumes as the reader drains.
func TestPipeFullBlocks(t *testing.T) {
	m := testMachine(t, nil, nil)

	var pi *Pipe
	var rf, wf *File
	runProc(t, m, func(p *Proc) {
		rf, wf, _ = m.pipealloc(p)
		pi = rf.pipe
	})

	const total = 3 * PIPESIZE
	var wg sync.WaitGroup
	wg.Add(1)
	if _, err := m.Spawn("writer", func(p *Proc) {
		defer wg.Done()
		data := make([]byte, total)
		for i := range data {
			data[i] = byte(i)
		}
		if n := m.pipewrite(p, pi, data); n != total {
			t.Errorf("pipewrite = %d, want %d", n, total)
		}
		m.fileclose(p, wf)
	}); err != nil {
		t.Fatal(err)
	}

	var got []byte
	runProc(t, m, func(p *Proc) {
		buf := make([]byte, 100)
		for {
			n := m.piperead(p, pi, buf)
			if n <= 0 {
				break
			}
			got = append(got, buf[:n]...)
		}
		m.fileclose(p, rf)
	})
	wg.Wait()

	if len(got) != total {
		t.Fatalf("read %d bytes, want %d", len(got), total)
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, b, byte(i))
		}
	}
}

// TestPipeWriterLosesReader checks that writing into a pipe whose
// read end is closed fails rather than blocking forever.
func TestPipeWriterLosesReader(t *testing.T) {
	m := testMachine(t, nil, nil)

	runProc(t, m, func(p *Proc) {
		rf, wf, _ := m.pipealloc(p)
		pi := rf.pipe
		m.fileclose(p, rf)
		if n := m.pipewrite(p, pi, make([]byte, 2*PIPESIZE)); n != -1 {
			t.Errorf("pipewrite with no reader = %d, want -1", n)
		}
		m.fileclose(p, wf)
	})
}
