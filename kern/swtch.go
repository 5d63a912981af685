// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kern

import "runtime"

// Context is a kernel execution context: the simulation's stand-in
// for a kernel stack plus saved callee-saved registers. Each context
// is backed by a goroutine parked on its channel; swtch hands the CPU
// from one context to the next by waking the target and parking the
// source. The scheduler context and the process contexts alternate,
// exactly as the register-swapping swtch does on hardware.
type Context struct {
	ch chan bool
}

// newContext seeds a context so that its first switch-in runs fn.
// fn must never return.
func newContext(fn func()) *Context {
	ctx := &Context{ch: make(chan bool, 1)}
	go func() {
		if !<-ctx.ch {
			return // freed before first run
		}
		fn()
		panic("context function returned")
	}()
	return ctx
}

// newSchedContext returns a context owned by an already-running
// goroutine (a CPU's scheduler loop).
func newSchedContext() *Context {
	return &Context{ch: make(chan bool, 1)}
}

// swtch switches from the current context to another. The calling
// goroutine parks until something switches back to it; if the context
// is freed instead, the goroutine terminates, which is how a freed
// kernel stack dies.
func swtch(from, to *Context) {
	to.ch <- true
	if !<-from.ch {
		runtime.Goexit()
	}
}

// handoff resumes the target context without expecting to run again;
// the caller terminates. Used by an exiting kernel process whose slot
// is already freed.
func handoff(to *Context) {
	to.ch <- true
	runtime.Goexit()
}

// free terminates the parked goroutine backing the context, the
// equivalent of freeing its kernel stack. The context must not be
// running.
func (ctx *Context) free() {
	ctx.ch <- false
}
