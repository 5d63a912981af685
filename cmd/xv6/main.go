// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xv6 boots the kernel on a file system image with the
// console wired to stdin/stdout.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"
	"time"

	"github.com/hanwen/go-xv6/disk"
	"github.com/hanwen/go-xv6/kern"
	"github.com/hanwen/go-xv6/uprog"
)

func main() {
	ncpu := flag.Int("ncpu", 2, "number of scheduler CPUs")
	tick := flag.Duration("tick", 10*time.Millisecond, "timer interrupt interval")
	verbose := flag.Bool("v", false, "log kernel diagnostics")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: xv6 fs.img")
	}

	d, err := disk.OpenFileDisk(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	opts := &kern.Options{
		Disk:          d,
		NCPUs:         *ncpu,
		Programs:      uprog.Registry(),
		Init:          "init",
		ConsoleOutput: os.Stdout,
		TickInterval:  *tick,
	}
	if *verbose {
		opts.Logger = log.Default()
	}
	m, err := kern.NewMachine(opts)
	if err != nil {
		log.Fatal(err)
	}
	m.Boot()
	defer m.Shutdown()

	// Pump stdin into the console until EOF.
	in := bufio.NewReader(os.Stdin)
	buf := make([]byte, 1)
	for {
		if _, err := in.Read(buf); err != nil {
			select {} // machine keeps running
		}
		m.ConsoleInput(buf)
	}
}
