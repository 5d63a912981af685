// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mkfs builds a bootable file system image. Named files are
// copied into the image under /, stripped of any leading "_" (the
// historical convention for freshly built user programs); programs
// registered in uprog can be added as executables with -progs.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/hanwen/go-xv6/kern"
	"github.com/hanwen/go-xv6/mkfs"
	"github.com/hanwen/go-xv6/uprog"
)

func main() {
	size := flag.Int("size", kern.FSSIZE, "image size in blocks")
	ninodes := flag.Int("ninodes", 200, "number of inodes")
	progs := flag.Bool("progs", true, "install the stock programs under /bin")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: mkfs [options] fs.img [files...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := mkfs.Config{
		Size:    *size,
		Ninodes: *ninodes,
		Files:   map[string][]byte{},
	}
	if *progs {
		for name := range uprog.Registry() {
			cfg.Files["/bin/"+name] = kern.ProgImage(name)
		}
	}
	for _, path := range flag.Args()[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatal(err)
		}
		name := strings.TrimPrefix(filepath.Base(path), "_")
		cfg.Files["/"+name] = data
	}

	img, err := mkfs.Build(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := renameio.WriteFile(flag.Arg(0), img, 0666); err != nil {
		log.Fatal(err)
	}
}
