// Copyright 2026 the Go-XV6 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mkfs_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanwen/go-xv6/internal/testutil"
	"github.com/hanwen/go-xv6/kern"
	"github.com/hanwen/go-xv6/mkfs"
)

func TestImageLayout(t *testing.T) {
	img, err := mkfs.Build(mkfs.Config{Size: 1000})
	require.NoError(t, err)
	require.Equal(t, 1000*kern.BSIZE, len(img))

	sb := kern.DecodeSuperblock(img[kern.BSIZE:])
	assert.Equal(t, uint32(1000), sb.Size)
	assert.Equal(t, uint32(kern.LOGSIZE), sb.Nlog)
	assert.Equal(t, uint32(2), sb.Logstart)
	assert.Equal(t, sb.Logstart+sb.Nlog, sb.Inodestart)
	assert.Greater(t, sb.Nblocks, uint32(900))
}

func TestTooSmall(t *testing.T) {
	_, err := mkfs.Build(mkfs.Config{Size: 10})
	assert.Error(t, err)
}

func TestRejectsBadPaths(t *testing.T) {
	_, err := mkfs.Build(mkfs.Config{Size: 1000, Files: map[string][]byte{"rel": nil}})
	assert.Error(t, err)
	_, err = mkfs.Build(mkfs.Config{Size: 1000, Files: map[string][]byte{
		"/" + strings.Repeat("x", kern.DIRSIZ+1): nil,
	}})
	assert.Error(t, err)
}

// TestMountAndRead boots the kernel on a built image and reads the
// preloaded files back through the whole stack.
func TestMountAndRead(t *testing.T) {
	big := strings.Repeat("0123456789abcdef", 4096) // 64 KiB, needs the indirect block
	d, err := mkfs.BuildDisk(mkfs.Config{
		Size: 4000,
		Files: map[string][]byte{
			"/hello.txt": []byte("hello world\n"),
			"/bin/cat":   kern.ProgImage("cat"),
			"/sub/dir/f": []byte("nested"),
			"/big.bin":   []byte(big),
		},
	})
	require.NoError(t, err)

	m, err := kern.NewMachine(&kern.Options{
		Disk:    d,
		PhysTop: 4 << 20,
		Logger:  testutil.Logger(),
	})
	require.NoError(t, err)
	m.Boot()
	defer m.Shutdown()

	for path, want := range map[string]string{
		"/hello.txt": "hello world\n",
		"/bin/cat":   string(kern.ProgImage("cat")),
		"/sub/dir/f": "nested",
		"/big.bin":   big,
	} {
		got, err := m.ReadFile(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, string(got), path)
	}

	_, err = m.ReadFile("/sub/dir/missing")
	assert.Error(t, err)

	// Round-trip through the kernel onto the same image.
	require.NoError(t, m.WriteFile("/new", []byte("made by the kernel")))
	got, err := m.ReadFile("/new")
	require.NoError(t, err)
	assert.Equal(t, "made by the kernel", string(got))
}
