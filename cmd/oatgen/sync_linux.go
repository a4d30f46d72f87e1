//go:build linux

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile flushes the written data to stable storage. Fdatasync skips the
// metadata-only flush a full fsync would add.
func syncFile(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
