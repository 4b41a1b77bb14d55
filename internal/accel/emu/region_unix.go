//go:build unix

package emu

import "golang.org/x/sys/unix"

// allocRegion maps an anonymous region so emulated device memory lives
// outside the Go heap, like a real device allocation.
func allocRegion(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func freeRegion(b []byte) {
	if b != nil {
		_ = unix.Munmap(b)
	}
}
