//go:build !unix

package emu

func allocRegion(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func freeRegion([]byte) {}
