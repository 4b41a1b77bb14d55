//go:build !gpu

package opencl

import (
	"fmt"

	"github.com/cwbudde/kmeansbirch/internal/accel"
)

// ErrNotBuilt indicates the binary was built without OpenCL support.
var ErrNotBuilt = fmt.Errorf("opencl support requires building with '-tags gpu'")

// New returns ErrNotBuilt when OpenCL support is not compiled in.
func New() (accel.Driver, error) {
	return nil, ErrNotBuilt
}

// Available reports whether OpenCL support is compiled in.
func Available() bool {
	return false
}
