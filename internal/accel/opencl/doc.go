// Package opencl drives a real accelerator through the OpenCL 1.2 C API.
//
// The cgo implementation is only compiled with the "gpu" build tag and links
// against libOpenCL (the vendor ICD loader, e.g. Xilinx XRT). Without the tag,
// New returns ErrNotBuilt so the rest of the program still builds and runs
// against the emulated driver.
//
//	go build -tags gpu ./...
package opencl
