package accel

import (
	"errors"
	"testing"
)

func TestFlagStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{MemReadWrite.String(), "read-write"},
		{MemReadOnly.String(), "read-only"},
		{MemWriteOnly.String(), "write-only"},
		{MapRead.String(), "read"},
		{MapWrite.String(), "write"},
		{(MapRead | MapWrite).String(), "read-write"},
		{MapFlags(0).String(), "none"},
		{MigrateToDevice.String(), "host->device"},
		{MigrateToHost.String(), "device->host"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestBuildError(t *testing.T) {
	err := &BuildError{Device: "u200", Log: "ERROR: xclbin not for this shell", Err: ErrInvalidBinary}

	if !errors.Is(err, ErrInvalidBinary) {
		t.Error("BuildError should unwrap to its cause")
	}
	want := "program build failed for u200: invalid program binary\nERROR: xclbin not for this shell"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	noLog := &BuildError{Device: "u200", Err: ErrInvalidBinary}
	if noLog.Error() != "program build failed for u200: invalid program binary" {
		t.Errorf("Error() = %q", noLog.Error())
	}
}
