package main

import (
	"log/slog"
	"os"
	"path/filepath"
)

// chdirToExecutable makes the directory holding the running binary the
// working directory, so relative inputs and outputs resolve next to it.
// Failures are logged and otherwise ignored.
func chdirToExecutable(logger *slog.Logger) {
	exe, err := os.Executable()
	if err != nil {
		logger.Warn("Unable to determine executable path", "error", err)
		return
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	dir := filepath.Dir(exe)
	if err := os.Chdir(dir); err != nil {
		logger.Warn("Unable to change working directory", "dir", dir, "error", err)
		return
	}
	logger.Debug("Changed working directory", "dir", dir)
}
