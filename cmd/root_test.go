package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/kmeansbirch/internal/accel"
	"github.com/cwbudde/kmeansbirch/internal/config"
	"github.com/cwbudde/kmeansbirch/internal/raster"
	"github.com/cwbudde/kmeansbirch/internal/store"
)

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kmeans_birch.xclbin")
	require.NoError(t, os.WriteFile(path, []byte("xclbin2\x00"), 0644))
	return path
}

func TestRequireBinaryArg(t *testing.T) {
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	defer rootCmd.SetOut(nil)

	assert.NoError(t, requireBinaryArg(rootCmd, []string{"a.xclbin"}))
	assert.Empty(t, buf.String())

	assert.ErrorIs(t, requireBinaryArg(rootCmd, nil), errUsage)
	assert.Equal(t, "Usage: kmeansbirch <XCLBIN File>\n", buf.String())

	buf.Reset()
	assert.ErrorIs(t, requireBinaryArg(rootCmd, []string{"a", "b"}), errUsage)
	assert.Contains(t, buf.String(), "Usage:")
}

func TestExecuteWithoutBinaryPrintsUsage(t *testing.T) {
	out, err := execute(t)
	require.ErrorIs(t, err, errUsage)
	assert.Contains(t, out, "Usage: kmeansbirch <XCLBIN File>")
}

func TestRunEmuEndToEnd(t *testing.T) {
	outDir := t.TempDir()
	runsDir := t.TempDir()

	_, err := execute(t,
		"--backend", "emu",
		"--chdir-exe=false",
		"--height", "4",
		"--width", "3",
		"--input", filepath.Join(t.TempDir(), "missing.raw"),
		"--out-dir", outDir,
		"--preview", "bmp",
		"--runs-dir", runsDir,
		writeBinary(t),
	)
	require.NoError(t, err)

	g := raster.Geometry{Height: 4, Width: 3, Dim: 3}
	want, err := raster.Gradient(g)
	require.NoError(t, err)

	for _, name := range []string{"kmeans_output.ppm", "birch_output.ppm"} {
		f, err := os.Open(filepath.Join(outDir, name))
		require.NoError(t, err)
		gotGeom, got, err := raster.DecodePPM(f)
		f.Close()
		require.NoError(t, err)

		assert.Equal(t, g, gotGeom)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}
	assert.FileExists(t, filepath.Join(outDir, "kmeans_output.bmp"))

	runStore, err := store.NewFSStore(runsDir)
	require.NoError(t, err)
	infos, err := runStore.ListRuns()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, store.StatusSucceeded, infos[0].Status)
	assert.Equal(t, "emu_accelerator_0", infos[0].Device)
	assert.Equal(t, 2, infos[0].Outputs)

	record, err := runStore.LoadRun(infos[0].ID)
	require.NoError(t, err)
	assert.True(t, record.InputSynthetic)
	assert.Equal(t, 4, record.Height)

	reader, err := store.NewJournalReader(runsDir, infos[0].ID)
	require.NoError(t, err)
	defer reader.Close()
	entries, err := reader.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "resolve", entries[0].Stage)
	assert.Equal(t, "release", entries[len(entries)-1].Stage)
}

func TestRunUnknownBackend(t *testing.T) {
	_, err := execute(t, "--backend", "cuda", "--chdir-exe=false", writeBinary(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown accelerator backend")
}

func TestRunMissingBinary(t *testing.T) {
	runsDir := t.TempDir()

	_, err := execute(t,
		"--backend", "emu",
		"--chdir-exe=false",
		"--out-dir", t.TempDir(),
		"--runs-dir", runsDir,
		filepath.Join(t.TempDir(), "missing.xclbin"),
	)
	require.Error(t, err)

	runStore, err := store.NewFSStore(runsDir)
	require.NoError(t, err)
	infos, err := runStore.ListRuns()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, store.StatusFailed, infos[0].Status)

	record, err := runStore.LoadRun(infos[0].ID)
	require.NoError(t, err)
	assert.Contains(t, record.Error, "failed to load program binary")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "kmeansbirch version "+version+"\n"))
	assert.Contains(t, out, "OpenCL support: ")
}

func TestBinaryNamedLikeSubcommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devices"), []byte("xclbin2\x00"), 0644))
	outDir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	out, err := execute(t,
		"--backend", "emu",
		"--chdir-exe=false",
		"--height", "2",
		"--width", "2",
		"--out-dir", outDir,
		"./devices",
	)
	require.NoError(t, err)
	assert.NotContains(t, out, "Platforms:")
	assert.FileExists(t, filepath.Join(outDir, "kmeans_output.ppm"))
	assert.FileExists(t, filepath.Join(outDir, "birch_output.ppm"))
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "config", "--backend", "emu", "--vendor", "Acme")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: emu\n")
	assert.Contains(t, out, "vendor: Acme\n")

	path := filepath.Join(t.TempDir(), "saved.yaml")
	out, err = execute(t, "config", "--backend", "emu", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote configuration to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "emu", cfg.Backend)
	assert.Equal(t, "Xilinx", cfg.Vendor)

	out, err = execute(t, "devices", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "emu_accelerator_0")
}

func TestDevicesCommand(t *testing.T) {
	out, err := execute(t, "devices", "--backend", "emu")
	require.NoError(t, err)
	assert.Contains(t, out, "emu_accelerator_0")
	assert.Contains(t, out, string(accel.DeviceTypeAccelerator))
	assert.Contains(t, out, "Platforms: 1, accelerators: 1")
	assert.NotContains(t, out, "No accelerator")
}

func TestDevicesCommandConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmeansbirch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: emu\nvendor: Acme\n"), 0644))

	out, err := execute(t, "devices", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Acme")

	out, err = execute(t, "devices", "--config", path, "--vendor", "Xilinx")
	require.NoError(t, err)
	assert.Contains(t, out, "Xilinx")
	assert.NotContains(t, out, "Acme")
}

func TestRunsCommands(t *testing.T) {
	runsDir := t.TempDir()
	runStore, err := store.NewFSStore(runsDir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		r := store.NewRunRecord("emu", "k.xclbin", "kmeans_birch_kernel")
		r.Finish(nil)
		require.NoError(t, runStore.SaveRun(r))
	}

	out, err := execute(t, "runs", "list", "--runs-dir", runsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Total runs: 3")
	assert.Contains(t, out, string(store.StatusSucceeded))

	out, err = execute(t, "runs", "clean", "--runs-dir", runsDir, "--keep-last", "1", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 run(s), 0 failed.")

	infos, err := runStore.ListRuns()
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestRunsShow(t *testing.T) {
	runsDir := t.TempDir()
	_, err := execute(t,
		"--backend", "emu",
		"--chdir-exe=false",
		"--height", "2",
		"--width", "2",
		"--out-dir", t.TempDir(),
		"--runs-dir", runsDir,
		writeBinary(t),
	)
	require.NoError(t, err)

	runStore, err := store.NewFSStore(runsDir)
	require.NoError(t, err)
	infos, err := runStore.ListRuns()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	id := infos[0].ID

	for _, ref := range []string{id, shortID(id)} {
		out, err := execute(t, "runs", "show", "--runs-dir", runsDir, ref)
		require.NoError(t, err, ref)
		assert.Contains(t, out, id)
		assert.Contains(t, out, string(store.StatusSucceeded))
		assert.Contains(t, out, "emu_accelerator_0")
		assert.Contains(t, out, "(synthetic)")
		assert.Contains(t, out, "kmeans_output.ppm")
		assert.Contains(t, out, "STAGE")
		for _, stage := range []string{"resolve", "load-program", "migrate-in", "task", "drain", "release"} {
			assert.Contains(t, out, stage)
		}
	}
}

func TestRunsShowWithoutJournal(t *testing.T) {
	runsDir := t.TempDir()
	runStore, err := store.NewFSStore(runsDir)
	require.NoError(t, err)
	r := store.NewRunRecord("emu", "k.xclbin", "k")
	r.Finish(errors.New("no device"))
	require.NoError(t, runStore.SaveRun(r))

	out, err := execute(t, "runs", "show", "--runs-dir", runsDir, r.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "no device")
	assert.Contains(t, out, "No stage journal.")
}

func TestRunsShowUnknownRun(t *testing.T) {
	runsDir := t.TempDir()
	_, err := execute(t, "runs", "show", "--runs-dir", runsDir, "deadbeef")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunsShowAmbiguousPrefix(t *testing.T) {
	runsDir := t.TempDir()
	runStore, err := store.NewFSStore(runsDir)
	require.NoError(t, err)
	for _, id := range []string{"aaaa0000-0000-4000-8000-000000000001", "aaaa0000-0000-4000-8000-000000000002"} {
		r := store.NewRunRecord("emu", "k.xclbin", "k")
		r.ID = id
		r.Finish(nil)
		require.NoError(t, runStore.SaveRun(r))
	}

	_, err = execute(t, "runs", "show", "--runs-dir", runsDir, "aaaa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestRunsCleanNeedsPolicy(t *testing.T) {
	_, err := execute(t, "runs", "clean", "--runs-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--keep-last")
}

func TestRunsCleanAbortsWithoutConfirmation(t *testing.T) {
	runsDir := t.TempDir()
	runStore, err := store.NewFSStore(runsDir)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		r := store.NewRunRecord("emu", "k.xclbin", "k")
		r.Finish(nil)
		require.NoError(t, runStore.SaveRun(r))
	}

	out, err := execute(t, "runs", "clean", "--runs-dir", runsDir, "--keep-last", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")

	infos, err := runStore.ListRuns()
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestRunsWithoutDirectory(t *testing.T) {
	_, err := execute(t, "runs", "list")
	require.Error(t, err)
	assert.False(t, errors.Is(err, errUsage))
}
