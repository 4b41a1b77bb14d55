package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/kmeansbirch/internal/accel"
	"github.com/cwbudde/kmeansbirch/internal/accel/emu"
	"github.com/cwbudde/kmeansbirch/internal/config"
	"github.com/cwbudde/kmeansbirch/internal/raster"
)

const testKernel = "kmeans_birch_kernel"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func accelerator(name string) emu.DeviceSpec {
	return emu.DeviceSpec{Name: name, Type: accel.DeviceTypeAccelerator, ComputeUnits: 1}
}

func cpu(name string) emu.DeviceSpec {
	return emu.DeviceSpec{Name: name, Type: accel.DeviceTypeCPU, ComputeUnits: 8}
}

func writeBinary(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kmeans_birch.xclbin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

type stageRecorder struct {
	stages []Stage
}

func (r *stageRecorder) ObserveStage(s Stage) { r.stages = append(r.stages, s) }

func (r *stageRecorder) names() []string {
	out := make([]string, len(r.stages))
	for i, s := range r.stages {
		out[i] = s.Name
	}
	return out
}

func kinds(events []emu.Event) []emu.EventKind {
	out := make([]emu.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestNormalizeBackend(t *testing.T) {
	tests := []struct {
		in   string
		want Backend
	}{
		{"", BackendOpenCL},
		{"OpenCL", BackendOpenCL},
		{" xrt ", BackendOpenCL},
		{"emu", BackendEmu},
		{"SW_EMU", BackendEmu},
		{"cuda", Backend("cuda")},
	}
	for _, tt := range tests {
		if got := NormalizeBackend(tt.in); got != tt.want {
			t.Errorf("NormalizeBackend(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewDriver(t *testing.T) {
	drv, err := NewDriver("emu", "Xilinx", testKernel)
	require.NoError(t, err)
	assert.Equal(t, "emu", drv.Name())

	_, err = NewDriver("cuda", "Xilinx", testKernel)
	assert.ErrorIs(t, err, ErrUnknownBackend)
	assert.Contains(t, err.Error(), "supported: opencl, emu")
}

func TestResolveDevice(t *testing.T) {
	tests := []struct {
		name       string
		platforms  []emu.PlatformSpec
		vendor     string
		wantDevice string
		wantErr    error
	}{
		{
			name:    "no platforms",
			vendor:  "Xilinx",
			wantErr: accel.ErrNoDevice,
		},
		{
			name: "vendor mismatch",
			platforms: []emu.PlatformSpec{
				{Name: "Intel(R) OpenCL", Devices: []emu.DeviceSpec{accelerator("fpga")}},
			},
			vendor:  "Xilinx",
			wantErr: accel.ErrNoDevice,
		},
		{
			name: "exact match only",
			platforms: []emu.PlatformSpec{
				{Name: "xilinx", Devices: []emu.DeviceSpec{accelerator("lower")}},
				{Name: "Xilinx Inc", Devices: []emu.DeviceSpec{accelerator("prefix")}},
			},
			vendor:  "Xilinx",
			wantErr: accel.ErrNoDevice,
		},
		{
			name: "accelerators only",
			platforms: []emu.PlatformSpec{
				{Name: "Xilinx", Devices: []emu.DeviceSpec{cpu("host")}},
			},
			vendor:  "Xilinx",
			wantErr: accel.ErrNoDevice,
		},
		{
			name: "first accelerator of platform",
			platforms: []emu.PlatformSpec{
				{Name: "Xilinx", Devices: []emu.DeviceSpec{cpu("host"), accelerator("u200"), accelerator("u250")}},
			},
			vendor:     "Xilinx",
			wantDevice: "u200",
		},
		{
			name: "first matching platform with accelerators wins",
			platforms: []emu.PlatformSpec{
				{Name: "Other", Devices: []emu.DeviceSpec{accelerator("other")}},
				{Name: "Xilinx", Devices: []emu.DeviceSpec{cpu("host")}},
				{Name: "Xilinx", Devices: []emu.DeviceSpec{accelerator("first")}},
				{Name: "Xilinx", Devices: []emu.DeviceSpec{accelerator("second")}},
			},
			vendor:     "Xilinx",
			wantDevice: "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := emu.New(emu.Config{Platforms: tt.platforms})
			sel, err := ResolveDevice(drv, tt.vendor, quietLogger())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDevice, sel.Device.Name)
			assert.Equal(t, tt.vendor, sel.Platform.Name)
			assert.Equal(t, accel.DeviceTypeAccelerator, sel.Device.Type)
		})
	}
}

func TestResolveDevicePlatformError(t *testing.T) {
	boom := errors.New("icd loader missing")
	drv := emu.New(emu.Config{PlatformsErr: boom})

	_, err := ResolveDevice(drv, "Xilinx", quietLogger())
	assert.ErrorIs(t, err, boom)
}

func openEmu(t *testing.T, cfg emu.Config) (*emu.Driver, accel.Context) {
	t.Helper()
	drv := emu.New(cfg)
	sel, err := ResolveDevice(drv, "Xilinx", quietLogger())
	require.NoError(t, err)
	ctx, err := drv.Open(sel.Device)
	require.NoError(t, err)
	return drv, ctx
}

func TestLoadProgram(t *testing.T) {
	_, ctx := openEmu(t, emu.DefaultConfig("Xilinx", testKernel))

	prog, err := LoadProgram(ctx, writeBinary(t, []byte("xclbin2\x00payload")), testKernel, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, testKernel, prog.Kernel.Name())
	assert.Equal(t, 15, prog.Size)

	require.NoError(t, prog.Release())
	require.NoError(t, prog.Release())
	require.NoError(t, ctx.Close())
}

func TestLoadProgramFailures(t *testing.T) {
	rejectAll := emu.DefaultConfig("Xilinx", testKernel)
	rejectAll.ValidateBinary = func([]byte) error { return errors.New("bad magic") }

	tests := []struct {
		name    string
		cfg     emu.Config
		path    func(t *testing.T) string
		kernel  string
		wantErr error
	}{
		{
			name:    "missing file",
			cfg:     emu.DefaultConfig("Xilinx", testKernel),
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.xclbin") },
			kernel:  testKernel,
			wantErr: os.ErrNotExist,
		},
		{
			name:   "empty file",
			cfg:    emu.DefaultConfig("Xilinx", testKernel),
			path:   func(t *testing.T) string { return writeBinary(t, nil) },
			kernel: testKernel,
		},
		{
			name:    "rejected image",
			cfg:     rejectAll,
			path:    func(t *testing.T) string { return writeBinary(t, []byte("junk")) },
			kernel:  testKernel,
			wantErr: accel.ErrInvalidBinary,
		},
		{
			name:    "unknown kernel",
			cfg:     emu.DefaultConfig("Xilinx", testKernel),
			path:    func(t *testing.T) string { return writeBinary(t, []byte("xclbin2")) },
			kernel:  "other_kernel",
			wantErr: accel.ErrKernelNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ctx := openEmu(t, tt.cfg)

			prog, err := LoadProgram(ctx, tt.path(t), tt.kernel, quietLogger())
			require.ErrorIs(t, err, ErrProgramLoad)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Nil(t, prog)

			// nothing may be left behind by a failed load
			assert.NoError(t, ctx.Close())
		})
	}
}

func TestAllocateBuffers(t *testing.T) {
	drv, ctx := openEmu(t, emu.DefaultConfig("Xilinx", testKernel))
	g := raster.Geometry{Height: 3, Width: 4, Dim: 3}

	set, err := AllocateBuffers(ctx, g)
	require.NoError(t, err)

	for _, mb := range []*MappedBuffer{set.Input, set.KMeans, set.Birch} {
		assert.Equal(t, g.Size(), mb.Buffer.Size(), mb.Name)
		assert.Len(t, mb.Host, g.Size(), mb.Name)
	}
	assert.Equal(t, accel.MemReadOnly, set.Input.Buffer.Flags())
	assert.Equal(t, accel.MemWriteOnly, set.KMeans.Buffer.Flags())
	assert.Equal(t, accel.MemWriteOnly, set.Birch.Buffer.Flags())

	maps := emu.Filter(drv.Events(), emu.EventMap)
	require.Len(t, maps, 3)
	assert.Equal(t, accel.MapWrite, maps[0].Map)
	assert.Equal(t, accel.MapRead, maps[1].Map)
	assert.Equal(t, accel.MapRead, maps[2].Map)

	require.NoError(t, set.Release())
	require.NoError(t, set.Release(), "second release is a no-op")

	tail := kinds(emu.Filter(drv.Events(), emu.EventUnmap, emu.EventFinish, emu.EventRelease))
	want := []emu.EventKind{
		emu.EventUnmap, emu.EventUnmap, emu.EventUnmap,
		emu.EventFinish,
		emu.EventRelease, emu.EventRelease, emu.EventRelease,
	}
	if diff := cmp.Diff(want, tail); diff != "" {
		t.Errorf("release order mismatch (-want +got):\n%s", diff)
	}

	assert.NoError(t, ctx.Close())
}

func TestAllocateBuffersInvalidGeometry(t *testing.T) {
	drv, ctx := openEmu(t, emu.DefaultConfig("Xilinx", testKernel))

	_, err := AllocateBuffers(ctx, raster.Geometry{Height: 2, Width: 2, Dim: 1})
	require.Error(t, err)
	assert.Empty(t, emu.Filter(drv.Events(), emu.EventCreateBuffer))
	assert.NoError(t, ctx.Close())
}

func TestDispatchOrder(t *testing.T) {
	drv, ctx := openEmu(t, emu.DefaultConfig("Xilinx", testKernel))
	g := raster.Geometry{Height: 2, Width: 3, Dim: 3}

	prog, err := LoadProgram(ctx, writeBinary(t, []byte("xclbin2")), testKernel, quietLogger())
	require.NoError(t, err)
	set, err := AllocateBuffers(ctx, g)
	require.NoError(t, err)

	require.NoError(t, raster.FillGradient(g, set.Input.Host))
	want := append([]byte(nil), set.Input.Host...)

	start := len(drv.Events())
	rec := &stageRecorder{}
	require.NoError(t, Dispatch(ctx, prog.Kernel, set, rec))

	got := kinds(drv.Events()[start:])
	wantKinds := []emu.EventKind{
		emu.EventSetArg, emu.EventSetArg, emu.EventSetArg, emu.EventSetArg, emu.EventSetArg,
		emu.EventEnqueueMigrate,
		emu.EventEnqueueTask,
		emu.EventEnqueueMigrate,
		emu.EventExecMigrate,
		emu.EventExecTask,
		emu.EventExecMigrate,
		emu.EventFinish,
	}
	if diff := cmp.Diff(wantKinds, got); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}

	migrations := emu.Filter(drv.Events()[start:], emu.EventExecMigrate)
	require.Len(t, migrations, 2)
	assert.Equal(t, accel.MigrateToDevice, migrations[0].Direction)
	assert.Len(t, migrations[0].Buffers, 1)
	assert.Equal(t, accel.MigrateToHost, migrations[1].Direction)
	assert.Len(t, migrations[1].Buffers, 2)

	assert.Equal(t,
		[]string{StageBindArgs, StageMigrateIn, StageTask, StageMigrateOut, StageDrain},
		rec.names())

	if diff := cmp.Diff(want, set.KMeans.Host); diff != "" {
		t.Errorf("kmeans output mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, set.Birch.Host); diff != "" {
		t.Errorf("birch output mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, set.Release())
	require.NoError(t, prog.Release())
	require.NoError(t, ctx.Close())
}

func TestDispatchLeavesOutputsUntouchedOnFailure(t *testing.T) {
	cfg := emu.DefaultConfig("Xilinx", testKernel)
	cfg.Kernels[testKernel] = func(*emu.Args) error { return errors.New("kernel trapped") }
	_, ctx := openEmu(t, cfg)
	g := raster.Geometry{Height: 2, Width: 2, Dim: 3}

	prog, err := LoadProgram(ctx, writeBinary(t, []byte("xclbin2")), testKernel, quietLogger())
	require.NoError(t, err)
	set, err := AllocateBuffers(ctx, g)
	require.NoError(t, err)
	require.NoError(t, raster.FillGradient(g, set.Input.Host))

	rec := &stageRecorder{}
	err = Dispatch(ctx, prog.Kernel, set, rec)
	require.Error(t, err)

	last := rec.stages[len(rec.stages)-1]
	assert.Equal(t, StageDrain, last.Name)
	assert.Error(t, last.Err)
	assert.Equal(t, make([]byte, g.Size()), set.KMeans.Host)

	require.NoError(t, set.Release())
	require.NoError(t, prog.Release())
	require.NoError(t, ctx.Close())
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Backend = string(BackendEmu)
	cfg.Geometry = raster.Geometry{Height: 6, Width: 5, Dim: 3}
	cfg.SearchPaths = []string{filepath.Join(t.TempDir(), "missing.raw")}
	cfg.OutDir = t.TempDir()
	return cfg
}

func readPPM(t *testing.T, path string) (raster.Geometry, []byte) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	g, buf, err := raster.DecodePPM(f)
	require.NoError(t, err)
	return g, buf
}

func TestRunnerEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Preview = "png"
	drv := emu.New(emu.DefaultConfig(cfg.Vendor, cfg.Kernel))
	rec := &stageRecorder{}

	r := NewRunner(drv, cfg, writeBinary(t, []byte("xclbin2")), quietLogger())
	r.Observer = rec

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "emu", report.Backend)
	assert.Equal(t, "emu_accelerator_0", report.Device.Name)
	assert.True(t, report.Input.Synthetic)
	assert.Equal(t, 1, report.Input.Index)
	assert.Empty(t, report.Failed())
	require.Len(t, report.Outputs, 2)

	want, err := raster.Gradient(cfg.Geometry)
	require.NoError(t, err)

	for _, out := range report.Outputs {
		g, got := readPPM(t, out.Path)
		assert.Equal(t, cfg.Geometry, g)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s output mismatch (-want +got):\n%s", out.Name, diff)
		}
		assert.FileExists(t, out.Preview)
	}
	assert.Equal(t, filepath.Join(cfg.OutDir, "kmeans_output.ppm"), report.Outputs[0].Path)
	assert.Equal(t, filepath.Join(cfg.OutDir, "birch_output.ppm"), report.Outputs[1].Path)

	assert.Equal(t, []string{
		StageResolve, StageOpen, StageLoadProgram, StageAllocate, StageAcquire,
		StageBindArgs, StageMigrateIn, StageTask, StageMigrateOut, StageDrain,
		StageEncode, StageRelease,
	}, rec.names())

	assert.Equal(t, emu.EventClose, drv.Events()[len(drv.Events())-1].Kind)
}

func TestRunnerUsesInputFile(t *testing.T) {
	cfg := testConfig(t)
	raw := bytes.Repeat([]byte{10, 20, 30}, cfg.Geometry.Pixels())
	rawPath := filepath.Join(t.TempDir(), "test_image.raw")
	require.NoError(t, os.WriteFile(rawPath, append(raw, 0xff), 0644))
	cfg.SearchPaths = append(cfg.SearchPaths, rawPath)

	drv := emu.New(emu.DefaultConfig(cfg.Vendor, cfg.Kernel))
	report, err := NewRunner(drv, cfg, writeBinary(t, []byte("xclbin2")), quietLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Input.Synthetic)
	assert.Equal(t, rawPath, report.Input.Source)
	_, got := readPPM(t, report.Outputs[0].Path)
	// PPM stores R,G,B so the decoder hands back the B,G,R bytes unchanged
	assert.Equal(t, raw, got)
}

func TestRunnerNoDevice(t *testing.T) {
	cfg := testConfig(t)
	drv := emu.New(emu.Config{})

	report, err := NewRunner(drv, cfg, writeBinary(t, []byte("xclbin2")), quietLogger()).Run(context.Background())
	require.ErrorIs(t, err, accel.ErrNoDevice)
	require.NotNil(t, report)
	assert.Empty(t, report.Outputs)

	assert.Empty(t, drv.Events(), "no context, program or buffer may be created")
	assert.NoFileExists(t, filepath.Join(cfg.OutDir, "kmeans_output.ppm"))
}

func TestRunnerProgramLoadFailure(t *testing.T) {
	cfg := testConfig(t)
	drv := emu.New(emu.DefaultConfig(cfg.Vendor, cfg.Kernel))

	_, err := NewRunner(drv, cfg, filepath.Join(t.TempDir(), "missing.xclbin"), quietLogger()).Run(context.Background())
	require.ErrorIs(t, err, ErrProgramLoad)
	assert.NotErrorIs(t, err, emu.ErrLeak)

	assert.Empty(t, emu.Filter(drv.Events(), emu.EventCreateBuffer))
	assert.Len(t, emu.Filter(drv.Events(), emu.EventClose), 1)
}

func TestRunnerIsolatesOutputFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Outputs.KMeans = filepath.Join("no-such-dir", "kmeans_output.ppm")
	drv := emu.New(emu.DefaultConfig(cfg.Vendor, cfg.Kernel))

	report, err := NewRunner(drv, cfg, writeBinary(t, []byte("xclbin2")), quietLogger()).Run(context.Background())
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "kmeans", failed[0].Name)
	assert.Error(t, failed[0].Err)

	assert.FileExists(t, filepath.Join(cfg.OutDir, "birch_output.ppm"))
}

func TestRunnerCancelled(t *testing.T) {
	cfg := testConfig(t)
	drv := emu.New(emu.DefaultConfig(cfg.Vendor, cfg.Kernel))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(drv, cfg, writeBinary(t, []byte("xclbin2")), quietLogger()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, emu.Filter(drv.Events(), emu.EventOpen))
}

func TestRunnerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Kernel = ""
	drv := emu.New(emu.DefaultConfig(cfg.Vendor, testKernel))

	_, err := NewRunner(drv, cfg, "unused", quietLogger()).Run(context.Background())
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, drv.Events())
}
