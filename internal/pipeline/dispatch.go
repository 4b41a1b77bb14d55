package pipeline

import (
	"fmt"

	"github.com/cwbudde/kmeansbirch/internal/accel"
)

// Dispatch binds the kernel arguments and runs the kernel once: migrate the
// input to the device, execute the task, migrate both outputs back to the
// host. It returns after the queue has drained, so the output host views
// hold the kernel results. obs may be nil.
func Dispatch(ctx accel.Context, k accel.Kernel, bufs *BufferSet, obs StageObserver) error {
	g := bufs.Geometry()

	err := observe(obs, StageBindArgs, func() error {
		args := []any{
			bufs.Input.Buffer,
			bufs.KMeans.Buffer,
			bufs.Birch.Buffer,
			uint32(g.Height),
			uint32(g.Width),
		}
		for i, v := range args {
			if err := k.SetArg(i, v); err != nil {
				return fmt.Errorf("set kernel argument %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = observe(obs, StageMigrateIn, func() error {
		return ctx.EnqueueMigrate([]accel.Buffer{bufs.Input.Buffer}, accel.MigrateToDevice)
	})
	if err != nil {
		return fmt.Errorf("enqueue input migration: %w", err)
	}

	err = observe(obs, StageTask, func() error {
		return ctx.EnqueueTask(k)
	})
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", k.Name(), err)
	}

	err = observe(obs, StageMigrateOut, func() error {
		return ctx.EnqueueMigrate([]accel.Buffer{bufs.KMeans.Buffer, bufs.Birch.Buffer}, accel.MigrateToHost)
	})
	if err != nil {
		return fmt.Errorf("enqueue output migration: %w", err)
	}

	if err := observe(obs, StageDrain, ctx.Finish); err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}
	return nil
}
