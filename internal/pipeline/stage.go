package pipeline

import "time"

// Stage is one timed step of a run.
type Stage struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	Err      error
}

// StageObserver receives every completed stage, failed ones included.
type StageObserver interface {
	ObserveStage(Stage)
}

// StageFunc adapts a function to StageObserver.
type StageFunc func(Stage)

func (f StageFunc) ObserveStage(s Stage) { f(s) }

// Stage names reported by Dispatch and Runner.
const (
	StageResolve     = "resolve"
	StageOpen        = "open"
	StageLoadProgram = "load-program"
	StageAllocate    = "allocate"
	StageAcquire     = "acquire"
	StageBindArgs    = "bind-args"
	StageMigrateIn   = "migrate-in"
	StageTask        = "task"
	StageMigrateOut  = "migrate-out"
	StageDrain       = "drain"
	StageEncode      = "encode"
	StageRelease     = "release"
)

func observe(obs StageObserver, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if obs != nil {
		obs.ObserveStage(Stage{
			Name:     name,
			Start:    start,
			Duration: time.Since(start),
			Err:      err,
		})
	}
	return err
}
