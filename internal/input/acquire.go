package input

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwbudde/kmeansbirch/internal/raster"
)

// Result describes which source filled the buffer.
type Result struct {
	Source    string `json:"source"`
	Index     int    `json:"index"`
	Synthetic bool   `json:"synthetic"`
}

// Acquire tries sources in order and stops at the first one that fills dst.
// Later sources are never consulted. Every skipped source is logged.
func Acquire(logger *slog.Logger, dst []byte, sources ...Source) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for i, src := range sources {
		if err := src.Available(len(dst)); err != nil {
			logSkip(logger, src, err)
			continue
		}
		if err := src.Read(dst); err != nil {
			logSkip(logger, src, err)
			continue
		}

		_, synthetic := src.(PatternSource)
		logger.Info("Loaded raw image", "source", src.Name(), "bytes", len(dst))
		return Result{Source: src.Name(), Index: i, Synthetic: synthetic}, nil
	}

	return Result{Index: -1}, fmt.Errorf("%w (%d candidates)", ErrExhausted, len(sources))
}

func logSkip(logger *slog.Logger, src Source, err error) {
	var short *ShortSourceError
	if errors.As(err, &short) {
		logger.Warn("Raw file too small, skipping",
			"source", src.Name(), "have", short.Have, "want", short.Want)
		return
	}
	logger.Info("Raw image not accessible", "source", src.Name(), "reason", err)
}

// Acquirer fills the accelerator input buffer from a list of candidate
// files, falling back to the synthetic gradient when none qualifies.
type Acquirer struct {
	Geometry raster.Geometry
	Paths    []string
	Logger   *slog.Logger
}

// NewAcquirer creates an acquirer for the given geometry and candidates.
func NewAcquirer(g raster.Geometry, paths []string, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{Geometry: g, Paths: paths, Logger: logger}
}

// Fill populates dst. It only fails when dst does not match the geometry,
// since the synthetic pattern always succeeds for a correctly sized buffer.
func (a *Acquirer) Fill(dst []byte) (Result, error) {
	if err := a.Geometry.Check(dst); err != nil {
		return Result{Index: -1}, err
	}

	res, err := Acquire(a.Logger, dst, FileSources(a.Paths)...)
	if err == nil {
		return res, nil
	}

	a.Logger.Info("Falling back to synthetic test pattern",
		"hint", fmt.Sprintf("convert test_image.jpg -resize %dx%d -depth 8 rgb:test_image.raw", a.Geometry.Width, a.Geometry.Height),
		"candidates", len(a.Paths),
	)

	pattern := PatternSource{Geometry: a.Geometry}
	res, err = Acquire(a.Logger, dst, pattern)
	if err != nil {
		return Result{Index: -1}, err
	}
	res.Index = len(a.Paths)
	return res, nil
}
