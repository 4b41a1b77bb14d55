package main

import (
	"errors"
	"log/slog"

	"github.com/samber/lo"

	"github.com/cwbudde/kmeansbirch/internal/config"
	"github.com/cwbudde/kmeansbirch/internal/pipeline"
	"github.com/cwbudde/kmeansbirch/internal/store"
)

// runRecorder journals pipeline stages and saves the run record at the end.
type runRecorder struct {
	store   store.Store
	record  *store.RunRecord
	journal *store.JournalWriter
	logger  *slog.Logger
}

func newRunRecorder(dir, backend, binary, kernel string, logger *slog.Logger) (*runRecorder, error) {
	fs, err := store.NewFSStore(dir)
	if err != nil {
		return nil, err
	}

	record := store.NewRunRecord(backend, binary, kernel)
	journal, err := store.NewJournalWriter(dir, record.ID)
	if err != nil {
		return nil, err
	}

	if err := fs.SaveRun(record); err != nil {
		journal.Close()
		return nil, err
	}

	return &runRecorder{store: fs, record: record, journal: journal, logger: logger}, nil
}

func (r *runRecorder) ObserveStage(s pipeline.Stage) {
	entry := store.StageEntry{Stage: s.Name, Start: s.Start, Duration: s.Duration}
	if s.Err != nil {
		entry.Error = s.Err.Error()
	}
	if err := r.journal.Write(entry); err != nil {
		r.logger.Warn("Failed to journal stage", "stage", s.Name, "error", err)
	}
}

func (r *runRecorder) finish(cfg config.Config, report *pipeline.Report, runErr error) {
	rec := r.record
	rec.Height = cfg.Geometry.Height
	rec.Width = cfg.Geometry.Width
	rec.Dim = cfg.Geometry.Dim

	if report != nil {
		rec.Platform = report.Platform.Name
		rec.Device = report.Device.Name
		rec.InputSource = report.Input.Source
		rec.InputSynthetic = report.Input.Synthetic
		rec.Outputs = lo.Map(report.Outputs, func(o pipeline.OutputResult, _ int) store.OutputRecord {
			out := store.OutputRecord{Name: o.Name, Path: o.Path, Preview: o.Preview}
			if err := errors.Join(o.Err, o.PreviewErr); err != nil {
				out.Error = err.Error()
			}
			return out
		})
	}
	rec.Finish(runErr)

	if err := r.journal.Close(); err != nil {
		r.logger.Warn("Failed to close run journal", "run_id", rec.ID, "error", err)
	}
	if err := r.store.SaveRun(rec); err != nil {
		r.logger.Warn("Failed to save run record", "run_id", rec.ID, "error", err)
		return
	}
	r.logger.Info("Saved run record", "run_id", rec.ID, "status", rec.Status)
}
