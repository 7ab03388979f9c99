package unsubscribe

import (
	"context"

	"github.com/jal472/gmail-unsubscriber/internal/history"
)

// runRecorder forwards to a Recorder, downgrading every failure to a
// warning. A nil *runRecorder records nothing.
type runRecorder struct {
	rec   Recorder
	runID int64
	svc   *Service
}

func (s *Service) beginRun(ctx context.Context, spec Spec) *runRecorder {
	if s.Recorder == nil {
		return nil
	}
	id, err := s.Recorder.BeginRun(ctx, spec.Filter, spec.DryRun, s.Clock())
	if err != nil {
		s.Logger.Warn("history disabled for this run", "error", err)
		return nil
	}
	return &runRecorder{rec: s.Recorder, runID: id, svc: s}
}

func (r *runRecorder) attempt(ctx context.Context, a history.Attempt) {
	if r == nil {
		return
	}
	a.RunID = r.runID
	a.At = r.svc.Clock()
	if err := r.rec.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		r.svc.Logger.Warn("record attempt", "id", a.MessageID, "error", err)
	}
}

func (r *runRecorder) finish(ctx context.Context, rep Report, runErr error) {
	if r == nil {
		return
	}
	run := history.Run{
		ID:         r.runID,
		FinishedAt: r.svc.Clock(),
		Listed:     rep.MessagesListed,
		Scanned:    rep.MessagesScanned,
		Links:      rep.LinksFound,
		Succeeded:  rep.AttemptsSucceeded,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := r.rec.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		r.svc.Logger.Warn("record run", "run", r.runID, "error", err)
	}
}
