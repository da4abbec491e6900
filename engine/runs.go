package engine

import (
	"context"

	"go.uber.org/zap"
)

type triggerKey struct{}

// WithTrigger tags ctx with who started a batch run ("scheduler", "cli").
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func triggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return "manual"
}

func (e *Engine) startRun(ctx context.Context, kind RunKind) Run {
	r := Run{
		ID:        newID("run"),
		Kind:      kind,
		Status:    RunRunning,
		Trigger:   triggerFrom(ctx),
		StartedAt: e.clock.Now(),
	}
	if err := e.store.SaveRun(ctx, r); err != nil {
		e.log.Warn("save run record", zap.String("kind", string(kind)), zap.Error(err))
	}
	return r
}

func (e *Engine) finishRun(ctx context.Context, r Run, processed, changed, failed int, runErr error) {
	done := e.clock.Now()
	r.Processed, r.Changed, r.Failed = processed, changed, failed
	r.CompletedAt = &done
	switch {
	case runErr != nil:
		r.Status = RunFailed
		r.Error = runErr.Error()
	case failed > 0:
		r.Status = RunPartial
	default:
		r.Status = RunCompleted
	}
	if err := e.store.SaveRun(ctx, r); err != nil {
		e.log.Warn("save run record", zap.String("kind", string(r.Kind)), zap.Error(err))
	}
}

// Runs lists recent batch runs, newest first. Empty kind lists all kinds.
func (e *Engine) Runs(ctx context.Context, kind RunKind, limit int) ([]Run, error) {
	return e.store.ListRuns(ctx, kind, limit)
}
