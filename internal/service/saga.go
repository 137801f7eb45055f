package service

import (
	"context"

	"go.uber.org/zap"
)

// saga records compensating actions for a multi-step write and runs them
// in reverse order when a later step fails.
type saga struct {
	name   string
	logger *zap.Logger
	steps  []compensation
	onUndo func()
}

type compensation struct {
	name string
	fn   func(ctx context.Context) error
}

func newSaga(name string, logger *zap.Logger, onUndo func()) *saga {
	return &saga{name: name, logger: logger, onUndo: onUndo}
}

// compensate registers the compensation for a step that just succeeded.
func (s *saga) compensate(step string, fn func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{name: step, fn: fn})
}

// rollback runs every registered compensation, newest first. It uses a
// context detached from the request so a cancelled client does not leave
// half-created tenants behind.
func (s *saga) rollback(ctx context.Context, cause error) {
	if len(s.steps) == 0 {
		return
	}
	if s.onUndo != nil {
		s.onUndo()
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.fn(ctx); err != nil {
			s.logger.Error("saga: compensation failed",
				zap.String("saga", s.name),
				zap.String("step", step.name),
				zap.NamedError("cause", cause),
				zap.Error(err),
			)
			continue
		}
		s.logger.Warn("saga: step compensated",
			zap.String("saga", s.name),
			zap.String("step", step.name),
			zap.NamedError("cause", cause),
		)
	}
	s.steps = nil
}
