// Package sweep periodically emits overdue events for past-due tasks.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/services/notifications/events"
	"github.com/louisbranch/taskhub/internal/services/notifications/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the sweep cadence when none is configured.
const DefaultInterval = 24 * time.Hour

// OverdueTaskSource enumerates tasks with dueDate < now and status not completed.
type OverdueTaskSource interface {
	ListOverdue(ctx context.Context, now time.Time) ([]events.Task, error)
}

// Sweeper turns each overdue task into one task.overdue event per run.
type Sweeper struct {
	source   OverdueTaskSource
	handler  events.Handler
	interval time.Duration
	clock    func() time.Time
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

// New builds a sweeper. Events are handed directly to handler (normally the
// translator) rather than through the bus so a large sweep cannot crowd out
// interactive task events.
func New(source OverdueTaskSource, handler events.Handler, interval time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Sweeper{
		source:   source,
		handler:  handler,
		interval: interval,
		clock:    time.Now,
		log:      log,
		metrics:  m,
	}
}

// Run sweeps at every interval boundary of the wall clock (midnight UTC for
// the default daily interval) until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.source == nil || s.handler == nil {
		return fmt.Errorf("sweeper source and handler are required")
	}
	timer := time.NewTimer(s.untilNextRun())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.WithError(err).Error("overdue sweep failed")
			}
			timer.Reset(s.untilNextRun())
		}
	}
}

func (s *Sweeper) untilNextRun() time.Duration {
	now := s.clock()
	return nextRun(now, s.interval).Sub(now)
}

// nextRun returns the first interval boundary strictly after now.
func nextRun(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}

// SweepOnce emits an overdue event for every task the source reports and
// returns how many were emitted.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	tasks, err := s.source.ListOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list overdue tasks: %w", err)
	}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		s.handler.HandleTaskEvent(ctx, events.TaskEvent{
			Kind:       events.KindTaskOverdue,
			Task:       task,
			OccurredAt: now,
		})
	}
	s.metrics.SweepCompleted()
	s.log.WithField("tasks", len(tasks)).Info("overdue sweep completed")
	return len(tasks), nil
}
