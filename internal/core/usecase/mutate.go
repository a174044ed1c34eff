package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

// publishTimeout bounds the post-commit publish, which no longer follows
// the caller's cancellation.
const publishTimeout = 10 * time.Second

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// recordMutator applies one read-modify-conditional-write cycle to a
// single application and publishes the resulting status change.
type recordMutator struct {
	repo   ports.ApplicationRepository
	events ports.EventPublisher
	clock  ports.Clock
	logger *slog.Logger
}

func newRecordMutator(repo ports.ApplicationRepository, events ports.EventPublisher, clock ports.Clock, logger *slog.Logger) recordMutator {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return recordMutator{repo: repo, events: events, clock: clock, logger: logger}
}

type mutation struct {
	operation string
	actor     string
	remarks   string
	apply     func(app *domain.Application, now time.Time) error
}

func (m recordMutator) mutate(ctx context.Context, applicationID string, mu mutation) (*domain.Application, error) {
	current, err := m.repo.GetByID(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("%s: load application: %w", mu.operation, err)
	}
	return m.mutateLoaded(ctx, current, mu)
}

func (m recordMutator) mutateLoaded(ctx context.Context, current *domain.Application, mu mutation) (*domain.Application, error) {
	now := m.clock.Now()
	next := current.Clone()
	if err := mu.apply(next, now); err != nil {
		return nil, err
	}

	var change *domain.StatusChange
	if next.ApplicationStatus != current.ApplicationStatus {
		change = &domain.StatusChange{
			ApplicationID: current.ApplicationID,
			FromStatus:    current.ApplicationStatus,
			ToStatus:      next.ApplicationStatus,
			ChangedBy:     mu.actor,
			Remarks:       mu.remarks,
			ChangedAt:     now,
		}
	}
	next.UpdatedAt = now

	if err := m.repo.Update(ctx, next, current.Version, current.ApplicationStatus, change); err != nil {
		return nil, fmt.Errorf("%s: persist application: %w", mu.operation, err)
	}

	if change != nil {
		m.publish(ctx, current.ApplicationStatus, next, now)
	}
	return next, nil
}

// publish runs after the write committed; a failed publish is logged
// rather than returned because the caller cannot retry the transition.
// The committed change is announced even when the caller has gone away.
func (m recordMutator) publish(ctx context.Context, from domain.ApplicationStatus, app *domain.Application, at time.Time) {
	if m.events == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := domain.NewStatusChangedEvent(uuid.NewString(), from, app, at)
	if err := m.events.PublishStatusChanged(publishCtx, event); err != nil {
		m.logger.Error("status_event_publish_failed",
			"application_id", app.ApplicationID,
			"from_status", from,
			"to_status", app.ApplicationStatus,
			"error", err,
		)
	}
}
