package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

const defaultEventTimeout = 2 * time.Minute

// EventObserver receives per-event worker measurements.
type EventObserver interface {
	StartEvent()
	FinishEvent(toStatus string, duration time.Duration, err error)
	ObserveEventLag(lag time.Duration)
	RecordVerification(status string)
	RecordNotification(err error)
}

type StatusEventHandlerDeps struct {
	Reviews      ports.ReviewWorkflow
	Notifier     ports.Notifier
	ShouldNotify func(domain.StatusChangedEvent) bool
	Observer     EventObserver
	Clock        ports.Clock
	Logger       *slog.Logger
	Timeout      time.Duration
}

// StatusEventHandler is the worker side of the status-change stream: a
// freshly submitted application goes through external document
// verification, and beneficiary-facing changes are forwarded to the
// notification fan-out.
type StatusEventHandler struct {
	reviews      ports.ReviewWorkflow
	notifier     ports.Notifier
	shouldNotify func(domain.StatusChangedEvent) bool
	observer     EventObserver
	clock        ports.Clock
	logger       *slog.Logger
	timeout      time.Duration
}

func NewStatusEventHandler(deps StatusEventHandlerDeps) *StatusEventHandler {
	h := &StatusEventHandler{
		reviews:      deps.Reviews,
		notifier:     deps.Notifier,
		shouldNotify: deps.ShouldNotify,
		observer:     deps.Observer,
		clock:        deps.Clock,
		logger:       deps.Logger,
		timeout:      deps.Timeout,
	}
	if h.clock == nil {
		h.clock = systemClock{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.timeout <= 0 {
		h.timeout = defaultEventTimeout
	}
	if h.shouldNotify == nil {
		h.shouldNotify = func(domain.StatusChangedEvent) bool { return true }
	}
	return h
}

func (h *StatusEventHandler) Handle(ctx context.Context, event domain.StatusChangedEvent) (err error) {
	start := h.clock.Now()
	if h.observer != nil {
		h.observer.StartEvent()
		h.observer.ObserveEventLag(start.Sub(event.OccurredAt))
		defer func() {
			h.observer.FinishEvent(string(event.ToStatus), h.clock.Now().Sub(start), err)
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var errs []error
	if event.ToStatus == domain.StatusSubmitted {
		if verifyErr := h.verify(ctx, event); verifyErr != nil {
			errs = append(errs, verifyErr)
		}
	}
	if h.notifier != nil && h.shouldNotify(event) {
		notifyErr := h.notifier.NotifyStatusChanged(ctx, event)
		if h.observer != nil {
			h.observer.RecordNotification(notifyErr)
		}
		if notifyErr != nil {
			errs = append(errs, fmt.Errorf("notify: %w", notifyErr))
		}
	}
	return errors.Join(errs...)
}

func (h *StatusEventHandler) verify(ctx context.Context, event domain.StatusChangedEvent) error {
	if h.reviews == nil {
		return nil
	}
	app, err := h.reviews.RunExternalVerification(ctx, event.ApplicationID)
	if app != nil && h.observer != nil {
		for _, doc := range app.Documents {
			if doc.VerifiedBy == externalVerifier {
				h.observer.RecordVerification(string(doc.VerificationStatus))
			}
		}
	}
	switch {
	case err == nil:
		h.logger.Info("external_verification_done", "application_id", event.ApplicationID)
		return nil
	case domain.IsKind(err, domain.ErrInvalidTransition):
		// An officer already moved the record on; nothing left to verify.
		h.logger.Info("external_verification_skipped", "application_id", event.ApplicationID, "reason", err.Error())
		return nil
	default:
		return fmt.Errorf("verify documents: %w", err)
	}
}
