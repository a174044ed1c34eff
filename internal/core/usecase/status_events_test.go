package usecase

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

type notifierFake struct {
	err    error
	events []domain.StatusChangedEvent
}

func (n *notifierFake) NotifyStatusChanged(_ context.Context, event domain.StatusChangedEvent) error {
	n.events = append(n.events, event)
	return n.err
}

type eventObserverFake struct {
	started       int
	finished      []string
	failures      int
	lags          []time.Duration
	verifications []string
	notifications int
	notifyErrors  int
}

func (o *eventObserverFake) StartEvent() { o.started++ }

func (o *eventObserverFake) FinishEvent(toStatus string, _ time.Duration, err error) {
	o.finished = append(o.finished, toStatus)
	if err != nil {
		o.failures++
	}
}

func (o *eventObserverFake) ObserveEventLag(lag time.Duration) { o.lags = append(o.lags, lag) }

func (o *eventObserverFake) RecordVerification(status string) {
	o.verifications = append(o.verifications, status)
}

func (o *eventObserverFake) RecordNotification(err error) {
	o.notifications++
	if err != nil {
		o.notifyErrors++
	}
}

func submittedEvent(app *domain.Application) domain.StatusChangedEvent {
	return domain.StatusChangedEvent{
		EventID:         "evt-1",
		ApplicationID:   app.ApplicationID,
		BeneficiaryID:   app.BeneficiaryID,
		ApplicationType: app.ApplicationType,
		FromStatus:      domain.StatusDraft,
		ToStatus:        domain.StatusSubmitted,
		OccurredAt:      app.UpdatedAt,
	}
}

func TestStatusEventHandlerVerifiesSubmittedApplication(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	app := h.submitted(t, domain.TypeAtrocityRelief, "AADHAAR", "FIR_COPY")
	h.verifier.answers = map[string]domain.VerificationStatus{
		"AADHAAR":  domain.VerificationVerified,
		"FIR_COPY": domain.VerificationRejected,
	}

	notifier := &notifierFake{}
	observer := &eventObserverFake{}
	handler := NewStatusEventHandler(StatusEventHandlerDeps{
		Reviews:  h.review,
		Notifier: notifier,
		Observer: observer,
		Clock:    h.clock,
	})

	if err := handler.Handle(ctx, submittedEvent(app)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	stored, err := h.reads.Get(ctx, app.ApplicationID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Documents[0].VerificationStatus != domain.VerificationVerified ||
		stored.Documents[1].VerificationStatus != domain.VerificationRejected {
		t.Fatalf("verification answers not persisted: %+v", stored.Documents)
	}

	sort.Strings(observer.verifications)
	if len(observer.verifications) != 2 || observer.verifications[0] != "REJECTED" || observer.verifications[1] != "VERIFIED" {
		t.Fatalf("unexpected verification counts: %v", observer.verifications)
	}
	if observer.started != 1 || len(observer.finished) != 1 || observer.finished[0] != "SUBMITTED" || observer.failures != 0 {
		t.Fatalf("unexpected event observations: %+v", observer)
	}
	if len(observer.lags) != 1 || observer.lags[0] <= 0 {
		t.Fatalf("expected a positive lag, got %v", observer.lags)
	}
	if len(notifier.events) != 1 || observer.notifications != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.events))
	}
}

func TestStatusEventHandlerSkipsDecidedApplication(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	app := h.submitted(t, domain.TypeAtrocityRelief, "AADHAAR")
	if _, err := h.review.Decide(ctx, ports.DecideInput{
		ApplicationID: app.ApplicationID,
		OfficerID:     "O1",
		Action:        domain.ActionReject,
		Remarks:       "duplicate claim",
	}); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	handler := NewStatusEventHandler(StatusEventHandlerDeps{Reviews: h.review, Clock: h.clock})
	if err := handler.Handle(ctx, submittedEvent(app)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(h.verifier.calls) != 0 {
		t.Fatalf("rejected application must not be verified, calls = %v", h.verifier.calls)
	}
}

func TestStatusEventHandlerIgnoresOtherStatusesForVerification(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	app := h.submitted(t, domain.TypeAtrocityRelief, "AADHAAR")

	event := submittedEvent(app)
	event.FromStatus = domain.StatusSubmitted
	event.ToStatus = domain.StatusUnderReview
	handler := NewStatusEventHandler(StatusEventHandlerDeps{Reviews: h.review, Clock: h.clock})
	if err := handler.Handle(ctx, event); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(h.verifier.calls) != 0 {
		t.Fatalf("verifier must not run for %s, calls = %v", event.ToStatus, h.verifier.calls)
	}
}

func TestStatusEventHandlerJoinsFailures(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	app := h.submitted(t, domain.TypeAtrocityRelief, "AADHAAR")
	h.verifier.errs = map[string]error{
		"AADHAAR": domain.WrapError(domain.ErrTemporary, "locker", errors.New("503")),
	}

	notifier := &notifierFake{err: errors.New("sns down")}
	observer := &eventObserverFake{}
	handler := NewStatusEventHandler(StatusEventHandlerDeps{
		Reviews:  h.review,
		Notifier: notifier,
		Observer: observer,
		Clock:    h.clock,
	})

	err := handler.Handle(ctx, submittedEvent(app))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected verification failure in %v", err)
	}
	if !errors.Is(err, notifier.err) {
		t.Fatalf("expected notification failure in %v", err)
	}
	if observer.failures != 1 || observer.notifyErrors != 1 {
		t.Fatalf("failures not observed: %+v", observer)
	}
}

func TestStatusEventHandlerHonoursNotifyFilter(t *testing.T) {
	notifier := &notifierFake{}
	handler := NewStatusEventHandler(StatusEventHandlerDeps{
		Notifier: notifier,
		ShouldNotify: func(e domain.StatusChangedEvent) bool {
			return e.ToStatus == domain.StatusApproved
		},
	})
	ctx := context.Background()

	for _, to := range []domain.ApplicationStatus{domain.StatusUnderReview, domain.StatusApproved} {
		if err := handler.Handle(ctx, domain.StatusChangedEvent{ApplicationID: "ATR_2026_000001", ToStatus: to}); err != nil {
			t.Fatalf("Handle(%s) error = %v", to, err)
		}
	}
	if len(notifier.events) != 1 || notifier.events[0].ToStatus != domain.StatusApproved {
		t.Fatalf("unexpected notifications: %+v", notifier.events)
	}
}
