package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

func TestDispatchDecodesEvent(t *testing.T) {
	amount := decimal.RequireFromString("200000")
	event := domain.StatusChangedEvent{
		EventID:         "evt-1",
		ApplicationID:   "ATR_2026_000001",
		BeneficiaryID:   "B1",
		ApplicationType: domain.TypeAtrocityRelief,
		FromStatus:      domain.StatusSubmitted,
		ToStatus:        domain.StatusApproved,
		ApprovedAmount:  &amount,
		OccurredAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got domain.StatusChangedEvent
	err = dispatch(context.Background(), data, func(_ context.Context, e domain.StatusChangedEvent) error {
		got = e
		return nil
	})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if got.ApplicationID != event.ApplicationID || got.ToStatus != domain.StatusApproved {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.ApprovedAmount == nil || !got.ApprovedAmount.Equal(amount) {
		t.Fatalf("amount lost in transit: %v", got.ApprovedAmount)
	}
}

func TestDispatchRejectsMalformedPayload(t *testing.T) {
	called := false
	handler := func(context.Context, domain.StatusChangedEvent) error {
		called = true
		return nil
	}
	for _, raw := range []string{"not json", `{"event_id":"e"}`} {
		if err := dispatch(context.Background(), []byte(raw), handler); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	if called {
		t.Fatalf("handler must not run for malformed events")
	}
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	sentinel := errors.New("locker down")
	err := dispatch(context.Background(), []byte(`{"application_id":"MAR_2026_000002","from_status":"DRAFT","to_status":"SUBMITTED"}`),
		func(context.Context, domain.StatusChangedEvent) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
}

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
	}{
		{fmt.Errorf("publish: %w", nats.ErrConnectionClosed), true},
		{nats.ErrTimeout, true},
		{context.Canceled, false},
		{nats.ErrBadSubject, false},
	}
	for _, tc := range cases {
		if got := classifyNATSError(tc.err).Retryable; got != tc.retryable {
			t.Fatalf("classifyNATSError(%v).Retryable = %v, want %v", tc.err, got, tc.retryable)
		}
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrNoServers); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if err := wrapTemporaryIfNeeded(nats.ErrBadSubject); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("permanent error must not become temporary")
	}
}

func TestStatusSubjectPerTransition(t *testing.T) {
	cases := map[domain.ApplicationStatus]string{
		domain.StatusSubmitted:        "welfare.applications.status.submitted",
		domain.StatusPaymentInitiated: "welfare.applications.status.payment_initiated",
	}
	for status, want := range cases {
		if got := statusSubject("welfare.applications.status", status); got != want {
			t.Fatalf("statusSubject(%s) = %q, want %q", status, got, want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	noRetry := false
	got := Options{QueueGroup: "review-workers", RetryOnFailedConnect: &noRetry}.withDefaults()
	if got.QueueGroup != "review-workers" || *got.RetryOnFailedConnect {
		t.Fatalf("explicit options overwritten: %+v", got)
	}
	if got.ConnectTimeout != 2*time.Second || got.MaxReconnects != 60 || got.Logger == nil {
		t.Fatalf("defaults not applied: %+v", got)
	}

	def := Options{}.withDefaults()
	if def.QueueGroup != defaultQueueGroup || !*def.RetryOnFailedConnect {
		t.Fatalf("unexpected zero-value defaults: %+v", def)
	}
}

func TestHandlerContextHonoursTimeout(t *testing.T) {
	q := &Queue{handlerTimeout: time.Minute}
	ctx, cancel := q.handlerContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a handler deadline")
	}

	q.handlerTimeout = 0
	ctx, cancel = q.handlerContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("unexpected deadline without a timeout")
	}
}

func TestHandlerContextOutlivesSubscriptionCancel(t *testing.T) {
	subCtx, stop := context.WithCancel(context.Background())
	q := &Queue{handlerTimeout: time.Minute}
	handlerCtx, cancel := q.handlerContext(context.WithoutCancel(subCtx))
	defer cancel()

	stop()
	if err := handlerCtx.Err(); err != nil {
		t.Fatalf("handler context cancelled with the subscription: %v", err)
	}
}

func TestAwaitDrainedWaitsForLastHandler(t *testing.T) {
	polls := 0
	active := func() bool {
		polls++
		return polls < 4
	}
	if err := awaitDrained(active, time.Second, time.Millisecond); err != nil {
		t.Fatalf("awaitDrained() error = %v", err)
	}
	if polls != 4 {
		t.Fatalf("expected to poll until the subscription closed, polls = %d", polls)
	}
}

func TestAwaitDrainedGivesUp(t *testing.T) {
	err := awaitDrained(func() bool { return true }, 5*time.Millisecond, time.Millisecond)
	if err == nil {
		t.Fatal("expected a drain timeout error")
	}
}

func TestDrainTimeoutCoversHandlerTimeout(t *testing.T) {
	got := Options{HandlerTimeout: 2 * time.Minute}.withDefaults()
	if got.DrainTimeout != 2*time.Minute {
		t.Fatalf("DrainTimeout = %s, want the handler timeout", got.DrainTimeout)
	}
	if def := (Options{}).withDefaults(); def.DrainTimeout != 30*time.Second {
		t.Fatalf("default DrainTimeout = %s", def.DrainTimeout)
	}
}
