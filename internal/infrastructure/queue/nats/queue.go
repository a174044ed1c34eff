package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/resilience"
)

const (
	defaultQueueGroup = "welfare-workers"
	drainPollInterval = 50 * time.Millisecond

	applicationIDHeader   = "Welfare-Application-Id"
	applicationTypeHeader = "Welfare-Application-Type"
)

// Queue carries StatusChangedEvent messages between the api and the worker.
// Each event goes to <subject>.<status>, e.g. welfare.applications.status.approved,
// so downstream consumers can bind to a single transition.
type Queue struct {
	conn           *nats.Conn
	subject        string
	queueGroup     string
	handlerTimeout time.Duration
	drainTimeout   time.Duration
	executor       *resilience.Executor
	logger         *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	QueueGroup           string
	// HandlerTimeout bounds a single event handler. Zero leaves it
	// unbounded.
	HandlerTimeout time.Duration
	// DrainTimeout bounds how long shutdown waits for drained handlers. It
	// is never shorter than HandlerTimeout.
	DrainTimeout       time.Duration
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.RetryOnFailedConnect == nil {
		retry := true
		o.RetryOnFailedConnect = &retry
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 30 * time.Second
	}
	o.DrainTimeout = max(o.DrainTimeout, o.HandlerTimeout)
	if o.QueueGroup == "" {
		o.QueueGroup = defaultQueueGroup
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) connectOptions() []nats.Option {
	logger := o.Logger
	return []nats.Option{
		nats.Name("welfare-scheme-portal"),
		nats.Timeout(o.ConnectTimeout),
		nats.ReconnectWait(o.ReconnectWait),
		nats.MaxReconnects(o.MaxReconnects),
		nats.RetryOnFailedConnect(*o.RetryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	}
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	options = options.withDefaults()
	conn, err := nats.Connect(url, options.connectOptions()...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		queueGroup:     options.QueueGroup,
		handlerTimeout: options.HandlerTimeout,
		drainTimeout:   options.DrainTimeout,
		executor:       options.ResilienceExecutor,
		logger:         options.Logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishStatusChanged(ctx context.Context, event domain.StatusChangedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	call := func(_ context.Context) error {
		msg := nats.NewMsg(statusSubject(q.subject, event.ToStatus))
		msg.Data = payload
		msg.Header.Set(nats.MsgIdHdr, event.EventID)
		msg.Header.Set(applicationIDHeader, event.ApplicationID)
		msg.Header.Set(applicationTypeHeader, string(event.ApplicationType))
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeStatusChanged blocks until ctx is cancelled, then drains the
// subscription: messages already delivered to the client are still handled
// and the call returns once the last handler is done. Handlers run on a
// context detached from ctx and bounded by the handler timeout.
func (q *Queue) SubscribeStatusChanged(ctx context.Context, handler func(context.Context, domain.StatusChangedEvent) error) error {
	base := context.WithoutCancel(ctx)
	sub, err := q.conn.QueueSubscribe(q.subject+".>", q.queueGroup, func(msg *nats.Msg) {
		handlerCtx, cancel := q.handlerContext(base)
		defer cancel()
		if err := dispatch(handlerCtx, msg.Data, handler); err != nil {
			q.logger.Error("status_event_handler_failed", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	pending, _, _ := sub.Pending()
	q.logger.Info("nats_draining", "subject", sub.Subject, "pending_messages", pending)
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := awaitDrained(sub.IsValid, q.drainTimeout, drainPollInterval); err != nil {
		return err
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// awaitDrained polls until the subscription reports itself closed, which
// the client does after the last drained message was handled.
func awaitDrained(active func() bool, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for active() {
		if time.Now().After(deadline) {
			return fmt.Errorf("nats drain subscription: handlers still running after %s", timeout)
		}
		time.Sleep(interval)
	}
	return nil
}

func (q *Queue) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.handlerTimeout > 0 {
		return context.WithTimeout(ctx, q.handlerTimeout)
	}
	return context.WithCancel(ctx)
}

func statusSubject(base string, status domain.ApplicationStatus) string {
	return base + "." + strings.ToLower(string(status))
}

func dispatch(ctx context.Context, data []byte, handler func(context.Context, domain.StatusChangedEvent) error) error {
	var event domain.StatusChangedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("decode status event: %w", err)
	}
	if event.ApplicationID == "" {
		return fmt.Errorf("decode status event: application_id is empty")
	}

	if err := handler(ctx, event); err != nil {
		return fmt.Errorf("application %s %s->%s: %w", event.ApplicationID, event.FromStatus, event.ToStatus, err)
	}
	return nil
}
