package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

// PaymentService exposes the hooks the downstream payment process uses to
// move approved applications to PAYMENT_INITIATED and COMPLETED.
type PaymentService struct {
	mutator recordMutator
}

func NewPaymentService(repo ports.ApplicationRepository, events ports.EventPublisher, clock ports.Clock, logger *slog.Logger) *PaymentService {
	return &PaymentService{mutator: newRecordMutator(repo, events, clock, logger)}
}

func (s *PaymentService) InitiatePayment(ctx context.Context, applicationID, reference string) (*domain.Application, error) {
	return s.mutator.mutate(ctx, applicationID, mutation{
		operation: "initiate payment",
		actor:     "payment",
		remarks:   reference,
		apply: func(app *domain.Application, now time.Time) error {
			return app.InitiatePayment(reference, now)
		},
	})
}

func (s *PaymentService) CompletePayment(ctx context.Context, applicationID string) (*domain.Application, error) {
	return s.mutator.mutate(ctx, applicationID, mutation{
		operation: "complete payment",
		actor:     "payment",
		apply: func(app *domain.Application, now time.Time) error {
			return app.CompletePayment(now)
		},
	})
}
