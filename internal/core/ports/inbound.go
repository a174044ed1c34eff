package ports

import (
	"context"
	"io"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

// CreateApplicationInput carries the scheme details as raw JSON in Payload.
type CreateApplicationInput struct {
	ApplicationID     string
	BeneficiaryID     string
	ApplicationType   domain.ApplicationType
	ApplicationReason string
	Payload           []byte
}

type AttachDocumentInput struct {
	ApplicationID string
	DocumentType  string
	FileName      string
	ContentType   string
	Body          io.Reader
}

type DecideInput struct {
	ApplicationID string
	OfficerID     string
	Action        domain.ReviewAction
	Remarks       string
	Amount        *decimal.Decimal
}

type VerifyDocumentInput struct {
	ApplicationID string
	Index         int
	Status        domain.VerificationStatus
	VerifiedBy    string
	Remarks       string
}

// ApplicationSubmission is the inbound contract of the beneficiary-facing flow.
type ApplicationSubmission interface {
	Create(ctx context.Context, in CreateApplicationInput) (*domain.Application, error)
	AttachDocument(ctx context.Context, in AttachDocumentInput) (*domain.Application, error)
	Submit(ctx context.Context, applicationID string) (*domain.Application, error)
}

// ApplicationReader is the read model for listings and dashboards.
type ApplicationReader interface {
	Get(ctx context.Context, applicationID string) (*domain.Application, error)
	FindByBeneficiary(ctx context.Context, beneficiaryID string) ([]domain.Application, error)
	FindPending(ctx context.Context) ([]domain.Application, error)
	FindPendingByOfficer(ctx context.Context, officerID string) ([]domain.Application, error)
	Stats(ctx context.Context) ([]domain.StatusCount, error)
	History(ctx context.Context, applicationID string) ([]domain.StatusChange, error)
	OpenDocument(ctx context.Context, applicationID string, index int) (domain.DocumentUpload, io.ReadCloser, error)
}

// ReviewWorkflow is the inbound contract of the officer-facing flow.
type ReviewWorkflow interface {
	Assign(ctx context.Context, applicationID, officerID string) (*domain.Application, error)
	BeginReview(ctx context.Context, applicationID, officerID string) (*domain.Application, error)
	Decide(ctx context.Context, in DecideInput) (*domain.Application, error)
	VerifyDocument(ctx context.Context, in VerifyDocumentInput) (*domain.Application, error)
	VerifyMarriageRegistration(ctx context.Context, applicationID string, status domain.VerificationStatus, officerID string) (*domain.Application, error)
	RunExternalVerification(ctx context.Context, applicationID string) (*domain.Application, error)
}

// PaymentTracker moves approved applications through the payment states.
type PaymentTracker interface {
	InitiatePayment(ctx context.Context, applicationID, reference string) (*domain.Application, error)
	CompletePayment(ctx context.Context, applicationID string) (*domain.Application, error)
}
