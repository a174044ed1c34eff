package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/welfare-scheme-portal/internal/config"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

func sampleApplication(status domain.ApplicationStatus) *domain.Application {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &domain.Application{
		ApplicationID:     "ATR_2026_000001",
		BeneficiaryID:     "B-17",
		ApplicationType:   domain.TypeAtrocityRelief,
		ApplicationStatus: status,
		ApplicationReason: domain.TypeAtrocityRelief.DefaultReason(),
		Documents:         []domain.DocumentUpload{},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

type submissionsFake struct {
	err error

	created  ports.CreateApplicationInput
	attached ports.AttachDocumentInput
	body     []byte
}

func (f *submissionsFake) Create(_ context.Context, in ports.CreateApplicationInput) (*domain.Application, error) {
	f.created = in
	if f.err != nil {
		return nil, f.err
	}
	app := sampleApplication(domain.StatusDraft)
	app.ApplicationType = in.ApplicationType
	app.BeneficiaryID = in.BeneficiaryID
	return app, nil
}

func (f *submissionsFake) AttachDocument(_ context.Context, in ports.AttachDocumentInput) (*domain.Application, error) {
	f.attached = in
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = raw
	if f.err != nil {
		return nil, f.err
	}
	app := sampleApplication(domain.StatusDraft)
	app.Documents = append(app.Documents, domain.DocumentUpload{
		DocumentType:       in.DocumentType,
		FileName:           in.FileName,
		FileURL:            "file:///uploads/" + in.FileName,
		VerificationStatus: domain.VerificationPending,
	})
	return app, nil
}

func (f *submissionsFake) Submit(context.Context, string) (*domain.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	return sampleApplication(domain.StatusSubmitted), nil
}

type reviewsFake struct {
	err error

	decided  ports.DecideInput
	verified ports.VerifyDocumentInput
	officer  string
}

func (f *reviewsFake) Assign(_ context.Context, _ string, officerID string) (*domain.Application, error) {
	f.officer = officerID
	if f.err != nil {
		return nil, f.err
	}
	app := sampleApplication(domain.StatusSubmitted)
	app.AssignedOfficer = officerID
	return app, nil
}

func (f *reviewsFake) BeginReview(_ context.Context, _ string, officerID string) (*domain.Application, error) {
	f.officer = officerID
	if f.err != nil {
		return nil, f.err
	}
	return sampleApplication(domain.StatusUnderReview), nil
}

func (f *reviewsFake) Decide(_ context.Context, in ports.DecideInput) (*domain.Application, error) {
	f.decided = in
	if f.err != nil {
		return nil, f.err
	}
	app := sampleApplication(domain.StatusApproved)
	app.ApprovedAmount = in.Amount
	return app, nil
}

func (f *reviewsFake) VerifyDocument(_ context.Context, in ports.VerifyDocumentInput) (*domain.Application, error) {
	f.verified = in
	if f.err != nil {
		return nil, f.err
	}
	return sampleApplication(domain.StatusUnderReview), nil
}

func (f *reviewsFake) VerifyMarriageRegistration(_ context.Context, _ string, _ domain.VerificationStatus, officerID string) (*domain.Application, error) {
	f.officer = officerID
	if f.err != nil {
		return nil, f.err
	}
	return sampleApplication(domain.StatusUnderReview), nil
}

func (f *reviewsFake) RunExternalVerification(context.Context, string) (*domain.Application, error) {
	return nil, f.err
}

type paymentsFake struct {
	err       error
	reference string
}

func (f *paymentsFake) InitiatePayment(_ context.Context, _ string, reference string) (*domain.Application, error) {
	f.reference = reference
	if f.err != nil {
		return nil, f.err
	}
	app := sampleApplication(domain.StatusPaymentInitiated)
	amount := decimal.NewFromInt(200000)
	app.ApprovedAmount = &amount
	app.PaymentReference = reference
	return app, nil
}

func (f *paymentsFake) CompletePayment(context.Context, string) (*domain.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	return sampleApplication(domain.StatusCompleted), nil
}

type readsFake struct {
	err           error
	counts        []domain.StatusCount
	pendingFilter string
}

func (f *readsFake) Get(_ context.Context, id string) (*domain.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	app := sampleApplication(domain.StatusSubmitted)
	app.ApplicationID = id
	return app, nil
}

func (f *readsFake) FindByBeneficiary(context.Context, string) ([]domain.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Application{*sampleApplication(domain.StatusDraft)}, nil
}

func (f *readsFake) FindPending(context.Context) ([]domain.Application, error) {
	f.pendingFilter = "*"
	return []domain.Application{*sampleApplication(domain.StatusSubmitted)}, f.err
}

func (f *readsFake) FindPendingByOfficer(_ context.Context, officerID string) ([]domain.Application, error) {
	f.pendingFilter = officerID
	return []domain.Application{}, f.err
}

func (f *readsFake) Stats(context.Context) ([]domain.StatusCount, error) {
	return f.counts, f.err
}

func (f *readsFake) History(context.Context, string) ([]domain.StatusChange, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.StatusChange{{ApplicationID: "ATR_2026_000001", ToStatus: domain.StatusSubmitted}}, nil
}

func (f *readsFake) OpenDocument(_ context.Context, _ string, index int) (domain.DocumentUpload, io.ReadCloser, error) {
	if f.err != nil {
		return domain.DocumentUpload{}, nil, f.err
	}
	if index != 0 {
		return domain.DocumentUpload{}, nil, domain.WrapError(domain.ErrNotFound, "open document", errors.New("no such document"))
	}
	doc := domain.DocumentUpload{DocumentType: "FIR_COPY", FileName: "fir copy.pdf"}
	return doc, io.NopCloser(strings.NewReader("%PDF-1.4 fir")), nil
}

type metricsFake struct {
	limited     int
	transitions []string
	decisions   []string
	uploads     int
}

func (m *metricsFake) Middleware(next http.Handler) http.Handler { return next }
func (m *metricsFake) RecordRateLimited() { m.limited++ }
func (m *metricsFake) RecordTransition(_, toStatus string) {
	m.transitions = append(m.transitions, toStatus)
}
func (m *metricsFake) RecordDecision(action, outcome string) {
	m.decisions = append(m.decisions, action+":"+outcome)
}
func (m *metricsFake) RecordUpload(string, int64) { m.uploads++ }

type routerFixture struct {
	submissions *submissionsFake
	reviews     *reviewsFake
	payments    *paymentsFake
	reads       *readsFake
	metrics     *metricsFake
	handler     http.Handler
}

func newRouterFixture(t *testing.T, cfg config.Config) *routerFixture {
	t.Helper()
	f := &routerFixture{
		submissions: &submissionsFake{},
		reviews:     &reviewsFake{},
		payments:    &paymentsFake{},
		reads:       &readsFake{},
		metrics:     &metricsFake{},
	}
	router, err := NewRouter(context.Background(), cfg, RouterDeps{
		Submissions: f.submissions,
		Reviews:     f.reviews,
		Payments:    f.payments,
		Reads:       f.reads,
		Metrics:     f.metrics,
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	f.handler = router.Handler()
	return f
}
