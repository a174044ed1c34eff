package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

// externalVerifier is recorded as the actor of document-locker results.
const externalVerifier = "document-locker"

type ReviewServiceDeps struct {
	Repo            ports.ApplicationRepository
	Policy          ports.DocumentPolicy
	Verifier        ports.DocumentVerifier
	Events          ports.EventPublisher
	Clock           ports.Clock
	Logger          *slog.Logger
	AllowSelfAssign bool
}

// ReviewService implements the officer-side transitions. It never retries
// a decision: callers re-read the record and issue a new one.
type ReviewService struct {
	repo            ports.ApplicationRepository
	policy          ports.DocumentPolicy
	verifier        ports.DocumentVerifier
	mutator         recordMutator
	allowSelfAssign bool
}

func NewReviewService(deps ReviewServiceDeps) *ReviewService {
	return &ReviewService{
		repo:            deps.Repo,
		policy:          deps.Policy,
		verifier:        deps.Verifier,
		mutator:         newRecordMutator(deps.Repo, deps.Events, deps.Clock, deps.Logger),
		allowSelfAssign: deps.AllowSelfAssign,
	}
}

func (s *ReviewService) Assign(ctx context.Context, applicationID, officerID string) (*domain.Application, error) {
	return s.mutator.mutate(ctx, applicationID, mutation{
		operation: "assign officer",
		actor:     officerID,
		apply: func(app *domain.Application, now time.Time) error {
			return app.Assign(officerID, now)
		},
	})
}

func (s *ReviewService) BeginReview(ctx context.Context, applicationID, officerID string) (*domain.Application, error) {
	return s.mutator.mutate(ctx, applicationID, mutation{
		operation: "begin review",
		actor:     officerID,
		apply: func(app *domain.Application, now time.Time) error {
			if app.ApplicationStatus != domain.StatusSubmitted {
				return domain.WrapError(domain.ErrInvalidTransition, "begin review",
					fmt.Errorf("%s is %s, expected %s", app.ApplicationID, app.ApplicationStatus, domain.StatusSubmitted))
			}
			if err := app.AuthorizeReviewer(officerID, s.allowSelfAssign); err != nil {
				return err
			}
			return app.BeginReview(now)
		},
	})
}

func (s *ReviewService) Decide(ctx context.Context, in ports.DecideInput) (*domain.Application, error) {
	const op = "decide application"
	switch in.Action {
	case domain.ActionReject:
		if strings.TrimSpace(in.Remarks) == "" {
			return nil, domain.WrapError(domain.ErrMissingRemarks, op, errors.New("remarks are required to reject"))
		}
	case domain.ActionApprove:
		if in.Amount == nil {
			return nil, domain.WrapError(domain.ErrValidation, op, errors.New("amount is required to approve"))
		}
		if in.Amount.IsNegative() {
			return nil, domain.WrapError(domain.ErrValidation, op, fmt.Errorf("amount must be non-negative, got %s", in.Amount.String()))
		}
	default:
		return nil, domain.WrapError(domain.ErrValidation, op, fmt.Errorf("unknown action %q", in.Action))
	}

	return s.mutator.mutate(ctx, in.ApplicationID, mutation{
		operation: op,
		actor:     in.OfficerID,
		remarks:   strings.TrimSpace(in.Remarks),
		apply: func(app *domain.Application, now time.Time) error {
			if !app.ApplicationStatus.Pending() {
				return domain.WrapError(domain.ErrInvalidTransition, op,
					fmt.Errorf("%s is %s, decisions require SUBMITTED or UNDER_REVIEW", app.ApplicationID, app.ApplicationStatus))
			}
			if err := app.AuthorizeReviewer(in.OfficerID, s.allowSelfAssign); err != nil {
				return err
			}
			if in.Action == domain.ActionReject {
				return app.Reject(in.Remarks, now)
			}
			if missing := app.UnverifiedMandatory(s.mandatory(app.ApplicationType)); len(missing) > 0 {
				return domain.WrapError(domain.ErrDocumentsUnverified, op,
					fmt.Errorf("%s requires verified %s", app.ApplicationID, strings.Join(missing, ", ")))
			}
			return app.Approve(*in.Amount, now)
		},
	})
}

func (s *ReviewService) mandatory(t domain.ApplicationType) []string {
	if s.policy == nil {
		return nil
	}
	return s.policy.MandatoryDocuments(t)
}

func (s *ReviewService) VerifyDocument(ctx context.Context, in ports.VerifyDocumentInput) (*domain.Application, error) {
	const op = "verify document"
	return s.mutator.mutate(ctx, in.ApplicationID, mutation{
		operation: op,
		actor:     in.VerifiedBy,
		apply: func(app *domain.Application, now time.Time) error {
			if err := requireReviewable(op, app); err != nil {
				return err
			}
			if in.Index < 0 || in.Index >= len(app.Documents) {
				return domain.WrapError(domain.ErrValidation, op,
					fmt.Errorf("document index %d out of range (application has %d documents)", in.Index, len(app.Documents)))
			}
			return app.Documents[in.Index].Verify(in.Status, in.VerifiedBy, in.Remarks, now)
		},
	})
}

func (s *ReviewService) VerifyMarriageRegistration(ctx context.Context, applicationID string, status domain.VerificationStatus, officerID string) (*domain.Application, error) {
	const op = "verify marriage registration"
	return s.mutator.mutate(ctx, applicationID, mutation{
		operation: op,
		actor:     officerID,
		apply: func(app *domain.Application, _ time.Time) error {
			if err := requireReviewable(op, app); err != nil {
				return err
			}
			if app.MarriageDetails == nil {
				return domain.WrapError(domain.ErrValidation, op,
					fmt.Errorf("%s is a %s application without marriage details", app.ApplicationID, app.ApplicationType))
			}
			return app.MarriageDetails.VerifyRegistration(status)
		},
	})
}

// RunExternalVerification asks the document locker about every pending
// document and records the settled answers. Lookup failures are reported
// after the settled answers are persisted.
func (s *ReviewService) RunExternalVerification(ctx context.Context, applicationID string) (*domain.Application, error) {
	const op = "external document verification"
	if s.verifier == nil {
		return nil, fmt.Errorf("%s: verifier is not configured", op)
	}
	current, err := s.repo.GetByID(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("%s: load application: %w", op, err)
	}
	if err := requireReviewable(op, current); err != nil {
		return nil, err
	}

	type outcome struct {
		status  domain.VerificationStatus
		remarks string
	}
	settled := make(map[int]outcome)
	var lookupErrs []error
	for i, doc := range current.Documents {
		if doc.VerificationStatus != domain.VerificationPending {
			continue
		}
		status, remarks, err := s.verifier.Verify(ctx, current, doc)
		if err != nil {
			lookupErrs = append(lookupErrs, fmt.Errorf("document %d (%s): %w", i, doc.DocumentType, err))
			continue
		}
		if status == domain.VerificationVerified || status == domain.VerificationRejected {
			settled[i] = outcome{status: status, remarks: remarks}
		}
	}

	result := current
	if len(settled) > 0 {
		result, err = s.mutator.mutateLoaded(ctx, current, mutation{
			operation: op,
			actor:     externalVerifier,
			apply: func(app *domain.Application, now time.Time) error {
				for i, out := range settled {
					if err := app.Documents[i].Verify(out.status, externalVerifier, out.remarks, now); err != nil {
						return err
					}
				}
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
	}
	if len(lookupErrs) > 0 {
		return result, fmt.Errorf("%s: %w", op, errors.Join(lookupErrs...))
	}
	return result, nil
}

func requireReviewable(operation string, app *domain.Application) error {
	if app.ApplicationStatus == domain.StatusDraft || app.ApplicationStatus.Terminal() {
		return domain.WrapError(domain.ErrInvalidTransition, operation,
			fmt.Errorf("%s is %s", app.ApplicationID, app.ApplicationStatus))
	}
	return nil
}
