package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ApplicationStatus string

const (
	StatusDraft            ApplicationStatus = "DRAFT"
	StatusSubmitted        ApplicationStatus = "SUBMITTED"
	StatusUnderReview      ApplicationStatus = "UNDER_REVIEW"
	StatusApproved         ApplicationStatus = "APPROVED"
	StatusRejected         ApplicationStatus = "REJECTED"
	StatusPaymentInitiated ApplicationStatus = "PAYMENT_INITIATED"
	StatusCompleted        ApplicationStatus = "COMPLETED"
)

var ApplicationStatuses = []ApplicationStatus{
	StatusDraft,
	StatusSubmitted,
	StatusUnderReview,
	StatusApproved,
	StatusRejected,
	StatusPaymentInitiated,
	StatusCompleted,
}

// PendingStatuses are the states an officer queue shows.
var PendingStatuses = []ApplicationStatus{StatusSubmitted, StatusUnderReview}

var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusDraft:            {StatusSubmitted},
	StatusSubmitted:        {StatusUnderReview, StatusApproved, StatusRejected},
	StatusUnderReview:      {StatusApproved, StatusRejected},
	StatusApproved:         {StatusPaymentInitiated},
	StatusPaymentInitiated: {StatusCompleted},
}

// rank orders statuses along the main path; REJECTED shares APPROVED's rank.
var rank = map[ApplicationStatus]int{
	StatusDraft:            0,
	StatusSubmitted:        1,
	StatusUnderReview:      2,
	StatusApproved:         3,
	StatusRejected:         3,
	StatusPaymentInitiated: 4,
	StatusCompleted:        5,
}

func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	s := ApplicationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", validationf("parse application status", "unknown application status %q", raw)
	}
	return s, nil
}

func (s ApplicationStatus) Valid() bool {
	_, ok := rank[s]
	return ok
}

func (s ApplicationStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

func (s ApplicationStatus) Pending() bool {
	return s == StatusSubmitted || s == StatusUnderReview
}

// Reached reports whether s is at or past target on the forward path.
func (s ApplicationStatus) Reached(target ApplicationStatus) bool {
	return s.Valid() && target.Valid() && rank[s] >= rank[target]
}

// CarriesAmount reports whether a record in s must hold an approved amount.
func (s ApplicationStatus) CarriesAmount() bool {
	return s == StatusApproved || s == StatusPaymentInitiated || s == StatusCompleted
}

func CanTransition(from, to ApplicationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (a *Application) moveTo(operation string, to ApplicationStatus, now time.Time) error {
	if !CanTransition(a.ApplicationStatus, to) {
		return transitionf(operation, "cannot move %s from %s to %s", a.ApplicationID, a.ApplicationStatus, to)
	}
	a.ApplicationStatus = to
	a.UpdatedAt = now
	return nil
}

func (a *Application) Submit(now time.Time) error {
	if err := a.moveTo("submit", StatusSubmitted, now); err != nil {
		return err
	}
	a.SubmittedAt = &now
	return nil
}

// Assign routes a pending application to an officer without changing its status.
func (a *Application) Assign(officerID string, now time.Time) error {
	officerID = strings.TrimSpace(officerID)
	if officerID == "" {
		return validationf("assign", "officer_id is required")
	}
	if !a.ApplicationStatus.Pending() {
		return transitionf("assign", "cannot assign %s in status %s", a.ApplicationID, a.ApplicationStatus)
	}
	a.AssignedOfficer = officerID
	a.UpdatedAt = now
	return nil
}

func (a *Application) BeginReview(now time.Time) error {
	return a.moveTo("begin review", StatusUnderReview, now)
}

// AuthorizeReviewer checks the caller against the assigned officer and
// self-assigns when the record is unassigned and allowSelfAssign is set.
func (a *Application) AuthorizeReviewer(officerID string, allowSelfAssign bool) error {
	officerID = strings.TrimSpace(officerID)
	if officerID == "" {
		return WrapError(ErrForbidden, "authorize reviewer", errors.New("officer id is required"))
	}
	switch {
	case a.AssignedOfficer == officerID:
		return nil
	case a.AssignedOfficer == "" && allowSelfAssign:
		a.AssignedOfficer = officerID
		return nil
	case a.AssignedOfficer == "":
		return WrapError(ErrForbidden, "authorize reviewer", errors.New("application is unassigned and self-assignment is disabled"))
	default:
		return WrapError(ErrForbidden, "authorize reviewer", errors.New("application is assigned to another officer"))
	}
}

func (a *Application) Approve(amount decimal.Decimal, now time.Time) error {
	if amount.IsNegative() {
		return validationf("approve", "approved amount must be non-negative, got %s", amount.String())
	}
	if err := a.moveTo("approve", StatusApproved, now); err != nil {
		return err
	}
	a.ApprovedAmount = &amount
	a.ReviewedAt = &now
	return nil
}

func (a *Application) Reject(remarks string, now time.Time) error {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return WrapError(ErrMissingRemarks, "reject", errors.New("remarks are empty"))
	}
	if err := a.moveTo("reject", StatusRejected, now); err != nil {
		return err
	}
	a.RejectionReason = remarks
	a.ReviewedAt = &now
	return nil
}

func (a *Application) InitiatePayment(reference string, now time.Time) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return validationf("initiate payment", "payment reference is required")
	}
	if err := a.moveTo("initiate payment", StatusPaymentInitiated, now); err != nil {
		return err
	}
	a.PaymentReference = reference
	a.PaymentInitiatedAt = &now
	return nil
}

func (a *Application) CompletePayment(now time.Time) error {
	if err := a.moveTo("complete payment", StatusCompleted, now); err != nil {
		return err
	}
	a.CompletedAt = &now
	return nil
}

// UnverifiedMandatory lists mandatory document types that are missing
// or not yet VERIFIED on the application.
func (a *Application) UnverifiedMandatory(mandatory []string) []string {
	verified := make(map[string]bool, len(a.Documents))
	for _, doc := range a.Documents {
		if doc.VerificationStatus == VerificationVerified {
			verified[strings.ToUpper(doc.DocumentType)] = true
		}
	}
	var missing []string
	for _, docType := range mandatory {
		if !verified[strings.ToUpper(docType)] {
			missing = append(missing, docType)
		}
	}
	return missing
}
