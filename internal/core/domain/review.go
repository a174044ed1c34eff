package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ReviewAction string

const (
	ActionApprove ReviewAction = "APPROVE"
	ActionReject  ReviewAction = "REJECT"
)

func ParseReviewAction(raw string) (ReviewAction, error) {
	a := ReviewAction(strings.ToUpper(strings.TrimSpace(raw)))
	switch a {
	case ActionApprove, ActionReject:
		return a, nil
	default:
		return "", validationf("parse review action", "unknown review action %q", raw)
	}
}

// StatusChangedEvent is published after every committed lifecycle change
// for the notification and payment collaborators.
type StatusChangedEvent struct {
	EventID         string            `json:"event_id"`
	ApplicationID   string            `json:"application_id"`
	BeneficiaryID   string            `json:"beneficiary_id"`
	ApplicationType ApplicationType   `json:"application_type"`
	FromStatus      ApplicationStatus `json:"from_status"`
	ToStatus        ApplicationStatus `json:"to_status"`
	AssignedOfficer string            `json:"assigned_officer,omitempty"`
	ApprovedAmount  *decimal.Decimal  `json:"approved_amount,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

func NewStatusChangedEvent(eventID string, from ApplicationStatus, app *Application, at time.Time) StatusChangedEvent {
	return StatusChangedEvent{
		EventID:         eventID,
		ApplicationID:   app.ApplicationID,
		BeneficiaryID:   app.BeneficiaryID,
		ApplicationType: app.ApplicationType,
		FromStatus:      from,
		ToStatus:        app.ApplicationStatus,
		AssignedOfficer: app.AssignedOfficer,
		ApprovedAmount:  app.ApprovedAmount,
		RejectionReason: app.RejectionReason,
		OccurredAt:      at,
	}
}
