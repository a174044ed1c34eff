package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ApplicationType string

const (
	TypeAtrocityRelief     ApplicationType = "ATROCITY_RELIEF"
	TypeIntercasteMarriage ApplicationType = "INTERCASTE_MARRIAGE"
)

var ApplicationTypes = []ApplicationType{TypeAtrocityRelief, TypeIntercasteMarriage}

func ParseApplicationType(raw string) (ApplicationType, error) {
	t := ApplicationType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case TypeAtrocityRelief, TypeIntercasteMarriage:
		return t, nil
	default:
		return "", validationf("parse application type", "unknown application type %q", raw)
	}
}

// IDPrefix is the scheme prefix of generated application ids.
func (t ApplicationType) IDPrefix() string {
	switch t {
	case TypeAtrocityRelief:
		return "ATR"
	case TypeIntercasteMarriage:
		return "MAR"
	default:
		return ""
	}
}

// DefaultReason is the application reason used when the beneficiary leaves it blank.
func (t ApplicationType) DefaultReason() string {
	switch t {
	case TypeAtrocityRelief:
		return "Relief compensation for atrocity victim"
	case TypeIntercasteMarriage:
		return "Financial assistance for intercaste marriage"
	default:
		return ""
	}
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
	VerificationInvalid  VerificationStatus = "INVALID"
)

type DocumentUpload struct {
	DocumentType       string             `json:"document_type"`
	FileName           string             `json:"file_name"`
	FileURL            string             `json:"file_url"`
	StorageKey         string             `json:"storage_key,omitempty"`
	UploadedAt         time.Time          `json:"uploaded_at"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerifiedBy         string             `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	Remarks            string             `json:"remarks,omitempty"`
}

// Verify settles a pending document as VERIFIED or REJECTED.
func (d *DocumentUpload) Verify(status VerificationStatus, by, remarks string, now time.Time) error {
	if status != VerificationVerified && status != VerificationRejected {
		return validationf("verify document", "unsupported document verification status %q", status)
	}
	if d.VerificationStatus != VerificationPending {
		return transitionf("verify document", "document %s is already %s", d.DocumentType, d.VerificationStatus)
	}
	d.VerificationStatus = status
	d.VerifiedBy = by
	d.VerifiedAt = &now
	d.Remarks = strings.TrimSpace(remarks)
	return nil
}

type AtrocityDetails struct {
	FIRNumber        string `json:"fir_number"`
	PoliceStation    string `json:"police_station"`
	District         string `json:"district"`
	IncidentDate     Date   `json:"incident_date"`
	AtrocityCategory string `json:"atrocity_category"`
	Description      string `json:"description,omitempty"`
}

type MarriageDetails struct {
	SpouseName           string             `json:"spouse_name"`
	SpouseCasteCategory  string             `json:"spouse_caste_category"`
	MarriageDate         Date               `json:"marriage_date"`
	RegistrationID       string             `json:"registration_id"`
	RegisteringAuthority string             `json:"registering_authority"`
	VerificationStatus   VerificationStatus `json:"verification_status"`
}

// VerifyRegistration settles the marriage registration as VERIFIED or INVALID.
func (m *MarriageDetails) VerifyRegistration(status VerificationStatus) error {
	if status != VerificationVerified && status != VerificationInvalid {
		return validationf("verify marriage registration", "unsupported registration status %q", status)
	}
	if m.VerificationStatus != VerificationPending {
		return transitionf("verify marriage registration", "registration is already %s", m.VerificationStatus)
	}
	m.VerificationStatus = status
	return nil
}

type Application struct {
	ApplicationID      string            `json:"application_id"`
	BeneficiaryID      string            `json:"beneficiary_id"`
	ApplicationType    ApplicationType   `json:"application_type"`
	ApplicationStatus  ApplicationStatus `json:"application_status"`
	AssignedOfficer    string            `json:"assigned_officer,omitempty"`
	SubmittedAt        *time.Time        `json:"submitted_at,omitempty"`
	ReviewedAt         *time.Time        `json:"reviewed_at,omitempty"`
	ApprovedAmount     *decimal.Decimal  `json:"approved_amount,omitempty"`
	RejectionReason    string            `json:"rejection_reason,omitempty"`
	ApplicationReason  string            `json:"application_reason"`
	Documents          []DocumentUpload  `json:"documents_uploaded"`
	AtrocityDetails    *AtrocityDetails  `json:"atrocity_details,omitempty"`
	MarriageDetails    *MarriageDetails  `json:"marriage_details,omitempty"`
	PaymentReference   string            `json:"payment_reference,omitempty"`
	PaymentInitiatedAt *time.Time        `json:"payment_initiated_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	Version            int64             `json:"version"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate a candidate state
// without touching the record they read.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	out := *a
	out.SubmittedAt = cloneTime(a.SubmittedAt)
	out.ReviewedAt = cloneTime(a.ReviewedAt)
	out.PaymentInitiatedAt = cloneTime(a.PaymentInitiatedAt)
	out.CompletedAt = cloneTime(a.CompletedAt)
	if a.ApprovedAmount != nil {
		amount := *a.ApprovedAmount
		out.ApprovedAmount = &amount
	}
	if a.Documents != nil {
		out.Documents = make([]DocumentUpload, len(a.Documents))
		for i, doc := range a.Documents {
			doc.VerifiedAt = cloneTime(doc.VerifiedAt)
			out.Documents[i] = doc
		}
	}
	if a.AtrocityDetails != nil {
		details := *a.AtrocityDetails
		out.AtrocityDetails = &details
	}
	if a.MarriageDetails != nil {
		details := *a.MarriageDetails
		out.MarriageDetails = &details
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ValidatePayload checks that exactly the payload variant selected by
// ApplicationType is present and carries its required fields.
func (a *Application) ValidatePayload() error {
	const op = "validate payload"
	switch a.ApplicationType {
	case TypeAtrocityRelief:
		if a.MarriageDetails != nil {
			return validationf(op, "marriage_details not allowed for %s", a.ApplicationType)
		}
		d := a.AtrocityDetails
		if d == nil {
			return validationf(op, "atrocity_details is required")
		}
		if strings.TrimSpace(d.FIRNumber) == "" || strings.TrimSpace(d.PoliceStation) == "" || strings.TrimSpace(d.District) == "" {
			return validationf(op, "fir_number, police_station and district are required")
		}
		if d.IncidentDate.IsZero() {
			return validationf(op, "incident_date is required")
		}
	case TypeIntercasteMarriage:
		if a.AtrocityDetails != nil {
			return validationf(op, "atrocity_details not allowed for %s", a.ApplicationType)
		}
		d := a.MarriageDetails
		if d == nil {
			return validationf(op, "marriage_details is required")
		}
		if strings.TrimSpace(d.SpouseName) == "" || strings.TrimSpace(d.RegistrationID) == "" || strings.TrimSpace(d.RegisteringAuthority) == "" {
			return validationf(op, "spouse_name, registration_id and registering_authority are required")
		}
		if d.MarriageDate.IsZero() {
			return validationf(op, "marriage_date is required")
		}
		switch d.VerificationStatus {
		case VerificationPending, VerificationVerified, VerificationInvalid:
		default:
			return validationf(op, "unknown registration verification status %q", d.VerificationStatus)
		}
	default:
		return validationf(op, "unknown application type %q", a.ApplicationType)
	}
	return nil
}

// CheckInvariants reports the first violated record invariant.
func (a *Application) CheckInvariants() error {
	const op = "check invariants"
	if strings.TrimSpace(a.BeneficiaryID) == "" {
		return validationf(op, "beneficiary_id is required")
	}
	if err := ValidateApplicationID(a.ApplicationType, a.ApplicationID); err != nil {
		return err
	}
	if !a.ApplicationStatus.Valid() {
		return validationf(op, "unknown status %q", a.ApplicationStatus)
	}
	if (a.ApplicationStatus == StatusRejected) != (strings.TrimSpace(a.RejectionReason) != "") {
		return validationf(op, "rejection_reason must be set iff status is REJECTED (status=%s)", a.ApplicationStatus)
	}
	if a.ApplicationStatus.CarriesAmount() != (a.ApprovedAmount != nil) {
		return validationf(op, "approved_amount presence does not match status %s", a.ApplicationStatus)
	}
	if a.ApprovedAmount != nil && a.ApprovedAmount.IsNegative() {
		return validationf(op, "approved_amount must be non-negative")
	}
	if a.ApplicationStatus.Reached(StatusSubmitted) != (a.SubmittedAt != nil) {
		return validationf(op, "submitted_at presence does not match status %s", a.ApplicationStatus)
	}
	if a.ApplicationStatus == StatusDraft && a.AssignedOfficer != "" {
		return validationf(op, "draft application cannot be assigned")
	}
	return a.ValidatePayload()
}

var applicationIDPattern = regexp.MustCompile(`^([A-Z]{3})_(\d{4})_(\d{6})$`)

const maxSequence = 999999

// FormatApplicationID renders the canonical <PREFIX>_<YYYY>_<NNNNNN> id.
func FormatApplicationID(t ApplicationType, year int, seq int64) (string, error) {
	prefix := t.IDPrefix()
	if prefix == "" {
		return "", validationf("format application id", "unknown application type %q", t)
	}
	if seq <= 0 || seq > maxSequence {
		return "", validationf("format application id", "sequence %d out of range for %s_%d", seq, prefix, year)
	}
	return fmt.Sprintf("%s_%04d_%06d", prefix, year, seq), nil
}

// ValidateApplicationID enforces the scheme-specific id format.
func ValidateApplicationID(t ApplicationType, id string) error {
	m := applicationIDPattern.FindStringSubmatch(id)
	if m == nil {
		return validationf("validate application id", "application id %q does not match <PREFIX>_YYYY_NNNNNN", id)
	}
	if m[1] != t.IDPrefix() {
		return validationf("validate application id", "application id %q must use prefix %s_ for %s", id, t.IDPrefix(), t)
	}
	return nil
}

type StatusCount struct {
	ApplicationType   ApplicationType   `json:"application_type"`
	ApplicationStatus ApplicationStatus `json:"application_status"`
	Count             int64             `json:"count"`
}

// StatusChange is one row of the application audit trail.
type StatusChange struct {
	ApplicationID string            `json:"application_id"`
	FromStatus    ApplicationStatus `json:"from_status,omitempty"`
	ToStatus      ApplicationStatus `json:"to_status"`
	ChangedBy     string            `json:"changed_by,omitempty"`
	Remarks       string            `json:"remarks,omitempty"`
	ChangedAt     time.Time         `json:"changed_at"`
}
