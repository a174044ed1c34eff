package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

type ApplicationRepository struct {
	store
}

func NewApplicationRepository(db *sql.DB, options Options) *ApplicationRepository {
	return &ApplicationRepository{store: newStore(db, options)}
}

func (r *ApplicationRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026031901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS applications (
	application_id TEXT PRIMARY KEY,
	beneficiary_id TEXT NOT NULL,
	application_type TEXT NOT NULL,
	application_status TEXT NOT NULL,
	assigned_officer TEXT,
	submitted_at TIMESTAMPTZ,
	reviewed_at TIMESTAMPTZ,
	approved_amount NUMERIC(14,2) CHECK (approved_amount >= 0),
	rejection_reason TEXT,
	application_reason TEXT NOT NULL,
	documents_uploaded JSONB NOT NULL DEFAULT '[]'::jsonb,
	scheme_details JSONB NOT NULL,
	payment_reference TEXT,
	payment_initiated_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_status_submitted ON applications(application_status, submitted_at);
CREATE INDEX IF NOT EXISTS idx_applications_officer_status ON applications(assigned_officer, application_status);
CREATE INDEX IF NOT EXISTS idx_applications_beneficiary_created ON applications(beneficiary_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_applications_type_status ON applications(application_type, application_status);

CREATE TABLE IF NOT EXISTS application_status_history (
	id BIGSERIAL PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(application_id),
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	changed_by TEXT NOT NULL DEFAULT '',
	remarks TEXT NOT NULL DEFAULT '',
	changed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_application_status_history_app ON application_status_history(application_id, changed_at);

CREATE TABLE IF NOT EXISTS application_id_counters (
	prefix TEXT NOT NULL,
	year INT NOT NULL,
	last_value BIGINT NOT NULL,
	PRIMARY KEY (prefix, year)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const applicationColumns = `application_id, beneficiary_id, application_type, application_status, assigned_officer,
	submitted_at, reviewed_at, approved_amount, rejection_reason, application_reason, documents_uploaded,
	scheme_details, payment_reference, payment_initiated_at, completed_at, version, created_at, updated_at`

func (r *ApplicationRepository) Create(ctx context.Context, app *domain.Application) error {
	if err := app.CheckInvariants(); err != nil {
		return err
	}
	docs, details, err := encodeJSONColumns(app)
	if err != nil {
		return err
	}

	err = r.run(ctx, "create application", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO applications (`+applicationColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`,
			app.ApplicationID, app.BeneficiaryID, string(app.ApplicationType), string(app.ApplicationStatus),
			nullString(app.AssignedOfficer), app.SubmittedAt, app.ReviewedAt, nullDecimal(app.ApprovedAmount),
			nullString(app.RejectionReason), app.ApplicationReason, docs, details,
			nullString(app.PaymentReference), app.PaymentInitiatedAt, app.CompletedAt, int64(1), app.CreatedAt, app.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return err
	}
	app.Version = 1
	return nil
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*domain.Application, error) {
	var app domain.Application
	err := r.run(ctx, "get application", func(ctx context.Context) error {
		row := r.db.QueryRowContext(ctx, `
SELECT `+applicationColumns+`
FROM applications
WHERE application_id = $1
`, id)
		scanned, err := scanApplication(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.WrapError(domain.ErrNotFound, "get application", fmt.Errorf("id=%s", id))
			}
			return err
		}
		app = scanned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// Update writes app only if the stored row still has expectedVersion and
// expectedStatus. The status history row is inserted in the same transaction.
func (r *ApplicationRepository) Update(ctx context.Context, app *domain.Application, expectedVersion int64, expectedStatus domain.ApplicationStatus, change *domain.StatusChange) error {
	if err := app.CheckInvariants(); err != nil {
		return err
	}
	docs, details, err := encodeJSONColumns(app)
	if err != nil {
		return err
	}

	err = r.run(ctx, "update application", func(ctx context.Context) error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback()
		}()

		result, err := tx.ExecContext(ctx, `
UPDATE applications
SET application_status = $4, assigned_officer = $5, submitted_at = $6, reviewed_at = $7, approved_amount = $8,
	rejection_reason = $9, application_reason = $10, documents_uploaded = $11, scheme_details = $12,
	payment_reference = $13, payment_initiated_at = $14, completed_at = $15, updated_at = $16, version = version + 1
WHERE application_id = $1 AND version = $2 AND application_status = $3
`,
			app.ApplicationID, expectedVersion, string(expectedStatus),
			string(app.ApplicationStatus), nullString(app.AssignedOfficer), app.SubmittedAt, app.ReviewedAt,
			nullDecimal(app.ApprovedAmount), nullString(app.RejectionReason), app.ApplicationReason, docs, details,
			nullString(app.PaymentReference), app.PaymentInitiatedAt, app.CompletedAt, app.UpdatedAt,
		)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update application rows affected: %w", err)
		}
		if rows == 0 {
			return r.conflictOrMissing(ctx, tx, app.ApplicationID)
		}

		if change != nil {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO application_status_history (application_id, from_status, to_status, changed_by, remarks, changed_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, change.ApplicationID, string(change.FromStatus), string(change.ToStatus), change.ChangedBy, change.Remarks, change.ChangedAt); err != nil {
				return fmt.Errorf("insert status history: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	app.Version = expectedVersion + 1
	return nil
}

func (r *ApplicationRepository) conflictOrMissing(ctx context.Context, tx *sql.Tx, id string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM applications WHERE application_id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check application existence: %w", err)
	}
	if !exists {
		return domain.WrapError(domain.ErrNotFound, "update application", fmt.Errorf("id=%s", id))
	}
	return domain.WrapError(domain.ErrInvalidTransition, "update application",
		fmt.Errorf("%s was changed by a concurrent writer", id))
}

func (r *ApplicationRepository) ListByBeneficiary(ctx context.Context, beneficiaryID string) ([]domain.Application, error) {
	return r.list(ctx, "list applications by beneficiary", `
SELECT `+applicationColumns+`
FROM applications
WHERE beneficiary_id = $1
ORDER BY created_at DESC
`, beneficiaryID)
}

func (r *ApplicationRepository) ListPending(ctx context.Context, officerID string) ([]domain.Application, error) {
	query := `
SELECT ` + applicationColumns + `
FROM applications
WHERE application_status IN ($1, $2)
`
	args := []any{string(domain.StatusSubmitted), string(domain.StatusUnderReview)}
	if officerID != "" {
		query += "AND assigned_officer = $3\n"
		args = append(args, officerID)
	}
	query += "ORDER BY submitted_at ASC, application_id ASC"
	return r.list(ctx, "list pending applications", query, args...)
}

func (r *ApplicationRepository) list(ctx context.Context, operation, query string, args ...any) ([]domain.Application, error) {
	var out []domain.Application
	err := r.run(ctx, operation, func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]domain.Application, 0)
		for rows.Next() {
			app, err := scanApplication(rows)
			if err != nil {
				return err
			}
			out = append(out, app)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ApplicationRepository) CountByTypeAndStatus(ctx context.Context) ([]domain.StatusCount, error) {
	var out []domain.StatusCount
	err := r.run(ctx, "count applications", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, `
SELECT application_type, application_status, COUNT(*)
FROM applications
GROUP BY application_type, application_status
ORDER BY application_type, application_status
`)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]domain.StatusCount, 0)
		for rows.Next() {
			var appType, status string
			var count int64
			if err := rows.Scan(&appType, &status, &count); err != nil {
				return err
			}
			out = append(out, domain.StatusCount{
				ApplicationType:   domain.ApplicationType(appType),
				ApplicationStatus: domain.ApplicationStatus(status),
				Count:             count,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ApplicationRepository) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	var out []domain.StatusChange
	err := r.run(ctx, "application history", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, `
SELECT application_id, from_status, to_status, changed_by, remarks, changed_at
FROM application_status_history
WHERE application_id = $1
ORDER BY changed_at ASC, id ASC
`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]domain.StatusChange, 0)
		for rows.Next() {
			var change domain.StatusChange
			var from, to string
			if err := rows.Scan(&change.ApplicationID, &from, &to, &change.ChangedBy, &change.Remarks, &change.ChangedAt); err != nil {
				return err
			}
			change.FromStatus = domain.ApplicationStatus(from)
			change.ToStatus = domain.ApplicationStatus(to)
			out = append(out, change)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type applicationScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row applicationScanner) (domain.Application, error) {
	var app domain.Application
	var appType, status string
	var officer, rejection, paymentRef sql.NullString
	var amount decimal.NullDecimal
	var docsRaw, detailsRaw []byte

	err := row.Scan(
		&app.ApplicationID,
		&app.BeneficiaryID,
		&appType,
		&status,
		&officer,
		&app.SubmittedAt,
		&app.ReviewedAt,
		&amount,
		&rejection,
		&app.ApplicationReason,
		&docsRaw,
		&detailsRaw,
		&paymentRef,
		&app.PaymentInitiatedAt,
		&app.CompletedAt,
		&app.Version,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return domain.Application{}, err
	}

	app.ApplicationType = domain.ApplicationType(appType)
	app.ApplicationStatus = domain.ApplicationStatus(status)
	app.AssignedOfficer = officer.String
	app.RejectionReason = rejection.String
	app.PaymentReference = paymentRef.String
	if amount.Valid {
		v := amount.Decimal
		app.ApprovedAmount = &v
	}

	app.Documents = make([]domain.DocumentUpload, 0)
	if len(docsRaw) > 0 {
		if err := json.Unmarshal(docsRaw, &app.Documents); err != nil {
			return domain.Application{}, fmt.Errorf("unmarshal documents: %w", err)
		}
	}
	if err := decodeSchemeDetails(&app, detailsRaw); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

func encodeJSONColumns(app *domain.Application) ([]byte, []byte, error) {
	docs := app.Documents
	if docs == nil {
		docs = []domain.DocumentUpload{}
	}
	docsJSON, err := json.Marshal(docs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal documents: %w", err)
	}

	var details any
	switch app.ApplicationType {
	case domain.TypeAtrocityRelief:
		details = app.AtrocityDetails
	case domain.TypeIntercasteMarriage:
		details = app.MarriageDetails
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal scheme details: %w", err)
	}
	return docsJSON, detailsJSON, nil
}

func decodeSchemeDetails(app *domain.Application, raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	switch app.ApplicationType {
	case domain.TypeAtrocityRelief:
		var d domain.AtrocityDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("unmarshal atrocity details: %w", err)
		}
		app.AtrocityDetails = &d
	case domain.TypeIntercasteMarriage:
		var d domain.MarriageDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("unmarshal marriage details: %w", err)
		}
		app.MarriageDetails = &d
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
