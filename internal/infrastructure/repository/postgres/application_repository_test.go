package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/resilience"
)

func newRepoWithMock(t *testing.T, options Options) (*ApplicationRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewApplicationRepository(db, options), mock, func() { _ = db.Close() }
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func submittedAtrocity() *domain.Application {
	submitted := testNow.Add(time.Minute)
	return &domain.Application{
		ApplicationID:     "ATR_2026_000001",
		BeneficiaryID:     "B1",
		ApplicationType:   domain.TypeAtrocityRelief,
		ApplicationStatus: domain.StatusSubmitted,
		SubmittedAt:       &submitted,
		ApplicationReason: domain.TypeAtrocityRelief.DefaultReason(),
		Documents:         []domain.DocumentUpload{},
		AtrocityDetails: &domain.AtrocityDetails{
			FIRNumber:     "FIR-1",
			PoliceStation: "Shivaji Nagar",
			District:      "Pune",
			IncidentDate:  domain.NewDate(2026, time.February, 10),
		},
		Version:   3,
		CreatedAt: testNow,
		UpdatedAt: submitted,
	}
}

func applicationRowColumns() []string {
	return []string{
		"application_id", "beneficiary_id", "application_type", "application_status", "assigned_officer",
		"submitted_at", "reviewed_at", "approved_amount", "rejection_reason", "application_reason", "documents_uploaded",
		"scheme_details", "payment_reference", "payment_initiated_at", "completed_at", "version", "created_at", "updated_at",
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	mock.ExpectQuery("SELECT application_id, beneficiary_id").
		WithArgs("ATR_2026_000404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ATR_2026_000404")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDDecodesRow(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	reviewed := testNow.Add(2 * time.Hour)
	rows := sqlmock.NewRows(applicationRowColumns()).AddRow(
		"MAR_2026_000007", "B9", "INTERCASTE_MARRIAGE", "APPROVED", "O1",
		testNow.Add(time.Hour), reviewed, "200000.00", nil, "Financial assistance for intercaste marriage",
		[]byte(`[{"document_type":"AADHAAR","file_name":"a.pdf","file_url":"file:///a.pdf","uploaded_at":"2026-03-01T10:00:00Z","verification_status":"VERIFIED","verified_by":"O1"}]`),
		[]byte(`{"spouse_name":"Asha","spouse_caste_category":"GENERAL","marriage_date":"2026-01-05","registration_id":"REG-1","registering_authority":"Sub-Registrar","verification_status":"VERIFIED"}`),
		nil, nil, nil, int64(4), testNow, reviewed,
	)
	mock.ExpectQuery("SELECT application_id, beneficiary_id").
		WithArgs("MAR_2026_000007").
		WillReturnRows(rows)

	app, err := repo.GetByID(context.Background(), "MAR_2026_000007")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if app.ApplicationStatus != domain.StatusApproved || app.AssignedOfficer != "O1" || app.Version != 4 {
		t.Fatalf("unexpected record %+v", app)
	}
	if app.ApprovedAmount == nil || !app.ApprovedAmount.Equal(decimal.NewFromInt(200000)) {
		t.Fatalf("unexpected amount %v", app.ApprovedAmount)
	}
	if app.MarriageDetails == nil || app.MarriageDetails.MarriageDate.Format(domain.DateLayout) != "2026-01-05" {
		t.Fatalf("unexpected marriage details %+v", app.MarriageDetails)
	}
	if len(app.Documents) != 1 || app.Documents[0].VerificationStatus != domain.VerificationVerified {
		t.Fatalf("unexpected documents %+v", app.Documents)
	}
	if app.PaymentInitiatedAt != nil || app.RejectionReason != "" {
		t.Fatalf("null columns must stay empty")
	}
	if err := app.CheckInvariants(); err != nil {
		t.Fatalf("decoded record invariants: %v", err)
	}
}

func TestCreateMapsUniqueViolation(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	app := submittedAtrocity()
	app.ApplicationStatus = domain.StatusDraft
	app.SubmittedAt = nil

	mock.ExpectExec("INSERT INTO applications").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), app)
	if !domain.IsKind(err, domain.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateRejectsBrokenInvariants(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	app := submittedAtrocity()
	app.SubmittedAt = nil

	if err := repo.Create(context.Background(), app); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statement expected: %v", err)
	}
}

func TestUpdateWritesHistoryInSameTransaction(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	app := submittedAtrocity()
	reviewed := testNow.Add(3 * time.Hour)
	amount := decimal.NewFromInt(200000)
	app.ApplicationStatus = domain.StatusApproved
	app.AssignedOfficer = "O1"
	app.ReviewedAt = &reviewed
	app.ApprovedAmount = &amount
	app.UpdatedAt = reviewed
	change := &domain.StatusChange{
		ApplicationID: app.ApplicationID,
		FromStatus:    domain.StatusSubmitted,
		ToStatus:      domain.StatusApproved,
		ChangedBy:     "O1",
		ChangedAt:     reviewed,
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE applications").
		WithArgs(app.ApplicationID, int64(3), "SUBMITTED", "APPROVED", "O1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "200000", nil, app.ApplicationReason,
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil, nil, nil, reviewed).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO application_status_history").
		WithArgs(app.ApplicationID, "SUBMITTED", "APPROVED", "O1", "", reviewed).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Update(context.Background(), app, 3, domain.StatusSubmitted, change); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if app.Version != 4 {
		t.Fatalf("expected version 4, got %d", app.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateReportsConcurrentWriterAsInvalidTransition(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	app := submittedAtrocity()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE applications").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(app.ApplicationID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), app, 3, domain.StatusSubmitted, nil)
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if app.Version != 3 {
		t.Fatalf("version must not change on conflict, got %d", app.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateReturnsNotFoundForMissingRow(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	app := submittedAtrocity()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE applications").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(app.ApplicationID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), app, 3, domain.StatusSubmitted, nil)
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPendingFiltersByOfficer(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	mock.ExpectQuery("WHERE application_status IN \\(\\$1, \\$2\\)\\s+AND assigned_officer = \\$3\\s+ORDER BY submitted_at ASC").
		WithArgs("SUBMITTED", "UNDER_REVIEW", "O1").
		WillReturnRows(sqlmock.NewRows(applicationRowColumns()))

	apps, err := repo.ListPending(context.Background(), "O1")
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(apps) != 0 {
		t.Fatalf("expected empty queue, got %d", len(apps))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountByTypeAndStatus(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{})
	defer done()

	mock.ExpectQuery("GROUP BY application_type, application_status").
		WillReturnRows(sqlmock.NewRows([]string{"application_type", "application_status", "count"}).
			AddRow("ATROCITY_RELIEF", "SUBMITTED", int64(4)).
			AddRow("INTERCASTE_MARRIAGE", "APPROVED", int64(2)))

	counts, err := repo.CountByTypeAndStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByTypeAndStatus() error = %v", err)
	}
	if len(counts) != 2 || counts[0].Count != 4 || counts[1].ApplicationStatus != domain.StatusApproved {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestConnectionFailureIsRetried(t *testing.T) {
	exec := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
		},
	})
	repo, mock, done := newRepoWithMock(t, Options{ResilienceExecutor: exec})
	defer done()

	mock.ExpectQuery("SELECT application_id, from_status").
		WithArgs("ATR_2026_000001").
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	mock.ExpectQuery("SELECT application_id, from_status").
		WithArgs("ATR_2026_000001").
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "from_status", "to_status", "changed_by", "remarks", "changed_at"}).
			AddRow("ATR_2026_000001", "DRAFT", "SUBMITTED", "", "", testNow))

	history, err := repo.History(context.Background(), "ATR_2026_000001")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].ToStatus != domain.StatusSubmitted {
		t.Fatalf("unexpected history %+v", history)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExhaustedRetriesBecomeTemporary(t *testing.T) {
	exec := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     2,
		},
	})
	repo, mock, done := newRepoWithMock(t, Options{ResilienceExecutor: exec})
	defer done()

	for i := 0; i < 2; i++ {
		mock.ExpectQuery("GROUP BY application_type").
			WillReturnError(&pgconn.PgError{Code: "57P03", Message: "the database system is starting up"})
	}
	_, err := repo.CountByTypeAndStatus(context.Background())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestStoreTimeoutMapsToTimeoutKind(t *testing.T) {
	repo, mock, done := newRepoWithMock(t, Options{Timeout: 20 * time.Millisecond})
	defer done()

	mock.ExpectQuery("SELECT application_id, beneficiary_id").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows(applicationRowColumns()))

	_, err := repo.GetByID(context.Background(), "ATR_2026_000001")
	if !domain.IsKind(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestIDCounterNext(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO application_id_counters").
		WithArgs("MAR", 2026).
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(int64(17)))

	seq, err := NewIDCounter(db, Options{}).Next(context.Background(), "MAR", 2026)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if seq != 17 {
		t.Fatalf("expected 17, got %d", seq)
	}
}

func TestIDCounterHighestSequence(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE\\(MAX").
		WithArgs(`ATR\_2026\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(42)))

	highest, err := NewIDCounter(db, Options{}).HighestSequence(context.Background(), "ATR", 2026)
	if err != nil {
		t.Fatalf("HighestSequence() error = %v", err)
	}
	if highest != 42 {
		t.Fatalf("expected 42, got %d", highest)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
