package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

const (
	idAllocationAttempts  = 3
	defaultMaxUploadBytes = 10 << 20
)

type ApplicationServiceDeps struct {
	Repo           ports.ApplicationRepository
	IDs            ports.IDAllocator
	Storage        ports.ObjectStorage
	Inspector      ports.DocumentInspector
	Validator      ports.PayloadValidator
	Events         ports.EventPublisher
	Clock          ports.Clock
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// ApplicationService implements the beneficiary-facing submission flow.
type ApplicationService struct {
	repo           ports.ApplicationRepository
	ids            ports.IDAllocator
	storage        ports.ObjectStorage
	inspector      ports.DocumentInspector
	validator      ports.PayloadValidator
	mutator        recordMutator
	maxUploadBytes int64
}

func NewApplicationService(deps ApplicationServiceDeps) *ApplicationService {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &ApplicationService{
		repo:           deps.Repo,
		ids:            deps.IDs,
		storage:        deps.Storage,
		inspector:      deps.Inspector,
		validator:      deps.Validator,
		mutator:        newRecordMutator(deps.Repo, deps.Events, deps.Clock, deps.Logger),
		maxUploadBytes: maxUpload,
	}
}

func (s *ApplicationService) Create(ctx context.Context, in ports.CreateApplicationInput) (*domain.Application, error) {
	const op = "create application"
	beneficiaryID := strings.TrimSpace(in.BeneficiaryID)
	if beneficiaryID == "" {
		return nil, domain.WrapError(domain.ErrValidation, op, errors.New("beneficiary_id is required"))
	}
	if in.ApplicationType.IDPrefix() == "" {
		return nil, domain.WrapError(domain.ErrValidation, op, fmt.Errorf("unknown application type %q", in.ApplicationType))
	}
	if s.validator != nil {
		if err := s.validator.Validate(in.ApplicationType, in.Payload); err != nil {
			return nil, err
		}
	}

	now := s.mutator.clock.Now()
	app := &domain.Application{
		BeneficiaryID:     beneficiaryID,
		ApplicationType:   in.ApplicationType,
		ApplicationStatus: domain.StatusDraft,
		ApplicationReason: strings.TrimSpace(in.ApplicationReason),
		Documents:         []domain.DocumentUpload{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if app.ApplicationReason == "" {
		app.ApplicationReason = in.ApplicationType.DefaultReason()
	}
	if err := decodePayload(app, in.Payload); err != nil {
		return nil, err
	}
	if err := app.ValidatePayload(); err != nil {
		return nil, err
	}

	if id := strings.TrimSpace(in.ApplicationID); id != "" {
		if err := domain.ValidateApplicationID(app.ApplicationType, id); err != nil {
			return nil, err
		}
		app.ApplicationID = id
		if err := s.repo.Create(ctx, app); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return app, nil
	}

	var lastErr error
	for attempt := 0; attempt < idAllocationAttempts; attempt++ {
		id, err := s.nextID(ctx, app.ApplicationType, now.Year())
		if err != nil {
			return nil, err
		}
		app.ApplicationID = id
		lastErr = s.repo.Create(ctx, app)
		if lastErr == nil {
			return app, nil
		}
		if !domain.IsKind(lastErr, domain.ErrDuplicateID) {
			return nil, fmt.Errorf("%s: %w", op, lastErr)
		}
		s.mutator.logger.Warn("generated_application_id_collision", "application_id", id, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%s: %w", op, lastErr)
}

func (s *ApplicationService) nextID(ctx context.Context, t domain.ApplicationType, year int) (string, error) {
	seq, err := s.ids.Next(ctx, t.IDPrefix(), year)
	if err != nil {
		return "", fmt.Errorf("allocate application id: %w", err)
	}
	return domain.FormatApplicationID(t, year, seq)
}

func decodePayload(app *domain.Application, payload []byte) error {
	const op = "decode payload"
	if len(bytes.TrimSpace(payload)) == 0 {
		return domain.WrapError(domain.ErrValidation, op, errors.New("scheme details are required"))
	}
	switch app.ApplicationType {
	case domain.TypeAtrocityRelief:
		var details domain.AtrocityDetails
		if err := json.Unmarshal(payload, &details); err != nil {
			return domain.WrapError(domain.ErrValidation, op, err)
		}
		app.AtrocityDetails = &details
	case domain.TypeIntercasteMarriage:
		var details domain.MarriageDetails
		if err := json.Unmarshal(payload, &details); err != nil {
			return domain.WrapError(domain.ErrValidation, op, err)
		}
		details.VerificationStatus = domain.VerificationPending
		app.MarriageDetails = &details
	}
	return nil
}

func (s *ApplicationService) AttachDocument(ctx context.Context, in ports.AttachDocumentInput) (*domain.Application, error) {
	const op = "attach document"
	docType := strings.ToUpper(strings.TrimSpace(in.DocumentType))
	if docType == "" {
		return nil, domain.WrapError(domain.ErrValidation, op, errors.New("document_type is required"))
	}
	if in.Body == nil {
		return nil, domain.WrapError(domain.ErrValidation, op, errors.New("file body is required"))
	}

	current, err := s.repo.GetByID(ctx, in.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("%s: load application: %w", op, err)
	}
	if current.ApplicationStatus != domain.StatusDraft {
		return nil, domain.WrapError(domain.ErrInvalidTransition, op,
			fmt.Errorf("documents can only be attached to DRAFT applications, %s is %s", current.ApplicationID, current.ApplicationStatus))
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read upload: %w", op, err)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, domain.WrapError(domain.ErrValidation, op, fmt.Errorf("file exceeds %d bytes", s.maxUploadBytes))
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrValidation, op, errors.New("file is empty"))
	}
	if s.inspector != nil {
		if err := s.inspector.Inspect(ctx, in.FileName, in.ContentType, data); err != nil {
			return nil, err
		}
	}

	fileName := sanitizeFilename(in.FileName)
	key := fmt.Sprintf("%s_%s_%s", current.ApplicationID, uuid.NewString()[:8], fileName)
	fileURL, err := s.storage.Save(ctx, key, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: save to object storage: %w", op, err)
	}

	updated, err := s.mutator.mutateLoaded(ctx, current, mutation{
		operation: op,
		apply: func(app *domain.Application, now time.Time) error {
			app.Documents = append(app.Documents, domain.DocumentUpload{
				DocumentType:       docType,
				FileName:           fileName,
				FileURL:            fileURL,
				StorageKey:         key,
				UploadedAt:         now,
				VerificationStatus: domain.VerificationPending,
			})
			return nil
		},
	})
	if err != nil {
		s.discardUpload(ctx, current.ApplicationID, key)
		return nil, err
	}
	return updated, nil
}

// discardUpload removes a blob whose record update did not commit.
func (s *ApplicationService) discardUpload(ctx context.Context, applicationID, key string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.storage.Delete(cleanupCtx, key); err != nil {
		s.mutator.logger.Warn("orphaned_document_upload",
			"application_id", applicationID,
			"storage_key", key,
			"error", err,
		)
	}
}

func (s *ApplicationService) Submit(ctx context.Context, applicationID string) (*domain.Application, error) {
	return s.mutator.mutate(ctx, applicationID, mutation{
		operation: "submit application",
		apply: func(app *domain.Application, now time.Time) error {
			return app.Submit(now)
		},
	})
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
