package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

type ReadService struct {
	repo    ports.ApplicationRepository
	storage ports.ObjectStorage
}

func NewReadService(repo ports.ApplicationRepository, storage ports.ObjectStorage) *ReadService {
	return &ReadService{repo: repo, storage: storage}
}

func (s *ReadService) Get(ctx context.Context, applicationID string) (*domain.Application, error) {
	app, err := s.repo.GetByID(ctx, strings.TrimSpace(applicationID))
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

func (s *ReadService) FindByBeneficiary(ctx context.Context, beneficiaryID string) ([]domain.Application, error) {
	beneficiaryID = strings.TrimSpace(beneficiaryID)
	if beneficiaryID == "" {
		return nil, domain.WrapError(domain.ErrValidation, "find by beneficiary", errors.New("beneficiary_id is required"))
	}
	apps, err := s.repo.ListByBeneficiary(ctx, beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("find by beneficiary: %w", err)
	}
	return apps, nil
}

func (s *ReadService) FindPending(ctx context.Context) ([]domain.Application, error) {
	apps, err := s.repo.ListPending(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	return apps, nil
}

func (s *ReadService) FindPendingByOfficer(ctx context.Context, officerID string) ([]domain.Application, error) {
	officerID = strings.TrimSpace(officerID)
	if officerID == "" {
		return nil, domain.WrapError(domain.ErrValidation, "find pending by officer", errors.New("officer_id is required"))
	}
	apps, err := s.repo.ListPending(ctx, officerID)
	if err != nil {
		return nil, fmt.Errorf("find pending by officer: %w", err)
	}
	return apps, nil
}

func (s *ReadService) Stats(ctx context.Context) ([]domain.StatusCount, error) {
	counts, err := s.repo.CountByTypeAndStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("application stats: %w", err)
	}
	return counts, nil
}

func (s *ReadService) History(ctx context.Context, applicationID string) ([]domain.StatusChange, error) {
	if _, err := s.repo.GetByID(ctx, applicationID); err != nil {
		return nil, fmt.Errorf("application history: %w", err)
	}
	history, err := s.repo.History(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("application history: %w", err)
	}
	return history, nil
}

// OpenDocument returns the index-th uploaded document of an application
// together with a reader over its stored file. The caller closes the reader.
func (s *ReadService) OpenDocument(ctx context.Context, applicationID string, index int) (domain.DocumentUpload, io.ReadCloser, error) {
	const op = "open document"
	app, err := s.repo.GetByID(ctx, strings.TrimSpace(applicationID))
	if err != nil {
		return domain.DocumentUpload{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	if index < 0 || index >= len(app.Documents) {
		return domain.DocumentUpload{}, nil, domain.WrapError(domain.ErrNotFound, op,
			fmt.Errorf("%s has no document %d", app.ApplicationID, index))
	}
	doc := app.Documents[index]
	if doc.StorageKey == "" || s.storage == nil {
		return domain.DocumentUpload{}, nil, domain.WrapError(domain.ErrNotFound, op,
			fmt.Errorf("document %d of %s has no stored file", index, app.ApplicationID))
	}
	body, err := s.storage.Open(ctx, doc.StorageKey)
	if err != nil {
		return domain.DocumentUpload{}, nil, fmt.Errorf("%s: %w", op, err)
	}
	return doc, body, nil
}
