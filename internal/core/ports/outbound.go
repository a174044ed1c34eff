package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

// ApplicationRepository persists application records. Update is a
// conditional write: it succeeds only while the stored record still has
// expectedVersion and expectedStatus.
type ApplicationRepository interface {
	Create(ctx context.Context, app *domain.Application) error
	GetByID(ctx context.Context, id string) (*domain.Application, error)
	Update(ctx context.Context, app *domain.Application, expectedVersion int64, expectedStatus domain.ApplicationStatus, change *domain.StatusChange) error
	ListByBeneficiary(ctx context.Context, beneficiaryID string) ([]domain.Application, error)
	ListPending(ctx context.Context, officerID string) ([]domain.Application, error)
	CountByTypeAndStatus(ctx context.Context) ([]domain.StatusCount, error)
	History(ctx context.Context, id string) ([]domain.StatusChange, error)
}

// IDAllocator hands out monotonically increasing sequence numbers per
// scheme prefix and year.
type IDAllocator interface {
	Next(ctx context.Context, prefix string, year int) (int64, error)
}

// ObjectStorage stores uploaded document blobs and resolves their URL.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DocumentInspector rejects uploads whose content does not match their declared type.
type DocumentInspector interface {
	Inspect(ctx context.Context, fileName, contentType string, data []byte) error
}

// PayloadValidator validates the raw scheme payload before it is decoded.
type PayloadValidator interface {
	Validate(applicationType domain.ApplicationType, payload []byte) error
}

// DocumentPolicy lists the document types required for approval per scheme.
type DocumentPolicy interface {
	MandatoryDocuments(applicationType domain.ApplicationType) []string
}

// DocumentVerifier is an external verification integration (document locker).
type DocumentVerifier interface {
	Verify(ctx context.Context, app *domain.Application, doc domain.DocumentUpload) (domain.VerificationStatus, string, error)
}

// EventPublisher emits lifecycle events to downstream collaborators.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event domain.StatusChangedEvent) error
}

// EventSubscriber consumes lifecycle events.
type EventSubscriber interface {
	SubscribeStatusChanged(ctx context.Context, handler func(context.Context, domain.StatusChangedEvent) error) error
}

// Notifier forwards lifecycle events to the notification/payment fan-out.
type Notifier interface {
	NotifyStatusChanged(ctx context.Context, event domain.StatusChangedEvent) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
