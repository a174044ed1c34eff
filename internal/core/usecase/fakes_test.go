package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

type memoryRepo struct {
	mu        sync.Mutex
	apps      map[string]*domain.Application
	history   map[string][]domain.StatusChange
	createErr error
	updateErr error
	updates   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		apps:    make(map[string]*domain.Application),
		history: make(map[string][]domain.StatusChange),
	}
}

func (r *memoryRepo) Create(_ context.Context, app *domain.Application) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.apps[app.ApplicationID]; ok {
		return domain.WrapError(domain.ErrDuplicateID, "create application", fmt.Errorf("%s already exists", app.ApplicationID))
	}
	app.Version = 1
	r.apps[app.ApplicationID] = app.Clone()
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get application", fmt.Errorf("%s", id))
	}
	return app.Clone(), nil
}

func (r *memoryRepo) Update(_ context.Context, app *domain.Application, expectedVersion int64, expectedStatus domain.ApplicationStatus, change *domain.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	stored, ok := r.apps[app.ApplicationID]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update application", fmt.Errorf("%s", app.ApplicationID))
	}
	if stored.Version != expectedVersion || stored.ApplicationStatus != expectedStatus {
		return domain.WrapError(domain.ErrInvalidTransition, "update application",
			fmt.Errorf("%s changed concurrently", app.ApplicationID))
	}
	if err := app.CheckInvariants(); err != nil {
		return err
	}
	app.Version = expectedVersion + 1
	r.apps[app.ApplicationID] = app.Clone()
	if change != nil {
		r.history[app.ApplicationID] = append(r.history[app.ApplicationID], *change)
	}
	r.updates++
	return nil
}

func (r *memoryRepo) ListByBeneficiary(_ context.Context, beneficiaryID string) ([]domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Application, 0)
	for _, app := range r.apps {
		if app.BeneficiaryID == beneficiaryID {
			out = append(out, *app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepo) ListPending(_ context.Context, officerID string) ([]domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Application, 0)
	for _, app := range r.apps {
		if !app.ApplicationStatus.Pending() {
			continue
		}
		if officerID != "" && app.AssignedOfficer != officerID {
			continue
		}
		out = append(out, *app.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(*out[j].SubmittedAt) })
	return out, nil
}

func (r *memoryRepo) CountByTypeAndStatus(context.Context) ([]domain.StatusCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[[2]string]int64)
	for _, app := range r.apps {
		counts[[2]string{string(app.ApplicationType), string(app.ApplicationStatus)}]++
	}
	out := make([]domain.StatusCount, 0, len(counts))
	for key, n := range counts {
		out = append(out, domain.StatusCount{
			ApplicationType:   domain.ApplicationType(key[0]),
			ApplicationStatus: domain.ApplicationStatus(key[1]),
			Count:             n,
		})
	}
	return out, nil
}

func (r *memoryRepo) History(_ context.Context, id string) ([]domain.StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusChange(nil), r.history[id]...), nil
}

type counterAllocator struct {
	mu   sync.Mutex
	next map[string]int64
	err  error
}

func (a *counterAllocator) Next(_ context.Context, prefix string, year int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return 0, a.err
	}
	if a.next == nil {
		a.next = make(map[string]int64)
	}
	key := fmt.Sprintf("%s_%d", prefix, year)
	a.next[key]++
	return a.next[key], nil
}

type storageFake struct {
	saved   map[string]string
	deleted []string
	err     error
}

func (s *storageFake) Save(_ context.Context, key string, body io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if s.saved == nil {
		s.saved = make(map[string]string)
	}
	s.saved[key] = string(data)
	return "file:///uploads/" + key, nil
}

func (s *storageFake) Delete(_ context.Context, key string) error {
	delete(s.saved, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.saved[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open document", errors.New(key))
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

type inspectorFake struct {
	err error
}

func (f inspectorFake) Inspect(context.Context, string, string, []byte) error { return f.err }

type policyFake map[domain.ApplicationType][]string

func (p policyFake) MandatoryDocuments(t domain.ApplicationType) []string { return p[t] }

type publisherFake struct {
	mu        sync.Mutex
	events    []domain.StatusChangedEvent
	deadlines []bool
	err       error
}

func (p *publisherFake) PublishStatusChanged(ctx context.Context, event domain.StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.err != nil {
		return p.err
	}
	_, hasDeadline := ctx.Deadline()
	p.events = append(p.events, event)
	p.deadlines = append(p.deadlines, hasDeadline)
	return nil
}

func (p *publisherFake) transitions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, string(e.FromStatus)+">"+string(e.ToStatus))
	}
	return out
}

type verifierFake struct {
	answers map[string]domain.VerificationStatus
	errs    map[string]error
	calls   []string
}

func (v *verifierFake) Verify(_ context.Context, _ *domain.Application, doc domain.DocumentUpload) (domain.VerificationStatus, string, error) {
	v.calls = append(v.calls, doc.DocumentType)
	if err := v.errs[doc.DocumentType]; err != nil {
		return "", "", err
	}
	status, ok := v.answers[doc.DocumentType]
	if !ok {
		return domain.VerificationPending, "", nil
	}
	return status, "checked by locker", nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

const (
	atrocityPayload = `{"fir_number":"FIR-12/2026","police_station":"Shivaji Nagar","district":"Pune","incident_date":"2026-02-10","atrocity_category":"ASSAULT","description":"assault on the victim"}`
	marriagePayload = `{"spouse_name":"Asha","spouse_caste_category":"GENERAL","marriage_date":"2026-01-05","registration_id":"REG-1","registering_authority":"Sub-Registrar Pune","verification_status":"VERIFIED"}`
)

type harness struct {
	repo     *memoryRepo
	ids      *counterAllocator
	storage  *storageFake
	events   *publisherFake
	clock    *fixedClock
	verifier *verifierFake
	policy   policyFake
	apps     *ApplicationService
	review   *ReviewService
	payments *PaymentService
	reads    *ReadService
}

func newHarness() *harness {
	h := &harness{
		repo:     newMemoryRepo(),
		ids:      &counterAllocator{},
		storage:  &storageFake{},
		events:   &publisherFake{},
		clock:    newFixedClock(),
		verifier: &verifierFake{},
		policy:   policyFake{},
	}
	h.apps = NewApplicationService(ApplicationServiceDeps{
		Repo:      h.repo,
		IDs:       h.ids,
		Storage:   h.storage,
		Inspector: inspectorFake{},
		Events:    h.events,
		Clock:     h.clock,
	})
	h.review = NewReviewService(ReviewServiceDeps{
		Repo:            h.repo,
		Policy:          h.policy,
		Verifier:        h.verifier,
		Events:          h.events,
		Clock:           h.clock,
		AllowSelfAssign: true,
	})
	h.payments = NewPaymentService(h.repo, h.events, h.clock, nil)
	h.reads = NewReadService(h.repo, h.storage)
	return h
}

func (h *harness) attach(ctx context.Context, id, docType string) error {
	_, err := h.apps.AttachDocument(ctx, attachInput(id, docType))
	return err
}

func attachInput(id, docType string) ports.AttachDocumentInput {
	return ports.AttachDocumentInput{
		ApplicationID: id,
		DocumentType:  docType,
		FileName:      strings.ToLower(docType) + ".pdf",
		ContentType:   "application/pdf",
		Body:          strings.NewReader("%PDF-1.4 " + docType),
	}
}
