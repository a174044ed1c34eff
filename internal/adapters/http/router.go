package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/welfare-scheme-portal/internal/config"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

const (
	officerIDHeader = "X-Officer-Id"
	maxJSONBody     = 1 << 20
)

// Metrics is the slice of the Prometheus registry the router reports to.
type Metrics interface {
	Middleware(next http.Handler) http.Handler
	RecordRateLimited()
	RecordTransition(applicationType, toStatus string)
	RecordDecision(action, outcome string)
	RecordUpload(documentType string, size int64)
}

type RouterDeps struct {
	Submissions ports.ApplicationSubmission
	Reviews     ports.ReviewWorkflow
	Payments    ports.PaymentTracker
	Reads       ports.ApplicationReader
	Metrics     Metrics
	Logger      *slog.Logger
}

type Router struct {
	cfg         config.Config
	submissions ports.ApplicationSubmission
	reviews     ports.ReviewWorkflow
	payments    ports.PaymentTracker
	reads       ports.ApplicationReader
	metrics     Metrics
	logger      *slog.Logger
	validator   *requestValidator
}

func NewRouter(ctx context.Context, cfg config.Config, deps RouterDeps) (*Router, error) {
	validator, err := newRequestValidator(ctx)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:         cfg,
		submissions: deps.Submissions,
		reviews:     deps.Reviews,
		payments:    deps.Payments,
		reads:       deps.Reads,
		metrics:     deps.Metrics,
		logger:      logger,
		validator:   validator,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)

	mux.HandleFunc("POST /v1/applications", rt.createApplication)
	mux.HandleFunc("GET /v1/applications/{application_id}", rt.getApplication)
	mux.HandleFunc("GET /v1/applications/{application_id}/history", rt.getHistory)
	mux.HandleFunc("POST /v1/applications/{application_id}/documents", rt.attachDocument)
	mux.HandleFunc("GET /v1/applications/{application_id}/documents/{index}/file", rt.downloadDocument)
	mux.HandleFunc("POST /v1/applications/{application_id}/submit", rt.submitApplication)

	mux.HandleFunc("POST /v1/applications/{application_id}/assign", rt.assignOfficer)
	mux.HandleFunc("POST /v1/applications/{application_id}/review", rt.beginReview)
	mux.HandleFunc("POST /v1/applications/{application_id}/decision", rt.decide)
	mux.HandleFunc("PUT /v1/applications/{application_id}/documents/{index}/verification", rt.verifyDocument)
	mux.HandleFunc("PUT /v1/applications/{application_id}/marriage-verification", rt.verifyMarriage)
	mux.HandleFunc("POST /v1/applications/{application_id}/payment/initiate", rt.initiatePayment)
	mux.HandleFunc("POST /v1/applications/{application_id}/payment/complete", rt.completePayment)

	mux.HandleFunc("GET /v1/beneficiaries/{beneficiary_id}/applications", rt.listByBeneficiary)
	mux.HandleFunc("GET /v1/review/pending", rt.listPending)
	mux.HandleFunc("GET /v1/stats", rt.stats)
	mux.HandleFunc("GET /v1/stats/export", rt.exportStats)

	var handler http.Handler = mux
	handler = rt.validator.middleware(handler)
	var onLimited func()
	if rt.metrics != nil {
		onLimited = rt.metrics.RecordRateLimited
	}
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst, onLimited)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = recoverMiddleware(rt.logger, handler)
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondTransition writes a record returned by a status-changing
// operation and counts the status it moved into.
func (rt *Router) respondTransition(w http.ResponseWriter, app *domain.Application) {
	if rt.metrics != nil {
		rt.metrics.RecordTransition(string(app.ApplicationType), string(app.ApplicationStatus))
	}
	writeJSON(w, http.StatusOK, app)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.WrapError(domain.ErrValidation, "decode request", errors.New("request body is required"))
		}
		return domain.WrapError(domain.ErrValidation, "decode request", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}

func officerID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(officerIDHeader))
	if id == "" {
		return "", domain.WrapError(domain.ErrValidation, "read officer", fmt.Errorf("header %s is required", officerIDHeader))
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
