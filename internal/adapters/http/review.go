package httpadapter

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

func (rt *Router) assignOfficer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OfficerID string `json:"officer_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := rt.reviews.Assign(r.Context(), r.PathValue("application_id"), strings.TrimSpace(req.OfficerID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (rt *Router) beginReview(w http.ResponseWriter, r *http.Request) {
	officer, err := officerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	app, err := rt.reviews.BeginReview(r.Context(), r.PathValue("application_id"), officer)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.respondTransition(w, app)
}

type decisionRequest struct {
	Action  string           `json:"action"`
	Remarks string           `json:"remarks"`
	Amount  *decimal.Decimal `json:"amount"`
}

func (rt *Router) decide(w http.ResponseWriter, r *http.Request) {
	officer, err := officerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	action := domain.ReviewAction(req.Action)
	app, err := rt.reviews.Decide(r.Context(), ports.DecideInput{
		ApplicationID: r.PathValue("application_id"),
		OfficerID:     officer,
		Action:        action,
		Remarks:       req.Remarks,
		Amount:        req.Amount,
	})
	if rt.metrics != nil {
		rt.metrics.RecordDecision(string(action), decisionOutcome(err))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	rt.logger.Info("application_decided",
		"request_id", requestIDFromContext(r.Context()),
		"application_id", app.ApplicationID,
		"officer_id", officer,
		"status", app.ApplicationStatus,
	)
	rt.respondTransition(w, app)
}

func decisionOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(domain.KindName(err))
}

func (rt *Router) verifyDocument(w http.ResponseWriter, r *http.Request) {
	officer, err := officerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrValidation, "verify document", fmt.Errorf("document index %q is not a number", r.PathValue("index"))))
		return
	}
	var req struct {
		Status  string `json:"status"`
		Remarks string `json:"remarks"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	app, err := rt.reviews.VerifyDocument(r.Context(), ports.VerifyDocumentInput{
		ApplicationID: r.PathValue("application_id"),
		Index:         index,
		Status:        domain.VerificationStatus(req.Status),
		VerifiedBy:    officer,
		Remarks:       req.Remarks,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (rt *Router) verifyMarriage(w http.ResponseWriter, r *http.Request) {
	officer, err := officerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	status := domain.VerificationStatus(req.Status)
	app, err := rt.reviews.VerifyMarriageRegistration(r.Context(), r.PathValue("application_id"), status, officer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (rt *Router) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, err := rt.payments.InitiatePayment(r.Context(), r.PathValue("application_id"), req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.respondTransition(w, app)
}

func (rt *Router) completePayment(w http.ResponseWriter, r *http.Request) {
	app, err := rt.payments.CompletePayment(r.Context(), r.PathValue("application_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	rt.respondTransition(w, app)
}

func (rt *Router) listPending(w http.ResponseWriter, r *http.Request) {
	var (
		apps []domain.Application
		err  error
	)
	if officer := strings.TrimSpace(r.URL.Query().Get("officer_id")); officer != "" {
		apps, err = rt.reads.FindPendingByOfficer(r.Context(), officer)
	} else {
		apps, err = rt.reads.FindPending(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
}
