package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/core/ports"
)

// multipartOverhead leaves room for form fields and part headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

type createApplicationRequest struct {
	ApplicationID     string          `json:"application_id"`
	BeneficiaryID     string          `json:"beneficiary_id"`
	ApplicationType   string          `json:"application_type"`
	ApplicationReason string          `json:"application_reason"`
	SchemeDetails     json.RawMessage `json:"scheme_details"`
}

func (rt *Router) createApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	appType, err := domain.ParseApplicationType(req.ApplicationType)
	if err != nil {
		writeError(w, err)
		return
	}

	app, err := rt.submissions.Create(r.Context(), ports.CreateApplicationInput{
		ApplicationID:     req.ApplicationID,
		BeneficiaryID:     req.BeneficiaryID,
		ApplicationType:   appType,
		ApplicationReason: req.ApplicationReason,
		Payload:           req.SchemeDetails,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	rt.logger.Info("application_created",
		"request_id", requestIDFromContext(r.Context()),
		"application_id", app.ApplicationID,
		"application_type", app.ApplicationType,
	)
	writeJSON(w, http.StatusCreated, app)
}

func (rt *Router) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := rt.reads.Get(r.Context(), r.PathValue("application_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (rt *Router) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := rt.reads.History(r.Context(), r.PathValue("application_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (rt *Router) attachDocument(w http.ResponseWriter, r *http.Request) {
	maxUpload := rt.cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(maxUpload + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, domain.WrapError(domain.ErrValidation, "attach document", fmt.Errorf("upload exceeds %d bytes", maxUpload)))
			return
		}
		writeError(w, domain.WrapError(domain.ErrValidation, "attach document", fmt.Errorf("invalid multipart form: %w", err)))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrValidation, "attach document", errors.New("multipart field 'file' is required")))
		return
	}
	defer file.Close()

	documentType := strings.ToUpper(strings.TrimSpace(r.FormValue("document_type")))
	app, err := rt.submissions.AttachDocument(r.Context(), ports.AttachDocumentInput{
		ApplicationID: r.PathValue("application_id"),
		DocumentType:  documentType,
		FileName:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		Body:          file,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordUpload(documentType, header.Size)
	}
	writeJSON(w, http.StatusCreated, app)
}

func (rt *Router) downloadDocument(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrValidation, "open document", fmt.Errorf("document index %q is not a number", r.PathValue("index"))))
		return
	}
	doc, body, err := rt.reads.OpenDocument(r.Context(), r.PathValue("application_id"), index)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(doc.FileName)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		rt.logger.Warn("document_download_interrupted", "application_id", r.PathValue("application_id"), "index", index, "error", err)
	}
}

func (rt *Router) submitApplication(w http.ResponseWriter, r *http.Request) {
	app, err := rt.submissions.Submit(r.Context(), r.PathValue("application_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	rt.respondTransition(w, app)
}

func (rt *Router) listByBeneficiary(w http.ResponseWriter, r *http.Request) {
	apps, err := rt.reads.FindByBeneficiary(r.Context(), r.PathValue("beneficiary_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
}
