package doclocker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/resilience"
)

// Client asks the external document locker whether an uploaded document
// matches the issuing authority's records.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	APIKey             string
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     options.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type verifyRequest struct {
	ApplicationID string `json:"application_id"`
	BeneficiaryID string `json:"beneficiary_id"`
	SchemeType    string `json:"scheme_type"`
	DocumentType  string `json:"document_type"`
	FileURL       string `json:"file_url"`
}

type verifyResponse struct {
	Status  string `json:"status"`
	Remarks string `json:"remarks"`
}

func (c *Client) Verify(ctx context.Context, app *domain.Application, doc domain.DocumentUpload) (domain.VerificationStatus, string, error) {
	request := verifyRequest{
		ApplicationID: app.ApplicationID,
		BeneficiaryID: app.BeneficiaryID,
		SchemeType:    string(app.ApplicationType),
		DocumentType:  doc.DocumentType,
		FileURL:       doc.FileURL,
	}

	var response verifyResponse
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/documents/verify", request, &response, "verify")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "doclocker.verify", call, classifyLockerError)
	} else {
		err = call(ctx)
	}
	if remarks, ok := noRecordRemarks(err); ok {
		return domain.VerificationPending, remarks, nil
	}
	if err != nil {
		return "", "", lockerError(err)
	}

	switch status := domain.VerificationStatus(strings.ToUpper(strings.TrimSpace(response.Status))); status {
	case domain.VerificationVerified, domain.VerificationRejected, domain.VerificationPending:
		return status, strings.TrimSpace(response.Remarks), nil
	default:
		return "", "", fmt.Errorf("document locker returned unknown status %q", response.Status)
	}
}
