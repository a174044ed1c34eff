package doclocker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
	"github.com/kirillkom/welfare-scheme-portal/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx answer from the locker.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	msg := fmt.Sprintf("document locker %s: %s", e.Operation, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// lockerAnswer says what a failed locker call means for the document.
type lockerAnswer int

const (
	// answerUnavailable: the locker is down or throttling; ask again later.
	answerUnavailable lockerAnswer = iota
	// answerNoRecord: the locker holds nothing it can match the document
	// against, so the document stays PENDING for an officer.
	answerNoRecord
	// answerRefused: the locker rejected our request itself (credentials,
	// malformed payload). Retrying cannot help.
	answerRefused
)

func answerForStatus(code int) lockerAnswer {
	switch {
	case code == http.StatusNotFound, code == http.StatusUnprocessableEntity:
		return answerNoRecord
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return answerUnavailable
	default:
		return answerRefused
	}
}

// noRecordRemarks reports whether err is a locker answer that leaves the
// document pending, and the remarks to store with it.
func noRecordRemarks(err error) (string, bool) {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || answerForStatus(statusErr.StatusCode) != answerNoRecord {
		return "", false
	}
	if statusErr.Body == "" {
		return "document locker has no matching record", true
	}
	return "document locker has no matching record: " + statusErr.Body, true
}

// classifyLockerError feeds the executor. A missing record is an answer,
// not an outage, so it neither retries nor counts against the breaker; a
// refused request does count because it usually means a broken API key.
func classifyLockerError(err error) resilience.ErrorClassification {
	var statusErr *HTTPStatusError
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case errors.As(err, &statusErr):
		switch answerForStatus(statusErr.StatusCode) {
		case answerUnavailable:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case answerNoRecord:
			return resilience.ErrorClassification{}
		default:
			return resilience.ErrorClassification{RecordFailure: true}
		}
	case resilience.IsCircuitOpen(err), errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// lockerError marks failures the worker may retry with ErrTemporary.
func lockerError(err error) error {
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyLockerError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "document locker verify", err)
	}
	return err
}
