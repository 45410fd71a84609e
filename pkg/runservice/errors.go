package runservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/moogar0880/problems"
)

// StatusError is returned for every non-2xx response of the Run Service.
type StatusError struct {
	Op         string
	StatusCode int
	Type       string
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("run service %s: status %d", e.Op, e.StatusCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	return msg
}

// newStatusError reads an RFC7807 problem body when the service sent one, or falls back to the
// raw body.
func newStatusError(op string, statusCode int, body []byte) *StatusError {
	statusErr := &StatusError{Op: op, StatusCode: statusCode}

	var problem problems.Problem
	if err := json.Unmarshal(body, &problem); err == nil && (problem.Detail != "" || problem.Title != "") {
		statusErr.Type = problem.Type

		statusErr.Detail = problem.Detail
		if statusErr.Detail == "" {
			statusErr.Detail = problem.Title
		}

		return statusErr
	}

	statusErr.Detail = strings.TrimSpace(string(body))
	if statusErr.Detail == "" {
		statusErr.Detail = http.StatusText(statusCode)
	}

	return statusErr
}

// IsNotFound reports whether err is a 404 from the Run Service.
func IsNotFound(err error) bool {
	var statusErr *StatusError

	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
