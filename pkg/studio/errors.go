package studio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionClosed = errors.New("studio session is closed")
	ErrNoWorkflowID  = errors.New("workflow has no id")
)

// Issue is one problem found in an externally edited document.
type Issue struct {
	// Location is a dotted path into the document, e.g. "edges.2.target". Empty for the document root.
	Location string
	Message  string
}

func (i Issue) String() string {
	if i.Location == "" {
		return i.Message
	}

	return i.Location + ": " + i.Message
}

// ApplyError is returned when a document was rejected. The session is left untouched.
type ApplyError struct {
	Issues []Issue
}

func (e *ApplyError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.String())
	}

	return fmt.Sprintf("invalid workflow document: %s", strings.Join(parts, "; "))
}

func IsApplyError(err error) bool {
	var applyErr *ApplyError

	return errors.As(err, &applyErr)
}
