package otelhelper

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorEvent is the span event added by SetError.
const ErrorEvent = "apiflow.error"

// SetError marks span as failed and adds an ErrorEvent carrying attrs and the type of the innermost
// wrapped error.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	attrs = append(attrs, attribute.String(ErrorTypeKey, rootType(err)))
	span.AddEvent(ErrorEvent, trace.WithAttributes(attrs...))
}

func rootType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}

		err = next
	}
}
