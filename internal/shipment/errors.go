package shipment

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. Only query, credential and validation
// failures abort a request; the rest are reported as diagnostics.
type Kind string

const (
	KindUpstreamQueryFailed        Kind = "UpstreamQueryFailed"
	KindUpstreamCredentialsMissing Kind = "UpstreamCredentialsMissing"
	KindRecordFetchError           Kind = "RecordFetchError"
	KindRecordCorrupted            Kind = "RecordCorrupted"
	KindJSONParseError             Kind = "JsonParseError"
	KindValidationError            Kind = "ValidationError"
	KindEnrichmentLookupFailed     Kind = "EnrichmentLookupFailed"
	KindNotFound                   Kind = "NotFound"
)

// Error carries a Kind plus, where available, the upstream status and body.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (upstream status %d)", e.Kind, msg, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
