// Package reply defines the response delivered for every admitted or rejected command.
package reply

import (
	"encoding/json"
	"errors"

	apperrors "github.com/louisbranch/casework/internal/platform/errors"
	"github.com/louisbranch/casework/internal/platform/errors/i18n"
)

// Response is either a success carrying an opaque payload and the last
// durable sequence, or a Failure.
type Response struct {
	MessageID  string
	InstanceID string
	Payload    json.RawMessage
	LastSeq    uint64
	Failure    *Failure
}

// Failure describes why a command was not applied.
type Failure struct {
	Code     apperrors.Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Success builds a success response.
func Success(messageID, instanceID string, payload json.RawMessage, lastSeq uint64) Response {
	return Response{
		MessageID:  messageID,
		InstanceID: instanceID,
		Payload:    payload,
		LastSeq:    lastSeq,
	}
}

// Fail builds a failure response from err. Domain errors keep their code;
// anything else is reported as a processing failure.
func Fail(messageID, instanceID string, err error) Response {
	failure := &Failure{Code: apperrors.CodeProcessingFailed, Message: "processing failed", Cause: err}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		failure.Code = domainErr.Code
		failure.Message = domainErr.Message
		failure.Metadata = domainErr.Metadata
		failure.Cause = domainErr.Cause
	}
	return Response{MessageID: messageID, InstanceID: instanceID, Failure: failure}
}

// OK reports whether the response is a success.
func (r Response) OK() bool {
	return r.Failure == nil
}

// Error converts the failure to a domain error.
func (f *Failure) Error() *apperrors.Error {
	if f == nil {
		return nil
	}
	return apperrors.WrapWithMetadata(f.Code, f.Message, f.Metadata, f.Cause)
}

// Unavailable reports whether the failure is on the system side rather than
// caused by the request. Callers get a generic text for these.
func (f *Failure) Unavailable() bool {
	if f == nil {
		return false
	}
	switch f.Code {
	case apperrors.CodeCommandInvalid,
		apperrors.CodeCommandValidationFailed,
		apperrors.CodeUnknownInstanceType:
		return false
	default:
		return true
	}
}

// Localize renders the user-facing message for locale.
func (f *Failure) Localize(locale string) string {
	if f == nil {
		return ""
	}
	return i18n.GetCatalog(locale).Format(string(f.Code), f.Metadata)
}
