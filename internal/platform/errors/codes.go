// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Reception errors. Every admission rejection shares one code so a
	// caller cannot tell a missing instance from a broken one.
	CodeCommandInvalid Code = "COMMAND_INVALID"

	// Handler errors
	CodeCommandValidationFailed Code = "COMMAND_VALIDATION_FAILED"
	CodeProcessingFailed        Code = "PROCESSING_FAILED"

	// Runtime errors
	CodeInstanceChoked      Code = "INSTANCE_CHOKED"
	CodeUnavailable         Code = "UNAVAILABLE"
	CodeUnknownInstanceType Code = "UNKNOWN_INSTANCE_TYPE"
	CodeNotFound            Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCommandValidationFailed,
		CodeUnknownInstanceType:
		return codes.InvalidArgument

	// FailedPrecondition - instance state doesn't allow the command
	case CodeCommandInvalid,
		CodeInstanceChoked:
		return codes.FailedPrecondition

	case CodeNotFound:
		return codes.NotFound

	case CodeUnavailable:
		return codes.Unavailable

	case CodeProcessingFailed:
		return codes.Aborted

	default:
		return codes.Internal
	}
}
