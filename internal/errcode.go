package internal

import (
	"context"
	"errors"

	"github.com/chrisconley/rhizome/internal/infra"
)

// ErrorCode is a coarse failure category for logs and the CLI exit message.
type ErrorCode string

const (
	CodeUnknown    ErrorCode = "unknown"
	CodeConfig     ErrorCode = "config"
	CodeRemote     ErrorCode = "remote"
	CodeTransport  ErrorCode = "transport"
	CodeCheckpoint ErrorCode = "checkpoint"
	CodeValidation ErrorCode = "validation"
	CodeCancel     ErrorCode = "cancel"
)

// Diagnose maps an error onto an ErrorCode using sentinel errors only.
// A per-request timeout is a transport failure, not a cancellation.
func Diagnose(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, infra.ErrEmptyConfig):
		return CodeConfig
	case errors.Is(err, infra.ErrRemoteRejected):
		return CodeRemote
	case errors.Is(err, infra.ErrTransportFailure), errors.Is(err, infra.ErrMalformedPage):
		return CodeTransport
	case errors.Is(err, infra.ErrCheckpointGap), errors.Is(err, infra.ErrCheckpointIncomplete):
		return CodeCheckpoint
	case errors.Is(err, ErrValidationFailed):
		return CodeValidation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	}
	return CodeUnknown
}
