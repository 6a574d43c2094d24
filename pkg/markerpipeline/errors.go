package markerpipeline

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
)

// Common errors returned by the pipeline services.
var (
	// ErrSubmissionNotFound is returned when a submission does not exist
	// or is not visible to the requesting owner.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrObjectNotFound is returned by blob stores for a missing key.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("invalid submission status")

	// ErrInvalidStatusTransition is returned when a status change would
	// violate the state machine.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrInvalidSubmission is returned when submission input fails shape
	// validation.
	ErrInvalidSubmission = errors.New("invalid submission")

	// ErrSourceRejected is returned by a compiler when the source image
	// lacks enough distinguishing detail to track reliably. This is a
	// legitimate terminal outcome, not a failure.
	ErrSourceRejected = errors.New("source image lacks trackable detail")

	// ErrCompileTimeout is returned when the compilation capability did
	// not finish within its hard deadline.
	ErrCompileTimeout = errors.New("marker compilation timed out")

	// ErrGrantExpired is returned when a capability grant is used past
	// its expiry.
	ErrGrantExpired = errors.New("capability grant expired")

	// ErrGrantOperationMismatch is returned when a grant does not
	// authorize the attempted operation.
	ErrGrantOperationMismatch = errors.New("grant does not authorize this operation")

	// ErrPresignUnsupported is returned by backends that cannot issue
	// signed URLs.
	ErrPresignUnsupported = errors.New("backend cannot issue signed URLs")

	// ErrRunActive is returned when a second run is started on an
	// orchestrator whose current run has not resolved.
	ErrRunActive = errors.New("a pipeline run is already active")
)

// FailureClass partitions errors by how the pipeline must react to them.
type FailureClass string

const (
	// FailureTransient errors are expected to succeed on retry without
	// changes to the request.
	FailureTransient FailureClass = "transient"
	// FailurePermanent errors will not succeed on retry and are
	// surfaced immediately.
	FailurePermanent FailureClass = "permanent"
	// FailureRejected is a domain-level quality rejection, mapped to
	// the needs_better_source status rather than error.
	FailureRejected FailureClass = "rejected"
	// FailureCancelled is a user-initiated abort. It produces no error
	// detail and no status transition; the record is deleted instead.
	FailureCancelled FailureClass = "cancelled"
	// FailureFatal covers everything else and maps to the error status.
	FailureFatal FailureClass = "fatal"
)

// ClassifiedError tags an underlying error with a failure class so
// callers up the stack can react without string matching.
type ClassifiedError struct {
	Class FailureClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure.
func Transient(err error) error {
	return &ClassifiedError{Class: FailureTransient, Err: err}
}

// Permanent wraps err as a permanent failure.
func Permanent(err error) error {
	return &ClassifiedError{Class: FailurePermanent, Err: err}
}

// ClassifyError maps an arbitrary error onto the failure taxonomy.
// Explicit classifications win; storage control-plane errors are mapped
// by smithy fault/status; network timeouts count as transient; anything
// unrecognized is fatal.
func ClassifyError(err error) FailureClass {
	if err == nil {
		return ""
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	switch {
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	case errors.Is(err, ErrSourceRejected):
		return FailureRejected
	case errors.Is(err, ErrSubmissionNotFound),
		errors.Is(err, ErrObjectNotFound),
		errors.Is(err, ErrPresignUnsupported),
		errors.Is(err, ErrGrantExpired),
		errors.Is(err, ErrGrantOperationMismatch),
		errors.Is(err, ErrInvalidSubmission):
		return FailurePermanent
	case errors.Is(err, ErrCompileTimeout):
		return FailureFatal
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return classifyHTTPStatus(respErr.HTTPStatusCode())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "SlowDown", "InternalError", "ServiceUnavailable":
			return FailureTransient
		case "NoSuchKey", "NoSuchBucket", "AccessDenied", "EntityTooLarge", "InvalidAccessKeyId":
			return FailurePermanent
		}
		switch apiErr.ErrorFault() {
		case smithy.FaultServer:
			return FailureTransient
		case smithy.FaultClient:
			return FailurePermanent
		}
		return FailureFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	return FailureFatal
}

func classifyHTTPStatus(code int) FailureClass {
	switch {
	case code == 408, code == 429:
		return FailureTransient
	case code >= 500:
		return FailureTransient
	case code >= 400:
		return FailurePermanent
	}
	return FailureFatal
}

// SubmissionError provides context about which submission operation failed.
type SubmissionError struct {
	SubmissionID uuid.UUID
	Op           string
	Err          error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission %s: %s: %v", e.SubmissionID, e.Op, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// StorageError provides context about which storage operation failed.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
