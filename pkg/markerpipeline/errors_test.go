package markerpipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"explicit transient", Transient(errors.New("blip")), FailureTransient},
		{"explicit permanent", Permanent(errors.New("nope")), FailurePermanent},
		{"wrapped classified", fmt.Errorf("outer: %w", Transient(errors.New("blip"))), FailureTransient},
		{"context canceled", context.Canceled, FailureCancelled},
		{"wrapped cancel", fmt.Errorf("upload: %w", context.Canceled), FailureCancelled},
		{"deadline exceeded", context.DeadlineExceeded, FailureTransient},
		{"source rejected", fmt.Errorf("compile: %w", ErrSourceRejected), FailureRejected},
		{"compile timeout", fmt.Errorf("compile: %w", ErrCompileTimeout), FailureFatal},
		{"not found", ErrSubmissionNotFound, FailurePermanent},
		{"object not found", ErrObjectNotFound, FailurePermanent},
		{"presign unsupported", ErrPresignUnsupported, FailurePermanent},
		{"unknown", errors.New("mystery"), FailureFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestClassifyErrorSmithyResponse(t *testing.T) {
	mkRespErr := func(code int) error {
		return &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{
				Response: &http.Response{StatusCode: code},
			},
			Err: errors.New("request failed"),
		}
	}

	assert.Equal(t, FailureTransient, ClassifyError(mkRespErr(http.StatusServiceUnavailable)))
	assert.Equal(t, FailureTransient, ClassifyError(mkRespErr(http.StatusTooManyRequests)))
	assert.Equal(t, FailurePermanent, ClassifyError(mkRespErr(http.StatusForbidden)))
	assert.Equal(t, FailurePermanent, ClassifyError(mkRespErr(http.StatusNotFound)))
}

func TestClassifyErrorSmithyAPICodes(t *testing.T) {
	assert.Equal(t, FailureTransient, ClassifyError(&smithy.GenericAPIError{
		Code: "SlowDown", Fault: smithy.FaultServer,
	}))
	assert.Equal(t, FailurePermanent, ClassifyError(&smithy.GenericAPIError{
		Code: "NoSuchBucket", Fault: smithy.FaultClient,
	}))
	// Unlisted codes fall back to the fault.
	assert.Equal(t, FailurePermanent, ClassifyError(&smithy.GenericAPIError{
		Code: "SomethingOdd", Fault: smithy.FaultClient,
	}))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := errors.New("root cause")
	err := Transient(base)
	assert.ErrorIs(t, err, base)
}

func TestWrapperErrorsUnwrap(t *testing.T) {
	id := uuid.New()
	subErr := &SubmissionError{SubmissionID: id, Op: "get", Err: ErrSubmissionNotFound}
	assert.ErrorIs(t, subErr, ErrSubmissionNotFound)
	assert.Contains(t, subErr.Error(), id.String())

	stErr := &StorageError{Backend: "s3", Key: "a/b/c.png", Op: "grant_write", Err: Permanent(errors.New("denied"))}
	assert.Equal(t, FailurePermanent, ClassifyError(stErr))
	assert.Contains(t, stErr.Error(), "a/b/c.png")
}
