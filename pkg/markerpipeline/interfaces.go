package markerpipeline

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/google/uuid"
)

// Service manages submission records. It is the sole source of truth
// for processing status; asset bytes live in a BlobStore and are only
// referenced by key.
type Service interface {
	CreateSubmission(ctx context.Context, req CreateSubmissionRequest) (*Submission, error)
	GetSubmission(ctx context.Context, ownerID, id uuid.UUID) (*Submission, error)
	ListSubmissions(ctx context.Context, ownerID uuid.UUID) ([]*SubmissionDetails, error)
	SetAssetKeys(ctx context.Context, ownerID, id uuid.UUID, keys AssetKeys) error
	UpdateStatus(ctx context.Context, ownerID, id uuid.UUID, status SubmissionStatus, errorDetail string) (*Submission, error)
	DeleteSubmission(ctx context.Context, ownerID, id uuid.UUID) error
}

// Repository persists submission records. Every query is scoped by
// owner; a record that exists but belongs to another owner is reported
// as not found.
type Repository interface {
	CreateSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, ownerID, id uuid.UUID) (*Submission, error)
	UpdateSubmission(ctx context.Context, sub *Submission) error
	DeleteSubmission(ctx context.Context, ownerID, id uuid.UUID) error
	ListSubmissions(ctx context.Context, ownerID uuid.UUID) ([]*Submission, error)
}

// BlobStore abstracts an object-storage backend addressed by key.
// Clients never receive ambient credentials; all client access goes
// through the signed URLs the store issues.
type BlobStore interface {
	// GetUploadURL returns a signed URL authorizing a single PUT of the
	// object until expiresIn elapses. A non-positive expiresIn falls
	// back to the backend default.
	GetUploadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error)

	// GetDownloadURL returns a signed URL authorizing GETs of the
	// object until expiresIn elapses.
	GetDownloadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error)

	// Upload writes the object directly. Server-side use only.
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// Download reads the object directly. Server-side use only.
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes the object.
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta returns metadata about the object.
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// Compiler turns decoded image pixels into a marker artifact. Three
// outcomes are possible: a non-nil artifact, an error wrapping
// ErrSourceRejected when the image has too little distinguishing
// detail, or any other error for an execution failure. Implementations
// report fractional progress (0-100) through onProgress and observe ctx
// at their progress checkpoints.
type Compiler interface {
	Compile(ctx context.Context, img image.Image, onProgress func(percent float64)) (*MarkerArtifact, error)
}

// Transcoder conditionally re-encodes a video into a baseline-compatible
// container. When the input already qualifies it is returned unchanged.
type Transcoder interface {
	Normalize(ctx context.Context, video []byte, onProgress func(percent float64)) ([]byte, error)
}

// EventSink receives pipeline run events. The orchestrator emits to a
// single sink so observability stays out of the control flow.
type EventSink interface {
	RunStarted(ctx context.Context, ownerID, submissionID uuid.UUID)
	StageChanged(ctx context.Context, submissionID uuid.UUID, stage Stage)
	RunProgress(ctx context.Context, submissionID uuid.UUID, overall, video float64)
	RunCompleted(ctx context.Context, submissionID uuid.UUID)
	RunRejected(ctx context.Context, submissionID uuid.UUID, reason string)
	RunFailed(ctx context.Context, submissionID uuid.UUID, stage Stage, err error)
	RunCancelled(ctx context.Context, submissionID uuid.UUID)
}
