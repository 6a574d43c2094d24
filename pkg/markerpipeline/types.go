package markerpipeline

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionStatus represents the lifecycle state of a submission record.
type SubmissionStatus string

const (
	StatusProcessing        SubmissionStatus = "processing"
	StatusReady             SubmissionStatus = "ready"
	StatusError             SubmissionStatus = "error"
	StatusNeedsBetterSource SubmissionStatus = "needs_better_source"
)

// String returns the string representation of the status.
func (s SubmissionStatus) String() string {
	return string(s)
}

// Terminal reports whether the status admits no further transitions.
// A retry of a failed or rejected submission goes through a fresh run
// with a fresh record, never a terminal-to-terminal transition.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusReady, StatusError, StatusNeedsBetterSource:
		return true
	}
	return false
}

// AssetType identifies one of the three assets a submission carries.
type AssetType string

const (
	AssetImage  AssetType = "image"
	AssetVideo  AssetType = "video"
	AssetMarker AssetType = "marker"
)

// Stage identifies where a pipeline run currently is.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageNormalizingVideo Stage = "normalizing_video"
	StageCreatingRecord   Stage = "creating_record"
	StageUploadingImage   Stage = "uploading_image"
	StageUploadingVideo   Stage = "uploading_video"
	StageCompilingMarker  Stage = "compiling_marker"
	StageUploadingMarker  Stage = "uploading_marker"
	StageCompleted        Stage = "completed"
)

// Submission is the durable record describing one image+video submission.
// Asset keys are canonical storage locations, never signed URLs; access
// capabilities are derived on demand and never persisted.
type Submission struct {
	ID          uuid.UUID        `json:"id"`
	OwnerID     uuid.UUID        `json:"owner_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	ImageKey    string           `json:"image_key,omitempty"`
	VideoKey    string           `json:"video_key,omitempty"`
	MarkerKey   string           `json:"marker_key,omitempty"`
	Status      SubmissionStatus `json:"status"`
	ErrorDetail string           `json:"error_detail,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// SubmissionDetails is a submission enriched with freshly derived read
// URLs. When a URL cannot be re-signed the field falls back to the raw
// object key, so listings never hard-fail on one asset.
type SubmissionDetails struct {
	Submission
	ImageURL  string `json:"image_url,omitempty"`
	VideoURL  string `json:"video_url,omitempty"`
	MarkerURL string `json:"marker_url,omitempty"`
}

// GrantOperation is the single operation a capability grant authorizes.
type GrantOperation string

const (
	OperationRead  GrantOperation = "read"
	OperationWrite GrantOperation = "write"
)

// Grant is a short-lived, scope-limited capability to perform one
// operation against one storage key. Grants are transient: they are
// derived per request and never stored.
type Grant struct {
	Key       string         `json:"key"`
	Operation GrantOperation `json:"operation"`
	URL       string         `json:"url"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired reports whether the grant is past its expiry at the given time.
func (g *Grant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// MarkerArtifact is a compiled feature-descriptor blob plus its manifest.
type MarkerArtifact struct {
	Data         []byte
	FeatureCount int
	SourceWidth  int
	SourceHeight int
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

// RunSnapshot is a point-in-time view of a pipeline run. Overall is the
// critical-path projection; VideoProgress is the video branch's own
// fraction, surfaced independently because the video upload is usually
// the longest operation but never gates the marker milestone.
type RunSnapshot struct {
	SubmissionID  uuid.UUID `json:"submission_id"`
	Stage         Stage     `json:"stage"`
	Overall       float64   `json:"overall"`
	VideoProgress float64   `json:"video_progress"`
}

// CreateSubmissionRequest carries the user-supplied metadata for a new
// submission record.
type CreateSubmissionRequest struct {
	OwnerID     uuid.UUID
	Title       string
	Description string
}

// AssetKeys holds canonical key updates for a submission. Empty fields
// leave the stored value unchanged.
type AssetKeys struct {
	ImageKey  string
	VideoKey  string
	MarkerKey string
}
