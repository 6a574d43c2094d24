package markerpipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/objectkey"
)

const (
	defaultCompileTimeout = 2 * time.Minute
	defaultMaxImageBytes  = 32 << 20
	defaultMaxVideoBytes  = 512 << 20

	markerExt = "marker"
)

// StartRequest carries everything one pipeline run needs. Image and
// Video hold the encoded asset bytes; the extensions determine storage
// keys and upload content types and default to png and mp4.
type StartRequest struct {
	OwnerID     uuid.UUID
	Title       string
	Description string
	Image       []byte
	ImageExt    string
	Video       []byte
	VideoExt    string
}

func (r StartRequest) validate(maxImage, maxVideo int64) error {
	if r.OwnerID == uuid.Nil {
		return Permanent(fmt.Errorf("%w: owner is required", ErrInvalidSubmission))
	}
	if strings.TrimSpace(r.Title) == "" {
		return Permanent(fmt.Errorf("%w: title is required", ErrInvalidSubmission))
	}
	if len(r.Image) == 0 {
		return Permanent(fmt.Errorf("%w: image is empty", ErrInvalidSubmission))
	}
	if len(r.Video) == 0 {
		return Permanent(fmt.Errorf("%w: video is empty", ErrInvalidSubmission))
	}
	if maxImage > 0 && int64(len(r.Image)) > maxImage {
		return Permanent(fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidSubmission, maxImage))
	}
	if maxVideo > 0 && int64(len(r.Video)) > maxVideo {
		return Permanent(fmt.Errorf("%w: video exceeds %d bytes", ErrInvalidSubmission, maxVideo))
	}
	return nil
}

// Orchestrator owns one pipeline run at a time. It drives stage
// transitions in order, forks the image path (upload, compile, marker
// upload) from the video upload, joins both branches before finalizing
// the record, and propagates cancellation cooperatively. It is the only
// component that writes submission status.
type Orchestrator struct {
	svc            Service
	provisioner    *Provisioner
	uploader       *UploadCoordinator
	compiler       Compiler
	transcoder     Transcoder
	keys           objectkey.Generator
	events         EventSink
	logger         *slog.Logger
	compileTimeout time.Duration
	maxImageBytes  int64
	maxVideoBytes  int64

	mu           sync.Mutex
	active       bool
	cancel       context.CancelFunc
	tracker      *ProgressTracker
	stage        Stage
	submissionID uuid.UUID
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithService sets the submission record service. Required.
func WithService(svc Service) OrchestratorOption {
	return func(o *Orchestrator) { o.svc = svc }
}

// WithGrantProvisioner sets the capability provisioner. Required.
func WithGrantProvisioner(p *Provisioner) OrchestratorOption {
	return func(o *Orchestrator) { o.provisioner = p }
}

// WithUploader sets the upload coordinator.
func WithUploader(u *UploadCoordinator) OrchestratorOption {
	return func(o *Orchestrator) {
		if u != nil {
			o.uploader = u
		}
	}
}

// WithCompiler sets the marker compiler. Required.
func WithCompiler(c Compiler) OrchestratorOption {
	return func(o *Orchestrator) { o.compiler = c }
}

// WithTranscoder sets the video normalizer. Optional; without it videos
// are uploaded as submitted.
func WithTranscoder(t Transcoder) OrchestratorOption {
	return func(o *Orchestrator) { o.transcoder = t }
}

// WithObjectKeyGenerator overrides the storage key scheme.
func WithObjectKeyGenerator(g objectkey.Generator) OrchestratorOption {
	return func(o *Orchestrator) {
		if g != nil {
			o.keys = g
		}
	}
}

// WithEventSink sets the sink pipeline events are emitted to.
func WithEventSink(sink EventSink) OrchestratorOption {
	return func(o *Orchestrator) {
		if sink != nil {
			o.events = sink
		}
	}
}

// WithOrchestratorLogger sets the orchestrator logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCompileTimeout sets the hard deadline for the compilation stage.
// A hung compilation capability must not strand the pipeline.
func WithCompileTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.compileTimeout = d
		}
	}
}

// WithSizeLimits sets the input size ceilings. Zero disables a ceiling.
func WithSizeLimits(maxImageBytes, maxVideoBytes int64) OrchestratorOption {
	return func(o *Orchestrator) {
		o.maxImageBytes = maxImageBytes
		o.maxVideoBytes = maxVideoBytes
	}
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(opts ...OrchestratorOption) (*Orchestrator, error) {
	o := &Orchestrator{
		uploader:       NewUploadCoordinator(),
		keys:           objectkey.OwnerScoped{},
		events:         NoopEventSink{},
		logger:         slog.Default(),
		compileTimeout: defaultCompileTimeout,
		maxImageBytes:  defaultMaxImageBytes,
		maxVideoBytes:  defaultMaxVideoBytes,
		stage:          StageIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.svc == nil {
		return nil, errors.New("record service is required")
	}
	if o.provisioner == nil {
		return nil, errors.New("grant provisioner is required")
	}
	if o.compiler == nil {
		return nil, errors.New("compiler is required")
	}
	return o, nil
}

// Start executes one pipeline run to completion and returns the
// submission id. It blocks until the run resolves; Cancel may be called
// from another goroutine. A second Start while a run is active returns
// ErrRunActive.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (uuid.UUID, error) {
	if err := req.validate(o.maxImageBytes, o.maxVideoBytes); err != nil {
		return uuid.Nil, err
	}

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return uuid.Nil, ErrRunActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	tracker := NewProgressTracker(func(overall, video float64) {
		o.events.RunProgress(runCtx, o.currentSubmissionID(), overall, video)
	})
	o.active = true
	o.cancel = cancel
	o.tracker = tracker
	o.stage = StageIdle
	o.submissionID = uuid.Nil
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.active = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	return o.run(runCtx, req, tracker)
}

// Cancel requests cooperative cancellation of the active run. Every
// in-flight sub-operation observes it at its next yield point (a chunk
// boundary in a transfer, a progress checkpoint in compilation).
// Calling Cancel when no run is active is a no-op.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a point-in-time view of the current run.
func (o *Orchestrator) Snapshot() RunSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := RunSnapshot{SubmissionID: o.submissionID, Stage: o.stage}
	if o.tracker != nil {
		snap.Overall = o.tracker.Overall()
		snap.VideoProgress = o.tracker.Video()
	}
	return snap
}

func (o *Orchestrator) run(ctx context.Context, req StartRequest, tracker *ProgressTracker) (uuid.UUID, error) {
	video := req.Video

	// Normalization happens before any server-side state exists, so a
	// conversion failure costs nothing to roll back.
	if o.transcoder != nil {
		o.setStage(ctx, StageNormalizingVideo, tracker)
		normalized, err := o.transcoder.Normalize(ctx, video, func(pct float64) {
			tracker.Update(StageNormalizingVideo, pct)
		})
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return uuid.Nil, &ClassifiedError{Class: FailureCancelled, Err: ctx.Err()}
			}
			return uuid.Nil, fmt.Errorf("normalize video: %w", err)
		}
		video = normalized
	}

	o.setStage(ctx, StageCreatingRecord, tracker)
	sub, err := o.svc.CreateSubmission(ctx, CreateSubmissionRequest{
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create submission: %w", err)
	}
	o.setSubmissionID(sub.ID)
	o.events.RunStarted(ctx, req.OwnerID, sub.ID)
	tracker.Update(StageCreatingRecord, 100)

	imageKey := o.keys.Key(req.OwnerID, sub.ID, string(AssetImage), extOrDefault(req.ImageExt, "png"))
	videoKey := o.keys.Key(req.OwnerID, sub.ID, string(AssetVideo), extOrDefault(req.VideoExt, "mp4"))

	// Both asset write grants are issued up front. The marker grant is
	// deliberately not: the artifact's size is unknown until compilation
	// succeeds, and speculative issuance invites upload rejections.
	imageGrant, err := o.provisioner.GrantWrite(ctx, imageKey)
	if err != nil {
		return sub.ID, o.settle(ctx, req.OwnerID, sub.ID, fmt.Errorf("provision image write: %w", err))
	}
	videoGrant, err := o.provisioner.GrantWrite(ctx, videoKey)
	if err != nil {
		return sub.ID, o.settle(ctx, req.OwnerID, sub.ID, fmt.Errorf("provision video write: %w", err))
	}

	o.setStage(ctx, StageUploadingImage, tracker)

	g, gctx := errgroup.WithContext(ctx)
	var markerKey string

	// Image branch: upload, compile, then provision and upload the
	// artifact. This branch gates the marker milestone.
	g.Go(func() error {
		if err := o.uploader.Upload(gctx, imageGrant, req.Image, contentTypeForExt(req.ImageExt, "image/png"), func(pct float64) {
			tracker.Update(StageUploadingImage, pct)
		}); err != nil {
			return fmt.Errorf("upload image: %w", err)
		}

		o.setStage(gctx, StageCompilingMarker, tracker)
		artifact, err := o.compileMarker(gctx, req.Image, tracker)
		if err != nil {
			return err
		}

		key := o.keys.Key(req.OwnerID, sub.ID, string(AssetMarker), markerExt)
		grant, err := o.provisioner.GrantWrite(gctx, key)
		if err != nil {
			return fmt.Errorf("provision marker write: %w", err)
		}

		o.setStage(gctx, StageUploadingMarker, tracker)
		if err := o.uploader.Upload(gctx, grant, artifact.Data, "application/octet-stream", func(pct float64) {
			tracker.Update(StageUploadingMarker, pct)
		}); err != nil {
			return fmt.Errorf("upload marker: %w", err)
		}
		markerKey = key
		return nil
	})

	// Video branch: runs concurrently with the image branch and never
	// gates the marker milestone. Its progress feeds its own band plus
	// the secondary video value.
	g.Go(func() error {
		o.setStage(gctx, StageUploadingVideo, tracker)
		if err := o.uploader.Upload(gctx, videoGrant, video, contentTypeForExt(req.VideoExt, "video/mp4"), func(pct float64) {
			tracker.Update(StageUploadingVideo, pct)
		}); err != nil {
			return fmt.Errorf("upload video: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return sub.ID, o.settle(ctx, req.OwnerID, sub.ID, err)
	}

	if err := o.svc.SetAssetKeys(ctx, req.OwnerID, sub.ID, AssetKeys{
		ImageKey:  imageKey,
		VideoKey:  videoKey,
		MarkerKey: markerKey,
	}); err != nil {
		return sub.ID, o.settle(ctx, req.OwnerID, sub.ID, err)
	}
	if _, err := o.svc.UpdateStatus(ctx, req.OwnerID, sub.ID, StatusReady, ""); err != nil {
		return sub.ID, o.settle(ctx, req.OwnerID, sub.ID, err)
	}

	o.setStage(ctx, StageCompleted, tracker)
	o.events.RunCompleted(ctx, sub.ID)
	return sub.ID, nil
}

// compileMarker decodes the image and runs the compilation capability
// off this goroutine under a hard deadline.
func (o *Orchestrator) compileMarker(ctx context.Context, encoded []byte, tracker *ProgressTracker) (*MarkerArtifact, error) {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, o.compileTimeout)
	defer cancel()

	type compileResult struct {
		artifact *MarkerArtifact
		err      error
	}
	done := make(chan compileResult, 1)
	go func() {
		artifact, err := o.compiler.Compile(cctx, img, func(pct float64) {
			tracker.Update(StageCompilingMarker, pct)
		})
		done <- compileResult{artifact: artifact, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("compile marker: %w", r.err)
		}
		return r.artifact, nil
	case <-cctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, &ClassifiedError{Class: FailureCancelled, Err: ctx.Err()}
		}
		return nil, fmt.Errorf("compile marker: %w", ErrCompileTimeout)
	}
}

// settle maps a failed run onto the record's terminal state. Rejection
// becomes needs_better_source, cancellation deletes the record so no
// orphaned processing row survives, and everything else becomes error
// with a human-readable cause.
func (o *Orchestrator) settle(ctx context.Context, ownerID, id uuid.UUID, runErr error) error {
	stage := o.currentStage()

	switch ClassifyError(runErr) {
	case FailureCancelled:
		// The run context is already cancelled; the compensating
		// delete must still go through.
		dctx := context.WithoutCancel(ctx)
		if err := o.svc.DeleteSubmission(dctx, ownerID, id); err != nil && !errors.Is(err, ErrSubmissionNotFound) {
			o.logger.Error("compensating delete failed",
				"submission_id", id,
				"error", err)
		}
		o.events.RunCancelled(context.WithoutCancel(ctx), id)
		return runErr

	case FailureRejected:
		if _, err := o.svc.UpdateStatus(ctx, ownerID, id, StatusNeedsBetterSource, ""); err != nil {
			o.logger.Error("failed to record rejection",
				"submission_id", id,
				"error", err)
		}
		o.events.RunRejected(ctx, id, runErr.Error())
		return runErr

	default:
		if _, err := o.svc.UpdateStatus(ctx, ownerID, id, StatusError, runErr.Error()); err != nil {
			o.logger.Error("failed to record run failure",
				"submission_id", id,
				"error", err)
		}
		o.events.RunFailed(ctx, id, stage, runErr)
		return runErr
	}
}

// setStage advances the run's stage. Stages only move forward: the two
// branches race, so a branch entering an earlier-ordered stage after a
// later one has been reached is ignored.
func (o *Orchestrator) setStage(ctx context.Context, stage Stage, tracker *ProgressTracker) {
	o.mu.Lock()
	if stageOrder[stage] <= stageOrder[o.stage] {
		o.mu.Unlock()
		return
	}
	o.stage = stage
	id := o.submissionID
	o.mu.Unlock()

	tracker.Update(stage, 0)
	o.events.StageChanged(ctx, id, stage)
}

func (o *Orchestrator) currentStage() Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

func (o *Orchestrator) setSubmissionID(id uuid.UUID) {
	o.mu.Lock()
	o.submissionID = id
	o.mu.Unlock()
}

func (o *Orchestrator) currentSubmissionID() uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submissionID
}

func extOrDefault(ext, fallback string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return fallback
	}
	return ext
}

func contentTypeForExt(ext, fallback string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return fallback
	}
	if ct := mime.TypeByExtension("." + strings.ToLower(ext)); ct != "" {
		return ct
	}
	return fallback
}
