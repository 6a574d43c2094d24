package markerpipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// service is the default Service implementation over a Repository, with
// an optional Provisioner for read-URL enrichment on listings.
type service struct {
	repo        Repository
	provisioner *Provisioner
	logger      *slog.Logger
}

// Option configures the submission record service.
type Option func(*service)

// WithRepository sets the submission repository. Required.
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repo = repo
	}
}

// WithProvisioner enables read-URL enrichment on listings. Optional;
// without it listings carry raw keys only.
func WithProvisioner(p *Provisioner) Option {
	return func(s *service) {
		s.provisioner = p
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a submission record service.
func New(opts ...Option) (Service, error) {
	s := &service{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	return s, nil
}

func (s *service) CreateSubmission(ctx context.Context, req CreateSubmissionRequest) (*Submission, error) {
	if req.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidSubmission)
	}

	now := time.Now().UTC()
	sub := &Submission{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSubmission(ctx, sub); err != nil {
		return nil, &SubmissionError{SubmissionID: sub.ID, Op: "create", Err: err}
	}
	return sub, nil
}

func (s *service) GetSubmission(ctx context.Context, ownerID, id uuid.UUID) (*Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, ownerID, id)
	if err != nil {
		return nil, &SubmissionError{SubmissionID: id, Op: "get", Err: err}
	}
	return sub, nil
}

func (s *service) ListSubmissions(ctx context.Context, ownerID uuid.UUID) ([]*SubmissionDetails, error) {
	subs, err := s.repo.ListSubmissions(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	details := make([]*SubmissionDetails, 0, len(subs))
	for _, sub := range subs {
		d := &SubmissionDetails{Submission: *sub}
		if s.provisioner != nil {
			d.ImageURL = s.provisioner.ReadURLOrKey(ctx, sub.ImageKey)
			d.VideoURL = s.provisioner.ReadURLOrKey(ctx, sub.VideoKey)
			d.MarkerURL = s.provisioner.ReadURLOrKey(ctx, sub.MarkerKey)
		}
		details = append(details, d)
	}
	return details, nil
}

func (s *service) SetAssetKeys(ctx context.Context, ownerID, id uuid.UUID, keys AssetKeys) error {
	sub, err := s.repo.GetSubmission(ctx, ownerID, id)
	if err != nil {
		return &SubmissionError{SubmissionID: id, Op: "set_asset_keys", Err: err}
	}
	if keys.ImageKey != "" {
		sub.ImageKey = keys.ImageKey
	}
	if keys.VideoKey != "" {
		sub.VideoKey = keys.VideoKey
	}
	if keys.MarkerKey != "" {
		sub.MarkerKey = keys.MarkerKey
	}
	sub.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateSubmission(ctx, sub); err != nil {
		return &SubmissionError{SubmissionID: id, Op: "set_asset_keys", Err: err}
	}
	return nil
}

func (s *service) UpdateStatus(ctx context.Context, ownerID, id uuid.UUID, status SubmissionStatus, errorDetail string) (*Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, ownerID, id)
	if err != nil {
		return nil, &SubmissionError{SubmissionID: id, Op: "update_status", Err: err}
	}
	if err := ValidateTransition(sub.Status, status); err != nil {
		return nil, &SubmissionError{SubmissionID: id, Op: "update_status", Err: err}
	}

	sub.Status = status
	// Error detail accompanies the error status only; the rejection
	// outcome carries guidance at the presentation layer instead.
	if status == StatusError {
		sub.ErrorDetail = errorDetail
	} else {
		sub.ErrorDetail = ""
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateSubmission(ctx, sub); err != nil {
		return nil, &SubmissionError{SubmissionID: id, Op: "update_status", Err: err}
	}
	return sub, nil
}

func (s *service) DeleteSubmission(ctx context.Context, ownerID, id uuid.UUID) error {
	if err := s.repo.DeleteSubmission(ctx, ownerID, id); err != nil {
		return &SubmissionError{SubmissionID: id, Op: "delete", Err: err}
	}
	return nil
}
