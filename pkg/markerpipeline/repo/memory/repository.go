// Package memory provides an in-memory submission repository for tests
// and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
)

// Repository is an in-memory implementation of
// markerpipeline.Repository. It stores copies on every write and read
// so callers cannot mutate shared state.
type Repository struct {
	mu          sync.RWMutex
	submissions map[uuid.UUID]*markerpipeline.Submission
}

// New creates an empty repository.
func New() *Repository {
	return &Repository{
		submissions: make(map[uuid.UUID]*markerpipeline.Submission),
	}
}

func (r *Repository) CreateSubmission(ctx context.Context, sub *markerpipeline.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.submissions[sub.ID]; exists {
		return fmt.Errorf("submission %s already exists", sub.ID)
	}
	stored := *sub
	r.submissions[sub.ID] = &stored
	return nil
}

func (r *Repository) GetSubmission(ctx context.Context, ownerID, id uuid.UUID) (*markerpipeline.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.submissions[id]
	// A record owned by someone else is indistinguishable from a
	// missing one.
	if !ok || sub.OwnerID != ownerID {
		return nil, markerpipeline.ErrSubmissionNotFound
	}
	out := *sub
	return &out, nil
}

func (r *Repository) UpdateSubmission(ctx context.Context, sub *markerpipeline.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.submissions[sub.ID]
	if !ok || existing.OwnerID != sub.OwnerID {
		return markerpipeline.ErrSubmissionNotFound
	}
	stored := *sub
	r.submissions[sub.ID] = &stored
	return nil
}

func (r *Repository) DeleteSubmission(ctx context.Context, ownerID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[id]
	if !ok || sub.OwnerID != ownerID {
		return markerpipeline.ErrSubmissionNotFound
	}
	delete(r.submissions, id)
	return nil
}

func (r *Repository) ListSubmissions(ctx context.Context, ownerID uuid.UUID) ([]*markerpipeline.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*markerpipeline.Submission
	for _, sub := range r.submissions {
		if sub.OwnerID != ownerID {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
