// Package postgres provides a pgx-backed submission repository.
//
// Expected schema:
//
//	CREATE TABLE submissions (
//	    id           UUID PRIMARY KEY,
//	    owner_id     UUID NOT NULL,
//	    title        TEXT NOT NULL,
//	    description  TEXT NOT NULL DEFAULT '',
//	    image_key    TEXT NOT NULL DEFAULT '',
//	    video_key    TEXT NOT NULL DEFAULT '',
//	    marker_key   TEXT NOT NULL DEFAULT '',
//	    status       TEXT NOT NULL,
//	    error_detail TEXT NOT NULL DEFAULT '',
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    updated_at   TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX submissions_owner_idx ON submissions (owner_id, created_at DESC);
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
)

// Repository is a postgres implementation of markerpipeline.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewWithPool creates a repository over an existing connection pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const submissionColumns = `id, owner_id, title, description, image_key, video_key, marker_key, status, error_detail, created_at, updated_at`

func (r *Repository) CreateSubmission(ctx context.Context, sub *markerpipeline.Submission) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.OwnerID, sub.Title, sub.Description,
		sub.ImageKey, sub.VideoKey, sub.MarkerKey,
		string(sub.Status), sub.ErrorDetail,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *Repository) GetSubmission(ctx context.Context, ownerID, id uuid.UUID) (*markerpipeline.Submission, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, markerpipeline.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("select submission: %w", err)
	}
	return sub, nil
}

func (r *Repository) UpdateSubmission(ctx context.Context, sub *markerpipeline.Submission) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions
		SET title = $3, description = $4,
		    image_key = $5, video_key = $6, marker_key = $7,
		    status = $8, error_detail = $9, updated_at = $10
		WHERE id = $1 AND owner_id = $2`,
		sub.ID, sub.OwnerID, sub.Title, sub.Description,
		sub.ImageKey, sub.VideoKey, sub.MarkerKey,
		string(sub.Status), sub.ErrorDetail, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return markerpipeline.ErrSubmissionNotFound
	}
	return nil
}

func (r *Repository) DeleteSubmission(ctx context.Context, ownerID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM submissions
		WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return markerpipeline.ErrSubmissionNotFound
	}
	return nil
}

func (r *Repository) ListSubmissions(ctx context.Context, ownerID uuid.UUID) ([]*markerpipeline.Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE owner_id = $1
		ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []*markerpipeline.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

func scanSubmission(row pgx.Row) (*markerpipeline.Submission, error) {
	var sub markerpipeline.Submission
	var status string
	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.Title, &sub.Description,
		&sub.ImageKey, &sub.VideoKey, &sub.MarkerKey,
		&status, &sub.ErrorDetail,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = markerpipeline.SubmissionStatus(status)
	return &sub, nil
}
