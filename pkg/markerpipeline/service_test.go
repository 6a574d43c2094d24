package markerpipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
	memoryrepo "github.com/pixeltrack/marker-pipeline/pkg/markerpipeline/repo/memory"
)

func setupTestService(t *testing.T) markerpipeline.Service {
	t.Helper()
	svc, err := markerpipeline.New(
		markerpipeline.WithRepository(memoryrepo.New()),
	)
	require.NoError(t, err)
	return svc
}

func TestNewRequiresRepository(t *testing.T) {
	_, err := markerpipeline.New()
	require.Error(t, err)
}

func TestCreateSubmission(t *testing.T) {
	svc := setupTestService(t)
	owner := uuid.New()

	sub, err := svc.CreateSubmission(context.Background(), markerpipeline.CreateSubmissionRequest{
		OwnerID:     owner,
		Title:       "  Garden mural  ",
		Description: "wall art",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sub.ID)
	assert.Equal(t, owner, sub.OwnerID)
	assert.Equal(t, "Garden mural", sub.Title)
	assert.Equal(t, markerpipeline.StatusProcessing, sub.Status)
	assert.WithinDuration(t, time.Now(), sub.CreatedAt, time.Minute)
}

func TestCreateSubmissionValidation(t *testing.T) {
	svc := setupTestService(t)

	_, err := svc.CreateSubmission(context.Background(), markerpipeline.CreateSubmissionRequest{
		OwnerID: uuid.New(),
		Title:   "   ",
	})
	assert.ErrorIs(t, err, markerpipeline.ErrInvalidSubmission)

	_, err = svc.CreateSubmission(context.Background(), markerpipeline.CreateSubmissionRequest{
		Title: "No owner",
	})
	assert.ErrorIs(t, err, markerpipeline.ErrInvalidSubmission)
}

func TestGetSubmissionOwnerScoped(t *testing.T) {
	svc := setupTestService(t)
	owner := uuid.New()

	sub, err := svc.CreateSubmission(context.Background(), markerpipeline.CreateSubmissionRequest{
		OwnerID: owner,
		Title:   "Test",
	})
	require.NoError(t, err)

	got, err := svc.GetSubmission(context.Background(), owner, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = svc.GetSubmission(context.Background(), uuid.New(), sub.ID)
	assert.ErrorIs(t, err, markerpipeline.ErrSubmissionNotFound)
}

func TestUpdateStatusStateMachine(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	owner := uuid.New()

	sub, err := svc.CreateSubmission(ctx, markerpipeline.CreateSubmissionRequest{
		OwnerID: owner,
		Title:   "Test",
	})
	require.NoError(t, err)

	got, err := svc.UpdateStatus(ctx, owner, sub.ID, markerpipeline.StatusError, "compile blew up")
	require.NoError(t, err)
	assert.Equal(t, markerpipeline.StatusError, got.Status)
	assert.Equal(t, "compile blew up", got.ErrorDetail)

	// Terminal states never transition to each other.
	_, err = svc.UpdateStatus(ctx, owner, sub.ID, markerpipeline.StatusReady, "")
	assert.ErrorIs(t, err, markerpipeline.ErrInvalidStatusTransition)
}

func TestUpdateStatusClearsDetailOutsideError(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	owner := uuid.New()

	sub, err := svc.CreateSubmission(ctx, markerpipeline.CreateSubmissionRequest{
		OwnerID: owner,
		Title:   "Test",
	})
	require.NoError(t, err)

	got, err := svc.UpdateStatus(ctx, owner, sub.ID, markerpipeline.StatusNeedsBetterSource, "ignored")
	require.NoError(t, err)
	assert.Equal(t, markerpipeline.StatusNeedsBetterSource, got.Status)
	assert.Empty(t, got.ErrorDetail)
}

func TestSetAssetKeysPartialUpdate(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	owner := uuid.New()

	sub, err := svc.CreateSubmission(ctx, markerpipeline.CreateSubmissionRequest{
		OwnerID: owner,
		Title:   "Test",
	})
	require.NoError(t, err)

	err = svc.SetAssetKeys(ctx, owner, sub.ID, markerpipeline.AssetKeys{
		ImageKey: "a/b/image.png",
		VideoKey: "a/b/video.mp4",
	})
	require.NoError(t, err)

	err = svc.SetAssetKeys(ctx, owner, sub.ID, markerpipeline.AssetKeys{
		MarkerKey: "a/b/marker.marker",
	})
	require.NoError(t, err)

	got, err := svc.GetSubmission(ctx, owner, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "a/b/image.png", got.ImageKey)
	assert.Equal(t, "a/b/video.mp4", got.VideoKey)
	assert.Equal(t, "a/b/marker.marker", got.MarkerKey)
}

func TestDeleteSubmission(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	owner := uuid.New()

	sub, err := svc.CreateSubmission(ctx, markerpipeline.CreateSubmissionRequest{
		OwnerID: owner,
		Title:   "Test",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSubmission(ctx, owner, sub.ID))

	_, err = svc.GetSubmission(ctx, owner, sub.ID)
	assert.ErrorIs(t, err, markerpipeline.ErrSubmissionNotFound)
}

func TestListSubmissionsWithFallbackURLs(t *testing.T) {
	ctx := context.Background()
	repo := memoryrepo.New()

	// A store whose signing always fails: listings degrade to raw keys.
	failing := &failingURLStore{}
	provisioner := markerpipeline.NewProvisioner("test", failing,
		markerpipeline.WithAttempts(1),
	)
	svc, err := markerpipeline.New(
		markerpipeline.WithRepository(repo),
		markerpipeline.WithProvisioner(provisioner),
	)
	require.NoError(t, err)

	owner := uuid.New()
	sub, err := svc.CreateSubmission(ctx, markerpipeline.CreateSubmissionRequest{
		OwnerID: owner,
		Title:   "Test",
	})
	require.NoError(t, err)
	require.NoError(t, svc.SetAssetKeys(ctx, owner, sub.ID, markerpipeline.AssetKeys{
		ImageKey: "k/image.png",
	}))

	list, err := svc.ListSubmissions(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "k/image.png", list[0].ImageURL)
	assert.Empty(t, list[0].VideoURL)
}

type failingURLStore struct {
	markerpipeline.BlobStore
}

func (f *failingURLStore) GetDownloadURL(ctx context.Context, objectKey string, expiresIn time.Duration) (string, error) {
	return "", markerpipeline.Permanent(errors.New("signing broken"))
}
