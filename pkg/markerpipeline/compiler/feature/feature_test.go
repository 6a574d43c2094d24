package feature

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
)

func noiseImage(w, h int) image.Image {
	rng := rand.New(rand.NewSource(1))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(rng.Intn(256))})
		}
	}
	return img
}

func uniformImage(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 128})
		}
	}
	return img
}

func TestCompileTexturedImage(t *testing.T) {
	c := New()
	var progress []float64

	artifact, err := c.Compile(context.Background(), noiseImage(128, 128), func(pct float64) {
		progress = append(progress, pct)
	})
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, 128, artifact.SourceWidth)
	assert.Equal(t, 128, artifact.SourceHeight)
	assert.GreaterOrEqual(t, artifact.FeatureCount, defaultMinCount)

	// Header: magic, then width, height, count big-endian.
	data := artifact.Data
	require.Greater(t, len(data), 16)
	assert.Equal(t, artifactMagic, string(data[:4]))
	assert.Equal(t, uint32(128), binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(128), binary.BigEndian.Uint32(data[8:12]))
	count := binary.BigEndian.Uint32(data[12:16])
	assert.Equal(t, uint32(artifact.FeatureCount), count)
	assert.Len(t, data, 16+int(count)*12)

	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.InDelta(t, 100, last, 0.001)
	for i, pct := range progress {
		assert.GreaterOrEqual(t, pct, 0.0)
		assert.LessOrEqual(t, pct, 100.0)
		if i > 0 {
			assert.GreaterOrEqual(t, pct, progress[i-1])
		}
	}
}

func TestCompileFeaturesSpatiallySpread(t *testing.T) {
	c := New()
	artifact, err := c.Compile(context.Background(), noiseImage(192, 192), nil)
	require.NoError(t, err)

	// One feature per grid cell at most.
	cols := (192 + defaultCellSize - 1) / defaultCellSize
	seen := map[int]bool{}
	for i := 0; i < artifact.FeatureCount; i++ {
		rec := artifact.Data[16+i*12:]
		x := int(binary.BigEndian.Uint32(rec[0:4]))
		y := int(binary.BigEndian.Uint32(rec[4:8]))
		cell := (y/defaultCellSize)*cols + x/defaultCellSize
		assert.False(t, seen[cell], "two features in cell %d", cell)
		seen[cell] = true
	}
}

func TestCompileRejectsFeaturelessImage(t *testing.T) {
	c := New()

	_, err := c.Compile(context.Background(), uniformImage(128, 128), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, markerpipeline.ErrSourceRejected)
	assert.Equal(t, markerpipeline.FailureRejected, markerpipeline.ClassifyError(err))
}

func TestCompileRejectsTinyImage(t *testing.T) {
	c := New()
	_, err := c.Compile(context.Background(), uniformImage(2, 2), nil)
	assert.ErrorIs(t, err, markerpipeline.ErrSourceRejected)
}

func TestCompileObservesCancellation(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Compile(ctx, noiseImage(256, 256), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompileMinFeaturesOption(t *testing.T) {
	// A threshold no realistic image meets forces rejection even for
	// textured input.
	c := New(WithMinFeatures(1_000_000))
	_, err := c.Compile(context.Background(), noiseImage(128, 128), nil)
	assert.ErrorIs(t, err, markerpipeline.ErrSourceRejected)
}
