// Package feature compiles a still image into a compact binary marker
// descriptor. Corner-like points are scored from luminance gradients
// and the strongest point per grid cell is kept, so descriptors stay
// small and spatially spread. Images without enough such points cannot
// be tracked reliably and are rejected rather than compiled.
package feature

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"sort"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
)

const (
	artifactMagic   = "MRK1"
	defaultMinScore = 900.0
	defaultMinCount = 24
	defaultCellSize = 24
)

// Compiler is the built-in markerpipeline.Compiler implementation.
type Compiler struct {
	minScore float64
	minCount int
	cellSize int
}

// Option configures the compiler.
type Option func(*Compiler)

// WithMinFeatures sets how many features an image must yield to avoid
// rejection.
func WithMinFeatures(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.minCount = n
		}
	}
}

// WithScoreThreshold sets the minimum gradient score for a candidate
// point.
func WithScoreThreshold(score float64) Option {
	return func(c *Compiler) {
		if score > 0 {
			c.minScore = score
		}
	}
}

// New creates a compiler with default thresholds.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		minScore: defaultMinScore,
		minCount: defaultMinCount,
		cellSize: defaultCellSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type point struct {
	x, y  int
	score float64
}

// Compile scans the image for corner-like points and encodes them into
// a marker artifact. It checks ctx and reports progress once per scan
// band, so a cancelled run stops within a few rows.
func (c *Compiler) Compile(ctx context.Context, img image.Image, onProgress func(percent float64)) (*markerpipeline.MarkerArtifact, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 3 || h < 3 {
		return nil, fmt.Errorf("%w: image is %dx%d", markerpipeline.ErrSourceRejected, w, h)
	}

	gray := luminance(img)

	// Best candidate per grid cell.
	cols := (w + c.cellSize - 1) / c.cellSize
	rows := (h + c.cellSize - 1) / c.cellSize
	cells := make([]point, cols*rows)

	for y := 1; y < h-1; y++ {
		if y%32 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if onProgress != nil {
				onProgress(float64(y) / float64(h) * 90)
			}
		}
		row := gray[y]
		above, below := gray[y-1], gray[y+1]
		for x := 1; x < w-1; x++ {
			gx := row[x+1] - row[x-1]
			gy := below[x] - above[x]
			// A corner needs structure along both axes; an edge
			// scores high on one gradient only.
			score := min(gx*gx, gy*gy)
			if score < c.minScore {
				continue
			}
			cell := &cells[(y/c.cellSize)*cols+x/c.cellSize]
			if score > cell.score {
				*cell = point{x: x, y: y, score: score}
			}
		}
	}

	features := make([]point, 0, len(cells))
	for _, cell := range cells {
		if cell.score > 0 {
			features = append(features, cell)
		}
	}
	if len(features) < c.minCount {
		return nil, fmt.Errorf("%w: found %d trackable features, need %d",
			markerpipeline.ErrSourceRejected, len(features), c.minCount)
	}
	sort.Slice(features, func(i, j int) bool {
		return features[i].score > features[j].score
	})

	data, err := encodeArtifact(w, h, features)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return &markerpipeline.MarkerArtifact{
		Data:         data,
		FeatureCount: len(features),
		SourceWidth:  w,
		SourceHeight: h,
	}, nil
}

// encodeArtifact writes the descriptor: a magic plus dimensions and
// count header, then one fixed-width record per feature.
func encodeArtifact(w, h int, features []point) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(artifactMagic)
	header := []uint32{uint32(w), uint32(h), uint32(len(features))}
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, err
	}
	for _, f := range features {
		rec := []uint32{uint32(f.x), uint32(f.y), uint32(f.score)}
		if err := binary.Write(buf, binary.BigEndian, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// luminance converts the image to a float gray plane using the Rec.601
// weights the stdlib gray model uses.
func luminance(img image.Image) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		row := make([]float64, w)
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row[x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
		}
		out[y] = row
	}
	return out
}
