package markerpipeline

import "sync"

// Each stage owns a disjoint band of the overall percentage. The video
// band and the compile band overlap in wall-clock time but not in
// percentage space; the compile band sits above the video band so the
// overall value tracks the image-to-marker critical path.
type progressBand struct {
	start float64
	end   float64
}

var stageBands = map[Stage]progressBand{
	StageIdle:             {0, 0},
	StageNormalizingVideo: {0, 5},
	StageCreatingRecord:   {5, 12},
	StageUploadingImage:   {12, 25},
	StageUploadingVideo:   {25, 60},
	StageCompilingMarker:  {60, 95},
	StageUploadingMarker:  {95, 99},
	StageCompleted:        {100, 100},
}

var stageOrder = map[Stage]int{
	StageIdle:             0,
	StageNormalizingVideo: 1,
	StageCreatingRecord:   2,
	StageUploadingImage:   3,
	StageUploadingVideo:   4,
	StageCompilingMarker:  5,
	StageUploadingMarker:  6,
	StageCompleted:        7,
}

// ProgressTracker projects per-stage fractional progress onto a single
// monotonically non-decreasing overall percentage. Both forked branches
// feed it concurrently; it keeps the running maximum across their band
// projections. The video branch's own fraction is tracked separately so
// it can be displayed without gating the overall value.
type ProgressTracker struct {
	mu       sync.Mutex
	overall  float64
	video    float64
	onUpdate func(overall, video float64)
}

// NewProgressTracker returns a tracker that invokes onUpdate whenever
// either value increases. onUpdate may be nil; it must not call back
// into the tracker.
func NewProgressTracker(onUpdate func(overall, video float64)) *ProgressTracker {
	return &ProgressTracker{onUpdate: onUpdate}
}

// Update records subPercent (0-100) of the given stage and folds its
// band projection into the overall value. The callback fires under the
// tracker's lock so concurrent branches cannot deliver a stale value
// after a newer one; observers see a non-decreasing stream.
func (t *ProgressTracker) Update(stage Stage, subPercent float64) {
	band, ok := stageBands[stage]
	if !ok {
		return
	}
	if subPercent < 0 {
		subPercent = 0
	} else if subPercent > 100 {
		subPercent = 100
	}
	projected := band.start + (band.end-band.start)*subPercent/100

	t.mu.Lock()
	defer t.mu.Unlock()
	changed := false
	if stage == StageUploadingVideo && subPercent > t.video {
		t.video = subPercent
		changed = true
	}
	if projected > t.overall {
		t.overall = projected
		changed = true
	}
	if changed && t.onUpdate != nil {
		t.onUpdate(t.overall, t.video)
	}
}

// Overall returns the current overall percentage.
func (t *ProgressTracker) Overall() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overall
}

// Video returns the video branch's own percentage.
func (t *ProgressTracker) Video() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.video
}
