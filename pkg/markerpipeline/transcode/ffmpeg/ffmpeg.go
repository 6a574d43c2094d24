// Package ffmpeg implements video normalization by shelling out to
// ffmpeg and ffprobe. Videos already in a baseline-compatible H.264
// MP4 pass through untouched; everything else is re-encoded with
// fractional progress parsed from ffmpeg's machine-readable progress
// stream.
package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Transcoder shells out to ffmpeg/ffprobe.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// Option configures a Transcoder.
type Option func(*Transcoder)

// WithBinaries overrides the ffmpeg and ffprobe executable paths.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(t *Transcoder) {
		if ffmpeg != "" {
			t.ffmpegPath = ffmpeg
		}
		if ffprobe != "" {
			t.ffprobePath = ffprobe
		}
	}
}

// WithLogger sets the transcoder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transcoder) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a transcoder that resolves ffmpeg/ffprobe from PATH
// unless overridden.
func New(opts ...Option) *Transcoder {
	t := &Transcoder{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type probeInfo struct {
	codec     string
	profile   string
	container string
	duration  time.Duration
}

type probeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		Profile   string `json:"profile"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Normalize probes the input and re-encodes it to baseline H.264 MP4
// when necessary. Compatible input is returned unchanged with a single
// 100% progress report.
func (t *Transcoder) Normalize(ctx context.Context, video []byte, onProgress func(percent float64)) ([]byte, error) {
	dir, err := os.MkdirTemp("", "normalize-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input")
	if err := os.WriteFile(input, video, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	info, err := t.probe(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("probe video: %w", err)
	}
	if baselineCompatible(info) {
		if onProgress != nil {
			onProgress(100)
		}
		return video, nil
	}

	t.logger.Info("re-encoding video to baseline container",
		"codec", info.codec,
		"profile", info.profile,
		"container", info.container)

	output := filepath.Join(dir, "output.mp4")
	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-i", input,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		"-y", output,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach progress pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		elapsed, ok := parseProgressLine(scanner.Text())
		if !ok || info.duration <= 0 || onProgress == nil {
			continue
		}
		pct := float64(elapsed) / float64(info.duration) * 100
		if pct > 100 {
			pct = 100
		}
		onProgress(pct)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return data, nil
}

func (t *Transcoder) probe(ctx context.Context, path string) (probeInfo, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,profile",
		"-show_entries", "format=format_name,duration",
		"-of", "json",
		path,
	)
	raw, err := cmd.Output()
	if err != nil {
		return probeInfo{}, fmt.Errorf("ffprobe: %w", err)
	}

	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return probeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := probeInfo{container: out.Format.FormatName}
	if len(out.Streams) > 0 {
		info.codec = out.Streams[0].CodecName
		info.profile = out.Streams[0].Profile
	}
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		info.duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}

// baselineCompatible reports whether the video can be uploaded without
// re-encoding: H.264 baseline (or constrained baseline) in an MP4
// family container.
func baselineCompatible(info probeInfo) bool {
	if info.codec != "h264" {
		return false
	}
	profile := strings.ToLower(info.profile)
	if profile != "baseline" && profile != "constrained baseline" {
		return false
	}
	for _, name := range strings.Split(info.container, ",") {
		if name == "mp4" {
			return true
		}
	}
	return false
}

// parseProgressLine extracts the elapsed output time from one line of
// ffmpeg's -progress stream (out_time_us or the older out_time_ms key,
// both in microseconds).
func parseProgressLine(line string) (time.Duration, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}
	if key != "out_time_us" && key != "out_time_ms" {
		return 0, false
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return time.Duration(us) * time.Microsecond, true
}
