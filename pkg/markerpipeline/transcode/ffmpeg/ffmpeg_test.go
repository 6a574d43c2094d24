package ffmpeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBaselineCompatible(t *testing.T) {
	tests := []struct {
		name string
		info probeInfo
		want bool
	}{
		{
			"baseline h264 mp4",
			probeInfo{codec: "h264", profile: "Baseline", container: "mov,mp4,m4a,3gp,3g2,mj2"},
			true,
		},
		{
			"constrained baseline",
			probeInfo{codec: "h264", profile: "Constrained Baseline", container: "mov,mp4,m4a,3gp,3g2,mj2"},
			true,
		},
		{
			"high profile needs re-encode",
			probeInfo{codec: "h264", profile: "High", container: "mov,mp4,m4a,3gp,3g2,mj2"},
			false,
		},
		{
			"wrong codec",
			probeInfo{codec: "hevc", profile: "Baseline", container: "mov,mp4,m4a,3gp,3g2,mj2"},
			false,
		},
		{
			"wrong container",
			probeInfo{codec: "h264", profile: "Baseline", container: "matroska,webm"},
			false,
		},
		{
			"empty probe",
			probeInfo{},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, baselineCompatible(tt.info))
		})
	}
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line string
		want time.Duration
		ok   bool
	}{
		{"out_time_us=1500000", 1500 * time.Millisecond, true},
		{"out_time_ms=1500000", 1500 * time.Millisecond, true},
		{"  out_time_us=250000\n", 250 * time.Millisecond, true},
		{"out_time_us=-1", 0, false},
		{"out_time_us=abc", 0, false},
		{"frame=120", 0, false},
		{"progress=end", 0, false},
		{"no separator here", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseProgressLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
