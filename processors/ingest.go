// Package processors holds the pipeline stages the orchestrator drives:
// ingest screening and audio extraction, timeline aggregation, generative
// fusion, and evidence frame selection.
package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"videoTriage/core"
)

// MediaInfo is the probe result the ingest gate screens against.
type MediaInfo struct {
	DurationSec float64
	SizeBytes   int64
	FormatName  string
}

// Prober inspects a media container. The production implementation shells
// out to ffprobe.
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
}

// AudioExtractor produces the normalized audio track for the speech
// modality.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
}

// FFProbe probes with the ffprobe binary.
type FFProbe struct{}

func (FFProbe) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration,size,format_name",
		"-of", "json", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var doc struct {
		Format struct {
			Duration   string `json:"duration"`
			Size       string `json:"size"`
			FormatName string `json:"format_name"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{FormatName: doc.Format.FormatName}
	info.DurationSec, _ = strconv.ParseFloat(doc.Format.Duration, 64)
	info.SizeBytes, _ = strconv.ParseInt(doc.Format.Size, 10, 64)
	return info, nil
}

// FFmpegExtractor extracts 16 kHz mono PCM WAV, the format every speech
// provider here accepts.
type FFmpegExtractor struct{}

func (FFmpegExtractor) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", videoPath,
		"-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1",
		outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio extraction: %w: %s", err, truncate(stderr.String(), 400))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// allowedExtensions matches the upstream video filter.
var allowedExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
}

// Gate validates uploads against the container allowlist and the size and
// duration ceilings. Gate failures are final: caller input is assumed
// correct-or-rejected, never retried.
type Gate struct {
	Prober         Prober
	MaxUploadBytes int64
	MaxDurationSec float64
}

// Screen checks one upload and returns its probed duration. The returned
// error, when non-nil, is always a ValidationError carrying the reason
// code the request is created Failed with.
func (g *Gate) Screen(ctx context.Context, videoPath string) (float64, error) {
	ext := strings.ToLower(filepath.Ext(videoPath))
	if !allowedExtensions[ext] {
		return 0, core.NewError(core.ErrValidation, core.CodeInvalidFormat,
			fmt.Sprintf("unsupported container %q", ext))
	}

	st, err := os.Stat(videoPath)
	if err != nil {
		return 0, core.NewError(core.ErrValidation, core.CodeInvalidFormat,
			fmt.Sprintf("video not readable: %v", err))
	}
	if g.MaxUploadBytes > 0 && st.Size() > g.MaxUploadBytes {
		return 0, core.NewError(core.ErrValidation, core.CodeTooLarge,
			fmt.Sprintf("video is %d bytes, ceiling is %d", st.Size(), g.MaxUploadBytes))
	}

	info, err := g.Prober.Probe(ctx, videoPath)
	if err != nil {
		return 0, core.NewError(core.ErrValidation, core.CodeInvalidFormat,
			fmt.Sprintf("probe failed: %v", err))
	}
	if info.DurationSec <= 0 {
		return 0, core.NewError(core.ErrValidation, core.CodeInvalidFormat,
			"container reports no playable duration")
	}
	if g.MaxDurationSec > 0 && info.DurationSec > g.MaxDurationSec {
		return 0, core.NewError(core.ErrValidation, core.CodeTooLong,
			fmt.Sprintf("video is %.0fs, ceiling is %.0fs", info.DurationSec, g.MaxDurationSec))
	}
	return info.DurationSec, nil
}
