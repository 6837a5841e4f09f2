package processors

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"videoTriage/core"
)

// FrameGrabber extracts one still frame at a timestamp. The production
// implementation shells out to ffmpeg.
type FrameGrabber interface {
	Grab(ctx context.Context, videoPath string, tsSec float64, outPath string) error
}

// FFmpegGrabber seeks and grabs a single JPEG frame.
type FFmpegGrabber struct{}

func (FFmpegGrabber) Grab(ctx context.Context, videoPath string, tsSec float64, outPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-ss", fmt.Sprintf("%.3f", tsSec),
		"-i", videoPath,
		"-frames:v", "1", "-q:v", "2",
		outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg frame at %.3fs: %w: %s", tsSec, err, truncate(stderr.String(), 200))
	}
	return nil
}

// EvidenceSelector picks supporting frames for the cited windows.
// Evidence is illustrative, never load-bearing: any failure degrades to
// fewer (possibly zero) frames and the request still completes.
type EvidenceSelector struct {
	Grabber         FrameGrabber
	FramesPerWindow int
	MinSpacingSec   float64
}

// Select extracts up to FramesPerWindow frames per cited window,
// deduplicated so no two frames are closer than MinSpacingSec, returned
// time-ordered.
func (s *EvidenceSelector) Select(ctx context.Context, videoPath string, durationSec float64, windows []core.Window, requestID string) []core.EvidenceFrame {
	dir, err := core.RequestDir(requestID)
	if err != nil {
		slog.Warn("evidence directory unavailable, returning no frames",
			"request_id", requestID, "error", err)
		return nil
	}
	framesDir := filepath.Join(dir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		slog.Warn("evidence directory unavailable, returning no frames",
			"request_id", requestID, "error", err)
		return nil
	}

	ordered := append([]core.Window(nil), windows...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	var frames []core.EvidenceFrame
	var taken []float64
	for _, w := range ordered {
		for _, ts := range s.candidates(w, durationSec) {
			if tooClose(ts, taken, s.MinSpacingSec) {
				continue
			}
			out := filepath.Join(framesDir, fmt.Sprintf("frame_%07.2f.jpg", ts))
			if err := s.Grabber.Grab(ctx, videoPath, ts, out); err != nil {
				slog.Warn("frame grab failed, skipping",
					"request_id", requestID, "ts", ts, "error", err)
				continue
			}
			taken = append(taken, ts)
			frames = append(frames, core.EvidenceFrame{
				TimestampSec: ts,
				Path:         out,
				Window:       w,
			})
		}
	}

	sort.Slice(frames, func(i, j int) bool { return frames[i].TimestampSec < frames[j].TimestampSec })
	return frames
}

// candidates spreads up to FramesPerWindow timestamps evenly through a
// window, clamped inside the source duration.
func (s *EvidenceSelector) candidates(w core.Window, durationSec float64) []float64 {
	k := s.FramesPerWindow
	if k < 1 {
		k = 1
	}
	span := w.End - w.Start
	var out []float64
	for i := 0; i < k; i++ {
		ts := w.Start + span*(float64(i)+0.5)/float64(k)
		if ts < 0 {
			ts = 0
		}
		if ts >= durationSec {
			ts = durationSec - 0.001
		}
		if ts < 0 {
			continue
		}
		out = append(out, ts)
	}
	return out
}

func tooClose(ts float64, taken []float64, spacing float64) bool {
	for _, t := range taken {
		if absf(ts-t) < spacing {
			return true
		}
	}
	return false
}
