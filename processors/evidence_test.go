package processors

import (
	"context"
	"errors"
	"os"
	"testing"

	"videoTriage/core"
)

// fakeGrabber writes an empty file per grab and can fail specific
// timestamps.
type fakeGrabber struct {
	failAt map[float64]bool
	grabs  []float64
}

func (g *fakeGrabber) Grab(ctx context.Context, videoPath string, ts float64, out string) error {
	if g.failAt[ts] {
		return errors.New("seek failed")
	}
	g.grabs = append(g.grabs, ts)
	return os.WriteFile(out, nil, 0o644)
}

func newTestSelector(t *testing.T, g FrameGrabber) *EvidenceSelector {
	t.Helper()
	core.SetDataRoot(t.TempDir())
	return &EvidenceSelector{Grabber: g, FramesPerWindow: 3, MinSpacingSec: 2.0}
}

func TestSelectBoundsFramesPerWindow(t *testing.T) {
	g := &fakeGrabber{}
	sel := newTestSelector(t, g)

	windows := []core.Window{{Start: 10, End: 40}, {Start: 50, End: 80}}
	frames := sel.Select(context.Background(), "in.mp4", 100, windows, "req-1")

	if len(frames) != 6 {
		t.Fatalf("got %d frames, want 3 per window", len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].TimestampSec <= frames[i-1].TimestampSec {
			t.Fatalf("frames not time-ordered: %v", frames)
		}
	}
	for _, f := range frames {
		if f.TimestampSec < 0 || f.TimestampSec >= 100 {
			t.Errorf("frame at %.2fs lies outside the video", f.TimestampSec)
		}
		if _, err := os.Stat(f.Path); err != nil {
			t.Errorf("frame file missing: %v", err)
		}
	}
}

func TestSelectEnforcesMinimumSpacing(t *testing.T) {
	g := &fakeGrabber{}
	sel := newTestSelector(t, g)

	// Overlapping windows would yield candidates closer than 2s apart.
	windows := []core.Window{{Start: 10, End: 16}, {Start: 11, End: 17}}
	frames := sel.Select(context.Background(), "in.mp4", 100, windows, "req-2")

	for i := 1; i < len(frames); i++ {
		if frames[i].TimestampSec-frames[i-1].TimestampSec < sel.MinSpacingSec {
			t.Fatalf("frames %.2f and %.2f violate the %.1fs spacing",
				frames[i-1].TimestampSec, frames[i].TimestampSec, sel.MinSpacingSec)
		}
	}
}

func TestSelectSkipsFailedGrabs(t *testing.T) {
	g := &fakeGrabber{failAt: map[float64]bool{}}
	sel := newTestSelector(t, g)
	sel.FramesPerWindow = 2

	w := core.Window{Start: 0, End: 20}
	// Candidates for k=2 land at 5 and 15.
	g.failAt[5] = true

	frames := sel.Select(context.Background(), "in.mp4", 100, []core.Window{w}, "req-3")
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1 after one failed grab", len(frames))
	}
	if frames[0].TimestampSec != 15 {
		t.Errorf("surviving frame at %.2f, want 15", frames[0].TimestampSec)
	}
}

func TestSelectNoWindowsYieldsNoFrames(t *testing.T) {
	sel := newTestSelector(t, &fakeGrabber{})
	if frames := sel.Select(context.Background(), "in.mp4", 100, nil, "req-4"); len(frames) != 0 {
		t.Errorf("got %d frames for zero windows", len(frames))
	}
}
