package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"videoTriage/core"
)

// MockVisual synthesizes a deterministic emotion track from the video
// duration. The duration is encoded in the handle so a restarted process
// can keep polling a handle it did not create.
type MockVisual struct{}

var mockEmotionCycle = []string{"CALM", "FEAR", "SAD", "CALM", "ANGRY"}

func (MockVisual) Submit(ctx context.Context, in VisualInput) (string, error) {
	return fmt.Sprintf("mock-visual:%s:%.2f", in.ClientToken, in.DurationSec), nil
}

func (MockVisual) Fetch(ctx context.Context, handle string) ([]core.EmotionEvent, error) {
	parts := strings.Split(handle, ":")
	if len(parts) != 3 || parts[0] != "mock-visual" {
		return nil, core.NewError(core.ErrPermanent, "bad_handle", "unknown visual handle "+handle)
	}
	dur, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || dur <= 0 {
		return nil, core.NewError(core.ErrPermanent, "bad_handle", "unparseable duration in handle")
	}

	const step = 5.0
	var events []core.EmotionEvent
	for i := 0; float64(i)*step < dur; i++ {
		start := float64(i) * step
		end := start + step
		if end > dur {
			end = dur
		}
		events = append(events, core.EmotionEvent{
			Start:      start,
			End:        end,
			Label:      mockEmotionCycle[i%len(mockEmotionCycle)],
			Confidence: 0.9,
		})
	}
	return events, nil
}

func (MockVisual) Abort(ctx context.Context, handle string) error { return nil }
