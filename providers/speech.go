package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"videoTriage/core"
)

// MockSpeech produces a deterministic transcript by spreading a fixed
// script evenly over the audio duration. Handles are self-describing so
// polling survives a restart.
type MockSpeech struct {
	// Script overrides the default transcript text.
	Script string
}

const defaultMockScript = "please stop yelling at me I am scared and I do not feel safe here"

func (m MockSpeech) Submit(ctx context.Context, in SpeechInput) (string, error) {
	return fmt.Sprintf("mock-speech:%s:%.2f", in.ClientToken, in.DurationSec), nil
}

func (m MockSpeech) Fetch(ctx context.Context, handle string) (*core.Transcript, error) {
	parts := strings.Split(handle, ":")
	if len(parts) != 3 || parts[0] != "mock-speech" {
		return nil, core.NewError(core.ErrPermanent, "bad_handle", "unknown speech handle "+handle)
	}
	dur, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || dur <= 0 {
		return nil, core.NewError(core.ErrPermanent, "bad_handle", "unparseable duration in handle")
	}

	script := m.Script
	if script == "" {
		script = defaultMockScript
	}
	tokens := strings.Fields(script)
	step := dur / float64(len(tokens))
	words := make([]core.Word, len(tokens))
	for i, tok := range tokens {
		words[i] = core.Word{
			Start: float64(i) * step,
			End:   float64(i+1) * step,
			Text:  tok,
		}
	}
	return &core.Transcript{Text: script, Words: words}, nil
}

func (MockSpeech) Abort(ctx context.Context, handle string) error { return nil }
