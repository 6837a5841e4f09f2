package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"videoTriage/core"
	"videoTriage/providers"
	"videoTriage/storage"
)

// PollOutcome is an adapter's non-blocking answer: still running,
// succeeded with a persisted result reference, or failed with a
// classified error.
type PollOutcome struct {
	State     core.JobState
	ResultRef string
	Err       error
}

// Adapter is the uniform submit/poll wrapper around one analysis
// capability. Submit must be idempotent for a given (request, attempt):
// the client token handed to the provider is derived from both, so a
// crashed invocation that re-submits the same attempt never creates a
// duplicate external job.
type Adapter interface {
	Modality() core.Modality
	Submit(ctx context.Context, req *core.AnalysisRequest, attempt int) (handle string, err error)
	Poll(ctx context.Context, req *core.AnalysisRequest, handle string) PollOutcome
	Abort(ctx context.Context, handle string) error
}

func clientToken(req *core.AnalysisRequest, m core.Modality, attempt int) string {
	return fmt.Sprintf("%s-%s-a%d", req.ID, m, attempt)
}

// NewAdapters builds the adapter set the orchestrator drives.
func NewAdapters(v providers.VisualProvider, sp providers.SpeechProvider, se providers.SentimentProvider, store storage.Store) map[core.Modality]Adapter {
	return map[core.Modality]Adapter{
		core.ModalityVisual:    &visualAdapter{provider: v},
		core.ModalitySpeech:    &speechAdapter{provider: sp},
		core.ModalitySentiment: &sentimentAdapter{provider: se, store: store},
	}
}

type visualAdapter struct {
	provider providers.VisualProvider
}

func (a *visualAdapter) Modality() core.Modality { return core.ModalityVisual }

func (a *visualAdapter) Submit(ctx context.Context, req *core.AnalysisRequest, attempt int) (string, error) {
	return a.provider.Submit(ctx, providers.VisualInput{
		VideoPath:   req.VideoPath,
		DurationSec: req.DurationSec,
		ClientToken: clientToken(req, core.ModalityVisual, attempt),
	})
}

func (a *visualAdapter) Poll(ctx context.Context, req *core.AnalysisRequest, handle string) PollOutcome {
	events, err := a.provider.Fetch(ctx, handle)
	if errors.Is(err, providers.ErrJobPending) {
		return PollOutcome{State: core.JobRunning}
	}
	if err != nil {
		return PollOutcome{State: core.JobFailed, Err: err}
	}
	ref, err := core.SaveDoc(req.ID, "visual.json", events)
	if err != nil {
		return PollOutcome{State: core.JobFailed, Err: core.WrapError(core.ErrTransient, "result_persist_failed", err)}
	}
	return PollOutcome{State: core.JobSucceeded, ResultRef: ref}
}

func (a *visualAdapter) Abort(ctx context.Context, handle string) error {
	return a.provider.Abort(ctx, handle)
}

type speechAdapter struct {
	provider providers.SpeechProvider
}

func (a *speechAdapter) Modality() core.Modality { return core.ModalitySpeech }

func (a *speechAdapter) Submit(ctx context.Context, req *core.AnalysisRequest, attempt int) (string, error) {
	return a.provider.Submit(ctx, providers.SpeechInput{
		AudioPath:   req.AudioPath,
		Language:    req.Language,
		DurationSec: req.DurationSec,
		ClientToken: clientToken(req, core.ModalitySpeech, attempt),
	})
}

func (a *speechAdapter) Poll(ctx context.Context, req *core.AnalysisRequest, handle string) PollOutcome {
	tr, err := a.provider.Fetch(ctx, handle)
	if errors.Is(err, providers.ErrJobPending) {
		return PollOutcome{State: core.JobRunning}
	}
	if err != nil {
		return PollOutcome{State: core.JobFailed, Err: err}
	}
	ref, err := core.SaveDoc(req.ID, "transcript.json", tr)
	if err != nil {
		return PollOutcome{State: core.JobFailed, Err: core.WrapError(core.ErrTransient, "result_persist_failed", err)}
	}
	return PollOutcome{State: core.JobSucceeded, ResultRef: ref}
}

func (a *speechAdapter) Abort(ctx context.Context, handle string) error {
	return a.provider.Abort(ctx, handle)
}

// sentimentAdapter wraps the synchronous sentiment capability in the
// asynchronous contract: Submit records a local handle, and the single
// bounded Poll call performs the analysis. It reads the transcript the
// speech job persisted, which the dependency graph guarantees exists.
type sentimentAdapter struct {
	provider providers.SentimentProvider
	store    storage.Store
}

func (a *sentimentAdapter) Modality() core.Modality { return core.ModalitySentiment }

func (a *sentimentAdapter) Submit(ctx context.Context, req *core.AnalysisRequest, attempt int) (string, error) {
	return "local:" + clientToken(req, core.ModalitySentiment, attempt), nil
}

func (a *sentimentAdapter) Poll(ctx context.Context, req *core.AnalysisRequest, handle string) PollOutcome {
	speechJob, err := a.store.GetJob(ctx, req.ID, core.ModalitySpeech)
	if err != nil || speechJob.State != core.JobSucceeded {
		return PollOutcome{State: core.JobFailed, Err: core.NewError(core.ErrPermanent,
			"transcript_unavailable", "sentiment polled before speech succeeded")}
	}

	var tr core.Transcript
	if err := core.LoadDoc(speechJob.ResultRef, &tr); err != nil {
		return PollOutcome{State: core.JobFailed, Err: core.WrapError(core.ErrTransient, "transcript_read_failed", err)}
	}

	utts, err := a.provider.Analyze(ctx, tr, req.Language)
	if err != nil {
		return PollOutcome{State: core.JobFailed, Err: err}
	}
	ref, err := core.SaveDoc(req.ID, "utterances.json", utts)
	if err != nil {
		return PollOutcome{State: core.JobFailed, Err: core.WrapError(core.ErrTransient, "result_persist_failed", err)}
	}
	return PollOutcome{State: core.JobSucceeded, ResultRef: ref}
}

func (a *sentimentAdapter) Abort(ctx context.Context, handle string) error { return nil }
