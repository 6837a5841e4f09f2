// Package orchestrator drives one persisted finite-state machine per
// analysis request. Every decision derives from stored state and every
// mutation is a versioned read-check-write, so invocations are safe to
// repeat, run concurrently, and resume after a crash.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"videoTriage/core"
	"videoTriage/processors"
	"videoTriage/storage"
)

// Options bounds retries, backoff, and the per-job timeout ceiling.
type Options struct {
	MaxJobAttempts int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	JobTimeout     time.Duration
}

type Orchestrator struct {
	store     storage.Store
	adapters  map[core.Modality]Adapter
	graph     DependencyGraph
	extractor processors.AudioExtractor
	aggregate *processors.Aggregator
	fusion    *processors.FusionEngine
	evidence  *processors.EvidenceSelector
	opts      Options

	// now is swappable in tests.
	now func() time.Time
}

func New(store storage.Store, adapters map[core.Modality]Adapter, graph DependencyGraph,
	extractor processors.AudioExtractor, aggregate *processors.Aggregator,
	fusion *processors.FusionEngine, evidence *processors.EvidenceSelector, opts Options) *Orchestrator {
	if opts.MaxJobAttempts < 1 {
		opts.MaxJobAttempts = 1
	}
	return &Orchestrator{
		store:     store,
		adapters:  adapters,
		graph:     graph,
		extractor: extractor,
		aggregate: aggregate,
		fusion:    fusion,
		evidence:  evidence,
		opts:      opts,
		now:       time.Now,
	}
}

// Advance moves one request as far forward as it can go without
// blocking, then returns. Waiting on an external job leaves the request
// parked until the next timed invocation. A version conflict means a
// concurrent invocation is already doing the work and is not an error.
func (o *Orchestrator) Advance(ctx context.Context, id string) error {
	for {
		req, err := o.store.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.State.Terminal() {
			return nil
		}

		progressed, err := o.step(ctx, req)
		if errors.Is(err, storage.ErrConflict) {
			slog.Debug("yielding to concurrent invocation", "request_id", id)
			return nil
		}
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (o *Orchestrator) step(ctx context.Context, req *core.AnalysisRequest) (bool, error) {
	switch req.State {
	case core.StateReceived:
		return true, o.transition(ctx, req, core.StateExtracting)
	case core.StateExtracting:
		return o.stepExtracting(ctx, req)
	case core.StateAnalyzingModalities:
		return o.stepAnalyzing(ctx, req)
	case core.StateAggregating:
		return o.stepAggregating(ctx, req)
	case core.StateFusing:
		return o.stepFusing(ctx, req)
	case core.StateSelectingEvidence:
		return o.stepSelectingEvidence(ctx, req)
	default:
		return false, fmt.Errorf("unexpected request state %q", req.State)
	}
}

func (o *Orchestrator) transition(ctx context.Context, req *core.AnalysisRequest, to core.RequestState) error {
	if !core.CanTransition(req.State, to) {
		return fmt.Errorf("illegal transition %s -> %s for request %s", req.State, to, req.ID)
	}
	from := req.State
	req.State = to
	if err := o.store.UpdateRequest(ctx, req); err != nil {
		return err
	}
	slog.Info("request transition", "request_id", req.ID, "from", from, "to", to)
	return nil
}

func (o *Orchestrator) failRequest(ctx context.Context, req *core.AnalysisRequest, code, message string) error {
	req.State = core.StateFailed
	req.FailureCode = code
	req.FailureMessage = message
	if err := o.store.UpdateRequest(ctx, req); err != nil {
		return err
	}
	slog.Warn("request failed", "request_id", req.ID, "code", code, "message", message)
	return nil
}

func (o *Orchestrator) stepExtracting(ctx context.Context, req *core.AnalysisRequest) (bool, error) {
	dir, err := core.RequestDir(req.ID)
	if err != nil {
		return false, err
	}
	audioPath := filepath.Join(dir, "audio.wav")
	if err := o.extractor.ExtractAudio(ctx, req.VideoPath, audioPath); err != nil {
		return true, o.failRequest(ctx, req, core.CodeExtractionFailure,
			fmt.Sprintf("audio extraction failed: %v", err))
	}
	req.AudioPath = audioPath
	return true, o.transition(ctx, req, core.StateAnalyzingModalities)
}

func (o *Orchestrator) loadJobs(ctx context.Context, requestID string) (map[core.Modality]*core.ModalityJob, error) {
	list, err := o.store.ListJobs(ctx, requestID)
	if err != nil {
		return nil, err
	}
	jobs := map[core.Modality]*core.ModalityJob{}
	for _, j := range list {
		jobs[j.Modality] = j
	}
	return jobs, nil
}

func (o *Orchestrator) stepAnalyzing(ctx context.Context, req *core.AnalysisRequest) (bool, error) {
	jobs, err := o.ensureJobs(ctx, req)
	if err != nil {
		return false, err
	}
	progressed := false

	// A job whose prerequisite permanently failed can never run.
	for _, m := range o.graph.Modalities() {
		j := jobs[m]
		if j.State == core.JobPending && o.graph.Unreachable(m, jobs) {
			j.State = core.JobFailed
			j.LastError = "prerequisite modality permanently failed"
			if err := o.store.UpdateJob(ctx, j); err != nil {
				return false, err
			}
			progressed = true
		}
	}

	submitted, err := o.submitDue(ctx, req, jobs)
	if err != nil {
		return false, err
	}
	progressed = progressed || submitted

	polled, err := o.pollRunning(ctx, req, jobs)
	if err != nil {
		return false, err
	}
	progressed = progressed || polled

	// Completion: re-read, then apply the hard/soft policy.
	jobs, err = o.loadJobs(ctx, req.ID)
	if err != nil {
		return false, err
	}
	for _, m := range o.graph.Modalities() {
		j := jobs[m]
		if o.graph.IsHard(m) && (j.State == core.JobFailed || j.State == core.JobTimedOut) {
			return true, o.failRequest(ctx, req, core.CodeSpeechFailed,
				fmt.Sprintf("%s analysis permanently failed: %s", m, j.LastError))
		}
	}
	allSettled := true
	for _, m := range o.graph.Modalities() {
		if !jobs[m].State.Terminal() {
			allSettled = false
			break
		}
	}
	if allSettled {
		return true, o.transition(ctx, req, core.StateAggregating)
	}
	return progressed, nil
}

// ensureJobs creates missing job rows in Pending. Creation races resolve
// through the store's (request, modality) uniqueness.
func (o *Orchestrator) ensureJobs(ctx context.Context, req *core.AnalysisRequest) (map[core.Modality]*core.ModalityJob, error) {
	jobs, err := o.loadJobs(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	created := false
	for _, m := range o.graph.Modalities() {
		if jobs[m] != nil {
			continue
		}
		job := &core.ModalityJob{
			RequestID:     req.ID,
			Modality:      m,
			State:         core.JobPending,
			NextAttemptAt: o.now(),
		}
		if err := o.store.CreateJob(ctx, job); err != nil && !errors.Is(err, storage.ErrExists) {
			return nil, err
		}
		created = true
	}
	if created {
		return o.loadJobs(ctx, req.ID)
	}
	return jobs, nil
}

// submitDue claims and submits every Pending job whose prerequisites are
// met and whose backoff window has passed. The claim (an attempt bump
// under the version check) happens before the provider call, so two
// concurrent invocations can never both submit; the loser sees a
// conflict before touching the provider.
func (o *Orchestrator) submitDue(ctx context.Context, req *core.AnalysisRequest, jobs map[core.Modality]*core.ModalityJob) (bool, error) {
	var claimed []*core.ModalityJob
	for _, m := range o.graph.Modalities() {
		j := jobs[m]
		if j.State != core.JobPending || !o.graph.Ready(m, jobs) || o.now().Before(j.NextAttemptAt) {
			continue
		}
		j.Attempts++
		j.NextAttemptAt = o.now().Add(o.backoff(j.Attempts))
		if err := o.store.UpdateJob(ctx, j); err != nil {
			return false, err
		}
		claimed = append(claimed, j)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	// Independent submissions (Visual and Speech) go out concurrently.
	g, gctx := errgroup.WithContext(ctx)
	for _, j := range claimed {
		g.Go(func() error {
			adapter := o.adapters[j.Modality]
			handle, err := adapter.Submit(gctx, req, j.Attempts)
			if err != nil {
				slog.Warn("submit failed", "request_id", req.ID, "modality", j.Modality,
					"attempt", j.Attempts, "error", err)
				return o.recordJobFailure(ctx, j, err, false)
			}
			j.Handle = handle
			j.State = core.JobRunning
			j.StartedAt = o.now()
			if err := o.store.UpdateJob(ctx, j); err != nil && !errors.Is(err, storage.ErrConflict) {
				return err
			}
			slog.Info("job submitted", "request_id", req.ID, "modality", j.Modality,
				"handle", handle, "attempt", j.Attempts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) pollRunning(ctx context.Context, req *core.AnalysisRequest, jobs map[core.Modality]*core.ModalityJob) (bool, error) {
	progressed := false
	for _, m := range o.graph.Modalities() {
		j := jobs[m]
		if j.State != core.JobRunning {
			continue
		}

		if o.opts.JobTimeout > 0 && o.now().Sub(j.StartedAt) > o.opts.JobTimeout {
			if err := o.adapters[m].Abort(ctx, j.Handle); err != nil {
				slog.Debug("abort after timeout failed", "request_id", req.ID, "modality", m, "error", err)
			}
			cause := core.NewError(core.ErrExhausted, "job_timeout",
				fmt.Sprintf("%s job exceeded the %s ceiling", m, o.opts.JobTimeout))
			if err := o.recordJobFailure(ctx, j, cause, true); err != nil {
				return false, err
			}
			progressed = true
			continue
		}

		out := o.adapters[m].Poll(ctx, req, j.Handle)
		switch out.State {
		case core.JobRunning:
			// Still pending externally; nothing to record.
		case core.JobSucceeded:
			j.State = core.JobSucceeded
			j.ResultRef = out.ResultRef
			j.LastError = ""
			if err := o.store.UpdateJob(ctx, j); err != nil {
				return false, err
			}
			slog.Info("job succeeded", "request_id", req.ID, "modality", m)
			progressed = true
		default:
			if err := o.recordJobFailure(ctx, j, out.Err, false); err != nil {
				return false, err
			}
			progressed = true
		}
	}
	return progressed, nil
}

// recordJobFailure applies the retry policy: failed and timed-out jobs
// go back to Pending with exponential backoff while attempts remain;
// validation failures and exhausted budgets are terminal. Transient
// adapter failures are absorbed here and never surface to the caller.
func (o *Orchestrator) recordJobFailure(ctx context.Context, job *core.ModalityJob, cause error, timedOut bool) error {
	job.LastError = cause.Error()
	retryable := core.ClassOf(cause) != core.ErrValidation && job.Attempts < o.opts.MaxJobAttempts

	if retryable {
		job.State = core.JobPending
		job.Handle = "" // the next attempt is a new external job
		job.NextAttemptAt = o.now().Add(o.backoff(job.Attempts))
		slog.Warn("job will retry", "request_id", job.RequestID, "modality", job.Modality,
			"attempt", job.Attempts, "error", cause)
	} else if timedOut {
		job.State = core.JobTimedOut
	} else {
		job.State = core.JobFailed
	}
	return o.store.UpdateJob(ctx, job)
}

func (o *Orchestrator) backoff(attempts int) time.Duration {
	d := o.opts.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= o.opts.BackoffCap {
			return o.opts.BackoffCap
		}
	}
	if o.opts.BackoffCap > 0 && d > o.opts.BackoffCap {
		d = o.opts.BackoffCap
	}
	return d
}

func (o *Orchestrator) stepAggregating(ctx context.Context, req *core.AnalysisRequest) (bool, error) {
	jobs, err := o.loadJobs(ctx, req.ID)
	if err != nil {
		return false, err
	}

	var events []core.EmotionEvent
	var utts []core.Utterance
	var missing []core.Modality

	if j := jobs[core.ModalityVisual]; j != nil && j.State == core.JobSucceeded {
		if err := core.LoadDoc(j.ResultRef, &events); err != nil {
			return false, err
		}
	} else {
		missing = append(missing, core.ModalityVisual)
	}
	if j := jobs[core.ModalitySentiment]; j != nil && j.State == core.JobSucceeded {
		if err := core.LoadDoc(j.ResultRef, &utts); err != nil {
			return false, err
		}
	} else {
		missing = append(missing, core.ModalitySentiment)
	}

	summary := o.aggregate.Build(req.DurationSec, events, utts, missing)
	if _, err := core.SaveDoc(req.ID, "timeline.json", summary); err != nil {
		return false, err
	}
	return true, o.transition(ctx, req, core.StateFusing)
}

func (o *Orchestrator) stepFusing(ctx context.Context, req *core.AnalysisRequest) (bool, error) {
	var summary core.TimelineSummary
	if err := core.LoadDoc(core.DocPath(req.ID, "timeline.json"), &summary); err != nil {
		return false, err
	}

	assessment, err := o.fusion.Fuse(ctx, &summary)
	if err != nil {
		if core.ClassOf(err) == core.ErrSchema {
			return true, o.failRequest(ctx, req, core.CodeSchemaError, err.Error())
		}
		// Transient reasoning failure: stay in Fusing, retried on the
		// next timed invocation.
		return false, err
	}

	if _, err := core.SaveDoc(req.ID, "assessment.json", assessment); err != nil {
		return false, err
	}
	return true, o.transition(ctx, req, core.StateSelectingEvidence)
}

func (o *Orchestrator) stepSelectingEvidence(ctx context.Context, req *core.AnalysisRequest) (bool, error) {
	var assessment core.FusedAssessment
	if err := core.LoadDoc(core.DocPath(req.ID, "assessment.json"), &assessment); err != nil {
		return false, err
	}

	frames := o.evidence.Select(ctx, req.VideoPath, req.DurationSec, assessment.CitedWindows, req.ID)

	report := &core.Report{
		ID:          "rpt-" + req.ID,
		RequestID:   req.ID,
		Assessment:  assessment,
		Evidence:    frames,
		CompletedAt: o.now().UTC(),
	}
	if err := o.store.SaveReport(ctx, report); err != nil {
		return false, err
	}
	return true, o.transition(ctx, req, core.StateCompleted)
}

// Cancel moves a request to the terminal Cancelled state and makes a
// best-effort attempt to abort in-flight external jobs.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	req, err := o.store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if req.State == core.StateCompleted {
		return fmt.Errorf("request %s already completed", id)
	}
	if req.State.Terminal() {
		return nil
	}

	req.State = core.StateCancelled
	req.FailureCode = core.CodeCancelled
	req.FailureMessage = "cancelled by caller"
	if err := o.store.UpdateRequest(ctx, req); err != nil {
		return err
	}

	jobs, err := o.store.ListJobs(ctx, id)
	if err != nil {
		return nil // the cancel itself stuck; aborts are best-effort
	}
	for _, j := range jobs {
		if j.State != core.JobRunning {
			continue
		}
		if err := o.adapters[j.Modality].Abort(ctx, j.Handle); err != nil {
			slog.Debug("abort failed", "request_id", id, "modality", j.Modality, "error", err)
		}
	}
	slog.Info("request cancelled", "request_id", id)
	return nil
}
