package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"videoTriage/core"
	"videoTriage/processors"
	"videoTriage/providers"
	"videoTriage/storage"
)

// mediumScript mixes one clearly negative sentence with three benign ones
// so the deterministic assessment lands in the Medium band.
const mediumScript = "I am scared and afraid. The weather is nice today. We went to the market. Everything was calm and fine."

type fakeExtractor struct{}

func (fakeExtractor) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	return os.WriteFile(outPath, nil, 0o644)
}

type touchGrabber struct{}

func (touchGrabber) Grab(ctx context.Context, videoPath string, ts float64, out string) error {
	return os.WriteFile(out, nil, 0o644)
}

// scriptedVisual wraps the mock visual capability with failure injection
// and submit accounting.
type scriptedVisual struct {
	mock providers.MockVisual

	mu          sync.Mutex
	submits     []string // client tokens, in order
	aborts      int
	pending     bool
	failFetches int
	fetchErr    error
}

func (s *scriptedVisual) Submit(ctx context.Context, in providers.VisualInput) (string, error) {
	s.mu.Lock()
	s.submits = append(s.submits, in.ClientToken)
	s.mu.Unlock()
	return s.mock.Submit(ctx, in)
}

func (s *scriptedVisual) Fetch(ctx context.Context, handle string) ([]core.EmotionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return nil, providers.ErrJobPending
	}
	if s.failFetches > 0 {
		s.failFetches--
		return nil, s.fetchErr
	}
	return s.mock.Fetch(ctx, handle)
}

func (s *scriptedVisual) Abort(ctx context.Context, handle string) error {
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	return nil
}

func (s *scriptedVisual) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submits)
}

type scriptedSpeech struct {
	mock providers.MockSpeech

	mu       sync.Mutex
	submits  []string
	fetchErr error
}

func (s *scriptedSpeech) Submit(ctx context.Context, in providers.SpeechInput) (string, error) {
	s.mu.Lock()
	s.submits = append(s.submits, in.ClientToken)
	s.mu.Unlock()
	return s.mock.Submit(ctx, in)
}

func (s *scriptedSpeech) Fetch(ctx context.Context, handle string) (*core.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.mock.Fetch(ctx, handle)
}

func (s *scriptedSpeech) Abort(ctx context.Context, handle string) error { return nil }

type testRig struct {
	t      *testing.T
	store  *storage.MemoryStore
	orch   *Orchestrator
	visual *scriptedVisual
	speech *scriptedSpeech
	now    time.Time
}

func defaultOpts() Options {
	return Options{
		MaxJobAttempts: 3,
		BackoffBase:    2 * time.Second,
		BackoffCap:     60 * time.Second,
		JobTimeout:     15 * time.Minute,
	}
}

func newRig(t *testing.T, opts Options) *testRig {
	t.Helper()
	core.SetDataRoot(t.TempDir())

	rig := &testRig{
		t:      t,
		store:  storage.NewMemoryStore(),
		visual: &scriptedVisual{},
		speech: &scriptedSpeech{mock: providers.MockSpeech{Script: mediumScript}},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	adapters := NewAdapters(rig.visual, rig.speech, providers.NewVaderSentiment(), rig.store)
	rig.orch = New(rig.store, adapters, DefaultGraph(),
		fakeExtractor{},
		&processors.Aggregator{AdjacencyGapSec: 1.0},
		&processors.FusionEngine{Provider: providers.MockReasoning{}, MaxRepairs: 2},
		&processors.EvidenceSelector{Grabber: touchGrabber{}, FramesPerWindow: 2, MinSpacingSec: 2.0},
		opts)
	rig.orch.now = func() time.Time { return rig.now }
	return rig
}

func (r *testRig) ingest(duration float64) string {
	r.t.Helper()
	req := &core.AnalysisRequest{
		ID:          core.NewID(),
		VideoPath:   "/videos/clip.mp4",
		DurationSec: duration,
		Language:    "en-US",
		State:       core.StateReceived,
		CreatedAt:   r.now,
		UpdatedAt:   r.now,
	}
	if err := r.store.CreateRequest(context.Background(), req); err != nil {
		r.t.Fatal(err)
	}
	return req.ID
}

func (r *testRig) advance(id string) {
	r.t.Helper()
	if err := r.orch.Advance(context.Background(), id); err != nil {
		r.t.Fatalf("Advance: %v", err)
	}
}

func (r *testRig) request(id string) *core.AnalysisRequest {
	r.t.Helper()
	req, err := r.store.GetRequest(context.Background(), id)
	if err != nil {
		r.t.Fatal(err)
	}
	return req
}

func (r *testRig) job(id string, m core.Modality) *core.ModalityJob {
	r.t.Helper()
	j, err := r.store.GetJob(context.Background(), id, m)
	if err != nil {
		r.t.Fatal(err)
	}
	return j
}

func TestPipelineCompletesMediumRisk(t *testing.T) {
	rig := newRig(t, defaultOpts())
	id := rig.ingest(60)

	rig.advance(id)

	req := rig.request(id)
	if req.State != core.StateCompleted {
		t.Fatalf("state = %s, want completed (failure: %s %s)",
			req.State, req.FailureCode, req.FailureMessage)
	}

	report, err := rig.store.GetReport(context.Background(), id)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if report.Assessment.Classification != core.RiskMedium {
		t.Errorf("classification = %s (score %d), want Medium",
			report.Assessment.Classification, report.Assessment.RiskScore)
	}
	if report.Assessment.Narrative == "" {
		t.Error("narrative is empty")
	}
	if len(report.Assessment.CitedWindows) == 0 {
		t.Fatal("no cited windows")
	}
	for _, w := range report.Assessment.CitedWindows {
		if w.Start < 0 || w.End > 60 {
			t.Errorf("cited window %v outside the video", w)
		}
	}
	for i, f := range report.Evidence {
		if f.TimestampSec < 0 || f.TimestampSec >= 60 {
			t.Errorf("evidence frame at %.2fs outside the video", f.TimestampSec)
		}
		if i > 0 && f.TimestampSec <= report.Evidence[i-1].TimestampSec {
			t.Error("evidence frames not time-ordered")
		}
	}

	// Exactly one external submission per modality, tagged with the
	// attempt-scoped token.
	if n := rig.visual.submitCount(); n != 1 {
		t.Errorf("visual submitted %d times, want 1", n)
	}
	if len(rig.speech.submits) != 1 {
		t.Errorf("speech submitted %d times, want 1", len(rig.speech.submits))
	}
	if tok := rig.visual.submits[0]; tok != id+"-visual-a1" {
		t.Errorf("visual token = %q", tok)
	}

	// Every intermediate document is on disk for audit.
	for _, doc := range []string{"visual.json", "transcript.json", "utterances.json", "timeline.json", "assessment.json"} {
		if _, err := os.Stat(core.DocPath(id, doc)); err != nil {
			t.Errorf("missing document %s: %v", doc, err)
		}
	}
}

func TestSpeechFailureFailsRequest(t *testing.T) {
	rig := newRig(t, Options{MaxJobAttempts: 1, BackoffBase: time.Second, BackoffCap: time.Minute})
	rig.speech.fetchErr = core.NewError(core.ErrPermanent, "decode_error", "audio stream unreadable")
	id := rig.ingest(60)

	rig.advance(id)

	req := rig.request(id)
	if req.State != core.StateFailed {
		t.Fatalf("state = %s, want failed", req.State)
	}
	if req.FailureCode != core.CodeSpeechFailed {
		t.Errorf("failure code = %q, want %q", req.FailureCode, core.CodeSpeechFailed)
	}
	if _, err := rig.store.GetReport(context.Background(), id); !errors.Is(err, storage.ErrNotFound) {
		t.Error("a failed request must not have a report")
	}
}

func TestVisualFailureDegradesWithDisclosure(t *testing.T) {
	rig := newRig(t, defaultOpts())
	rig.visual.failFetches = 100
	rig.visual.fetchErr = core.NewError(core.ErrValidation, "unsupported_media", "no faces detectable")
	id := rig.ingest(60)

	rig.advance(id)

	req := rig.request(id)
	if req.State != core.StateCompleted {
		t.Fatalf("state = %s, want completed despite soft failure (%s)", req.State, req.FailureMessage)
	}
	if st := rig.job(id, core.ModalityVisual).State; st != core.JobFailed {
		t.Errorf("visual job state = %s, want failed", st)
	}

	report, err := rig.store.GetReport(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.ToLower(report.Assessment.Narrative), "visual") {
		t.Errorf("narrative does not disclose the missing visual modality: %s", report.Assessment.Narrative)
	}

	var summary core.TimelineSummary
	if err := core.LoadDoc(core.DocPath(id, "timeline.json"), &summary); err != nil {
		t.Fatal(err)
	}
	if len(summary.MissingModalities) != 1 || summary.MissingModalities[0] != core.ModalityVisual {
		t.Errorf("missing modalities = %v, want [visual]", summary.MissingModalities)
	}
}

func TestTransientFailureRetriesWithBackoff(t *testing.T) {
	rig := newRig(t, defaultOpts())
	rig.visual.failFetches = 1
	rig.visual.fetchErr = core.NewError(core.ErrTransient, "throttled", "rate exceeded")
	id := rig.ingest(60)

	rig.advance(id)

	j := rig.job(id, core.ModalityVisual)
	if j.State != core.JobPending || j.Attempts != 1 {
		t.Fatalf("after transient failure: state=%s attempts=%d, want pending/1", j.State, j.Attempts)
	}
	if j.Handle != "" {
		t.Error("handle not cleared before retry")
	}
	if !j.NextAttemptAt.After(rig.now) {
		t.Error("no backoff window scheduled")
	}

	// Before the backoff window passes, nothing is re-submitted.
	rig.advance(id)
	if rig.job(id, core.ModalityVisual).Attempts != 1 {
		t.Error("retried before the backoff window")
	}

	rig.now = rig.now.Add(5 * time.Second)
	rig.advance(id)

	req := rig.request(id)
	if req.State != core.StateCompleted {
		t.Fatalf("state = %s, want completed after retry", req.State)
	}
	if n := rig.visual.submitCount(); n != 2 {
		t.Fatalf("visual submitted %d times, want 2", n)
	}
	if rig.visual.submits[0] == rig.visual.submits[1] {
		t.Error("retry reused the previous attempt's client token")
	}
}

func TestValidationFailureNeverRetries(t *testing.T) {
	rig := newRig(t, defaultOpts())
	rig.speech.fetchErr = core.NewError(core.ErrValidation, "bad_audio", "zero-length audio")
	id := rig.ingest(60)

	rig.advance(id)

	j := rig.job(id, core.ModalitySpeech)
	if j.State != core.JobFailed || j.Attempts != 1 {
		t.Errorf("validation failure: state=%s attempts=%d, want failed/1", j.State, j.Attempts)
	}
	if rig.request(id).State != core.StateFailed {
		t.Error("hard modality validation failure must fail the request")
	}
}

func TestJobTimeoutExhaustsAsTimedOut(t *testing.T) {
	opts := defaultOpts()
	opts.MaxJobAttempts = 1
	opts.JobTimeout = 10 * time.Second
	rig := newRig(t, opts)
	rig.visual.pending = true
	id := rig.ingest(60)

	rig.advance(id)
	if st := rig.job(id, core.ModalityVisual).State; st != core.JobRunning {
		t.Fatalf("visual state = %s, want running", st)
	}

	rig.now = rig.now.Add(11 * time.Second)
	rig.advance(id)

	j := rig.job(id, core.ModalityVisual)
	if j.State != core.JobTimedOut {
		t.Fatalf("visual state = %s, want timed_out", j.State)
	}
	if rig.visual.aborts == 0 {
		t.Error("timed-out job was not aborted")
	}

	// Visual is soft, so the request still completes and discloses it.
	req := rig.request(id)
	if req.State != core.StateCompleted {
		t.Fatalf("state = %s, want completed", req.State)
	}
	report, _ := rig.store.GetReport(context.Background(), id)
	if !strings.Contains(strings.ToLower(report.Assessment.Narrative), "visual") {
		t.Error("timed-out modality not disclosed in the narrative")
	}
}

func TestTimeoutRetriesWhileAttemptsRemain(t *testing.T) {
	opts := defaultOpts()
	opts.JobTimeout = 10 * time.Second
	rig := newRig(t, opts)
	rig.visual.pending = true
	id := rig.ingest(60)

	rig.advance(id)
	rig.now = rig.now.Add(11 * time.Second)
	rig.advance(id)

	j := rig.job(id, core.ModalityVisual)
	if j.State != core.JobPending || j.Attempts != 1 {
		t.Fatalf("first timeout with attempts remaining: state=%s attempts=%d, want pending/1",
			j.State, j.Attempts)
	}

	// Let the retry run to completion.
	rig.visual.pending = false
	rig.now = rig.now.Add(time.Minute)
	rig.advance(id)
	if rig.request(id).State != core.StateCompleted {
		t.Error("request did not complete after the retried attempt")
	}
}

func TestRestartedProcessDoesNotResubmit(t *testing.T) {
	rig := newRig(t, defaultOpts())
	rig.visual.pending = true
	id := rig.ingest(60)

	rig.advance(id)
	if n := rig.visual.submitCount(); n != 1 {
		t.Fatalf("visual submitted %d times, want 1", n)
	}

	// A fresh orchestrator over the same store models a process restart.
	adapters := NewAdapters(rig.visual, rig.speech, providers.NewVaderSentiment(), rig.store)
	restarted := New(rig.store, adapters, DefaultGraph(),
		fakeExtractor{},
		&processors.Aggregator{AdjacencyGapSec: 1.0},
		&processors.FusionEngine{Provider: providers.MockReasoning{}, MaxRepairs: 2},
		&processors.EvidenceSelector{Grabber: touchGrabber{}, FramesPerWindow: 2, MinSpacingSec: 2.0},
		defaultOpts())
	restarted.now = func() time.Time { return rig.now }

	if err := restarted.Advance(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if n := rig.visual.submitCount(); n != 1 {
		t.Fatalf("restart re-submitted: %d submissions", n)
	}

	rig.visual.pending = false
	if err := restarted.Advance(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if rig.request(id).State != core.StateCompleted {
		t.Error("restarted orchestrator did not finish the request")
	}
}

func TestResumeFromPersistedFusingState(t *testing.T) {
	rig := newRig(t, defaultOpts())
	id := rig.ingest(60)

	req := rig.request(id)
	req.State = core.StateFusing
	if err := rig.store.UpdateRequest(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	summary := (&processors.Aggregator{AdjacencyGapSec: 1.0}).Build(60, []core.EmotionEvent{
		{Start: 0, End: 5, Label: "FEAR", Confidence: 0.9},
	}, []core.Utterance{
		{Start: 1, End: 3, Text: "stop it please", SentimentLabel: "negative", SentimentScore: -0.5},
	}, nil)
	if _, err := core.SaveDoc(id, "timeline.json", summary); err != nil {
		t.Fatal(err)
	}

	rig.advance(id)

	if rig.request(id).State != core.StateCompleted {
		t.Fatalf("state = %s, want completed from mid-pipeline resume", rig.request(id).State)
	}
	if _, err := rig.store.GetReport(context.Background(), id); err != nil {
		t.Errorf("report missing after resume: %v", err)
	}
}

func TestCancelInFlightRequest(t *testing.T) {
	rig := newRig(t, defaultOpts())
	rig.visual.pending = true
	id := rig.ingest(60)
	ctx := context.Background()

	rig.advance(id)

	if err := rig.orch.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	req := rig.request(id)
	if req.State != core.StateCancelled || req.FailureCode != core.CodeCancelled {
		t.Errorf("after cancel: state=%s code=%s", req.State, req.FailureCode)
	}
	if rig.visual.aborts == 0 {
		t.Error("running job not aborted on cancel")
	}

	// Cancel is idempotent, and a cancelled request never moves again.
	if err := rig.orch.Cancel(ctx, id); err != nil {
		t.Errorf("repeat cancel: %v", err)
	}
	rig.visual.pending = false
	rig.advance(id)
	if rig.request(id).State != core.StateCancelled {
		t.Error("cancelled request advanced")
	}
}

func TestCancelCompletedRequestIsRejected(t *testing.T) {
	rig := newRig(t, defaultOpts())
	id := rig.ingest(60)
	rig.advance(id)

	if err := rig.orch.Cancel(context.Background(), id); err == nil {
		t.Error("cancelling a completed request must fail")
	}
}

func TestRunnerTickAdvancesAllActive(t *testing.T) {
	rig := newRig(t, defaultOpts())
	a := rig.ingest(30)
	b := rig.ingest(60)

	runner := &Runner{Orch: rig.orch, Store: rig.store, Interval: time.Second}
	runner.Tick(context.Background())

	for _, id := range []string{a, b} {
		if rig.request(id).State != core.StateCompleted {
			t.Errorf("request %s = %s after tick, want completed", id, rig.request(id).State)
		}
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	rig := newRig(t, Options{MaxJobAttempts: 10, BackoffBase: 2 * time.Second, BackoffCap: 10 * time.Second})

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{8, 10 * time.Second},
	}
	for _, c := range cases {
		if got := rig.orch.backoff(c.attempts); got != c.want {
			t.Errorf("backoff(%d) = %s, want %s", c.attempts, got, c.want)
		}
	}
}
