package core

import (
	"time"
)

// RequestState is the lifecycle stage of an analysis request. Transitions
// are forward-only except to Failed/Cancelled, which are terminal.
type RequestState string

const (
	StateReceived            RequestState = "received"
	StateExtracting          RequestState = "extracting"
	StateAnalyzingModalities RequestState = "analyzing_modalities"
	StateAggregating         RequestState = "aggregating"
	StateFusing              RequestState = "fusing"
	StateSelectingEvidence   RequestState = "selecting_evidence"
	StateCompleted           RequestState = "completed"
	StateFailed              RequestState = "failed"
	StateCancelled           RequestState = "cancelled"
)

// stateRank orders the forward path. Terminal failure states carry no rank.
var stateRank = map[RequestState]int{
	StateReceived:            0,
	StateExtracting:          1,
	StateAnalyzingModalities: 2,
	StateAggregating:         3,
	StateFusing:              4,
	StateSelectingEvidence:   5,
	StateCompleted:           6,
}

// Terminal reports whether no further transitions are allowed.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from -> to is a legal request transition:
// one step forward along the pipeline, or to Failed/Cancelled from any
// non-terminal state.
func CanTransition(from, to RequestState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	fr, ok1 := stateRank[from]
	tr, ok2 := stateRank[to]
	return ok1 && ok2 && tr == fr+1
}

// Modality is one analysis channel.
type Modality string

const (
	ModalityVisual    Modality = "visual"
	ModalitySpeech    Modality = "speech"
	ModalitySentiment Modality = "sentiment"
)

// JobState is the lifecycle stage of a single modality job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
)

// Terminal reports whether the job state admits no further polling. A
// Failed/TimedOut job may still be re-queued to Pending by the retry
// policy while attempts remain.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobTimedOut
}

// AnalysisRequest is the persisted root record of one triage request. It is
// created once at ingest and owned by the orchestrator until terminal.
// Version implements optimistic concurrency: every write carries the
// version it read, and a stale write is rejected by the store.
type AnalysisRequest struct {
	ID             string       `json:"id"`
	VideoPath      string       `json:"video_path"`
	AudioPath      string       `json:"audio_path,omitempty"`
	DurationSec    float64      `json:"duration_sec"`
	Language       string       `json:"language"`
	State          RequestState `json:"state"`
	FailureCode    string       `json:"failure_code,omitempty"`
	FailureMessage string       `json:"failure_message,omitempty"`
	Version        int64        `json:"version"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ModalityJob tracks one external analysis job. The handle is recorded
// before any transition to Running so a crashed invocation never
// re-submits a job it already started.
type ModalityJob struct {
	RequestID     string    `json:"request_id"`
	Modality      Modality  `json:"modality"`
	Handle        string    `json:"handle,omitempty"`
	State         JobState  `json:"state"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	ResultRef     string    `json:"result_ref,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Version       int64     `json:"version"`
}

// Window is a closed time interval in seconds from the start of the video.
type Window struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Overlaps reports whether two windows overlap or touch within gap seconds.
func (w Window) Overlaps(o Window, gap float64) bool {
	return w.Start <= o.End+gap && o.Start <= w.End+gap
}

// EmotionEvent is one detected facial emotion over a time window.
type EmotionEvent struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Word is a single transcript token with timestamps.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the speech modality result.
type Transcript struct {
	Text  string `json:"text"`
	Words []Word `json:"words"`
}

// Utterance is one sentiment-scored span of transcribed speech.
type Utterance struct {
	Start          float64  `json:"start"`
	End            float64  `json:"end"`
	Text           string   `json:"text"`
	SentimentLabel string   `json:"sentiment_label"`
	SentimentScore float64  `json:"sentiment_score"`
	Mentions       []string `json:"mentions,omitempty"`
}

// TimelineEntry is one provenance-tagged event on the merged timeline.
type TimelineEntry struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Modality   Modality `json:"modality"`
	Kind       string   `json:"kind"` // "emotion" or "utterance"
	Label      string   `json:"label"`
	Text       string   `json:"text,omitempty"`
	Confidence float64  `json:"confidence"`
}

// TimelineSummary is the structured fusion input. It carries no free text
// beyond the transcript spans themselves.
type TimelineSummary struct {
	DurationSec       float64         `json:"duration_sec"`
	Entries           []TimelineEntry `json:"entries"`
	Spans             []Window        `json:"spans"`
	LabelCounts       map[string]int  `json:"label_counts"`
	NegativeRatio     float64         `json:"negative_ratio"`
	MissingModalities []Modality      `json:"missing_modalities,omitempty"`
}

// Classification is the risk band derived deterministically from the score.
type Classification string

const (
	RiskLow    Classification = "Low"
	RiskMedium Classification = "Medium"
	RiskHigh   Classification = "High"
)

// ClassifyScore maps a bounded risk score onto its band. This mapping is
// fixed and independent of whatever label the reasoning step produced.
func ClassifyScore(score int) Classification {
	switch {
	case score <= 33:
		return RiskLow
	case score <= 66:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// FusedAssessment is the validated output of the fusion step.
type FusedAssessment struct {
	RiskScore      int            `json:"risk_score"`
	Classification Classification `json:"classification"`
	Narrative      string         `json:"narrative"`
	CitedWindows   []Window       `json:"cited_windows"`
}

// EvidenceFrame is one still image supporting the narrative.
type EvidenceFrame struct {
	TimestampSec float64 `json:"timestamp_sec"`
	Path         string  `json:"path"`
	Window       Window  `json:"window"`
}

// Report is the immutable final artifact. It exists iff its request
// reached Completed.
type Report struct {
	ID          string          `json:"id"`
	RequestID   string          `json:"request_id"`
	Assessment  FusedAssessment `json:"assessment"`
	Evidence    []EvidenceFrame `json:"evidence"`
	CompletedAt time.Time       `json:"completed_at"`
}
