package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	transtypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"

	"videoTriage/core"
)

// TranscribeSpeech runs speech-to-text through Amazon Transcribe's
// asynchronous job API, with the audio staged to S3. The job name doubles
// as the idempotency key: starting a job whose name already exists is
// treated as already-submitted, not as a failure.
type TranscribeSpeech struct {
	tc     *transcribe.Client
	s3c    *s3.Client
	bucket string
	http   *http.Client
}

func NewTranscribeSpeech(cfg aws.Config, bucket string) *TranscribeSpeech {
	return &TranscribeSpeech{
		tc:     transcribe.NewFromConfig(cfg),
		s3c:    s3.NewFromConfig(cfg),
		bucket: bucket,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *TranscribeSpeech) Submit(ctx context.Context, in SpeechInput) (string, error) {
	key, err := stageToS3(ctx, t.s3c, t.bucket, in.AudioPath, "audio", in.ClientToken)
	if err != nil {
		return "", core.WrapError(core.ErrTransient, "s3_stage_failed", err)
	}

	jobName := sanitizeToken(in.ClientToken)
	_, err = t.tc.StartTranscriptionJob(ctx, &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
		Media:                &transtypes.Media{MediaFileUri: aws.String(fmt.Sprintf("s3://%s/%s", t.bucket, key))},
		LanguageCode:         transtypes.LanguageCode(in.Language),
	})
	if err != nil {
		var conflict *transtypes.ConflictException
		if errors.As(err, &conflict) {
			return jobName, nil // job already started under this name
		}
		return "", core.WrapError(core.ErrTransient, "transcribe_start_failed", err)
	}
	return jobName, nil
}

func (t *TranscribeSpeech) Fetch(ctx context.Context, handle string) (*core.Transcript, error) {
	out, err := t.tc.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(handle),
	})
	if err != nil {
		return nil, core.WrapError(core.ErrTransient, "transcribe_get_failed", err)
	}
	job := out.TranscriptionJob

	switch job.TranscriptionJobStatus {
	case transtypes.TranscriptionJobStatusQueued, transtypes.TranscriptionJobStatusInProgress:
		return nil, ErrJobPending
	case transtypes.TranscriptionJobStatusFailed:
		return nil, core.NewError(core.ErrPermanent, "transcribe_job_failed",
			fmt.Sprintf("transcription failed: %s", aws.ToString(job.FailureReason)))
	}

	return t.fetchTranscript(ctx, aws.ToString(job.Transcript.TranscriptFileUri))
}

// awsTranscriptDoc mirrors the transcript JSON Transcribe publishes to
// its result URI.
type awsTranscriptDoc struct {
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		Items []struct {
			Type         string `json:"type"` // "pronunciation" or "punctuation"
			StartTime    string `json:"start_time"`
			EndTime      string `json:"end_time"`
			Alternatives []struct {
				Content string `json:"content"`
			} `json:"alternatives"`
		} `json:"items"`
	} `json:"results"`
}

func (t *TranscribeSpeech) fetchTranscript(ctx context.Context, uri string) (*core.Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, core.WrapError(core.ErrTransient, "transcript_fetch_failed", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ErrTransient, "transcript_fetch_failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewError(core.ErrTransient, "transcript_fetch_failed",
			fmt.Sprintf("transcript URI returned %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.WrapError(core.ErrTransient, "transcript_fetch_failed", err)
	}

	var doc awsTranscriptDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, core.WrapError(core.ErrPermanent, "transcript_parse_failed", err)
	}

	tr := &core.Transcript{}
	if len(doc.Results.Transcripts) > 0 {
		tr.Text = doc.Results.Transcripts[0].Transcript
	}
	for _, item := range doc.Results.Items {
		if len(item.Alternatives) == 0 {
			continue
		}
		content := item.Alternatives[0].Content
		if item.Type == "punctuation" {
			// Fold punctuation into the preceding word.
			if n := len(tr.Words); n > 0 {
				tr.Words[n-1].Text += content
			}
			continue
		}
		start, err1 := strconv.ParseFloat(item.StartTime, 64)
		end, err2 := strconv.ParseFloat(item.EndTime, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		tr.Words = append(tr.Words, core.Word{Start: start, End: end, Text: content})
	}
	return tr, nil
}

// Abort deletes the transcription job, best effort.
func (t *TranscribeSpeech) Abort(ctx context.Context, handle string) error {
	_, err := t.tc.DeleteTranscriptionJob(ctx, &transcribe.DeleteTranscriptionJobInput{
		TranscriptionJobName: aws.String(handle),
	})
	return err
}
