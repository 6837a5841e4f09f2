package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"videoTriage/core"
)

// RekognitionVisual runs facial-emotion detection through Amazon
// Rekognition's asynchronous face-detection job API. The video is staged
// to S3 first; Rekognition only reads from S3.
type RekognitionVisual struct {
	rek    *rekognition.Client
	s3c    *s3.Client
	bucket string
}

func NewRekognitionVisual(cfg aws.Config, bucket string) *RekognitionVisual {
	return &RekognitionVisual{
		rek:    rekognition.NewFromConfig(cfg),
		s3c:    s3.NewFromConfig(cfg),
		bucket: bucket,
	}
}

func (r *RekognitionVisual) Submit(ctx context.Context, in VisualInput) (string, error) {
	key, err := stageToS3(ctx, r.s3c, r.bucket, in.VideoPath, "uploads", in.ClientToken)
	if err != nil {
		return "", core.WrapError(core.ErrTransient, "s3_stage_failed", err)
	}

	// ClientRequestToken makes the start call idempotent on the
	// Rekognition side: the same token returns the same JobId.
	out, err := r.rek.StartFaceDetection(ctx, &rekognition.StartFaceDetectionInput{
		Video: &rektypes.Video{
			S3Object: &rektypes.S3Object{Bucket: aws.String(r.bucket), Name: aws.String(key)},
		},
		FaceAttributes:     rektypes.FaceAttributesAll,
		ClientRequestToken: aws.String(sanitizeToken(in.ClientToken)),
	})
	if err != nil {
		return "", core.WrapError(core.ErrTransient, "rekognition_start_failed", err)
	}
	return aws.ToString(out.JobId), nil
}

func (r *RekognitionVisual) Fetch(ctx context.Context, handle string) ([]core.EmotionEvent, error) {
	var events []core.EmotionEvent
	var next *string
	for {
		out, err := r.rek.GetFaceDetection(ctx, &rekognition.GetFaceDetectionInput{
			JobId:     aws.String(handle),
			NextToken: next,
		})
		if err != nil {
			return nil, core.WrapError(core.ErrTransient, "rekognition_get_failed", err)
		}
		switch out.JobStatus {
		case rektypes.VideoJobStatusInProgress:
			return nil, ErrJobPending
		case rektypes.VideoJobStatusFailed:
			return nil, core.NewError(core.ErrPermanent, "rekognition_job_failed",
				fmt.Sprintf("face detection failed: %s", aws.ToString(out.StatusMessage)))
		}

		for _, f := range out.Faces {
			if f.Face == nil || len(f.Face.Emotions) == 0 {
				continue
			}
			top := f.Face.Emotions[0]
			for _, e := range f.Face.Emotions[1:] {
				if aws.ToFloat32(e.Confidence) > aws.ToFloat32(top.Confidence) {
					top = e
				}
			}
			ts := float64(f.Timestamp) / 1000.0
			events = append(events, core.EmotionEvent{
				Start:      ts,
				End:        ts + 1.0, // one sampling interval
				Label:      string(top.Type),
				Confidence: float64(aws.ToFloat32(top.Confidence)) / 100.0,
			})
		}

		if out.NextToken == nil {
			return events, nil
		}
		next = out.NextToken
	}
}

// Abort is a no-op: Rekognition exposes no cancellation for video jobs.
func (r *RekognitionVisual) Abort(ctx context.Context, handle string) error { return nil }
