package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	awsCfg  aws.Config
	awsErr  error
	awsOnce sync.Once
)

// GetAWSConfig loads the default AWS configuration once per process.
func GetAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	awsOnce.Do(func() {
		slog.Info("initializing AWS config", "region", region)
		awsCfg, awsErr = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	})
	return awsCfg, awsErr
}

// stageToS3 uploads a local media file so the AWS analysis services can
// reach it, returning the object key. Keys are derived from the client
// token, so re-staging the same submission overwrites the same object.
func stageToS3(ctx context.Context, client *s3.Client, bucket, localPath, prefix, token string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s%s", prefix, sanitizeToken(token), filepath.Ext(localPath))
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("stage %s to s3://%s/%s: %w", localPath, bucket, key, err)
	}
	return key, nil
}

// sanitizeToken keeps job names within the character set the AWS job APIs
// accept.
func sanitizeToken(token string) string {
	var b strings.Builder
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
