// Package storage downloads dump objects from the requester-pays S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"parler_dump/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	ErrNotFound  = errors.New("object does not exist")
	ErrForbidden = errors.New("access denied (are AWS credentials set?)")
)

// ObjectGetter is the part of *s3.Client the fetcher uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func NewClient(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	slog.Debug("loading AWS config", "region", cfg.Region)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

type Fetcher struct {
	client        ObjectGetter
	bucket        string
	requesterPays bool
}

func NewFetcher(client ObjectGetter, bucket string, requesterPays bool) *Fetcher {
	return &Fetcher{client: client, bucket: bucket, requesterPays: requesterPays}
}

// Fetch downloads key to dest and returns the number of bytes written. A
// partial download never leaves dest behind.
func (f *Fetcher) Fetch(ctx context.Context, key, dest string) (int64, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	}
	if f.requesterPays {
		in.RequestPayer = types.RequestPayerRequester
	}

	out, err := f.client.GetObject(ctx, in)
	if err != nil {
		return 0, classify(key, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, out.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return n, fmt.Errorf("download %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return n, err
	}
	return n, nil
}

// classify maps S3 failures onto ErrNotFound and ErrForbidden. Each is
// decided on its own signal.
func classify(key string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%s: %w", key, ErrForbidden)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", key, ErrForbidden)
		}
	}

	return fmt.Errorf("get %s: %w", key, err)
}
