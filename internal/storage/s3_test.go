package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

type fakeS3 struct {
	objects map[string]string
	err     error
	last    *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func statusError(code int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New("http error"),
		},
	}
}

func TestFetch(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"vid1": "mp4 bytes"}}
	f := NewFetcher(client, "ddosecrets-parler", true)
	dest := filepath.Join(t.TempDir(), "vid1.mp4")

	n, err := f.Fetch(context.Background(), "vid1", dest)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len("mp4 bytes")) {
		t.Errorf("n = %d", n)
	}
	got, err := os.ReadFile(dest)
	if err != nil || string(got) != "mp4 bytes" {
		t.Errorf("dest = %q, %v", got, err)
	}
	if client.last.RequestPayer != types.RequestPayerRequester || *client.last.Bucket != "ddosecrets-parler" {
		t.Errorf("request = %+v", client.last)
	}
}

func TestFetch_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &types.NoSuchKey{}, ErrNotFound},
		{"api not found", &smithy.GenericAPIError{Code: "NotFound"}, ErrNotFound},
		{"api access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, ErrForbidden},
		{"http 404", statusError(http.StatusNotFound), ErrNotFound},
		{"http 403", statusError(http.StatusForbidden), ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFetcher(&fakeS3{err: tt.err}, "b", false)
			_, err := f.Fetch(context.Background(), "k", filepath.Join(t.TempDir(), "k"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFetch_OtherErrorsPassThrough(t *testing.T) {
	boom := errors.New("connection reset")
	f := NewFetcher(&fakeS3{err: boom}, "b", false)
	_, err := f.Fetch(context.Background(), "k", filepath.Join(t.TempDir(), "k"))
	if !errors.Is(err, boom) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v", err)
	}

	f = NewFetcher(&fakeS3{err: statusError(http.StatusInternalServerError)}, "b", false)
	if _, err := f.Fetch(context.Background(), "k", filepath.Join(t.TempDir(), "k")); errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		t.Fatalf("500 classified as %v", err)
	}
}

func TestFetch_RequesterPaysOff(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"k": "x"}}
	if _, err := NewFetcher(client, "b", false).Fetch(context.Background(), "k", filepath.Join(t.TempDir(), "k")); err != nil {
		t.Fatal(err)
	}
	if client.last.RequestPayer != "" {
		t.Errorf("request payer = %q", client.last.RequestPayer)
	}
}
