package artifact

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeUploader captures the upload it receives.
type fakeUploader struct {
	uploadFunc func(ctx context.Context, input *s3.PutObjectInput) (*manager.UploadOutput, error)
	calls      int
	lastBucket string
	lastKey    string
	lastBody   []byte
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.calls++
	f.lastBucket = aws.ToString(input.Bucket)
	f.lastKey = aws.ToString(input.Key)
	if input.Body != nil {
		b, err := io.ReadAll(input.Body)
		if err != nil {
			return nil, err
		}
		f.lastBody = b
	}
	if f.uploadFunc != nil {
		return f.uploadFunc(ctx, input)
	}
	return &manager.UploadOutput{}, nil
}

func TestStage_Success(t *testing.T) {
	archive := []byte("PK\x03\x04fake-zip-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/acme/demo/archive/abc123.zip" {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	up := &fakeUploader{}
	stager := NewStagerWithUploader("code-bucket", srv.Client(), up)

	key, err := stager.Stage(context.Background(), "demo", "abc123", srv.URL+"/acme/demo/archive/abc123.zip")
	if err != nil {
		t.Fatalf("Stage error: %v", err)
	}
	if key != "tenants/demo/abc123.zip" {
		t.Fatalf("key = %q, want tenants/demo/abc123.zip", key)
	}
	if up.calls != 1 {
		t.Fatalf("uploader called %d times, want 1", up.calls)
	}
	if up.lastBucket != "code-bucket" || up.lastKey != "tenants/demo/abc123.zip" {
		t.Fatalf("uploaded to %s/%s", up.lastBucket, up.lastKey)
	}
	if string(up.lastBody) != string(archive) {
		t.Fatalf("uploaded body does not match downloaded archive")
	}
}

func TestStage_DownloadFailureSkipsUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	up := &fakeUploader{}
	stager := NewStagerWithUploader("code-bucket", srv.Client(), up)

	_, err := stager.Stage(context.Background(), "demo", "abc123", srv.URL+"/missing.zip")
	if err == nil {
		t.Fatal("expected error on 404 download")
	}
	if up.calls != 0 {
		t.Fatalf("uploader called %d times on failed download, want 0", up.calls)
	}
}

func TestStage_UploadFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("zip"))
	}))
	defer srv.Close()

	up := &fakeUploader{
		uploadFunc: func(ctx context.Context, input *s3.PutObjectInput) (*manager.UploadOutput, error) {
			return nil, errors.New("s3 unavailable")
		},
	}
	stager := NewStagerWithUploader("code-bucket", srv.Client(), up)

	if _, err := stager.Stage(context.Background(), "demo", "abc123", srv.URL+"/a.zip"); err == nil {
		t.Fatal("expected upload failure to propagate")
	}
}

func TestKey(t *testing.T) {
	if got := Key("demo", "abc123"); got != "tenants/demo/abc123.zip" {
		t.Fatalf("Key = %q", got)
	}
}
