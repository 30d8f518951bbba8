// Package artifact stages commit source snapshots into tenant-scoped object
// storage.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the subset of manager.Uploader behavior the stager needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Stager downloads a commit archive and places it at a deterministic
// tenant-scoped key in the code bucket. Re-staging the same (app, sha)
// overwrites the same key, so retries are safe.
type Stager struct {
	bucket   string
	client   *http.Client
	uploader Uploader
}

// NewStager constructs a Stager against the configured bucket, using the
// default AWS credential chain. httpClient may be nil; a 60s-timeout client is
// used then (archives can be large).
func NewStager(ctx context.Context, bucket string, httpClient *http.Client) (*Stager, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Stager{
		bucket:   bucket,
		client:   httpClient,
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
	}, nil
}

// NewStagerWithUploader wires an explicit uploader; used by tests and by
// callers that manage their own S3 client.
func NewStagerWithUploader(bucket string, httpClient *http.Client, uploader Uploader) *Stager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Stager{bucket: bucket, client: httpClient, uploader: uploader}
}

// Key returns the tenant-scoped storage key for a commit archive.
func Key(appName, commitSHA string) string {
	return fmt.Sprintf("tenants/%s/%s.zip", appName, commitSHA)
}

// Stage downloads archiveURL into a temporary file and uploads it to
// tenants/{app}/{sha}.zip, returning the object key. The temp file is removed
// on every exit path. The upload only starts after the download has fully
// completed, so a failed download never leaves a partial object visible.
func (s *Stager) Stage(ctx context.Context, appName, commitSHA, archiveURL string) (string, error) {
	tmp, err := os.CreateTemp("", "deployd-artifact-*.zip")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := s.download(ctx, archiveURL, tmp); err != nil {
		return "", fmt.Errorf("download archive: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind temp file: %w", err)
	}

	key := Key(appName, commitSHA)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        tmp,
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	return key, nil
}

func (s *Stager) download(ctx context.Context, url string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s from %s", resp.Status, url)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("read archive body: %w", err)
	}
	return nil
}
