// Package artifact uploads action artifacts (screenshots, PDFs) to
// durable storage, keyed by organization/context/action so they can be
// retrieved independently of the bounded in-process history ring.
// Grounded on the teacher's
// services/execution_bridge/s3_upload_manager.go: an s3manager.Uploader
// built once, a context-keyed object key scheme, content-type/encoding
// metadata on the PutObject call. Generalized from a fixed video/gzip
// pipeline to arbitrary byte artifacts with a caller-supplied content
// type (screenshots and PDFs are already compressed, so the gzip pipe
// stage is dropped rather than ported verbatim).
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Store persists an action artifact and returns a retrievable
// location (the teacher's interface is synchronous upload, kept as-is
// since artifacts are small relative to the video recordings it was
// originally built for).
type Store interface {
	Upload(ctx context.Context, orgID, contextID, actionType string, data []byte, contentType string) (location string, err error)
}

// S3Store is the durable Store backed by AWS S3.
type S3Store struct {
	uploader *s3manager.Uploader
	bucket   string
}

// NewS3Store constructs an S3Store for bucket in region.
func NewS3Store(region, bucket string) (*S3Store, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return &S3Store{uploader: s3manager.NewUploader(sess), bucket: bucket}, nil
}

// Upload streams data to S3 under a key scoped by org/date/context/action.
func (s *S3Store) Upload(ctx context.Context, orgID, contextID, actionType string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("artifacts/%s/%s/%s/%s-%d",
		orgID, time.Now().Format("2006-01-02"), contextID, actionType, time.Now().UnixNano())

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]*string{
			"context-id":  aws.String(contextID),
			"action-type": aws.String(actionType),
		},
	})
	if err != nil {
		return "", fmt.Errorf("uploading artifact: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// MemStore is an in-process Store for tests and for deployments
// without S3 configured; it never evicts, so callers needing bounded
// memory should prefer S3Store in production.
type MemStore struct {
	objects map[string][]byte
}

func NewMemStore() *MemStore { return &MemStore{objects: make(map[string][]byte)} }

func (m *MemStore) Upload(ctx context.Context, orgID, contextID, actionType string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("mem://%s/%s/%s-%d", orgID, contextID, actionType, time.Now().UnixNano())
	m.objects[key] = data
	return key, nil
}

func (m *MemStore) Get(location string) ([]byte, bool) {
	b, ok := m.objects[location]
	return b, ok
}
