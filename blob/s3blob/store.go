// Package s3blob provides a blob.Store backed by an S3 bucket. S3 object
// writes are atomic, which is what makes a filled slot path trustworthy: a
// path recorded in the token store always references a fully written object.
package s3blob

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/duchynet/duchy/blob"
	"github.com/duchynet/duchy/log"
)

// Store is a blob.Store writing to a single S3 bucket.
type Store struct {
	bucket   string
	uploader *s3manager.Uploader
	client   *s3.S3

	log log.Logger
}

// NewStore returns a store for the given bucket in the given region.
func NewStore(l log.Logger, region, bucket string) (*Store, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return &Store{
		bucket:   bucket,
		uploader: s3manager.NewUploader(sess),
		client:   s3.New(sess),
		log:      l,
	}, nil
}

func (s *Store) Write(ctx context.Context, path string, content io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        content,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		s.log.Errorw("failed to upload artifact", "path", path, "err", err)
	}
	return err
}

func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, blob.ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) Close() error { return nil }
