package manifest

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cuemby/ghost/pkg/errdefs"
)

// Store reads and writes whole manifests. Writes fully replace the object;
// there is no concurrency control between writers of the same key.
type Store interface {
	Read(ctx context.Context, key string) (*Manifest, error)
	Write(ctx context.Context, key string, m *Manifest) error
}

// S3Store keeps manifests as objects of one bucket
type S3Store struct {
	api    s3iface.S3API
	bucket string
}

// NewS3Store creates a store on bucket
func NewS3Store(api s3iface.S3API, bucket string) *S3Store {
	return &S3Store{api: api, bucket: bucket}
}

// Read fetches and parses the manifest at key. A missing object is an empty
// manifest.
func (s *S3Store) Read(ctx context.Context, key string) (*Manifest, error) {
	out, err := s.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return &Manifest{}, nil
		}
		return nil, errdefs.Manifest(fmt.Sprintf("read manifest s3://%s/%s", s.bucket, key), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errdefs.Manifest(fmt.Sprintf("read manifest s3://%s/%s", s.bucket, key), err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errdefs.Manifest(fmt.Sprintf("parse manifest s3://%s/%s", s.bucket, key), err)
	}
	return m, nil
}

// Write uploads m as the full content of key
func (s *S3Store) Write(ctx context.Context, key string, m *Manifest) error {
	if _, err := s.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(m.Format()),
		ContentType: aws.String("text/plain; charset=utf-8"),
	}); err != nil {
		return errdefs.Manifest(fmt.Sprintf("write manifest s3://%s/%s", s.bucket, key), err)
	}
	return nil
}

// Publish sets the entry of one module in the manifest at key
func Publish(ctx context.Context, store Store, key, name, pkg, modulePath string) (*Manifest, error) {
	m, err := store.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	m.Upsert(name, pkg, modulePath)
	if err := store.Write(ctx, key, m); err != nil {
		return nil, err
	}
	return m, nil
}
