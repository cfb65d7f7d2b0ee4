package cloudtest

import (
	"bytes"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3 fakes the object storage client. Objects are keyed by "bucket/key".
type S3 struct {
	s3iface.S3API
	recorder

	Objects map[string][]byte
}

// NewS3 creates an empty fake
func NewS3() *S3 {
	return &S3{Objects: make(map[string][]byte)}
}

// Put stores an object directly
func (f *S3) Put(bucket, key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Objects[bucket+"/"+key] = data
}

// Object returns the content of an object and whether it exists
func (f *S3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Objects[bucket+"/"+key]
	return data, ok
}

// Keys returns every key of bucket under prefix, sorted
func (f *S3) Keys(bucket, prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys(bucket, prefix)
}

func (f *S3) keys(bucket, prefix string) []string {
	var out []string
	for _, full := range sortedKeys(f.Objects) {
		key := strings.TrimPrefix(full, bucket+"/")
		if key == full {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out
}

func (f *S3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetObject"); err != nil {
		return nil, err
	}
	data, ok := f.Objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, apiError(s3.ErrCodeNoSuchKey, "The specified key does not exist.")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *S3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutObject"); err != nil {
		return nil, err
	}
	var data []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		data = b
	}
	f.Objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *S3) ListObjectsV2PagesWithContext(ctx aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	f.mu.Lock()
	if err := f.record("ListObjectsV2"); err != nil {
		f.mu.Unlock()
		return err
	}
	out := &s3.ListObjectsV2Output{}
	bucket := aws.StringValue(in.Bucket)
	for _, key := range f.keys(bucket, aws.StringValue(in.Prefix)) {
		out.Contents = append(out.Contents, &s3.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(f.Objects[bucket+"/"+key]))),
		})
	}
	out.KeyCount = aws.Int64(int64(len(out.Contents)))
	f.mu.Unlock()

	fn(out, true)
	return nil
}

func (f *S3) DeleteObjectsWithContext(ctx aws.Context, in *s3.DeleteObjectsInput, opts ...request.Option) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteObjects"); err != nil {
		return nil, err
	}
	out := &s3.DeleteObjectsOutput{}
	bucket := aws.StringValue(in.Bucket)
	for _, obj := range in.Delete.Objects {
		delete(f.Objects, bucket+"/"+aws.StringValue(obj.Key))
		out.Deleted = append(out.Deleted, &s3.DeletedObject{Key: obj.Key})
	}
	return out, nil
}
