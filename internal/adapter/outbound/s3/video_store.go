// Package s3 stores downloaded videos in an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/veoanimator/server/internal/module/generation"
)

// ObjectAPI is the subset of the S3 client used by VideoStore.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// VideoStore implements generation.BlobStore on S3.
type VideoStore struct {
	client ObjectAPI
	bucket string
	prefix string
}

// NewVideoStore creates a video store writing under prefix in bucket.
func NewVideoStore(client ObjectAPI, bucket, prefix string) *VideoStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &VideoStore{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads data and returns the new object's handle.
func (s *VideoStore) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	handle := uuid.NewString()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(handle)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return handle, nil
}

// Get downloads the object stored under handle.
func (s *VideoStore) Get(ctx context.Context, handle string) (*generation.Blob, error) {
	if !validHandle(handle) {
		return nil, generation.ErrBlobNotFound
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, generation.ErrBlobNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}

	return &generation.Blob{
		Handle:   handle,
		Data:     data,
		MIMEType: aws.ToString(out.ContentType),
	}, nil
}

// Delete removes the object stored under handle.
func (s *VideoStore) Delete(ctx context.Context, handle string) error {
	if !validHandle(handle) {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(handle)),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *VideoStore) key(handle string) string {
	return s.prefix + handle + ".mp4"
}

// validHandle rejects handles that could escape the prefix.
func validHandle(handle string) bool {
	_, err := uuid.Parse(handle)
	return err == nil
}

// Compile-time interface check
var _ generation.BlobStore = (*VideoStore)(nil)
