/*
Copyright (C) 2026  hsearch Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
)

// S3Config locates an S3-compatible bucket, mirroring the teacher's
// S3Factory fields (storage/persistence-s3.go) generalized from "one bucket
// per schema" to "one bucket, namespace-prefixed keys".
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string // non-empty for MinIO / Ceph RGW / other S3-compatible endpoints
	ForcePathStyle bool
	AccessKeyID    string
	SecretKey      string
}

// S3Store is an S3-compatible Store. NewS3Store builds the client once, at
// construction time.
type S3Store struct {
	cfg    S3Config
	client *s3.Client
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: loading aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3Store{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

// withRetry wraps a transient S3 call in bounded exponential backoff (spec
// §7: "object-store transient errors are retried with bounded exponential
// backoff; persistent failures surface as Storage").
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil || !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "SlowDown", "ServiceUnavailable", "InternalError", "RequestThrottled":
			return true
		}
		return false
	}
	// network-level errors without a modeled API error are treated as
	// transient; anything the SDK could classify is handled above.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	var data []byte
	var etag string
	err := withRetry(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
		if err != nil {
			if isNoSuchKey(err) {
				return backoff.Permanent(ErrNotFound)
			}
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.ETag != nil {
			etag = strings.Trim(*resp.ETag, `"`)
		}
		return nil
	})
	if err != nil {
		return nil, ObjectInfo{}, wrapIOErr("get", key, err)
	}
	return data, ObjectInfo{Key: key, ETag: etag, Size: int64(len(data))}, nil
}

func (s *S3Store) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	var data []byte
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	err := withRetry(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key), Range: aws.String(rangeHeader),
		})
		if err != nil {
			if isNoSuchKey(err) {
				return backoff.Permanent(ErrNotFound)
			}
			return err
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, wrapIOErr("getrange", key, err)
	}
	return data, nil
}

func (s *S3Store) put(ctx context.Context, key string, data []byte, ifNoneMatchStar bool, ifMatch string) (ObjectInfo, error) {
	var etag string
	err := withRetry(ctx, func() error {
		input := &s3.PutObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		}
		if ifNoneMatchStar {
			input.IfNoneMatch = aws.String("*")
		}
		if ifMatch != "" {
			input.IfMatch = aws.String(`"` + ifMatch + `"`)
		}
		resp, err := s.client.PutObject(ctx, input)
		if err != nil {
			if isPreconditionFailed(err) {
				return backoff.Permanent(ErrPreconditionFailed)
			}
			return err
		}
		if resp.ETag != nil {
			etag = strings.Trim(*resp.ETag, `"`)
		}
		return nil
	})
	if err != nil {
		return ObjectInfo{}, wrapIOErr("put", key, err)
	}
	return ObjectInfo{Key: key, ETag: etag, Size: int64(len(data))}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) (ObjectInfo, error) {
	return s.put(ctx, key, data, false, "")
}

func (s *S3Store) PutIfNoneMatch(ctx context.Context, key string, data []byte) (ObjectInfo, error) {
	return s.put(ctx, key, data, true, "")
}

func (s *S3Store) PutIfMatch(ctx context.Context, key string, data []byte, expectedETag string) (ObjectInfo, error) {
	return s.put(ctx, key, data, false, expectedETag)
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	err := withRetry(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
		return err
	})
	if err != nil {
		return wrapIOErr("delete", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket), Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapIOErr("list", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := withRetry(ctx, func() error {
		resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(key)})
		if err != nil {
			if isNoSuchKey(err) {
				return backoff.Permanent(ErrNotFound)
			}
			return err
		}
		info = ObjectInfo{Key: key, Size: aws.ToInt64(resp.ContentLength)}
		if resp.ETag != nil {
			info.ETag = strings.Trim(*resp.ETag, `"`)
		}
		return nil
	})
	if err != nil {
		return ObjectInfo{}, wrapIOErr("head", key, err)
	}
	return info, nil
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}
