// Package s3 binds the remote store to an S3-compatible bucket. Object stores have
// no directories, so MkdirAll is a no-op and every path maps to an object key
// under an optional prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

// Config holds the bucket settings.
type Config struct {
	Endpoint        string
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Timeout         time.Duration

	// AppName and AppVersion are appended to the client's User-Agent
	AppName    string
	AppVersion string
}

// Store is a remote.Store backed by an S3-compatible bucket.
type Store struct {
	client  *minio.Client
	bucket  string
	prefix  string
	timeout time.Duration
	loc     string
}

var _ remote.Store = (*Store)(nil)

// New creates a Store for cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, syncerr.New(syncerr.CodeConfiguration, "s3: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, syncerr.New(syncerr.CodeConfiguration, "s3: bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, syncerr.Wrap(syncerr.CodeConfiguration, err, "s3: invalid endpoint")
	}
	if cfg.AppName != "" {
		client.SetAppInfo(cfg.AppName, cfg.AppVersion)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: timeout,
		loc:     fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, path.Join(cfg.Bucket, cfg.Prefix)),
	}, nil
}

// Exists implements remote.Store
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.StatObject(ctx, s.bucket, s.key(p), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	err = classify("stat", p, err)
	if !remote.IsNotFound(err) {
		return false, err
	}

	// a "directory" exists when at least one object lives under it
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:  s.key(p) + "/",
		MaxKeys: 1,
	})
	for obj := range objects {
		if obj.Err != nil {
			return false, classify("stat", p, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

// Read implements remote.Store
func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(p), minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("read", p, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify("read", p, err)
	}
	return data, nil
}

// Write implements remote.Store
func (s *Store) Write(ctx context.Context, p string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.bucket, s.key(p), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return classify("write", p, err)
}

// MkdirAll implements remote.Store. It only checks that the bucket is reachable.
func (s *Store) MkdirAll(ctx context.Context, p string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify("mkdir", p, err)
	}
	if !ok {
		return syncerr.Op("mkdir", p, syncerr.CodeConfiguration, fmt.Errorf("s3: bucket %s does not exist", s.bucket))
	}
	return nil
}

// Delete implements remote.Store
func (s *Store) Delete(ctx context.Context, p string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := classify("delete", p, s.client.RemoveObject(ctx, s.bucket, s.key(p), minio.RemoveObjectOptions{}))
	if remote.IsNotFound(err) {
		return nil
	}
	return err
}

// Location implements remote.Store
func (s *Store) Location() string {
	return s.loc
}

func (s *Store) key(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}
	return syncerr.Op(op, p, codeFor(err), fmt.Errorf("s3: %w", err))
}

func codeFor(err error) syncerr.Code {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return syncerr.CodeNetwork
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return syncerr.CodeNotFound
	case "NoSuchBucket", "InvalidBucketName":
		return syncerr.CodeConfiguration
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return syncerr.CodePermission
	case "PreconditionFailed", "OperationAborted":
		return syncerr.CodeConflict
	case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
		return syncerr.CodeNetwork
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return syncerr.CodeNotFound
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusUnauthorized:
		return syncerr.CodePermission
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusPreconditionFailed:
		return syncerr.CodeConflict
	case resp.StatusCode >= 500:
		return syncerr.CodeNetwork
	default:
		return syncerr.CodeUnknown
	}
}
