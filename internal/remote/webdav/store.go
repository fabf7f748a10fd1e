// Package webdav binds the remote store to a WebDAV server.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// DefaultTimeout bounds every WebDAV request.
const DefaultTimeout = 30 * time.Second

// Config holds the connection settings of a WebDAV server.
type Config struct {
	ServerURL string
	Username  string
	Password  string
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Store is a remote.Store backed by a WebDAV server.
type Store struct {
	client    *gowebdav.Client
	serverURL string
}

var _ remote.Store = (*Store)(nil)

// New creates a Store for cfg.
func New(cfg Config) (*Store, error) {
	if cfg.ServerURL == "" {
		return nil, syncerr.New(syncerr.CodeConfiguration, "webdav: server URL is required")
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, syncerr.New(syncerr.CodeConfiguration, "webdav: invalid server URL %q", cfg.ServerURL)
	}

	client := gowebdav.NewClient(strings.TrimRight(cfg.ServerURL, "/"), cfg.Username, cfg.Password)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client.SetTimeout(timeout)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Transport != nil {
		client.SetTransport(cfg.Transport)
	}

	return &Store{client: client, serverURL: cfg.ServerURL}, nil
}

// Connect verifies the server answers and accepts the credentials.
func (s *Store) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("connect", "/", s.client.Connect())
}

// Exists implements remote.Store
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.client.Stat(p)
	if err != nil {
		err = classify("stat", p, err)
		if remote.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Read implements remote.Store
func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.Read(p)
	if err != nil {
		return nil, classify("read", p, err)
	}
	return data, nil
}

// Write implements remote.Store. The client creates missing parent collections
// when the server answers a PUT with 404 or 409.
func (s *Store) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify("write", p, s.client.Write(p, data, 0644))
}

// MkdirAll implements remote.Store
func (s *Store) MkdirAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info, err := s.client.Stat(p); err == nil && info.IsDir() {
		return nil
	}
	return classify("mkdir", p, s.client.MkdirAll(p, 0755))
}

// Delete implements remote.Store
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := classify("delete", p, s.client.Remove(p))
	if remote.IsNotFound(err) {
		return nil
	}
	return err
}

// Location implements remote.Store
func (s *Store) Location() string {
	return s.serverURL
}

func classify(op, p string, err error) error {
	if err == nil {
		return nil
	}

	var status gowebdav.StatusError
	var netErr net.Error
	code := syncerr.CodeUnknown
	switch {
	case errors.Is(err, gowebdav.ErrAuthChanged):
		code = syncerr.CodePermission
	case errors.As(err, &status):
		code = codeForStatus(status.Status)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		code = syncerr.CodeNetwork
	case errors.Is(err, os.ErrNotExist):
		code = syncerr.CodeNotFound
	}
	return syncerr.Op(op, p, code, fmt.Errorf("webdav: %w", err))
}

func codeForStatus(status int) syncerr.Code {
	switch {
	case status == http.StatusNotFound:
		return syncerr.CodeNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return syncerr.CodePermission
	case status == http.StatusConflict, status == http.StatusPreconditionFailed, status == http.StatusLocked:
		return syncerr.CodeConflict
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return syncerr.CodeNetwork
	default:
		return syncerr.CodeUnknown
	}
}
