package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/promptsync/internal/syncerr"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing endpoint", cfg: Config{Bucket: "b"}},
		{name: "missing bucket", cfg: Config{Endpoint: "s3.example.com"}},
		{name: "endpoint with path", cfg: Config{Endpoint: "s3.example.com/path", Bucket: "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Equal(t, syncerr.CodeConfiguration, syncerr.CodeOf(err))
		})
	}
}

func TestKeyAndLocation(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Endpoint: "s3.example.com", Bucket: "team", Prefix: "/devices/", UseSSL: true, Region: "us-east-1"})
	require.NoError(t, err)

	assert.Equal(t, "devices/PromptSync/snapshot.json", s.key("PromptSync/snapshot.json"))
	assert.Equal(t, "devices/PromptSync/locks/sync.lock", s.key("/PromptSync/locks/sync.lock"))
	assert.Equal(t, "https://s3.example.com/team/devices", s.Location())

	bare, err := New(Config{Endpoint: "localhost:9000", Bucket: "team"})
	require.NoError(t, err)
	assert.Equal(t, "PromptSync/snapshot.json", bare.key("PromptSync/snapshot.json"))
}

type netTimeout struct{}

func (netTimeout) Error() string   { return "dial tcp: i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

func TestCodeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want syncerr.Code
	}{
		{name: "no such key", err: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, want: syncerr.CodeNotFound},
		{name: "bare 404", err: minio.ErrorResponse{StatusCode: http.StatusNotFound}, want: syncerr.CodeNotFound},
		{name: "no such bucket", err: minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, want: syncerr.CodeConfiguration},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, want: syncerr.CodePermission},
		{name: "bad signature", err: minio.ErrorResponse{Code: "SignatureDoesNotMatch", StatusCode: http.StatusForbidden}, want: syncerr.CodePermission},
		{name: "conflict", err: minio.ErrorResponse{StatusCode: http.StatusConflict}, want: syncerr.CodeConflict},
		{name: "slow down", err: minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, want: syncerr.CodeNetwork},
		{name: "server error", err: minio.ErrorResponse{StatusCode: http.StatusBadGateway}, want: syncerr.CodeNetwork},
		{name: "timeout", err: fmt.Errorf("put: %w", context.DeadlineExceeded), want: syncerr.CodeNetwork},
		{name: "net error", err: netTimeout{}, want: syncerr.CodeNetwork},
		{name: "other", err: errors.New("boom"), want: syncerr.CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, codeFor(tt.err))
			assert.Equal(t, tt.want, syncerr.CodeOf(classify("read", "p", tt.err)))
		})
	}
}
