// Package factory creates the remote store binding selected by the sync
// configuration.
package factory

import (
	"fmt"

	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/remote/folder"
	"github.com/stacklok/promptsync/internal/remote/s3"
	"github.com/stacklok/promptsync/internal/remote/webdav"
	"github.com/stacklok/promptsync/internal/syncerr"
	"github.com/stacklok/promptsync/pkg/versions"
)

// Binding is a ready-to-use remote store together with its file layout.
type Binding struct {
	Store  remote.Store
	Layout remote.Layout
}

// New creates the remote binding for cfg. Secrets are resolved here so a missing
// password surfaces as a configuration error before any network call.
func New(cfg *config.Config) (*Binding, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	layout := remote.NewLayout(cfg.SyncRoot)
	timeout := cfg.Tuning.RequestTimeout

	switch cfg.Provider {
	case config.ProviderWebDAV:
		if cfg.WebDAV == nil {
			return nil, syncerr.New(syncerr.CodeConfiguration, "webdav: section is required")
		}
		password, err := cfg.WebDAV.GetPassword()
		if err != nil {
			return nil, err
		}
		store, err := webdav.New(webdav.Config{
			ServerURL: cfg.WebDAV.ServerURL,
			Username:  cfg.WebDAV.Username,
			Password:  password,
			Timeout:   timeout,
			UserAgent: versions.UserAgent(),
		})
		if err != nil {
			return nil, err
		}
		return &Binding{Store: store, Layout: layout}, nil

	case config.ProviderICloud:
		dir := folder.DefaultICloudPath()
		if cfg.ICloud != nil && cfg.ICloud.CustomPath != "" {
			dir = cfg.ICloud.CustomPath
		}
		if dir == "" {
			return nil, syncerr.New(syncerr.CodeConfiguration,
				"icloud: iCloud Drive is not available on this platform, set icloud.customPath")
		}
		store, err := folder.New(dir)
		if err != nil {
			return nil, err
		}
		return &Binding{Store: store, Layout: layout}, nil

	case config.ProviderS3:
		if cfg.S3 == nil {
			return nil, syncerr.New(syncerr.CodeConfiguration, "s3: section is required")
		}
		secret, err := cfg.S3.GetSecretAccessKey()
		if err != nil {
			return nil, err
		}
		store, err := s3.New(s3.Config{
			Endpoint:        cfg.S3.Endpoint,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: secret,
			UseSSL:          cfg.S3.UseSSL,
			Timeout:         timeout,
			AppName:         versions.ProductName(),
			AppVersion:      versions.GetVersionInfo().Version,
		})
		if err != nil {
			return nil, err
		}
		return &Binding{Store: store, Layout: layout}, nil

	default:
		return nil, syncerr.New(syncerr.CodeConfiguration, "unknown provider: %q", cfg.Provider)
	}
}
