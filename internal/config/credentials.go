package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/stacklok/promptsync/internal/syncerr"
)

const (
	// KeyringService is the service name under which secrets are stored.
	KeyringService = "promptsync"

	// WebDAVPasswordEnvVar overrides the WebDAV password.
	WebDAVPasswordEnvVar = "PROMPTSYNC_WEBDAV_PASSWORD"

	// S3SecretEnvVar overrides the S3 secret access key.
	S3SecretEnvVar = "PROMPTSYNC_S3_SECRET_ACCESS_KEY"
)

// WebDAVKeyringUser returns the keyring account for a WebDAV login.
func WebDAVKeyringUser(w *WebDAVConfig) string {
	return "webdav:" + w.Username + "@" + w.ServerURL
}

// S3KeyringUser returns the keyring account for an S3 access key.
func S3KeyringUser(s *S3Config) string {
	return "s3:" + s.AccessKeyID + "@" + s.Endpoint
}

// GetPassword resolves the WebDAV password. Sources are checked in order: the OS
// keyring, PasswordFile, the PROMPTSYNC_WEBDAV_PASSWORD environment variable, and
// the inline value.
func (w *WebDAVConfig) GetPassword() (string, error) {
	return resolveSecret(w.UseKeyring, WebDAVKeyringUser(w), w.PasswordFile, WebDAVPasswordEnvVar, w.Password)
}

// GetSecretAccessKey resolves the S3 secret the same way as GetPassword.
func (s *S3Config) GetSecretAccessKey() (string, error) {
	return resolveSecret(s.UseKeyring, S3KeyringUser(s), s.SecretAccessKeyFile, S3SecretEnvVar, s.SecretAccessKey)
}

func resolveSecret(useKeyring bool, user, file, envVar, inline string) (string, error) {
	if useKeyring {
		secret, err := keyring.Get(KeyringService, user)
		switch {
		case err == nil:
			return secret, nil
		case !errors.Is(err, keyring.ErrNotFound):
			return "", syncerr.Wrap(syncerr.CodeConfiguration, err, "failed to read secret from keyring")
		}
	}

	if file != "" {
		data, err := os.ReadFile(filepath.Clean(file))
		if err != nil {
			return "", syncerr.Wrap(syncerr.CodeConfiguration, err, fmt.Sprintf("failed to read secret file %s", file))
		}
		return strings.TrimSpace(string(data)), nil
	}

	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	if inline != "" {
		return inline, nil
	}
	return "", syncerr.New(syncerr.CodeConfiguration, "no secret configured (keyring, file, %s or inline)", envVar)
}

// StoreSecret saves a secret in the OS keyring.
func StoreSecret(user, secret string) error {
	if err := keyring.Set(KeyringService, user, secret); err != nil {
		return syncerr.Wrap(syncerr.CodeConfiguration, err, "failed to store secret in keyring")
	}
	return nil
}

// DeleteSecret removes a secret from the OS keyring. Missing entries are ignored.
func DeleteSecret(user string) error {
	if err := keyring.Delete(KeyringService, user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return syncerr.Wrap(syncerr.CodeConfiguration, err, "failed to delete secret from keyring")
	}
	return nil
}
