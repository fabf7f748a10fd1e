// Package desktop opens the sync directory with the platform's default handler.
package desktop

import (
	"path/filepath"
	"strings"

	"github.com/pkg/browser"

	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// Opener opens a local path or URL
type Opener interface {
	Open(target string) error
}

// BrowserOpener opens URLs in the default browser and paths in the file manager
type BrowserOpener struct{}

// Open implements Opener
func (BrowserOpener) Open(target string) error {
	if isURL(target) {
		return browser.OpenURL(target)
	}
	return browser.OpenFile(target)
}

// dirStore is implemented by stores backed by a host directory
type dirStore interface {
	Dir() string
}

// Target returns what to open for the sync root of store: a host directory for
// folder stores, a URL for HTTP based stores.
func Target(store remote.Store, layout remote.Layout) (string, error) {
	if ds, ok := store.(dirStore); ok && ds.Dir() != "" {
		return filepath.Join(ds.Dir(), filepath.FromSlash(layout.Root)), nil
	}
	if loc := store.Location(); isURL(loc) {
		return strings.TrimRight(loc, "/") + "/" + strings.Trim(layout.Root, "/") + "/", nil
	}
	return "", syncerr.New(syncerr.CodeConfiguration,
		"the sync directory at %s cannot be opened on this device", store.Location())
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
