package coordinator

import (
	"log/slog"
	"time"

	"github.com/stacklok/promptsync/internal/config"
)

// Settings controls which automatic triggers fire and how often
type Settings struct {
	// AutoSync enables every automatic trigger. When false only manual runs happen.
	AutoSync bool
	// Interval is the period of the background sync.
	Interval time.Duration
	// Debounce is the quiet period after a local change.
	Debounce time.Duration
	// SyncOnStart runs one automatic sync when the coordinator starts.
	SyncOnStart bool
	// ConfigHash identifies the configuration the coordinator was built from.
	ConfigHash string
}

// SettingsFromConfig derives the scheduler settings from the sync configuration
func SettingsFromConfig(cfg *config.Config) Settings {
	debounce := cfg.Tuning.Debounce
	if debounce <= 0 {
		debounce = config.DefaultDebounce
	}
	return Settings{
		AutoSync:    cfg.Enabled && cfg.AutoSync,
		Interval:    getSyncInterval(cfg),
		Debounce:    debounce,
		SyncOnStart: true,
		ConfigHash:  cfg.ComputeConfigHash(),
	}
}

// getSyncInterval extracts the background interval from the configuration
func getSyncInterval(cfg *config.Config) time.Duration {
	if cfg.SyncIntervalMinutes > 0 {
		return cfg.SyncInterval()
	}
	slog.Warn("Invalid sync interval, using default",
		"interval_minutes", cfg.SyncIntervalMinutes,
		"default_minutes", config.DefaultSyncIntervalMinutes)
	return time.Duration(config.DefaultSyncIntervalMinutes) * time.Minute
}
