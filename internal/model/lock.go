package model

import "time"

// LockTypeSync is the only lock type written by the sync engine.
const LockTypeSync = "sync"

// SyncLock is the advisory cross-device lock file. Timestamp and TTL are stored in
// milliseconds so every client reads them the same way.
type SyncLock struct {
	ID        string `json:"id"`
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	TTL       int64  `json:"ttl"`
}

// AcquiredAt returns the lock timestamp as a time.
func (l *SyncLock) AcquiredAt() time.Time {
	return time.UnixMilli(l.Timestamp)
}

// ExpiresAt returns when the lock stops being valid.
func (l *SyncLock) ExpiresAt() time.Time {
	return l.AcquiredAt().Add(time.Duration(l.TTL) * time.Millisecond)
}

// Valid reports whether the lock is still held at now.
func (l *SyncLock) Valid(now time.Time) bool {
	if l == nil {
		return false
	}
	return now.UnixMilli()-l.Timestamp < l.TTL
}
