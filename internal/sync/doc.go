// Package sync reconciles the local store of this device with the shared remote
// store.
//
// # Core Interface
//
// Manager runs one sync cycle at a time per process. A run walks a fixed state
// machine:
//
//	Idle -> TestingAvailability -> AcquiringLock -> SnapshotLocal -> FetchRemote
//	     -> InitialUpload | NeedsConfirmation | Upload -> DeleteRemote -> DownloadMerge
//	     -> ApplyLocalChanges -> PersistRemoteSnapshot -> ReleaseLock -> Idle
//
// The remote lock is released on every exit path once it has been acquired.
// A run that cannot start because another run is in flight returns at once with
// an ALREADY_IN_PROGRESS error and changes nothing.
//
// # Results
//
// Run never returns an error. Failures are reported in Result with their
// syncerr code and remediation text, and the persisted sync status is updated:
// consecutive failures are counted and automatic sync is suspended after
// MaxConsecutiveFailures, or at once on configuration and permission errors.
//
// # Remote snapshot recovery
//
// A remote snapshot that cannot be parsed is copied aside and replaced by an
// initial upload of the local data. A snapshot written by an incompatible
// schema major version is never overwritten; the run fails instead.
//
// # Compare
//
// Compare runs the merge without the lock and without writing anything, and
// returns the per-item actions a sync would take.
package sync
