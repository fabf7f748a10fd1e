// Package coordinator provides automatic sync scheduling.
//
// This package decides when a sync runs; internal/sync decides what a run does.
// A single goroutine owns every scheduling decision:
//
//   - Debounce: each local change (re)arms one timer; the run starts once the
//     store has been quiet for the configured period.
//   - Interval: a jittered ticker starts a background run. A tick is skipped while
//     a run is in flight.
//   - Network: automatic runs pause while the remote is unreachable, and the
//     transition back to online starts a run immediately.
//
// # Backoff and suspension
//
// The coordinator reads the persisted sync status before every automatic run:
//
//   - after CooldownThreshold consecutive failures, automatic runs wait
//     CooldownPeriod after the last attempt
//   - once the sync manager suspends automatic sync, nothing runs until a manual
//     run succeeds; a configuration or permission suspension also lifts when the
//     configuration hash changes
//   - a run waiting for merge confirmation pauses automatic runs
//
// When automatic sync becomes suspended the Notifier is called once.
//
// # Usage Example
//
//	coord := coordinator.New(manager, stateSvc, coordinator.SettingsFromConfig(cfg),
//	    coordinator.WithChangeNotifier(localStore),
//	    coordinator.WithNetworkMonitor(monitor))
//
//	go coord.Start(ctx)
//	defer coord.Stop()
package coordinator
