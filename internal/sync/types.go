package sync

import (
	"time"

	"github.com/stacklok/promptsync/internal/merge"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// MaxConsecutiveFailures is the number of failed runs in a row after which
// automatic sync is suspended until a manual run succeeds.
const MaxConsecutiveFailures = 5

// Suspension reasons stored in the sync status
const (
	SuspendedTooManyFailures = "too-many-failures"
	SuspendedConfiguration   = "configuration-error"
	SuspendedPermission      = "permission-denied"
)

// Trigger identifies what started a run
type Trigger string

const (
	// TriggerManual is a run requested by the user
	TriggerManual Trigger = "manual"
	// TriggerConfirmed is a run requested by the user after reviewing a merge
	TriggerConfirmed Trigger = "confirmed"
	// TriggerDebounce follows local changes after a quiet period
	TriggerDebounce Trigger = "debounce"
	// TriggerInterval is the periodic background run
	TriggerInterval Trigger = "interval"
	// TriggerOnline follows a transition from offline to online
	TriggerOnline Trigger = "online"
)

// Automatic reports whether the trigger did not come from the user.
func (t Trigger) Automatic() bool {
	switch t {
	case TriggerDebounce, TriggerInterval, TriggerOnline:
		return true
	default:
		return false
	}
}

// State is a step of the sync state machine
type State string

// Sync states in execution order
const (
	StateIdle                  State = "Idle"
	StateTestingAvailability   State = "TestingAvailability"
	StateAcquiringLock         State = "AcquiringLock"
	StateSnapshotLocal         State = "SnapshotLocal"
	StateFetchRemote           State = "FetchRemote"
	StateInitialUpload         State = "InitialUpload"
	StateNeedsConfirmation     State = "NeedsConfirmation"
	StateUpload                State = "Upload"
	StateDeleteRemote          State = "DeleteRemote"
	StateDownloadMerge         State = "DownloadMerge"
	StateApplyLocalChanges     State = "ApplyLocalChanges"
	StatePersistRemoteSnapshot State = "PersistRemoteSnapshot"
	StateReleaseLock           State = "ReleaseLock"
)

// Path is the branch a run took after fetching the remote snapshot
type Path string

const (
	PathInitialUpload     Path = "initial_upload"
	PathMerge             Path = "merge"
	PathNeedsConfirmation Path = "needs_confirmation"
)

// RunOptions controls a single run
type RunOptions struct {
	Trigger Trigger
	// Confirmed skips the confirmation gate and merges unconditionally.
	Confirmed bool
}

// ErrorInfo is a classified failure reported in a Result
type ErrorInfo struct {
	Code        syncerr.Code `json:"code"`
	Message     string       `json:"message"`
	Remediation string       `json:"remediation,omitempty"`
}

// PhaseReport is the outcome of one of the three merge phases
type PhaseReport struct {
	Name      State    `json:"name"`
	Completed bool     `json:"completed"`
	Count     int      `json:"count"`
	Errors    []string `json:"errors,omitempty"`
}

// Result is the outcome of a run
type Result struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Trigger Trigger `json:"trigger"`
	Path    Path    `json:"path,omitempty"`
	SyncID  string  `json:"syncId,omitempty"`

	ItemsProcessed    int `json:"itemsProcessed"`
	ItemsCreated      int `json:"itemsCreated"`
	ItemsUpdated      int `json:"itemsUpdated"`
	ItemsDeleted      int `json:"itemsDeleted"`
	ItemsUploaded     int `json:"itemsUploaded"`
	ConflictsResolved int `json:"conflictsResolved"`

	Phases   []PhaseReport `json:"phases,omitempty"`
	Errors   []ErrorInfo   `json:"errors,omitempty"`
	Warnings []ErrorInfo   `json:"warnings,omitempty"`

	// NeedsConfirmation is set when the run stopped at the confirmation gate;
	// MergeInfo then describes what a confirmed run would merge.
	NeedsConfirmation bool             `json:"needsConfirmation,omitempty"`
	MergeInfo         *merge.MergeInfo `json:"mergeInfo,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration returns how long the run took.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrorCodes returns the codes of the reported errors.
func (r *Result) ErrorCodes() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, string(e.Code))
	}
	return out
}

// FailedResult returns the result of a run that could not start.
func FailedResult(trigger Trigger, err error, at time.Time) *Result {
	res := &Result{Trigger: trigger, StartedAt: at, FinishedAt: at}
	res.fail(err)
	return res
}

func (r *Result) fail(err error) {
	code := syncerr.CodeOf(err)
	r.Success = false
	r.Message = err.Error()
	r.Errors = append(r.Errors, ErrorInfo{
		Code:        code,
		Message:     err.Error(),
		Remediation: syncerr.Remediation(code),
	})
}

func (r *Result) warn(err error) {
	code := syncerr.CodeOf(err)
	r.Warnings = append(r.Warnings, ErrorInfo{
		Code:        code,
		Message:     err.Error(),
		Remediation: syncerr.Remediation(code),
	})
}
