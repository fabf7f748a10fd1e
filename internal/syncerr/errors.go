// Package syncerr defines the error taxonomy shared by the sync engine, its remote
// store bindings and its public operations. Codes are strings so they serialize
// naturally into sync results and API responses.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Code classifies a sync failure.
type Code string

const (
	// CodeConfiguration indicates missing or invalid server, path or credentials.
	CodeConfiguration Code = "CONFIGURATION_ERROR"

	// CodeNetwork indicates a timeout, DNS failure or reset connection.
	CodeNetwork Code = "NETWORK_ERROR"

	// CodePermission indicates the remote rejected the credentials or the path.
	CodePermission Code = "PERMISSION_DENIED"

	// CodeNotFound indicates a remote path does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates the remote refused a write because of its state.
	CodeConflict Code = "CONFLICT"

	// CodeLockHeld indicates another device holds the sync lock.
	CodeLockHeld Code = "LOCK_HELD"

	// CodeData indicates a corrupt or unparseable remote snapshot.
	CodeData Code = "DATA_ERROR"

	// CodeInProgress indicates a sync run is already in flight in this process.
	CodeInProgress Code = "ALREADY_IN_PROGRESS"

	// CodeUnknown indicates an unclassified failure.
	CodeUnknown Code = "UNKNOWN"
)

// Error is a classified sync error.
type Error struct {
	Code    Code
	Op      string
	Path    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Path != "" {
			fmt.Fprintf(&b, " %q", e.Path)
		}
		b.WriteString(": ")
	}
	switch {
	case e.Message != "" && e.Err != nil:
		fmt.Fprintf(&b, "%s: %v", e.Message, e.Err)
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Code))
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. A nil err yields nil.
func Wrap(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// Op attaches an operation and path to err, keeping an existing classification.
func Op(op, path string, code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Path: path, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain. Unclassified errors
// are inferred from well-known standard library conditions.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	var lh *LockHeldError
	if errors.As(err, &lh) {
		return CodeLockHeld
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeNetwork
	case errors.Is(err, os.ErrNotExist):
		return CodeNotFound
	case errors.Is(err, os.ErrPermission):
		return CodePermission
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether an operation failing with err may succeed if tried
// again within the same run. Lock contention is only retried by the next run.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch CodeOf(err) {
	case CodeNetwork, CodeConflict, CodeUnknown:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err should stop automatic scheduling until the user acts.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeConfiguration, CodePermission:
		return true
	default:
		return false
	}
}

// Remediation returns user-facing guidance for a code.
func Remediation(code Code) string {
	switch code {
	case CodeConfiguration:
		return "Check the sync settings: server URL, folder path and credentials must be set."
	case CodeNetwork:
		return "Check your network connection. Sync will retry automatically."
	case CodePermission:
		return "Verify the username and password, and that the account can write to the sync folder."
	case CodeNotFound:
		return "The sync folder does not exist on the remote. Test the connection to create it."
	case CodeConflict:
		return "The remote rejected the write. Try syncing again."
	case CodeLockHeld:
		return "Another device is syncing. Sync will retry on the next scheduled run."
	case CodeData:
		return "The remote snapshot was unreadable and has been replaced with this device's data."
	case CodeInProgress:
		return "A sync is already running. Wait for it to finish."
	default:
		return "Try again. If the problem persists, check the logs."
	}
}
