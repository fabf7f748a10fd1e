package syncerr

import (
	"fmt"
	"time"
)

// LockHeldError is returned when a valid sync lock belongs to another device.
type LockHeldError struct {
	Owner     string
	ExpiresAt time.Time
}

// Error implements the error interface
func (e *LockHeldError) Error() string {
	return fmt.Sprintf("sync lock held by device %s until %s", e.Owner, e.ExpiresAt.UTC().Format(time.RFC3339))
}
