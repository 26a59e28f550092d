package wardsync

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/wardsync/internal/remote"
)

// Common errors returned by the wardsync client.
var (
	// ErrNotFound is returned when an entity record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrClosed is returned when operating on a closed client.
	ErrClosed = errors.New("client is closed")

	// ErrOffline is returned when a sync is requested while offline or
	// when no remote service is configured.
	ErrOffline = errors.New("operation unavailable while offline")

	// ErrSyncInProgress is returned by a blocking sync when a pass is already running.
	ErrSyncInProgress = errors.New("sync pass already running")

	// ErrUnknownTable is returned for a table with no registered translator.
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownField is returned when an update names a column that is not writable.
	ErrUnknownField = errors.New("unknown or read-only field")

	// ErrInvalidPayload is returned when a queued payload does not match its table and action.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidResponse is returned when the remote service answers without a usable body.
	ErrInvalidResponse = remote.ErrInvalidResponse

	// ErrDependencyNotReady is returned when a parent record has no server identity yet.
	ErrDependencyNotReady = errors.New("parent not yet synced")

	// ErrUnauthorized is returned when the remote service rejects the credentials.
	ErrUnauthorized = errors.New("remote rejected credentials")

	// ErrPassAborted is returned when a sync pass stops before draining its snapshot.
	ErrPassAborted = errors.New("sync pass aborted")
)

// ValidationError is returned when configuration or record validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// SyncError describes the failure of a single queued mutation.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	QueueID int64
	Table   Table
	Action  Action
	Err     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync: queue %d %s %s: %v", e.QueueID, e.Action, e.Table, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsPermanent reports whether retrying the mutation cannot succeed.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnknownTable) || errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrInvalidResponse) {
		return true
	}
	var se *remote.StatusError
	if errors.As(err, &se) {
		return se.Permanent()
	}
	return false
}

// IsUnauthorized reports whether the remote service rejected the credentials.
// Every remaining mutation would fail the same way.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var se *remote.StatusError
	return errors.As(err, &se) && se.Unauthorized()
}

// IsTransient reports whether the mutation should be retried in place.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err) && !IsUnauthorized(err)
}
