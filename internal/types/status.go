// SPDX-License-Identifier: MIT

package types

// TaskStatus represents the current state of a dispatched job attempt.
//
// Lifecycle: queued -> fetching_metadata/preparing -> running -> uploading
// -> {completed, failed, canceled}. Terminal states are final; a callback
// must never move a task out of a terminal state.
type TaskStatus string

// Task status constants.
const (
	StatusQueued           TaskStatus = "queued"
	StatusFetchingMetadata TaskStatus = "fetching_metadata"
	StatusPreparing        TaskStatus = "preparing"
	StatusRunning          TaskStatus = "running"
	StatusUploading        TaskStatus = "uploading"
	StatusCompleted        TaskStatus = "completed"
	StatusFailed           TaskStatus = "failed"
	StatusCanceled         TaskStatus = "canceled"
)

// String implements fmt.Stringer for logging and persistence.
func (s TaskStatus) String() string { return string(s) }

// IsValid checks whether the status is one of the defined constants.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusFetchingMetadata, StatusPreparing,
		StatusRunning, StatusUploading,
		StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}
