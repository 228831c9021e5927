package model

// Status represents the lifecycle state of a tracked download. These
// values are the text values stored in the state file, so they must
// stay stable across releases.
//
// Centralizing these here avoids scattering string literals like
// "downloading" or "completed" across packages.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInitializing Status = "initializing"
	StatusDownloading  Status = "downloading"
	StatusConverting   Status = "converting"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
	StatusExpired      Status = "expired"
	StatusRetrying     Status = "retrying"
)

// IsTerminal reports whether no further transitions can occur. Terminal
// statuses are sticky: once a record reaches one, later writes must not
// move it anywhere else.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// ResetsProgress reports whether entering this status from `from` is an
// explicit reset transition, the only case where committed progress may
// go backwards.
func ResetsProgress(from, to Status) bool {
	if from == StatusPending && to == StatusInitializing {
		return true
	}
	return from == StatusRetrying && to == StatusInitializing
}

// CanTransition enforces the allowed state machine edges.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusInitializing || to == StatusCancelled || to == StatusError || to == StatusExpired
	case StatusInitializing:
		// Completed directly from Initializing happens when the tool
		// exits successfully without emitting a single progress line.
		return to == StatusDownloading || to == StatusCompleted || to == StatusRetrying ||
			to == StatusCancelled || to == StatusError || to == StatusExpired
	case StatusDownloading:
		return to == StatusConverting || to == StatusProcessing || to == StatusRetrying ||
			to == StatusCompleted || to == StatusCancelled || to == StatusError || to == StatusExpired
	case StatusConverting:
		return to == StatusProcessing || to == StatusRetrying || to == StatusCompleted ||
			to == StatusCancelled || to == StatusError || to == StatusExpired
	case StatusProcessing:
		return to == StatusCompleted || to == StatusRetrying || to == StatusCancelled ||
			to == StatusError || to == StatusExpired
	case StatusRetrying:
		return to == StatusInitializing || to == StatusDownloading || to == StatusCancelled ||
			to == StatusError || to == StatusExpired
	default:
		return false
	}
}
