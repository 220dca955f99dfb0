package catalog

// transitions lists the legal forward moves of the record state machine.
// Operator resets back to discovered are handled separately by IsResettable.
var transitions = map[Status][]Status{
	StatusDiscovered:      {StatusDownloadPending, StatusDownloading},
	StatusDownloadPending: {StatusDownloading},
	StatusDownloading:     {StatusPending, StatusRecrawl, StatusFailed},
	StatusPending:         {StatusProcessing},
	StatusFailed:          {StatusDownloading},
	StatusRecrawl:         {StatusDiscovered, StatusFailed},
	StatusProcessing:      {StatusCompleted, StatusImportError, StatusSchemaMismatch, StatusSkipped},
	StatusImportError:     {StatusProcessing},
	StatusSchemaMismatch:  {StatusProcessing},
}

// CanTransition reports whether the state machine permits moving a record
// from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the pipeline absent operator
// intervention.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusSkipped
}

// IsResettable reports whether the operator bulk reset may return a record
// in this status to discovered.
func IsResettable(s Status) bool {
	switch s {
	case StatusFailed, StatusRecrawl, StatusImportError, StatusSchemaMismatch:
		return true
	}
	return false
}

// AllStatuses enumerates every status value, for validation and stats.
func AllStatuses() []Status {
	return []Status{
		StatusDiscovered,
		StatusDownloadPending,
		StatusDownloading,
		StatusPending,
		StatusRecrawl,
		StatusFailed,
		StatusProcessing,
		StatusCompleted,
		StatusImportError,
		StatusSchemaMismatch,
		StatusSkipped,
	}
}

// ParseStatus validates a status string supplied by the operator.
func ParseStatus(raw string) (Status, bool) {
	for _, s := range AllStatuses() {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}
