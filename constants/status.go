package constants

// RunStatus is the canonical lifecycle status for rows in extraction_run.
type RunStatus string

// Stable values (store these exact strings in DB).
const (
	RunStatusPending   RunStatus = "PENDING"   // created by the caller, not dispatched yet
	RunStatusRunning   RunStatus = "RUNNING"   // in progress
	RunStatusSucceeded RunStatus = "SUCCEEDED" // terminal: output + confidence populated
	RunStatusFailed    RunStatus = "FAILED"    // terminal: error populated
)

// IsTerminal reports whether no further transition is allowed from s.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}
