package service

// RunState is the result of a repository's latest run.
type RunState int

const (
	RunStatePending RunState = iota
	RunStateSuccess
	RunStateSyncFailed
	RunStatePassFailed
	RunStatePushFailed
)

func (s RunState) String() string {
	switch s {
	case RunStateSuccess:
		return "SUCCESS"
	case RunStateSyncFailed:
		return "SYNC_FAILED"
	case RunStatePassFailed:
		return "PASS_FAILED"
	case RunStatePushFailed:
		return "PUSH_FAILED"
	default:
		return "PENDING"
	}
}

// Failed reports whether the run ended in an error.
func (s RunState) Failed() bool {
	return s != RunStatePending && s != RunStateSuccess
}

// Status describes a repository's latest run.
type Status struct {
	State   RunState
	Changed []string // Passes that changed the repository.
	Message string
}
