package pool

// State is the allocation client's recovery state.
type State int32

const (
	// StateFast means the last acquisition succeeded on the first attempt or after recovery.
	StateFast State = iota
	// StateRecovering means an allocation failed and reclaim plus retry is in progress.
	StateRecovering
	// StateFailed is terminal: the retry after recovery failed too.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFast:
		return "fast"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
