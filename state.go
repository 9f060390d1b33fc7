package reflux

// State represents the synchronization state between tracked persistent
// properties and an external store source.
type State int32

const (
	// StateLoading indicates sync has started but no store document has
	// been applied yet.
	StateLoading State = iota

	// StateHealthy indicates the last store document was decoded and applied.
	StateHealthy

	// StateDegraded indicates the last store document could not be decoded.
	// Properties keep the values from the previous good document.
	StateDegraded

	// StateEmpty indicates the first store document could not be decoded
	// and nothing has been applied from the source yet.
	StateEmpty
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}
