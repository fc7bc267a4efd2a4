package pipeline

// State is a request's position in the delivery state machine.
type State string

const (
	StateReceived      State = "received"
	StateAuthorizing   State = "authorizing"
	StateDenied        State = "denied"
	StateCacheCheck    State = "cache_check"
	StateCacheHit      State = "cache_hit"
	StateMatching      State = "matching"
	StateFetching      State = "fetching"
	StateCachePopulate State = "cache_populate"
	StateDelivering    State = "delivering"
	StateDelivered     State = "delivered"
	StateFailed        State = "failed"
)

// ProgressFunc receives state transitions for a request. Transitions
// that happen inside a shared production run are emitted under the
// request id of the caller that started the work.
type ProgressFunc func(requestID string, state State)
