package emitter

// State is the lifecycle position of an Emitter.
//
//	New -> Open -> Running -> {Exhausted | Cancelled | Failed}
//
// Exhausted, Cancelled and Failed are terminal. A new Emitter is required to
// replay again.
type State int32

const (
	StateNew State = iota
	StateOpen
	StateRunning
	StateExhausted
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateNew:       "new",
	StateOpen:      "open",
	StateRunning:   "running",
	StateExhausted: "exhausted",
	StateCancelled: "cancelled",
	StateFailed:    "failed",
}

// String returns the lowercase state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateExhausted || s == StateCancelled || s == StateFailed
}

// Stats are running counters of a replay.
type Stats struct {
	Emitted   int64
	Discarded int64
	Lines     int64
}
