// Package transport supervises one bot's connection: the reconnect state
// machine for dialling transports, the accept loop for listening ones, and
// heartbeat liveness checks.
package transport

// State is the lifecycle state of a managed connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Reconnecting: "reconnecting",
	Closed:       "closed",
}

// States lists every state in declaration order.
func States() []State {
	return []State{Disconnected, Connecting, Connected, Reconnecting, Closed}
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[State][]State{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Disconnected, Closed},
	Connected:    {Reconnecting, Closed},
	Reconnecting: {Connecting, Disconnected, Closed},
}

// CanTransition reports whether to may follow from. Closed is terminal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
