package election

// State is the lifecycle state of a peer. Exactly one value holds at a time,
// owned by the elector; accessors hand out snapshots.
type State int

const (
	// StateIdle is the state before the first Start.
	StateIdle State = iota
	// StateElecting means an election is running and undecided.
	StateElecting
	// StateChief means this peer is the leader for the channel.
	StateChief
	// StateFollower means this peer recognizes another peer as chief.
	StateFollower
	// StateStopped is the state after Stop; Start re-enters the protocol.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateElecting:
		return "electing"
	case StateChief:
		return "chief"
	case StateFollower:
		return "follower"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
