package playback

// State is the controller state.
type State int

const (
	// Idle means nothing is loaded or playback reached the end.
	Idle State = iota
	// Loading means the controller waits for the active paragraph's audio.
	Loading
	// Playing means the bound handle is playing.
	Playing
	// Paused means the bound handle is loaded but not playing.
	Paused
	// Seeking is entered briefly from Playing or Paused while moving.
	Seeking
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Seeking:
		return "seeking"
	default:
		return "unknown"
	}
}

// machine guards controller state transitions. It is only used from the
// controller loop.
type machine struct {
	current     State
	transitions map[State][]State
	onEnter     map[State]func(from State)
}

func newMachine() *machine {
	return &machine{
		current: Idle,
		transitions: map[State][]State{
			Idle:    {Loading},
			Loading: {Playing, Paused, Idle},
			Playing: {Paused, Seeking, Loading, Idle},
			Paused:  {Playing, Seeking, Loading, Idle},
			Seeking: {Playing, Paused, Loading, Idle},
		},
		onEnter: make(map[State]func(State)),
	}
}

// Transition moves to the given state and reports whether the move is
// allowed. Moving to the current state is always allowed and runs no hooks.
func (m *machine) Transition(to State) bool {
	if to == m.current {
		return true
	}
	valid := false
	for _, s := range m.transitions[m.current] {
		if s == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	from := m.current
	m.current = to
	if fn := m.onEnter[to]; fn != nil {
		fn(from)
	}
	return true
}

func (m *machine) Current() State {
	return m.current
}

func (m *machine) OnEnter(s State, fn func(from State)) {
	m.onEnter[s] = fn
}
