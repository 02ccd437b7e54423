package safety

// State is the authority's operating state. Exactly one state is active at
// any instant and transitions are the only mutation path.
type State string

// State values.
const (
	StateOff          State = "off"
	StateInitializing State = "initializing"
	StateSafe         State = "safe"
	StateArmed        State = "armed"
	StateTreating     State = "treating"
	StatePaused       State = "paused"
	StateFault        State = "fault"
	StateSafeShutdown State = "safe_shutdown"
)

// Trigger names a transition cause. Triggers map the command surface and
// internal events onto the transition table.
type Trigger string

// Trigger values.
const (
	TriggerBeginInit       Trigger = "begin_init"
	TriggerInitComplete    Trigger = "init_complete"
	TriggerArm             Trigger = "arm"
	TriggerEngage          Trigger = "engage"
	TriggerDeadmanReleased Trigger = "deadman_released"
	TriggerDisarm          Trigger = "disarm"
	TriggerPause           Trigger = "pause"
	TriggerResume          Trigger = "resume"
	TriggerEndTreatment    Trigger = "end_treatment"
	TriggerFault           Trigger = "fault"
	TriggerSupervisorClear Trigger = "supervisor_clear"
	TriggerResetComplete   Trigger = "reset_complete"
)

// transitions is the exhaustive legal transition table. Anything absent is
// rejected. Fault entry is handled separately because it is legal from
// every state except Off and always wins.
var transitions = map[State]map[Trigger]State{
	StateOff: {
		TriggerBeginInit: StateInitializing,
	},
	StateInitializing: {
		TriggerInitComplete: StateSafe,
	},
	StateSafe: {
		TriggerArm: StateArmed,
	},
	StateArmed: {
		TriggerEngage: StateTreating,
		TriggerDisarm: StateSafe,
	},
	StateTreating: {
		TriggerDeadmanReleased: StateArmed,
		TriggerPause:           StatePaused,
	},
	StatePaused: {
		TriggerResume:       StateTreating,
		TriggerEndTreatment: StateSafe,
	},
	StateFault: {
		TriggerSupervisorClear: StateSafeShutdown,
	},
	StateSafeShutdown: {
		TriggerResetComplete: StateSafe,
	},
}

// next returns the target state for a trigger from the given state, or
// false if the transition is not in the table.
func next(from State, trig Trigger) (State, bool) {
	if trig == TriggerFault {
		if from == StateOff {
			return "", false
		}
		return StateFault, true
	}
	to, ok := transitions[from][trig]
	return to, ok
}

// Emitting reports whether the state can have the laser energised.
func (s State) Emitting() bool {
	return s == StateTreating
}

// Valid reports whether s is a known state value.
func (s State) Valid() bool {
	switch s {
	case StateOff, StateInitializing, StateSafe, StateArmed,
		StateTreating, StatePaused, StateFault, StateSafeShutdown:
		return true
	}
	return false
}
