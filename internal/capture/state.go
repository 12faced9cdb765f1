package capture

import "WiFiSpectra/internal/model"

// State is a capture engine state.
type State int

const (
	StateIdle State = iota
	StateSearchStart
	StateSearchLoop
	StatePktCap
	StateSend
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSearchStart:
		return "SEARCH_START"
	case StateSearchLoop:
		return "SEARCH_LOOP"
	case StatePktCap:
		return "PKT_CAP"
	case StateSend:
		return "SEND"
	case StateEnd:
		return "END"
	}
	return "UNKNOWN"
}

// CommandKind selects what a pending command does to the engine.
type CommandKind int

const (
	CmdSelectAP CommandKind = iota + 1
	CmdStop
	CmdScan
	CmdEnd
)

func (k CommandKind) String() string {
	switch k {
	case CmdSelectAP:
		return "select"
	case CmdStop:
		return "stop"
	case CmdScan:
		return "scan"
	case CmdEnd:
		return "end"
	}
	return "unknown"
}

// Command is handed from the message path to the state loop. At most one
// command is pending; a newer command replaces an unobserved older one.
type Command struct {
	Kind     CommandKind
	AP       model.APRecord // CmdSelectAP
	Channels []int          // CmdScan
}

// SelectAP locks capture onto ap.
func SelectAP(ap model.APRecord) Command { return Command{Kind: CmdSelectAP, AP: ap} }

// Stop returns the engine to IDLE.
func Stop() Command { return Command{Kind: CmdStop} }

// Scan starts a discovery sweep over channels.
func Scan(channels []int) Command { return Command{Kind: CmdScan, Channels: channels} }

// End terminates the state loop.
func End() Command { return Command{Kind: CmdEnd} }

// Transition describes one step of the engine.
type Transition struct {
	From State
	To   State
	// Forced is set when a pending command decided the next state instead
	// of the state handler.
	Forced bool
	// Sent is the batch kind emitted by a SEND step.
	Sent model.PayloadKind
}
