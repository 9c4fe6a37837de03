package proto

import (
	"fmt"
	"strings"
)

// Signal is the typed outcome an agent run reports back to the coordinator.
// The runner adapter maps raw agent output to a Signal so the coordinator
// never does string matching itself.
type Signal string

const (
	// SignalNone means the agent exhausted its iteration budget without
	// emitting a recognized signal. Non-fatal; the phase advances on
	// whatever side effects occurred.
	SignalNone Signal = ""

	// SignalTaskComplete means the agent finished its assigned task.
	SignalTaskComplete Signal = "TASK_COMPLETE"

	// SignalProjectComplete means the agent judged the whole change done.
	SignalProjectComplete Signal = "PROJECT_COMPLETE"

	// SignalBugsFound means the tester found blocking bugs.
	SignalBugsFound Signal = "BUGS_FOUND"

	// SignalChangesRequested means the reviewer wants changes.
	SignalChangesRequested Signal = "CHANGES_REQUESTED"

	// SignalApproved means the reviewer approved the change.
	SignalApproved Signal = "APPROVED"

	// SignalError means the agent run itself failed.
	SignalError Signal = "ERROR"
)

// ValidateSignal reports whether a string is a recognized signal.
func ValidateSignal(s string) (Signal, bool) {
	switch Signal(s) {
	case SignalTaskComplete, SignalProjectComplete, SignalBugsFound,
		SignalChangesRequested, SignalApproved, SignalError:
		return Signal(s), true
	default:
		return SignalNone, false
	}
}

// ParseSignal parses a string into a Signal with validation.
func ParseSignal(s string) (Signal, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "" {
		return SignalNone, nil
	}
	if sig, ok := ValidateSignal(normalized); ok {
		return sig, nil
	}
	return SignalNone, fmt.Errorf("unknown signal: %s", s)
}

// Terminal reports whether the signal ends the current phase for the agent.
func (s Signal) Terminal() bool {
	return s != SignalNone
}

func (s Signal) String() string {
	if s == SignalNone {
		return "NONE"
	}
	return string(s)
}

// State identifies a phase of the pipeline state machine.
type State string

const (
	StatePlanning  State = "PLANNING"
	StateDevTest   State = "DEV_TEST"
	StateReview    State = "REVIEW"
	StateFinalized State = "FINALIZED"
)

func (s State) String() string {
	return string(s)
}

// StateChangeNotification describes one pipeline transition. The
// coordinator emits it to the event log on every phase change.
type StateChangeNotification struct {
	SessionID string         `json:"session_id"`
	FromState State          `json:"from_state"`
	ToState   State          `json:"to_state"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Payload renders the notification as an event payload.
func (n StateChangeNotification) Payload() map[string]any {
	p := map[string]any{
		"from": n.FromState.String(),
		"to":   n.ToState.String(),
	}
	if len(n.Metadata) > 0 {
		p["meta"] = n.Metadata
	}
	return p
}
