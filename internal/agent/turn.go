package agent

import "time"

// Phase tracks where a turn is in its lifecycle. A turn holds exactly one
// suspension point, the provider call; cancellation is observed there and
// between tool batches, never mid-tool.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseBuildingContext Phase = "building_context"
	PhaseAwaitingModel   Phase = "awaiting_model"
	PhaseExecutingTools  Phase = "executing_tools"
	PhaseClosed          Phase = "closed"
)

// Outcome is the terminal result of a turn.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Turn is one inbound message processed to completion. It is mutated only
// by the goroutine running it and becomes immutable once closed.
type Turn struct {
	SessionKey string
	Input      string
	Output     string
	ToolsUsed  []string
	Phase      Phase
	Outcome    Outcome
	Reason     string
	StartedAt  time.Time
	EndedAt    time.Time
}

func newTurn(sessionKey, input string) *Turn {
	return &Turn{
		SessionKey: sessionKey,
		Input:      input,
		Phase:      PhaseIdle,
		StartedAt:  time.Now(),
	}
}

// close marks the turn terminal. Subsequent calls are no-ops so the first
// outcome wins.
func (t *Turn) close(outcome Outcome, reason string) {
	if t.Phase == PhaseClosed {
		return
	}
	t.Phase = PhaseClosed
	t.Outcome = outcome
	t.Reason = reason
	t.EndedAt = time.Now()
}

func (t *Turn) recordTool(name string) {
	for _, n := range t.ToolsUsed {
		if n == name {
			return
		}
	}
	t.ToolsUsed = append(t.ToolsUsed, name)
}
