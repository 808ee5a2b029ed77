// Package agent implements the execution engine: a state machine over
// immutable agent snapshots that loops completion and tool invocation until
// the run terminates, hands off, or fails.
package agent

import (
	"github.com/loomlabs/loom/pkg/protocol"
)

// Phase is the coarse state of a run.
type Phase string

const (
	PhaseInProgress      Phase = "in_progress"
	PhaseWaitingForTools Phase = "waiting_for_tools"
	PhaseCompleted       Phase = "completed"
	PhaseFailed          Phase = "failed"
	PhaseHandedOff       Phase = "handed_off"
)

// Failure reasons carried by a failed status.
const (
	ReasonGuardrailRejected = "guardrail_rejected"
	ReasonStepLimitExceeded = "step_limit_exceeded"
	ReasonCancelled         = "cancelled"
	ReasonProviderError     = "provider_error"
	ReasonInvalidState      = "invalid_state"
)

// Status is the discriminated run status. Reason is set for failed runs and
// Target for handoffs.
type Status struct {
	Phase  Phase  `json:"state"`
	Reason string `json:"reason,omitempty"`
	Target string `json:"target,omitempty"`
}

func (s Status) Terminal() bool {
	switch s.Phase {
	case PhaseCompleted, PhaseFailed, PhaseHandedOff:
		return true
	}
	return false
}

func InProgress() Status {
	return Status{Phase: PhaseInProgress}
}

func WaitingForTools() Status {
	return Status{Phase: PhaseWaitingForTools}
}

func Completed() Status {
	return Status{Phase: PhaseCompleted}
}

func Failed(reason string) Status {
	return Status{Phase: PhaseFailed, Reason: reason}
}

func HandedOff(target string) Status {
	return Status{Phase: PhaseHandedOff, Target: target}
}

// State is an immutable snapshot of a run. Every transition returns a new
// State; callers may hold and compare snapshots across steps freely.
type State struct {
	conversation  protocol.Conversation
	initialQuery  string
	systemMessage string
	status        Status
	stepCount     int
	toolNames     []string
	logs          []string
}

func (s *State) Conversation() protocol.Conversation { return s.conversation }
func (s *State) InitialQuery() string                { return s.initialQuery }
func (s *State) SystemMessage() string               { return s.systemMessage }
func (s *State) Status() Status                      { return s.status }
func (s *State) StepCount() int                      { return s.stepCount }

// ToolNames returns the tool names available to the run.
func (s *State) ToolNames() []string {
	out := make([]string, len(s.toolNames))
	copy(out, s.toolNames)
	return out
}

// Logs returns the per-step annotations recorded so far.
func (s *State) Logs() []string {
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

// FinalText returns the content of the last assistant message.
func (s *State) FinalText() string {
	msgs := s.conversation.ByRole(protocol.RoleAssistant)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

// clone copies the state so with* mutations stay local to the new snapshot.
func (s *State) clone() *State {
	next := *s
	next.toolNames = append([]string(nil), s.toolNames...)
	next.logs = append([]string(nil), s.logs...)
	return &next
}

func (s *State) withMessages(messages ...protocol.Message) *State {
	next := s.clone()
	next.conversation = s.conversation.Append(messages...)
	return next
}

func (s *State) withStatus(status Status) *State {
	next := s.clone()
	next.status = status
	return next
}

func (s *State) withStep(log string) *State {
	next := s.clone()
	next.stepCount++
	if log != "" {
		next.logs = append(next.logs, log)
	}
	return next
}

func (s *State) withStepCount(n int) *State {
	next := s.clone()
	next.stepCount = n
	return next
}
