package agent

import (
	"encoding/json"
	"fmt"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/protocol"
	"github.com/loomlabs/loom/pkg/tools"
)

// MissingToolError reports a snapshot that references a tool the restoring
// registry does not provide.
type MissingToolError struct {
	Name string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("snapshot references unknown tool %q", e.Name)
}

// snapshotDoc is the persisted wire form of a State. Unknown fields in
// stored documents are ignored on load.
type snapshotDoc struct {
	InitialQuery  string             `json:"initialQuery"`
	StepCount     int                `json:"stepCount"`
	Status        *Status            `json:"status"`
	SystemMessage string             `json:"systemMessage,omitempty"`
	Messages      []protocol.Message `json:"messages"`
	ToolNames     []string           `json:"toolNames"`
}

// Snapshot serializes the state to its stable JSON form.
func Snapshot(state *State) ([]byte, error) {
	if state == nil {
		return nil, fault.Validation("agent.snapshot", "state", "state cannot be nil")
	}
	status := state.status
	doc := snapshotDoc{
		InitialQuery:  state.initialQuery,
		StepCount:     state.stepCount,
		Status:        &status,
		SystemMessage: state.systemMessage,
		Messages:      state.conversation.Messages(),
		ToolNames:     state.toolNames,
	}
	if doc.Messages == nil {
		doc.Messages = []protocol.Message{}
	}
	if doc.ToolNames == nil {
		doc.ToolNames = []string{}
	}
	return json.Marshal(doc)
}

// Restore rebuilds a State from its JSON form, rebinding the recorded tool
// names against the registry. Every recorded tool must resolve; the
// conversation must satisfy its structural invariants.
func Restore(data []byte, registry *tools.Registry) (*State, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &fault.Error{Kind: fault.KindCorrupt, Op: "agent.restore", Message: "malformed snapshot", Err: err}
	}

	if doc.InitialQuery == "" {
		return nil, corrupt("missing initialQuery")
	}
	if doc.Status == nil {
		return nil, corrupt("missing status")
	}
	switch doc.Status.Phase {
	case PhaseInProgress, PhaseWaitingForTools, PhaseCompleted, PhaseFailed, PhaseHandedOff:
	default:
		return nil, corrupt(fmt.Sprintf("unknown status state %q", doc.Status.Phase))
	}
	if doc.Messages == nil {
		return nil, corrupt("missing messages")
	}

	conv := protocol.NewConversation(doc.Messages...)
	if err := conv.Validate(); err != nil {
		return nil, &fault.Error{Kind: fault.KindCorrupt, Op: "agent.restore", Message: "invalid conversation", Err: err}
	}

	for _, name := range doc.ToolNames {
		if registry == nil {
			return nil, &MissingToolError{Name: name}
		}
		if _, ok := registry.Get(name); !ok {
			return nil, &MissingToolError{Name: name}
		}
	}

	return &State{
		conversation:  conv,
		initialQuery:  doc.InitialQuery,
		systemMessage: doc.SystemMessage,
		status:        *doc.Status,
		stepCount:     doc.StepCount,
		toolNames:     doc.ToolNames,
	}, nil
}

func corrupt(message string) error {
	return &fault.Error{Kind: fault.KindCorrupt, Op: "agent.restore", Message: message}
}
