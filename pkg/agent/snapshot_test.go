package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/loomlabs/loom/pkg/fault"
	"github.com/loomlabs/loom/pkg/llms"
	"github.com/loomlabs/loom/pkg/protocol"
	"github.com/loomlabs/loom/pkg/tools"
)

func TestSnapshotRoundTrip(t *testing.T) {
	registry := echoRegistry(t)
	call := protocol.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "ping"}}
	provider := &scriptedProvider{results: []*llms.CompletionResult{
		toolResult(call),
		textResult("done"),
	}}
	engine := New("helper", provider, registry, WithSystemMessage("be brief"))

	state, err := engine.Initialize("echo ping")
	if err != nil {
		t.Fatal(err)
	}
	// Advance to the tool-waiting state, then persist mid-run.
	state, err = engine.RunStep(context.Background(), state)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status().Phase != PhaseWaitingForTools {
		t.Fatalf("phase = %s, want waiting_for_tools", state.Status().Phase)
	}

	data, err := Snapshot(state)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	restored, err := Restore(data, registry)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.InitialQuery() != "echo ping" {
		t.Errorf("initialQuery = %q", restored.InitialQuery())
	}
	if restored.StepCount() != state.StepCount() {
		t.Errorf("stepCount = %d, want %d", restored.StepCount(), state.StepCount())
	}
	if restored.Status() != state.Status() {
		t.Errorf("status = %+v, want %+v", restored.Status(), state.Status())
	}
	if restored.Conversation().Len() != state.Conversation().Len() {
		t.Errorf("conversation length changed across the round trip")
	}

	// The restored run finishes normally.
	for !restored.Status().Terminal() {
		restored, err = engine.RunStep(context.Background(), restored)
		if err != nil {
			t.Fatal(err)
		}
	}
	if restored.Status().Phase != PhaseCompleted {
		t.Fatalf("phase = %s, want completed", restored.Status().Phase)
	}
	if got := restored.FinalText(); got != "done" {
		t.Errorf("final text = %q", got)
	}
}

func TestRestoreIgnoresUnknownFields(t *testing.T) {
	data := []byte(`{
		"initialQuery": "hi",
		"stepCount": 1,
		"status": {"state": "completed"},
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": "hello"}
		],
		"toolNames": [],
		"futureField": {"nested": true}
	}`)
	state, err := Restore(data, tools.NewRegistry())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if state.Status().Phase != PhaseCompleted {
		t.Errorf("phase = %s", state.Status().Phase)
	}
}

func TestRestoreMissingFieldsAreCorrupt(t *testing.T) {
	cases := map[string]string{
		"no initialQuery": `{"stepCount": 0, "status": {"state": "completed"}, "messages": []}`,
		"no status":       `{"initialQuery": "hi", "stepCount": 0, "messages": []}`,
		"no messages":     `{"initialQuery": "hi", "stepCount": 0, "status": {"state": "completed"}}`,
		"bad state":       `{"initialQuery": "hi", "stepCount": 0, "status": {"state": "paused"}, "messages": []}`,
		"not json":        `{{{`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Restore([]byte(data), tools.NewRegistry())
			if fault.KindOf(err) != fault.KindCorrupt {
				t.Fatalf("kind = %v, want corrupt", fault.KindOf(err))
			}
		})
	}
}

func TestRestoreMissingTool(t *testing.T) {
	data := []byte(`{
		"initialQuery": "hi",
		"stepCount": 0,
		"status": {"state": "in_progress"},
		"messages": [{"role": "user", "content": "hi"}],
		"toolNames": ["vanished"]
	}`)
	_, err := Restore(data, tools.NewRegistry())
	var missing *MissingToolError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingToolError", err)
	}
	if missing.Name != "vanished" {
		t.Errorf("missing.Name = %q", missing.Name)
	}
}

func TestRestoreRejectsInvalidConversation(t *testing.T) {
	// Tool message answering a call that was never declared.
	data := []byte(`{
		"initialQuery": "hi",
		"stepCount": 1,
		"status": {"state": "in_progress"},
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "tool", "content": "x", "toolCallId": "ghost"}
		],
		"toolNames": []
	}`)
	_, err := Restore(data, tools.NewRegistry())
	if fault.KindOf(err) != fault.KindCorrupt {
		t.Fatalf("kind = %v, want corrupt", fault.KindOf(err))
	}
}

func TestStoreSaveLoadListDelete(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	registry := echoRegistry(t)
	provider := &scriptedProvider{results: []*llms.CompletionResult{textResult("hello")}}
	engine := New("helper", provider, registry)

	ctx := context.Background()
	state, err := engine.Run(ctx, "hi")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Save(ctx, "run-1", "helper", state); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Saving again under the same id overwrites.
	if err := store.Save(ctx, "run-1", "helper", state); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := store.Load(ctx, "run-1", registry)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.FinalText() != "hello" {
		t.Errorf("final text = %q", loaded.FinalText())
	}

	runs, err := store.List(ctx, "helper")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].Status.Phase != PhaseCompleted {
		t.Errorf("listed phase = %s", runs[0].Status.Phase)
	}

	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "run-1", registry); err == nil {
		t.Fatal("load after delete should fail")
	}

	// Deleting a missing id is a no-op.
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("delete missing: %v", err)
	}
}
