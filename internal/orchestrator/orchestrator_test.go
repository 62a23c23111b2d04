package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/habridge/bridge-server/internal/llm"
	"github.com/habridge/bridge-server/internal/orchestrator"
	"github.com/habridge/bridge-server/internal/tools"
)

// scriptedClient replays a fixed sequence of model responses and records
// every request it receives.
type scriptedClient struct {
	responses []*llm.MessagesResponse
	requests  []llm.MessagesRequest
	err       error
}

func (c *scriptedClient) CreateMessage(ctx context.Context, req llm.MessagesRequest) (*llm.MessagesResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.requests) > len(c.responses) {
		return nil, errors.New("script exhausted")
	}
	return c.responses[len(c.requests)-1], nil
}

func (c *scriptedClient) Configured() bool { return true }

// stubExecutor returns a canned result and records invocation names. Safe
// for the concurrent calls made when one response carries several
// invocations.
type stubExecutor struct {
	result tools.Result

	mu    sync.Mutex
	names []string
}

func (e *stubExecutor) Execute(ctx context.Context, name string, input json.RawMessage) tools.Result {
	e.mu.Lock()
	e.names = append(e.names, name)
	e.mu.Unlock()
	return e.result
}

func (e *stubExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.names...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textResponse(text string) *llm.MessagesResponse {
	return &llm.MessagesResponse{
		Role:       "assistant",
		StopReason: llm.StopEndTurn,
		Content:    []llm.ContentBlock{llm.TextBlock(text)},
	}
}

func toolUseResponse(id, name, input string) *llm.MessagesResponse {
	return &llm.MessagesResponse{
		Role:       "assistant",
		StopReason: llm.StopToolUse,
		Content: []llm.ContentBlock{
			llm.TextBlock("Let me check."),
			{Type: llm.BlockToolUse, ID: id, Name: name, Input: json.RawMessage(input)},
		},
	}
}

func newOrchestrator(client llm.Client, executor orchestrator.ToolExecutor, maxIterations int) *orchestrator.Orchestrator {
	return orchestrator.New(client, executor, tools.Catalog(), orchestrator.Options{
		Model:         "claude-sonnet-4-20250514",
		MaxTokens:     1024,
		MaxIterations: maxIterations,
		Logger:        quietLogger(),
	})
}

func TestProcess_DirectAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*llm.MessagesResponse{
		textResponse("  The living room light is on.  "),
	}}
	executor := &stubExecutor{}
	o := newOrchestrator(client, executor, 8)

	answer, err := o.Process(context.Background(), orchestrator.Command{Text: "is the light on?"}, nil)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if answer.Text != "The living room light is on." {
		t.Errorf("Text = %q, want trimmed model text", answer.Text)
	}
	if answer.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", answer.Iterations)
	}
	if len(client.requests) != 1 {
		t.Fatalf("model calls = %d, want 1", len(client.requests))
	}
	if got := executor.executed(); len(got) != 0 {
		t.Errorf("tools executed = %v, want none", got)
	}

	req := client.requests[0]
	if req.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q", req.Model)
	}
	if len(req.Tools) != 6 {
		t.Errorf("Tools = %d, want the full catalog", len(req.Tools))
	}
	if req.System == "" {
		t.Error("System prompt is empty")
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("Messages = %+v, want a single user turn", req.Messages)
	}
	if got := req.Messages[0].Content[0].Text; !strings.Contains(got, "'is the light on?'") {
		t.Errorf("user text = %q, should quote the command", got)
	}
}

func TestProcess_OneToolRound(t *testing.T) {
	client := &scriptedClient{responses: []*llm.MessagesResponse{
		toolUseResponse("toolu_01", "get_home_state", `{"domain":"light"}`),
		textResponse("Two lights are on."),
	}}
	executor := &stubExecutor{result: tools.Result{Success: true, Data: map[string]any{"states": []any{}}}}
	o := newOrchestrator(client, executor, 8)

	answer, err := o.Process(context.Background(), orchestrator.Command{Text: "which lights are on?"}, nil)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if answer.Text != "Two lights are on." {
		t.Errorf("Text = %q", answer.Text)
	}
	if answer.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", answer.Iterations)
	}
	if got := executor.executed(); len(got) != 1 || got[0] != "get_home_state" {
		t.Errorf("tools executed = %v, want [get_home_state]", got)
	}

	// The second request must carry the full exchange: the original user
	// turn, the assistant's tool_use turn, and one user turn of results.
	if len(client.requests) != 2 {
		t.Fatalf("model calls = %d, want 2", len(client.requests))
	}
	msgs := client.requests[1].Messages
	if len(msgs) != 3 {
		t.Fatalf("second request has %d turns, want 3", len(msgs))
	}
	if msgs[1].Role != "assistant" || msgs[2].Role != "user" {
		t.Errorf("turn roles = %s/%s/%s, want user/assistant/user", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}

	var result llm.ContentBlock
	for _, b := range msgs[2].Content {
		if b.Type == llm.BlockToolResult {
			result = b
		}
	}
	if result.ToolUseID != "toolu_01" {
		t.Errorf("tool_use_id = %q, want toolu_01", result.ToolUseID)
	}
	if result.IsError {
		t.Error("is_error = true for a successful tool run")
	}
	if !strings.Contains(result.Content, `"success":true`) {
		t.Errorf("result content = %q, want serialized success payload", result.Content)
	}
}

func TestProcess_ParallelInvocations_ResultsInRequestOrder(t *testing.T) {
	// One response asking for three tools at once: the invocations run
	// concurrently but the results turn must come back in request order,
	// each correlated to its tool_use id.
	multi := &llm.MessagesResponse{
		Role:       "assistant",
		StopReason: llm.StopToolUse,
		Content: []llm.ContentBlock{
			{Type: llm.BlockToolUse, ID: "toolu_a", Name: "get_home_state", Input: json.RawMessage(`{"domain":"light"}`)},
			{Type: llm.BlockToolUse, ID: "toolu_b", Name: "get_home_state", Input: json.RawMessage(`{"domain":"climate"}`)},
			{Type: llm.BlockToolUse, ID: "toolu_c", Name: "get_history", Input: json.RawMessage(`{"entity_ids":["sensor.a"]}`)},
		},
	}
	client := &scriptedClient{responses: []*llm.MessagesResponse{
		multi,
		textResponse("All checked."),
	}}
	executor := &stubExecutor{result: tools.Result{Success: true}}
	o := newOrchestrator(client, executor, 8)

	var callEvents atomic.Int64
	sink := func(ev orchestrator.Event) {
		if ev.Type == "tool_call" {
			callEvents.Add(1)
		}
	}

	answer, err := o.Process(context.Background(), orchestrator.Command{Text: "full status"}, sink)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if answer.Text != "All checked." {
		t.Errorf("Text = %q", answer.Text)
	}
	if got := executor.executed(); len(got) != 3 {
		t.Errorf("tools executed = %v, want 3 invocations", got)
	}
	if callEvents.Load() != 3 {
		t.Errorf("tool_call events = %d, want 3", callEvents.Load())
	}

	var resultIDs []string
	for _, b := range client.requests[1].Messages[2].Content {
		if b.Type == llm.BlockToolResult {
			resultIDs = append(resultIDs, b.ToolUseID)
		}
	}
	want := []string{"toolu_a", "toolu_b", "toolu_c"}
	if len(resultIDs) != len(want) {
		t.Fatalf("result ids = %v, want %v", resultIDs, want)
	}
	for i := range want {
		if resultIDs[i] != want[i] {
			t.Errorf("result[%d] id = %q, want %q", i, resultIDs[i], want[i])
		}
	}
}

func TestProcess_ToolFailureAbsorbed(t *testing.T) {
	client := &scriptedClient{responses: []*llm.MessagesResponse{
		toolUseResponse("toolu_02", "control_device", `{"entity_id":"light.porch","action":"turn_on"}`),
		textResponse("I couldn't reach the porch light."),
	}}
	executor := &stubExecutor{result: tools.Result{Success: false, Error: "home assistant error (status 500): boom"}}
	o := newOrchestrator(client, executor, 8)

	answer, err := o.Process(context.Background(), orchestrator.Command{Text: "porch light on"}, nil)
	if err != nil {
		t.Fatalf("Process() error: %v, tool failures must not abort the loop", err)
	}
	if answer.Text != "I couldn't reach the porch light." {
		t.Errorf("Text = %q", answer.Text)
	}

	var result llm.ContentBlock
	for _, b := range client.requests[1].Messages[2].Content {
		if b.Type == llm.BlockToolResult {
			result = b
		}
	}
	if !result.IsError {
		t.Error("is_error = false for a failed tool run")
	}
	if !strings.Contains(result.Content, "home assistant error") {
		t.Errorf("result content = %q, want the contained error text", result.Content)
	}
}

func TestProcess_IterationCap(t *testing.T) {
	// The model asks for a tool on every round and never settles.
	relentless := make([]*llm.MessagesResponse, 3)
	for i := range relentless {
		relentless[i] = toolUseResponse("toolu_loop", "get_home_state", `{}`)
	}
	client := &scriptedClient{responses: relentless}
	executor := &stubExecutor{result: tools.Result{Success: true}}
	o := newOrchestrator(client, executor, 3)

	_, err := o.Process(context.Background(), orchestrator.Command{Text: "loop forever"}, nil)
	if !errors.Is(err, orchestrator.ErrToolLoopLimit) {
		t.Fatalf("error = %v, want ErrToolLoopLimit", err)
	}
	if len(client.requests) != 3 {
		t.Errorf("model calls = %d, want exactly the cap", len(client.requests))
	}
}

func TestProcess_ModelFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("anthropic error (status 529): overloaded")}
	o := newOrchestrator(client, &stubExecutor{}, 8)

	_, err := o.Process(context.Background(), orchestrator.Command{Text: "hello"}, nil)
	if err == nil {
		t.Fatal("Process() error = nil, want model failure surfaced")
	}
	if !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("error = %v, want wrapped model error", err)
	}
}

func TestProcess_ContextSerialized(t *testing.T) {
	client := &scriptedClient{responses: []*llm.MessagesResponse{textResponse("Done.")}}
	o := newOrchestrator(client, &stubExecutor{}, 8)

	cmd := orchestrator.Command{
		Text:    "good night",
		Context: map[string]any{"room": "bedroom"},
	}
	if _, err := o.Process(context.Background(), cmd, nil); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	text := client.requests[0].Messages[0].Content[0].Text
	if !strings.Contains(text, "Additional context:") {
		t.Errorf("user text = %q, want context section", text)
	}
	if !strings.Contains(text, `"room":"bedroom"`) {
		t.Errorf("user text = %q, want serialized context", text)
	}
}

func TestProcess_EventsEmitted(t *testing.T) {
	client := &scriptedClient{responses: []*llm.MessagesResponse{
		toolUseResponse("toolu_03", "execute_scene", `{"scene_id":"scene.movie_night"}`),
		textResponse("Movie night is set."),
	}}
	executor := &stubExecutor{result: tools.Result{Success: true}}
	o := newOrchestrator(client, executor, 8)

	var events []orchestrator.Event
	sink := func(ev orchestrator.Event) { events = append(events, ev) }

	if _, err := o.Process(context.Background(), orchestrator.Command{Text: "movie night"}, sink); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{"tool_call", "tool_result", "answer"}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, types[i], want[i])
		}
	}
	if events[0].Tool != "execute_scene" {
		t.Errorf("tool_call tool = %q", events[0].Tool)
	}
	if events[2].Content != "Movie night is set." {
		t.Errorf("answer content = %q", events[2].Content)
	}
}
