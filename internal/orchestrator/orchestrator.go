package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/habridge/bridge-server/internal/llm"
	"github.com/habridge/bridge-server/internal/observability"
	"github.com/habridge/bridge-server/internal/tools"
)

// ErrToolLoopLimit is returned when the model keeps requesting tools past the
// configured iteration cap.
var ErrToolLoopLimit = errors.New("tool loop iteration limit exceeded")

// Command is one inbound voice command. Immutable once received.
type Command struct {
	Text    string
	Context map[string]any
	UserID  string
}

// Answer is the terminal natural-language result of a command.
type Answer struct {
	Text       string
	Iterations int
}

// ToolExecutor dispatches one tool invocation. Implementations absorb all
// failures into the Result.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, input json.RawMessage) tools.Result
}

// Event is one observable step of the loop, consumed by the debug console.
type Event struct {
	Type      string          `json:"type"` // "tool_call", "tool_result", "answer"
	Tool      string          `json:"tool,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Content   string          `json:"content,omitempty"`
	Iteration int             `json:"iteration,omitempty"`
}

// EventSink receives loop events. May be nil. Invocations within one model
// response execute concurrently, so the sink may be called from multiple
// goroutines at once; implementations must synchronize their own state.
type EventSink func(Event)

// Orchestrator drives the model/tool loop for one command at a time. It is
// safe for concurrent use; all per-request state lives on the stack.
type Orchestrator struct {
	llm           llm.Client
	executor      ToolExecutor
	catalog       []llm.ToolDefinition
	prompts       *promptSource
	model         string
	maxTokens     int
	maxIterations int
	logger        *slog.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Model         string
	MaxTokens     int
	MaxIterations int
	Location      string
	Logger        *slog.Logger
}

// New creates an orchestrator over the given model client and executor.
func New(client llm.Client, executor ToolExecutor, catalog []llm.ToolDefinition, opts Options) *Orchestrator {
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		llm:           client,
		executor:      executor,
		catalog:       catalog,
		prompts:       newPromptSource(opts.Location),
		model:         opts.Model,
		maxTokens:     opts.MaxTokens,
		maxIterations: opts.MaxIterations,
		logger:        logger,
	}
}

// Process runs the tool-calling loop until the model produces a final text
// answer, the iteration cap is hit, or a model call fails. The conversation
// history is built fresh per call and discarded afterwards.
func (o *Orchestrator) Process(ctx context.Context, cmd Command, sink EventSink) (Answer, error) {
	messages := []llm.Message{
		llm.UserMessage(llm.TextBlock(buildUserText(cmd))),
	}
	system := o.prompts.System()

	for i := 1; i <= o.maxIterations; i++ {
		resp, err := o.llm.CreateMessage(ctx, llm.MessagesRequest{
			Model:     o.model,
			MaxTokens: o.maxTokens,
			System:    system,
			Tools:     o.catalog,
			Messages:  messages,
		})
		if err != nil {
			observability.LLMCalls.WithLabelValues("error").Inc()
			return Answer{}, fmt.Errorf("model call failed: %w", err)
		}
		observability.LLMCalls.WithLabelValues("success").Inc()

		invocations := resp.ToolUses()
		if resp.StopReason != llm.StopToolUse || len(invocations) == 0 {
			answer := strings.TrimSpace(resp.TextContent())
			observability.ToolLoopIterations.Observe(float64(i))
			emit(sink, Event{Type: "answer", Content: answer, Iteration: i})
			return Answer{Text: answer, Iterations: i}, nil
		}

		results := o.executeAll(ctx, invocations, sink, i)

		messages = append(messages,
			llm.AssistantMessage(resp.Content...),
			llm.UserMessage(results...),
		)
	}

	o.logger.Warn("tool loop limit reached",
		"max_iterations", o.maxIterations, "user_id", cmd.UserID)
	return Answer{Iterations: o.maxIterations}, ErrToolLoopLimit
}

// executeAll runs every invocation of one model response. Invocations are
// independent REST operations, so they run concurrently; results are placed
// by index to keep them correlated and in request order.
func (o *Orchestrator) executeAll(ctx context.Context, invocations []llm.ContentBlock, sink EventSink, iteration int) []llm.ContentBlock {
	results := make([]llm.ContentBlock, len(invocations))

	var wg sync.WaitGroup
	for idx, inv := range invocations {
		wg.Add(1)
		go func(idx int, inv llm.ContentBlock) {
			defer wg.Done()

			o.logger.Info("executing tool", "tool", inv.Name, "invocation_id", inv.ID)
			emit(sink, Event{Type: "tool_call", Tool: inv.Name, Input: inv.Input, Iteration: iteration})

			result := o.executor.Execute(ctx, inv.Name, inv.Input)
			content, err := json.Marshal(result)
			if err != nil {
				content = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
			}

			emit(sink, Event{Type: "tool_result", Tool: inv.Name, Success: result.Success, Content: string(content), Iteration: iteration})
			results[idx] = llm.ToolResultBlock(inv.ID, string(content), !result.Success)
		}(idx, inv)
	}
	wg.Wait()

	return results
}

func buildUserText(cmd Command) string {
	text := fmt.Sprintf("The user said via the voice assistant: '%s'", cmd.Text)
	if len(cmd.Context) > 0 {
		if ctxJSON, err := json.Marshal(cmd.Context); err == nil {
			text += "\n\nAdditional context: " + string(ctxJSON)
		}
	}
	return text
}

func emit(sink EventSink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}
