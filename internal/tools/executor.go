package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/habridge/bridge-server/internal/homeassistant"
	"github.com/habridge/bridge-server/internal/observability"
)

// Result is the uniform outcome of one tool invocation. Failures are data,
// not Go errors: the model receives the error text and may adapt its plan.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Backend is the Home Assistant surface the executor needs.
type Backend interface {
	States(ctx context.Context) ([]map[string]any, error)
	State(ctx context.Context, entityID string) (map[string]any, error)
	CallService(ctx context.Context, domain, service string, payload map[string]any) (json.RawMessage, error)
	History(ctx context.Context, entityID string, start time.Time) (json.RawMessage, error)
}

var _ Backend = (*homeassistant.Client)(nil)

// Executor translates tool invocations into Home Assistant REST calls.
type Executor struct {
	ha  Backend
	now func() time.Time
}

// NewExecutor creates an executor backed by the given Home Assistant client.
func NewExecutor(ha Backend) *Executor {
	return &Executor{ha: ha, now: time.Now}
}

// Execute runs one tool invocation and returns its result. It never panics
// and never returns a Go error; every failure is contained in the Result.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) Result {
	res := e.execute(ctx, name, input)
	outcome := "success"
	if !res.Success {
		outcome = "error"
	}
	observability.ToolExecutions.WithLabelValues(name, outcome).Inc()
	return res
}

func (e *Executor) execute(ctx context.Context, name string, input json.RawMessage) Result {
	switch name {
	case ToolGetHomeState:
		return e.getHomeState(ctx, input)
	case ToolControlDevice:
		return e.controlDevice(ctx, input)
	case ToolControlClimate:
		return e.controlClimate(ctx, input)
	case ToolExecuteScene:
		return e.executeScene(ctx, input)
	case ToolCallService:
		return e.callService(ctx, input)
	case ToolGetHistory:
		return e.getHistory(ctx, input)
	default:
		return failure("unknown tool: %s", name)
	}
}

func decodeInput(input json.RawMessage, dst any) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return json.Unmarshal(input, dst)
}

type getHomeStateInput struct {
	EntityIDs []string `json:"entity_ids"`
	Domain    string   `json:"domain"`
}

func (e *Executor) getHomeState(ctx context.Context, input json.RawMessage) Result {
	var in getHomeStateInput
	if err := decodeInput(input, &in); err != nil {
		return failure("invalid get_home_state input: %v", err)
	}

	if len(in.EntityIDs) > 0 {
		states := make([]map[string]any, 0, len(in.EntityIDs))
		for _, id := range in.EntityIDs {
			state, err := e.ha.State(ctx, id)
			if err != nil {
				return failure("failed to fetch state for %s: %v", id, err)
			}
			states = append(states, state)
		}
		return Result{Success: true, Data: map[string]any{"states": states}}
	}

	all, err := e.ha.States(ctx)
	if err != nil {
		return failure("failed to fetch states: %v", err)
	}
	if in.Domain != "" {
		prefix := in.Domain + "."
		filtered := make([]map[string]any, 0, len(all))
		for _, s := range all {
			if id, ok := s["entity_id"].(string); ok && strings.HasPrefix(id, prefix) {
				filtered = append(filtered, s)
			}
		}
		all = filtered
	}
	return Result{Success: true, Data: map[string]any{"states": all}}
}

type controlDeviceInput struct {
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Attributes map[string]any `json:"attributes"`
}

func (e *Executor) controlDevice(ctx context.Context, input json.RawMessage) Result {
	var in controlDeviceInput
	if err := decodeInput(input, &in); err != nil {
		return failure("invalid control_device input: %v", err)
	}
	if in.EntityID == "" || in.Action == "" {
		return failure("control_device requires entity_id and action")
	}

	// The service domain is the entity id prefix up to the first separator.
	domain, _, ok := strings.Cut(in.EntityID, ".")
	if !ok || domain == "" {
		return failure("invalid entity_id %q: missing domain prefix", in.EntityID)
	}

	payload := map[string]any{"entity_id": in.EntityID}
	for k, v := range in.Attributes {
		payload[k] = v
	}

	if _, err := e.ha.CallService(ctx, domain, in.Action, payload); err != nil {
		return failure("failed to %s %s: %v", in.Action, in.EntityID, err)
	}
	return Result{Success: true, Data: map[string]any{"action": in.Action, "entity": in.EntityID}}
}

type controlClimateInput struct {
	EntityID    string   `json:"entity_id"`
	Temperature *float64 `json:"temperature"`
	HVACMode    string   `json:"hvac_mode"`
	FanMode     string   `json:"fan_mode"`
}

func (e *Executor) controlClimate(ctx context.Context, input json.RawMessage) Result {
	var in controlClimateInput
	if err := decodeInput(input, &in); err != nil {
		return failure("invalid control_climate input: %v", err)
	}
	if in.EntityID == "" {
		return failure("control_climate requires entity_id")
	}

	// The mode must be applied before the temperature so the temperature is
	// interpreted under the new mode.
	if in.HVACMode != "" {
		if _, err := e.ha.CallService(ctx, "climate", "set_hvac_mode", map[string]any{
			"entity_id": in.EntityID,
			"hvac_mode": in.HVACMode,
		}); err != nil {
			return failure("failed to set hvac mode on %s: %v", in.EntityID, err)
		}
	}
	if in.FanMode != "" {
		if _, err := e.ha.CallService(ctx, "climate", "set_fan_mode", map[string]any{
			"entity_id": in.EntityID,
			"fan_mode":  in.FanMode,
		}); err != nil {
			return failure("failed to set fan mode on %s: %v", in.EntityID, err)
		}
	}
	if in.Temperature != nil {
		if _, err := e.ha.CallService(ctx, "climate", "set_temperature", map[string]any{
			"entity_id":   in.EntityID,
			"temperature": *in.Temperature,
		}); err != nil {
			return failure("failed to set temperature on %s: %v", in.EntityID, err)
		}
	}
	return Result{Success: true, Data: map[string]any{"entity": in.EntityID}}
}

type executeSceneInput struct {
	SceneID string `json:"scene_id"`
}

func (e *Executor) executeScene(ctx context.Context, input json.RawMessage) Result {
	var in executeSceneInput
	if err := decodeInput(input, &in); err != nil {
		return failure("invalid execute_scene input: %v", err)
	}
	if in.SceneID == "" {
		return failure("execute_scene requires scene_id")
	}

	if _, err := e.ha.CallService(ctx, "scene", "turn_on", map[string]any{"entity_id": in.SceneID}); err != nil {
		return failure("failed to activate scene %s: %v", in.SceneID, err)
	}
	return Result{Success: true, Data: map[string]any{"scene": in.SceneID}}
}

type callServiceInput struct {
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data"`
}

func (e *Executor) callService(ctx context.Context, input json.RawMessage) Result {
	var in callServiceInput
	if err := decodeInput(input, &in); err != nil {
		return failure("invalid call_service input: %v", err)
	}
	if in.Domain == "" || in.Service == "" {
		return failure("call_service requires domain and service")
	}

	payload := map[string]any{}
	if in.EntityID != "" {
		payload["entity_id"] = in.EntityID
	}
	for k, v := range in.Data {
		payload[k] = v
	}

	if _, err := e.ha.CallService(ctx, in.Domain, in.Service, payload); err != nil {
		return failure("failed to call %s/%s: %v", in.Domain, in.Service, err)
	}
	return Result{Success: true}
}

type getHistoryInput struct {
	EntityIDs []string `json:"entity_ids"`
	Hours     int      `json:"hours"`
}

func (e *Executor) getHistory(ctx context.Context, input json.RawMessage) Result {
	var in getHistoryInput
	if err := decodeInput(input, &in); err != nil {
		return failure("invalid get_history input: %v", err)
	}
	if len(in.EntityIDs) == 0 {
		return failure("get_history requires entity_ids")
	}
	if in.Hours <= 0 {
		in.Hours = 24
	}

	start := e.now().Add(-time.Duration(in.Hours) * time.Hour)
	histories := make([]map[string]any, 0, len(in.EntityIDs))
	for _, id := range in.EntityIDs {
		raw, err := e.ha.History(ctx, id, start)
		if err != nil {
			return failure("failed to fetch history for %s: %v", id, err)
		}
		var history any
		if err := json.Unmarshal(raw, &history); err != nil {
			return failure("failed to decode history for %s: %v", id, err)
		}
		histories = append(histories, map[string]any{
			"entity_id": id,
			"history":   history,
		})
	}
	return Result{Success: true, Data: map[string]any{"histories": histories}}
}
