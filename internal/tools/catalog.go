package tools

import "github.com/habridge/bridge-server/internal/llm"

// Tool names known to the executor.
const (
	ToolGetHomeState   = "get_home_state"
	ToolControlDevice  = "control_device"
	ToolControlClimate = "control_climate"
	ToolExecuteScene   = "execute_scene"
	ToolCallService    = "call_service"
	ToolGetHistory     = "get_history"
)

// Catalog returns the ordered, fixed list of tool definitions exposed to the
// model. Pure data; built once at startup.
func Catalog() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolGetHomeState,
			Description: "Get the current state of devices and sensors in Home Assistant. Use this to check whether lights are on, the current temperature, door/window states, and so on.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_ids": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Specific entity IDs (e.g. ['light.living_room', 'sensor.temperature']). Leave empty to fetch everything.",
					},
					"domain": map[string]any{
						"type":        "string",
						"description": "Filter by a specific domain: 'light', 'switch', 'sensor', 'climate', 'lock', 'cover', etc.",
					},
				},
			},
		},
		{
			Name:        ToolControlDevice,
			Description: "Turn a specific Home Assistant device on or off, toggle it, or adjust it.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_id": map[string]any{
						"type":        "string",
						"description": "Entity ID of the device (e.g. 'light.living_room', 'switch.fan')",
					},
					"action": map[string]any{
						"type":        "string",
						"enum":        []string{"turn_on", "turn_off", "toggle"},
						"description": "Action to execute",
					},
					"attributes": map[string]any{
						"type":        "object",
						"description": "Additional attributes (brightness: 0-255, rgb_color: [r,g,b], temperature: value)",
					},
				},
				"required": []string{"entity_id", "action"},
			},
		},
		{
			Name:        ToolControlClimate,
			Description: "Control an air conditioner, heater or thermostat.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_id": map[string]any{
						"type":        "string",
						"description": "Entity ID of the climate device",
					},
					"temperature": map[string]any{
						"type":        "number",
						"description": "Target temperature in Celsius",
					},
					"hvac_mode": map[string]any{
						"type":        "string",
						"enum":        []string{"heat", "cool", "heat_cool", "auto", "off", "fan_only", "dry"},
						"description": "Operating mode",
					},
					"fan_mode": map[string]any{
						"type":        "string",
						"description": "Fan mode (low, medium, high, auto)",
					},
				},
				"required": []string{"entity_id"},
			},
		},
		{
			Name:        ToolExecuteScene,
			Description: "Activate a predefined Home Assistant scene (e.g. 'scene.movie_night', 'scene.dinner').",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scene_id": map[string]any{
						"type":        "string",
						"description": "Entity ID of the scene",
					},
				},
				"required": []string{"scene_id"},
			},
		},
		{
			Name:        ToolCallService,
			Description: "Call any Home Assistant service generically. Escape hatch for services not covered by the dedicated tools.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{
						"type":        "string",
						"description": "Service domain (e.g. 'light', 'switch', 'notify')",
					},
					"service": map[string]any{
						"type":        "string",
						"description": "Service name (e.g. 'turn_on', 'toggle')",
					},
					"entity_id": map[string]any{
						"type":        "string",
						"description": "Target entity ID (optional)",
					},
					"data": map[string]any{
						"type":        "object",
						"description": "Additional service data",
					},
				},
				"required": []string{"domain", "service"},
			},
		},
		{
			Name:        ToolGetHistory,
			Description: "Get historical entity states for pattern analysis.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_ids": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "List of entity IDs",
					},
					"hours": map[string]any{
						"type":        "integer",
						"description": "How many hours of history to fetch (default: 24)",
						"default":     24,
					},
				},
				"required": []string{"entity_ids"},
			},
		},
	}
}
