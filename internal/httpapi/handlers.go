package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/habridge/bridge-server/internal/config"
	"github.com/habridge/bridge-server/internal/llm"
	"github.com/habridge/bridge-server/internal/observability"
	"github.com/habridge/bridge-server/internal/orchestrator"
	"github.com/habridge/bridge-server/internal/transcript"
)

// Degrade texts: the bridge answers with speech even when processing fails
// (only the auth check may produce an HTTP error).
const (
	apologySpeech    = "Sorry, I had a problem processing your request. Please try again."
	loopLimitSpeech  = "I couldn't complete that request, it needed too many steps. Please try something simpler."
	defaultCardTitle = "Smart Home"
	serviceName      = "bridge-server"
)

// Processor runs one command through the tool-calling loop.
type Processor interface {
	Process(ctx context.Context, cmd orchestrator.Command, sink orchestrator.EventSink) (orchestrator.Answer, error)
}

// Handler serves the bridge HTTP API.
type Handler struct {
	config      *config.Config
	processor   Processor
	llmClient   llm.Client
	transcripts *transcript.Store // nil when persistence is disabled
	logger      *slog.Logger
}

// NewHandler wires the endpoint to its collaborators. transcripts may be nil.
func NewHandler(cfg *config.Config, processor Processor, llmClient llm.Client, transcripts *transcript.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:      cfg,
		processor:   processor,
		llmClient:   llmClient,
		transcripts: transcripts,
		logger:      logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

// ProcessRequest is the inbound command from the voice assistant integration.
type ProcessRequest struct {
	Command string         `json:"command"`
	Context map[string]any `json:"context,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
}

// ProcessResponse is the outbound envelope spoken by the voice assistant.
type ProcessResponse struct {
	Speech           string `json:"speech"`
	ShouldEndSession bool   `json:"should_end_session"`
	CardTitle        string `json:"card_title,omitempty"`
	CardContent      string `json:"card_content,omitempty"`
}

// ProcessCommand handles POST /process.
func (h *Handler) ProcessCommand(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observability.RequestsTotal.WithLabelValues("invalid").Inc()
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		observability.RequestsTotal.WithLabelValues("invalid").Inc()
		writeJSONError(w, http.StatusBadRequest, "command is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	speech, outcome, toolCalls := h.run(ctx, orchestrator.Command{
		Text:    req.Command,
		Context: req.Context,
		UserID:  req.UserID,
	})
	elapsed := time.Since(start)

	observability.RequestsTotal.WithLabelValues(outcome).Inc()
	observability.RequestDuration.Observe(elapsed.Seconds())
	h.record(req, speech, outcome, toolCalls, elapsed)

	writeJSON(w, http.StatusOK, ProcessResponse{
		Speech:           speech,
		ShouldEndSession: true,
		CardTitle:        defaultCardTitle,
		CardContent:      speech,
	})
}

// run executes the loop and maps failures to degrade speech.
func (h *Handler) run(ctx context.Context, cmd orchestrator.Command) (speech, outcome string, toolCalls int) {
	// The sink runs on the tool-execution goroutines, so the counter must
	// be atomic.
	var calls atomic.Int64
	answer, err := h.processor.Process(ctx, cmd, func(ev orchestrator.Event) {
		if ev.Type == "tool_call" {
			calls.Add(1)
		}
	})
	switch {
	case errors.Is(err, orchestrator.ErrToolLoopLimit):
		h.logger.Warn("command hit tool loop limit", "command", cmd.Text)
		return loopLimitSpeech, "degraded", int(calls.Load())
	case err != nil:
		h.logger.Error("command processing failed", "command", cmd.Text, "error", err)
		return apologySpeech, "degraded", int(calls.Load())
	default:
		return answer.Text, "answered", int(calls.Load())
	}
}

// record persists a transcript entry, best effort.
func (h *Handler) record(req ProcessRequest, speech, outcome string, toolCalls int, elapsed time.Duration) {
	if h.transcripts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.transcripts.Record(ctx, transcript.Entry{
		UserID:     req.UserID,
		Command:    req.Command,
		Answer:     speech,
		Outcome:    outcome,
		ToolCalls:  toolCalls,
		DurationMS: elapsed.Milliseconds(),
	})
	if err != nil {
		h.logger.Error("failed to record transcript", "error", err)
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	configured := false
	if h.llmClient != nil {
		configured = h.llmClient.Configured()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"service":           serviceName,
		"timestamp":         time.Now().Format(time.RFC3339),
		"home_assistant":    h.config.HomeAssistantURL,
		"claude_configured": configured,
	})
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Voice Assistant + Home Assistant + AI Bridge",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"POST /process": "Process a voice command",
			"GET /health":   "Health check",
			"GET /metrics":  "Prometheus metrics",
		},
	})
}

// AdminStatus handles GET /api/bridge/admin/status.
func (h *Handler) AdminStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":             serviceName,
		"model":               h.config.ClaudeModel,
		"home_assistant":      h.config.HomeAssistantURL,
		"max_tool_iterations": h.config.MaxToolIterations,
		"max_tokens":          h.config.MaxTokens,
		"transcripts_enabled": h.transcripts != nil,
	})
}

// AdminTranscripts handles GET /api/bridge/admin/transcripts.
func (h *Handler) AdminTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "transcript store not configured")
		return
	}

	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.transcripts.ListRecent(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list transcripts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transcripts": entries})
}
