package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/habridge/bridge-server/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSMessage is one frame on the debug console socket.
type WSMessage struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Success bool            `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// HandleConsole serves GET /ws/console: an operator submits commands over a
// WebSocket and watches tool calls, tool results and the final answer stream
// by. Each command runs through the same loop as /process; no state is kept
// between commands.
func (h *Handler) HandleConsole(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session := &consoleSession{conn: conn, handler: h}
	session.run(r.Context())
}

type consoleSession struct {
	conn    *websocket.Conn
	handler *Handler
	writeMu sync.Mutex
}

func (s *consoleSession) run(ctx context.Context) {
	for {
		_, msgBytes, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.handler.logger.Error("console websocket error", "error", err)
			}
			return
		}

		var msg struct {
			Type    string         `json:"type"`
			Content string         `json:"content"`
			Context map[string]any `json:"context"`
		}
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			s.send(WSMessage{Type: "error", Content: "invalid message format"})
			continue
		}
		if msg.Type != "command" || strings.TrimSpace(msg.Content) == "" {
			continue
		}

		s.handleCommand(ctx, msg.Content, msg.Context)
	}
}

func (s *consoleSession) handleCommand(ctx context.Context, text string, cmdCtx map[string]any) {
	runCtx, cancel := context.WithTimeout(ctx, s.handler.config.RequestTimeout)
	defer cancel()

	answer, err := s.handler.processor.Process(runCtx, orchestrator.Command{
		Text:    text,
		Context: cmdCtx,
	}, func(ev orchestrator.Event) {
		switch ev.Type {
		case "tool_call":
			s.send(WSMessage{Type: "tool_call", Tool: ev.Tool, Data: ev.Input})
		case "tool_result":
			s.send(WSMessage{Type: "tool_result", Tool: ev.Tool, Success: ev.Success, Content: ev.Content})
		}
	})
	if err != nil {
		s.send(WSMessage{Type: "error", Content: err.Error()})
		return
	}
	s.send(WSMessage{Type: "answer", Content: answer.Text})
}

func (s *consoleSession) send(msg WSMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteJSON(msg)
}
