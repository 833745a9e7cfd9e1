package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"arrangement-grading-service/internal/app"
	"arrangement-grading-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.GradingService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GradingService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type attemptPayload struct {
	QuestionID string `json:"questionId"`
	Attempt    int    `json:"attempt"`
	Accepted   bool   `json:"accepted"`
}

func (p attemptPayload) toAttempt() domain.Attempt {
	return domain.Attempt{QuestionID: p.QuestionID, Attempt: p.Attempt, Accepted: p.Accepted}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and streams a student's live grade.
// Clients send "attempt" (one attempt) or "history" (a batch) messages; every
// change is answered with a "recorded" update and fanned out as "progress" to all
// viewers of the same student.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	arrangementID := r.URL.Query().Get("arrangementId")
	studentID := r.URL.Query().Get("studentId")
	if arrangementID == "" || studentID == "" {
		http.Error(w, "missing arrangementId or studentId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	joined, err := h.service.Join(r.Context(), arrangementID, studentID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer h.service.Leave(r.Context(), arrangementID, studentID)

	updates, cancel, err := h.service.Subscribe(r.Context(), arrangementID, studentID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer: gorilla connections do not support concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				slog.Warn("ws write error", "error", err, "arrangement_id", arrangementID, "student_id", studentID)
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joined}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "progress", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		var attempts []domain.Attempt
		switch inbound.Type {
		case "attempt":
			var payload attemptPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid attempt payload"}}
				continue
			}
			attempts = []domain.Attempt{payload.toAttempt()}
		case "history":
			var payload []attemptPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid history payload"}}
				continue
			}
			for _, p := range payload {
				attempts = append(attempts, p.toAttempt())
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
			continue
		}

		update, err := h.service.RecordAttempts(r.Context(), arrangementID, studentID, attempts)
		if err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			continue
		}
		send <- outboundMessage[any]{Type: "recorded", Payload: update}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
