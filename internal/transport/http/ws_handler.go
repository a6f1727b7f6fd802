package http

import (
	"encoding/json"
	"log"
	"net/http"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	service  *app.BattleService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.BattleService) *WSHandler {
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

type answerPayload struct {
	QuestionID    string `json:"questionId"`
	OptionID      string `json:"optionId"`
	ElapsedMillis int64  `json:"elapsedMillis"`
}

type joinedPayload struct {
	RoomID        string                   `json:"roomId"`
	ParticipantID string                   `json:"participantId"`
	State         domain.RoomState         `json:"state"`
	Participants  []domain.ParticipantView `json:"participants"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// battle use cases. The participant joins on connect and leaves on
// disconnect; answers, start requests and heartbeats arrive as messages
// while room lifecycle events stream back.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	setID := r.URL.Query().Get("setId")
	participantID := r.URL.Query().Get("userId")
	if roomID == "" || setID == "" {
		http.Error(w, "missing roomId or setId", http.StatusBadRequest)
		return
	}
	if participantID == "" {
		participantID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if err := h.service.JoinRoom(ctx, roomID, setID, participantID); err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	events, cancel, err := h.service.Subscribe(ctx, roomID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	defer h.service.LeaveRoom(ctx, roomID, participantID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- eventMessage(event):
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// The writer can exit early on a broken connection; sending through
	// this guard instead of the bare channel keeps the read loop from
	// blocking forever on a full buffer nobody drains.
	trySend := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	state, participants, err := h.service.RoomStatus(ctx, roomID)
	if err != nil {
		trySend(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
	} else {
		trySend(outboundMessage[any]{Type: "joined", Payload: joinedPayload{
			RoomID:        roomID,
			ParticipantID: participantID,
			State:         state,
			Participants:  participants,
		}})
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			if err := h.service.StartRoom(ctx, roomID); err != nil {
				trySend(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				trySend(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			result, err := h.service.SubmitAnswer(ctx, roomID, domain.Submission{
				ParticipantID: participantID,
				QuestionID:    payload.QuestionID,
				OptionID:      payload.OptionID,
				ElapsedMillis: payload.ElapsedMillis,
			})
			if err != nil {
				trySend(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			trySend(outboundMessage[any]{Type: "submissionResult", Payload: result})
		case "heartbeat":
			if err := h.service.Heartbeat(ctx, roomID, participantID); err != nil {
				trySend(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
		case "leave":
			h.service.LeaveRoom(ctx, roomID, participantID)
		default:
			trySend(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func eventMessage(event domain.Event) outboundMessage[any] {
	switch event.Type {
	case domain.EventRoomStateChanged:
		return outboundMessage[any]{Type: "roomState", Payload: event.StateChanged}
	case domain.EventQuestionAdvanced:
		return outboundMessage[any]{Type: "question", Payload: event.Question}
	case domain.EventSubmissionScored:
		return outboundMessage[any]{Type: "submissionScored", Payload: event.Submission}
	case domain.EventRoomFinished:
		return outboundMessage[any]{Type: "finished", Payload: event.Finished}
	default:
		return outboundMessage[any]{Type: string(event.Type), Payload: event}
	}
}
