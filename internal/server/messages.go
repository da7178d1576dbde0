package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/npezzotti/go-pickup/internal/types"
)

const (
	EventChangeState  = "change-state"
	EventStateUpdate  = "state-update"
	EventTimelineSync = "timeline-sync"
	EventError        = "error"
)

// ClientMessage is a frame received from a session.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerMessage is a frame queued for delivery to a session.
type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ErrorPayload struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func StateUpdate(state types.State) *ServerMessage {
	return &ServerMessage{
		Event: EventStateUpdate,
		Data:  state,
	}
}

func TimelineSync(events []types.Event) *ServerMessage {
	if events == nil {
		events = []types.Event{}
	}

	return &ServerMessage{
		Event: EventTimelineSync,
		Data:  events,
	}
}

func ErrInvalidMessage() *ServerMessage {
	return errorMessage(http.StatusBadRequest, "invalid message format")
}

func ErrInvalidUpdate() *ServerMessage {
	return errorMessage(http.StatusBadRequest, "invalid change-state payload")
}

// ErrIgnoredFields tells the sender which fields of an otherwise applied
// update had the wrong type and were left out.
func ErrIgnoredFields(fields []string) *ServerMessage {
	return errorMessage(http.StatusBadRequest, "ignored malformed fields: "+strings.Join(fields, ", "))
}

func ErrUnknownEvent() *ServerMessage {
	return errorMessage(http.StatusBadRequest, "unknown event")
}

func ErrTooManyUpdates() *ServerMessage {
	return errorMessage(http.StatusTooManyRequests, "too many updates")
}

func ErrServiceUnavailable() *ServerMessage {
	return errorMessage(http.StatusServiceUnavailable, "service unavailable")
}

func errorMessage(code int, text string) *ServerMessage {
	return &ServerMessage{
		Event: EventError,
		Data: ErrorPayload{
			Code:  code,
			Error: text,
		},
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
