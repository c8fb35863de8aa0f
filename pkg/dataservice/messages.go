package dataservice

import "github.com/rxtech-lab/argo-datapage/internal/types"

// Stream control message types, sent as WebSocket text messages.
const (
	MessageTypeState = "state"
	MessageTypeError = "error"
)

// StreamMessage is a JSON control message on the stream. Data travels in binary
// frames; this carries everything else.
type StreamMessage struct {
	Type     string          `json:"type"`
	State    types.PageState `json:"state,omitempty"`
	Progress float64         `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// PageCreatedResponse is returned by POST /v1/pages.
type PageCreatedResponse struct {
	Key string `json:"key"`
}

// ErrorResponse is the body of any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
