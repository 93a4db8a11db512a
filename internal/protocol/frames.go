// Package protocol defines the WebSocket frame protocol between widgets and the gateway.
package protocol

import (
	"encoding/json"

	"github.com/piyush97/resonance/internal/domain"
)

// Frame types from client to gateway. Only "message" carries work;
// anything else decodes cleanly and is ignored by the processing loop.
const (
	TypeMessage = "message"
)

// Frame types from gateway to client.
const (
	TypeResponse = "response"
	TypeError    = "error"
)

// Frame is one decoded inbound unit of the wire protocol.
type Frame struct {
	Type        string                `json:"type"`
	Content     string                `json:"content,omitempty"`
	AssistantID string                `json:"assistant_id,omitempty"`
	History     []domain.HistoryEntry `json:"history,omitempty"`
}

// ResponseFrame carries a grounded answer back to the client.
type ResponseFrame struct {
	Type    string                  `json:"type"`
	Content string                  `json:"content"`
	Sources []domain.SourceCitation `json:"sources"`
}

// ErrorFrame carries a generic, non-leaking failure message.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DecodeError indicates the inbound bytes were not a well-formed frame.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode frame: " + e.Reason
}

// Decode parses raw bytes into a Frame. A missing or non-string type,
// or a payload that is not a JSON object, yields a *DecodeError.
func Decode(data []byte) (*Frame, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Reason: "not a JSON object"}
	}

	rawType, ok := envelope["type"]
	if !ok {
		return nil, &DecodeError{Reason: "missing type"}
	}
	var frameType string
	if err := json.Unmarshal(rawType, &frameType); err != nil || frameType == "" {
		return nil, &DecodeError{Reason: "type is not a string"}
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &DecodeError{Reason: "malformed payload"}
	}
	return &frame, nil
}

// NewResponse builds a response frame. A nil source list is normalized to
// an empty slice so the wire shape always carries "sources".
func NewResponse(content string, sources []domain.SourceCitation) ResponseFrame {
	if sources == nil {
		sources = []domain.SourceCitation{}
	}
	return ResponseFrame{Type: TypeResponse, Content: content, Sources: sources}
}

// NewError builds an error frame with a fixed user-facing message.
func NewError(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}

// Encode serializes an outbound frame. Encoding never fails for the
// frame values this package constructs.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
