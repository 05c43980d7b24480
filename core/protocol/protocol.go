// Package protocol defines the JSON envelopes exchanged with the presenter
// client over the websocket transport. Binary frames are raw PCM audio in
// both directions and carry no envelope.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client to server message types.
const (
	TypeSlideInfo = "slide_info"
	TypeSlideSync = "slide_sync"
)

// Server to client message types.
const (
	TypeStatus         = "status"
	TypeTranscript     = "transcript"
	TypeIntentDetected = "intent_detected"
	TypeSlideCommand   = "slide_command"
	TypeToolResult     = "tool_result"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ClientMessage is the decoded form of an inbound text frame. The Type
// discriminator decides which fields are meaningful.
type ClientMessage struct {
	Type string `json:"type"`

	// TotalSlides is set on slide_info only.
	TotalSlides int `json:"total_slides,omitempty"`
	// CurrentSlide is set on slide_info and slide_sync (0-based).
	CurrentSlide int `json:"current_slide"`
}

// DecodeClientMessage parses an inbound text frame.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("failed to decode client message: %w", err)
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("client message is missing a type")
	}
	return msg, nil
}

// Status reports connection and lifecycle notices.
type Status struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}

func NewStatus(status, message string) Status {
	return Status{Type: TypeStatus, Status: status, Message: message}
}

// Transcript is a passthrough of recognized speech.
type Transcript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewTranscript(text string) Transcript {
	return Transcript{Type: TypeTranscript, Text: text}
}

// IntentDetected is emitted as soon as a tool call arrives, before dispatch
// resolves, so the client can surface the detected intent immediately.
type IntentDetected struct {
	Type string         `json:"type"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

func NewIntentDetected(tool string, args map[string]any) IntentDetected {
	if args == nil {
		args = map[string]any{}
	}
	return IntentDetected{Type: TypeIntentDetected, Tool: tool, Args: args}
}

// SlideCommand is the result of a synchronous navigation dispatch.
type SlideCommand struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	SlideIndex int    `json:"slide_index"`
	Status     string `json:"status"`
}

func NewSlideCommand(action string, slideIndex int, status string) SlideCommand {
	return SlideCommand{Type: TypeSlideCommand, Action: action, SlideIndex: slideIndex, Status: status}
}

// ToolResult carries the outcome of a non-navigation dispatch, including the
// late completion of a background command.
type ToolResult struct {
	Type   string         `json:"type"`
	Tool   string         `json:"tool"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
}

func NewToolResult(tool, status string, data map[string]any) ToolResult {
	if data == nil {
		data = map[string]any{}
	}
	return ToolResult{Type: TypeToolResult, Tool: tool, Status: status, Data: data}
}
