// Package understanding defines the narrow streaming contract between a
// session and the external speech-understanding service. The service is a
// black box: audio goes up, transcripts, synthesized audio and tool-call
// requests come back. Concrete wire protocols live in the provider
// subpackages.
package understanding

import (
	"context"
	"encoding/json"

	"github.com/slidekick/slidekick-core/core/audio"
)

// ToolDeclaration announces a callable command to the service during the
// handshake.
type ToolDeclaration struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is a structured command request emitted by the service.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// ToolResult closes an outstanding ToolCall. CallID must echo the
// originating call.
type ToolResult struct {
	CallID  string
	Name    string
	Status  string
	Payload map[string]any
}

// Session is one live duplex stream to the service. SendAudio and
// SendToolResult are safe for concurrent use; events arrive through the
// callbacks configured at connect time, invoked sequentially from the
// session's read loop.
type Session interface {
	SendAudio(audio []byte) error
	SendToolResult(result ToolResult) error
	Close() error
}

// Client opens sessions against a concrete provider. Connect blocks until
// the provider handshake completes or ctx expires.
type Client interface {
	Connect(ctx context.Context, opts ...SessionOption) (Session, error)
}

type SessionOptions struct {
	TranscriptCallback func(text string)
	ToolCallCallback   func(call ToolCall)
	AudioCallback      func(audio []byte)
	ClosedCallback     func(err error)

	Tools             []ToolDeclaration
	SystemInstruction string
	EncodingInfo      audio.EncodingInfo
}

type SessionOption func(*SessionOptions)

func WithTranscriptCallback(callback func(text string)) SessionOption {
	return func(o *SessionOptions) {
		o.TranscriptCallback = callback
	}
}

func WithToolCallCallback(callback func(call ToolCall)) SessionOption {
	return func(o *SessionOptions) {
		o.ToolCallCallback = callback
	}
}

func WithAudioCallback(callback func(audio []byte)) SessionOption {
	return func(o *SessionOptions) {
		o.AudioCallback = callback
	}
}

func WithClosedCallback(callback func(err error)) SessionOption {
	return func(o *SessionOptions) {
		o.ClosedCallback = callback
	}
}

func WithTools(tools ...ToolDeclaration) SessionOption {
	return func(o *SessionOptions) {
		o.Tools = append(o.Tools, tools...)
	}
}

func WithSystemInstruction(instruction string) SessionOption {
	return func(o *SessionOptions) {
		o.SystemInstruction = instruction
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SessionOption {
	return func(o *SessionOptions) {
		o.EncodingInfo = encodingInfo
	}
}
