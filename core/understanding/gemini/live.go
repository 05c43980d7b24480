package gemini

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/slidekick/slidekick-core/core/understanding"
)

// LiveSession is one open bidiGenerateContent stream. Writes are serialized
// through connMu; the read loop invokes callbacks sequentially.
type LiveSession struct {
	connMu sync.Mutex
	conn   *websocket.Conn

	options understanding.SessionOptions

	closeOnce sync.Once
	closed    chan struct{}
}

func newLiveSession(conn *websocket.Conn, options understanding.SessionOptions) *LiveSession {
	return &LiveSession{
		conn:    conn,
		options: options,
		closed:  make(chan struct{}),
	}
}

func (s *LiveSession) SendAudio(audioData []byte) error {
	msg := clientMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []inlineData{{
			MimeType: s.options.EncodingInfo.MimeType(),
			Data:     base64.StdEncoding.EncodeToString(audioData),
		}},
	}}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write audio to gemini: %w", err)
	}
	return nil
}

func (s *LiveSession) SendToolResult(result understanding.ToolResult) error {
	response := result.Payload
	if response == nil {
		response = map[string]any{}
	}
	if result.Status != "" {
		response["status"] = result.Status
	}

	msg := clientMessage{ToolResponse: &toolResponse{
		FunctionResponses: []functionResponse{{
			ID:       result.CallID,
			Name:     result.Name,
			Response: response,
		}},
	}}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write tool response to gemini: %w", err)
	}
	return nil
}

func (s *LiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

func (s *LiveSession) readAndProcessMessages() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				s.notifyClosed(nil)
			default:
				log.Println("Failed to read gemini websocket message", "error", err)
				s.Close()
				s.notifyClosed(err)
			}
			return
		}

		s.processMessage(raw)
	}
}

func (s *LiveSession) processMessage(raw []byte) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Println("Failed to unmarshal gemini message", "error", err)
		return
	}

	if msg.ServerContent != nil {
		s.processServerContent(msg.ServerContent)
	}

	if msg.ToolCall != nil && s.options.ToolCallCallback != nil {
		for _, call := range msg.ToolCall.FunctionCalls {
			s.options.ToolCallCallback(understanding.ToolCall{
				CallID:    call.ID,
				Name:      call.Name,
				Arguments: call.Args,
			})
		}
	}
}

func (s *LiveSession) processServerContent(serverContent *serverContent) {
	if serverContent.InputTranscription != nil && s.options.TranscriptCallback != nil {
		if text := strings.TrimSpace(serverContent.InputTranscription.Text); text != "" {
			s.options.TranscriptCallback(text)
		}
	}

	if serverContent.ModelTurn == nil {
		return
	}
	for _, turnPart := range serverContent.ModelTurn.Parts {
		if turnPart.InlineData != nil && s.options.AudioCallback != nil {
			audioData, err := base64.StdEncoding.DecodeString(turnPart.InlineData.Data)
			if err != nil {
				log.Println("Failed to decode gemini audio chunk", "error", err)
				continue
			}
			s.options.AudioCallback(audioData)
		}

		if text := strings.TrimSpace(turnPart.Text); text != "" && s.options.TranscriptCallback != nil {
			s.options.TranscriptCallback(text)
		}
	}
}

func (s *LiveSession) notifyClosed(err error) {
	if s.options.ClosedCallback != nil {
		s.options.ClosedCallback(err)
	}
}
