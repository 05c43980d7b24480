// Package deepgram is a transcript-only understanding provider. It streams
// audio to Deepgram's listen endpoint and surfaces final transcripts; it
// emits no tool calls and no synthesized audio, which makes it useful for
// running sessions without a live model attached.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/slidekick/slidekick-core/core/audio"
	"github.com/slidekick/slidekick-core/core/understanding"
)

const listenEndpoint = "wss://api.deepgram.com/v1/listen"

type Client struct {
	apiKey string
	model  string
}

type ClientOption func(*Client)

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
	if !ok {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	c := &Client{apiKey: apiKey, model: "nova-3"}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Connect(ctx context.Context, opts ...understanding.SessionOption) (understanding.Session, error) {
	options := &understanding.SessionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	listenUrl, _ := url.Parse(listenEndpoint)
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", options.EncodingInfo.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(options.EncodingInfo.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", "en-US")
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	listenUrl.RawQuery = queryParams.Encode()

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, listenUrl.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	session := &transcriptionSession{
		conn:    conn,
		options: *options,
		closed:  make(chan struct{}),
	}
	session.lastMsgTs = time.Now()

	go session.readAndProcessMessages()
	go session.keepAlive()

	return session, nil
}

type transcriptionSession struct {
	connMu sync.Mutex
	conn   *websocket.Conn

	options understanding.SessionOptions

	lastMsgMu sync.Mutex
	lastMsgTs time.Time

	accumulatedTranscript string

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *transcriptionSession) SendAudio(audioData []byte) error {
	s.lastMsgMu.Lock()
	s.lastMsgTs = time.Now()
	s.lastMsgMu.Unlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if err := s.conn.WriteMessage(websocket.BinaryMessage, audioData); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// SendToolResult is a no-op: transcription-only sessions never issue tool
// calls, so there is nothing to answer.
func (s *transcriptionSession) SendToolResult(understanding.ToolResult) error {
	return nil
}

func (s *transcriptionSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)

		s.connMu.Lock()
		_ = s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)})
		s.connMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *transcriptionSession) keepAlive() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.lastMsgMu.Lock()
			idle := time.Since(s.lastMsgTs)
			s.lastMsgMu.Unlock()
			if idle < 5*time.Second {
				continue
			}

			s.connMu.Lock()
			if err := s.conn.WriteJSON(struct {
				Type string `json:"type"`
			}{Type: "KeepAlive"}); err != nil {
				log.Println("Failed to write to deepgram client", "error", err)
			}
			s.connMu.Unlock()
		}
	}
}

func (s *transcriptionSession) readAndProcessMessages() {
	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				if s.options.ClosedCallback != nil {
					s.options.ClosedCallback(nil)
				}
			default:
				if err.Error() != "websocket: close 1000 (normal)" {
					log.Println("Failed to read deepgram websocket message", "error", err)
				}
				s.Close()
				if s.options.ClosedCallback != nil {
					s.options.ClosedCallback(err)
				}
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg)
		}
	}
}

func (s *transcriptionSession) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		log.Println("Failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			log.Println("Failed to unmarshal deepgram message", err)
			return
		}
		if !msgResp.IsFinal || len(msgResp.Channel.Alternatives) == 0 {
			return
		}

		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if len(transcript) > 0 {
			s.accumulatedTranscript += " " + transcript
		}
		if msgResp.SpeechFinal {
			s.flushTranscript()
		}

	case api.TypeUtteranceEndResponse:
		var msgResp api.UtteranceEndResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			log.Println("Failed to unmarshal deepgram message", err)
			return
		}
		s.flushTranscript()
	}
}

func (s *transcriptionSession) flushTranscript() {
	fullTranscript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if len(fullTranscript) > 0 && s.options.TranscriptCallback != nil {
		s.options.TranscriptCallback(fullTranscript)
	}
}
