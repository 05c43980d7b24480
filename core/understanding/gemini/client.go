// Package gemini streams audio to the Gemini Live API over its
// bidiGenerateContent websocket and surfaces transcripts, synthesized audio
// and tool calls through the understanding session contract.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slidekick/slidekick-core/core/audio"
	"github.com/slidekick/slidekick-core/core/understanding"
)

const (
	defaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	liveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	setupTimeout = 15 * time.Second
)

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
	apiKey, ok := os.LookupEnv("GEMINI_API_KEY")
	if !ok {
		return nil, fmt.Errorf("gemini api key not found")
	}

	c := &Client{apiKey: apiKey, model: defaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials the live endpoint, performs the setup exchange and starts
// the read loop. It blocks until the service confirms the setup or ctx
// expires.
func (c *Client) Connect(ctx context.Context, opts ...understanding.SessionOption) (understanding.Session, error) {
	options := &understanding.SessionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(options)
	}

	endpoint, _ := url.Parse(liveEndpoint)
	queryParams := endpoint.Query()
	queryParams.Set("key", c.apiKey)
	endpoint.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to gemini: %w", err)
	}

	if err := c.performSetup(ctx, conn, options); err != nil {
		conn.Close()
		return nil, err
	}

	session := newLiveSession(conn, *options)
	go session.readAndProcessMessages()

	return session, nil
}

func (c *Client) performSetup(ctx context.Context, conn *websocket.Conn, options *understanding.SessionOptions) error {
	setupMsg := clientMessage{Setup: &setup{
		Model:                   "models/" + c.model,
		GenerationConfig:        &generationConfig{ResponseModalities: []string{"AUDIO"}},
		InputAudioTranscription: &struct{}{},
	}}
	if options.SystemInstruction != "" {
		setupMsg.Setup.SystemInstruction = &content{Parts: []part{{Text: options.SystemInstruction}}}
	}
	if len(options.Tools) > 0 {
		declarations := make([]functionDeclaration, 0, len(options.Tools))
		for _, t := range options.Tools {
			declarations = append(declarations, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		setupMsg.Setup.Tools = []tool{{FunctionDeclarations: declarations}}
	}

	if err := conn.WriteJSON(setupMsg); err != nil {
		return fmt.Errorf("failed to send gemini setup: %w", err)
	}

	deadline := time.Now().Add(setupTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set setup deadline: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to read gemini setup response: %w", err)
	}

	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to parse gemini setup response: %w", err)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("gemini did not confirm setup")
	}

	return conn.SetReadDeadline(time.Time{})
}
