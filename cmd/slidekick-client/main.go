// Command slidekick-client is a local presenter console: it captures the
// microphone, streams it to a slidekickd backend and renders the simulated
// slide deck, transcripts and command results in a small terminal UI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/slidekick/slidekick-core/core/audio/miniaudio"
	"github.com/slidekick/slidekick-core/core/audio/portaudio"
	"github.com/slidekick/slidekick-core/core/protocol"
)

type audioClient interface {
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	SendAudio(audio []byte) error
	Close()
}

func main() {
	var (
		server      = flag.String("server", "ws://localhost:8000/ws", "backend websocket URL")
		totalSlides = flag.Int("slides", 10, "number of slides in the simulated deck")
		usePort     = flag.Bool("portaudio", false, "capture with portaudio instead of miniaudio")
		bufferSize  = flag.Int("buffer", 1600, "portaudio capture buffer size in samples")
	)
	flag.Parse()

	if err := run(*server, *totalSlides, *usePort, *bufferSize); err != nil {
		log.Fatalln(err)
	}
}

func run(server string, totalSlides int, usePort bool, bufferSize int) error {
	conn, _, err := websocket.DefaultDialer.Dial(server, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", server, err)
	}
	defer conn.Close()

	var capture audioClient
	if usePort {
		capture, err = portaudio.NewClient(bufferSize)
	} else {
		capture, err = miniaudio.NewClient()
	}
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	defer capture.Close()

	session := newBackendSession(conn, capture, totalSlides)
	if err := session.start(); err != nil {
		return err
	}
	defer session.close()

	program := tea.NewProgram(newModel(session, totalSlides), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run UI: %w", err)
	}
	return nil
}

// backendSession owns the websocket to slidekickd: it pushes captured audio
// up as binary frames and turns inbound frames into UI events.
type backendSession struct {
	conn    *websocket.Conn
	capture audioClient

	totalSlides int

	events chan uiEvent

	ctx    context.Context
	cancel context.CancelFunc
}

func newBackendSession(conn *websocket.Conn, capture audioClient, totalSlides int) *backendSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &backendSession{
		conn:        conn,
		capture:     capture,
		totalSlides: totalSlides,
		events:      make(chan uiEvent, 32),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *backendSession) start() error {
	if err := s.conn.WriteJSON(map[string]any{
		"type":          protocol.TypeSlideInfo,
		"total_slides":  s.totalSlides,
		"current_slide": 0,
	}); err != nil {
		return fmt.Errorf("failed to send deck info: %w", err)
	}

	// miniaudio returns as soon as the device is started; portaudio keeps
	// pumping until the context is cancelled. Both run off the caller.
	go func() {
		if err := s.capture.Stream(s.ctx, func(audioChunk []byte) {
			_ = s.conn.WriteMessage(websocket.BinaryMessage, audioChunk)
		}); err != nil {
			s.emit(uiEvent{kind: eventStatus, status: protocol.StatusError, message: "capture failed: " + err.Error()})
		}
	}()

	go s.readLoop()
	return nil
}

func (s *backendSession) readLoop() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.emit(uiEvent{kind: eventDisconnected, message: err.Error()})
			return
		}

		if msgType == websocket.BinaryMessage {
			// Synthesized speech from the assistant, played locally.
			_ = s.capture.SendAudio(data)
			continue
		}

		s.handleMessage(data)
	}
}

func (s *backendSession) handleMessage(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case protocol.TypeStatus:
		var msg protocol.Status
		if json.Unmarshal(data, &msg) == nil {
			s.emit(uiEvent{kind: eventStatus, status: msg.Status, message: msg.Message})
		}
	case protocol.TypeTranscript:
		var msg protocol.Transcript
		if json.Unmarshal(data, &msg) == nil {
			s.emit(uiEvent{kind: eventTranscript, message: msg.Text})
		}
	case protocol.TypeIntentDetected:
		var msg protocol.IntentDetected
		if json.Unmarshal(data, &msg) == nil {
			s.emit(uiEvent{kind: eventIntent, message: msg.Tool})
		}
	case protocol.TypeSlideCommand:
		var msg protocol.SlideCommand
		if json.Unmarshal(data, &msg) == nil {
			s.emit(uiEvent{
				kind:       eventSlideCommand,
				status:     msg.Status,
				message:    msg.Action,
				slideIndex: msg.SlideIndex,
			})
		}
	case protocol.TypeToolResult:
		var msg protocol.ToolResult
		if json.Unmarshal(data, &msg) == nil {
			summary, _ := msg.Data["summary"].(string)
			s.emit(uiEvent{kind: eventToolResult, status: msg.Status, message: msg.Tool, summary: summary})
		}
	}
}

// syncSlide reports a manual (keyboard) slide change to the backend.
func (s *backendSession) syncSlide(index int) {
	_ = s.conn.WriteJSON(map[string]any{
		"type":          protocol.TypeSlideSync,
		"current_slide": index,
	})
}

func (s *backendSession) emit(event uiEvent) {
	select {
	case s.events <- event:
	case <-s.ctx.Done():
	}
}

func (s *backendSession) close() {
	s.cancel()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = s.conn.Close()
}
