package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slidekick/slidekick-core/core/protocol"
	"github.com/slidekick/slidekick-core/core/transport"
	"github.com/slidekick/slidekick-core/core/understanding"
)

type fakeTransport struct {
	frames chan transport.Frame

	mu         sync.Mutex
	sentJSON   []any
	sentBinary [][]byte
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan transport.Frame, 16)}
}

func (f *fakeTransport) Receive(ctx context.Context) (transport.Frame, error) {
	select {
	case frame, ok := <-f.frames:
		if !ok {
			return transport.Frame{}, transport.ErrDisconnected
		}
		return frame, nil
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	}
}

func (f *fakeTransport) SendJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentJSON = append(f.sentJSON, v)
	return nil
}

func (f *fakeTransport) SendBinary(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentBinary = append(f.sentBinary, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) pushJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	f.frames <- transport.Frame{Data: data}
}

func (f *fakeTransport) pushBinary(data []byte) {
	f.frames <- transport.Frame{Binary: true, Data: data}
}

func (f *fakeTransport) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sentJSON...)
}

func (f *fakeTransport) binarySent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sentBinary...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeUnderstandingSession struct {
	mu      sync.Mutex
	audio   [][]byte
	results []understanding.ToolResult
	closed  bool
}

func (s *fakeUnderstandingSession) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, audio)
	return nil
}

func (s *fakeUnderstandingSession) SendToolResult(result understanding.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *fakeUnderstandingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeUnderstandingSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeUnderstandingSession) sentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audio...)
}

func (s *fakeUnderstandingSession) toolResults() []understanding.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]understanding.ToolResult(nil), s.results...)
}

type fakeUnderstandingClient struct {
	connectErr error
	session    *fakeUnderstandingSession

	mu      sync.Mutex
	options understanding.SessionOptions
}

func newFakeUnderstandingClient() *fakeUnderstandingClient {
	return &fakeUnderstandingClient{session: &fakeUnderstandingSession{}}
}

func (c *fakeUnderstandingClient) Connect(_ context.Context, opts ...understanding.SessionOption) (understanding.Session, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}

	var options understanding.SessionOptions
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	c.options = options
	c.mu.Unlock()
	return c.session, nil
}

func (c *fakeUnderstandingClient) callbacks() understanding.SessionOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options
}

type fakeSummarizer struct {
	mu       sync.Mutex
	requests []SummaryRequest
	summary  string
	err      error
}

func (s *fakeSummarizer) SummarizePresentation(_ context.Context, req SummaryRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.summary, s.err
}

func (s *fakeSummarizer) seen() []SummaryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SummaryRequest(nil), s.requests...)
}

func waitFor(t *testing.T, condition func() bool, message string) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if condition() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(message)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func statusMessages(sent []any) []protocol.Status {
	var statuses []protocol.Status
	for _, msg := range sent {
		if status, ok := msg.(protocol.Status); ok {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

func startOrchestrator(t *testing.T, opts ...OrchestratorOption) (*Orchestrator, chan error) {
	t.Helper()

	o := NewOrchestrator(opts...)
	errs := make(chan error, 1)
	go func() { errs <- o.Run(context.Background()) }()

	return o, errs
}

func TestOrchestratorNavigatesOnToolCall(t *testing.T) {
	client := newFakeTransport()
	upstream := newFakeUnderstandingClient()

	o, errs := startOrchestrator(t,
		WithClientTransport(client),
		WithUnderstandingClient(upstream),
	)

	waitFor(t, func() bool { return o.Phase() == PhaseStreaming },
		"expected the session to reach the streaming phase")

	client.pushJSON(t, map[string]any{"type": "slide_info", "total_slides": 5, "current_slide": 0})
	waitFor(t, func() bool { _, total := o.session.position(); return total == 5 },
		"expected the deck info to be applied")

	callbacks := upstream.callbacks()
	if len(callbacks.Tools) == 0 {
		t.Fatal("expected registered commands to be announced upstream")
	}
	callbacks.ToolCallCallback(understanding.ToolCall{
		CallID:    "call-1",
		Name:      "navigate_slide",
		Arguments: map[string]any{"direction": "next"},
	})

	waitFor(t, func() bool {
		for _, msg := range client.sent() {
			if _, ok := msg.(protocol.SlideCommand); ok {
				return true
			}
		}
		return false
	}, "expected a slide_command message")

	var sawIntent bool
	for _, msg := range client.sent() {
		switch typed := msg.(type) {
		case protocol.IntentDetected:
			if typed.Tool != "navigate_slide" {
				t.Fatalf("unexpected intent %q", typed.Tool)
			}
			sawIntent = true
		case protocol.SlideCommand:
			if !sawIntent {
				t.Fatal("expected intent_detected to precede slide_command")
			}
			if typed.Action != "next" || typed.SlideIndex != 1 || typed.Status != protocol.StatusSuccess {
				t.Fatalf("unexpected slide command: %+v", typed)
			}
		}
	}

	results := upstream.session.toolResults()
	if len(results) != 1 || results[0].CallID != "call-1" || results[0].Status != "success" {
		t.Fatalf("expected a successful tool result upstream, got %+v", results)
	}

	o.Close()
	if err := <-errs; err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
	if o.Phase() != PhaseClosed {
		t.Fatalf("expected the closed phase, got %q", o.Phase())
	}
	if !client.isClosed() {
		t.Fatal("expected the client transport to be closed")
	}
}

func TestOrchestratorForwardsAudioBothWays(t *testing.T) {
	client := newFakeTransport()
	upstream := newFakeUnderstandingClient()

	o, errs := startOrchestrator(t,
		WithClientTransport(client),
		WithUnderstandingClient(upstream),
	)
	waitFor(t, func() bool { return o.Phase() == PhaseStreaming },
		"expected the session to reach the streaming phase")

	client.pushBinary([]byte("mic chunk"))
	waitFor(t, func() bool { return len(upstream.session.sentAudio()) == 1 },
		"expected captured audio to reach the understanding session")
	if !bytes.Equal(upstream.session.sentAudio()[0], []byte("mic chunk")) {
		t.Fatalf("unexpected forwarded audio: %q", upstream.session.sentAudio()[0])
	}

	upstream.callbacks().AudioCallback([]byte("speech"))
	waitFor(t, func() bool { return len(client.binarySent()) == 1 },
		"expected synthesized audio to reach the client")

	o.Close()
	if err := <-errs; err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
}

func TestOrchestratorAppendsTranscripts(t *testing.T) {
	client := newFakeTransport()
	upstream := newFakeUnderstandingClient()

	o, errs := startOrchestrator(t,
		WithClientTransport(client),
		WithUnderstandingClient(upstream),
	)
	waitFor(t, func() bool { return o.Phase() == PhaseStreaming },
		"expected the session to reach the streaming phase")

	upstream.callbacks().TranscriptCallback("let's move on")

	waitFor(t, func() bool {
		for _, msg := range client.sent() {
			if transcript, ok := msg.(protocol.Transcript); ok {
				return transcript.Text == "let's move on"
			}
		}
		return false
	}, "expected the transcript to reach the client")

	snapshot := o.session.Snapshot()
	if len(snapshot.Transcript) != 1 || snapshot.Transcript[0] != "let's move on" {
		t.Fatalf("expected the transcript in session state, got %v", snapshot.Transcript)
	}

	o.Close()
	<-errs
}

func TestOrchestratorRunsSummaryInBackground(t *testing.T) {
	client := newFakeTransport()
	upstream := newFakeUnderstandingClient()
	summarizer := &fakeSummarizer{summary: "<ul><li>the recap</li></ul>"}

	o, errs := startOrchestrator(t,
		WithClientTransport(client),
		WithUnderstandingClient(upstream),
		WithSummarizer(summarizer),
		WithDeckContext("deck notes"),
	)
	waitFor(t, func() bool { return o.Phase() == PhaseStreaming },
		"expected the session to reach the streaming phase")

	client.pushJSON(t, map[string]any{"type": "slide_info", "total_slides": 5, "current_slide": 2})
	waitFor(t, func() bool { _, total := o.session.position(); return total == 5 },
		"expected the deck info to be applied")

	upstream.callbacks().ToolCallCallback(understanding.ToolCall{
		CallID: "call-7",
		Name:   "generate_summary",
	})

	var ack, completion *protocol.ToolResult
	waitFor(t, func() bool {
		ack, completion = nil, nil
		for _, msg := range client.sent() {
			if result, ok := msg.(protocol.ToolResult); ok {
				if result.Data["started"] == true {
					ack = &result
					continue
				}
				completion = &result
			}
		}
		return ack != nil && completion != nil
	}, "expected both the acknowledgment and the completion")

	if ack.Data["task_id"] == "" || ack.Data["task_id"] == nil {
		t.Fatalf("expected a task id in the acknowledgment, got %v", ack.Data)
	}
	if completion.Status != protocol.StatusSuccess {
		t.Fatalf("expected a successful completion, got %+v", completion)
	}
	if completion.Data["summary"] != summarizer.summary {
		t.Fatalf("unexpected summary payload: %v", completion.Data)
	}
	if completion.Data["task_id"] != ack.Data["task_id"] {
		t.Fatal("expected the completion to reference the acknowledged task")
	}

	requests := summarizer.seen()
	if len(requests) != 1 {
		t.Fatalf("expected one summary request, got %d", len(requests))
	}
	if requests[0].DeckContext != "deck notes" || requests[0].CurrentSlide != 2 || requests[0].TotalSlides != 5 {
		t.Fatalf("unexpected summary request: %+v", requests[0])
	}

	// The original call was acknowledged upstream once; the completion stays
	// between backend and client.
	results := upstream.session.toolResults()
	if len(results) != 1 || results[0].CallID != "call-7" {
		t.Fatalf("expected exactly one upstream tool result, got %+v", results)
	}

	o.Close()
	<-errs
}

func TestOrchestratorReportsUpstreamClosureOnce(t *testing.T) {
	client := newFakeTransport()
	upstream := newFakeUnderstandingClient()

	o, errs := startOrchestrator(t,
		WithClientTransport(client),
		WithUnderstandingClient(upstream),
	)
	waitFor(t, func() bool { return o.Phase() == PhaseStreaming },
		"expected the session to reach the streaming phase")

	upstream.callbacks().ClosedCallback(errors.New("service went away"))

	err := <-errs
	if !errors.Is(err, ErrUpstreamDisconnected) {
		t.Fatalf("expected ErrUpstreamDisconnected, got %v", err)
	}
	if o.Phase() != PhaseClosed {
		t.Fatalf("expected the closed phase, got %q", o.Phase())
	}

	var errorStatuses int
	for _, status := range statusMessages(client.sent()) {
		if status.Status == protocol.StatusError {
			errorStatuses++
		}
	}
	if errorStatuses != 1 {
		t.Fatalf("expected exactly one error status, got %d", errorStatuses)
	}
}

func TestOrchestratorReportsClientDisconnect(t *testing.T) {
	client := newFakeTransport()
	upstream := newFakeUnderstandingClient()

	o, errs := startOrchestrator(t,
		WithClientTransport(client),
		WithUnderstandingClient(upstream),
	)
	waitFor(t, func() bool { return o.Phase() == PhaseStreaming },
		"expected the session to reach the streaming phase")

	close(client.frames)

	err := <-errs
	if !errors.Is(err, ErrTransportDisconnected) {
		t.Fatalf("expected ErrTransportDisconnected, got %v", err)
	}
	if !upstream.session.isClosed() {
		t.Fatal("expected the understanding session to be closed")
	}
}

func TestOrchestratorFailsWhenHandshakeFails(t *testing.T) {
	client := newFakeTransport()
	upstream := newFakeUnderstandingClient()
	upstream.connectErr = errors.New("dial refused")

	o := NewOrchestrator(
		WithClientTransport(client),
		WithUnderstandingClient(upstream),
	)

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to fail when the handshake fails")
	}
	if o.Phase() != PhaseClosed {
		t.Fatalf("expected the closed phase, got %q", o.Phase())
	}
	if !client.isClosed() {
		t.Fatal("expected the client transport to be closed")
	}

	statuses := statusMessages(client.sent())
	if len(statuses) != 1 || statuses[0].Status != protocol.StatusError {
		t.Fatalf("expected one error status, got %+v", statuses)
	}
}

func TestOrchestratorIgnoresMalformedClientMessages(t *testing.T) {
	client := newFakeTransport()
	upstream := newFakeUnderstandingClient()

	o, errs := startOrchestrator(t,
		WithClientTransport(client),
		WithUnderstandingClient(upstream),
	)
	waitFor(t, func() bool { return o.Phase() == PhaseStreaming },
		"expected the session to reach the streaming phase")

	client.frames <- transport.Frame{Data: []byte("{not json")}
	client.pushJSON(t, map[string]any{"type": "slide_info", "total_slides": 3, "current_slide": 0})

	waitFor(t, func() bool { _, total := o.session.position(); return total == 3 },
		"expected the session to survive a malformed message")

	o.Close()
	if err := <-errs; err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
}
