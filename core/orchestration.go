// Package orchestration runs one voice-controlled presentation session: it
// buffers microphone audio from the client transport, streams it to the
// understanding service, and turns the service's transcripts, audio and
// tool calls into session-state mutations and client messages.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/slidekick/slidekick-core/core/commands"
	"github.com/slidekick/slidekick-core/core/protocol"
	"github.com/slidekick/slidekick-core/core/understanding"
)

// SessionPhase tracks the orchestrator's lifecycle.
type SessionPhase string

const (
	PhaseConnecting SessionPhase = "connecting"
	PhaseStreaming  SessionPhase = "streaming"
	PhaseClosing    SessionPhase = "closing"
	PhaseClosed     SessionPhase = "closed"
)

const defaultHandshakeTimeout = 10 * time.Second

type upstreamEventKind int

const (
	upstreamTranscript upstreamEventKind = iota
	upstreamToolCall
	upstreamAudio
	upstreamClosed
)

// upstreamEvent is one event from the understanding session's read loop,
// funneled into the single loop that owns session state so dispatch happens
// in arrival order.
type upstreamEvent struct {
	kind       upstreamEventKind
	transcript string
	toolCall   understanding.ToolCall
	audio      []byte
	err        error
}

// Orchestrator is the per-connection state machine. Construct one with
// NewOrchestrator, call Run once, and Close to stop it early.
type Orchestrator struct {
	transport     ClientTransport
	understanding understanding.Client
	summarizer    Summarizer

	deckContext      string
	handshakeTimeout time.Duration
	maxBufferedAudio time.Duration

	session  *sessionState
	channel  *boundedAudioChannel
	registry *commands.Registry
	runner   *backgroundRunner
	upstream understanding.Session

	upstreamEvents chan upstreamEvent

	phaseMu sync.Mutex
	phase   SessionPhase

	cancelMu  sync.Mutex
	cancelRun context.CancelFunc
	closeOnce sync.Once

	reportOnce sync.Once
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		handshakeTimeout: defaultHandshakeTimeout,
		maxBufferedAudio: defaultMaxBufferedAudio,
		phase:            PhaseConnecting,
		upstreamEvents:   make(chan upstreamEvent, 32),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.session = newSessionState(o.deckContext)
	o.channel = newBoundedAudioChannel(o.maxBufferedAudio)
	o.runner = newBackgroundRunner()
	o.registry = commands.NewRegistry()

	return o
}

// SessionID identifies this session for tracking and logs.
func (o *Orchestrator) SessionID() string {
	if o == nil || o.session == nil {
		return ""
	}
	return o.session.ID()
}

func (o *Orchestrator) Phase() SessionPhase {
	o.phaseMu.Lock()
	defer o.phaseMu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(phase SessionPhase) {
	o.phaseMu.Lock()
	o.phase = phase
	o.phaseMu.Unlock()
}

// DroppedAudioChunks reports how many inbound audio chunks were discarded
// under overload. Drops are silent toward the client by design.
func (o *Orchestrator) DroppedAudioChunks() uint64 {
	if o == nil || o.channel == nil {
		return 0
	}
	return o.channel.Dropped()
}

// Notify pushes a status message to the client outside the normal event
// flow, e.g. a shutdown warning from the accept loop.
func (o *Orchestrator) Notify(message string) error {
	if o == nil || o.transport == nil {
		return nil
	}
	return o.transport.SendJSON(protocol.NewStatus(protocol.StatusSuccess, message))
}

// Close stops the session. Safe to call from any goroutine, more than once.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancelMu.Lock()
		cancel := o.cancelRun
		o.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Run drives the session until the client disconnects, the upstream stream
// fails, or ctx is cancelled. It must be called at most once.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "run session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", o.SessionID()))

	if o.transport == nil {
		return fmt.Errorf("no client transport configured")
	}
	if o.understanding == nil {
		return fmt.Errorf("no understanding client configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelMu.Lock()
	o.cancelRun = cancel
	o.cancelMu.Unlock()
	defer cancel()

	if err := o.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	if err := o.connectUpstream(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.reportFatal(err)
		o.setPhase(PhaseClosed)
		_ = o.transport.Close()
		return err
	}

	o.setPhase(PhaseStreaming)
	_ = o.transport.SendJSON(protocol.NewStatus(protocol.StatusSuccess, "session ready"))

	workers := []workerRun{
		panicSafeNamedWorker("client", o.clientLoop),
		panicSafeNamedWorker("audio-forwarding", o.forwardLoop),
		panicSafeNamedWorker("upstream-event", o.upstreamLoop),
	}

	errs := make(chan error, len(workers))
	var wg sync.WaitGroup
	for _, run := range workers {
		wg.Add(1)
		go func(run workerRun) {
			defer wg.Done()
			errs <- run(ctx)
		}(run)
	}

	// The first worker to fail decides the session's fate; the rest observe
	// the cancellation within one suspend cycle.
	runErr := <-errs
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		o.reportFatal(runErr)
	}

	o.setPhase(PhaseClosing)
	cancel()
	o.teardown()
	wg.Wait()
	o.setPhase(PhaseClosed)

	logger.Info("session closed",
		"session_id", o.SessionID(),
		"dropped_audio_chunks", o.DroppedAudioChunks())

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func (o *Orchestrator) registerCommands() error {
	navigation, err := navigationCommands(o.session)
	if err != nil {
		return err
	}
	for _, cmd := range navigation {
		if err := o.registry.Register(cmd); err != nil {
			return err
		}
	}

	if o.summarizer != nil {
		summary, err := summaryCommand(o.session, o.summarizer)
		if err != nil {
			return err
		}
		if err := o.registry.Register(summary); err != nil {
			return err
		}
	}

	return nil
}

// connectUpstream opens the understanding session, announcing the registered
// commands as callable tools. It fails fast if the handshake does not
// complete within the configured timeout.
func (o *Orchestrator) connectUpstream(ctx context.Context) error {
	var tools []understanding.ToolDeclaration
	if err := copier.Copy(&tools, o.registry.Declarations()); err != nil {
		return fmt.Errorf("failed to convert command declarations: %w", err)
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, o.handshakeTimeout)
	defer cancel()

	upstream, err := o.understanding.Connect(handshakeCtx,
		understanding.WithTools(tools...),
		understanding.WithSystemInstruction(presenterInstruction),
		understanding.WithTranscriptCallback(func(text string) {
			o.enqueue(ctx, upstreamEvent{kind: upstreamTranscript, transcript: text})
		}),
		understanding.WithToolCallCallback(func(call understanding.ToolCall) {
			o.enqueue(ctx, upstreamEvent{kind: upstreamToolCall, toolCall: call})
		}),
		understanding.WithAudioCallback(func(audio []byte) {
			o.enqueue(ctx, upstreamEvent{kind: upstreamAudio, audio: audio})
		}),
		understanding.WithClosedCallback(func(err error) {
			o.enqueue(ctx, upstreamEvent{kind: upstreamClosed, err: err})
		}),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: no handshake within %s", ErrHandshakeTimeout, o.handshakeTimeout)
		}
		return fmt.Errorf("failed to connect to understanding service: %w", err)
	}

	o.upstream = upstream
	return nil
}

// enqueue hands an upstream callback's event to the event loop, preserving
// arrival order. It gives up when the session is shutting down.
func (o *Orchestrator) enqueue(ctx context.Context, event upstreamEvent) {
	select {
	case o.upstreamEvents <- event:
	case <-ctx.Done():
	}
}

// clientLoop reads transport frames: binary frames buffer audio, text frames
// mutate session state directly.
func (o *Orchestrator) clientLoop(ctx context.Context) error {
	for {
		frame, err := o.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", ErrTransportDisconnected, err)
		}

		if frame.Binary {
			o.channel.Push(frame.Data)
			continue
		}

		msg, err := protocol.DecodeClientMessage(frame.Data)
		if err != nil {
			logger.Warn("ignoring malformed client message", "session_id", o.SessionID(), "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeSlideInfo:
			o.session.setDeckInfo(msg.TotalSlides, msg.CurrentSlide)
		case protocol.TypeSlideSync:
			o.session.syncPosition(msg.CurrentSlide)
		default:
			logger.Warn("ignoring unsupported client message", "session_id", o.SessionID(), "type", msg.Type)
		}
	}
}

// forwardLoop drains the audio channel into the upstream session.
func (o *Orchestrator) forwardLoop(ctx context.Context) error {
	for {
		chunk, err := o.channel.WaitPop(ctx)
		if err != nil {
			if errors.Is(err, errAudioChannelClosed) {
				return nil
			}
			return err
		}

		if err := o.upstream.SendAudio(chunk.Data); err != nil {
			return fmt.Errorf("%w: %s", ErrUpstreamDisconnected, err)
		}
	}
}

// upstreamLoop is the serialization point for everything that touches
// session state from the service side: transcripts, tool-call dispatch and
// background completions all pass through here, one at a time, in arrival
// order.
func (o *Orchestrator) upstreamLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event := <-o.upstreamEvents:
			switch event.kind {
			case upstreamTranscript:
				o.session.appendTranscript(event.transcript)
				_ = o.transport.SendJSON(protocol.NewTranscript(event.transcript))

			case upstreamAudio:
				_ = o.transport.SendBinary(event.audio)

			case upstreamToolCall:
				if err := o.handleToolCall(ctx, event.toolCall); err != nil {
					return err
				}

			case upstreamClosed:
				if event.err != nil {
					return fmt.Errorf("%w: %s", ErrUpstreamDisconnected, event.err)
				}
				return ErrUpstreamDisconnected
			}

		case completion := <-o.runner.Completions():
			o.deliverCompletion(completion)
		}
	}
}

// handleToolCall dispatches one tool call and confirms the outcome to both
// sides before the next upstream event is processed, so the client never
// sees results out of the order the commands were issued.
func (o *Orchestrator) handleToolCall(ctx context.Context, call understanding.ToolCall) error {
	_ = o.transport.SendJSON(protocol.NewIntentDetected(call.Name, call.Arguments))

	result := o.registry.Dispatch(ctx, commands.ToolCall{
		CallID:    call.CallID,
		Name:      call.Name,
		Arguments: call.Arguments,
	}, func(name string, run func(context.Context) (map[string]any, error)) (string, error) {
		return o.runner.spawn(ctx, name, run)
	})

	_ = o.transport.SendJSON(o.clientResult(call, result))

	if err := o.upstream.SendToolResult(understanding.ToolResult{
		CallID:  result.CallID,
		Name:    result.Name,
		Status:  string(result.Status),
		Payload: resultPayload(result),
	}); err != nil {
		return fmt.Errorf("%w: %s", ErrUpstreamDisconnected, err)
	}

	return nil
}

// clientResult shapes a dispatch result into the message the client renders:
// navigation outcomes become slide_command, everything else tool_result.
func (o *Orchestrator) clientResult(call understanding.ToolCall, result commands.Result) any {
	if call.Name == "navigate_slide" {
		currentIndex, _ := o.session.position()
		status := protocol.StatusSuccess
		if result.Status != commands.StatusSuccess {
			status = protocol.StatusError
		}
		return protocol.NewSlideCommand(callDirection(call), currentIndex, status)
	}

	if result.Status != commands.StatusSuccess {
		return protocol.NewToolResult(result.Name, protocol.StatusError, map[string]any{
			"kind":    string(result.Kind),
			"message": result.Message,
		})
	}
	return protocol.NewToolResult(result.Name, protocol.StatusSuccess, result.Payload)
}

func callDirection(call understanding.ToolCall) string {
	if direction, ok := call.Arguments["direction"].(string); ok && direction != "" {
		return direction
	}
	return "navigate"
}

func resultPayload(result commands.Result) map[string]any {
	if result.Status == commands.StatusSuccess {
		return result.Payload
	}
	return map[string]any{
		"error":   string(result.Kind),
		"message": result.Message,
	}
}

// deliverCompletion forwards a background task's terminal event to the
// client. The original call was acknowledged at dispatch time; upstream is
// not re-answered.
func (o *Orchestrator) deliverCompletion(completion taskCompletion) {
	if completion.err != nil {
		_ = o.transport.SendJSON(protocol.NewToolResult(completion.command, protocol.StatusError, map[string]any{
			"task_id": completion.taskID,
			"error":   string(commands.ErrorKindHandlerFailure),
			"message": completion.err.Error(),
		}))
		return
	}

	data := map[string]any{"task_id": completion.taskID}
	for key, value := range completion.payload {
		data[key] = value
	}
	_ = o.transport.SendJSON(protocol.NewToolResult(completion.command, protocol.StatusSuccess, data))
}

// reportFatal tells the client why the session is ending. Connection-level
// failures are reported exactly once.
func (o *Orchestrator) reportFatal(err error) {
	o.reportOnce.Do(func() {
		_ = o.transport.SendJSON(protocol.NewStatus(protocol.StatusError, err.Error()))
	})
}

func (o *Orchestrator) teardown() {
	o.channel.Close()
	o.runner.Close()

	if o.upstream != nil {
		if err := o.upstream.Close(); err != nil {
			logger.Warn("failed to close understanding session", "session_id", o.SessionID(), "error", err)
		}
	}

	if err := o.transport.Close(); err != nil {
		logger.Warn("failed to close client transport", "session_id", o.SessionID(), "error", err)
	}
}

const presenterInstruction = `You are a voice assistant for a live slide presentation. ` +
	`Listen to the presenter and call the provided tools to control the deck when asked. ` +
	`Use navigate_slide for movement, get_presentation_context to check the position, ` +
	`and generate_summary when the presenter asks for a recap. Keep spoken replies short.`
