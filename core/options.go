package orchestration

import (
	"context"
	"time"

	"github.com/slidekick/slidekick-core/core/transport"
	"github.com/slidekick/slidekick-core/core/understanding"
)

type OrchestratorOption func(*Orchestrator)

// ClientTransport is the duplex message stream to the presenter client.
// SendJSON and SendBinary must be safe for concurrent use.
type ClientTransport interface {
	Receive(ctx context.Context) (transport.Frame, error)
	SendJSON(v any) error
	SendBinary(data []byte) error
	Close() error
}

func WithClientTransport(client ClientTransport) OrchestratorOption {
	return func(o *Orchestrator) { o.transport = client }
}

// WithUnderstandingClient sets the client used to open the upstream
// speech-understanding session.
func WithUnderstandingClient(client understanding.Client) OrchestratorOption {
	return func(o *Orchestrator) { o.understanding = client }
}

// SummaryRequest carries the session snapshot a summary is built from.
type SummaryRequest struct {
	DeckContext  string
	Transcript   string
	CurrentSlide int
	TotalSlides  int
	Focus        string
}

type Summarizer interface {
	SummarizePresentation(ctx context.Context, req SummaryRequest) (string, error)
}

// WithSummarizer enables the generate_summary command. Without one the
// command is not registered or announced upstream.
func WithSummarizer(summarizer Summarizer) OrchestratorOption {
	return func(o *Orchestrator) { o.summarizer = summarizer }
}

// WithDeckContext seeds the session with presentation content used as
// grounding for summaries.
func WithDeckContext(deckContext string) OrchestratorOption {
	return func(o *Orchestrator) { o.deckContext = deckContext }
}

func WithHandshakeTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.handshakeTimeout = timeout
		}
	}
}

// WithMaxBufferedAudio bounds how much captured audio may sit between the
// transport and the upstream forwarding loop before the oldest chunks are
// dropped.
func WithMaxBufferedAudio(maxBuffered time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if maxBuffered > 0 {
			o.maxBufferedAudio = maxBuffered
		}
	}
}
