// Command slidekickd serves voice-controlled presentation sessions: it
// accepts presenter websocket connections, bridges them to the Gemini Live
// API and executes the slide commands the model calls.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	orchestration "github.com/slidekick/slidekick-core/core"
	"github.com/slidekick/slidekick-core/core/llms/gemini"
	"github.com/slidekick/slidekick-core/core/transport"
	understandinggemini "github.com/slidekick/slidekick-core/core/understanding/gemini"
)

func main() {
	var (
		addr         = flag.String("addr", ":8000", "listen address")
		model        = flag.String("model", "", "live understanding model (defaults to the provider's)")
		summaryModel = flag.String("summary-model", "", "model used for summaries (defaults to the provider's)")
		deckPath     = flag.String("deck", "", "path to the slide deck markdown, summarized at startup as session context")
		drainTimeout = flag.Duration("drain-timeout", 10*time.Second, "how long to wait for live sessions on shutdown")
	)
	flag.Parse()

	if err := run(*addr, *model, *summaryModel, *deckPath, *drainTimeout); err != nil {
		log.Fatalln(err)
	}
}

func run(addr, model, summaryModel, deckPath string, drainTimeout time.Duration) error {
	understandingClient, err := understandinggemini.NewClient(understandinggemini.WithModel(model))
	if err != nil {
		return fmt.Errorf("failed to create understanding client: %w", err)
	}

	summarizer, err := gemini.NewClient(gemini.WithModel(summaryModel))
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}

	deckContext := ""
	if deckPath != "" {
		deckContext, err = summarizeDeck(summarizer, deckPath)
		if err != nil {
			return err
		}
		log.Println("Deck context ready,", len(deckContext), "characters")
	}

	tracker := transport.NewTracker()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok, %d live sessions\n", tracker.Count())
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveSession(w, r, understandingClient, summarizer, deckContext, tracker)
	})

	server := &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(mux, "slidekickd"),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Println("Listening on", addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-shutdownCtx.Done():
	}

	log.Println("Shutting down,", tracker.Count(), "live sessions")
	tracker.NotifyAll("server is shutting down")
	tracker.CancelAll()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if !tracker.Wait(drainCtx) {
		log.Println("Draining timed out with", tracker.Count(), "sessions still live")
	}

	if err := server.Shutdown(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func summarizeDeck(summarizer *gemini.Client, deckPath string) (string, error) {
	content, err := os.ReadFile(deckPath)
	if err != nil {
		return "", fmt.Errorf("failed to read deck: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Println("Summarizing deck", deckPath)
	deckContext, err := summarizer.SummarizeDeck(ctx, string(content))
	if err != nil {
		return "", fmt.Errorf("failed to summarize deck: %w", err)
	}
	return deckContext, nil
}

func serveSession(
	w http.ResponseWriter,
	r *http.Request,
	understandingClient *understandinggemini.Client,
	summarizer *gemini.Client,
	deckContext string,
	tracker *transport.Tracker,
) {
	clientTransport, err := transport.Upgrade(w, r)
	if err != nil {
		log.Println("Failed to upgrade connection:", err)
		return
	}

	orchestrator := orchestration.NewOrchestrator(
		orchestration.WithClientTransport(clientTransport),
		orchestration.WithUnderstandingClient(understandingClient),
		orchestration.WithSummarizer(summarizer),
		orchestration.WithDeckContext(deckContext),
	)

	unregister := tracker.Register(orchestrator.SessionID(), transport.Handle{
		Cancel: orchestrator.Close,
		Notify: orchestrator.Notify,
	})
	defer unregister()

	log.Println("Session started:", orchestrator.SessionID())
	if err := orchestrator.Run(r.Context()); err != nil {
		log.Println("Session ended with error:", orchestrator.SessionID(), err)
		return
	}
	log.Println("Session ended:", orchestrator.SessionID())
}
