package orchestration

import (
	"context"
	"fmt"
	"strings"

	"github.com/slidekick/slidekick-core/core/commands"
)

type generateSummaryArgs struct {
	Focus string `json:"focus,omitempty" jsonschema:"description=Optional topic to focus the summary on"`
}

// summaryCommand synthesizes a summary from the deck context and everything
// said so far. Summaries take a model round trip, so the command runs on the
// background runner; the live loop only sends the acknowledgment.
func summaryCommand(session *sessionState, summarizer Summarizer) (commands.Command, error) {
	return commands.NewBackground("generate_summary",
		"Summarize the presentation so far. Optionally focus on a specific topic.",
		func(ctx context.Context, args generateSummaryArgs) (map[string]any, error) {
			snapshot := session.Snapshot()

			summary, err := summarizer.SummarizePresentation(ctx, SummaryRequest{
				DeckContext:  snapshot.DeckContext,
				Transcript:   strings.Join(snapshot.Transcript, "\n"),
				CurrentSlide: snapshot.CurrentIndex,
				TotalSlides:  snapshot.TotalUnits,
				Focus:        args.Focus,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to generate summary: %w", err)
			}

			return map[string]any{
				"action":  "summary",
				"summary": summary,
			}, nil
		})
}
