// Package gemini generates presentation summaries through the Gemini
// generateContent endpoint. The live audio stream is handled elsewhere; this
// client only does plain text-in, text-out calls.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	orchestration "github.com/slidekick/slidekick-core/core"
)

const (
	defaultModel    = "gemini-2.5-flash"
	defaultEndpoint = "https://generativelanguage.googleapis.com"
)

type Client struct {
	apiKey  string
	model   string
	baseURL string
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

	c := &Client{apiKey: apiKey, model: defaultModel, baseURL: defaultEndpoint}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SummarizeDeck condenses the raw deck content into the grounding context a
// session carries for the assistant.
func (c *Client) SummarizeDeck(ctx context.Context, deckContent string) (string, error) {
	prompt := "Here is the markdown content of a presentation slide deck.\n" +
		"Please analyze it and provide a concise technical summary of the key points covered in the slides.\n" +
		"This summary will be used as context for an AI assistant to answer questions and generate summaries during the live presentation.\n\n" +
		"Focus on:\n" +
		"1. Key topics and concepts.\n" +
		"2. Technical details and architecture.\n" +
		"3. Main takeaways.\n\n" +
		"Slides Content:\n" + deckContent

	return c.generate(ctx, prompt)
}

// SummarizePresentation builds the live recap a presenter asks for
// mid-session: HTML bullets grounded in the deck context and the transcript
// so far.
func (c *Client) SummarizePresentation(ctx context.Context, req orchestration.SummaryRequest) (string, error) {
	var prompt strings.Builder
	prompt.WriteString("You are a helpful presentation assistant. The user has asked for a summary of the presentation so far.\n\n")
	prompt.WriteString("CONTEXT:\n")
	prompt.WriteString("- Slide Content Summary: " + req.DeckContext + "\n")
	prompt.WriteString("- Live Transcript (what the speaker said): " + req.Transcript + "\n")
	if req.TotalSlides > 0 {
		fmt.Fprintf(&prompt, "- Current Position: slide %d of %d\n", req.CurrentSlide+1, req.TotalSlides)
	}
	if req.Focus != "" {
		prompt.WriteString("- Requested Focus: " + req.Focus + "\n")
	}
	prompt.WriteString("\nTASK:\n")
	prompt.WriteString("Generate a concise, bulleted summary of what has been discussed using HTML format.\n")
	prompt.WriteString("- Focus on the main points covered by the speaker.\n")
	prompt.WriteString("- Use the slide context to fill in details or clarify terms.\n")
	prompt.WriteString("- Format for a slide presentation:\n")
	prompt.WriteString("    - Use `<ul>` and `<li>` tags for the list.\n")
	prompt.WriteString("    - Use `<strong>` for key terms.\n")
	prompt.WriteString("    - Do NOT use Markdown (no asterisks).\n")
	prompt.WriteString("    - Do NOT wrap in ```html code blocks. Return raw HTML only.\n")

	summary, err := c.generate(ctx, prompt.String())
	if err != nil {
		return "", err
	}

	return stripCodeFences(summary), nil
}

// stripCodeFences removes markdown code fences the model sometimes adds
// despite being told not to.
func stripCodeFences(text string) string {
	text = strings.ReplaceAll(text, "```html", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	requestBodyBytes, err := json.Marshal(generateRequestBody{
		Contents: []requestContent{{Parts: []requestPart{{Text: prompt}}}},
	})
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model),
		bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	resp, err := client.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("error reading response body: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	var responseBody generateResponseBody
	if err := json.Unmarshal(respBodyBytes, &responseBody); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	if len(responseBody.Candidates) == 0 {
		err := fmt.Errorf("gemini returned no candidates")
		span.RecordError(err)
		return "", err
	}

	var text strings.Builder
	for _, responsePart := range responseBody.Candidates[0].Content.Parts {
		text.WriteString(responsePart.Text)
	}
	if text.Len() == 0 {
		err := fmt.Errorf("gemini returned an empty response")
		span.RecordError(err)
		return "", err
	}

	logger.Debug("generated text", "model", c.model, "length", text.Len())
	return text.String(), nil
}

type generateRequestBody struct {
	Contents []requestContent `json:"contents"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text string `json:"text"`
}

type generateResponseBody struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
}
