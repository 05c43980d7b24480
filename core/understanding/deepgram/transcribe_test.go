package deepgram

import (
	"fmt"
	"testing"

	"github.com/slidekick/slidekick-core/core/understanding"
)

func transcriptCapturingSession() (*transcriptionSession, *[]string) {
	var transcripts []string
	session := &transcriptionSession{
		options: understanding.SessionOptions{
			TranscriptCallback: func(text string) { transcripts = append(transcripts, text) },
		},
		closed: make(chan struct{}),
	}
	return session, &transcripts
}

func resultsMessage(transcript string, isFinal, speechFinal bool) []byte {
	return fmt.Appendf(nil, `{
		"type": "Results",
		"is_final": %t,
		"speech_final": %t,
		"channel": {"alternatives": [{"transcript": %q}]}
	}`, isFinal, speechFinal, transcript)
}

func TestProcessMessageAccumulatesUntilSpeechFinal(t *testing.T) {
	session, transcripts := transcriptCapturingSession()

	session.processMessage(resultsMessage("next", true, false))
	session.processMessage(resultsMessage("slide please", true, false))
	if len(*transcripts) != 0 {
		t.Fatalf("expected no flush before speech_final, got %v", *transcripts)
	}

	session.processMessage(resultsMessage("", true, true))
	if len(*transcripts) != 1 || (*transcripts)[0] != "next slide please" {
		t.Fatalf("expected the accumulated utterance, got %v", *transcripts)
	}
}

func TestProcessMessageIgnoresInterimResults(t *testing.T) {
	session, transcripts := transcriptCapturingSession()

	session.processMessage(resultsMessage("nex", false, false))
	session.processMessage(resultsMessage("next sli", false, false))
	session.processMessage(resultsMessage("", true, true))

	if len(*transcripts) != 0 {
		t.Fatalf("expected interim results to be dropped, got %v", *transcripts)
	}
}

func TestProcessMessageFlushesOnUtteranceEnd(t *testing.T) {
	session, transcripts := transcriptCapturingSession()

	session.processMessage(resultsMessage("summarize this", true, false))
	session.processMessage([]byte(`{"type": "UtteranceEnd"}`))

	if len(*transcripts) != 1 || (*transcripts)[0] != "summarize this" {
		t.Fatalf("expected a flush on utterance end, got %v", *transcripts)
	}

	// A second utterance end with nothing buffered must stay silent.
	session.processMessage([]byte(`{"type": "UtteranceEnd"}`))
	if len(*transcripts) != 1 {
		t.Fatalf("expected no empty flush, got %v", *transcripts)
	}
}

func TestProcessMessageIgnoresUnknownTypes(t *testing.T) {
	session, transcripts := transcriptCapturingSession()

	session.processMessage([]byte(`{"type": "Metadata"}`))
	session.processMessage([]byte(`{not json`))

	if len(*transcripts) != 0 {
		t.Fatalf("expected unrelated messages to be ignored, got %v", *transcripts)
	}
}
