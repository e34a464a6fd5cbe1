package agent

import (
	"context"

	"github.com/cyoungie/VOCA/internal/llm"
	"github.com/cyoungie/VOCA/internal/tts"
)

// ReplyGenerator produces one structured reply per user utterance.
type ReplyGenerator interface {
	Generate(ctx context.Context, req llm.Request) (llm.Reply, error)
}

// SpeechPlayer voices a reply and drives the start/end/error callbacks.
type SpeechPlayer interface {
	Speak(ctx context.Context, text string, opts tts.Options)
	StopSpeaking()
}
