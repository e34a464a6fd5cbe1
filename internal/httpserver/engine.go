package httpserver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cyoungie/VOCA/internal/tts"
)

// wordsPerSecond approximates a comfortable speaking pace at rate 1.0.
const wordsPerSecond = 2.5

// timedEngine is the headless fallback speech engine: it produces no audio
// but holds the speaking state for as long as a real voice would take, so the
// conversation loop paces identically with or without a synthesis backend.
type timedEngine struct {
	voice tts.Voice

	mu     sync.Mutex
	cancel chan struct{}
}

func newTimedEngine(language string) *timedEngine {
	return &timedEngine{
		voice:  tts.Voice{Name: "silent", Lang: language, Offline: true, Default: true},
		cancel: make(chan struct{}),
	}
}

func (t *timedEngine) Voices() []tts.Voice {
	return []tts.Voice{t.voice}
}

func (t *timedEngine) Speak(ctx context.Context, text string, v tts.Voice, rate, pitch float64) error {
	words := len(strings.Fields(text))
	if words == 0 {
		return nil
	}
	d := time.Duration(float64(words) / (wordsPerSecond * rate) * float64(time.Second))

	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-cancel:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *timedEngine) Cancel() {
	t.mu.Lock()
	close(t.cancel)
	t.cancel = make(chan struct{})
	t.mu.Unlock()
}
