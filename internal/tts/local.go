package tts

import (
	"context"
	"fmt"
	"strings"
)

// Voice describes one on-device synthesis voice.
type Voice struct {
	Name    string
	Lang    string
	Offline bool
	Default bool
}

// Engine abstracts the platform synthesis backend so the selection and
// callback logic can be tested without a device.
type Engine interface {
	Voices() []Voice
	Speak(ctx context.Context, text string, v Voice, rate, pitch float64) error
	Cancel()
}

// LocalSynthesizer is the offline playback path.
type LocalSynthesizer struct {
	engine Engine
	pitch  float64
}

// NewLocalSynthesizer wraps a platform engine. A nil engine means the
// platform offers no synthesis; Speak will report an error.
func NewLocalSynthesizer(engine Engine) *LocalSynthesizer {
	return &LocalSynthesizer{engine: engine, pitch: 1}
}

// pickVoice prefers an offline voice matching the language, then any voice
// matching the language, then the platform default.
func pickVoice(voices []Voice, lang string) (Voice, bool) {
	for _, v := range voices {
		if v.Offline && strings.HasPrefix(v.Lang, lang) {
			return v, true
		}
	}
	for _, v := range voices {
		if strings.HasPrefix(v.Lang, lang) {
			return v, true
		}
	}
	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}
	return Voice{}, false
}

func clampPitch(pitch float64) float64 {
	if pitch == 0 {
		return 1
	}
	if pitch < minRate {
		return minRate
	}
	if pitch > maxRate {
		return maxRate
	}
	return pitch
}

// Speak voices text with the best available on-device voice.
func (l *LocalSynthesizer) Speak(ctx context.Context, text string, opts Options) {
	if l.engine == nil {
		opts.fail(&PlaybackError{Path: "local", Err: fmt.Errorf("speech synthesis not supported")})
		opts.end()
		return
	}
	voice, ok := pickVoice(l.engine.Voices(), opts.Language)
	if !ok {
		opts.fail(&PlaybackError{Path: "local", Err: fmt.Errorf("no synthesis voice available")})
		opts.end()
		return
	}
	opts.start()
	if err := l.engine.Speak(ctx, text, voice, clampRate(opts.Rate), clampPitch(l.pitch)); err != nil {
		opts.fail(&PlaybackError{Path: "local", Err: err})
	}
	opts.end()
}

// Stop cancels any current local speech, best effort.
func (l *LocalSynthesizer) Stop() {
	if l.engine != nil {
		l.engine.Cancel()
	}
}
