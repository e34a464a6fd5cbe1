// Package tts speaks assistant replies: a remote high-quality voice provider
// when a credential is configured, otherwise local synthesis. Both paths
// share one start/end/error callback contract.
package tts

import (
	"context"
	"fmt"
	"strings"
)

// Rate and pitch are clamped to this range on every path.
const (
	minRate = 0.5
	maxRate = 2.0
)

// PlaybackError is a remote or local synthesis failure. The caller clears
// speaking state and returns the mic to listening; there is no retry.
type PlaybackError struct {
	Path string // "remote" or "local"
	Err  error
}

func (e *PlaybackError) Error() string { return fmt.Sprintf("%s playback: %v", e.Path, e.Err) }
func (e *PlaybackError) Unwrap() error { return e.Err }

// Options carries per-call playback parameters and lifecycle callbacks.
// OnEnd fires exactly once per Speak call, on completion and on error alike.
type Options struct {
	Rate     float64
	Language string
	OnStart  func()
	OnEnd    func()
	OnError  func(error)
}

func (o Options) start() {
	if o.OnStart != nil {
		o.OnStart()
	}
}

func (o Options) end() {
	if o.OnEnd != nil {
		o.OnEnd()
	}
}

func (o Options) fail(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

func clampRate(rate float64) float64 {
	if rate == 0 {
		return 1
	}
	if rate < minRate {
		return minRate
	}
	if rate > maxRate {
		return maxRate
	}
	return rate
}

// Synthesizer is one playback path.
type Synthesizer interface {
	Speak(ctx context.Context, text string, opts Options)
}

// Speaker selects the playback path per call: the remote provider exactly
// when configured, never a mid-call fallback to local.
type Speaker struct {
	remote Synthesizer // nil when no voice credential is configured
	local  *LocalSynthesizer
}

// NewSpeaker wires the playback front. remote may be nil.
func NewSpeaker(remote Synthesizer, local *LocalSynthesizer) *Speaker {
	return &Speaker{remote: remote, local: local}
}

// Speak voices text. Empty or whitespace-only text short-circuits straight
// to OnEnd; this is deliberate, not an error.
func (s *Speaker) Speak(ctx context.Context, text string, opts Options) {
	if strings.TrimSpace(text) == "" {
		opts.end()
		return
	}
	opts.Rate = clampRate(opts.Rate)
	if s.remote != nil {
		s.remote.Speak(ctx, text, opts)
		return
	}
	s.local.Speak(ctx, text, opts)
}

// StopSpeaking cancels local playback, best effort. Remote playback holds no
// cancellation handle; stale completions are filtered upstream by session
// generation.
func (s *Speaker) StopSpeaking() {
	if s.local != nil {
		s.local.Stop()
	}
}
