// Package transcript turns a continuous speech-recognition session into a
// stream of interim and final text chunks with classified errors and
// transparent auto-restart.
package transcript

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// ErrUnsupported is returned by Start when no recognition backend is
// available on this deployment.
var ErrUnsupported = errors.New("speech recognition not supported")

// EventType discriminates recognition events from a backend session.
type EventType int

const (
	// EventInterim carries a non-final guess; it must not be committed.
	EventInterim EventType = iota
	// EventFinal carries a committed chunk of recognized speech.
	EventFinal
	// EventError carries a platform error code.
	EventError
)

// Event is one recognition event emitted by a Recognizer session.
type Event struct {
	Type EventType
	Text string
	// Code is the platform error code for EventError, e.g. "not-allowed",
	// "no-speech", "network", "aborted".
	Code string
	Err  error
}

// Recognizer is a single-session recognition backend. Start opens a session
// and returns its event channel; the channel closes when the session ends
// for any reason. Stop ends the session and guarantees the channel closes.
type Recognizer interface {
	Start(languageTag string) (<-chan Event, error)
	Stop()
}

// ErrorKind classifies platform errors for the caller.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission-denied"
	KindNoSpeech         ErrorKind = "no-speech"
	KindNetwork          ErrorKind = "network"
	KindAborted          ErrorKind = "aborted"
	KindOther            ErrorKind = "other"
)

// Terminal reports whether an error kind ends the listening session. Benign
// kinds are swallowed and listening continues.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindNoSpeech, KindAborted:
		return false
	default:
		return true
	}
}

// ClassifyCode maps a platform error code to an ErrorKind.
func ClassifyCode(code string) ErrorKind {
	switch code {
	case "not-allowed", "service-not-allowed":
		return KindPermissionDenied
	case "no-speech":
		return KindNoSpeech
	case "network":
		return KindNetwork
	case "aborted":
		return KindAborted
	default:
		return KindOther
	}
}

// State is the capture lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateRestarting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateRestarting:
		return "restarting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Events are the capture callbacks. Handlers run on the capture goroutine
// and must not call back into Start or Stop.
type Events struct {
	OnInterim func(text string)
	OnFinal   func(text string)
	OnError   func(kind ErrorKind, err error)
}

// Capture wraps a Recognizer with the listening state machine: accumulation
// of final text, error classification, and silent restart when the backend
// session ends while the caller still wants to listen.
type Capture struct {
	rec Recognizer
	ev  Events

	mu     sync.Mutex
	state  State
	wanted bool
	lang   string
	acc    strings.Builder
	done   chan struct{}
}

// NewCapture builds a capture engine over the given backend. A nil backend
// means the platform offers no recognition capability; Start will fail fast.
func NewCapture(rec Recognizer, ev Events) *Capture {
	return &Capture{rec: rec, ev: ev, state: StateStopped}
}

// State returns the current lifecycle state.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listening reports whether a session is active or being restarted.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wanted
}

// Accumulated returns the concatenation of all final chunks since Start.
func (c *Capture) Accumulated() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(c.acc.String())
}

// Start begins a listening session. Calling Start while already listening is
// a no-op. Accumulated text is reset on every fresh start.
func (c *Capture) Start(languageTag string) error {
	c.mu.Lock()
	if c.rec == nil {
		c.mu.Unlock()
		return ErrUnsupported
	}
	if c.wanted {
		c.mu.Unlock()
		return nil
	}
	c.lang = languageTag
	c.acc.Reset()
	c.wanted = true
	c.state = StateStarting
	c.mu.Unlock()

	ch, err := c.rec.Start(languageTag)
	if err != nil {
		c.mu.Lock()
		c.wanted = false
		c.state = StateFailed
		c.mu.Unlock()
		return fmt.Errorf("start recognition: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.state = StateListening
	c.done = done
	c.mu.Unlock()
	go c.pump(ch, done)
	return nil
}

// Stop ends the session deterministically: after it returns no further
// events fire. Idempotent.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.wanted && c.done == nil {
		c.mu.Unlock()
		return
	}
	c.wanted = false
	done := c.done
	c.done = nil
	c.mu.Unlock()

	if c.rec != nil {
		c.rec.Stop()
	}
	if done != nil {
		<-done
	}
	c.mu.Lock()
	if c.state != StateFailed {
		c.state = StateStopped
	}
	c.mu.Unlock()
}

// pump consumes backend events until the session ends for good.
func (c *Capture) pump(ch <-chan Event, done chan struct{}) {
	defer close(done)
	for {
		ev, ok := <-ch
		if !ok {
			next, again := c.onSessionEnd()
			if !again {
				return
			}
			ch = next
			continue
		}
		if !c.deliver(ev) {
			// terminal error already surfaced; drain until close
			for range ch {
			}
			return
		}
	}
}

// onSessionEnd handles a closed backend channel: silently restart when the
// caller still wants to listen, otherwise finish.
func (c *Capture) onSessionEnd() (<-chan Event, bool) {
	c.mu.Lock()
	if !c.wanted {
		if c.state != StateFailed {
			c.state = StateStopped
		}
		c.mu.Unlock()
		return nil, false
	}
	c.state = StateRestarting
	lang := c.lang
	c.mu.Unlock()

	ch, err := c.rec.Start(lang)
	if err != nil {
		// one failure report, no restart loop
		c.mu.Lock()
		c.wanted = false
		c.state = StateFailed
		c.mu.Unlock()
		if c.ev.OnError != nil {
			c.ev.OnError(KindOther, fmt.Errorf("restart recognition: %w", err))
		}
		return nil, false
	}
	c.mu.Lock()
	c.state = StateListening
	c.mu.Unlock()
	return ch, true
}

// deliver dispatches one event. It returns false when a terminal error ended
// the session.
func (c *Capture) deliver(ev Event) bool {
	c.mu.Lock()
	wanted := c.wanted
	c.mu.Unlock()
	if !wanted {
		return true
	}

	switch ev.Type {
	case EventInterim:
		if c.ev.OnInterim != nil && ev.Text != "" {
			c.ev.OnInterim(ev.Text)
		}
	case EventFinal:
		if ev.Text == "" {
			break
		}
		c.mu.Lock()
		if c.acc.Len() > 0 {
			c.acc.WriteString(" ")
		}
		c.acc.WriteString(strings.TrimSpace(ev.Text))
		c.mu.Unlock()
		if c.ev.OnFinal != nil {
			c.ev.OnFinal(ev.Text)
		}
	case EventError:
		kind := ClassifyCode(ev.Code)
		if !kind.Terminal() {
			log.Printf("transcript: benign recognition error %q ignored", ev.Code)
			return true
		}
		c.mu.Lock()
		c.wanted = false
		c.state = StateFailed
		c.mu.Unlock()
		c.rec.Stop()
		if c.ev.OnError != nil {
			err := ev.Err
			if err == nil {
				err = fmt.Errorf("recognition error: %s", ev.Code)
			}
			c.ev.OnError(kind, err)
		}
		return false
	}
	return true
}
