package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cyoungie/VOCA/internal/session"
	"github.com/cyoungie/VOCA/internal/transcript"
)

// streamMessage is the client-to-server frame on the conversation stream.
// Types: "start", "stop", "interim", "final", "end", "error", "dismissBanner".
type streamMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Code is the platform recognition error code for type "error".
	Code string `json:"code,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

const snapshotInterval = 250 * time.Millisecond

// stream upgrades to WebSocket. By default the client performs speech
// recognition at its edge and forwards the raw events; with an AssemblyAI key
// the client sends raw audio frames and recognition runs server-side. Either
// way the capture state machine runs here and the server pushes state
// snapshots whenever they change.
func (h Handlers) stream(c echo.Context) error {
	snap := h.Store.Snapshot()
	if snap.SessionID == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active session"})
	}

	raw, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return nil
	}
	defer func() { _ = raw.Close() }()

	conn := &wsConn{conn: raw}
	if h.Broadcaster != nil {
		h.Broadcaster.attach(conn)
		defer h.Broadcaster.detach(conn)
	}

	var rec transcript.Recognizer
	var local *streamRecognizer
	var remote *transcript.StreamingRecognizer
	if h.AssemblyAIKey != "" {
		remote = transcript.NewStreamingRecognizer(h.AssemblyAIKey)
		rec = remote
	} else {
		local = newStreamRecognizer()
		rec = local
	}
	capture := transcript.NewCapture(rec, transcript.Events{
		OnInterim: func(text string) {
			h.Store.SetLiveTranscript(text)
		},
		OnFinal: func(text string) {
			h.Store.SetLiveTranscript("")
			h.Store.AppendTurn(session.SpeakerUser, text)
			h.Agent.Evaluate(context.Background())
		},
		OnError: func(kind transcript.ErrorKind, err error) {
			log.Printf("[%s] recognition error (%s): %v", snap.SessionID, kind, err)
			h.Store.SetBanner(bannerFor(kind))
			h.Store.SetMicState(session.MicIdle)
		},
	})
	defer capture.Stop()

	if err := capture.Start(h.Language); err != nil {
		_ = conn.writeJSON(map[string]string{"type": "error", "error": err.Error()})
		return nil
	}
	h.Store.SetMicState(session.MicListening)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pushSnapshots(conn, done)
	}()

	for {
		mt, data, rerr := raw.ReadMessage()
		if rerr != nil {
			break
		}
		if mt == websocket.BinaryMessage {
			if remote != nil {
				if serr := remote.SendAudio(data); serr != nil {
					log.Printf("[%s] forward audio: %v", snap.SessionID, serr)
				}
			}
			continue
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m streamMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch m.Type {
		case "start":
			// no-op when already listening
			if serr := capture.Start(h.Language); serr == nil {
				h.Store.SetMicState(session.MicListening)
			}
		case "stop":
			capture.Stop()
			h.Store.SetLiveTranscript("")
			h.Store.SetMicState(session.MicIdle)
		case "interim":
			if local != nil {
				local.push(transcript.Event{Type: transcript.EventInterim, Text: m.Text})
			}
		case "final":
			if local != nil {
				local.push(transcript.Event{Type: transcript.EventFinal, Text: m.Text})
			}
		case "end":
			// platform recognition session ended; capture restarts it
			if local != nil {
				local.endSession()
			}
		case "error":
			if local != nil {
				local.push(transcript.Event{Type: transcript.EventError, Code: m.Code, Err: fmt.Errorf("recognition error: %s", m.Code)})
			}
		case "dismissBanner":
			h.Store.DismissBanner()
		}
	}

	close(done)
	wg.Wait()
	h.Store.SetLiveTranscript("")
	h.Store.SetMicState(session.MicIdle)
	return nil
}

// pushSnapshots writes the session snapshot whenever it changes, polled on a
// short interval. Exits on done or on the first write error.
func (h Handlers) pushSnapshots(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	var last []byte
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			payload, err := json.Marshal(h.Store.Snapshot())
			if err != nil {
				continue
			}
			if bytes.Equal(payload, last) {
				continue
			}
			if werr := conn.writeText(payload); werr != nil {
				return
			}
			last = payload
		}
	}
}

func bannerFor(kind transcript.ErrorKind) string {
	switch kind {
	case transcript.KindPermissionDenied:
		return "Microphone access is blocked. Enable it in your browser settings and try again."
	case transcript.KindNetwork:
		return "Speech recognition lost its connection. Check your network and try again."
	default:
		return "Speech recognition stopped unexpectedly. Tap the microphone to retry."
	}
}

// streamRecognizer adapts recognition events forwarded over the WebSocket to
// the Recognizer interface the capture state machine drives.
type streamRecognizer struct {
	mu     sync.Mutex
	ch     chan transcript.Event
	closed bool
}

func newStreamRecognizer() *streamRecognizer {
	return &streamRecognizer{closed: true}
}

func (r *streamRecognizer) Start(languageTag string) (<-chan transcript.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ch = make(chan transcript.Event, 16)
	r.closed = false
	return r.ch, nil
}

func (r *streamRecognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil && !r.closed {
		close(r.ch)
		r.closed = true
	}
}

// endSession closes the current event channel so the capture layer sees the
// platform session ending and restarts it.
func (r *streamRecognizer) endSession() {
	r.Stop()
}

// push forwards one event; drops it when the session is down or backed up.
func (r *streamRecognizer) push(ev transcript.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == nil || r.closed {
		return
	}
	select {
	case r.ch <- ev:
	default:
	}
}
