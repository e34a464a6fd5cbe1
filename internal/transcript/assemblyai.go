package transcript

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamingRecognizer is a Recognizer backed by the AssemblyAI v3 realtime
// websocket. Interim text comes from unformatted Turn messages; the final
// chunk is the formatted turn at end of turn.
type StreamingRecognizer struct {
	apiKey     string
	sampleRate int

	mu        sync.Mutex
	conn      *websocket.Conn
	events    chan Event
	audio     chan []byte
	stopCh    chan struct{}
	connected bool
}

// NewStreamingRecognizer creates a recognizer for 16kHz PCM mono input.
func NewStreamingRecognizer(apiKey string) *StreamingRecognizer {
	return &StreamingRecognizer{apiKey: apiKey, sampleRate: 16000}
}

// Start dials the streaming endpoint and begins a recognition session.
func (s *StreamingRecognizer) Start(languageTag string) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil, fmt.Errorf("recognition session already active")
	}
	if s.apiKey == "" {
		return nil, fmt.Errorf("assemblyai api key missing")
	}

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", s.sampleRate))
	params.Set("format_turns", "true")
	params.Set("encoding", "pcm_s16le")
	if languageTag != "" {
		params.Set("language_code", languageTag)
	}
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return nil, fmt.Errorf("assemblyai unauthorized (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connect to assemblyai: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.events = make(chan Event, 64)
	s.audio = make(chan []byte, 1000)
	s.stopCh = make(chan struct{})

	go s.readLoop(conn, s.events, s.stopCh)
	go s.writeLoop(conn, s.audio, s.stopCh)
	return s.events, nil
}

// SendAudio queues a PCM 16kHz little-endian mono buffer for transcription.
// Packets are dropped rather than blocking when the queue is full.
func (s *StreamingRecognizer) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("not connected")
	}
	select {
	case s.audio <- pcm:
	default:
		log.Println("transcript: audio buffer full, dropping packet")
	}
	return nil
}

// Stop terminates the session. The event channel closes once the reader
// observes the connection shutting down.
func (s *StreamingRecognizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
}

func (s *StreamingRecognizer) readLoop(conn *websocket.Conn, events chan Event, stopCh chan struct{}) {
	defer close(events)
	for {
		var raw map[string]any
		if err := conn.ReadJSON(&raw); err != nil {
			select {
			case <-stopCh:
				// deliberate shutdown, plain session end
			default:
				s.markDisconnected()
			}
			return
		}
		msgType, _ := raw["type"].(string)
		switch msgType {
		case "Begin":
			id, _ := raw["id"].(string)
			log.Printf("transcript: assemblyai session began id=%s", id)
		case "Turn":
			text, _ := raw["transcript"].(string)
			if strings.TrimSpace(text) == "" {
				continue
			}
			formatted, _ := raw["turn_is_formatted"].(bool)
			endOfTurn, _ := raw["end_of_turn"].(bool)
			ev := Event{Type: EventInterim, Text: text}
			if endOfTurn && formatted {
				ev.Type = EventFinal
			}
			select {
			case events <- ev:
			case <-stopCh:
				return
			}
		case "Termination":
			// server closed the session; clear state so a restart can dial anew
			s.markDisconnected()
			return
		case "Error":
			msg, _ := raw["error"].(string)
			code := providerErrorCode(msg)
			select {
			case events <- Event{Type: EventError, Code: code, Err: fmt.Errorf("assemblyai: %s", msg)}:
			case <-stopCh:
			}
			s.markDisconnected()
			return
		default:
			log.Printf("transcript: unknown assemblyai message type %q", msgType)
		}
	}
}

func (s *StreamingRecognizer) writeLoop(conn *websocket.Conn, audio chan []byte, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case pcm := <-audio:
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("transcript: send audio: %v", err)
				return
			}
		}
	}
}

// providerErrorCode maps a provider error message to a platform error code
// understood by ClassifyCode.
func providerErrorCode(msg string) string {
	if strings.Contains(strings.ToLower(msg), "auth") {
		return "not-allowed"
	}
	return "network"
}

// markDisconnected clears connection state after an unexpected close so a
// later Start can open a fresh session.
func (s *StreamingRecognizer) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}
