package http

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// approxBytesPerSecond estimates mp3 playback length at the default 32 kbps
// synthesis bitrate; Play holds the speaking window for that long.
const approxBytesPerSecond = 4000

// wsConn serializes writes to one WebSocket connection so the snapshot
// pusher and the audio broadcaster never interleave frames.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeText(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsConn) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsConn) writeBinary(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// AudioBroadcaster fans synthesized audio out to the connected conversation
// streams as binary frames and reports playback timing to the caller.
type AudioBroadcaster struct {
	mu    sync.Mutex
	sinks map[*wsConn]struct{}
}

func NewAudioBroadcaster() *AudioBroadcaster {
	return &AudioBroadcaster{sinks: make(map[*wsConn]struct{})}
}

func (b *AudioBroadcaster) attach(c *wsConn) {
	b.mu.Lock()
	b.sinks[c] = struct{}{}
	b.mu.Unlock()
}

func (b *AudioBroadcaster) detach(c *wsConn) {
	b.mu.Lock()
	delete(b.sinks, c)
	b.mu.Unlock()
}

// Play writes the clip to every connected stream, then blocks for the
// estimated playback duration scaled by rate. A faster rate shortens the
// window. Returns early when the context is canceled.
func (b *AudioBroadcaster) Play(ctx context.Context, audio []byte, rate float64) error {
	b.mu.Lock()
	sinks := make([]*wsConn, 0, len(b.sinks))
	for c := range b.sinks {
		sinks = append(sinks, c)
	}
	b.mu.Unlock()

	for _, c := range sinks {
		if err := c.writeBinary(audio); err != nil {
			log.Printf("audio broadcast write failed: %v", err)
			b.detach(c)
		}
	}

	if rate <= 0 {
		rate = 1
	}
	d := time.Duration(float64(len(audio)) / (approxBytesPerSecond * rate) * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
