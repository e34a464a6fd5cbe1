package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func rewriteTo(srv *httptest.Server) *http.Client {
	return &http.Client{Timeout: time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})}
}

type capturePlayer struct {
	audio []byte
	rate  float64
	err   error
}

func (p *capturePlayer) Play(ctx context.Context, audio []byte, rate float64) error {
	p.audio = audio
	p.rate = rate
	return p.err
}

func TestRemoteSpeak_PlaysAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") == "" {
			w.WriteHeader(401)
			return
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte{0x49, 0x44, 0x33, 0x04})
	}))
	defer srv.Close()

	player := &capturePlayer{}
	c := NewElevenLabsClient("key", "voice", "", player)
	c.HTTPClient = rewriteTo(srv)

	var started, ended int
	var errs []error
	opts := callbacks(&started, &ended, &errs)
	opts.Rate = 1.5
	c.Speak(context.Background(), "hello", opts)

	if started != 1 || ended != 1 || len(errs) != 0 {
		t.Fatalf("callback contract broken: started=%d ended=%d errs=%v", started, ended, errs)
	}
	if len(player.audio) != 4 || player.rate != 1.5 {
		t.Fatalf("unexpected playback: %d bytes rate=%v", len(player.audio), player.rate)
	}
}

func TestRemoteSpeak_ProviderErrorMessageSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(402)
		_, _ = w.Write([]byte(`{"detail":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	c := NewElevenLabsClient("key", "voice", "", &capturePlayer{})
	c.HTTPClient = rewriteTo(srv)

	var started, ended int
	var errs []error
	c.Speak(context.Background(), "hello", callbacks(&started, &ended, &errs))

	if started != 0 || ended != 1 {
		t.Fatalf("remote failure must skip OnStart and still fire OnEnd: started=%d ended=%d", started, ended)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "quota exceeded") {
		t.Fatalf("expected provider message in error, got %v", errs)
	}
	var pe *PlaybackError
	if !errors.As(errs[0], &pe) || pe.Path != "remote" {
		t.Fatalf("expected remote PlaybackError, got %v", errs[0])
	}
}

func TestRemoteSpeak_MissingCredential(t *testing.T) {
	c := NewElevenLabsClient("", "", "", &capturePlayer{})
	var started, ended int
	var errs []error
	c.Speak(context.Background(), "hello", callbacks(&started, &ended, &errs))
	if ended != 1 || len(errs) != 1 {
		t.Fatalf("expected error then end, got ended=%d errs=%v", ended, errs)
	}
}

func TestRemoteSpeak_PlayerErrorAfterStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte{1, 2, 3})
	}))
	defer srv.Close()

	player := &capturePlayer{err: errors.New("output device gone")}
	c := NewElevenLabsClient("key", "voice", "", player)
	c.HTTPClient = rewriteTo(srv)

	var started, ended int
	var errs []error
	c.Speak(context.Background(), "hello", callbacks(&started, &ended, &errs))
	if started != 1 || ended != 1 || len(errs) != 1 {
		t.Fatalf("expected start, error, end exactly once: started=%d ended=%d errs=%v", started, ended, errs)
	}
}
