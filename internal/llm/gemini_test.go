package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func clientFor(srv *httptest.Server) *http.Client {
	return &http.Client{Timeout: time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})}
}

func candidateBody(text string) string {
	// wrap text as the single candidate part of a generateContent response
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
	return string(b)
}

func TestGenerate_NoKey(t *testing.T) {
	c := NewGeminiClient("", "")
	if _, err := c.Generate(context.Background(), Request{Utterance: "hi"}); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestGenerate_TransportFailure(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{"structured_error_body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exhausted"}}`))
		}, "quota exhausted"},
		{"opaque_body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(503)
			_, _ = w.Write([]byte("upstream down"))
		}, "status 503"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewGeminiClient("key", "model")
			c.HTTPClient = clientFor(srv)
			_, err := c.Generate(context.Background(), Request{Utterance: "hi"})
			var rse *ReplyServiceError
			if !errors.As(err, &rse) {
				t.Fatalf("expected ReplyServiceError, got %v", err)
			}
			if !strings.Contains(rse.Error(), tc.wantMsg) {
				t.Fatalf("error %q does not mention %q", rse.Error(), tc.wantMsg)
			}
		})
	}
}

func TestGenerate_EmptyReply(t *testing.T) {
	for _, body := range []string{`{"candidates":[]}`, candidateBody("   ")} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(body))
		}))
		c := NewGeminiClient("key", "model")
		c.HTTPClient = clientFor(srv)
		_, err := c.Generate(context.Background(), Request{Utterance: "hi"})
		srv.Close()
		if !errors.Is(err, ErrEmptyReply) {
			t.Fatalf("expected ErrEmptyReply, got %v", err)
		}
	}
}

func TestGenerate_ParsesEnvelopeAndSanitizes(t *testing.T) {
	content := `{"reply":"Hi there","feedback":[{"type":"tip","text":"Say hello"},{"type":"bogus","text":"x"},{"type":"success","text":""}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(candidateBody(content)))
	}))
	defer srv.Close()
	c := NewGeminiClient("key", "model")
	c.HTTPClient = clientFor(srv)
	reply, err := c.Generate(context.Background(), Request{Utterance: "hello"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Reply != "Hi there" {
		t.Fatalf("reply=%q", reply.Reply)
	}
	if len(reply.Feedback) != 1 || reply.Feedback[0].Type != "tip" || reply.Feedback[0].Text != "Say hello" {
		t.Fatalf("unexpected feedback %+v", reply.Feedback)
	}
}

func TestGenerate_ProseDegradesGracefully(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(candidateBody("Good morning! What can I get you?")))
	}))
	defer srv.Close()
	c := NewGeminiClient("key", "model")
	c.HTTPClient = clientFor(srv)
	reply, err := c.Generate(context.Background(), Request{Utterance: "hello"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Reply != "Good morning! What can I get you?" || len(reply.Feedback) != 0 {
		t.Fatalf("expected raw-text degradation, got %+v", reply)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	req := Request{
		ScenarioTitle: "Café",
		CharacterRole: "Barista",
		Goals:         []string{"Greet the barista", "Order a drink"},
		CurrentGoal:   "Order a drink",
		GoalIndex:     1,
	}
	p := buildSystemPrompt(req)
	for _, want := range []string{
		"Barista in a Café scenario",
		"1. Greet the barista",
		"2. Order a drink",
		"Current goal: Order a drink",
		"(Goal 2 of 2)",
		"1-3 sentences",
		"JSON only",
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestBuildContents(t *testing.T) {
	req := Request{
		Utterance: "a coffee please",
		History: []Turn{
			{Role: RoleUser, Text: "hello"},
			{Role: RoleAssistant, Text: "hi, what can I get you?"},
			{Role: RoleUser, Text: "   "},
		},
	}
	contents := buildContents(req)
	if len(contents) != 3 {
		t.Fatalf("expected blank turn dropped, got %d contents", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Fatalf("unexpected roles: %s %s", contents[0].Role, contents[1].Role)
	}
	if contents[2].Parts[0].Text != "a coffee please" {
		t.Fatalf("latest utterance must be last")
	}

	greet := buildContents(Request{Greeting: true})
	if len(greet) != 1 || greet[0].Role != "user" {
		t.Fatalf("unexpected greeting contents %+v", greet)
	}
}
