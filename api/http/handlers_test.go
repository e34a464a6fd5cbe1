package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/cyoungie/VOCA/internal/agent"
	"github.com/cyoungie/VOCA/internal/llm"
	"github.com/cyoungie/VOCA/internal/profile"
	"github.com/cyoungie/VOCA/internal/session"
	"github.com/cyoungie/VOCA/internal/tts"
)

type stubGenerator struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    llm.Reply
	err      error
}

func (s *stubGenerator) Generate(ctx context.Context, req llm.Request) (llm.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.reply, s.err
}

func (s *stubGenerator) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	stopped int
}

func (s *stubSpeaker) Speak(ctx context.Context, text string, opts tts.Options) {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	if opts.OnStart != nil {
		opts.OnStart()
	}
	if opts.OnEnd != nil {
		opts.OnEnd()
	}
}

func (s *stubSpeaker) StopSpeaking() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

type fixture struct {
	e       *echo.Echo
	h       Handlers
	store   *session.Store
	prof    *profile.Profile
	stats   *profile.Stats
	gen     *stubGenerator
	speaker *stubSpeaker
	orch    *agent.Orchestrator
}

func newFixture() *fixture {
	store := session.NewStore()
	prof := profile.NewProfile("Tester")
	stats := profile.NewStats()
	gen := &stubGenerator{reply: llm.Reply{Reply: "Hello there!"}}
	speaker := &stubSpeaker{}
	orch := agent.New(store, gen, speaker, "en-US")

	e := echo.New()
	h := NewHandlers(store, prof, stats, orch, speaker, "en-US")
	h.Broadcaster = NewAudioBroadcaster()
	h.Register(e)
	return &fixture{e: e, h: h, store: store, prof: prof, stats: stats, gen: gen, speaker: speaker, orch: orch}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHealthz(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHomeListsScenariosAndProfile(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/home", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp homeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Scenarios) != 9 {
		t.Fatalf("scenarios = %d, want 9", len(resp.Scenarios))
	}
	if resp.Profile.DisplayName != "Tester" {
		t.Fatalf("display name = %q", resp.Profile.DisplayName)
	}
	if resp.Profile.Level != "Beginner" {
		t.Fatalf("level = %q", resp.Profile.Level)
	}
}

func TestStartSessionUnknownScenario(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/api/sessions", `{"scenarioId":"moonbase"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStartSessionGreetsAndResetsState(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/api/sessions", `{"scenarioId":"cafe"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp startSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("missing session id")
	}
	if resp.Scenario.ID != "cafe" {
		t.Fatalf("scenario = %q", resp.Scenario.ID)
	}

	waitUntil(t, func() bool { return f.store.TurnCount() == 1 })
	turns := f.store.Turns()
	if turns[0].Speaker != session.SpeakerAssistant {
		t.Fatalf("first turn = %+v, want assistant greeting", turns[0])
	}
	f.gen.mu.Lock()
	greeting := f.gen.requests[0].Greeting
	f.gen.mu.Unlock()
	if !greeting {
		t.Fatal("greeting request not flagged")
	}
}

func TestHomeAndProfileReadsLeaveSessionIntact(t *testing.T) {
	f := newFixture()
	f.do(http.MethodPost, "/api/sessions", `{"scenarioId":"cafe"}`)
	waitUntil(t, func() bool { return f.store.TurnCount() == 1 })
	genBefore := f.store.Generation()

	if rec := f.do(http.MethodGet, "/api/home", ""); rec.Code != http.StatusOK {
		t.Fatalf("home: expected 200, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/profile", ""); rec.Code != http.StatusOK {
		t.Fatalf("profile: expected 200, got %d", rec.Code)
	}

	if got := f.store.Generation(); got != genBefore {
		t.Fatalf("generation changed by a read: %d -> %d", genBefore, got)
	}
	if rec := f.do(http.MethodGet, "/api/sessions/current", ""); rec.Code != http.StatusOK {
		t.Fatalf("session lost after reads: got %d", rec.Code)
	}
}

func TestNavigateHomeAbandonsSession(t *testing.T) {
	f := newFixture()
	f.do(http.MethodPost, "/api/sessions", `{"scenarioId":"cafe"}`)
	waitUntil(t, func() bool { return f.store.TurnCount() == 1 })

	rec := f.do(http.MethodPost, "/api/navigate", `{"screen":"home"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("navigate: expected 200, got %d", rec.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Screen != session.ScreenHome {
		t.Fatalf("screen = %q, want home", snap.Screen)
	}
	if rec2 := f.do(http.MethodGet, "/api/sessions/current", ""); rec2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after leaving to home, got %d", rec2.Code)
	}

	if rec3 := f.do(http.MethodPost, "/api/navigate", `{"screen":"results"}`); rec3.Code != http.StatusBadRequest {
		t.Fatalf("direct results navigation: expected 400, got %d", rec3.Code)
	}
}

func TestNavigateProfileKeepsSession(t *testing.T) {
	f := newFixture()
	f.do(http.MethodPost, "/api/sessions", `{"scenarioId":"cafe"}`)
	waitUntil(t, func() bool { return f.store.TurnCount() == 1 })

	rec := f.do(http.MethodPost, "/api/navigate", `{"screen":"profile"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("navigate: expected 200, got %d", rec.Code)
	}
	snap := f.store.Snapshot()
	if snap.Screen != session.ScreenProfile {
		t.Fatalf("screen = %q, want profile", snap.Screen)
	}
	if snap.SessionID == "" {
		t.Fatal("profile navigation must not abandon the session")
	}
}

func TestCurrentSessionWithoutOne(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/sessions/current", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestEndSessionComputesResultsAndAwards(t *testing.T) {
	f := newFixture()
	f.do(http.MethodPost, "/api/sessions", `{"scenarioId":"cafe"}`)
	waitUntil(t, func() bool { return f.store.TurnCount() == 1 })

	f.store.AppendTurn(session.SpeakerUser, "Hi, a flat white please.")
	f.store.AppendTurn(session.SpeakerAssistant, "Coming right up! Anything else?")
	f.store.AdvanceGoal()
	f.store.AdvanceGoal()

	rec := f.do(http.MethodPost, "/api/sessions/current/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res session.Results
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.GoalsCompleted != 2 {
		t.Fatalf("goals completed = %d, want 2", res.GoalsCompleted)
	}
	if res.GoalsTotal == 0 || res.Score != res.GoalsCompleted*100/res.GoalsTotal {
		t.Fatalf("score = %d for %d/%d", res.Score, res.GoalsCompleted, res.GoalsTotal)
	}
	if res.NewPhraseCount == 0 {
		t.Fatal("expected phrases extracted from assistant turns")
	}

	if xp := f.prof.Snapshot().XP; xp != 2*50+1*10 {
		t.Fatalf("xp = %d, want 110", xp)
	}
	if f.prof.Snapshot().Streak != 1 {
		t.Fatalf("streak = %d, want 1", f.prof.Snapshot().Streak)
	}
	if len(f.stats.Completed()) != 1 {
		t.Fatal("completion not recorded")
	}
	if f.speaker.stopped == 0 {
		t.Fatal("playback not stopped on session end")
	}

	res2 := f.do(http.MethodGet, "/api/results", "")
	if res2.Code != http.StatusOK {
		t.Fatalf("results fetch = %d", res2.Code)
	}

	rec3 := f.do(http.MethodPost, "/api/sessions/current/end", "")
	if rec3.Code != http.StatusNotFound {
		t.Fatalf("double end = %d, want 404", rec3.Code)
	}
}

func TestResultsBeforeAnySession(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/results", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestProfileDashboard(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.stats.AddPracticeTime(10, now)
	f.stats.AddPracticeTime(5, now.AddDate(0, 0, -8))
	f.stats.RecordCompletion("cafe", now, 10)
	f.stats.RecordCompletion("airport", now, 5)

	rec := f.do(http.MethodGet, "/api/profile", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp profileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stats.TotalMinutes != 15 {
		t.Fatalf("total minutes = %v", resp.Stats.TotalMinutes)
	}
	if resp.Stats.WeeklyMinutes != 10 || resp.Stats.LastWeekMinutes != 5 {
		t.Fatalf("weekly = %v lastWeek = %v", resp.Stats.WeeklyMinutes, resp.Stats.LastWeekMinutes)
	}
	if resp.Stats.WeeklyDelta != 5 {
		t.Fatalf("weekly delta = %v", resp.Stats.WeeklyDelta)
	}
	if resp.Stats.Sessions != 2 {
		t.Fatalf("sessions = %d", resp.Stats.Sessions)
	}
	if resp.Stats.PerCategory["Daily Life"] != 1 || resp.Stats.PerCategory["Travel"] != 1 {
		t.Fatalf("per category = %v", resp.Stats.PerCategory)
	}
}

func TestUpdateProfileAndSettings(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPut, "/api/profile", `{"displayName":"Maya","playbackRate":3.5,"hintsOn":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if name := f.prof.Snapshot().DisplayName; name != "Maya" {
		t.Fatalf("display name = %q", name)
	}
	if got := f.store.PlaybackRate(); got != 3.5 {
		t.Fatalf("playback rate = %v", got)
	}
	snap := f.store.Snapshot()
	if snap.HintsOn {
		t.Fatal("hints should be off")
	}
}

func TestStreamDrivesConversation(t *testing.T) {
	f := newFixture()
	f.do(http.MethodPost, "/api/sessions", `{"scenarioId":"cafe"}`)
	waitUntil(t, func() bool { return f.store.TurnCount() == 1 })

	srv := httptest.NewServer(f.e)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/current/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitUntil(t, func() bool { return f.store.MicState() == session.MicListening })

	if err := conn.WriteJSON(streamMessage{Type: "interim", Text: "I would"}); err != nil {
		t.Fatalf("write interim: %v", err)
	}
	waitUntil(t, func() bool { return f.store.Snapshot().LiveTranscript == "I would" })

	if err := conn.WriteJSON(streamMessage{Type: "final", Text: "I would like a coffee."}); err != nil {
		t.Fatalf("write final: %v", err)
	}
	waitUntil(t, func() bool { return f.store.TurnCount() >= 3 })
	turns := f.store.Turns()
	if turns[1].Speaker != session.SpeakerUser || turns[1].Text != "I would like a coffee." {
		t.Fatalf("user turn = %+v", turns[1])
	}
	if turns[2].Speaker != session.SpeakerAssistant {
		t.Fatalf("turn after user = %+v, want assistant reply", turns[2])
	}
	waitUntil(t, func() bool { return !f.orch.InFlight() })

	if err := conn.WriteJSON(streamMessage{Type: "stop"}); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	waitUntil(t, func() bool { return f.store.MicState() == session.MicIdle })
}

func TestStreamWithoutSession(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/api/sessions/current/stream", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamRecognitionErrorSetsBanner(t *testing.T) {
	f := newFixture()
	f.do(http.MethodPost, "/api/sessions", `{"scenarioId":"cafe"}`)
	waitUntil(t, func() bool { return f.store.TurnCount() == 1 })

	srv := httptest.NewServer(f.e)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/current/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitUntil(t, func() bool { return f.store.MicState() == session.MicListening })

	if err := conn.WriteJSON(streamMessage{Type: "error", Code: "not-allowed"}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	waitUntil(t, func() bool { return f.store.Snapshot().Banner != "" })
	if f.store.MicState() != session.MicIdle {
		t.Fatalf("mic state = %q, want idle after terminal error", f.store.MicState())
	}

	if err := conn.WriteJSON(streamMessage{Type: "dismissBanner"}); err != nil {
		t.Fatalf("write dismiss: %v", err)
	}
	waitUntil(t, func() bool { return f.store.Snapshot().Banner == "" })
}

func TestFirstSentence(t *testing.T) {
	cases := map[string]string{
		"Sure. What size would you like?": "Sure.",
		"One moment":                      "One moment",
		"  Really? That's great news.  ":  "Really?",
	}
	for in, want := range cases {
		if got := firstSentence(in); got != want {
			t.Fatalf("firstSentence(%q) = %q, want %q", in, got, want)
		}
	}
}
