package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cyoungie/VOCA/internal/agent"
	"github.com/cyoungie/VOCA/internal/profile"
	"github.com/cyoungie/VOCA/internal/scenario"
	"github.com/cyoungie/VOCA/internal/session"
)

// Handlers exposes the app screens as JSON endpoints plus one WebSocket
// stream for the live conversation.
type Handlers struct {
	Store    *session.Store
	Profile  *profile.Profile
	Stats    *profile.Stats
	Agent    *agent.Orchestrator
	Speaker  agent.SpeechPlayer
	Language string

	// Broadcaster, when set, mirrors synthesized audio to stream clients.
	Broadcaster *AudioBroadcaster

	// AssemblyAIKey, when set, moves recognition server-side: stream clients
	// send raw audio instead of recognition events.
	AssemblyAIKey string
}

func NewHandlers(store *session.Store, prof *profile.Profile, stats *profile.Stats, orch *agent.Orchestrator, speaker agent.SpeechPlayer, language string) Handlers {
	return Handlers{Store: store, Profile: prof, Stats: stats, Agent: orch, Speaker: speaker, Language: language}
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/home", h.home)
	e.POST("/api/navigate", h.navigate)
	e.POST("/api/sessions", h.startSession)
	e.GET("/api/sessions/current", h.currentSession)
	e.POST("/api/sessions/current/end", h.endSession)
	e.GET("/api/results", h.results)
	e.GET("/api/profile", h.profileView)
	e.PUT("/api/profile", h.updateProfile)
	e.GET("/api/sessions/current/stream", h.stream)
}

type homeResponse struct {
	Scenarios []scenario.Scenario   `json:"scenarios"`
	Profile   profile.View          `json:"profile"`
	Progress  profile.LevelProgress `json:"progress"`
}

func (h Handlers) home(c echo.Context) error {
	view := h.Profile.Snapshot()
	return c.JSON(http.StatusOK, homeResponse{
		Scenarios: scenario.List(),
		Profile:   view,
		Progress:  profile.ProgressToNext(view.XP),
	})
}

type navigateRequest struct {
	Screen string `json:"screen"`
}

// navigate is the explicit screen change: leaving for home abandons any
// active session (in-flight callbacks become stale); the profile screen
// leaves session fields untouched. Reads never mutate screen state.
func (h Handlers) navigate(c echo.Context) error {
	var req navigateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	switch session.Screen(req.Screen) {
	case session.ScreenHome:
		h.Speaker.StopSpeaking()
		h.Store.GoHome()
	case session.ScreenProfile:
		h.Store.GoProfile()
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown screen"})
	}
	return c.JSON(http.StatusOK, h.Store.Snapshot())
}

type startSessionRequest struct {
	ScenarioID string `json:"scenarioId"`
}

type startSessionResponse struct {
	SessionID string            `json:"sessionId"`
	Scenario  scenario.Scenario `json:"scenario"`
}

func (h Handlers) startSession(c echo.Context) error {
	var req startSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	scn, ok := scenario.Get(req.ScenarioID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown scenario"})
	}

	sid := uuid.NewString()
	h.Speaker.StopSpeaking()
	h.Store.StartSession(sid, scn.ID, len(scn.Goals))
	h.Agent.BeginSession()
	// opening line from the character; detached from the request lifetime
	h.Agent.Greet(context.Background())

	c.Echo().Logger.Infof("session %s started: scenario=%s", sid, scn.ID)
	return c.JSON(http.StatusCreated, startSessionResponse{SessionID: sid, Scenario: scn})
}

func (h Handlers) currentSession(c echo.Context) error {
	snap := h.Store.Snapshot()
	if snap.SessionID == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active session"})
	}
	return c.JSON(http.StatusOK, snap)
}

func (h Handlers) endSession(c echo.Context) error {
	snap := h.Store.Snapshot()
	if snap.SessionID == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active session"})
	}

	h.Speaker.StopSpeaking()

	now := time.Now()
	minutes := h.Store.SessionElapsed().Minutes()
	results := buildResults(snap, minutes)

	before := h.Stats.PhraseCount()
	for _, t := range snap.Turns {
		if t.Speaker == session.SpeakerAssistant {
			h.Stats.AddPhrase(firstSentence(t.Text))
		}
	}
	results.NewPhraseCount = h.Stats.PhraseCount() - before

	h.Profile.AwardXP(xpFor(results, countUserTurns(snap.Turns)), now)
	h.Stats.AddPracticeTime(minutes, now)
	h.Stats.RecordCompletion(snap.ScenarioID, now, minutes)

	h.Store.ExitToResults(&results)
	c.Echo().Logger.Infof("session %s ended: goals=%d/%d score=%d", snap.SessionID, results.GoalsCompleted, results.GoalsTotal, results.Score)
	return c.JSON(http.StatusOK, results)
}

func (h Handlers) results(c echo.Context) error {
	snap := h.Store.Snapshot()
	if snap.LastResults == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no finished session"})
	}
	return c.JSON(http.StatusOK, snap.LastResults)
}

type statsResponse struct {
	TotalMinutes    float64        `json:"totalMinutes"`
	WeeklyMinutes   float64        `json:"weeklyMinutes"`
	LastWeekMinutes float64        `json:"lastWeekMinutes"`
	WeeklyDelta     float64        `json:"weeklyDelta"`
	Sessions        int            `json:"sessionsCompleted"`
	PerCategory     map[string]int `json:"perCategory"`
	PhraseCount     int            `json:"phraseCount"`
	Phrases         []string       `json:"phrases"`
}

type profileResponse struct {
	Profile  profile.View          `json:"profile"`
	Progress profile.LevelProgress `json:"progress"`
	Stats    statsResponse         `json:"stats"`
}

func (h Handlers) profileView(c echo.Context) error {
	now := time.Now()
	view := h.Profile.Snapshot()

	perCategory := map[string]int{}
	completed := h.Stats.Completed()
	for _, cs := range completed {
		perCategory[string(scenario.CategoryOf(cs.ScenarioID))]++
	}

	return c.JSON(http.StatusOK, profileResponse{
		Profile:  view,
		Progress: profile.ProgressToNext(view.XP),
		Stats: statsResponse{
			TotalMinutes:    h.Stats.TotalMinutes(),
			WeeklyMinutes:   h.Stats.WeeklyMinutes(now),
			LastWeekMinutes: h.Stats.LastWeekMinutes(now),
			WeeklyDelta:     h.Stats.WeeklyMinutes(now) - h.Stats.LastWeekMinutes(now),
			Sessions:        len(completed),
			PerCategory:     perCategory,
			PhraseCount:     h.Stats.PhraseCount(),
			Phrases:         h.Stats.Phrases(),
		},
	})
}

type updateProfileRequest struct {
	DisplayName  string   `json:"displayName"`
	Avatar       string   `json:"avatar"`
	HintsOn      *bool    `json:"hintsOn"`
	PlaybackRate *float64 `json:"playbackRate"`
}

func (h Handlers) updateProfile(c echo.Context) error {
	var req updateProfileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.DisplayName != "" {
		h.Profile.SetDisplayName(req.DisplayName)
	}
	if req.Avatar != "" {
		h.Profile.SetAvatar(req.Avatar)
	}
	if req.HintsOn != nil {
		h.Store.SetHints(*req.HintsOn)
	}
	if req.PlaybackRate != nil {
		h.Store.SetPlaybackRate(*req.PlaybackRate)
	}
	return c.JSON(http.StatusOK, h.Profile.Snapshot())
}

func countUserTurns(turns []session.Turn) int {
	n := 0
	for _, t := range turns {
		if t.Speaker == session.SpeakerUser {
			n++
		}
	}
	return n
}

func buildResults(snap session.Snapshot, minutes float64) session.Results {
	userTurns := countUserTurns(snap.Turns)
	score := 0
	if snap.GoalsTotal > 0 {
		score = snap.GoalIndex * 100 / snap.GoalsTotal
	}
	return session.Results{
		ScenarioID:      snap.ScenarioID,
		Score:           score,
		GoalsCompleted:  snap.GoalIndex,
		GoalsTotal:      snap.GoalsTotal,
		DurationMinutes: minutes,
		FluencyNote:     fluencyNote(userTurns, snap.GoalIndex, snap.GoalsTotal),
	}
}

func xpFor(r session.Results, userTurns int) int {
	return r.GoalsCompleted*50 + userTurns*10
}

func fluencyNote(userTurns, goalsDone, goalsTotal int) string {
	switch {
	case goalsTotal > 0 && goalsDone >= goalsTotal:
		return "Excellent! You completed every goal in this conversation."
	case userTurns >= 6:
		return "Great conversational flow. Keep pushing toward the remaining goals."
	case userTurns >= 2:
		return "Good start. Try longer answers to keep the conversation going."
	default:
		return "Short session. Jump back in and try to reach the first goal."
	}
}

// firstSentence trims an assistant reply down to a phrase-book entry.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.Index(text, sep); i >= 0 {
			return text[:i+1]
		}
	}
	return text
}
