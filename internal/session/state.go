// Package session holds the single in-memory state shared by the
// conversation pipeline and the API handlers. All mutation goes through the
// operations defined here; handlers read via Snapshot.
package session

import (
	"strings"
	"sync"
	"time"
)

// Screen identifies which view the client should render.
type Screen string

const (
	ScreenHome         Screen = "home"
	ScreenConversation Screen = "conversation"
	ScreenResults      Screen = "results"
	ScreenProfile      Screen = "profile"
)

// MicState is the coarse microphone/pipeline state shown to the user.
type MicState string

const (
	MicIdle       MicState = "idle"
	MicListening  MicState = "listening"
	MicProcessing MicState = "processing"
)

// Speaker attributes a conversation turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one utterance in chronological history.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// FeedbackKind classifies a coaching message.
type FeedbackKind string

const (
	FeedbackSuccess FeedbackKind = "success"
	FeedbackTip     FeedbackKind = "tip"
	FeedbackGoal    FeedbackKind = "goal"
)

// FeedbackItem is a short coaching message shown alongside the conversation.
type FeedbackItem struct {
	Kind FeedbackKind `json:"type"`
	Text string       `json:"text"`
}

// MaxFeedback bounds the on-screen feedback queue; oldest items are evicted.
const MaxFeedback = 5

// Results summarizes a finished session for the results screen.
type Results struct {
	ScenarioID      string  `json:"scenarioId"`
	Score           int     `json:"score"`
	GoalsCompleted  int     `json:"goalsCompleted"`
	GoalsTotal      int     `json:"goalsTotal"`
	NewPhraseCount  int     `json:"newPhraseCount"`
	DurationMinutes float64 `json:"durationMinutes"`
	FluencyNote     string  `json:"fluencyFeedback"`
}

// Snapshot is a read-only copy of the store for handlers and the WS stream.
type Snapshot struct {
	Screen            Screen         `json:"screen"`
	SessionID         string         `json:"sessionId,omitempty"`
	Generation        uint64         `json:"-"`
	ScenarioID        string         `json:"scenarioId,omitempty"`
	Turns             []Turn         `json:"turns"`
	Feedback          []FeedbackItem `json:"feedback"`
	GoalIndex         int            `json:"goalIndex"`
	GoalsTotal        int            `json:"goalsTotal"`
	MicState          MicState       `json:"micState"`
	LiveTranscript    string         `json:"liveTranscript"`
	AssistantSpeaking bool           `json:"assistantSpeaking"`
	Banner            string         `json:"banner,omitempty"`
	HintsOn           bool           `json:"hintsOn"`
	PlaybackRate      float64        `json:"playbackRate"`
	LastResults       *Results       `json:"lastResults,omitempty"`
}

// Store is the injectable session-state container. One active session at a
// time; every session start bumps the generation so that late callbacks from
// a superseded session can be recognized and dropped.
type Store struct {
	mu sync.Mutex

	screen     Screen
	sessionID  string
	generation uint64
	scenarioID string
	goalsTotal int
	startedAt  time.Time

	turns          []Turn
	feedback       []FeedbackItem
	goalIndex      int
	micState       MicState
	liveTranscript string
	speaking       bool
	banner         string

	hintsOn      bool
	playbackRate float64

	lastResults *Results
}

// NewStore returns a store on the home screen with default settings.
func NewStore() *Store {
	return &Store{
		screen:       ScreenHome,
		micState:     MicIdle,
		hintsOn:      true,
		playbackRate: 1,
	}
}

// StartSession resets the per-session fields and enters the conversation
// screen. goalsTotal is the length of the scenario's goal list.
func (s *Store) StartSession(sessionID, scenarioID string, goalsTotal int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.screen = ScreenConversation
	s.sessionID = sessionID
	s.scenarioID = scenarioID
	s.goalsTotal = goalsTotal
	s.startedAt = time.Now()
	s.turns = nil
	s.feedback = nil
	s.goalIndex = 0
	s.micState = MicIdle
	s.liveTranscript = ""
	s.speaking = false
	s.banner = ""
}

// ExitToResults leaves the conversation screen, records results and bumps the
// generation so in-flight pipeline callbacks for the old session are ignored.
func (s *Store) ExitToResults(r *Results) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.screen = ScreenResults
	s.lastResults = r
	s.micState = MicIdle
	s.speaking = false
	s.liveTranscript = ""
}

// GoHome returns to the home screen, abandoning any active session and
// clearing stale results.
func (s *Store) GoHome() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.screen = ScreenHome
	s.sessionID = ""
	s.lastResults = nil
	s.micState = MicIdle
	s.speaking = false
	s.liveTranscript = ""
}

// GoProfile switches to the profile screen. Session fields are untouched.
func (s *Store) GoProfile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen = ScreenProfile
}

// Generation returns the current session generation.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// SessionElapsed returns how long the current session has been running.
func (s *Store) SessionElapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// AppendTurn appends a turn to the chronological history.
func (s *Store) AppendTurn(sp Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	s.turns = append(s.turns, Turn{Speaker: sp, Text: text})
	s.mu.Unlock()
}

// Turns returns a copy of the turn history.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// TurnCount returns the current history length.
func (s *Store) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// PushFeedback enqueues a coaching item, evicting the oldest beyond
// MaxFeedback. Items with empty text are dropped.
func (s *Store) PushFeedback(item FeedbackItem) {
	if strings.TrimSpace(item.Text) == "" {
		return
	}
	s.mu.Lock()
	s.feedback = append(s.feedback, item)
	if len(s.feedback) > MaxFeedback {
		s.feedback = s.feedback[len(s.feedback)-MaxFeedback:]
	}
	s.mu.Unlock()
}

// Feedback returns a copy of the feedback queue, oldest first.
func (s *Store) Feedback() []FeedbackItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FeedbackItem, len(s.feedback))
	copy(out, s.feedback)
	return out
}

// SetMicState sets the microphone state; unknown values fall back to idle.
func (s *Store) SetMicState(m MicState) {
	switch m {
	case MicIdle, MicListening, MicProcessing:
	default:
		m = MicIdle
	}
	s.mu.Lock()
	s.micState = m
	s.mu.Unlock()
}

// MicState returns the current microphone state.
func (s *Store) MicState() MicState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micState
}

// SetLiveTranscript updates the in-progress transcript line.
func (s *Store) SetLiveTranscript(text string) {
	s.mu.Lock()
	s.liveTranscript = text
	s.mu.Unlock()
}

// AdvanceGoal moves to the next goal. The index is monotonically
// non-decreasing and pinned to goalsTotal once every goal is satisfied.
func (s *Store) AdvanceGoal() {
	s.mu.Lock()
	if s.goalIndex < s.goalsTotal {
		s.goalIndex++
	}
	s.mu.Unlock()
}

// GoalIndex returns the zero-based index of the current goal; a value equal
// to the goal count means all goals are satisfied.
func (s *Store) GoalIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goalIndex
}

// SetSpeaking sets the assistant-speaking flag only when gen still matches
// the live session generation. It reports whether the update was applied, so
// late playback callbacks from an exited session cannot corrupt state.
func (s *Store) SetSpeaking(gen uint64, on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.speaking = on
	return true
}

// Speaking reports whether the assistant is currently speaking.
func (s *Store) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// SetBanner surfaces a dismissible error message to the user.
func (s *Store) SetBanner(msg string) {
	s.mu.Lock()
	s.banner = msg
	s.mu.Unlock()
}

// DismissBanner clears the error banner.
func (s *Store) DismissBanner() {
	s.mu.Lock()
	s.banner = ""
	s.mu.Unlock()
}

// SetHints toggles goal hints on the conversation screen.
func (s *Store) SetHints(on bool) {
	s.mu.Lock()
	s.hintsOn = on
	s.mu.Unlock()
}

// SetPlaybackRate stores the requested speech rate. Invalid values fall back
// to 1; clamping to the synthesizable range happens at playback time.
func (s *Store) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		rate = 1
	}
	s.mu.Lock()
	s.playbackRate = rate
	s.mu.Unlock()
}

// PlaybackRate returns the requested speech rate.
func (s *Store) PlaybackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackRate
}

// ScenarioID returns the active scenario id, empty when none.
func (s *Store) ScenarioID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenarioID
}

// Snapshot returns a consistent copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	fb := make([]FeedbackItem, len(s.feedback))
	copy(fb, s.feedback)
	var res *Results
	if s.lastResults != nil {
		r := *s.lastResults
		res = &r
	}
	return Snapshot{
		Screen:            s.screen,
		SessionID:         s.sessionID,
		Generation:        s.generation,
		ScenarioID:        s.scenarioID,
		Turns:             turns,
		Feedback:          fb,
		GoalIndex:         s.goalIndex,
		GoalsTotal:        s.goalsTotal,
		MicState:          s.micState,
		LiveTranscript:    s.liveTranscript,
		AssistantSpeaking: s.speaking,
		Banner:            s.banner,
		HintsOn:           s.hintsOn,
		PlaybackRate:      s.playbackRate,
		LastResults:       res,
	}
}
