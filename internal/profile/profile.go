// Package profile keeps the process-wide user profile and usage statistics.
// Everything lives in memory; values survive sessions but not restarts.
package profile

import (
	"strings"
	"sync"
	"time"
)

const dayFormat = "2006-01-02"

// Level names follow XP bands.
const (
	LevelBeginner     = "Beginner"
	LevelIntermediate = "Intermediate"
	LevelAdvanced     = "Advanced"
	LevelFluent       = "Fluent"
)

var levelMinXP = []struct {
	name string
	min  int
}{
	{LevelBeginner, 0},
	{LevelIntermediate, 500},
	{LevelAdvanced, 1500},
	{LevelFluent, 3000},
}

// LevelFromXP maps accumulated XP to a named level band.
func LevelFromXP(xp int) string {
	name := LevelBeginner
	for _, l := range levelMinXP {
		if xp >= l.min {
			name = l.name
		}
	}
	return name
}

// NumericLevel is the simple numeric level: one level per 100 XP.
func NumericLevel(xp int) int {
	return xp/100 + 1
}

// LevelProgress describes progress towards the next named level.
type LevelProgress struct {
	Current int // XP earned within the current band
	Needed  int // band width; 0 at the top band
	Percent int // 0-100
}

// ProgressToNext computes progress within the current level band.
func ProgressToNext(xp int) LevelProgress {
	for i, l := range levelMinXP {
		if xp < l.min {
			prev := levelMinXP[i-1].min
			total := l.min - prev
			cur := xp - prev
			return LevelProgress{Current: cur, Needed: total, Percent: cur * 100 / total}
		}
	}
	return LevelProgress{Current: xp, Needed: 0, Percent: 100}
}

// Profile is the persistent (process-lifetime) user identity and streak.
type Profile struct {
	mu sync.Mutex

	displayName string
	avatarRef   string
	xp          int
	streak      int
	bestStreak  int
	// lastPractice is the calendar day of the most recent XP award.
	lastPractice string
	memberSince  time.Time
}

// NewProfile creates a profile with the given display name, member since now.
func NewProfile(displayName string) *Profile {
	if strings.TrimSpace(displayName) == "" {
		displayName = "Learner"
	}
	return &Profile{displayName: displayName, memberSince: time.Now()}
}

// SetDisplayName updates the user's name; blank input is ignored.
func (p *Profile) SetDisplayName(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	p.mu.Lock()
	p.displayName = name
	p.mu.Unlock()
}

// SetAvatar updates the avatar image reference.
func (p *Profile) SetAvatar(ref string) {
	p.mu.Lock()
	p.avatarRef = ref
	p.mu.Unlock()
}

// AwardXP adds xp and updates the practice streak at most once per calendar
// day: same day is a no-op for the streak, the day after extends it, any gap
// resets it to 1.
func (p *Profile) AwardXP(amount int, now time.Time) {
	if amount < 0 {
		amount = 0
	}
	today := now.Format(dayFormat)
	yesterday := now.AddDate(0, 0, -1).Format(dayFormat)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.xp += amount
	switch p.lastPractice {
	case today:
		// already counted today
	case yesterday:
		p.streak++
	default:
		p.streak = 1
	}
	p.lastPractice = today
	if p.streak > p.bestStreak {
		p.bestStreak = p.streak
	}
}

// View is a read-only copy of the profile.
type View struct {
	DisplayName  string    `json:"displayName"`
	AvatarRef    string    `json:"avatar,omitempty"`
	XP           int       `json:"xp"`
	Level        string    `json:"level"`
	NumericLevel int       `json:"numericLevel"`
	Streak       int       `json:"streakDays"`
	BestStreak   int       `json:"bestStreakDays"`
	LastPractice string    `json:"lastPracticeDate,omitempty"`
	MemberSince  time.Time `json:"memberSince"`
}

// Snapshot returns a copy of the profile for rendering.
func (p *Profile) Snapshot() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return View{
		DisplayName:  p.displayName,
		AvatarRef:    p.avatarRef,
		XP:           p.xp,
		Level:        LevelFromXP(p.xp),
		NumericLevel: NumericLevel(p.xp),
		Streak:       p.streak,
		BestStreak:   p.bestStreak,
		LastPractice: p.lastPractice,
		MemberSince:  p.memberSince,
	}
}

// CompletedScenario is one finished run through a scenario.
type CompletedScenario struct {
	ScenarioID      string    `json:"scenarioId"`
	CompletedAt     time.Time `json:"completedAt"`
	DurationMinutes float64   `json:"durationMinutes"`
}

// Stats accumulates practice-time and completion statistics. Per-day minutes
// are the source of truth; weekly rollups are recomputed from them.
type Stats struct {
	mu sync.Mutex

	perDayMinutes map[string]float64
	completed     []CompletedScenario
	phrases       []string
	phraseSet     map[string]struct{}
}

// NewStats returns an empty statistics accumulator.
func NewStats() *Stats {
	return &Stats{
		perDayMinutes: make(map[string]float64),
		phraseSet:     make(map[string]struct{}),
	}
}

// AddPracticeTime credits minutes to the calendar day of now.
func (s *Stats) AddPracticeTime(minutes float64, now time.Time) {
	if minutes <= 0 {
		return
	}
	day := now.Format(dayFormat)
	s.mu.Lock()
	s.perDayMinutes[day] += minutes
	s.mu.Unlock()
}

// RecordCompletion appends a completed scenario.
func (s *Stats) RecordCompletion(scenarioID string, completedAt time.Time, durationMinutes float64) {
	s.mu.Lock()
	s.completed = append(s.completed, CompletedScenario{
		ScenarioID:      scenarioID,
		CompletedAt:     completedAt,
		DurationMinutes: durationMinutes,
	})
	s.mu.Unlock()
}

// AddPhrase records a learned phrase once; duplicates are ignored.
func (s *Stats) AddPhrase(phrase string) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.phraseSet[phrase]; seen {
		return
	}
	s.phraseSet[phrase] = struct{}{}
	s.phrases = append(s.phrases, phrase)
}

// TotalMinutes sums all recorded practice time.
func (s *Stats) TotalMinutes() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, m := range s.perDayMinutes {
		total += m
	}
	return total
}

// WeeklyMinutes sums the last 7 calendar days including today.
func (s *Stats) WeeklyMinutes(now time.Time) float64 {
	return s.rangeMinutes(now, 0, 7)
}

// LastWeekMinutes sums the 7 calendar days before the current week.
func (s *Stats) LastWeekMinutes(now time.Time) float64 {
	return s.rangeMinutes(now, 7, 7)
}

// rangeMinutes sums minutes over days [now-offset-span+1, now-offset].
func (s *Stats) rangeMinutes(now time.Time, offsetDays, spanDays int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for i := 0; i < spanDays; i++ {
		day := now.AddDate(0, 0, -(offsetDays + i)).Format(dayFormat)
		total += s.perDayMinutes[day]
	}
	return total
}

// Completed returns a copy of the completion log, oldest first.
func (s *Stats) Completed() []CompletedScenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CompletedScenario, len(s.completed))
	copy(out, s.completed)
	return out
}

// Phrases returns the learned phrases in insertion order.
func (s *Stats) Phrases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.phrases))
	copy(out, s.phrases)
	return out
}

// PhraseCount returns the number of distinct learned phrases.
func (s *Stats) PhraseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.phrases)
}
