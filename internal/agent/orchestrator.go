// Package agent owns the conversation turn-taking: it watches the session
// store for a new finalized user utterance, calls the reply generator once
// per utterance, merges the reply and feedback back into shared state and
// hands the reply text to playback.
package agent

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cyoungie/VOCA/internal/llm"
	"github.com/cyoungie/VOCA/internal/scenario"
	"github.com/cyoungie/VOCA/internal/session"
	"github.com/cyoungie/VOCA/internal/tts"
)

const generateTimeout = 20 * time.Second

// Orchestrator serializes reply generation: at most one dispatch in flight
// per session, with utterances arriving meanwhile queued implicitly in the
// turn history and served in arrival order.
type Orchestrator struct {
	store    *session.Store
	gen      ReplyGenerator
	speaker  SpeechPlayer
	language string

	mu sync.Mutex
	// inFlight guards the single outstanding generator call; inFlightGen is
	// the session generation that dispatch was issued under, so a finish from
	// a superseded session cannot release the new session's guard.
	inFlight    bool
	inFlightGen uint64
	// lastProcessed is the watermark into the turn history: everything below
	// it has been served or skipped. The next unserved user turn above it is
	// the dispatch candidate.
	lastProcessed int
}

// New builds an orchestrator over the shared store.
func New(store *session.Store, gen ReplyGenerator, speaker SpeechPlayer, language string) *Orchestrator {
	return &Orchestrator{store: store, gen: gen, speaker: speaker, language: language}
}

// BeginSession resets per-session tracking. Call after store.StartSession.
func (o *Orchestrator) BeginSession() {
	o.mu.Lock()
	o.inFlight = false
	o.lastProcessed = 0
	o.mu.Unlock()
}

// InFlight reports whether a dispatch is outstanding.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Evaluate runs the trigger check: an unserved user utterance past the
// watermark and no dispatch in flight. Utterances that arrived while a
// dispatch was in flight are served from here one at a time, in arrival
// order. Safe to call repeatedly; an utterance already processed is never
// re-dispatched.
func (o *Orchestrator) Evaluate(ctx context.Context) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return
	}
	turns := o.store.Turns()
	idx := -1
	for i := o.lastProcessed; i < len(turns); i++ {
		if turns[i].Speaker == session.SpeakerUser {
			idx = i
			break
		}
		o.lastProcessed = i + 1
	}
	if idx < 0 {
		o.mu.Unlock()
		return
	}
	gen := o.store.Generation()
	o.inFlight = true
	o.inFlightGen = gen
	o.lastProcessed = idx + 1
	o.mu.Unlock()

	o.store.SetMicState(session.MicProcessing)
	go o.dispatch(ctx, gen, turns[idx].Text, turns[:idx])
}

// Greet asks the character to open the conversation. Used at session start;
// shares the single-dispatch guard with Evaluate.
func (o *Orchestrator) Greet(ctx context.Context) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return
	}
	gen := o.store.Generation()
	o.inFlight = true
	o.inFlightGen = gen
	o.mu.Unlock()

	o.store.SetMicState(session.MicProcessing)
	go o.dispatchRequest(ctx, gen, llm.Request{Greeting: true})
}

// dispatch generates a reply for one finalized utterance.
func (o *Orchestrator) dispatch(ctx context.Context, gen uint64, utterance string, prior []session.Turn) {
	req := llm.Request{Utterance: utterance, History: toLLMTurns(prior)}
	o.dispatchRequest(ctx, gen, req)
}

func (o *Orchestrator) dispatchRequest(ctx context.Context, gen uint64, req llm.Request) {
	var once sync.Once
	finish := func() { once.Do(func() { o.finish(gen) }) }

	if scn, ok := scenario.Get(o.store.ScenarioID()); ok {
		req.ScenarioTitle = scn.Title
		req.CharacterRole = scn.CharacterRole
		req.Goals = scn.Goals
		req.GoalIndex = o.store.GoalIndex()
		if req.GoalIndex < len(scn.Goals) {
			req.CurrentGoal = scn.Goals[req.GoalIndex]
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	reply, err := o.gen.Generate(genCtx, req)
	cancel()
	if err != nil {
		log.Printf("agent: reply generation failed: %v", err)
		if o.store.Generation() == gen {
			o.store.SetBanner("Couldn't reach the conversation service. Please try again.")
			o.store.PushFeedback(session.FeedbackItem{
				Kind: session.FeedbackTip,
				Text: "Connection hiccup - say that one more time.",
			})
		}
		finish()
		return
	}

	if o.store.Generation() != gen {
		// session exited while the call was in flight; drop the result
		finish()
		return
	}

	o.store.AppendTurn(session.SpeakerAssistant, reply.Reply)
	for _, f := range reply.Feedback {
		o.store.PushFeedback(session.FeedbackItem{Kind: session.FeedbackKind(f.Type), Text: f.Text})
		if f.Type == string(session.FeedbackGoal) {
			o.store.AdvanceGoal()
		}
	}

	text := strings.TrimSpace(reply.Reply)
	if text == "" {
		finish()
		return
	}

	o.speaker.Speak(ctx, text, tts.Options{
		Rate:     o.store.PlaybackRate(),
		Language: o.language,
		OnStart:  func() { o.store.SetSpeaking(gen, true) },
		OnEnd:    finish,
		OnError:  func(err error) { log.Printf("agent: playback failed: %v", err) },
	})
	// Speak fires OnEnd on every path; finish here only covers a player
	// that violates the contract.
	finish()
}

// finish is the per-dispatch reset: clear speaking, return the mic to
// listening, release the in-flight guard, then re-run the trigger so an
// utterance that queued up mid-flight is served next. It runs exactly once
// per dispatch regardless of which path completed, so the orchestrator can
// never be left stuck in processing. A finish from a superseded session
// leaves the guard alone: BeginSession already reset it, and the new
// session may hold it for its own dispatch.
func (o *Orchestrator) finish(gen uint64) {
	o.store.SetSpeaking(gen, false)
	current := o.store.Generation() == gen
	if current {
		o.store.SetMicState(session.MicListening)
	}
	o.mu.Lock()
	if o.inFlight && o.inFlightGen == gen {
		o.inFlight = false
	}
	o.mu.Unlock()
	if current {
		o.Evaluate(context.Background())
	}
}

func toLLMTurns(turns []session.Turn) []llm.Turn {
	out := make([]llm.Turn, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleAssistant
		if t.Speaker == session.SpeakerUser {
			role = llm.RoleUser
		}
		out = append(out, llm.Turn{Role: role, Text: t.Text})
	}
	return out
}
