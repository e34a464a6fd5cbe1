// Package llm is the stateless reply generator: one request, one structured
// reply-plus-feedback envelope.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultModel = "gemini-2.0-flash"

// ErrEmptyReply is returned when the provider answers successfully but with
// no candidate text.
var ErrEmptyReply = errors.New("empty reply from language model")

// ReplyServiceError is a transport-level failure calling the reply endpoint.
type ReplyServiceError struct {
	StatusCode int
	Message    string
}

func (e *ReplyServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("reply service error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("reply service error: status %d", e.StatusCode)
}

// Role labels for conversation turns sent to the provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior utterance of the conversation.
type Turn struct {
	Role string
	Text string
}

// Feedback is a single coaching item returned by the model.
type Feedback struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply is the parsed model response.
type Reply struct {
	Reply    string     `json:"reply"`
	Feedback []Feedback `json:"feedback"`
}

// Request carries everything the generator needs for one reply.
type Request struct {
	Utterance     string
	History       []Turn // prior turns, excluding Utterance
	ScenarioTitle string
	CharacterRole string
	CurrentGoal   string // empty when all goals are done
	Goals         []string
	GoalIndex     int // zero-based
	Greeting      bool
}

// GeminiClient calls the generateContent endpoint. No state is retained
// between calls.
type GeminiClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
}

// NewGeminiClient builds a client; an empty model selects the default.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	if model == "" {
		model = defaultModel
	}
	return &GeminiClient{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		APIKey:     apiKey,
		Model:      model,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int     `json:"maxOutputTokens"`
		Temperature     float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// buildSystemPrompt casts the model as the scenario character, lists the
// goals with their 1-based positions and pins the output contract to a
// single JSON object.
func buildSystemPrompt(req Request) string {
	goalList := "N/A"
	if len(req.Goals) > 0 {
		var b strings.Builder
		for i, g := range req.Goals {
			fmt.Fprintf(&b, "%d. %s\n", i+1, g)
		}
		goalList = strings.TrimRight(b.String(), "\n")
	}
	current := "No specific goal."
	if req.CurrentGoal != "" {
		current = fmt.Sprintf("Current goal: %s", req.CurrentGoal)
	}
	greeting := ""
	if req.Greeting {
		greeting = "\nIMPORTANT: This is the start of the conversation. Greet the user warmly as your character would, introduce yourself briefly, and invite them to start practicing. Keep it friendly and encouraging (1-2 sentences)."
	}
	return fmt.Sprintf(`You are the AI character in a language learning conversation. You play the role of: %s in a %s scenario.

Your goals for this scenario (help the user practice these):
%s

%s (Goal %d of %d)
%s

Rules:
- Respond naturally and briefly as %s would (1-3 sentences).
- After your reply, give the learner one short feedback or tip to improve (pronunciation, phrase, or next step).
- Respond in the same language the user used. If the user is practicing another language, you may respond in that language and add a brief English tip.
- Output valid JSON only, no markdown or extra text.

Output format (JSON only):
{"reply": "Your spoken response as the character", "feedback": [{"type": "success", "text": "Great pronunciation!"}]}
You may include 0, 1 or 2 feedback items. "type" must be one of: success, tip, goal.`,
		req.CharacterRole, req.ScenarioTitle, goalList, current, req.GoalIndex+1, len(req.Goals), greeting, req.CharacterRole)
}

// buildContents converts history plus the latest utterance into provider
// contents. Gemini uses role "model" for assistant turns.
func buildContents(req Request) []geminiContent {
	if req.Greeting {
		return []geminiContent{{Role: "user", Parts: []geminiPart{{Text: "Start the conversation by greeting the user warmly."}}}}
	}
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, t := range req.History {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := "model"
		if t.Role == RoleUser {
			role = "user"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: t.Text}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: req.Utterance}}})
	return contents
}

// Generate sends one request and returns the parsed reply envelope.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Reply, error) {
	if c.APIKey == "" {
		return Reply{}, fmt.Errorf("gemini api key missing: set GEMINI_API_KEY")
	}
	endpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", c.Model)

	sys := buildSystemPrompt(req)
	body := generateRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: sys}}},
		Contents:          buildContents(req),
	}
	body.GenerationConfig.MaxOutputTokens = 400
	body.GenerationConfig.Temperature = 0.7

	buf, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return Reply{}, err
	}
	httpReq.Header.Set("x-goog-api-key", c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("call reply service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var pe providerError
		msg := ""
		if json.Unmarshal(raw, &pe) == nil {
			if pe.Error.Message != "" {
				msg = pe.Error.Message
			} else {
				msg = pe.Message
			}
		}
		return Reply{}, &ReplyServiceError{StatusCode: resp.StatusCode, Message: msg}
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return Reply{}, fmt.Errorf("decode reply service response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return Reply{}, ErrEmptyReply
	}
	content := strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)
	if content == "" {
		return Reply{}, ErrEmptyReply
	}
	return parseReply(content), nil
}

// parseReply parses the model output. Malformed JSON is not an error: the
// model occasionally emits prose, so the raw text becomes the reply with no
// feedback.
func parseReply(content string) Reply {
	var r Reply
	if err := json.Unmarshal([]byte(content), &r); err != nil {
		return Reply{Reply: content}
	}
	r.Feedback = sanitizeFeedback(r.Feedback)
	return r
}

// sanitizeFeedback silently drops items with an unknown type or empty text.
func sanitizeFeedback(items []Feedback) []Feedback {
	out := items[:0]
	for _, f := range items {
		switch f.Type {
		case "success", "tip", "goal":
		default:
			continue
		}
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
