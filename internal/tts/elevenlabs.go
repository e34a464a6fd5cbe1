package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultModelID = "eleven_flash_v2_5"

// AudioPlayer delivers synthesized audio bytes to the output at the given
// rate. Implementations own the decode/playback resources and must release
// them before returning.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte, rate float64) error
}

// ElevenLabsClient is the remote voice provider: one request per call,
// binary audio back.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	VoiceID    string
	ModelID    string
	Player     AudioPlayer
}

// NewElevenLabsClient builds the remote path; empty model selects the
// default.
func NewElevenLabsClient(apiKey, voiceID, modelID string, player AudioPlayer) *ElevenLabsClient {
	if modelID == "" {
		modelID = defaultModelID
	}
	return &ElevenLabsClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		VoiceID:    voiceID,
		ModelID:    modelID,
		Player:     player,
	}
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type synthesisError struct {
	Detail struct {
		Message string `json:"message"`
	} `json:"detail"`
	Message string `json:"message"`
}

// Speak issues the synthesis request and plays the returned audio. A remote
// failure reports OnError then OnEnd; it never falls back to local.
func (e *ElevenLabsClient) Speak(ctx context.Context, text string, opts Options) {
	audio, err := e.synthesize(ctx, text)
	if err != nil {
		opts.fail(&PlaybackError{Path: "remote", Err: err})
		opts.end()
		return
	}

	opts.start()
	err = e.Player.Play(ctx, audio, clampRate(opts.Rate))
	if err != nil {
		opts.fail(&PlaybackError{Path: "remote", Err: err})
	}
	opts.end()
}

func (e *ElevenLabsClient) synthesize(ctx context.Context, text string) ([]byte, error) {
	if e.APIKey == "" || e.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs credential or voice id missing")
	}
	endpoint := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s", e.VoiceID)

	buf, _ := json.Marshal(synthesisRequest{Text: text, ModelID: e.ModelID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var se synthesisError
		if json.Unmarshal(raw, &se) == nil {
			if se.Detail.Message != "" {
				return nil, fmt.Errorf("voice synthesis failed (status %d): %s", resp.StatusCode, se.Detail.Message)
			}
			if se.Message != "" {
				return nil, fmt.Errorf("voice synthesis failed (status %d): %s", resp.StatusCode, se.Message)
			}
		}
		return nil, fmt.Errorf("voice synthesis failed: status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("voice synthesis returned no audio")
	}
	return audio, nil
}
