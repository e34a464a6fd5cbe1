package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	api "github.com/cyoungie/VOCA/api/http"
	"github.com/cyoungie/VOCA/internal/agent"
	"github.com/cyoungie/VOCA/internal/config"
	"github.com/cyoungie/VOCA/internal/llm"
	"github.com/cyoungie/VOCA/internal/profile"
	"github.com/cyoungie/VOCA/internal/session"
	"github.com/cyoungie/VOCA/internal/tts"
)

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler
	Echo   *echo.Echo
}

// Build constructs the application from config and registers all routes.
func Build(cfg config.Config) *Server {
	store := session.NewStore()
	prof := profile.NewProfile("")
	stats := profile.NewStats()

	generator := llm.NewGeminiClient(cfg.GeminiKey, cfg.GeminiModelID)

	broadcaster := api.NewAudioBroadcaster()
	var remote tts.Synthesizer
	if cfg.ElevenLabsKey != "" {
		remote = tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, "", broadcaster)
	}
	local := tts.NewLocalSynthesizer(newTimedEngine(cfg.Language))
	speaker := tts.NewSpeaker(remote, local)

	orch := agent.New(store, generator, speaker, cfg.Language)

	e := New()
	h := api.NewHandlers(store, prof, stats, orch, speaker, cfg.Language)
	h.Broadcaster = broadcaster
	h.AssemblyAIKey = cfg.AssemblyAIKey
	h.Register(e)

	return &Server{Router: e, Echo: e}
}
