package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress       string
	Language          string
	GeminiKey         string
	GeminiModelID     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	AssemblyAIKey     string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	language := os.Getenv("LANGUAGE")
	if language == "" {
		language = "en-US"
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-2.0-flash"
	}
	if geminiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set - reply generation will not work")
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if elevenKey == "" {
		log.Println("ELEVENLABS_API_KEY not set - falling back to on-device speech synthesis")
	}

	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	if elevenKey != "" && voiceID == "" {
		log.Println("Warning: ELEVENLABS_VOICE_ID not set - set a concrete voice ID from your ElevenLabs dashboard")
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("ASSEMBLYAI_API_KEY not set - clients use their own speech recognition")
	}

	log.Printf("config: HTTP_ADDRESS=%s language=%s", addr, language)
	return Config{
		HTTPAddress:       addr,
		Language:          language,
		GeminiKey:         geminiKey,
		GeminiModelID:     geminiModel,
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: voiceID,
		AssemblyAIKey:     assemblyAIKey,
	}
}
