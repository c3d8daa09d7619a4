package chat

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiConfig configures [NewGemini].
type GeminiConfig struct {
	APIKey string

	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
}

// NewGemini returns a Generator backed by the Gemini API.
func NewGemini(ctx context.Context, cfg GeminiConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("chat: gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("chat: create gemini client: %w", err)
	}
	return client.Models, nil
}
