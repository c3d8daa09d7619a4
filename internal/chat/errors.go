package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

var (
	// ErrOverloaded wraps a 503 from the model API.
	ErrOverloaded = errors.New("The service is currently overloaded. Please try again in a moment.")

	// ErrEmptyMessage is returned for a turn with neither text nor image.
	ErrEmptyMessage = errors.New("Please type a message or attach an image.")
)

// Messages shown to the user by [Friendly].
const (
	MsgFallback    = "I'm having trouble connecting right now. Please try again in a moment."
	MsgOffline     = "It looks like you're offline. Please check your internet connection and try again."
	MsgBusy        = "I'm currently experiencing high traffic. Please give me a moment and try again."
	MsgRateLimited = "I've reached my message limit for now. Please wait a minute before asking again."
	MsgConfig      = "There seems to be a configuration issue with the service connection. Please check the API key and try again."
	MsgRegion      = "I'm sorry, but this service might not be available in your region yet."
	MsgSafety      = "I couldn't provide a response to that specific request due to safety guidelines. Please try asking in a different way."
)

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusServiceUnavailable {
		return fmt.Errorf("chat: %w: %w", ErrOverloaded, err)
	}
	return fmt.Errorf("chat: generate content: %w", err)
}

// Friendly maps a chat error to a short message for the user. Short errors
// without structure (no colon or brace) are shown as they are; anything
// unrecognised gets [MsgFallback].
func Friendly(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrOverloaded) {
		return MsgBusy
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return MsgRateLimited
		case http.StatusUnauthorized, http.StatusForbidden:
			return MsgConfig
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "fetch failed", "networkerror", "failed to fetch", "network request failed",
		"no such host", "connection refused", "network is unreachable"):
		return MsgOffline
	case containsAny(msg, "503", "overloaded", "capacity"):
		return MsgBusy
	case containsAny(msg, "429", "quota", "limit"):
		return MsgRateLimited
	case containsAny(msg, "403", "key", "unauthorized", "permission"):
		return MsgConfig
	case containsAny(msg, "location", "region", "supported"):
		return MsgRegion
	case containsAny(msg, "safety", "blocked", "candidate"):
		return MsgSafety
	}

	if raw := err.Error(); len(raw) < 200 && !strings.ContainsAny(raw, "{:") {
		return raw
	}
	return MsgFallback
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
