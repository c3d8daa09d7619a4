package session

import (
	"fmt"
	"strings"
)

// Voice is one of the prebuilt voices the live model can speak with.
type Voice string

// Available voices.
const (
	Kore   Voice = "Kore"
	Puck   Voice = "Puck"
	Fenrir Voice = "Fenrir"
	Zephyr Voice = "Zephyr"
	Charon Voice = "Charon"
)

// DefaultVoice is used when no voice is configured.
const DefaultVoice = Kore

// VoiceInfo pairs a voice with its display label.
type VoiceInfo struct {
	Voice Voice
	Label string
}

var voices = []VoiceInfo{
	{Kore, "Calm"},
	{Puck, "Energetic"},
	{Fenrir, "Deep"},
	{Zephyr, "Gentle"},
	{Charon, "Steady"},
}

// Voices returns every selectable voice in display order.
func Voices() []VoiceInfo {
	return append([]VoiceInfo(nil), voices...)
}

// Label returns the display label of v, or "" for an unknown voice.
func (v Voice) Label() string {
	for _, info := range voices {
		if info.Voice == v {
			return info.Label
		}
	}
	return ""
}

// ParseVoice resolves a voice name case-insensitively. An empty name yields
// [DefaultVoice].
func ParseVoice(name string) (Voice, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultVoice, nil
	}
	for _, info := range voices {
		if strings.EqualFold(string(info.Voice), name) {
			return info.Voice, nil
		}
	}
	return "", fmt.Errorf("session: unknown voice %q", name)
}

// VoiceInstructions is the system prompt for a voice call.
const VoiceInstructions = `You are Health Guide, a warm and concise voice assistant for general health information.
You are speaking out loud, so never use markdown, lists or symbols. Keep answers short and conversational.
If the user describes a symptom vaguely, ask one clarifying question before answering.
Never diagnose a condition and never prescribe treatment. You may briefly explain what a common medicine is used for.
When you suggest seeing a specialist, name the kind of specialist and say why in one sentence.
End substantive health answers with a brief reminder: "Remember, I'm an AI, not a doctor, so this is just information."
Speak in a calm, reassuring voice.`
