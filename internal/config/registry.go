package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/healthguide/internal/chat"
	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/MrWong99/healthguide/pkg/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	live  map[string]func(ProviderEntry) (live.Transport, error)
	chat  map[string]func(ProviderEntry) (chat.Generator, error)
	audio map[string]func(ProviderEntry) (audio.Devices, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:  make(map[string]func(ProviderEntry) (live.Transport, error)),
		chat:  make(map[string]func(ProviderEntry) (chat.Generator, error)),
		audio: make(map[string]func(ProviderEntry) (audio.Devices, error)),
	}
}

// RegisterLive registers a live transport factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Transport, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterChat registers a chat generator factory under name.
func (r *Registry) RegisterChat(name string, factory func(ProviderEntry) (chat.Generator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Devices, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLive instantiates a live transport using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Transport, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateChat instantiates a chat generator using the factory registered under entry.Name.
func (r *Registry) CreateChat(entry ProviderEntry) (chat.Generator, error) {
	r.mu.RLock()
	factory, ok := r.chat[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: chat/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates audio devices using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Devices, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names for kind ("live", "chat" or
// "audio"), unsorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "live":
		for n := range r.live {
			names = append(names, n)
		}
	case "chat":
		for n := range r.chat {
			names = append(names, n)
		}
	case "audio":
		for n := range r.audio {
			names = append(names, n)
		}
	}
	return names
}
