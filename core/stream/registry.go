package stream

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry tracks live sessions by channel id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s. A channel can hold one session at a time.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ChannelID()]; ok {
		return ErrSessionExists
	}
	r.sessions[s.ChannelID()] = s
	return nil
}

// Get returns the session for channelID.
func (r *Registry) Get(channelID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[channelID]
	return s, ok
}

// Remove unregisters s if it is still the session for its channel.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ChannelID()]; ok && cur == s {
		delete(r.sessions, s.ChannelID())
	}
}

// List returns the live sessions ordered by channel id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := lo.Values(r.sessions)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID() < out[j].ChannelID() })
	return out
}

// Len counts live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAll stops every session concurrently and waits for them.
func (r *Registry) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range r.List() {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop(ctx)
			r.Remove(s)
		}(s)
	}
	wg.Wait()
}
