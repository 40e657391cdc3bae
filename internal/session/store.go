// Package session keeps the short per-browser conversational history used as
// LLM context. Histories live in an in-process TTL cache keyed by session id.
package session

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const defaultTTL = 24 * time.Hour

// Store holds session histories.
type Store struct {
	cache  *cache.Cache
	window int

	// serialises appends and clears
	mu sync.Mutex
}

// NewStore creates a Store whose idle sessions expire after ttl.
// ttl <= 0 uses 24h; window <= 0 uses DefaultWindow.
func NewStore(ttl time.Duration, window int) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		cache:  cache.New(ttl, ttl/2),
		window: window,
	}
}

// Window returns the configured history length.
func (s *Store) Window() int { return s.window }

// History returns a copy of the session's history, oldest first.
func (s *Store) History(id string) []Entry {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil
	}
	h := v.([]Entry)
	out := make([]Entry, len(h))
	copy(out, h)
	return out
}

// Append adds an entry to the session's history and refreshes its expiry.
func (s *Store) Append(id string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h []Entry
	if v, ok := s.cache.Get(id); ok {
		h = v.([]Entry)
	}
	s.cache.Set(id, Append(h, e, s.window), cache.DefaultExpiration)
}

// Clear drops the session's history.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(id)
}

// Session binds a session id to its Store. It is the explicit session object
// handed to the pipeline.
type Session struct {
	id    string
	store *Store
}

// Open returns the Session for id.
func (s *Store) Open(id string) *Session {
	return &Session{id: id, store: s}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// History returns the session's recent entries, oldest first.
func (s *Session) History() []Entry { return s.store.History(s.id) }

// Add appends one interaction to the session's window.
func (s *Session) Add(userMessage, botResponse string) {
	s.store.Append(s.id, Entry{UserMessage: userMessage, BotResponse: botResponse})
}

// Clear empties the session's window.
func (s *Session) Clear() { s.store.Clear(s.id) }
