package session

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mantelhq/triage/pkg/schema"
)

const (
	// DefaultTTL bounds how long an abandoned thread keeps its state.
	DefaultTTL = 45 * time.Minute
	// cleanupInterval is how often the janitor sweeps expired entries.
	cleanupInterval = 10 * time.Minute
)

// Session is the tracked conversational state for one key.
type Session struct {
	Phase        Phase
	UserID       string
	ThreadID     string
	ChannelID    string
	OriginalText string
	Analysis     *schema.AnalysisData
	LastQuery    string
	EnteredAt    time.Time
}

// UserKey keys edit-pending state, which follows the user across the channel.
func UserKey(userID, channelID string) string {
	return userID + "|" + channelID
}

// ThreadKey keys all thread-scoped phases.
func ThreadKey(threadID, channelID string) string {
	return threadID + "|" + channelID
}

// Store holds session state in memory with time-based eviction. At most one
// session is active per key: entering a phase replaces any previous entry.
type Store struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewStore creates a Store. A non-positive ttl falls back to DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		cache: gocache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// Get returns the session for key, or false when the key is idle.
func (s *Store) Get(key string) (*Session, bool) {
	v, found := s.cache.Get(key)
	if !found {
		return nil, false
	}
	sess, ok := v.(*Session)
	if !ok {
		return nil, false
	}
	return sess, true
}

// Phase returns the current phase for key; an absent entry is PhaseIdle.
func (s *Store) Phase(key string) Phase {
	sess, found := s.Get(key)
	if !found {
		return PhaseIdle
	}
	return sess.Phase
}

// Enter validates the transition from the key's current phase and stores the
// session, replacing any previous entry and resetting the TTL.
func (s *Store) Enter(key string, sess *Session) error {
	if err := ValidateTransition(s.Phase(key), sess.Phase); err != nil {
		return err
	}
	sess.EnteredAt = time.Now()
	s.cache.Set(key, sess, s.ttl)
	return nil
}

// Take returns the session for key and clears it in one step. Transition
// handlers use it to guarantee state is never left mid-transition.
func (s *Store) Take(key string) (*Session, bool) {
	sess, found := s.Get(key)
	if found {
		s.cache.Delete(key)
	}
	return sess, found
}

// Clear removes the key, returning it to PhaseIdle.
func (s *Store) Clear(key string) {
	s.cache.Delete(key)
}

// Len reports how many keys currently hold state.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}
