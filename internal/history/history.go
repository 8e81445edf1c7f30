// Package history keeps the generated results of a session, most recent first.
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/audio"
	"github.com/book-expert/voice-studio/internal/tts"
)

// ErrNotFound is returned when an id is not in the history.
var ErrNotFound = errors.New("generation result not found")

// GenerationResult is one successful synthesis. It is immutable once added.
type GenerationResult struct {
	ID        string
	Text      string
	VoiceID   string
	Language  tts.Language
	Format    tts.Format
	Handle    *audio.Handle
	CreatedAt time.Time
}

// Revoker releases the resource behind a handle.
type Revoker interface {
	Revoke(ctx context.Context, handle *audio.Handle) error
}

// Store is the ordered result sequence. Every path that drops a result
// revokes its handle.
type Store struct {
	mu      sync.Mutex
	entries []GenerationResult
	limit   int

	revoker Revoker
	log     *logger.Logger
}

// NewStore creates an empty Store. A limit of zero or less keeps every entry.
func NewStore(revoker Revoker, limit int, log *logger.Logger) *Store {
	return &Store{revoker: revoker, limit: limit, log: log}
}

// Add prepends result. When the limit is exceeded the oldest entries are
// evicted and revoked.
func (s *Store) Add(ctx context.Context, result GenerationResult) {
	s.mu.Lock()

	s.entries = append([]GenerationResult{result}, s.entries...)

	var evicted []GenerationResult
	if s.limit > 0 && len(s.entries) > s.limit {
		evicted = append(evicted, s.entries[s.limit:]...)
		s.entries = s.entries[:s.limit:s.limit]
	}

	size := len(s.entries)

	s.mu.Unlock()

	s.log.Info("History added %s (%d entries)", result.ID, size)

	for _, entry := range evicted {
		s.log.Info("History limit %d reached, evicting %s", s.limit, entry.ID)
		s.release(ctx, entry)
	}
}

// Remove deletes the entry with id and revokes its handle.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()

	index := -1

	for i, entry := range s.entries {
		if entry.ID == id {
			index = i

			break
		}
	}

	if index < 0 {
		s.mu.Unlock()

		return ErrNotFound
	}

	removed := s.entries[index]
	s.entries = append(s.entries[:index:index], s.entries[index+1:]...)

	s.mu.Unlock()

	s.log.Info("History removed %s", id)
	s.release(ctx, removed)

	return nil
}

// Clear empties the history in one step and revokes every handle it held.
func (s *Store) Clear(ctx context.Context) int {
	s.mu.Lock()

	removed := s.entries
	s.entries = nil

	s.mu.Unlock()

	for _, entry := range removed {
		s.release(ctx, entry)
	}

	s.log.Info("History cleared (%d entries)", len(removed))

	return len(removed)
}

// List returns a snapshot, most recent first.
func (s *Store) List() []GenerationResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]GenerationResult, len(s.entries))
	copy(out, s.entries)

	return out
}

// Get returns the entry with id.
func (s *Store) Get(id string) (GenerationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.ID == id {
			return entry, nil
		}
	}

	return GenerationResult{}, ErrNotFound
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Store) release(ctx context.Context, entry GenerationResult) {
	err := s.revoker.Revoke(ctx, entry.Handle)
	if err != nil {
		s.log.Error("Failed to revoke audio of %s: %v", entry.ID, err)
	}
}
