package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/google/uuid"
)

var (
	// ErrRevoked is returned when a revoked (or foreign) handle is used.
	ErrRevoked = errors.New("audio handle revoked")
	// ErrEmptyPayload is returned when registering zero bytes.
	ErrEmptyPayload = errors.New("audio payload is empty")
)

// Manager owns registered audio resources and the playback slot.
type Manager struct {
	mu     sync.Mutex
	store  core.ObjectStore
	player Player
	log    *logger.Logger
	now    func() time.Time

	live map[string]*Handle

	active   *Handle
	playback Playback
	// playSeq identifies the current playback so that a late end-of-playback
	// signal from a superseded Play is ignored.
	playSeq uint64
}

// NewManager creates a Manager storing bytes in store and rendering with player.
func NewManager(store core.ObjectStore, player Player, log *logger.Logger) *Manager {
	return &Manager{
		store:  store,
		player: player,
		log:    log,
		now:    time.Now,
		live:   make(map[string]*Handle),
	}
}

// Register wraps raw bytes into a revocable handle.
func (m *Manager) Register(ctx context.Context, data []byte, mimeType string) (*Handle, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	handle := &Handle{
		key:       uuid.NewString(),
		mimeType:  mimeType,
		size:      len(data),
		createdAt: m.now(),
	}

	duration, probeErr := ProbeDuration(data, mimeType)
	if probeErr != nil {
		m.log.Warn("Could not probe duration of %s (%s): %v", handle.key, mimeType, probeErr)
	}

	handle.duration = duration

	err := m.store.Upload(ctx, handle.key, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store audio resource: %w", err)
	}

	m.mu.Lock()
	m.live[handle.key] = handle
	m.mu.Unlock()

	m.log.Info("Registered audio resource %s (%s, %d bytes)", handle.URI(), mimeType, len(data))

	return handle, nil
}

// Revoke releases the storage behind handle. Revoking an already revoked
// handle is a no-op. A revoked handle that is playing is stopped first.
func (m *Manager) Revoke(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}

	m.mu.Lock()

	if _, ok := m.live[handle.key]; !ok {
		m.mu.Unlock()

		return nil
	}

	delete(m.live, handle.key)

	if m.active == handle {
		m.stopLocked()
	}

	m.mu.Unlock()

	err := m.store.Delete(ctx, handle.key)
	if err != nil {
		m.log.Error("Failed to release audio resource %s: %v", handle.URI(), err)

		return fmt.Errorf("failed to release audio resource %s: %w", handle.key, err)
	}

	m.log.Info("Revoked audio resource %s", handle.URI())

	return nil
}

// IsLive reports whether handle has been registered and not yet revoked.
func (m *Manager) IsLive(handle *Handle) bool {
	if handle == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.live[handle.key]

	return ok
}

// LiveCount returns the number of live handles.
func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.live)
}

// Open returns the bytes behind a live handle, for download.
func (m *Manager) Open(ctx context.Context, handle *Handle) ([]byte, error) {
	if !m.IsLive(handle) {
		return nil, ErrRevoked
	}

	data, err := m.store.Download(ctx, handle.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio resource %s: %w", handle.key, err)
	}

	return data, nil
}

// TogglePlay stops handle if it is the active target; otherwise it silences
// whatever is active and starts handle. It returns whether handle is now playing.
func (m *Manager) TogglePlay(ctx context.Context, handle *Handle) (bool, error) {
	m.mu.Lock()

	if handle != nil && m.active == handle {
		m.stopLocked()
		m.mu.Unlock()

		return false, nil
	}

	m.mu.Unlock()

	err := m.Play(ctx, handle)
	if err != nil {
		return false, err
	}

	return true, nil
}

// Play makes handle the active target, silencing any previous one first.
func (m *Manager) Play(ctx context.Context, handle *Handle) error {
	data, err := m.Open(ctx, handle)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// The handle may have been revoked while its bytes were being read.
	if _, ok := m.live[handle.key]; !ok {
		return ErrRevoked
	}

	m.stopLocked()

	m.playSeq++
	seq := m.playSeq

	playback, err := m.player.Play(ctx, data, handle.mimeType, func() { m.ended(seq) })
	if err != nil {
		return fmt.Errorf("failed to start playback of %s: %w", handle.key, err)
	}

	m.active = handle
	m.playback = playback

	m.log.Info("Playing %s", handle.URI())

	return nil
}

// Stop silences the active target, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()
}

// Active returns the active playback target, or nil.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active
}

func (m *Manager) stopLocked() {
	if m.active == nil {
		return
	}

	m.playSeq++

	if m.playback != nil {
		m.playback.Stop()
	}

	m.log.Info("Stopped %s", m.active.URI())

	m.active = nil
	m.playback = nil
}

// ended resets the slot when the playback identified by seq ran out.
func (m *Manager) ended(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.playSeq || m.active == nil {
		return
	}

	m.log.Info("Finished %s", m.active.URI())

	m.active = nil
	m.playback = nil
}
