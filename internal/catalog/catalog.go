// Package catalog holds the known voice profiles and the active selection.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/core"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownVoice is returned when selecting an id that is not in the catalog.
var ErrUnknownVoice = errors.New("unknown voice profile")

const fetchKey = "speakers"

// VoiceProfile names a synthesizable voice, built-in or cloned.
type VoiceProfile struct {
	ID string
}

// SpeakerSource returns the raw speaker listing of the service.
type SpeakerSource interface {
	FetchSpeakers(ctx context.Context) ([]byte, error)
}

// Catalog is the set of known voice profiles plus the current selection.
// The selection always references a known profile, or is empty.
type Catalog struct {
	mu       sync.RWMutex
	profiles []VoiceProfile
	selected string

	source SpeakerSource
	group  singleflight.Group
	log    *logger.Logger
}

// New creates an empty catalog fed by source.
func New(source SpeakerSource, log *logger.Logger) *Catalog {
	return &Catalog{source: source, log: log}
}

// Fetch loads the profile set from the service and replaces the known set.
// Concurrent callers share one in-flight request, which is not tied to any
// one caller's ctx. Failures leave the current set and selection untouched
// and wrap core.ErrServiceUnavailable; a caller whose ctx ends gets
// core.ErrCancelled and does not replace the set.
func (c *Catalog) Fetch(ctx context.Context) ([]VoiceProfile, error) {
	flight := c.group.DoChan(fetchKey, func() (any, error) {
		body, err := c.source.FetchSpeakers(context.WithoutCancel(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrServiceUnavailable, err)
		}

		ids, err := NormalizeSpeakers(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrServiceUnavailable, err)
		}

		return ids, nil
	})

	var result singleflight.Result

	select {
	case result = <-flight:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", core.ErrCancelled, ctx.Err())
	}

	if result.Err != nil {
		c.log.Error("Failed to fetch voice profiles: %v", result.Err)

		return nil, result.Err
	}

	ids, _ := result.Val.([]string)

	return c.Replace(ids), nil
}

// Replace swaps the known set. A selection that no longer exists (or an empty
// one) falls back to the first profile, or to none when the set is empty.
func (c *Catalog) Replace(ids []string) []VoiceProfile {
	profiles := make([]VoiceProfile, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if id == "" {
			continue
		}

		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}
		profiles = append(profiles, VoiceProfile{ID: id})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.selected
	c.profiles = profiles

	if _, ok := seen[c.selected]; !ok {
		c.selected = ""
		if len(profiles) > 0 {
			c.selected = profiles[0].ID
		}
	}

	c.log.Info("Voice catalog replaced: %d profiles, selection %q (was %q)", len(profiles), c.selected, previous)

	return c.snapshotLocked()
}

// Include adds id to the known set if it is missing.
func (c *Catalog) Include(id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexLocked(id) >= 0 {
		return
	}

	c.profiles = append(c.profiles, VoiceProfile{ID: id})

	if c.selected == "" {
		c.selected = id
	}
}

// Select makes id the active selection. It must be a known profile.
func (c *Catalog) Select(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownVoice, id)
	}

	c.selected = id

	return nil
}

// Lookup returns the known profile with id without touching the selection.
func (c *Catalog) Lookup(id string) (VoiceProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	index := c.indexLocked(id)
	if index < 0 {
		return VoiceProfile{}, fmt.Errorf("%w: %q", ErrUnknownVoice, id)
	}

	return c.profiles[index], nil
}

// Selected returns the current selection.
func (c *Catalog) Selected() (VoiceProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.selected == "" {
		return VoiceProfile{}, false
	}

	return VoiceProfile{ID: c.selected}, true
}

// Profiles returns the known profiles in service order.
func (c *Catalog) Profiles() []VoiceProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshotLocked()
}

func (c *Catalog) snapshotLocked() []VoiceProfile {
	out := make([]VoiceProfile, len(c.profiles))
	copy(out, c.profiles)

	return out
}

func (c *Catalog) indexLocked(id string) int {
	for i, profile := range c.profiles {
		if profile.ID == id {
			return i
		}
	}

	return -1
}
