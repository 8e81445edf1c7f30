// Package audio owns generated audio resources and the single playback slot.
//
// Every rendered payload is registered with a Manager, which stores the bytes
// in a core.ObjectStore and hands back an opaque, revocable Handle. A Handle
// stays playable and downloadable until it is revoked; revocation releases the
// stored bytes and is idempotent. At most one Handle is the active playback
// target at any instant.
package audio

import (
	"context"
	"time"
)

// Player renders audio to some sink. Play must not block for the duration of
// playback: it starts the audio and returns. onEnded is called at most once,
// when the audio runs out on its own, and never from within Play or Stop.
type Player interface {
	Play(ctx context.Context, data []byte, mimeType string, onEnded func()) (Playback, error)
}

// Playback is a running Play call.
type Playback interface {
	Stop()
}

// Handle is an opaque reference to a registered audio byte-stream.
type Handle struct {
	key       string
	mimeType  string
	size      int
	duration  time.Duration
	createdAt time.Time
}

// Key returns the storage key of the handle.
func (h *Handle) Key() string { return h.key }

// URI returns the derived playable/downloadable reference of the handle.
func (h *Handle) URI() string { return uriScheme + h.key }

// MimeType returns the MIME type the payload was registered with.
func (h *Handle) MimeType() string { return h.mimeType }

// Size returns the payload length in bytes.
func (h *Handle) Size() int { return h.size }

// Duration returns the probed playback length, or zero when unknown.
func (h *Handle) Duration() time.Duration { return h.duration }

// CreatedAt returns the registration time.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

const uriScheme = "blob:voice-studio/"
