package voiceclone

import (
	"context"
	"sync"

	"github.com/book-expert/voice-studio/internal/catalog"
)

// DropZone is a drag-and-drop surface in front of an Uploader. The active
// flag only tells the view to highlight the zone.
type DropZone struct {
	uploader *Uploader

	mu     sync.Mutex
	active bool
}

// NewDropZone creates an inactive zone that uploads through uploader.
func NewDropZone(uploader *Uploader) *DropZone {
	return &DropZone{uploader: uploader}
}

// Enter marks a drag hovering over the zone.
func (d *DropZone) Enter() { d.setActive(true) }

// Leave marks the drag leaving the zone.
func (d *DropZone) Leave() { d.setActive(false) }

// Active reports whether a drag is over the zone.
func (d *DropZone) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.active
}

// Drop deactivates the zone and uploads sample.
func (d *DropZone) Drop(ctx context.Context, sample Sample) (catalog.VoiceProfile, error) {
	d.setActive(false)

	return d.uploader.Upload(ctx, sample)
}

func (d *DropZone) setActive(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.active = active
}
