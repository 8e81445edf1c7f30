// Package notify implements the single-slot, self-expiring notification layer.
package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/google/uuid"
)

// DefaultTTL is how long a notification stays visible unless dismissed.
const DefaultTTL = 4 * time.Second

// Kind distinguishes informational and error notifications.
type Kind string

// Notification kinds.
const (
	KindInfo  Kind = "info"
	KindError Kind = "error"
)

// Notification is one user-facing message.
type Notification struct {
	ID        string
	Message   string
	Kind      Kind
	CreatedAt time.Time
	// Retryable marks failures that deserve a retry affordance.
	Retryable bool
}

// Sink receives every notification change; nil means the slot was emptied.
type Sink func(current *Notification)

// Center holds at most one notification. A new one replaces the previous;
// each expires after the TTL unless dismissed or replaced first.
type Center struct {
	mu      sync.Mutex
	current *Notification
	timer   *time.Timer

	ttl  time.Duration
	sink Sink
	log  *logger.Logger
	now  func() time.Time
}

// NewCenter creates a Center. A non-positive ttl uses DefaultTTL.
func NewCenter(ttl time.Duration, log *logger.Logger) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Center{ttl: ttl, log: log, now: time.Now}
}

// SetSink registers the observer of notification changes.
func (c *Center) SetSink(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sink = sink
}

// Notify shows message, replacing the current notification.
func (c *Center) Notify(message string, kind Kind) Notification {
	return c.show(Notification{Message: message, Kind: kind})
}

// NotifyError converts err into an error notification.
func (c *Center) NotifyError(err error) Notification {
	return c.show(Notification{
		Message:   Message(err),
		Kind:      KindError,
		Retryable: core.Retryable(err),
	})
}

// Current returns the visible notification, if any.
func (c *Center) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Notification{}, false
	}

	return *c.current, true
}

// Dismiss hides the notification with id. It reports whether it was visible.
func (c *Center) Dismiss(id string) bool {
	return c.clear(id)
}

func (c *Center) show(notification Notification) Notification {
	notification.ID = uuid.NewString()
	notification.CreatedAt = c.now()

	c.mu.Lock()

	if c.timer != nil {
		c.timer.Stop()
	}

	shown := notification
	c.current = &shown

	id := notification.ID
	c.timer = time.AfterFunc(c.ttl, func() { c.clear(id) })

	sink := c.sink

	c.mu.Unlock()

	if notification.Kind == KindError {
		c.log.Warn("Notification [%s]: %s", notification.Kind, notification.Message)
	} else {
		c.log.Info("Notification [%s]: %s", notification.Kind, notification.Message)
	}

	if sink != nil {
		sink(&notification)
	}

	return notification
}

// clear empties the slot only if it still holds id, so an expiry timer
// never removes a newer notification.
func (c *Center) clear(id string) bool {
	c.mu.Lock()

	if c.current == nil || c.current.ID != id {
		c.mu.Unlock()

		return false
	}

	c.current = nil

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	sink := c.sink

	c.mu.Unlock()

	if sink != nil {
		sink(nil)
	}

	return true
}

// Message renders err for display. Service details are shown verbatim.
func Message(err error) string {
	var serviceErr *core.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Detail
	}

	return err.Error()
}
