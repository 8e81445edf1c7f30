package audio

import (
	"context"
	"sync"
	"time"
)

// ClockPlayer is a headless Player: it produces no sound and keeps time
// instead, ending each playback once the probed duration of the payload has
// elapsed. Payloads of unknown length play until stopped.
type ClockPlayer struct {
	// Scale stretches (>1) or compresses (<1) wall time. Zero means 1.
	Scale float64
}

type clockPlayback struct {
	once  sync.Once
	timer *time.Timer
	done  chan struct{}
}

// Play starts keeping time for data. onEnded is invoked from the timer goroutine.
func (p *ClockPlayer) Play(_ context.Context, data []byte, mimeType string, onEnded func()) (Playback, error) {
	duration, err := ProbeDuration(data, mimeType)
	if err != nil {
		duration = 0
	}

	playback := &clockPlayback{done: make(chan struct{})}

	if duration <= 0 {
		return playback, nil
	}

	scale := p.Scale
	if scale <= 0 {
		scale = 1
	}

	playback.timer = time.AfterFunc(time.Duration(float64(duration)*scale), func() {
		select {
		case <-playback.done:
			return
		default:
		}

		onEnded()
	})

	return playback, nil
}

// Stop ends the playback without signalling end-of-playback.
func (c *clockPlayback) Stop() {
	c.once.Do(func() {
		close(c.done)

		if c.timer != nil {
			c.timer.Stop()
		}
	})
}
