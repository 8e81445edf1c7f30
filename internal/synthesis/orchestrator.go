// Package synthesis validates and dispatches synthesis requests and commits
// their results to history and playback.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/audio"
	"github.com/book-expert/voice-studio/internal/connectivity"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/history"
	"github.com/book-expert/voice-studio/internal/tts"
	"github.com/google/uuid"
)

// DefaultMaxTextLength is the text limit used when none is configured.
const DefaultMaxTextLength = 2000

// Log messages.
const (
	logDispatch   = "Dispatching synthesis: voice %q, language %s, format %s, %d chars"
	logCompleted  = "Synthesis %s completed: %d bytes (%s)"
	logFailed     = "Synthesis failed: %v"
	logCancelled  = "Synthesis cancelled, discarding response"
	logPlayFailed = "Could not start playback of %s: %v"
)

// Request is the validated tuple submitted for rendering.
type Request struct {
	Text     string
	VoiceID  string
	Language tts.Language
	Format   tts.Format
}

// Synthesizer renders a request into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.Audio, error)
}

// Connectivity reports whether the service is reachable.
type Connectivity interface {
	State() connectivity.State
}

// Resources registers audio and controls the playback slot.
type Resources interface {
	Register(ctx context.Context, data []byte, mimeType string) (*audio.Handle, error)
	Revoke(ctx context.Context, handle *audio.Handle) error
	Play(ctx context.Context, handle *audio.Handle) error
}

// Recorder receives committed results.
type Recorder interface {
	Add(ctx context.Context, result history.GenerationResult)
}

// Orchestrator runs at most one synthesis at a time.
type Orchestrator struct {
	client       Synthesizer
	connectivity Connectivity
	resources    Resources
	history      Recorder
	maxText      int
	log          *logger.Logger
	now          func() time.Time

	busy atomic.Bool

	// mu guards cancel and serializes commit against Cancel, so a cancelled
	// call never reaches history.
	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates an Orchestrator. A non-positive maxText uses DefaultMaxTextLength.
func New(
	client Synthesizer,
	monitor Connectivity,
	resources Resources,
	recorder Recorder,
	maxText int,
	log *logger.Logger,
) *Orchestrator {
	if maxText <= 0 {
		maxText = DefaultMaxTextLength
	}

	return &Orchestrator{
		client:       client,
		connectivity: monitor,
		resources:    resources,
		history:      recorder,
		maxText:      maxText,
		log:          log,
		now:          time.Now,
	}
}

// Busy reports whether a synthesis is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Validate checks every precondition of Generate without contacting the service.
func (o *Orchestrator) Validate(req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return core.ErrTextEmpty
	}

	length := utf8.RuneCountInString(req.Text)
	if length > o.maxText {
		return fmt.Errorf("%w: %d characters, maximum is %d", core.ErrTextTooLong, length, o.maxText)
	}

	if req.VoiceID == "" {
		return core.ErrNoVoiceSelected
	}

	if !req.Language.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnsupportedLanguage, req.Language)
	}

	if !req.Format.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, req.Format)
	}

	if state := o.connectivity.State(); state != connectivity.Online {
		return fmt.Errorf("%w (state %s)", core.ErrOffline, state)
	}

	return nil
}

// Generate validates req, renders it, and on success records the result at
// the head of history and makes it the active playback target. Failures
// leave history and playback untouched.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (history.GenerationResult, error) {
	err := o.Validate(req)
	if err != nil {
		return history.GenerationResult{}, err
	}

	if !o.busy.CompareAndSwap(false, true) {
		return history.GenerationResult{}, core.ErrBusy
	}
	defer o.busy.Store(false)

	callCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()

		cancel()
	}()

	o.log.Info(logDispatch, req.VoiceID, req.Language, req.Format, utf8.RuneCountInString(req.Text))

	payload, err := o.client.Synthesize(callCtx, tts.SynthesisRequest{
		Text:     req.Text,
		Speaker:  req.VoiceID,
		Language: req.Language,
		Format:   req.Format,
	})
	if err != nil {
		return history.GenerationResult{}, o.failed(callCtx, err)
	}

	if callCtx.Err() != nil {
		o.log.Warn(logCancelled)

		return history.GenerationResult{}, cancelled(callCtx.Err())
	}

	handle, err := o.resources.Register(callCtx, payload.Data, payload.MimeType)
	if err != nil {
		return history.GenerationResult{}, o.failed(callCtx, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		o.discard(ctx, handle)

		return history.GenerationResult{}, fmt.Errorf("failed to generate result id: %w", err)
	}

	result := history.GenerationResult{
		ID:        id.String(),
		Text:      req.Text,
		VoiceID:   req.VoiceID,
		Language:  req.Language,
		Format:    req.Format,
		Handle:    handle,
		CreatedAt: o.now(),
	}

	o.mu.Lock()

	if callCtx.Err() != nil {
		o.mu.Unlock()
		o.log.Warn(logCancelled)
		o.discard(ctx, handle)

		return history.GenerationResult{}, cancelled(callCtx.Err())
	}

	o.history.Add(callCtx, result)
	o.mu.Unlock()

	o.log.Info(logCompleted, result.ID, handle.Size(), handle.MimeType())

	err = o.resources.Play(context.WithoutCancel(ctx), handle)
	if err != nil {
		o.log.Warn(logPlayFailed, result.ID, err)
	}

	return result, nil
}

// Cancel aborts the in-flight synthesis. It reports whether one was running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel == nil {
		return false
	}

	o.cancel()

	return true
}

func (o *Orchestrator) failed(callCtx context.Context, err error) error {
	if callCtx.Err() != nil && !errors.Is(err, core.ErrCancelled) {
		err = fmt.Errorf("%w: %w", core.ErrCancelled, err)
	}

	o.log.Error(logFailed, err)

	return err
}

func (o *Orchestrator) discard(ctx context.Context, handle *audio.Handle) {
	err := o.resources.Revoke(context.WithoutCancel(ctx), handle)
	if err != nil {
		o.log.Error("Failed to revoke discarded audio %s: %v", handle.Key(), err)
	}
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", core.ErrCancelled, cause)
}
