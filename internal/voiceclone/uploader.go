// Package voiceclone uploads voice samples to create new voice profiles.
package voiceclone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/catalog"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/fileutil"
	"github.com/book-expert/voice-studio/internal/notify"
	"github.com/book-expert/voice-studio/internal/tts"
)

// Upload failures. All wrap core.ErrUpload.
var (
	ErrUploadInProgress = fmt.Errorf("%w: another upload is in progress", core.ErrUpload)
	ErrEmptySample      = fmt.Errorf("%w: sample is empty", core.ErrUpload)
)

// State is the uploader lifecycle.
type State int

// Upload states.
const (
	Idle State = iota
	Uploading
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Uploading:
		return "uploading"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	msgCloned    = "Voice %q cloned successfully"
	logStart     = "Uploading voice sample %q (%s)"
	logFinished  = "Voice sample %q became profile %q"
	logNotListed = "Profile %q missing from refreshed catalog, adding it locally"
	logRefresh   = "Catalog refresh after upload failed: %v"
	logNotAudio  = "Sample %q does not have an audio extension, sending anyway"
)

// Sample is a voice recording chosen by the user.
type Sample struct {
	Name string
	Data []byte
}

// LoadSample reads a sample from disk.
func LoadSample(path string) (Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: failed to read sample %s: %w", core.ErrUpload, path, err)
	}

	return Sample{Name: filepath.Base(path), Data: data}, nil
}

// SpeakerUploader submits a sample to the service.
type SpeakerUploader interface {
	UploadSpeaker(ctx context.Context, filename string, sample io.Reader) (*tts.UploadResult, error)
}

// Catalog is the subset of the voice catalog the uploader updates.
type Catalog interface {
	Fetch(ctx context.Context) ([]catalog.VoiceProfile, error)
	Include(id string)
	Select(id string) error
}

// Notifier reports outcomes to the user.
type Notifier interface {
	Notify(message string, kind notify.Kind) notify.Notification
	NotifyError(err error) notify.Notification
}

// Uploader runs at most one upload at a time.
type Uploader struct {
	client   SpeakerUploader
	catalog  Catalog
	notifier Notifier
	log      *logger.Logger

	mu      sync.Mutex
	state   State
	lastErr error
	cancel  context.CancelFunc
}

// NewUploader creates an idle Uploader.
func NewUploader(client SpeakerUploader, voices Catalog, notifier Notifier, log *logger.Logger) *Uploader {
	return &Uploader{client: client, catalog: voices, notifier: notifier, log: log}
}

// State returns the current upload state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.state
}

// LastError returns the failure that put the uploader in Failed, if any.
func (u *Uploader) LastError() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.lastErr
}

// Upload sends sample and, on success, refreshes the catalog and selects the
// new profile. On failure the selection is left untouched.
func (u *Uploader) Upload(ctx context.Context, sample Sample) (catalog.VoiceProfile, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.mu.Lock()

	if u.state == Uploading {
		u.mu.Unlock()
		u.notifier.NotifyError(ErrUploadInProgress)

		return catalog.VoiceProfile{}, ErrUploadInProgress
	}

	u.state = Uploading
	u.lastErr = nil
	u.cancel = cancel

	u.mu.Unlock()

	profile, err := u.upload(callCtx, sample)
	if err != nil {
		u.finish(Failed, err)
		u.notifier.NotifyError(err)

		return catalog.VoiceProfile{}, err
	}

	u.finish(Idle, nil)
	u.notifier.Notify(fmt.Sprintf(msgCloned, profile.ID), notify.KindInfo)

	return profile, nil
}

// Cancel aborts the in-flight upload. It reports whether one was running.
func (u *Uploader) Cancel() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Uploading || u.cancel == nil {
		return false
	}

	u.cancel()

	return true
}

func (u *Uploader) upload(ctx context.Context, sample Sample) (catalog.VoiceProfile, error) {
	if len(sample.Data) == 0 {
		return catalog.VoiceProfile{}, ErrEmptySample
	}

	filename := fileutil.SanitizeFilename(sample.Name)
	if !fileutil.LooksLikeAudio(filename) {
		u.log.Warn(logNotAudio, filename)
	}

	u.log.Info(logStart, filename, fileutil.FormatSize(len(sample.Data)))

	result, err := u.client.UploadSpeaker(ctx, filename, bytes.NewReader(sample.Data))
	if err != nil {
		return catalog.VoiceProfile{}, uploadError(ctx, err)
	}

	if ctx.Err() != nil {
		return catalog.VoiceProfile{}, uploadError(ctx, ctx.Err())
	}

	u.refresh(ctx, result.Speaker)

	// Fetch may have been interrupted by Cancel; the selection stays as it was.
	if ctx.Err() != nil {
		return catalog.VoiceProfile{}, uploadError(ctx, ctx.Err())
	}

	err = u.catalog.Select(result.Speaker)
	if err != nil {
		return catalog.VoiceProfile{}, fmt.Errorf("%w: %w", core.ErrUpload, err)
	}

	u.log.Info(logFinished, filename, result.Speaker)

	return catalog.VoiceProfile{ID: result.Speaker}, nil
}

// refresh reloads the catalog and makes sure id is part of it.
func (u *Uploader) refresh(ctx context.Context, id string) {
	profiles, err := u.catalog.Fetch(ctx)
	if err != nil {
		u.log.Warn(logRefresh, err)

		if ctx.Err() == nil {
			u.catalog.Include(id)
		}

		return
	}

	for _, profile := range profiles {
		if profile.ID == id {
			return
		}
	}

	u.log.Warn(logNotListed, id)
	u.catalog.Include(id)
}

func (u *Uploader) finish(state State, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.state = state
	u.lastErr = err
	u.cancel = nil
}

func uploadError(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, core.ErrCancelled) {
		err = fmt.Errorf("%w: %w", core.ErrCancelled, err)
	}

	return fmt.Errorf("%w: %w", core.ErrUpload, err)
}
