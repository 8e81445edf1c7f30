// Package studio wires the studio components into one explicit session.
//
// A Session owns the catalog, history, playback slot, connectivity state,
// uploader and notifications of one user session. All mutation goes through
// the owning component; the session only sequences calls and converts every
// failure into a notification.
package studio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/announce"
	"github.com/book-expert/voice-studio/internal/audio"
	"github.com/book-expert/voice-studio/internal/catalog"
	"github.com/book-expert/voice-studio/internal/config"
	"github.com/book-expert/voice-studio/internal/connectivity"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/fileutil"
	"github.com/book-expert/voice-studio/internal/history"
	"github.com/book-expert/voice-studio/internal/notify"
	"github.com/book-expert/voice-studio/internal/objectstore"
	"github.com/book-expert/voice-studio/internal/synthesis"
	"github.com/book-expert/voice-studio/internal/tts"
	"github.com/book-expert/voice-studio/internal/voiceclone"
	"github.com/book-expert/voice-studio/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	natsClientName     = "voice-studio"
	downloadPermission = 0o644
	renderKeyPrefix    = "renders/"
)

// User-facing messages.
const (
	msgGenerated = "Audio generated (%s)"
	msgSaved     = "Saved %s"
	msgCleared   = "History cleared"
	msgDeleted   = "Deleted %s"
)

// ErrNoRequestSubject is returned by Serve when no request subject is configured.
var ErrNoRequestSubject = errors.New("no request subject configured")

// GenerateOptions overrides the session defaults for one generation. Empty
// fields fall back to the current selection and the configured defaults.
// Overrides never change the session's voice selection.
type GenerateOptions struct {
	Voice    string
	Language string
	Format   string
}

// Option customizes a Session.
type Option func(*Session)

// WithPlayer replaces the headless clock player.
func WithPlayer(player audio.Player) Option {
	return func(s *Session) { s.player = player }
}

// Session is the state container of one studio session.
type Session struct {
	cfg *config.Config
	log *logger.Logger

	language tts.Language
	format   tts.Format

	client       *tts.HTTPClient
	store        core.ObjectStore
	player       audio.Player
	monitor      *connectivity.Monitor
	voices       *catalog.Catalog
	audio        *audio.Manager
	history      *history.Store
	orchestrator *synthesis.Orchestrator
	uploader     *voiceclone.Uploader
	dropZone     *voiceclone.DropZone
	notices      *notify.Center

	natsConnection *nats.Conn
	publisher      *announce.Publisher

	closeOnce sync.Once
	closeErr  error
}

// New builds a session from cfg. It connects to NATS only when the
// configuration asks for the NATS store, announcements or requests.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Session, error) {
	language, err := tts.ParseLanguage(cfg.Studio.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language: %w", err)
	}

	format, err := tts.ParseFormat(cfg.Studio.DefaultFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid default format: %w", err)
	}

	timeout := time.Duration(cfg.Studio.TimeoutSeconds) * time.Second

	session := &Session{
		cfg:      cfg,
		log:      log,
		language: language,
		format:   format,
		client:   tts.NewHTTPClient(cfg.Studio.BaseURL, timeout),
		player:   &audio.ClockPlayer{},
	}

	for _, opt := range opts {
		opt(session)
	}

	err = session.connect()
	if err != nil {
		return nil, err
	}

	session.monitor = connectivity.NewMonitor(session.client, timeout, log)
	session.voices = catalog.New(session.client, log)
	session.audio = audio.NewManager(session.store, session.player, log)
	session.history = history.NewStore(session.audio, cfg.Studio.HistoryLimit, log)
	session.orchestrator = synthesis.New(
		session.client,
		session.monitor,
		session.audio,
		session.history,
		cfg.Studio.MaxTextLength,
		log,
	)
	session.notices = notify.NewCenter(time.Duration(cfg.Studio.NotificationSeconds)*time.Second, log)
	session.uploader = voiceclone.NewUploader(session.client, session.voices, session.notices, log)
	session.dropZone = voiceclone.NewDropZone(session.uploader)

	log.Info("Studio session ready: service %s, storage %s, language %s, format %s",
		cfg.Studio.BaseURL, cfg.Storage.Backend, language, format)

	return session, nil
}

func (s *Session) connect() error {
	storage := s.cfg.Storage

	needsNATS := storage.Backend == config.BackendNATS ||
		storage.AudioCreatedSubject != "" ||
		storage.RequestSubject != ""
	if !needsNATS {
		s.store = objectstore.NewMemoryStore()

		return nil
	}

	natsConnection, err := nats.Connect(storage.NATSURL, nats.Name(natsClientName))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", storage.NATSURL, err)
	}

	s.natsConnection = natsConnection

	if storage.Backend == config.BackendNATS {
		jetstreamContext, jsErr := natsConnection.JetStream()
		if jsErr != nil {
			natsConnection.Close()

			return fmt.Errorf("failed to get JetStream context: %w", jsErr)
		}

		store, storeErr := objectstore.New(jetstreamContext, storage.AudioBucket)
		if storeErr != nil {
			natsConnection.Close()

			return fmt.Errorf("failed to open audio bucket: %w", storeErr)
		}

		s.store = store
	} else {
		s.store = objectstore.NewMemoryStore()
	}

	if storage.AudioCreatedSubject != "" {
		publisher, pubErr := announce.NewPublisher(natsConnection, storage.AudioCreatedSubject, s.log)
		if pubErr != nil {
			natsConnection.Close()

			return fmt.Errorf("failed to create announcer: %w", pubErr)
		}

		s.publisher = publisher
	}

	return nil
}

// Start probes the service and loads the voice catalog when it is online.
func (s *Session) Start(ctx context.Context) connectivity.State {
	return s.Recheck(ctx)
}

// Recheck re-probes connectivity and, when online, refreshes the catalog.
func (s *Session) Recheck(ctx context.Context) connectivity.State {
	state := s.monitor.Check(ctx)
	if state != connectivity.Online {
		lastErr := s.monitor.LastError()
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: service is %s", core.ErrNetwork, state)
		}

		s.notices.NotifyError(lastErr)

		return state
	}

	_, err := s.voices.Fetch(ctx)
	if err != nil {
		s.notices.NotifyError(err)
	}

	return state
}

// Watch re-checks connectivity every configured interval until ctx is done.
func (s *Session) Watch(ctx context.Context) error {
	interval := time.Duration(s.cfg.Studio.HealthIntervalSeconds) * time.Second

	err := s.monitor.Run(ctx, interval)
	if err != nil {
		return fmt.Errorf("connectivity watch stopped: %w", err)
	}

	return nil
}

// ServiceURL returns the synthesis service the session talks to.
func (s *Session) ServiceURL() string {
	return s.client.BaseURL()
}

// LiveAudio returns the number of audio handles not yet revoked.
func (s *Session) LiveAudio() int {
	return s.audio.LiveCount()
}

// Connectivity returns the current connectivity state.
func (s *Session) Connectivity() connectivity.State {
	return s.monitor.State()
}

// OnConnectivityChange registers a callback for connectivity transitions.
func (s *Session) OnConnectivityChange(fn func(previous, next connectivity.State)) {
	s.monitor.OnChange(fn)
}

// Voices returns the known voice profiles.
func (s *Session) Voices() []catalog.VoiceProfile {
	return s.voices.Profiles()
}

// SelectedVoice returns the current voice selection.
func (s *Session) SelectedVoice() (catalog.VoiceProfile, bool) {
	return s.voices.Selected()
}

// SelectVoice changes the selection to a known profile.
func (s *Session) SelectVoice(id string) error {
	err := s.voices.Select(id)
	if err != nil {
		err = fmt.Errorf("%w: %w", core.ErrValidation, err)
		s.notices.NotifyError(err)

		return err
	}

	return nil
}

// Generate renders text with the selected voice, records the result and
// starts playing it.
func (s *Session) Generate(ctx context.Context, text string, opts GenerateOptions) (history.GenerationResult, error) {
	result, err := s.generate(ctx, text, opts)
	if err != nil {
		s.notices.NotifyError(err)

		return history.GenerationResult{}, err
	}

	s.notices.Notify(fmt.Sprintf(msgGenerated, result.Format), notify.KindInfo)

	if s.publisher != nil {
		pubErr := s.publisher.AudioCreated(result)
		if pubErr != nil {
			s.log.Warn("Failed to announce %s: %v", result.ID, pubErr)
		}
	}

	return result, nil
}

func (s *Session) generate(ctx context.Context, text string, opts GenerateOptions) (history.GenerationResult, error) {
	request := synthesis.Request{Text: text, Language: s.language, Format: s.format}

	if selected, ok := s.voices.Selected(); ok {
		request.VoiceID = selected.ID
	}

	// An override applies to this request only; the selection changes through SelectVoice.
	if opts.Voice != "" {
		profile, err := s.voices.Lookup(opts.Voice)
		if err != nil {
			return history.GenerationResult{}, fmt.Errorf("%w: %w", core.ErrValidation, err)
		}

		request.VoiceID = profile.ID
	}

	if opts.Language != "" {
		language, err := tts.ParseLanguage(opts.Language)
		if err != nil {
			return history.GenerationResult{}, err
		}

		request.Language = language
	}

	if opts.Format != "" {
		format, err := tts.ParseFormat(opts.Format)
		if err != nil {
			return history.GenerationResult{}, err
		}

		request.Format = format
	}

	return s.orchestrator.Generate(ctx, request)
}

// Render generates text with voice and the configured defaults and stores a
// copy of the audio under its own key for remote render requests. The copy
// outlives the history entry: delete, clear and eviction do not revoke it.
func (s *Session) Render(ctx context.Context, text, voice string) (string, error) {
	result, err := s.Generate(ctx, text, GenerateOptions{Voice: voice})
	if err != nil {
		return "", err
	}

	data, err := s.audio.Open(ctx, result.Handle)
	if err != nil {
		return "", fmt.Errorf("failed to read rendered audio %s: %w", result.ID, err)
	}

	key := renderKeyPrefix + fileutil.DownloadName(result.ID, string(result.Format))

	err = s.store.Upload(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("failed to store rendered audio %s: %w", key, err)
	}

	return key, nil
}

// Busy reports whether a synthesis is in flight.
func (s *Session) Busy() bool {
	return s.orchestrator.Busy()
}

// Cancel aborts the in-flight synthesis and upload, if any.
func (s *Session) Cancel() bool {
	synthesisCancelled := s.orchestrator.Cancel()
	uploadCancelled := s.uploader.Cancel()

	return synthesisCancelled || uploadCancelled
}

// History returns the results, most recent first.
func (s *Session) History() []history.GenerationResult {
	return s.history.List()
}

// Playing returns the id of the result being played, if any.
func (s *Session) Playing() (string, bool) {
	active := s.audio.Active()
	if active == nil {
		return "", false
	}

	for _, result := range s.history.List() {
		if result.Handle == active {
			return result.ID, true
		}
	}

	return "", false
}

// TogglePlay starts or stops the result with id. It returns whether it is now playing.
func (s *Session) TogglePlay(ctx context.Context, id string) (bool, error) {
	result, err := s.history.Get(id)
	if err != nil {
		s.notices.NotifyError(err)

		return false, err
	}

	playing, err := s.audio.TogglePlay(ctx, result.Handle)
	if err != nil {
		s.notices.NotifyError(err)

		return false, err
	}

	return playing, nil
}

// Stop silences playback.
func (s *Session) Stop() {
	s.audio.Stop()
}

// Delete removes one result and releases its audio.
func (s *Session) Delete(ctx context.Context, id string) error {
	err := s.history.Remove(ctx, id)
	if err != nil {
		s.notices.NotifyError(err)

		return err
	}

	s.notices.Notify(fmt.Sprintf(msgDeleted, id), notify.KindInfo)

	return nil
}

// Clear removes every result and releases all their audio.
func (s *Session) Clear(ctx context.Context) int {
	removed := s.history.Clear(ctx)
	s.notices.Notify(msgCleared, notify.KindInfo)

	return removed
}

// Download writes the audio of result id into the download directory and
// returns the written path.
func (s *Session) Download(ctx context.Context, id string) (string, error) {
	path, err := s.download(ctx, id)
	if err != nil {
		s.notices.NotifyError(err)

		return "", err
	}

	s.notices.Notify(fmt.Sprintf(msgSaved, path), notify.KindInfo)

	return path, nil
}

func (s *Session) download(ctx context.Context, id string) (string, error) {
	result, err := s.history.Get(id)
	if err != nil {
		return "", err
	}

	data, err := s.audio.Open(ctx, result.Handle)
	if err != nil {
		return "", err
	}

	err = fileutil.EnsureDir(s.cfg.Paths.DownloadDir)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.cfg.Paths.DownloadDir, fileutil.DownloadName(result.ID, string(result.Format)))

	err = os.WriteFile(path, data, downloadPermission)
	if err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.log.Info("Downloaded %s to %s (%s)", result.ID, path, fileutil.FormatSize(len(data)))

	return path, nil
}

// Clone uploads the sample at path and selects the resulting voice.
func (s *Session) Clone(ctx context.Context, path string) (catalog.VoiceProfile, error) {
	sample, err := voiceclone.LoadSample(path)
	if err != nil {
		s.notices.NotifyError(err)

		return catalog.VoiceProfile{}, err
	}

	return s.uploader.Upload(ctx, sample)
}

// UploadState returns the uploader state.
func (s *Session) UploadState() voiceclone.State {
	return s.uploader.State()
}

// DropZone returns the drag-and-drop surface of the uploader.
func (s *Session) DropZone() *voiceclone.DropZone {
	return s.dropZone
}

// Notifications returns the notification center.
func (s *Session) Notifications() *notify.Center {
	return s.notices
}

// Store returns the audio backing store.
func (s *Session) Store() core.ObjectStore {
	return s.store
}

// Serve answers render requests on the configured request subject until ctx is done.
func (s *Session) Serve(ctx context.Context) error {
	subject := s.cfg.Storage.RequestSubject
	if subject == "" || s.natsConnection == nil {
		return ErrNoRequestSubject
	}

	renderWorker, err := worker.NewNatsWorker(s.natsConnection, subject, s.store, s, s.log)
	if err != nil {
		return fmt.Errorf("failed to create render worker: %w", err)
	}

	return renderWorker.Run(ctx)
}

// Close cancels in-flight work, stops playback, clears the history and
// releases the NATS connection. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.Cancel()
		s.audio.Stop()

		removed := s.history.Clear(ctx)

		if s.natsConnection != nil {
			drainErr := s.natsConnection.Drain()
			if drainErr != nil && !errors.Is(drainErr, nats.ErrConnectionClosed) {
				s.closeErr = fmt.Errorf("failed to drain NATS connection: %w", drainErr)
			}
		}

		s.log.Info("Studio session closed, released %d results", removed)
	})

	return s.closeErr
}
