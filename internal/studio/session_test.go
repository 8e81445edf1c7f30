package studio_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/audio"
	"github.com/book-expert/voice-studio/internal/config"
	"github.com/book-expert/voice-studio/internal/connectivity"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/book-expert/voice-studio/internal/notify"
	"github.com/book-expert/voice-studio/internal/objectstore"
	"github.com/book-expert/voice-studio/internal/studio"
	"github.com/book-expert/voice-studio/internal/tts"
	"github.com/book-expert/voice-studio/internal/voiceclone"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService mimics the synthesis service endpoints.
type fakeService struct {
	unhealthy atomic.Bool
	ttsCalls  atomic.Int32
	ttsDetail atomic.Value

	mu       sync.Mutex
	speakers []string
	requests []tts.SynthesisRequest
}

func newFakeService(speakers ...string) *fakeService {
	return &fakeService{speakers: speakers}
}

func (f *fakeService) start(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		if f.unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte(`{"status":"online","device":"cpu"}`))
	})

	mux.HandleFunc("GET /speakers", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{"speakers": f.speakers, "count": len(f.speakers)})
	})

	mux.HandleFunc("POST /tts", func(w http.ResponseWriter, r *http.Request) {
		f.ttsCalls.Add(1)

		var req tts.SynthesisRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		if detail, ok := f.ttsDetail.Load().(string); ok && detail != "" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})

			return
		}

		w.Header().Set("Content-Type", req.Format.MimeType())
		_, _ = w.Write([]byte("rendered:" + req.Speaker + ":" + req.Text))
	})

	mux.HandleFunc("POST /upload-speaker", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()

		_, _ = io.Copy(io.Discard, file)

		if !strings.HasSuffix(header.Filename, ".wav") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"Invalid audio file"}`))

			return
		}

		speaker := strings.TrimSuffix(header.Filename, ".wav")

		f.mu.Lock()
		f.speakers = append(f.speakers, speaker)
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":   "success",
			"speaker":  speaker,
			"filename": header.Filename,
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Studio.BaseURL = baseURL
	cfg.Studio.TimeoutSeconds = 5
	cfg.Paths.BaseLogsDir = t.TempDir()
	cfg.Paths.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	return cfg
}

func newSession(t *testing.T, cfg *config.Config) *studio.Session {
	t.Helper()

	session, err := studio.New(cfg, newTestLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { _ = session.Close(context.Background()) })

	return session
}

func startedSession(t *testing.T, service *fakeService) *studio.Session {
	t.Helper()

	server := service.start(t)
	session := newSession(t, newConfig(t, server.URL))

	require.Equal(t, connectivity.Online, session.Start(context.Background()))

	return session
}

func TestSession_StartLoadsCatalog(t *testing.T) {
	t.Parallel()

	session := startedSession(t, newFakeService("alice", "bob"))

	assert.Len(t, session.Voices(), 2)

	selected, ok := session.SelectedVoice()
	require.True(t, ok)
	assert.Equal(t, "alice", selected.ID)
}

func TestSession_GenerateRecordsAndPlays(t *testing.T) {
	t.Parallel()

	service := newFakeService("alice", "bob")
	session := startedSession(t, service)

	result, err := session.Generate(context.Background(), "Hello", studio.GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, tts.FormatWAV, result.Format)
	assert.Equal(t, tts.LanguageEnglish, result.Language)
	assert.Equal(t, "alice", result.VoiceID)
	require.Len(t, session.History(), 1)

	playing, ok := session.Playing()
	require.True(t, ok)
	assert.Equal(t, result.ID, playing)

	current, ok := session.Notifications().Current()
	require.True(t, ok)
	assert.Equal(t, notify.KindInfo, current.Kind)

	service.mu.Lock()
	defer service.mu.Unlock()

	assert.Equal(t, []tts.SynthesisRequest{{Text: "Hello", Speaker: "alice", Language: "en", Format: "wav"}}, service.requests)
}

func TestSession_GenerateOverrides(t *testing.T) {
	t.Parallel()

	session := startedSession(t, newFakeService("alice", "bob"))

	result, err := session.Generate(context.Background(), "Hola", studio.GenerateOptions{
		Voice:    "bob",
		Language: "es",
		Format:   "mp3",
	})
	require.NoError(t, err)

	assert.Equal(t, "bob", result.VoiceID)
	assert.Equal(t, tts.LanguageSpanish, result.Language)
	assert.Equal(t, tts.FormatMP3, result.Format)
	assert.Equal(t, tts.MimeTypeMP3, result.Handle.MimeType())

	selected, _ := session.SelectedVoice()
	assert.Equal(t, "alice", selected.ID)

	_, err = session.Generate(context.Background(), "Hola", studio.GenerateOptions{Voice: "mallory"})
	require.ErrorIs(t, err, core.ErrValidation)

	_, err = session.Generate(context.Background(), "Hola", studio.GenerateOptions{Language: "xx"})
	require.ErrorIs(t, err, core.ErrUnsupportedLanguage)

	assert.Len(t, session.History(), 1)
}

func TestSession_VoiceOverrideKeepsSelection(t *testing.T) {
	t.Parallel()

	service := newFakeService("alice", "bob")
	session := startedSession(t, service)
	ctx := context.Background()

	_, err := session.Generate(ctx, strings.Repeat("x", 2001), studio.GenerateOptions{Voice: "bob"})
	require.ErrorIs(t, err, core.ErrTextTooLong)

	_, err = session.Generate(ctx, "Hello", studio.GenerateOptions{Voice: "bob", Format: "ogg"})
	require.ErrorIs(t, err, core.ErrUnsupportedFormat)

	service.ttsDetail.Store("model not loaded")

	_, err = session.Generate(ctx, "Hello", studio.GenerateOptions{Voice: "bob"})
	require.ErrorIs(t, err, core.ErrService)

	service.ttsDetail.Store("")

	key, err := session.Render(ctx, "Hello", "bob")
	require.NoError(t, err)

	data, err := session.Store().Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("rendered:bob:Hello"), data)

	selected, ok := session.SelectedVoice()
	require.True(t, ok)
	assert.Equal(t, "alice", selected.ID)
}

func TestSession_OfflineRejectsWithoutDispatch(t *testing.T) {
	t.Parallel()

	service := newFakeService("alice")
	service.unhealthy.Store(true)

	server := service.start(t)
	session := newSession(t, newConfig(t, server.URL))

	assert.Equal(t, connectivity.Offline, session.Start(context.Background()))

	current, ok := session.Notifications().Current()
	require.True(t, ok)
	assert.Equal(t, notify.KindError, current.Kind)

	_, err := session.Generate(context.Background(), "Hello", studio.GenerateOptions{})
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, int32(0), service.ttsCalls.Load())
	assert.Empty(t, session.History())

	service.unhealthy.Store(false)

	assert.Equal(t, connectivity.Online, session.Recheck(context.Background()))
	assert.Len(t, session.Voices(), 1)
}

func TestSession_UnreachableServiceIsRetryable(t *testing.T) {
	t.Parallel()

	session := newSession(t, newConfig(t, "http://127.0.0.1:1"))

	assert.Equal(t, connectivity.Offline, session.Start(context.Background()))

	current, ok := session.Notifications().Current()
	require.True(t, ok)
	assert.True(t, current.Retryable)
}

func TestSession_TooLongTextIsRejectedLocally(t *testing.T) {
	t.Parallel()

	service := newFakeService("alice")
	session := startedSession(t, service)

	_, err := session.Generate(context.Background(), strings.Repeat("x", 2001), studio.GenerateOptions{})
	require.ErrorIs(t, err, core.ErrTextTooLong)
	assert.Equal(t, int32(0), service.ttsCalls.Load())
}

func TestSession_ServiceErrorDetailIsShown(t *testing.T) {
	t.Parallel()

	service := newFakeService("alice")
	service.ttsDetail.Store("Speaker embedding missing")

	session := startedSession(t, service)

	_, err := session.Generate(context.Background(), "Hello", studio.GenerateOptions{})
	require.ErrorIs(t, err, core.ErrService)

	current, ok := session.Notifications().Current()
	require.True(t, ok)
	assert.Equal(t, "Speaker embedding missing", current.Message)
	assert.False(t, current.Retryable)
	assert.Empty(t, session.History())
	assert.False(t, session.Busy())
}

func TestSession_TogglePlay(t *testing.T) {
	t.Parallel()

	session := startedSession(t, newFakeService("alice"))
	ctx := context.Background()

	first, err := session.Generate(ctx, "one", studio.GenerateOptions{})
	require.NoError(t, err)

	second, err := session.Generate(ctx, "two", studio.GenerateOptions{})
	require.NoError(t, err)

	playing, _ := session.Playing()
	assert.Equal(t, second.ID, playing)

	isPlaying, err := session.TogglePlay(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, isPlaying)

	_, ok := session.Playing()
	assert.False(t, ok)

	isPlaying, err = session.TogglePlay(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, isPlaying)

	isPlaying, err = session.TogglePlay(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, isPlaying)

	playing, _ = session.Playing()
	assert.Equal(t, second.ID, playing)

	_, err = session.TogglePlay(ctx, "missing")
	require.Error(t, err)
}

func TestSession_DeleteAndClearReleaseAudio(t *testing.T) {
	t.Parallel()

	session := startedSession(t, newFakeService("alice"))
	ctx := context.Background()
	store, ok := session.Store().(*objectstore.MemoryStore)
	require.True(t, ok)

	first, err := session.Generate(ctx, "one", studio.GenerateOptions{})
	require.NoError(t, err)

	_, err = session.Generate(ctx, "two", studio.GenerateOptions{})
	require.NoError(t, err)

	_, err = session.Generate(ctx, "three", studio.GenerateOptions{})
	require.NoError(t, err)

	require.Equal(t, 3, store.Len())

	require.NoError(t, session.Delete(ctx, first.ID))
	assert.Len(t, session.History(), 2)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 2, session.LiveAudio())

	_, err = session.TogglePlay(ctx, first.ID)
	require.Error(t, err)

	assert.Equal(t, 2, session.Clear(ctx))
	assert.Empty(t, session.History())
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, session.LiveAudio())

	_, ok = session.Playing()
	assert.False(t, ok)
}

func TestSession_HistoryLimitEvicts(t *testing.T) {
	t.Parallel()

	service := newFakeService("alice")
	server := service.start(t)

	cfg := newConfig(t, server.URL)
	cfg.Studio.HistoryLimit = 2

	session := newSession(t, cfg)
	require.Equal(t, connectivity.Online, session.Start(context.Background()))

	store, _ := session.Store().(*objectstore.MemoryStore)

	for _, text := range []string{"one", "two", "three"} {
		_, err := session.Generate(context.Background(), text, studio.GenerateOptions{})
		require.NoError(t, err)
	}

	history := session.History()
	require.Len(t, history, 2)
	assert.Equal(t, "three", history[0].Text)
	assert.Equal(t, "two", history[1].Text)
	assert.Equal(t, 2, store.Len())
}

func TestSession_Download(t *testing.T) {
	t.Parallel()

	server := newFakeService("alice").start(t)
	cfg := newConfig(t, server.URL)
	session := newSession(t, cfg)
	require.Equal(t, connectivity.Online, session.Start(context.Background()))

	result, err := session.Generate(context.Background(), "Hello", studio.GenerateOptions{Format: "mp3"})
	require.NoError(t, err)

	path, err := session.Download(context.Background(), result.ID)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.Paths.DownloadDir, "xtts_render_"+result.ID+".mp3"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("rendered:alice:Hello"), data)

	_, err = session.Download(context.Background(), "missing")
	require.Error(t, err)
}

func TestSession_Clone(t *testing.T) {
	t.Parallel()

	session := startedSession(t, newFakeService("alice", "bob"))
	ctx := context.Background()

	require.NoError(t, session.SelectVoice("bob"))

	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	sample := filepath.Join(dir, "carol.wav")

	require.NoError(t, os.WriteFile(notes, []byte("not audio"), 0o600))
	require.NoError(t, os.WriteFile(sample, []byte("RIFF"), 0o600))

	_, err := session.Clone(ctx, notes)
	require.ErrorIs(t, err, core.ErrUpload)

	selected, _ := session.SelectedVoice()
	assert.Equal(t, "bob", selected.ID)
	assert.Equal(t, voiceclone.Failed, session.UploadState())

	current, ok := session.Notifications().Current()
	require.True(t, ok)
	assert.Equal(t, notify.KindError, current.Kind)

	profile, err := session.Clone(ctx, sample)
	require.NoError(t, err)
	assert.Equal(t, "carol", profile.ID)

	selected, _ = session.SelectedVoice()
	assert.Equal(t, "carol", selected.ID)
	assert.Len(t, session.Voices(), 3)
	assert.Equal(t, voiceclone.Idle, session.UploadState())

	_, err = session.Clone(ctx, filepath.Join(dir, "missing.wav"))
	require.ErrorIs(t, err, core.ErrUpload)
}

func TestSession_CloseReleasesEverything(t *testing.T) {
	t.Parallel()

	server := newFakeService("alice").start(t)
	session, err := studio.New(newConfig(t, server.URL), newTestLogger(t))
	require.NoError(t, err)

	require.Equal(t, connectivity.Online, session.Start(context.Background()))

	_, err = session.Generate(context.Background(), "Hello", studio.GenerateOptions{})
	require.NoError(t, err)

	store, _ := session.Store().(*objectstore.MemoryStore)

	require.NoError(t, session.Close(context.Background()))
	require.NoError(t, session.Close(context.Background()))

	assert.Empty(t, session.History())
	assert.Equal(t, 0, store.Len())
}

func TestSession_InvalidDefaults(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t, "http://localhost:8000")
	cfg.Studio.DefaultLanguage = "klingon"

	_, err := studio.New(cfg, newTestLogger(t))
	require.ErrorIs(t, err, core.ErrUnsupportedLanguage)

	cfg = newConfig(t, "http://localhost:8000")
	cfg.Studio.DefaultFormat = "flac"

	_, err = studio.New(cfg, newTestLogger(t))
	require.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestSession_ServeWithoutSubject(t *testing.T) {
	t.Parallel()

	session := newSession(t, newConfig(t, "http://localhost:8000"))

	require.ErrorIs(t, session.Serve(context.Background()), studio.ErrNoRequestSubject)
}

func TestSession_NATSAnnouncesAndServes(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	client, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	announcements, err := client.SubscribeSync("studio.audio.created")
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	server := newFakeService("alice", "bob").start(t)

	cfg := newConfig(t, server.URL)
	cfg.Storage.Backend = config.BackendNATS
	cfg.Storage.NATSURL = natsServer.ClientURL()
	cfg.Storage.AudioBucket = "TEST_AUDIO"
	cfg.Storage.AudioCreatedSubject = "studio.audio.created"
	cfg.Storage.RequestSubject = "studio.render"
	require.NoError(t, cfg.Validate())

	session := newSession(t, cfg)
	require.Equal(t, connectivity.Online, session.Start(context.Background()))

	result, err := session.Generate(context.Background(), "Hello", studio.GenerateOptions{})
	require.NoError(t, err)

	msg, err := announcements.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var announced events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(msg.Data, &announced))
	assert.Equal(t, result.ID, announced.Header.WorkflowID)
	assert.Equal(t, result.Handle.Key(), announced.AudioKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)

	go func() { serveErr <- session.Serve(ctx) }()

	require.NoError(t, session.Store().Upload(context.Background(), "page-1.txt", []byte("Remote text")))

	request, err := json.Marshal(&events.TextProcessedEvent{
		Header:  events.EventHeader{WorkflowID: "wf-1", Timestamp: time.Now()},
		TextKey: "page-1.txt",
		Voice:   "bob",
	})
	require.NoError(t, err)

	var reply *nats.Msg

	require.Eventually(t, func() bool {
		reply, err = client.Request("studio.render", request, time.Second)

		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	var created events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(reply.Data, &created))
	assert.Equal(t, "wf-1", created.Header.WorkflowID)

	audioData, err := session.Store().Download(context.Background(), created.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("rendered:bob:Remote text"), audioData)

	selected, _ := session.SelectedVoice()
	assert.Equal(t, "alice", selected.ID)

	session.Clear(context.Background())

	audioData, err = session.Store().Download(context.Background(), created.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("rendered:bob:Remote text"), audioData)

	cancel()
	require.NoError(t, <-serveErr)
}

type recordingPlayer struct {
	mu       sync.Mutex
	payloads []string
}

type silentPlayback struct{}

func (silentPlayback) Stop() {}

func (p *recordingPlayer) Play(_ context.Context, data []byte, _ string, _ func()) (audio.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.payloads = append(p.payloads, string(data))

	return silentPlayback{}, nil
}

func TestSession_WithPlayer(t *testing.T) {
	t.Parallel()

	server := newFakeService("alice").start(t)
	player := &recordingPlayer{}

	session, err := studio.New(newConfig(t, server.URL), newTestLogger(t), studio.WithPlayer(player))
	require.NoError(t, err)

	t.Cleanup(func() { _ = session.Close(context.Background()) })

	require.Equal(t, connectivity.Online, session.Start(context.Background()))

	_, err = session.Generate(context.Background(), "Hi", studio.GenerateOptions{})
	require.NoError(t, err)

	player.mu.Lock()
	defer player.mu.Unlock()

	assert.Equal(t, []string{"rendered:alice:Hi"}, player.payloads)
}
