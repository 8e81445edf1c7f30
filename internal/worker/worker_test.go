// Package worker_test tests the NATS render worker.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/objectstore"
	"github.com/book-expert/voice-studio/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "studio.render"

var errMockRender = errors.New("mock render error")

// mockRenderer stores the text itself as audio.
type mockRenderer struct {
	store      *objectstore.MemoryStore
	shouldFail bool

	mu    sync.Mutex
	texts []string
	voice string
}

func (m *mockRenderer) Render(ctx context.Context, text, voice string) (string, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.voice = voice
	m.mu.Unlock()

	if m.shouldFail {
		return "", errMockRender
	}

	key := "renders/" + uuid.NewString() + ".wav"

	err := m.store.Upload(ctx, key, []byte("audio:"+text))
	if err != nil {
		return "", err
	}

	return key, nil
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func setupTest(t *testing.T, renderer *mockRenderer) (*objectstore.MemoryStore, *nats.Conn, context.CancelFunc, chan error) {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	store := objectstore.NewMemoryStore()
	renderer.store = store

	natsConnection := createTestNatsClient(t)

	workerInstance, err := worker.NewNatsWorker(natsConnection, testSubject, store, renderer, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	// The worker shares the connection, so a registered subscription is
	// flushed to the server ahead of any later request.
	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 2*time.Second, 5*time.Millisecond)

	return store, natsConnection, cancel, errChan
}

func TestNewNatsWorker_RequiresSubject(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, "", nil, nil, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	renderer := &mockRenderer{}
	store, natsConnection, cancel, errChan := setupTest(t, renderer)
	defer cancel()

	require.NoError(t, store.Upload(context.Background(), "text-1", []byte("  Hello there \n")))

	testEvent := &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		TextKey:    "text-1",
		PageNumber: 3,
		TotalPages: 7,
		Voice:      "alice",
	}
	eventData, err := json.Marshal(testEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSubject, eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &replyEvent))

	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.Equal(t, testEvent.PageNumber, replyEvent.PageNumber)
	assert.Equal(t, testEvent.TotalPages, replyEvent.TotalPages)

	audioData, err := store.Download(context.Background(), replyEvent.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("audio:Hello there"), audioData)

	renderer.mu.Lock()
	assert.Equal(t, "alice", renderer.voice)
	renderer.mu.Unlock()

	cancel()
	assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
}

func TestMessageHandler_MissingTextGetsNoReply(t *testing.T) {
	t.Parallel()

	renderer := &mockRenderer{}
	_, natsConnection, cancel, _ := setupTest(t, renderer)
	defer cancel()

	eventData, err := json.Marshal(&events.TextProcessedEvent{TextKey: "absent"})
	require.NoError(t, err)

	_, err = natsConnection.Request(testSubject, eventData, 200*time.Millisecond)
	require.ErrorIs(t, err, nats.ErrTimeout)

	renderer.mu.Lock()
	defer renderer.mu.Unlock()

	assert.Empty(t, renderer.texts)
}

func TestMessageHandler_RenderFailureGetsNoReply(t *testing.T) {
	t.Parallel()

	renderer := &mockRenderer{shouldFail: true}
	store, natsConnection, cancel, _ := setupTest(t, renderer)
	defer cancel()

	require.NoError(t, store.Upload(context.Background(), "text-1", []byte("Hello")))

	eventData, err := json.Marshal(&events.TextProcessedEvent{TextKey: "text-1"})
	require.NoError(t, err)

	_, err = natsConnection.Request(testSubject, eventData, 200*time.Millisecond)
	require.ErrorIs(t, err, nats.ErrTimeout)
}
