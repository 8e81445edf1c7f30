// Package worker serves render requests arriving over NATS.
//
// A request is an events.TextProcessedEvent whose TextKey names the text in
// the shared object store. The worker renders it through the studio and
// replies with an events.AudioChunkCreatedEvent whose AudioKey names the
// stored audio.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/core"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 2 * time.Minute

var (
	// ErrTextKeyEmpty indicates that the request does not name its text.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrSubjectEmpty indicates that the worker has no subject to listen on.
	ErrSubjectEmpty = errors.New("request subject cannot be empty")
)

// Renderer turns text into audio and returns the object store key of a copy
// the renderer no longer manages.
type Renderer interface {
	Render(ctx context.Context, text, voice string) (string, error)
}

// NatsWorker listens for render requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	renderer       Renderer
	log            *logger.Logger
}

// NewNatsWorker creates a worker reading request text from store.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	renderer Renderer,
	log *logger.Logger,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		renderer:       renderer,
		log:            log,
	}, nil
}

// Run subscribes and serves requests until ctx is done. Requests are handled
// one at a time, matching the studio's single in-flight synthesis.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Render worker listening on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(parent context.Context, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(parent, handleMessageTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, err := w.render(ctx, event)
	if err != nil {
		w.log.Error("Failed to render workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

func (w *NatsWorker) render(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text for key '%s': %w", event.TextKey, err)
	}

	audioKey, err := w.renderer.Render(ctx, strings.TrimSpace(string(textData)), event.Voice)
	if err != nil {
		return "", fmt.Errorf("failed to render text for key '%s': %w", event.TextKey, err)
	}

	return audioKey, nil
}

func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
