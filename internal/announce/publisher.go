// Package announce publishes "audio created" events for new generations.
package announce

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/history"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// ErrSubjectEmpty is returned when a Publisher is created without a subject.
var ErrSubjectEmpty = errors.New("announce subject cannot be empty")

// Publisher sends an events.AudioChunkCreatedEvent per generation.
type Publisher struct {
	natsConnection *nats.Conn
	subject        string
	log            *logger.Logger
}

// NewPublisher creates a Publisher on subject.
func NewPublisher(natsConnection *nats.Conn, subject string, log *logger.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &Publisher{natsConnection: natsConnection, subject: subject, log: log}, nil
}

// AudioCreated announces result. The workflow id is the result id and the
// audio key is the key of its stored audio.
func (p *Publisher) AudioCreated(result history.GenerationResult) error {
	event := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  result.CreatedAt,
			WorkflowID: result.ID,
			EventID:    uuid.NewString(),
			UserID:     result.VoiceID,
		},
		AudioKey:   result.Handle.Key(),
		PageNumber: 1,
		TotalPages: 1,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audio event: %w", err)
	}

	err = p.natsConnection.Publish(p.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish audio event on %s: %w", p.subject, err)
	}

	p.log.Info("Announced %s on %s", result.ID, p.subject)

	return nil
}
