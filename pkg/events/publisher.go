package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Event types emitted by the enrollment lifecycle.
const (
	TypeEnrollmentConfirmed = "enrollment.confirmed"
	TypeCourseCompleted     = "course.completed"
)

// Event is an enrollment lifecycle notification.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	EnrollmentID string    `json:"enrollment_id"`
	StudentID    string    `json:"student_id"`
	CourseID     string    `json:"course_id"`
	BatchID      string    `json:"batch_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes events to a RabbitMQ topic exchange keyed by event type.
type AMQPPublisher struct {
	ch       amqpChannel
	exchange string
}

// NewAMQPPublisher wraps an open channel.
func NewAMQPPublisher(ch amqpChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange}
}

// Publish marshals the event and sends it as a persistent message.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         event.Type,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}

// Dial connects to RabbitMQ and declares the topic exchange. The returned
// closer releases both channel and connection.
func Dial(url, exchange string) (*AMQPPublisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	closer := func() error {
		if err := ch.Close(); err != nil {
			_ = conn.Close()
			return err
		}
		return conn.Close()
	}
	return NewAMQPPublisher(ch, exchange), closer, nil
}

// LogPublisher records events in the log when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.Info("enrollment event",
		zap.String("type", event.Type),
		zap.String("event_id", event.ID),
		zap.String("enrollment_id", event.EnrollmentID),
		zap.String("course_id", event.CourseID),
	)
	return nil
}
