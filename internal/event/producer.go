package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Akhil-Ferry/Smart-city/internal/config"
	"github.com/Akhil-Ferry/Smart-city/internal/model"
)

// Producer publishes alert lifecycle events for downstream services
// (dashboards, audit, analytics). It satisfies the controller's publisher
// contract.
type Producer struct {
	logger *slog.Logger
	writer *kafka.Writer
}

// lifecycleEvent is the wire shape of one alert event.
type lifecycleEvent struct {
	Event     string       `json:"event"`
	AlertID   string       `json:"alert_id"`
	Status    model.Status `json:"status"`
	Severity  string       `json:"severity"`
	Category  string       `json:"category"`
	Priority  int          `json:"priority"`
	Title     string       `json:"title"`
	District  string       `json:"district,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.AlertEvents,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Logger:       &kafkaLogger{logger: logger},
		ErrorLogger:  &kafkaErrorLogger{logger: logger},
	}
	return &Producer{logger: logger, writer: writer}
}

// PublishAlertEvent emits one lifecycle event, keyed by alert ID so
// consumers see events for a given alert in order.
func (p *Producer) PublishAlertEvent(ctx context.Context, event string, alert *model.Alert) error {
	msg := lifecycleEvent{
		Event:     event,
		AlertID:   alert.AlertID,
		Status:    alert.Status,
		Severity:  string(alert.Severity),
		Category:  string(alert.Category),
		Priority:  alert.Priority,
		Title:     alert.Title,
		Timestamp: time.Now().UTC(),
	}
	if alert.District != nil {
		msg.District = *alert.District
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	kafkaMsg := kafka.Message{
		Key:   []byte(alert.AlertID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event)},
			{Key: "severity", Value: []byte(alert.Severity)},
			{Key: "category", Value: []byte(alert.Category)},
		},
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsg); err != nil {
		return fmt.Errorf("failed to write alert event: %w", err)
	}

	p.logger.Debug("alert event published",
		"event", event,
		"alert_id", alert.AlertID,
		"severity", alert.Severity)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
