package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xaenox/support-router/internal/models"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes monitoring alerts and committed assignments to Kafka.
// Messages are keyed by conversation id so one conversation stays ordered.
type Producer struct {
	alertsWriter      messageWriter
	assignmentsWriter messageWriter
	logger            *zap.Logger
}

type Config struct {
	Brokers          []string
	AlertsTopic      string
	AssignmentsTopic string
	WriteTimeout     time.Duration
}

func NewProducer(config Config, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		alertsWriter:      newWriter(config, config.AlertsTopic),
		assignmentsWriter: newWriter(config, config.AssignmentsTopic),
		logger:            logger,
	}
}

func newWriter(config Config, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
}

// SendAlert implements the monitor's alert sink.
func (p *Producer) SendAlert(ctx context.Context, alert *models.MonitoringAlert) error {
	if err := p.send(ctx, p.alertsWriter, alert.ConversationID, alert); err != nil {
		return fmt.Errorf("send alert %s: %w", alert.ID, err)
	}
	p.logger.Debug("Sent alert to Kafka",
		zap.String("conversation_id", alert.ConversationID),
		zap.String("kind", string(alert.Kind)))
	return nil
}

func (p *Producer) PublishAssignment(ctx context.Context, a *models.Assignment) error {
	if err := p.send(ctx, p.assignmentsWriter, a.ConversationID, a); err != nil {
		return fmt.Errorf("publish assignment %s: %w", a.ID, err)
	}
	p.logger.Debug("Sent assignment to Kafka",
		zap.String("conversation_id", a.ConversationID),
		zap.String("agent_id", a.AgentID))
	return nil
}

func (p *Producer) send(ctx context.Context, w messageWriter, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

func (p *Producer) Close() error {
	if err := p.alertsWriter.Close(); err != nil {
		return err
	}
	return p.assignmentsWriter.Close()
}
