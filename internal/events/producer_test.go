package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/support-router/internal/models"
	"go.uber.org/zap"
)

type memoryWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *memoryWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *memoryWriter) Close() error {
	w.closed = true
	return nil
}

func newTestProducer() (*Producer, *memoryWriter, *memoryWriter) {
	alerts, assignments := &memoryWriter{}, &memoryWriter{}
	return &Producer{alertsWriter: alerts, assignmentsWriter: assignments, logger: zap.NewNop()}, alerts, assignments
}

func TestProducer_SendAlert(t *testing.T) {
	p, alerts, assignments := newTestProducer()

	alert := &models.MonitoringAlert{
		ID:             "al-1",
		Kind:           models.AlertEscalationRisk,
		ConversationID: "conv-1",
		EscalationRisk: 0.5,
		TriggeredAt:    time.Date(2026, 3, 1, 9, 6, 0, 0, time.UTC),
	}
	require.NoError(t, p.SendAlert(context.Background(), alert))
	require.Len(t, alerts.messages, 1)
	assert.Empty(t, assignments.messages)

	msg := alerts.messages[0]
	assert.Equal(t, "conv-1", string(msg.Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "conv-1", decoded["conversation_id"])
	assert.Equal(t, 0.5, decoded["escalation_risk"])
	assert.Equal(t, "2026-03-01T09:06:00Z", decoded["triggered_at"])
	assert.Equal(t, "escalation_risk", decoded["kind"])
}

func TestProducer_PublishAssignment(t *testing.T) {
	p, _, assignments := newTestProducer()

	a := &models.Assignment{ID: "asg-1", ConversationID: "conv-9", AgentID: "agent-2", Priority: models.PriorityHigh}
	require.NoError(t, p.PublishAssignment(context.Background(), a))
	require.Len(t, assignments.messages, 1)

	var decoded models.Assignment
	require.NoError(t, json.Unmarshal(assignments.messages[0].Value, &decoded))
	assert.Equal(t, "agent-2", decoded.AgentID)
	assert.Equal(t, models.PriorityHigh, decoded.Priority)
}

func TestProducer_WriteError(t *testing.T) {
	p, alerts, _ := newTestProducer()
	alerts.err = errors.New("leader not available")

	err := p.SendAlert(context.Background(), &models.MonitoringAlert{ID: "al-2", ConversationID: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "al-2")
}

func TestProducer_Close(t *testing.T) {
	p, alerts, assignments := newTestProducer()

	require.NoError(t, p.Close())
	assert.True(t, alerts.closed)
	assert.True(t, assignments.closed)
}

func TestNewProducer_ConfiguresWriters(t *testing.T) {
	p := NewProducer(Config{Brokers: []string{"localhost:9092"}, AlertsTopic: "alerts", AssignmentsTopic: "assignments"}, nil)

	w, ok := p.alertsWriter.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "alerts", w.Topic)
	w, _ = p.assignmentsWriter.(*kafka.Writer)
	assert.Equal(t, "assignments", w.Topic)
}
