package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/xaenox/support-router/internal/models"
	"github.com/xaenox/support-router/internal/routing"
	"go.uber.org/zap"
)

type EventKind string

const (
	EventCustomerMessage EventKind = "customer_message"
	EventAgentReply      EventKind = "agent_reply"
	EventAssigned        EventKind = "assigned"
	EventClosed          EventKind = "closed"
)

// Event is one observed change in a conversation.
type Event struct {
	Kind           EventKind
	TenantID       string
	ConversationID string
	// Analysis of the customer message, when there is one.
	Analysis *models.AnalysisVector
	Priority models.Priority
	At       time.Time
}

// AlertSink receives monitoring alerts.
type AlertSink interface {
	SendAlert(ctx context.Context, alert *models.MonitoringAlert) error
}

// Rerouter accepts re-routing requests; false means the request was dropped.
type Rerouter interface {
	Submit(req routing.RouteRequest) bool
}

type AlertRecorder interface {
	AlertRaised(kind string)
}

type Config struct {
	Schedule            string
	EscalationThreshold float64
	LongConversation    time.Duration
	CustomerWait        time.Duration
	SLA                 map[models.Priority]time.Duration
}

func DefaultConfig() Config {
	return Config{
		Schedule:            "@every 30s",
		EscalationThreshold: 0.5,
		LongConversation:    30 * time.Minute,
		CustomerWait:        5 * time.Minute,
		SLA: map[models.Priority]time.Duration{
			models.PriorityUrgent: time.Minute,
			models.PriorityHigh:   5 * time.Minute,
			models.PriorityMedium: 15 * time.Minute,
			models.PriorityLow:    30 * time.Minute,
		},
	}
}

func (c Config) Validate() error {
	if c.EscalationThreshold <= 0 || c.EscalationThreshold > 1 {
		return fmt.Errorf("escalation threshold must be in (0,1], got %v", c.EscalationThreshold)
	}
	if c.LongConversation <= 0 || c.CustomerWait <= 0 {
		return fmt.Errorf("monitor durations must be positive")
	}
	return nil
}

type conversation struct {
	state    models.ConversationState
	analysis *models.AnalysisVector
}

// Monitor tracks ongoing conversations, raises escalation and SLA alerts and
// asks for a re-route when escalation risk crosses the threshold. It never
// changes an assignment itself.
type Monitor struct {
	config   Config
	sink     AlertSink
	rerouter Rerouter
	recorder AlertRecorder
	logger   *zap.Logger
	now      func() time.Time

	mu            sync.Mutex
	conversations map[string]*conversation

	cron *cron.Cron
}

func NewMonitor(config Config, sink AlertSink, rerouter Rerouter, recorder AlertRecorder, logger *zap.Logger) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		config:        config,
		sink:          sink,
		rerouter:      rerouter,
		recorder:      recorder,
		logger:        logger,
		now:           time.Now,
		conversations: make(map[string]*conversation),
	}, nil
}

// EscalationRisk scores how likely a conversation needs urgent re-routing.
func EscalationRisk(negative bool, duration, customerWait time.Duration, cfg Config) float64 {
	risk := 0.0
	if negative {
		risk += 0.3
	}
	if duration > cfg.LongConversation {
		risk += 0.2
	}
	if customerWait > cfg.CustomerWait {
		risk += 0.2
	}
	if risk > 1 {
		risk = 1
	}
	return risk
}

// Observe updates the conversation state and evaluates it immediately.
func (m *Monitor) Observe(ctx context.Context, ev Event) {
	at := ev.At
	if at.IsZero() {
		at = m.now()
	}

	m.mu.Lock()
	if ev.Kind == EventClosed {
		delete(m.conversations, ev.ConversationID)
		m.mu.Unlock()
		return
	}

	c, ok := m.conversations[ev.ConversationID]
	if !ok {
		c = &conversation{state: models.ConversationState{
			TenantID:       ev.TenantID,
			ConversationID: ev.ConversationID,
			Language:       models.DefaultLanguage,
			Priority:       models.PriorityLow,
			Sentiment:      models.SentimentNeutral,
			StartedAt:      at,
		}}
		m.conversations[ev.ConversationID] = c
	}

	switch ev.Kind {
	case EventCustomerMessage:
		if !c.state.AwaitingAgent() {
			c.state.SLABreached = false
		}
		c.state.LastCustomerAt = at
		if ev.Analysis != nil {
			a := *ev.Analysis
			c.analysis = &a
			c.state.Sentiment = a.Sentiment.Overall
			c.state.Language = a.Language
		}
	case EventAgentReply:
		c.state.LastAgentAt = at
		c.state.SLABreached = false
	case EventAssigned:
		if ev.Priority != "" {
			c.state.Priority = ev.Priority
		}
	}

	pending := m.evaluateLocked(c, at)
	m.mu.Unlock()

	m.deliver(ctx, pending)
}

// Sweep re-evaluates every tracked conversation. The cron schedule calls it.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var pending []action
	for _, id := range ids {
		pending = append(pending, m.evaluateLocked(m.conversations[id], now)...)
	}
	m.mu.Unlock()

	m.deliver(ctx, pending)
}

// State returns a copy of the tracked state of a conversation.
func (m *Monitor) State(conversationID string) (models.ConversationState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return models.ConversationState{}, false
	}
	return c.state, true
}

func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

type action struct {
	alert   *models.MonitoringAlert
	reroute *routing.RouteRequest
}

func (m *Monitor) evaluateLocked(c *conversation, now time.Time) []action {
	s := &c.state
	var wait time.Duration
	if s.AwaitingAgent() {
		wait = now.Sub(s.LastCustomerAt)
	}

	s.EscalationRisk = EscalationRisk(s.Sentiment == models.SentimentNegative, now.Sub(s.StartedAt), wait, m.config)

	var out []action
	switch {
	case s.EscalationRisk >= m.config.EscalationThreshold && !s.Alerted:
		s.Alerted = true
		out = append(out, action{
			alert:   m.newAlert(s, models.AlertEscalationRisk, now),
			reroute: m.rerouteRequest(c),
		})
	case s.EscalationRisk < m.config.EscalationThreshold:
		s.Alerted = false
	}

	if target, ok := m.config.SLA[s.Priority]; ok && wait > target && !s.SLABreached {
		s.SLABreached = true
		out = append(out, action{alert: m.newAlert(s, models.AlertSLABreach, now)})
	}
	return out
}

func (m *Monitor) newAlert(s *models.ConversationState, kind models.AlertKind, now time.Time) *models.MonitoringAlert {
	return &models.MonitoringAlert{
		ID:             uuid.NewString(),
		Kind:           kind,
		TenantID:       s.TenantID,
		ConversationID: s.ConversationID,
		EscalationRisk: s.EscalationRisk,
		TriggeredAt:    now.UTC(),
	}
}

func (m *Monitor) rerouteRequest(c *conversation) *routing.RouteRequest {
	var analysis *models.AnalysisVector
	if c.analysis != nil {
		a := *c.analysis
		analysis = &a
	} else {
		analysis = models.NeutralAnalysis(c.state.Language)
		analysis.Sentiment.Overall = c.state.Sentiment
	}
	return &routing.RouteRequest{
		TenantID:       c.state.TenantID,
		ConversationID: c.state.ConversationID,
		Language:       c.state.Language,
		Analysis:       analysis,
		Escalation:     true,
	}
}

func (m *Monitor) deliver(ctx context.Context, actions []action) {
	for _, a := range actions {
		alert := a.alert
		m.logger.Info("Conversation alert",
			zap.String("kind", string(alert.Kind)),
			zap.String("conversation_id", alert.ConversationID),
			zap.Float64("escalation_risk", alert.EscalationRisk))

		if m.recorder != nil {
			m.recorder.AlertRaised(string(alert.Kind))
		}
		if m.sink != nil {
			if err := m.sink.SendAlert(ctx, alert); err != nil {
				m.logger.Warn("Failed to send alert",
					zap.String("conversation_id", alert.ConversationID),
					zap.Error(err))
			}
		}
		if a.reroute != nil && m.rerouter != nil && !m.rerouter.Submit(*a.reroute) {
			m.logger.Warn("Re-route request dropped",
				zap.String("conversation_id", a.reroute.ConversationID))
		}
	}
}

// Start runs Sweep on the configured schedule.
func (m *Monitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(m.config.Schedule, func() { m.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", m.config.Schedule, err)
	}
	m.cron = c
	c.Start()
	m.logger.Info("Conversation monitor started", zap.String("schedule", m.config.Schedule))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.logger.Info("Conversation monitor stopped")
}
