package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/support-router/internal/models"
	"github.com/xaenox/support-router/internal/monitor"
	"github.com/xaenox/support-router/internal/responder"
	"github.com/xaenox/support-router/internal/routing"
	"github.com/xaenox/support-router/internal/storage"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.Text
	}
	return out
}

type fakeRouter struct {
	outcome  *routing.Outcome
	err      error
	closeErr error
	requests []routing.RouteRequest
	closed   []string
}

func (r *fakeRouter) Route(ctx context.Context, req routing.RouteRequest) (*routing.Outcome, error) {
	r.requests = append(r.requests, req)
	return r.outcome, r.err
}

func (r *fakeRouter) CloseConversation(ctx context.Context, conversationID string) error {
	r.closed = append(r.closed, conversationID)
	return r.closeErr
}

type fakeLookup struct {
	current *models.Assignment
}

func (l *fakeLookup) CurrentAssignment(ctx context.Context, conversationID string) (*models.Assignment, error) {
	if l.current == nil {
		return nil, storage.ErrNotFound
	}
	return l.current, nil
}

type fakeDirectory map[string]*models.Agent

func (d fakeDirectory) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	if a, ok := d[agentID]; ok {
		return a, nil
	}
	return nil, storage.ErrNotFound
}

type recordingObserver struct {
	events []monitor.Event
}

func (o *recordingObserver) Observe(ctx context.Context, ev monitor.Event) {
	o.events = append(o.events, ev)
}

func (o *recordingObserver) kinds() []monitor.EventKind {
	out := make([]monitor.EventKind, len(o.events))
	for i, ev := range o.events {
		out[i] = ev.Kind
	}
	return out
}

type countingMetrics struct {
	received, sent int
}

func (m *countingMetrics) MessageReceived() { m.received++ }

func (m *countingMetrics) MessageSent() { m.sent++ }

type harness struct {
	bot      *Bot
	api      *fakeSender
	router   *fakeRouter
	lookup   *fakeLookup
	observer *recordingObserver
	metrics  *countingMetrics
}

func newHarness(outcome *routing.Outcome) *harness {
	h := &harness{
		api:      &fakeSender{},
		router:   &fakeRouter{outcome: outcome},
		lookup:   &fakeLookup{},
		observer: &recordingObserver{},
		metrics:  &countingMetrics{},
	}
	h.bot = newBot(h.api, Deps{
		Router:      h.router,
		Assignments: h.lookup,
		Monitor:     h.observer,
		Metrics:     h.metrics,
		TenantID:    "acme",
	}, nil)
	return h
}

func textMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, LanguageCode: "es-MX"},
		Chat:      &tgbotapi.Chat{ID: 1001},
		Text:      text,
	}
}

func commandMessage(command string) *tgbotapi.Message {
	msg := textMessage("/" + command)
	msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(command) + 1}}
	return msg
}

func TestBot_BotReply(t *testing.T) {
	h := newHarness(&routing.Outcome{
		Kind:     routing.OutcomeBot,
		Analysis: models.NeutralAnalysis("es"),
		Response: &models.BotResponse{Text: "Puede restablecer su contraseña en Ajustes.", ResponseType: models.ResponseAIGenerated},
	})

	h.bot.handleMessage(context.Background(), textMessage("¿Cómo cambio mi contraseña?"))

	require.Len(t, h.router.requests, 1)
	req := h.router.requests[0]
	assert.Equal(t, "acme", req.TenantID)
	assert.Equal(t, "tg-1001", req.ConversationID)
	assert.Equal(t, "es", req.Language)
	assert.False(t, req.Escalation)

	assert.Equal(t, []string{"Puede restablecer su contraseña en Ajustes."}, h.api.texts())
	assert.Equal(t, 7, h.api.sent[0].ReplyToMessageID)
	assert.Equal(t, []monitor.EventKind{monitor.EventCustomerMessage, monitor.EventAgentReply}, h.observer.kinds())
	assert.Equal(t, 1, h.metrics.received)
	assert.Equal(t, 1, h.metrics.sent)
}

func TestBot_Assigned(t *testing.T) {
	h := newHarness(&routing.Outcome{
		Kind:       routing.OutcomeAssigned,
		Analysis:   models.NeutralAnalysis("es"),
		Assignment: &models.Assignment{ID: "asg-1", AgentID: "agent-1", Priority: models.PriorityHigh},
	})

	h.bot.handleMessage(context.Background(), textMessage("Me cobraron dos veces"))

	assert.Equal(t, []string{responder.Acknowledge("es")}, h.api.texts())
	require.Equal(t, []monitor.EventKind{monitor.EventCustomerMessage, monitor.EventAssigned}, h.observer.kinds())
	assert.Equal(t, models.PriorityHigh, h.observer.events[1].Priority)
	assert.NotNil(t, h.observer.events[0].Analysis)
}

func TestBot_Queued(t *testing.T) {
	notice := responder.QueueNotice("en")
	h := newHarness(&routing.Outcome{
		Kind:     routing.OutcomeQueued,
		Analysis: models.NeutralAnalysis("en"),
		Response: &notice,
	})

	h.bot.handleMessage(context.Background(), textMessage("nobody is answering"))

	assert.Equal(t, []string{notice.Text}, h.api.texts())
	assert.Equal(t, []monitor.EventKind{monitor.EventCustomerMessage}, h.observer.kinds())
}

func TestBot_AssignedConversationSkipsRouting(t *testing.T) {
	h := newHarness(nil)
	h.lookup.current = &models.Assignment{ID: "asg-1", AgentID: "agent-1"}

	h.bot.handleMessage(context.Background(), textMessage("any update?"))

	assert.Empty(t, h.router.requests)
	assert.Empty(t, h.api.texts())
	require.Len(t, h.observer.events, 1)
	assert.Equal(t, monitor.EventCustomerMessage, h.observer.events[0].Kind)
	assert.Nil(t, h.observer.events[0].Analysis)
}

func TestBot_RouteError(t *testing.T) {
	h := newHarness(nil)
	h.router.err = &models.ValidationError{Field: "conversation_id", Reason: "required"}

	h.bot.handleMessage(context.Background(), textMessage("hello"))

	require.Len(t, h.api.texts(), 1)
	assert.Contains(t, h.api.texts()[0], responder.Fallback("es").Text)
	assert.Empty(t, h.observer.events)
}

func TestBot_EmptyContent(t *testing.T) {
	h := newHarness(nil)

	h.bot.handleMessage(context.Background(), textMessage("   "))

	assert.Empty(t, h.router.requests)
	assert.Len(t, h.api.texts(), 1)
	assert.Equal(t, 0, h.metrics.received)
}

func TestBot_CloseCommand(t *testing.T) {
	h := newHarness(nil)

	h.bot.handleMessage(context.Background(), commandMessage("close"))

	assert.Equal(t, []string{"tg-1001"}, h.router.closed)
	assert.Equal(t, []monitor.EventKind{monitor.EventClosed}, h.observer.kinds())
	assert.Len(t, h.api.texts(), 1)
}

func TestBot_CloseCommandWithoutConversation(t *testing.T) {
	h := newHarness(nil)
	h.router.closeErr = storage.ErrNotFound

	h.bot.handleMessage(context.Background(), commandMessage("close"))

	assert.Empty(t, h.observer.events)
	assert.Equal(t, []string{"You don't have an open conversation."}, h.api.texts())
}

func TestBot_StatusCommand(t *testing.T) {
	h := newHarness(nil)
	h.lookup.current = &models.Assignment{
		AgentID:                      "agent-1",
		Priority:                     models.PriorityUrgent,
		RequiredSkills:               []string{"billing"},
		EstimatedHandlingTimeMinutes: 13,
	}

	h.bot.handleMessage(context.Background(), commandMessage("status"))

	require.Len(t, h.api.sent, 1)
	assert.Equal(t, "MarkdownV2", h.api.sent[0].ParseMode)
	assert.Contains(t, h.api.sent[0].Text, "*Priority:* urgent")
	assert.Contains(t, h.api.sent[0].Text, "\\#billing")
	assert.NotContains(t, h.api.sent[0].Text, "*Agent:*")
}

func TestBot_StatusCommandNamesAgent(t *testing.T) {
	h := newHarness(nil)
	h.bot.deps.Agents = fakeDirectory{"agent-1": {ID: "agent-1", Name: "Ana M."}}
	h.lookup.current = &models.Assignment{AgentID: "agent-1", Priority: models.PriorityLow}

	h.bot.handleMessage(context.Background(), commandMessage("status"))

	require.Len(t, h.api.sent, 1)
	assert.Contains(t, h.api.sent[0].Text, "*Agent:* Ana M\\.")
}

func TestBot_SendFailureNotCounted(t *testing.T) {
	h := newHarness(nil)
	h.api.err = errors.New("bot was blocked by the user")

	h.bot.handleMessage(context.Background(), commandMessage("help"))

	assert.Equal(t, 0, h.metrics.sent)
}

func TestBot_Notify(t *testing.T) {
	h := newHarness(nil)

	require.NoError(t, h.bot.Notify(context.Background(), "tg-1001", "An agent is on the way."))
	require.Len(t, h.api.sent, 1)
	assert.Equal(t, int64(1001), h.api.sent[0].ChatID)
	assert.Equal(t, "An agent is on the way.", h.api.sent[0].Text)

	assert.Error(t, h.bot.Notify(context.Background(), "web-17", "hi"))
	assert.Error(t, h.bot.Notify(context.Background(), "tg-abc", "hi"))
	assert.Len(t, h.api.sent, 1)

	h.api.err = errors.New("bot was blocked by the user")
	assert.Error(t, h.bot.Notify(context.Background(), "tg-1001", "hi"))
}

func TestBot_HandleRerouted(t *testing.T) {
	notice := responder.QueueNotice("es")
	assigned := &routing.Outcome{
		Kind:       routing.OutcomeAssigned,
		Analysis:   models.NeutralAnalysis("es"),
		Assignment: &models.Assignment{ID: "asg-2", AgentID: "agent-2", Priority: models.PriorityUrgent},
	}
	kept := &routing.Outcome{
		Kind:       routing.OutcomeAssigned,
		Analysis:   models.NeutralAnalysis("es"),
		Assignment: &models.Assignment{ID: "asg-1", AgentID: "agent-1"},
		Unchanged:  true,
	}
	queued := &routing.Outcome{
		Kind:     routing.OutcomeQueued,
		Analysis: models.NeutralAnalysis("es"),
		Response: &notice,
	}
	escalation := routing.RouteRequest{TenantID: "acme", ConversationID: "tg-1001", Escalation: true}
	promotion := routing.RouteRequest{TenantID: "acme", ConversationID: "tg-1001", Queued: &models.QueueEntry{ID: "q-1"}}

	tests := []struct {
		name   string
		req    routing.RouteRequest
		out    *routing.Outcome
		err    error
		texts  []string
		events []monitor.EventKind
	}{
		{"new agent", escalation, assigned, nil, []string{responder.Acknowledge("es")}, []monitor.EventKind{monitor.EventAssigned}},
		{"queued after escalation", escalation, queued, nil, []string{notice.Text}, []monitor.EventKind{}},
		{"kept agent", escalation, kept, nil, []string{}, []monitor.EventKind{}},
		{"still waiting", promotion, queued, nil, []string{}, []monitor.EventKind{}},
		{"promoted from queue", promotion, assigned, nil, []string{responder.Acknowledge("es")}, []monitor.EventKind{monitor.EventAssigned}},
		{"route error", escalation, nil, context.DeadlineExceeded, []string{}, []monitor.EventKind{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(nil)

			h.bot.HandleRerouted(context.Background(), tt.req, tt.out, tt.err)

			assert.Equal(t, tt.texts, h.api.texts())
			assert.Equal(t, tt.events, h.observer.kinds())
		})
	}
}

func TestLanguageOf(t *testing.T) {
	tests := []struct {
		user *tgbotapi.User
		want string
	}{
		{nil, ""},
		{&tgbotapi.User{}, ""},
		{&tgbotapi.User{LanguageCode: "de"}, "de"},
		{&tgbotapi.User{LanguageCode: "pt-BR"}, "pt"},
		{&tgbotapi.User{LanguageCode: "zh_hans"}, "zh"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, languageOf(tt.user))
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `\#senior\_support`, escapeMarkdown("#senior_support"))
	assert.Equal(t, `a\.b\!`, escapeMarkdown("a.b!"))
	assert.Equal(t, `c:\\tmp`, escapeMarkdown(`c:\tmp`))
}
