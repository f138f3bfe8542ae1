package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/support-router/internal/models"
	"github.com/xaenox/support-router/internal/monitor"
	"github.com/xaenox/support-router/internal/responder"
	"github.com/xaenox/support-router/internal/routing"
	"github.com/xaenox/support-router/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	handleTimeout = 30 * time.Second

	conversationPrefix = "tg-"
)

type Router interface {
	Route(ctx context.Context, req routing.RouteRequest) (*routing.Outcome, error)
	CloseConversation(ctx context.Context, conversationID string) error
}

// AssignmentLookup finds the agent currently holding a conversation.
type AssignmentLookup interface {
	CurrentAssignment(ctx context.Context, conversationID string) (*models.Assignment, error)
}

type AgentDirectory interface {
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
}

type Observer interface {
	Observe(ctx context.Context, ev monitor.Event)
}

type MessageRecorder interface {
	MessageReceived()
	MessageSent()
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Deps struct {
	Router      Router
	Assignments AssignmentLookup
	Monitor     Observer
	Metrics     MessageRecorder
	TenantID    string
	// Agents, when set, puts the agent's name in /status.
	Agents AgentDirectory
	// Workers bounds concurrently handled messages.
	Workers int
}

// Bot is the customer-facing Telegram channel.
type Bot struct {
	client *tgbotapi.BotAPI
	api    sender
	deps   Deps
	sem    *semaphore.Weighted
	logger *zap.Logger
	now    func() time.Time
}

func New(token string, deps Deps, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, deps, logger)
	b.client = api
	return b, nil
}

func newBot(api sender, deps Deps, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Workers <= 0 {
		deps.Workers = 16
	}
	if deps.TenantID == "" {
		deps.TenantID = "default"
	}
	return &Bot{
		api:    api,
		deps:   deps,
		sem:    semaphore.NewWeighted(int64(deps.Workers)),
		logger: logger,
		now:    time.Now,
	}
}

// Start polls for updates until ctx is done, then waits for in-flight messages.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.client.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.client.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.client.StopReceivingUpdates()
			_ = b.sem.Acquire(context.Background(), int64(b.deps.Workers))
			b.logger.Info("Bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			if err := b.sem.Acquire(ctx, 1); err != nil {
				continue
			}
			go func(message *tgbotapi.Message) {
				defer b.sem.Release(1)
				msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
				defer cancel()
				b.handleMessage(msgCtx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "Sorry, I can only read text messages for now.")
		return
	}

	if b.deps.Metrics != nil {
		b.deps.Metrics.MessageReceived()
	}

	receivedAt := b.now()
	convID := conversationID(message.Chat.ID)
	language := languageOf(message.From)

	if current := b.currentAssignment(ctx, convID); current != nil {
		// The agent owns the conversation now; only the wait clock moves.
		b.observe(ctx, monitor.Event{
			Kind:           monitor.EventCustomerMessage,
			TenantID:       b.deps.TenantID,
			ConversationID: convID,
			At:             receivedAt,
		})
		b.logger.Debug("Message for assigned conversation",
			zap.String("conversation_id", convID),
			zap.String("agent_id", current.AgentID))
		return
	}

	out, err := b.deps.Router.Route(ctx, routing.RouteRequest{
		TenantID:       b.deps.TenantID,
		ConversationID: convID,
		Message:        content,
		Language:       language,
	})
	if err != nil {
		b.logger.Error("Failed to route message",
			zap.Error(err),
			zap.String("conversation_id", convID),
			zap.Int64("user_id", userID(message.From)))
		b.sendErrorMessage(message.Chat.ID, responder.Fallback(language).Text)
		return
	}

	b.observe(ctx, monitor.Event{
		Kind:           monitor.EventCustomerMessage,
		TenantID:       b.deps.TenantID,
		ConversationID: convID,
		Analysis:       out.Analysis,
		At:             receivedAt,
	})

	switch out.Kind {
	case routing.OutcomeAssigned:
		b.observe(ctx, monitor.Event{
			Kind:           monitor.EventAssigned,
			TenantID:       b.deps.TenantID,
			ConversationID: convID,
			Priority:       out.Assignment.Priority,
			At:             receivedAt,
		})
		b.reply(message, responder.Acknowledge(out.Analysis.Language))
	case routing.OutcomeBot:
		if b.reply(message, out.Response.Text) {
			b.observe(ctx, monitor.Event{
				Kind:           monitor.EventAgentReply,
				TenantID:       b.deps.TenantID,
				ConversationID: convID,
				At:             b.now(),
			})
		}
	case routing.OutcomeQueued:
		b.reply(message, out.Response.Text)
	}
}

// Notify sends text to the chat behind a conversation.
func (b *Bot) Notify(ctx context.Context, conversationID, text string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return err
	}
	if !b.send(tgbotapi.NewMessage(chatID, text)) {
		return fmt.Errorf("failed to notify conversation %s", conversationID)
	}
	return nil
}

// HandleRerouted tells the customer where an asynchronous re-route left their
// conversation. It is the dispatcher's outcome handler.
func (b *Bot) HandleRerouted(ctx context.Context, req routing.RouteRequest, out *routing.Outcome, err error) {
	if err != nil {
		b.logger.Warn("Re-route failed",
			zap.Error(err),
			zap.String("conversation_id", req.ConversationID))
		return
	}
	b.logger.Info("Re-routed conversation",
		zap.String("conversation_id", req.ConversationID),
		zap.String("outcome", string(out.Kind)),
		zap.Bool("unchanged", out.Unchanged))

	language := req.Language
	if out.Analysis != nil {
		language = out.Analysis.Language
	}

	var text string
	switch out.Kind {
	case routing.OutcomeAssigned:
		if out.Unchanged {
			return
		}
		b.observe(ctx, monitor.Event{
			Kind:           monitor.EventAssigned,
			TenantID:       req.TenantID,
			ConversationID: req.ConversationID,
			Priority:       out.Assignment.Priority,
			At:             b.now(),
		})
		text = responder.Acknowledge(language)
	case routing.OutcomeQueued:
		if req.Queued != nil {
			// Still waiting in the same place; the customer already knows.
			return
		}
		text = out.Response.Text
	default:
		return
	}

	if err := b.Notify(ctx, req.ConversationID, text); err != nil {
		b.logger.Warn("Failed to notify customer",
			zap.Error(err),
			zap.String("conversation_id", req.ConversationID))
	}
}

func (b *Bot) currentAssignment(ctx context.Context, conversationID string) *models.Assignment {
	if b.deps.Assignments == nil {
		return nil
	}
	current, err := b.deps.Assignments.CurrentAssignment(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Warn("Failed to look up assignment",
				zap.Error(err),
				zap.String("conversation_id", conversationID))
		}
		return nil
	}
	return current
}

func (b *Bot) observe(ctx context.Context, ev monitor.Event) {
	if b.deps.Monitor != nil {
		b.deps.Monitor.Observe(ctx, ev)
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "status":
		b.handleStatus(ctx, message)
	case "close":
		b.handleClose(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to support! 👋
Tell me what you need help with and I'll answer right away or connect you with an agent.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/status - Show who is handling your conversation
/close - Close your conversation

Just describe your problem in a message. Urgent or complex requests go straight to a human agent.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	current := b.currentAssignment(ctx, conversationID(message.Chat.ID))
	if current == nil {
		b.sendMessage(message.Chat.ID, "You are not connected to an agent right now.")
		return
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, formatStatus(current, b.agentName(ctx, current.AgentID)))
	msg.ParseMode = "MarkdownV2"
	b.send(msg)
}

func (b *Bot) agentName(ctx context.Context, agentID string) string {
	if b.deps.Agents == nil {
		return ""
	}
	agent, err := b.deps.Agents.GetAgent(ctx, agentID)
	if err != nil {
		b.logger.Debug("Failed to look up agent", zap.Error(err), zap.String("agent_id", agentID))
		return ""
	}
	return agent.Name
}

func (b *Bot) handleClose(ctx context.Context, message *tgbotapi.Message) {
	id := conversationID(message.Chat.ID)
	err := b.deps.Router.CloseConversation(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.sendMessage(message.Chat.ID, "You don't have an open conversation.")
		return
	case err != nil:
		b.logger.Error("Failed to close conversation",
			zap.Error(err),
			zap.String("conversation_id", id))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't close your conversation. Please try again.")
		return
	}

	b.observe(ctx, monitor.Event{
		Kind:           monitor.EventClosed,
		TenantID:       b.deps.TenantID,
		ConversationID: id,
		At:             b.now(),
	})
	b.sendMessage(message.Chat.ID, "Your conversation is closed. Thanks for contacting support!")
}

func formatStatus(a *models.Assignment, agentName string) string {
	text := "*Status:* connected to an agent\n"
	if agentName != "" {
		text += fmt.Sprintf("*Agent:* %s\n", escapeMarkdown(agentName))
	}
	text += fmt.Sprintf("*Priority:* %s\n", escapeMarkdown(string(a.Priority)))
	if len(a.RequiredSkills) > 0 {
		skills := make([]string, len(a.RequiredSkills))
		for i, skill := range a.RequiredSkills {
			skills[i] = escapeMarkdown("#" + strings.ReplaceAll(skill, " ", "_"))
		}
		text += fmt.Sprintf("*Skills:* %s\n", strings.Join(skills, " "))
	}
	if a.EstimatedHandlingTimeMinutes > 0 {
		text += fmt.Sprintf("*Estimated time:* %d min", a.EstimatedHandlingTimeMinutes)
	}
	return text
}

func conversationID(chatID int64) string {
	return conversationPrefix + strconv.FormatInt(chatID, 10)
}

func chatIDOf(conversationID string) (int64, error) {
	raw, ok := strings.CutPrefix(conversationID, conversationPrefix)
	if !ok {
		return 0, fmt.Errorf("conversation %s is not a telegram chat", conversationID)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation id %s: %w", conversationID, err)
	}
	return chatID, nil
}

// languageOf reduces a Telegram language tag such as "pt-br" to its base code.
func languageOf(user *tgbotapi.User) string {
	if user == nil || user.LanguageCode == "" {
		return ""
	}
	code := strings.ToLower(user.LanguageCode)
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}

func userID(user *tgbotapi.User) int64 {
	if user == nil {
		return 0
	}
	return user.ID
}

// escapeMarkdown escapes special characters for MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) reply(message *tgbotapi.Message, text string) bool {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	return b.send(msg)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, "⚠️ "+text))
}

func (b *Bot) send(msg tgbotapi.MessageConfig) bool {
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID))
		return false
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.MessageSent()
	}
	return true
}
