package responder

import (
	"context"
	"strings"
	"time"

	"github.com/xaenox/support-router/internal/models"
	"go.uber.org/zap"
)

// FallbackConfidence is reported for static messages used when generation fails.
const FallbackConfidence = 0.3

// Generator drafts a reply for a message that the bot handles on its own.
type Generator interface {
	GenerateReply(ctx context.Context, content string, analysis *models.AnalysisVector) (string, float64, error)
}

// Handler is the bot path: autonomous replies, static fallbacks and queue notices.
// It never returns an error to its caller.
type Handler struct {
	generator Generator
	timeout   time.Duration
	logger    *zap.Logger
}

func NewHandler(generator Generator, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{generator: generator, timeout: timeout, logger: logger}
}

func (h *Handler) Respond(ctx context.Context, content string, analysis *models.AnalysisVector) models.BotResponse {
	language := languageOf(analysis)
	if h.generator == nil {
		return Fallback(language)
	}

	genCtx := ctx
	if h.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	text, confidence, err := h.generator.GenerateReply(genCtx, content, analysis)
	if err != nil || strings.TrimSpace(text) == "" {
		h.logger.Warn("Reply generation failed, using fallback message",
			zap.Error(err),
			zap.String("language", language))
		return Fallback(language)
	}

	return models.BotResponse{
		Text:         text,
		Confidence:   models.Clamp01(confidence),
		ResponseType: models.ResponseAIGenerated,
	}
}

// Fallback is the static reply for when no generated answer is available.
func Fallback(language string) models.BotResponse {
	return models.BotResponse{
		Text:         lookup(fallbackMessages, language),
		Confidence:   FallbackConfidence,
		ResponseType: models.ResponseFallback,
	}
}

func QueueNotice(language string) models.BotResponse {
	return models.BotResponse{
		Text:         lookup(queueMessages, language),
		Confidence:   1,
		ResponseType: models.ResponseQueued,
	}
}

// Acknowledge is the customer notice sent once an agent has been assigned.
func Acknowledge(language string) string {
	return lookup(connectingMessages, language)
}

func languageOf(a *models.AnalysisVector) string {
	if a == nil {
		return models.DefaultLanguage
	}
	return models.NormalizeLanguage(a.Language)
}

func lookup(table map[string]string, language string) string {
	if msg, ok := table[models.NormalizeLanguage(language)]; ok {
		return msg
	}
	return table[models.DefaultLanguage]
}
