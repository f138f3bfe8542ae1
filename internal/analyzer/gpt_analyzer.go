package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/support-router/internal/models"
	"go.uber.org/zap"
)

var errEmptyCompletion = errors.New("empty completion")

type GPTAnalyzer struct {
	client       *openai.Client
	model        string
	maxTokens    int
	temperature  float64
	maxKeyPoints int
	logger       *zap.Logger
}

type GPTConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	Temperature  float64
	MaxKeyPoints int
}

func NewGPTAnalyzer(cfg GPTConfig, logger *zap.Logger) *GPTAnalyzer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxKeyPoints <= 0 {
		cfg.MaxKeyPoints = 5
	}
	return &GPTAnalyzer{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		maxKeyPoints: cfg.MaxKeyPoints,
		logger:       logger,
	}
}

const analysisPrompt = `You triage customer support messages. Analyze the message and return only a JSON object:
{
    "sentiment": {"overall": "positive|neutral|negative", "confidence": 0.0-1.0},
    "intent": {"primary": "technical_support|billing|sales|complaint|cancellation|general", "confidence": 0.0-1.0, "requires_human": true|false},
    "complexity": 0.0-1.0,
    "urgency": 0.0-1.0,
    "language": "ISO 639-1 code",
    "topics": ["topic", ...],
    "key_points": ["point", ...] (max %d, in message order),
    "confidence_score": 0.0-1.0
}
Set requires_human when the customer explicitly asks for a person.
Language hint: %s

Message: %s`

// Analyze asks the model for an analysis vector. Any transport, decode or
// range failure is returned; the caller decides the degraded path.
func (c *GPTAnalyzer) Analyze(ctx context.Context, content, language string) (*models.AnalysisVector, error) {
	prompt := fmt.Sprintf(analysisPrompt, c.maxKeyPoints, models.NormalizeLanguage(language), content)

	response, err := c.complete(ctx, prompt, "")
	if err != nil {
		c.logger.Warn("Failed to get analysis response", zap.Error(err))
		return nil, fmt.Errorf("analysis request: %w", err)
	}

	var v models.AnalysisVector
	if err := json.Unmarshal([]byte(response), &v); err != nil {
		c.logger.Warn("Failed to parse analysis response",
			zap.Error(err),
			zap.String("response", response))
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	// Models answer "Negative" as often as "negative".
	v.Sentiment.Overall = models.Sentiment(strings.ToLower(strings.TrimSpace(string(v.Sentiment.Overall))))
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("analysis out of range: %w", err)
	}
	if v.Language == "" {
		v.Language = language
	}
	if len(v.KeyPoints) > c.maxKeyPoints {
		v.KeyPoints = v.KeyPoints[:c.maxKeyPoints]
	}
	v.Normalize()
	return &v, nil
}

type generatedReply struct {
	Reply      string  `json:"reply"`
	Confidence float64 `json:"confidence"`
}

const replySystemPrompt = `You are a customer support assistant. Answer in the customer's language (%s).
Be concise and friendly. If you cannot resolve the request, say that a specialist will follow up.
Return only a JSON object: {"reply": "text", "confidence": 0.0-1.0}`

// GenerateReply drafts an autonomous answer for messages that do not need a human.
func (c *GPTAnalyzer) GenerateReply(ctx context.Context, content string, analysis *models.AnalysisVector) (string, float64, error) {
	language := models.DefaultLanguage
	if analysis != nil {
		language = analysis.Language
	}

	response, err := c.complete(ctx, content, fmt.Sprintf(replySystemPrompt, language))
	if err != nil {
		c.logger.Warn("Failed to get reply response", zap.Error(err))
		return "", 0, fmt.Errorf("reply request: %w", err)
	}

	var reply generatedReply
	if err := json.Unmarshal([]byte(response), &reply); err != nil {
		c.logger.Warn("Failed to parse reply response",
			zap.Error(err),
			zap.String("response", response))
		return "", 0, fmt.Errorf("decode reply: %w", err)
	}
	if strings.TrimSpace(reply.Reply) == "" {
		return "", 0, errEmptyCompletion
	}
	return reply.Reply, models.Clamp01(reply.Confidence), nil
}

func (c *GPTAnalyzer) complete(ctx context.Context, user, system string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
