package routing

import (
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/support-router/internal/models"
)

const defaultApproach = "Provide clear, friendly assistance and confirm the customer's goal"

var sentimentApproaches = map[models.Sentiment]string{
	models.SentimentNegative: "Acknowledge the frustration and resolve quickly",
	models.SentimentPositive: "Keep the positive tone and confirm next steps",
}

var intentApproaches = map[string]string{
	"technical_support": "Walk through troubleshooting step by step and confirm each result",
	"billing":           "Verify account details and explain charges clearly",
	"sales":             "Understand requirements before recommending a plan",
	"complaint":         "Apologize sincerely, take ownership and offer a concrete remedy",
	"cancellation":      "Understand the reason and present retention options without pressure",
}

var intentTemplates = map[string][]string{
	"technical_support": {"troubleshooting_steps", "known_issue", "escalate_engineering"},
	"billing":           {"billing_explanation", "refund_policy", "payment_update"},
	"sales":             {"product_overview", "pricing_plans", "schedule_demo"},
	"complaint":         {"formal_apology", "compensation_offer"},
	"cancellation":      {"retention_offer", "cancellation_confirmation"},
}

var sentimentTemplates = map[models.Sentiment][]string{
	models.SentimentNegative: {"empathy_opening", "apology"},
	models.SentimentNeutral:  {"standard_greeting"},
	models.SentimentPositive: {"appreciation"},
}

// Builder assembles assignments and the agent-facing context payload.
type Builder struct {
	now   func() time.Time
	newID func() string
}

func NewBuilder() *Builder {
	return &Builder{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (b *Builder) Build(tenantID, conversationID string, decision models.RoutingDecision, winner models.ScoredAgent, analysis *models.AnalysisVector) *models.Assignment {
	return &models.Assignment{
		ID:                           b.newID(),
		TenantID:                     tenantID,
		ConversationID:               conversationID,
		AgentID:                      winner.Agent.ID,
		Priority:                     decision.Priority,
		RequiredSkills:               append([]string(nil), decision.RequiredSkills...),
		EstimatedHandlingTimeMinutes: decision.EstimatedHandlingTimeMinutes,
		Score:                        winner.Score,
		AIContext:                    BuildAIContext(analysis),
		CreatedAt:                    b.now().UTC(),
	}
}

// BuildAIContext is deterministic: the same vector always yields the same payload.
func BuildAIContext(a *models.AnalysisVector) models.AIContext {
	return models.AIContext{
		Sentiment:            a.Sentiment.Overall,
		SentimentConfidence:  a.Sentiment.Confidence,
		Intent:               a.Intent.Primary,
		Complexity:           a.Complexity,
		Urgency:              a.Urgency,
		Language:             a.Language,
		Topics:               append([]string(nil), a.Topics...),
		SuggestedApproach:    suggestedApproach(a),
		KeyPoints:            append([]string{}, a.KeyPoints...),
		RecommendedTemplates: recommendedTemplates(a),
	}
}

// Sentiment wins over intent so an upset customer is always handled gently first.
func suggestedApproach(a *models.AnalysisVector) string {
	if approach, ok := sentimentApproaches[a.Sentiment.Overall]; ok && a.Sentiment.Overall == models.SentimentNegative {
		return approach
	}
	if approach, ok := intentApproaches[a.Intent.Primary]; ok {
		return approach
	}
	if approach, ok := sentimentApproaches[a.Sentiment.Overall]; ok {
		return approach
	}
	return defaultApproach
}

func recommendedTemplates(a *models.AnalysisVector) []string {
	seen := make(map[string]struct{})
	var tags []string
	add := func(list []string) {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	add(sentimentTemplates[a.Sentiment.Overall])
	add(intentTemplates[a.Intent.Primary])
	if tags == nil {
		tags = []string{}
	}
	return tags
}
