package analyzer

import (
	"context"
	"sort"
	"strings"

	"github.com/xaenox/support-router/internal/models"
)

type Analyzer interface {
	Analyze(ctx context.Context, content, language string) (*models.AnalysisVector, error)
}

// KeywordAnalyzer scores messages with fixed keyword tables. It needs no
// external service and is used when no OpenAI key is configured.
type KeywordAnalyzer struct {
	maxKeyPoints int
}

func NewKeywordAnalyzer(maxKeyPoints int) *KeywordAnalyzer {
	if maxKeyPoints <= 0 {
		maxKeyPoints = 3
	}
	return &KeywordAnalyzer{maxKeyPoints: maxKeyPoints}
}

var intentKeywords = map[string][]string{
	"technical_support": {"error", "bug", "crash", "not working", "broken", "login", "password", "install", "outage"},
	"billing":           {"invoice", "charge", "charged", "refund", "payment", "bill", "subscription fee"},
	"sales":             {"price", "pricing", "buy", "purchase", "plan", "upgrade", "demo", "quote"},
	"complaint":         {"complaint", "unacceptable", "worst", "disappointed", "ridiculous"},
	"cancellation":      {"cancel", "unsubscribe", "close my account"},
}

var (
	negativeWords = []string{"angry", "terrible", "awful", "hate", "frustrat", "annoy", "useless", "worst", "unacceptable", "disappointed", "ridiculous", "still not"}
	positiveWords = []string{"thank", "great", "awesome", "love", "perfect", "excellent", "appreciate", "happy"}
	urgentWords   = []string{"urgent", "asap", "immediately", "emergency", "right now", "critical"}
	humanWords    = []string{"human", "real person", "agent", "representative", "speak to someone", "manager"}
)

// Analyze never fails; it exists to satisfy the provider interface.
func (a *KeywordAnalyzer) Analyze(ctx context.Context, content, language string) (*models.AnalysisVector, error) {
	text := strings.ToLower(content)

	intents := make(map[string]int)
	for intent, keywords := range intentKeywords {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				intents[intent]++
			}
		}
	}
	primary, hits := "general", 0
	topics := make([]string, 0, len(intents))
	for intent, n := range intents {
		topics = append(topics, intent)
		if n > hits || (n == hits && intent < primary) {
			primary, hits = intent, n
		}
	}
	sort.Strings(topics)

	neg, pos := countAny(text, negativeWords), countAny(text, positiveWords)
	sentiment := models.SentimentScore{Overall: models.SentimentNeutral, Confidence: 0.5}
	switch {
	case neg > pos:
		sentiment = models.SentimentScore{Overall: models.SentimentNegative, Confidence: confidenceFor(neg - pos)}
	case pos > neg:
		sentiment = models.SentimentScore{Overall: models.SentimentPositive, Confidence: confidenceFor(pos - neg)}
	}

	urgency := 0.2
	if countAny(text, urgentWords) > 0 {
		urgency = 0.9
	} else if strings.Count(content, "!") >= 2 {
		urgency = 0.6
	}

	words := len(strings.Fields(content))
	complexity := 0.2 + 0.1*float64(words/25) + 0.15*float64(max(len(intents)-1, 0))

	intentConfidence := 0.3
	if hits > 0 {
		intentConfidence = confidenceFor(hits)
	}

	v := &models.AnalysisVector{
		Sentiment: sentiment,
		Intent: models.IntentScore{
			Primary:       primary,
			Confidence:    intentConfidence,
			RequiresHuman: countAny(text, humanWords) > 0,
		},
		Complexity:      complexity,
		Urgency:         urgency,
		Language:        language,
		Topics:          topics,
		KeyPoints:       keyPoints(content, a.maxKeyPoints),
		ConfidenceScore: 0.6,
	}
	v.Normalize()
	return v, nil
}

func countAny(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func confidenceFor(hits int) float64 {
	return models.Clamp01(0.5 + 0.15*float64(hits))
}

// keyPoints returns the first sentences of the message, in order.
func keyPoints(content string, limit int) []string {
	splitter := func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' }
	var points []string
	for _, s := range strings.FieldsFunc(content, splitter) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		points = append(points, s)
		if len(points) == limit {
			break
		}
	}
	return points
}
