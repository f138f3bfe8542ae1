package models

import (
	"math"
	"sort"
	"strings"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// SentimentScore is the overall polarity of a message with the analyzer's confidence
type SentimentScore struct {
	Overall    Sentiment `json:"overall"`
	Confidence float64   `json:"confidence"`
}

// IntentScore is the primary detected intent of a message
type IntentScore struct {
	Primary       string  `json:"primary"`
	Confidence    float64 `json:"confidence"`
	RequiresHuman bool    `json:"requires_human"`
}

// AnalysisVector represents the scored analysis of one customer message
type AnalysisVector struct {
	Sentiment       SentimentScore `json:"sentiment"`
	Intent          IntentScore    `json:"intent"`
	Complexity      float64        `json:"complexity"`
	Urgency         float64        `json:"urgency"`
	Language        string         `json:"language"`
	Topics          []string       `json:"topics"`
	KeyPoints       []string       `json:"key_points"`
	ConfidenceScore float64        `json:"confidence_score"`
}

// DefaultLanguage is used whenever a message carries no usable language code.
const DefaultLanguage = "en"

// NeutralAnalysis is the vector substituted when the analysis provider is unavailable.
func NeutralAnalysis(language string) *AnalysisVector {
	v := &AnalysisVector{
		Sentiment:       SentimentScore{Overall: SentimentNeutral, Confidence: 0.5},
		Intent:          IntentScore{Primary: "general", Confidence: 0.5},
		Complexity:      0.5,
		Urgency:         0.5,
		Language:        language,
		ConfidenceScore: 0.5,
	}
	v.Normalize()
	return v
}

// Validate rejects vectors with out-of-range or malformed fields.
func (v *AnalysisVector) Validate() error {
	if v == nil {
		return &ValidationError{Field: "analysis", Reason: "missing"}
	}
	if !v.Sentiment.Overall.Valid() {
		return &ValidationError{Field: "sentiment.overall", Reason: "unknown value " + string(v.Sentiment.Overall)}
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"sentiment.confidence", v.Sentiment.Confidence},
		{"intent.confidence", v.Intent.Confidence},
		{"complexity", v.Complexity},
		{"urgency", v.Urgency},
		{"confidence_score", v.ConfidenceScore},
	}
	for _, f := range fields {
		if err := checkUnit(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

// Normalize clamps every score to [0,1] and canonicalizes the language and topics.
// Downstream scoring math relies on this having been applied once at ingestion.
func (v *AnalysisVector) Normalize() {
	if !v.Sentiment.Overall.Valid() {
		v.Sentiment.Overall = SentimentNeutral
	}
	v.Sentiment.Confidence = Clamp01(v.Sentiment.Confidence)
	v.Intent.Confidence = Clamp01(v.Intent.Confidence)
	v.Intent.Primary = strings.ToLower(strings.TrimSpace(v.Intent.Primary))
	v.Complexity = Clamp01(v.Complexity)
	v.Urgency = Clamp01(v.Urgency)
	v.ConfidenceScore = Clamp01(v.ConfidenceScore)
	v.Language = NormalizeLanguage(v.Language)
	v.Topics = dedupLower(v.Topics)
}

type AgentStatus string

const (
	StatusOnline  AgentStatus = "online"
	StatusOffline AgentStatus = "offline"
	StatusAway    AgentStatus = "away"
)

type Performance struct {
	Satisfaction           float64 `json:"satisfaction"`
	AvgResponseTimeSeconds float64 `json:"avg_response_time_seconds"`
	ResolutionRate         float64 `json:"resolution_rate"`
}

type Availability struct {
	Status             AgentStatus `json:"status"`
	CurrentActiveChats int         `json:"current_active_chats"`
	MaxConcurrentChats int         `json:"max_concurrent_chats"`
}

// Agent is a point-in-time snapshot of a human agent's capabilities and load
type Agent struct {
	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Name         string       `json:"name,omitempty"`
	Skills       []string     `json:"skills"`
	Languages    []string     `json:"languages"`
	Performance  Performance  `json:"performance"`
	Availability Availability `json:"availability"`
}

// Normalize applies the ingestion clamp to an agent snapshot.
// A satisfaction value above 1 and up to 5 is read as a five-point rating.
func (a *Agent) Normalize() {
	if s := a.Performance.Satisfaction; s > 1 && s <= 5 {
		a.Performance.Satisfaction = s / 5
	}
	a.Performance.Satisfaction = Clamp01(a.Performance.Satisfaction)
	a.Performance.ResolutionRate = Clamp01(a.Performance.ResolutionRate)
	if a.Performance.AvgResponseTimeSeconds < 0 || math.IsNaN(a.Performance.AvgResponseTimeSeconds) {
		a.Performance.AvgResponseTimeSeconds = 0
	}
	if a.Availability.CurrentActiveChats < 0 {
		a.Availability.CurrentActiveChats = 0
	}
	if a.Availability.MaxConcurrentChats < 0 {
		a.Availability.MaxConcurrentChats = 0
	}
	if a.Availability.Status == "" {
		a.Availability.Status = StatusOffline
	}
	a.Skills = dedupLower(a.Skills)
	langs := make([]string, 0, len(a.Languages))
	for _, l := range a.Languages {
		if strings.TrimSpace(l) == "" {
			continue
		}
		langs = append(langs, NormalizeLanguage(l))
	}
	a.Languages = dedupLower(langs)
}

// HasFreeSlot reports whether the snapshot shows room for one more chat.
func (a *Agent) HasFreeSlot() bool {
	return a.Availability.MaxConcurrentChats > 0 &&
		a.Availability.CurrentActiveChats < a.Availability.MaxConcurrentChats
}

func (a *Agent) Clone() *Agent {
	c := *a
	c.Skills = append([]string(nil), a.Skills...)
	c.Languages = append([]string(nil), a.Languages...)
	return &c
}

func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeLanguage reduces a language tag to its lower-case primary subtag ("pt-BR" -> "pt").
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return DefaultLanguage
	}
	return lang
}

func checkUnit(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ValidationError{Field: field, Reason: "must be within [0,1]"}
	}
	return nil
}

func dedupLower(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
