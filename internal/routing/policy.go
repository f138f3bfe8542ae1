package routing

import (
	"fmt"
	"math"
	"time"

	"github.com/xaenox/support-router/internal/models"
)

const (
	WeightsCapacityV1 = "capacity-v1"
	WeightsWorkloadV2 = "workload-v2"
)

const weightSumTolerance = 1e-9

// WeightSet is a named, versioned weighting of the five agent match factors.
type WeightSet struct {
	Version       string  `json:"version"`
	SkillMatch    float64 `json:"skill_match"`
	LanguageMatch float64 `json:"language_match"`
	Performance   float64 `json:"performance"`
	Capacity      float64 `json:"capacity"`
	ResponseTime  float64 `json:"response_time"`
}

var weightPresets = map[string]WeightSet{
	WeightsCapacityV1: {
		Version:       WeightsCapacityV1,
		SkillMatch:    0.3,
		LanguageMatch: 0.2,
		Performance:   0.2,
		Capacity:      0.2,
		ResponseTime:  0.1,
	},
	// Workload-first weighting. Workload maps onto Capacity and availability
	// onto ResponseTime in this factor set.
	WeightsWorkloadV2: {
		Version:       WeightsWorkloadV2,
		SkillMatch:    0.3,
		Capacity:      0.25,
		Performance:   0.2,
		ResponseTime:  0.15,
		LanguageMatch: 0.1,
	},
}

// WeightPreset returns a shipped weight set by version name.
func WeightPreset(version string) (WeightSet, bool) {
	w, ok := weightPresets[version]
	return w, ok
}

func (w WeightSet) Sum() float64 {
	return w.SkillMatch + w.LanguageMatch + w.Performance + w.Capacity + w.ResponseTime
}

func (w WeightSet) Validate() error {
	for name, v := range map[string]float64{
		"skill_match":    w.SkillMatch,
		"language_match": w.LanguageMatch,
		"performance":    w.Performance,
		"capacity":       w.Capacity,
		"response_time":  w.ResponseTime,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("weight %s must be non-negative, got %v", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("weights %q must sum to 1, got %v", w.Version, sum)
	}
	return nil
}

// PriorityThresholds are the lower bounds of each priority band.
type PriorityThresholds struct {
	Urgent float64 `json:"urgent"`
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// PriorityWeights combine complexity, sentiment and urgency into a priority score.
type PriorityWeights struct {
	Complexity float64 `json:"complexity"`
	Sentiment  float64 `json:"sentiment"`
	Urgency    float64 `json:"urgency"`
}

// HumanCutoffs: a message needs a human when complexity or urgency exceed these.
type HumanCutoffs struct {
	Complexity float64 `json:"complexity"`
	Urgency    float64 `json:"urgency"`
}

// ResponseTimeStep maps average response time up to MaxSeconds onto Score.
type ResponseTimeStep struct {
	MaxSeconds float64 `json:"max_seconds"`
	Score      float64 `json:"score"`
}

// Policy is the full routing rule table. DefaultPolicy ships the reference values.
type Policy struct {
	Weights            WeightSet                    `json:"weights"`
	PriorityWeights    PriorityWeights              `json:"priority_weights"`
	SentimentWeights   map[models.Sentiment]float64 `json:"sentiment_weights"`
	PriorityThresholds PriorityThresholds           `json:"priority_thresholds"`
	HumanCutoffs       HumanCutoffs                 `json:"human_cutoffs"`
	IntentSkills       map[string][]string          `json:"intent_skills"`
	NegativeSkills     []string                     `json:"negative_skills"`
	ComplexSkills      []string                     `json:"complex_skills"`
	HandlingBase       float64                      `json:"handling_base_minutes"`
	HandlingSlope      float64                      `json:"handling_slope_minutes"`
	ResponseTimeSteps  []ResponseTimeStep           `json:"response_time_steps"`
	ResponseTimeFloor  float64                      `json:"response_time_floor"`
	Timeouts           Timeouts                     `json:"timeouts"`
	MaxCommitAttempts  int                          `json:"max_commit_attempts"`
}

// Timeouts bound the two collaborator calls of a routing request and reply generation.
type Timeouts struct {
	Analysis   time.Duration `json:"analysis"`
	AgentPool  time.Duration `json:"agent_pool"`
	Generation time.Duration `json:"generation"`
}

func DefaultPolicy() Policy {
	w, _ := WeightPreset(WeightsCapacityV1)
	return Policy{
		Weights: w,
		PriorityWeights: PriorityWeights{
			Complexity: 0.3,
			Sentiment:  0.4,
			Urgency:    0.3,
		},
		SentimentWeights: map[models.Sentiment]float64{
			models.SentimentNegative: 0.8,
			models.SentimentNeutral:  0.5,
			models.SentimentPositive: 0.2,
		},
		PriorityThresholds: PriorityThresholds{Urgent: 0.8, High: 0.6, Medium: 0.4},
		HumanCutoffs:       HumanCutoffs{Complexity: 0.7, Urgency: 0.8},
		IntentSkills: map[string][]string{
			"technical_support": {"technical"},
			"billing":           {"billing"},
			"sales":             {"sales"},
			"complaint":         {"conflict_resolution"},
		},
		NegativeSkills: []string{"empathy", "conflict_resolution"},
		ComplexSkills:  []string{"senior_support"},
		HandlingBase:   5,
		HandlingSlope:  15,
		ResponseTimeSteps: []ResponseTimeStep{
			{MaxSeconds: 30, Score: 1.0},
			{MaxSeconds: 60, Score: 0.8},
			{MaxSeconds: 120, Score: 0.6},
			{MaxSeconds: 300, Score: 0.4},
		},
		ResponseTimeFloor: 0.2,
		Timeouts: Timeouts{
			Analysis:   3 * time.Second,
			AgentPool:  3 * time.Second,
			Generation: 5 * time.Second,
		},
		MaxCommitAttempts: 3,
	}
}

func (p Policy) Validate() error {
	if err := p.Weights.Validate(); err != nil {
		return err
	}
	t := p.PriorityThresholds
	if !(t.Urgent >= t.High && t.High >= t.Medium && t.Medium >= 0) {
		return fmt.Errorf("priority thresholds must be descending: urgent=%v high=%v medium=%v", t.Urgent, t.High, t.Medium)
	}
	pw := p.PriorityWeights
	if math.Abs(pw.Complexity+pw.Sentiment+pw.Urgency-1) > weightSumTolerance {
		return fmt.Errorf("priority weights must sum to 1")
	}
	for s, w := range p.SentimentWeights {
		if !s.Valid() {
			return fmt.Errorf("unknown sentiment %q in sentiment weights", s)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("sentiment weight for %s must be within [0,1], got %v", s, w)
		}
	}
	for i, step := range p.ResponseTimeSteps {
		if step.Score < 0 || step.Score > 1 {
			return fmt.Errorf("response time score must be within [0,1], got %v", step.Score)
		}
		if i > 0 && step.MaxSeconds <= p.ResponseTimeSteps[i-1].MaxSeconds {
			return fmt.Errorf("response time steps must be ascending")
		}
	}
	if p.ResponseTimeFloor < 0 || p.ResponseTimeFloor > 1 {
		return fmt.Errorf("response time floor must be within [0,1], got %v", p.ResponseTimeFloor)
	}
	if p.MaxCommitAttempts < 1 {
		return fmt.Errorf("max commit attempts must be at least 1")
	}
	return nil
}
