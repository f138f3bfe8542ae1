package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xaenox/support-router/internal/dispatch"
	"github.com/xaenox/support-router/internal/models"
	"github.com/xaenox/support-router/internal/monitor"
	"github.com/xaenox/support-router/internal/routing"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
	// Agents are upserted into storage at startup.
	Agents []AgentSeed `mapstructure:"agents"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// Concurrent message handlers.
	Workers int `mapstructure:"workers"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type AnalyzerConfig struct {
	// Provider is "openai" or "keyword".
	Provider     string `mapstructure:"provider"`
	MaxKeyPoints int    `mapstructure:"max_key_points"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type WeightsConfig struct {
	SkillMatch    float64 `mapstructure:"skill_match"`
	LanguageMatch float64 `mapstructure:"language_match"`
	Performance   float64 `mapstructure:"performance"`
	Capacity      float64 `mapstructure:"capacity"`
	ResponseTime  float64 `mapstructure:"response_time"`
}

func (w WeightsConfig) isSet() bool {
	return w.SkillMatch != 0 || w.LanguageMatch != 0 || w.Performance != 0 || w.Capacity != 0 || w.ResponseTime != 0
}

type PriorityWeightsConfig struct {
	Complexity float64 `mapstructure:"complexity"`
	Sentiment  float64 `mapstructure:"sentiment"`
	Urgency    float64 `mapstructure:"urgency"`
}

type PriorityThresholdsConfig struct {
	Urgent float64 `mapstructure:"urgent"`
	High   float64 `mapstructure:"high"`
	Medium float64 `mapstructure:"medium"`
}

type NeedsHumanConfig struct {
	Complexity float64 `mapstructure:"complexity"`
	Urgency    float64 `mapstructure:"urgency"`
}

type HandlingTimeConfig struct {
	BaseMinutes  float64 `mapstructure:"base_minutes"`
	SlopeMinutes float64 `mapstructure:"slope_minutes"`
}

type SkillsConfig struct {
	// Intents maps an intent to the skills it requires.
	Intents  map[string][]string `mapstructure:"intents"`
	Negative []string            `mapstructure:"negative"`
	Complex  []string            `mapstructure:"complex"`
}

type ResponseTimeStepConfig struct {
	MaxSeconds float64 `mapstructure:"max_seconds"`
	Score      float64 `mapstructure:"score"`
}

type ResponseTimeConfig struct {
	Steps []ResponseTimeStepConfig `mapstructure:"steps"`
	Floor float64                  `mapstructure:"floor"`
}

type RoutingConfig struct {
	DefaultTenant  string `mapstructure:"default_tenant"`
	WeightsVersion string `mapstructure:"weights_version"`

	// Weights, when any is non-zero, replace the preset named by WeightsVersion.
	Weights            WeightsConfig            `mapstructure:"weights"`
	PriorityWeights    PriorityWeightsConfig    `mapstructure:"priority_weights"`
	SentimentWeights   map[string]float64       `mapstructure:"sentiment_weights"`
	PriorityThresholds PriorityThresholdsConfig `mapstructure:"priority_thresholds"`
	Skills             SkillsConfig             `mapstructure:"skills"`
	ResponseTime       ResponseTimeConfig       `mapstructure:"response_time"`
	NeedsHuman         NeedsHumanConfig         `mapstructure:"needs_human"`
	HandlingTime       HandlingTimeConfig       `mapstructure:"handling_time"`
	AnalysisTimeout    time.Duration            `mapstructure:"analysis_timeout"`
	AgentPoolTimeout   time.Duration            `mapstructure:"agent_pool_timeout"`
	GenerationTimeout  time.Duration            `mapstructure:"generation_timeout"`
	MaxCommitAttempts  int                      `mapstructure:"max_commit_attempts"`
	SnapshotTTL        time.Duration            `mapstructure:"snapshot_ttl"`
	SnapshotCacheSize  int                      `mapstructure:"snapshot_cache_size"`
}

// SLAConfig holds the first-response target per priority.
type SLAConfig struct {
	Urgent time.Duration `mapstructure:"urgent"`
	High   time.Duration `mapstructure:"high"`
	Medium time.Duration `mapstructure:"medium"`
	Low    time.Duration `mapstructure:"low"`
}

type MonitorConfig struct {
	Schedule            string        `mapstructure:"schedule"`
	EscalationThreshold float64       `mapstructure:"escalation_threshold"`
	LongConversation    time.Duration `mapstructure:"long_conversation"`
	CustomerWait        time.Duration `mapstructure:"customer_wait"`
	SLA                 SLAConfig     `mapstructure:"sla"`
}

type DispatchConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type KafkaConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Brokers          []string      `mapstructure:"brokers"`
	AlertsTopic      string        `mapstructure:"alerts_topic"`
	AssignmentsTopic string        `mapstructure:"assignments_topic"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type AgentSeed struct {
	ID                     string   `mapstructure:"id"`
	TenantID               string   `mapstructure:"tenant_id"`
	Name                   string   `mapstructure:"name"`
	Skills                 []string `mapstructure:"skills"`
	Languages              []string `mapstructure:"languages"`
	Satisfaction           float64  `mapstructure:"satisfaction"`
	AvgResponseTimeSeconds float64  `mapstructure:"avg_response_time_seconds"`
	ResolutionRate         float64  `mapstructure:"resolution_rate"`
	Status                 string   `mapstructure:"status"`
	MaxConcurrentChats     int      `mapstructure:"max_concurrent_chats"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	sslMode := "disable"
	if mode := u.Query().Get("sslmode"); mode != "" {
		sslMode = mode
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	p := routing.DefaultPolicy()
	m := monitor.DefaultConfig()
	d := dispatch.DefaultConfig()

	v.SetDefault("telegram.workers", 16)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("analyzer.provider", "openai")
	v.SetDefault("analyzer.max_key_points", 5)

	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 400)
	v.SetDefault("openai.temperature", 0.2)

	v.SetDefault("routing.default_tenant", "default")
	v.SetDefault("routing.weights_version", p.Weights.Version)
	v.SetDefault("routing.priority_weights.complexity", p.PriorityWeights.Complexity)
	v.SetDefault("routing.priority_weights.sentiment", p.PriorityWeights.Sentiment)
	v.SetDefault("routing.priority_weights.urgency", p.PriorityWeights.Urgency)
	sentiments := make(map[string]any, len(p.SentimentWeights))
	for s, w := range p.SentimentWeights {
		sentiments[string(s)] = w
	}
	v.SetDefault("routing.sentiment_weights", sentiments)
	intents := make(map[string]any, len(p.IntentSkills))
	for intent, skills := range p.IntentSkills {
		intents[intent] = skills
	}
	v.SetDefault("routing.skills.intents", intents)
	v.SetDefault("routing.skills.negative", p.NegativeSkills)
	v.SetDefault("routing.skills.complex", p.ComplexSkills)
	steps := make([]map[string]any, len(p.ResponseTimeSteps))
	for i, step := range p.ResponseTimeSteps {
		steps[i] = map[string]any{"max_seconds": step.MaxSeconds, "score": step.Score}
	}
	v.SetDefault("routing.response_time.steps", steps)
	v.SetDefault("routing.response_time.floor", p.ResponseTimeFloor)
	v.SetDefault("routing.priority_thresholds.urgent", p.PriorityThresholds.Urgent)
	v.SetDefault("routing.priority_thresholds.high", p.PriorityThresholds.High)
	v.SetDefault("routing.priority_thresholds.medium", p.PriorityThresholds.Medium)
	v.SetDefault("routing.needs_human.complexity", p.HumanCutoffs.Complexity)
	v.SetDefault("routing.needs_human.urgency", p.HumanCutoffs.Urgency)
	v.SetDefault("routing.handling_time.base_minutes", p.HandlingBase)
	v.SetDefault("routing.handling_time.slope_minutes", p.HandlingSlope)
	v.SetDefault("routing.analysis_timeout", p.Timeouts.Analysis)
	v.SetDefault("routing.agent_pool_timeout", p.Timeouts.AgentPool)
	v.SetDefault("routing.generation_timeout", p.Timeouts.Generation)
	v.SetDefault("routing.max_commit_attempts", p.MaxCommitAttempts)
	v.SetDefault("routing.snapshot_ttl", 5*time.Second)
	v.SetDefault("routing.snapshot_cache_size", 256)

	v.SetDefault("monitor.schedule", m.Schedule)
	v.SetDefault("monitor.escalation_threshold", m.EscalationThreshold)
	v.SetDefault("monitor.long_conversation", m.LongConversation)
	v.SetDefault("monitor.customer_wait", m.CustomerWait)
	v.SetDefault("monitor.sla.urgent", m.SLA[models.PriorityUrgent])
	v.SetDefault("monitor.sla.high", m.SLA[models.PriorityHigh])
	v.SetDefault("monitor.sla.medium", m.SLA[models.PriorityMedium])
	v.SetDefault("monitor.sla.low", m.SLA[models.PriorityLow])

	v.SetDefault("dispatch.workers", d.Workers)
	v.SetDefault("dispatch.queue_size", d.QueueSize)
	v.SetDefault("dispatch.request_timeout", d.RequestTimeout)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.alerts_topic", "support.alerts")
	v.SetDefault("kafka.assignments_topic", "support.assignments")
	v.SetDefault("kafka.write_timeout", 5*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads path (skipped when empty), then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support, e.g. ROUTING_WEIGHTS_VERSION
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.UseInMemory = config.Database.UseInMemory
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
		config.Kafka.Brokers = splitList(brokers)
	}

	return &config, nil
}

// RoutingPolicy builds and validates the routing policy from the routing section.
func (c *Config) RoutingPolicy() (routing.Policy, error) {
	rc := c.Routing
	p := routing.DefaultPolicy()

	weights, ok := routing.WeightPreset(rc.WeightsVersion)
	if !ok {
		return routing.Policy{}, fmt.Errorf("unknown routing weights version %q", rc.WeightsVersion)
	}
	if rc.Weights.isSet() {
		weights = routing.WeightSet{
			Version:       rc.WeightsVersion + "+custom",
			SkillMatch:    rc.Weights.SkillMatch,
			LanguageMatch: rc.Weights.LanguageMatch,
			Performance:   rc.Weights.Performance,
			Capacity:      rc.Weights.Capacity,
			ResponseTime:  rc.Weights.ResponseTime,
		}
	}
	p.Weights = weights

	p.PriorityWeights = routing.PriorityWeights{
		Complexity: rc.PriorityWeights.Complexity,
		Sentiment:  rc.PriorityWeights.Sentiment,
		Urgency:    rc.PriorityWeights.Urgency,
	}
	if len(rc.SentimentWeights) > 0 {
		p.SentimentWeights = make(map[models.Sentiment]float64, len(rc.SentimentWeights))
		for s, w := range rc.SentimentWeights {
			p.SentimentWeights[models.Sentiment(strings.ToLower(s))] = w
		}
	}
	if len(rc.Skills.Intents) > 0 {
		p.IntentSkills = make(map[string][]string, len(rc.Skills.Intents))
		for intent, skills := range rc.Skills.Intents {
			p.IntentSkills[strings.ToLower(intent)] = lowerAll(skills)
		}
	}
	if rc.Skills.Negative != nil {
		p.NegativeSkills = lowerAll(rc.Skills.Negative)
	}
	if rc.Skills.Complex != nil {
		p.ComplexSkills = lowerAll(rc.Skills.Complex)
	}
	if len(rc.ResponseTime.Steps) > 0 {
		p.ResponseTimeSteps = make([]routing.ResponseTimeStep, len(rc.ResponseTime.Steps))
		for i, step := range rc.ResponseTime.Steps {
			p.ResponseTimeSteps[i] = routing.ResponseTimeStep{MaxSeconds: step.MaxSeconds, Score: step.Score}
		}
		p.ResponseTimeFloor = rc.ResponseTime.Floor
	}
	p.PriorityThresholds = routing.PriorityThresholds{
		Urgent: rc.PriorityThresholds.Urgent,
		High:   rc.PriorityThresholds.High,
		Medium: rc.PriorityThresholds.Medium,
	}
	p.HumanCutoffs = routing.HumanCutoffs{
		Complexity: rc.NeedsHuman.Complexity,
		Urgency:    rc.NeedsHuman.Urgency,
	}
	p.HandlingBase = rc.HandlingTime.BaseMinutes
	p.HandlingSlope = rc.HandlingTime.SlopeMinutes
	p.Timeouts = routing.Timeouts{
		Analysis:   rc.AnalysisTimeout,
		AgentPool:  rc.AgentPoolTimeout,
		Generation: rc.GenerationTimeout,
	}
	p.MaxCommitAttempts = rc.MaxCommitAttempts

	if err := p.Validate(); err != nil {
		return routing.Policy{}, fmt.Errorf("routing config: %w", err)
	}
	return p, nil
}

func (c *Config) MonitorConfig() monitor.Config {
	mc := c.Monitor
	return monitor.Config{
		Schedule:            mc.Schedule,
		EscalationThreshold: mc.EscalationThreshold,
		LongConversation:    mc.LongConversation,
		CustomerWait:        mc.CustomerWait,
		SLA: map[models.Priority]time.Duration{
			models.PriorityUrgent: mc.SLA.Urgent,
			models.PriorityHigh:   mc.SLA.High,
			models.PriorityMedium: mc.SLA.Medium,
			models.PriorityLow:    mc.SLA.Low,
		},
	}
}

func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		Workers:        c.Dispatch.Workers,
		QueueSize:      c.Dispatch.QueueSize,
		RequestTimeout: c.Dispatch.RequestTimeout,
	}
}

// SeedAgents converts the agents section, filling in the default tenant and
// the online status where they are missing.
func (c *Config) SeedAgents() []*models.Agent {
	agents := make([]*models.Agent, 0, len(c.Agents))
	for _, seed := range c.Agents {
		tenant := seed.TenantID
		if tenant == "" {
			tenant = c.Routing.DefaultTenant
		}
		status := models.AgentStatus(seed.Status)
		if status == "" {
			status = models.StatusOnline
		}
		agents = append(agents, &models.Agent{
			ID:        seed.ID,
			TenantID:  tenant,
			Name:      seed.Name,
			Skills:    seed.Skills,
			Languages: seed.Languages,
			Performance: models.Performance{
				Satisfaction:           seed.Satisfaction,
				AvgResponseTimeSeconds: seed.AvgResponseTimeSeconds,
				ResolutionRate:         seed.ResolutionRate,
			},
			Availability: models.Availability{
				Status:             status,
				MaxConcurrentChats: seed.MaxConcurrentChats,
			},
		})
	}
	return agents
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
