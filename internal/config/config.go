// Package config holds Renfield's typed settings, merged from a JSON5
// file, environment variables, and file-based secrets under
// /run/secrets/<name>, applied in that order so each later source
// overrides the earlier ones (env wins over file, and a secret file
// wins over env, per spec §6.4).
package config

import (
	"encoding/json"
	"sync"
)

// Config is the root configuration for the Renfield core.
type Config struct {
	LLM          LLMConfig          `json:"llm"`
	RAG          RAGConfig          `json:"rag"`
	Memory       MemoryConfig       `json:"memory"`
	MCP          MCPConfig          `json:"mcp"`
	Agent        AgentConfig        `json:"agent"`
	Gateway      GatewayConfig      `json:"gateway"`
	Proactive    ProactiveConfig    `json:"proactive"`
	Breaker      BreakerConfig      `json:"circuit_breaker"`
	Database     DatabaseConfig     `json:"database"`
	RateLimit    RateLimitConfig    `json:"rate_limit"`
	Telemetry    TelemetryConfig    `json:"telemetry"`
	EmbeddingDim int                `json:"embedding_dimension"`

	mu sync.RWMutex
}

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching
// the teacher's tolerant unmarshalling style for hand-edited configs.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		default:
			result = append(result, jsonStringify(val))
		}
	}
	*f = result
	return nil
}

func jsonStringify(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// LLMConfig configures the LLM Gateway's role → (endpoint, model) routing (§4.3).
type LLMConfig struct {
	Roles map[string]LLMRoleConfig `json:"roles"`

	// PoolSizePerEndpoint and ContextWindow apply to every role. The
	// agent role's distinct endpoint/model (AGENT_OLLAMA_URL /
	// AGENT_MODEL in §6.4) is set on Roles["agent"] by the env overrides.
	PoolSizePerEndpoint int `json:"pool_size_per_endpoint,omitempty"`
	ContextWindow       int `json:"context_window,omitempty"`
}

// LLMRoleConfig is one entry in LLMConfig.Roles.
type LLMRoleConfig struct {
	Endpoint    string  `json:"endpoint"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
}

// DefaultTemperature returns the spec's per-role default (§4.3) when the
// config doesn't specify one explicitly.
func DefaultTemperature(role string) float64 {
	switch role {
	case "chat":
		return 0.7
	case "rag":
		return 0.3
	case "intent":
		return 0.0
	case "agent":
		return 0.1
	case "router":
		return 0.0
	default:
		return 0.5
	}
}

// RAGConfig configures the Knowledge Retriever (§4.5).
type RAGConfig struct {
	Enabled             bool    `json:"enabled"`
	ChunkSize           int     `json:"chunk_size,omitempty"`
	ChunkOverlap        int     `json:"chunk_overlap,omitempty"`
	TopK                int     `json:"top_k,omitempty"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`
	HybridEnabled       bool    `json:"hybrid_enabled"`
	HybridWeightDense   float64 `json:"hybrid_weight_dense,omitempty"`
	HybridWeightBM25    float64 `json:"hybrid_weight_bm25,omitempty"`
	RRFK                int     `json:"rrf_k,omitempty"`
	ContextWindow       int     `json:"context_window,omitempty"`
	TextLanguage        string  `json:"text_language,omitempty"` // simple|german|english
}

// MemoryConfig configures the Memory Store (§4.4).
type MemoryConfig struct {
	Enabled                bool    `json:"enabled"`
	RetrievalLimit         int     `json:"retrieval_limit,omitempty"`
	RetrievalThreshold     float64 `json:"retrieval_threshold,omitempty"`
	MaxPerUser             int     `json:"max_per_user,omitempty"`
	ContextDecayDays       int     `json:"context_decay_days,omitempty"`
	DedupThreshold         float64 `json:"dedup_threshold,omitempty"`
	ExtractionEnabled      bool    `json:"extraction_enabled"`
	ContradictionResolution bool   `json:"contradiction_resolution"`
	ContradictionThreshold float64 `json:"contradiction_threshold,omitempty"`
}

// MCPConfig configures the Tool Registry / Capability Hub (§4.7).
type MCPConfig struct {
	Enabled         bool   `json:"enabled"`
	ConfigPath      string `json:"config_path,omitempty"`
	RefreshInterval string `json:"refresh_interval,omitempty"` // Go duration string
	ConnectTimeout  string `json:"connect_timeout,omitempty"`
	CallTimeout     string `json:"call_timeout,omitempty"`
	MaxResponseSize int    `json:"max_response_size,omitempty"` // bytes
}

// AgentConfig configures the Agent Router + Agent Loop (§4.9, §4.10).
type AgentConfig struct {
	Enabled             bool   `json:"enabled"`
	MaxSteps            int    `json:"max_steps,omitempty"`
	StepTimeout         string `json:"step_timeout,omitempty"`
	TotalTimeout        string `json:"total_timeout,omitempty"`
	ConvContextMessages int    `json:"conv_context_messages,omitempty"`
	RouterTimeout       string `json:"router_timeout,omitempty"`
}

// GatewayConfig configures transports and listeners (§6.1, §6.2).
type GatewayConfig struct {
	Host               string   `json:"host"`
	Port               int      `json:"port"`
	MaxMessageBytes    int      `json:"max_message_bytes,omitempty"`
	MaxAudioBufferBytes int     `json:"max_audio_buffer_bytes,omitempty"`
	AllowedOrigins     []string `json:"allowed_origins,omitempty"`
	WSAuthEnabled      bool     `json:"ws_auth_enabled"`
	TrustedProxies     []string `json:"trusted_proxies,omitempty"`
	HeartbeatTimeout   string   `json:"heartbeat_timeout,omitempty"`
}

// ProactiveConfig configures the Notification Service, Poller, and Reminder
// Scheduler (§4.14-4.16).
type ProactiveConfig struct {
	SuppressionWindow        string  `json:"suppression_window,omitempty"`
	SemanticDedupEnabled     bool    `json:"semantic_dedup_enabled"`
	SemanticDedupThreshold   float64 `json:"semantic_dedup_threshold,omitempty"`
	UrgencyAutoEnabled       bool    `json:"urgency_auto_enabled"`
	EnrichmentEnabled        bool    `json:"enrichment_enabled"`
	NotificationTTL          string  `json:"notification_ttl,omitempty"`
	TTSDefault               bool    `json:"tts_default"`
	PollerEnabled            bool    `json:"poller_enabled"`
	PollerStartupDelay       string  `json:"poller_startup_delay,omitempty"`
	ReminderCheckInterval    string  `json:"reminder_check_interval,omitempty"`

	// WebhookToken authenticates POST /api/notifications/webhook
	// (spec §4.14); sourced from a secret file, never the config file.
	WebhookToken string `json:"-"`
}

// BreakerConfig configures default Circuit Breaker thresholds (§4.2).
type BreakerConfig struct {
	FailureThreshold      int    `json:"failure_threshold,omitempty"`
	LLMRecoveryTimeout    string `json:"llm_recovery_timeout,omitempty"`
	AgentRecoveryTimeout  string `json:"agent_recovery_timeout,omitempty"`
	MCPRecoveryTimeout    string `json:"mcp_recovery_timeout,omitempty"`
}

// DatabaseConfig configures the Postgres connection (§6.4 POSTGRES_*).
type DatabaseConfig struct {
	Host     string `json:"-"`
	Port     int    `json:"-"`
	User     string `json:"-"`
	Password string `json:"-"`
	Name     string `json:"-"`
	SSLMode  string `json:"-"`
	DSN      string `json:"-"` // assembled by assembleDSN(), never read from file
}

// RateLimitConfig configures the token-bucket limiters of §5.
type RateLimitConfig struct {
	RESTDefaultPerMin int `json:"rest_default_per_min,omitempty"`
	RESTAuthPerMin    int `json:"rest_auth_per_min,omitempty"`
	RESTVoicePerMin   int `json:"rest_voice_per_min,omitempty"`
	RESTChatPerMin    int `json:"rest_chat_per_min,omitempty"`
	RESTAdminPerMin   int `json:"rest_admin_per_min,omitempty"`
	WSMessagesPerSec  int `json:"ws_messages_per_sec,omitempty"`
	WSMessagesPerMin  int `json:"ws_messages_per_min,omitempty"`
	WSMaxConnsPerIP   int `json:"ws_max_conns_per_ip,omitempty"`

	// RedisURL backs a distributed limiter shared across instances
	// (internal/ratelimit) when set; empty falls back to in-process only.
	RedisURL string `json:"redis_url,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// ReplaceFrom atomically swaps in new config data, preserving the mutex.
// Mirrors the teacher's hot-reload pattern (internal/config, watched by
// fsnotify in cmd/root.go) generalized to Renfield's settings.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LLM = src.LLM
	c.RAG = src.RAG
	c.Memory = src.Memory
	c.MCP = src.MCP
	c.Agent = src.Agent
	c.Gateway = src.Gateway
	c.Proactive = src.Proactive
	c.Breaker = src.Breaker
	c.Database = src.Database
	c.RateLimit = src.RateLimit
	c.Telemetry = src.Telemetry
	c.EmbeddingDim = src.EmbeddingDim
}

// Snapshot returns a shallow copy safe for concurrent read access.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		LLM: c.LLM, RAG: c.RAG, Memory: c.Memory, MCP: c.MCP, Agent: c.Agent,
		Gateway: c.Gateway, Proactive: c.Proactive, Breaker: c.Breaker,
		Database: c.Database, RateLimit: c.RateLimit, Telemetry: c.Telemetry,
		EmbeddingDim: c.EmbeddingDim,
	}
}
