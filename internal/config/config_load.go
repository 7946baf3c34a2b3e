package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns the built-in defaults for every setting, before any
// file or environment override is applied.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Roles: map[string]LLMRoleConfig{
				"chat":   {Endpoint: "http://localhost:11434", Model: "llama3.1"},
				"intent": {Endpoint: "http://localhost:11434", Model: "llama3.1"},
				"embed":  {Endpoint: "http://localhost:11434", Model: "nomic-embed-text"},
				"agent":  {Endpoint: "http://localhost:11434", Model: "llama3.1"},
				"rag":    {Endpoint: "http://localhost:11434", Model: "llama3.1"},
			},
			PoolSizePerEndpoint: 4,
			ContextWindow:       8192,
		},
		RAG: RAGConfig{
			Enabled:             true,
			ChunkSize:           800,
			ChunkOverlap:        120,
			TopK:                8,
			SimilarityThreshold: 0.4,
			HybridEnabled:       true,
			HybridWeightDense:   0.7,
			HybridWeightBM25:    0.3,
			RRFK:                60,
			ContextWindow:       1, // ± neighbor expansion window, spec default 1
			TextLanguage:        "simple",
		},
		Memory: MemoryConfig{
			Enabled:                 true,
			RetrievalLimit:          10,
			RetrievalThreshold:      0.65,
			MaxPerUser:              500,
			ContextDecayDays:        30,
			DedupThreshold:          0.9,
			ExtractionEnabled:       true,
			ContradictionResolution: true,
			ContradictionThreshold:  0.6,
		},
		MCP: MCPConfig{
			Enabled:         true,
			ConfigPath:      "mcp.yaml",
			RefreshInterval: "5m",
			ConnectTimeout:  "10s",
			CallTimeout:     "30s",
			MaxResponseSize: 1 << 20,
		},
		Agent: AgentConfig{
			Enabled:             true,
			MaxSteps:            8,
			StepTimeout:         "20s",
			TotalTimeout:        "90s",
			ConvContextMessages: 10,
			RouterTimeout:       "30s",
		},
		Gateway: GatewayConfig{
			Host:                 "0.0.0.0",
			Port:                 8080,
			MaxMessageBytes:      1 << 20,
			MaxAudioBufferBytes:  10 << 20,
			AllowedOrigins:       []string{},
			WSAuthEnabled:        true,
			TrustedProxies:       []string{},
			HeartbeatTimeout:     "60s",
		},
		Proactive: ProactiveConfig{
			SuppressionWindow:      "10m",
			SemanticDedupEnabled:   true,
			SemanticDedupThreshold: 0.88,
			UrgencyAutoEnabled:     true,
			EnrichmentEnabled:      true,
			NotificationTTL:        "24h",
			TTSDefault:             true,
			PollerEnabled:          true,
			PollerStartupDelay:     "15s",
			ReminderCheckInterval:  "30s",
		},
		Breaker: BreakerConfig{
			FailureThreshold:     3,
			LLMRecoveryTimeout:   "30s",
			AgentRecoveryTimeout: "60s",
			MCPRecoveryTimeout:   "15s",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "renfield",
			Name:    "renfield",
			SSLMode: "disable",
		},
		RateLimit: RateLimitConfig{
			RESTDefaultPerMin: 60,
			RESTAuthPerMin:    10,
			RESTVoicePerMin:   120,
			RESTChatPerMin:    60,
			RESTAdminPerMin:   30,
			WSMessagesPerSec:  5,
			WSMessagesPerMin:  150,
			WSMaxConnsPerIP:   20,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "renfield",
		},
		EmbeddingDim: 768,
	}
}

// Load reads path as JSON5 over the defaults, then applies environment
// overrides and file-based secrets, matching the teacher's
// file-then-env precedence in config_load.go.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.loadSecrets(); err != nil {
		return nil, err
	}
	cfg.assembleDSN()
	return cfg, nil
}

// applyEnvOverrides mirrors the teacher's envStr/envBool/envInt closures
// in config_load.go, scoped to the settings enumerated in spec §6.4.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	// POSTGRES_*
	envStr("POSTGRES_HOST", &c.Database.Host)
	envInt("POSTGRES_PORT", &c.Database.Port)
	envStr("POSTGRES_USER", &c.Database.User)
	envStr("POSTGRES_PASSWORD", &c.Database.Password)
	envStr("POSTGRES_DB", &c.Database.Name)
	envStr("POSTGRES_SSLMODE", &c.Database.SSLMode)

	// OLLAMA_*/OLLAMA_{ROLE}_MODEL and AGENT_OLLAMA_URL/AGENT_MODEL
	if base := os.Getenv("OLLAMA_URL"); base != "" {
		for role, rc := range c.LLM.Roles {
			rc.Endpoint = base
			c.LLM.Roles[role] = rc
		}
	}
	for _, role := range []string{"CHAT", "RAG", "INTENT", "EMBED"} {
		if model := os.Getenv("OLLAMA_" + role + "_MODEL"); model != "" {
			key := strings.ToLower(role)
			rc := c.LLM.Roles[key]
			rc.Model = model
			c.LLM.Roles[key] = rc
		}
	}
	if url := os.Getenv("AGENT_OLLAMA_URL"); url != "" {
		rc := c.LLM.Roles["agent"]
		rc.Endpoint = url
		c.LLM.Roles["agent"] = rc
	}
	if model := os.Getenv("AGENT_MODEL"); model != "" {
		rc := c.LLM.Roles["agent"]
		rc.Model = model
		c.LLM.Roles["agent"] = rc
	}

	envBool("AGENT_ENABLED", &c.Agent.Enabled)
	envInt("AGENT_MAX_STEPS", &c.Agent.MaxSteps)
	envStr("AGENT_STEP_TIMEOUT", &c.Agent.StepTimeout)
	envStr("AGENT_TOTAL_TIMEOUT", &c.Agent.TotalTimeout)
	envInt("AGENT_CONV_CONTEXT_MESSAGES", &c.Agent.ConvContextMessages)
	envStr("AGENT_ROUTER_TIMEOUT", &c.Agent.RouterTimeout)

	envBool("RAG_ENABLED", &c.RAG.Enabled)
	envInt("RAG_CHUNK_SIZE", &c.RAG.ChunkSize)
	envInt("RAG_CHUNK_OVERLAP", &c.RAG.ChunkOverlap)
	envInt("RAG_TOP_K", &c.RAG.TopK)
	envFloat("RAG_SIMILARITY_THRESHOLD", &c.RAG.SimilarityThreshold)
	envBool("RAG_HYBRID_ENABLED", &c.RAG.HybridEnabled)
	envFloat("RAG_HYBRID_WEIGHT_DENSE", &c.RAG.HybridWeightDense)
	envFloat("RAG_HYBRID_WEIGHT_BM25", &c.RAG.HybridWeightBM25)
	envInt("RAG_CONTEXT_WINDOW", &c.RAG.ContextWindow)

	envBool("MEMORY_ENABLED", &c.Memory.Enabled)
	envInt("MEMORY_RETRIEVAL_LIMIT", &c.Memory.RetrievalLimit)
	envFloat("MEMORY_RETRIEVAL_THRESHOLD", &c.Memory.RetrievalThreshold)
	envInt("MEMORY_MAX_PER_USER", &c.Memory.MaxPerUser)
	envInt("MEMORY_CONTEXT_DECAY_DAYS", &c.Memory.ContextDecayDays)
	envFloat("MEMORY_DEDUP_THRESHOLD", &c.Memory.DedupThreshold)
	envBool("MEMORY_EXTRACTION_ENABLED", &c.Memory.ExtractionEnabled)
	envBool("MEMORY_CONTRADICTION_RESOLUTION", &c.Memory.ContradictionResolution)
	envFloat("MEMORY_CONTRADICTION_THRESHOLD", &c.Memory.ContradictionThreshold)

	envBool("MCP_ENABLED", &c.MCP.Enabled)
	envStr("MCP_CONFIG_PATH", &c.MCP.ConfigPath)
	envStr("MCP_REFRESH_INTERVAL", &c.MCP.RefreshInterval)
	envStr("MCP_CONNECT_TIMEOUT", &c.MCP.ConnectTimeout)
	envStr("MCP_CALL_TIMEOUT", &c.MCP.CallTimeout)
	envInt("MCP_MAX_RESPONSE_SIZE", &c.MCP.MaxResponseSize)

	envStr("PROACTIVE_SUPPRESSION_WINDOW", &c.Proactive.SuppressionWindow)
	envBool("PROACTIVE_SEMANTIC_DEDUP_ENABLED", &c.Proactive.SemanticDedupEnabled)
	envFloat("PROACTIVE_SEMANTIC_DEDUP_THRESHOLD", &c.Proactive.SemanticDedupThreshold)
	envBool("PROACTIVE_URGENCY_AUTO_ENABLED", &c.Proactive.UrgencyAutoEnabled)
	envBool("PROACTIVE_ENRICHMENT_ENABLED", &c.Proactive.EnrichmentEnabled)
	envStr("PROACTIVE_NOTIFICATION_TTL", &c.Proactive.NotificationTTL)
	envBool("PROACTIVE_TTS_DEFAULT", &c.Proactive.TTSDefault)
	envBool("NOTIFICATION_POLLER_ENABLED", &c.Proactive.PollerEnabled)
	envStr("NOTIFICATION_POLLER_STARTUP_DELAY", &c.Proactive.PollerStartupDelay)
	envStr("REMINDER_CHECK_INTERVAL", &c.Proactive.ReminderCheckInterval)

	envBool("WS_AUTH_ENABLED", &c.Gateway.WSAuthEnabled)
	envInt("WS_RATE_LIMIT_PER_SEC", &c.RateLimit.WSMessagesPerSec)
	envInt("WS_RATE_LIMIT_PER_MIN", &c.RateLimit.WSMessagesPerMin)
	envInt("WS_MAX_CONNS_PER_IP", &c.RateLimit.WSMaxConnsPerIP)
	envInt("WS_MAX_MESSAGE_BYTES", &c.Gateway.MaxMessageBytes)
	envInt("WS_MAX_AUDIO_BUFFER_BYTES", &c.Gateway.MaxAudioBufferBytes)
	envInt("API_RATE_LIMIT_DEFAULT_PER_MIN", &c.RateLimit.RESTDefaultPerMin)
	envInt("API_RATE_LIMIT_AUTH_PER_MIN", &c.RateLimit.RESTAuthPerMin)
	envInt("API_RATE_LIMIT_VOICE_PER_MIN", &c.RateLimit.RESTVoicePerMin)
	envInt("API_RATE_LIMIT_CHAT_PER_MIN", &c.RateLimit.RESTChatPerMin)
	envInt("API_RATE_LIMIT_ADMIN_PER_MIN", &c.RateLimit.RESTAdminPerMin)
	envStr("REDIS_URL", &c.RateLimit.RedisURL)
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.Gateway.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("GATEWAY_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = splitCSV(v)
	}
	envStr("GATEWAY_HOST", &c.Gateway.Host)
	envInt("GATEWAY_PORT", &c.Gateway.Port)

	envInt("CB_FAILURE_THRESHOLD", &c.Breaker.FailureThreshold)
	envStr("CB_LLM_RECOVERY_TIMEOUT", &c.Breaker.LLMRecoveryTimeout)
	envStr("CB_AGENT_RECOVERY_TIMEOUT", &c.Breaker.AgentRecoveryTimeout)
	envStr("CB_MCP_RECOVERY_TIMEOUT", &c.Breaker.MCPRecoveryTimeout)

	envInt("EMBEDDING_DIMENSION", &c.EmbeddingDim)

	envBool("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envBool("TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadSecrets overlays file-based secrets from /run/secrets/<name>,
// following the teacher's convention that credentials never live in
// the plain config file or shell environment in containerized
// deployments. Falls back to the matching env var when the secrets
// directory is absent (local/dev runs).
func (c *Config) loadSecrets() error {
	read := func(name, envFallback string) (string, error) {
		p := filepath.Join("/run/secrets", name)
		data, err := os.ReadFile(p)
		if err == nil {
			return strings.TrimSpace(string(data)), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("config: read secret %s: %w", name, err)
		}
		return os.Getenv(envFallback), nil
	}

	pw, err := read("postgres_password", "POSTGRES_PASSWORD")
	if err != nil {
		return err
	}
	if pw != "" {
		c.Database.Password = pw
	}

	token, err := read("notification_webhook_token", "NOTIFICATION_WEBHOOK_TOKEN")
	if err != nil {
		return err
	}
	if token != "" {
		c.Proactive.WebhookToken = token
	}
	return nil
}

// assembleDSN builds the Postgres connection string from the resolved
// fields. Never stored in the config file or logged.
func (c *Config) assembleDSN() {
	c.Database.DSN = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.Name, c.Database.SSLMode,
	)
}
