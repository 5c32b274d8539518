// Package config holds the runtime configuration: a JSON5 file overlaid
// with environment variables.
package config

// Config is the root configuration document.
type Config struct {
	// DataDir is where the database, legacy JSON storage and logs live.
	DataDir string `json:"dataDir"`

	Database    DatabaseConfig            `json:"database"`
	Providers   ProvidersConfig           `json:"providers"`
	Agent       AgentConfig               `json:"agent"`
	Permissions []PermissionRuleConfig    `json:"permissions"`
	Tools       ToolsConfig               `json:"tools"`
	MCP         map[string]MCPServer      `json:"mcp"`
	Trace       TraceConfig               `json:"trace"`
	Share       ShareConfig               `json:"share"`
	Log         LogConfig                 `json:"log"`
}

// DatabaseConfig selects the persistence backend. An empty DSN means the
// embedded SQLite database under DataDir.
type DatabaseConfig struct {
	// DSN is either a file path (SQLite) or a postgres:// URL.
	DSN string `json:"dsn"`
}

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseURL"`
	// Model overrides the default model for this provider.
	Model string `json:"model"`
	// RateLimitRPM caps requests per minute; zero disables the limiter.
	RateLimitRPM int `json:"rateLimitRPM"`
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
	OpenAI    ProviderConfig `json:"openai"`
}

// AgentConfig sets loop-wide defaults.
type AgentConfig struct {
	// Default agent used when a prompt names none.
	Default string `json:"default"`
	// MaxSteps bounds tool-call rounds per prompt.
	MaxSteps int `json:"maxSteps"`
	// Provider and Model select the default model reference.
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// System prepends extra instructions to every agent prompt.
	System string `json:"system"`
}

// PermissionRuleConfig is one persistent permission rule. Later rules win.
type PermissionRuleConfig struct {
	Permission string `json:"permission"`
	Pattern    string `json:"pattern,omitempty"`
	Action     string `json:"action"` // allow | deny | ask
}

// ToolsConfig configures the builtin tools.
type ToolsConfig struct {
	// BashTimeoutMS bounds shell command runtime. Default two minutes.
	BashTimeoutMS int `json:"bashTimeoutMS"`
	// MaxOutputChars truncates tool output fed back to the model.
	MaxOutputChars int `json:"maxOutputChars"`
	// WebFetch toggles the webfetch tool.
	WebFetch bool `json:"webFetch"`
}

// MCPServer configures one Model Context Protocol server.
type MCPServer struct {
	// Transport is "stdio" or "http".
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
}

// TraceConfig configures OpenTelemetry export.
type TraceConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol string `json:"protocol"`
	Insecure bool   `json:"insecure"`
}

// ShareConfig configures session sharing.
type ShareConfig struct {
	BaseURL string `json:"baseURL"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level string `json:"level"` // debug | info | warn | error
	JSON  bool   `json:"json"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir: "~/.gocode",
		Agent: AgentConfig{
			Default:  "build",
			MaxSteps: 50,
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5",
		},
		Tools: ToolsConfig{
			BashTimeoutMS:  120_000,
			MaxOutputChars: 30_000,
			WebFetch:       true,
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{Model: "claude-sonnet-4-5"},
			OpenAI:    ProviderConfig{Model: "gpt-4o"},
		},
		Trace: TraceConfig{
			Protocol: "grpc",
		},
		Log: LogConfig{Level: "info"},
	}
}
