package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/chatloop/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Models     ModelsConfig     `koanf:"models"`
	Governance GovernanceConfig `koanf:"governance"`
	Agent      AgentConfig      `koanf:"agent"`
	Store      StoreConfig      `koanf:"store"`
	Stream     StreamConfig     `koanf:"stream"`
	Tools      ToolsConfig      `koanf:"tools"`
	Daemon     DaemonConfig     `koanf:"daemon"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type ModelsConfig struct {
	Default             string          `koanf:"default"`
	Fallback            string          `koanf:"fallback"`
	Embedding           string          `koanf:"embedding"`
	MaxFallbackAttempts int             `koanf:"max_fallback_attempts"`
	Registry            []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name     string `koanf:"name"`
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

// GovernanceConfig decides which capabilities are gated behind human approval.
type GovernanceConfig struct {
	RequireApproval []string    `koanf:"require_approval"`
	ToolTimeout     string      `koanf:"tool_timeout"`
	Audit           AuditConfig `koanf:"audit"`
}

type AuditConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Path           string   `koanf:"path"`
	RedactPatterns []string `koanf:"redact_patterns"`
}

type AgentConfig struct {
	Model               string `koanf:"model"`
	TokenBudget         int    `koanf:"token_budget"`
	InstructionTemplate string `koanf:"instruction_template"`
	MaxSteps            int    `koanf:"max_steps"`
}

type StoreConfig struct {
	Driver              string `koanf:"driver"`
	Path                string `koanf:"path"`
	LockTimeout         string `koanf:"lock_timeout"`
	LockRetry           string `koanf:"lock_retry"`
	LockMaxRetry        int    `koanf:"lock_max_retry"`
	InboxSize           int    `koanf:"inbox_size"`
	KeepPerConversation int    `koanf:"keep_per_conversation"`
	PruneSchedule       string `koanf:"prune_schedule"`
}

type StreamConfig struct {
	ResultMaxChars int `koanf:"result_max_chars"`
	EventBuffer    int `koanf:"event_buffer"`
}

type ToolsConfig struct {
	Web       WebToolConfig       `koanf:"web"`
	Documents DocumentsToolConfig `koanf:"documents"`
	Image     ImageToolConfig     `koanf:"image"`
	Python    PythonToolConfig    `koanf:"python"`
}

type WebToolConfig struct {
	BaseURL    string `koanf:"base_url"`
	Timeout    string `koanf:"timeout"`
	MaxResults int    `koanf:"max_results"`
}

type DocumentsToolConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	TopK       int    `koanf:"top_k"`
	ChunkSize  int    `koanf:"chunk_size"`
}

type ImageToolConfig struct {
	Model   string `koanf:"model"`
	Size    string `koanf:"size"`
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
}

type PythonToolConfig struct {
	Command     string `koanf:"command"`
	Timeout     string `koanf:"timeout"`
	SandboxPath string `koanf:"sandbox_path"`
}

type DaemonConfig struct {
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
	HealthCheckInterval string `koanf:"health_check_interval"`
}

const (
	DefaultServerPort                = 8080
	DefaultServerLogLevel            = "info"
	DefaultServerReadTimeout         = "30s"
	DefaultServerIdleTimeout         = "60s"
	DefaultServerShutdownTimeout     = "10s"
	DefaultModelDefault              = "gpt-4o"
	DefaultModelFallback             = ""
	DefaultModelEmbedding            = "text-embedding-3-small"
	DefaultModelMaxFallbackAttempts  = 2
	DefaultOpenAIBaseURL             = "https://api.openai.com/v1"
	DefaultOllamaBaseURL             = "http://localhost:11434/v1"
	DefaultOllamaAPIKey              = "ollama"
	DefaultGovernanceToolTimeout     = "60s"
	DefaultAgentTokenBudget          = 120_000
	DefaultAgentMaxSteps             = 25
	DefaultAgentInstructionTemplate  = "You are a helpful assistant. Current date: {{.Date}}.\n\nAvailable tools:\n{{range .Tools}}- {{.Name}}: {{.Description}}\n{{end}}"
	DefaultStoreDriver               = "file"
	DefaultStoreLockTimeout          = "30s"
	DefaultStoreLockRetry            = "100ms"
	DefaultStoreLockMaxRetry         = 300
	DefaultStoreInboxSize            = 100
	DefaultStoreKeepPerConversation  = 200
	DefaultStorePruneSchedule        = "@hourly"
	DefaultStreamResultMaxChars      = 10_000
	DefaultStreamEventBuffer         = 64
	DefaultWebToolBaseURL            = "http://localhost:8888/search"
	DefaultWebToolTimeout            = "10s"
	DefaultWebToolMaxResults         = 5
	DefaultDocumentsCollection       = "documents"
	DefaultDocumentsTopK             = 5
	DefaultDocumentsChunkSize        = 1500
	DefaultImageModel                = "dall-e-3"
	DefaultImageSize                 = "1024x1024"
	DefaultPythonCommand             = "python3 -I"
	DefaultPythonTimeout             = "60s"
	DefaultDaemonShutdownTimeout     = "30s"
	DefaultDaemonHealthCheckInterval = "30s"
)

// DefaultRequireApproval is the default danger set.
var DefaultRequireApproval = []string{"python", "web_search", "generate_image"}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	home, _ := os.UserHomeDir()
	defaults := map[string]interface{}{
		"server.port":                  DefaultServerPort,
		"server.log_level":             DefaultServerLogLevel,
		"server.read_timeout":          DefaultServerReadTimeout,
		"server.idle_timeout":          DefaultServerIdleTimeout,
		"server.shutdown_timeout":      DefaultServerShutdownTimeout,
		"models.default":               DefaultModelDefault,
		"models.fallback":              DefaultModelFallback,
		"models.embedding":             DefaultModelEmbedding,
		"models.max_fallback_attempts": DefaultModelMaxFallbackAttempts,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "openai"},
			{Name: DefaultModelEmbedding, Provider: "openai"},
		},
		"governance.require_approval":  DefaultRequireApproval,
		"governance.tool_timeout":      DefaultGovernanceToolTimeout,
		"governance.audit.enabled":     true,
		"governance.audit.path":        filepath.Join(home, ".chatloop", "audit.log"),
		"agent.model":                  DefaultModelDefault,
		"agent.token_budget":           DefaultAgentTokenBudget,
		"agent.instruction_template":   DefaultAgentInstructionTemplate,
		"agent.max_steps":              DefaultAgentMaxSteps,
		"store.driver":                 DefaultStoreDriver,
		"store.path":                   filepath.Join(home, ".chatloop", "checkpoints"),
		"store.lock_timeout":           DefaultStoreLockTimeout,
		"store.lock_retry":             DefaultStoreLockRetry,
		"store.lock_max_retry":         DefaultStoreLockMaxRetry,
		"store.inbox_size":             DefaultStoreInboxSize,
		"store.keep_per_conversation":  DefaultStoreKeepPerConversation,
		"store.prune_schedule":         DefaultStorePruneSchedule,
		"stream.result_max_chars":      DefaultStreamResultMaxChars,
		"stream.event_buffer":          DefaultStreamEventBuffer,
		"tools.web.base_url":           DefaultWebToolBaseURL,
		"tools.web.timeout":            DefaultWebToolTimeout,
		"tools.web.max_results":        DefaultWebToolMaxResults,
		"tools.documents.path":         filepath.Join(home, ".chatloop", "documents"),
		"tools.documents.collection":   DefaultDocumentsCollection,
		"tools.documents.top_k":        DefaultDocumentsTopK,
		"tools.documents.chunk_size":   DefaultDocumentsChunkSize,
		"tools.image.model":            DefaultImageModel,
		"tools.image.size":             DefaultImageSize,
		"tools.python.command":         DefaultPythonCommand,
		"tools.python.timeout":         DefaultPythonTimeout,
		"tools.python.sandbox_path":    filepath.Join(home, ".chatloop", "sandboxes"),
		"daemon.shutdown_timeout":      DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval": DefaultDaemonHealthCheckInterval,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else if home != "" {
		globalPath := filepath.Join(home, ".chatloop", "config.yaml")
		if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
			slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
		}
	}

	k.Load(env.Provider("CHATLOOP_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHATLOOP_")), "_", ".", -1)
	}), nil)

	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "openai"
		}
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	injectProviderKeys(&cfg)

	return &cfg, nil
}

// injectProviderKeys fills registry entries that leave api_key empty from the
// conventional provider env vars.
func injectProviderKeys(cfg *Config) {
	keys := map[string]string{
		"openai":    os.Getenv("OPENAI_API_KEY"),
		"anthropic": os.Getenv("ANTHROPIC_API_KEY"),
		"gemini":    os.Getenv("GEMINI_API_KEY"),
	}
	for i, m := range cfg.Models.Registry {
		if m.APIKey != "" {
			continue
		}
		if key := keys[m.Provider]; key != "" {
			cfg.Models.Registry[i].APIKey = key
		}
	}
	if cfg.Tools.Image.APIKey == "" {
		cfg.Tools.Image.APIKey = keys["openai"]
	}
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	fields := []*string{
		&cfg.Store.Path,
		&cfg.Governance.Audit.Path,
		&cfg.Tools.Documents.Path,
		&cfg.Tools.Python.SandboxPath,
	}
	for _, field := range fields {
		expanded, err := expandConfiguredPath(*field)
		if err != nil {
			return err
		}
		if expanded != "" {
			*field = expanded
		}
	}
	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
