package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = 1

// DirName is the per-workspace configuration directory.
const DirName = ".peek"

// Config represents the complete peek configuration
type Config struct {
	Version int `json:"version" mapstructure:"version" toml:"version" yaml:"version"`

	Backends BackendsConfig `json:"backends" mapstructure:"backends" toml:"backends" yaml:"backends"`
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch" toml:"dispatch" yaml:"dispatch"`
	List     ListConfig     `json:"list" mapstructure:"list" toml:"list" yaml:"list"`
	Preview  PreviewConfig  `json:"preview" mapstructure:"preview" toml:"preview" yaml:"preview"`
	Render   RenderConfig   `json:"render" mapstructure:"render" toml:"render" yaml:"render"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging" toml:"logging" yaml:"logging"`
}

// BackendsConfig contains backend-specific configuration
type BackendsConfig struct {
	Lsp  LspConfig  `json:"lsp" mapstructure:"lsp" toml:"lsp" yaml:"lsp"`
	Scip ScipConfig `json:"scip" mapstructure:"scip" toml:"scip" yaml:"scip"`
}

// LspConfig contains LSP backend configuration
type LspConfig struct {
	Enabled bool                       `json:"enabled" mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	Servers map[string]LspServerConfig `json:"servers" mapstructure:"servers" toml:"servers" yaml:"servers"`
}

// LspServerConfig describes one language server
type LspServerConfig struct {
	Command    string   `json:"command" mapstructure:"command" toml:"command" yaml:"command"`
	Args       []string `json:"args,omitempty" mapstructure:"args" toml:"args,omitempty" yaml:"args,omitempty"`
	Extensions []string `json:"extensions" mapstructure:"extensions" toml:"extensions" yaml:"extensions"`
	Priority   int      `json:"priority" mapstructure:"priority" toml:"priority" yaml:"priority"`
}

// ScipConfig contains SCIP backend configuration
type ScipConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	IndexPath string `json:"indexPath" mapstructure:"indexPath" toml:"indexPath" yaml:"indexPath"`
	Watch     bool   `json:"watch" mapstructure:"watch" toml:"watch" yaml:"watch"`
	Priority  int    `json:"priority" mapstructure:"priority" toml:"priority" yaml:"priority"`
}

// DispatchConfig configures the request dispatcher
type DispatchConfig struct {
	MaxInFlight  int                 `json:"maxInFlight" mapstructure:"maxInFlight" toml:"maxInFlight" yaml:"maxInFlight"`
	ExtraMethods []ExtraMethodConfig `json:"extraMethods" mapstructure:"extraMethods" toml:"extraMethods" yaml:"extraMethods"`
}

// ExtraMethodConfig registers a non-standard request kind
type ExtraMethodConfig struct {
	Kind   string `json:"kind" mapstructure:"kind" toml:"kind" yaml:"kind"`
	Method string `json:"method" mapstructure:"method" toml:"method" yaml:"method"`
	Label  string `json:"label,omitempty" mapstructure:"label" toml:"label,omitempty" yaml:"label,omitempty"`
}

// ListConfig configures the list engine
type ListConfig struct {
	StartFolded    bool     `json:"startFolded" mapstructure:"startFolded" toml:"startFolded" yaml:"startFolded"`
	Cycle          bool     `json:"cycle" mapstructure:"cycle" toml:"cycle" yaml:"cycle"`
	SkipGroups     bool     `json:"skipGroups" mapstructure:"skipGroups" toml:"skipGroups" yaml:"skipGroups"`
	AutoJumpSingle bool     `json:"autoJumpSingle" mapstructure:"autoJumpSingle" toml:"autoJumpSingle" yaml:"autoJumpSingle"`
	FlatKinds      []string `json:"flatKinds" mapstructure:"flatKinds" toml:"flatKinds" yaml:"flatKinds"`
}

// PreviewConfig configures preview extraction
type PreviewConfig struct {
	FileCacheSize int `json:"fileCacheSize" mapstructure:"fileCacheSize" toml:"fileCacheSize" yaml:"fileCacheSize"`
}

// RenderConfig configures the text renderer
type RenderConfig struct {
	Icons       IconsConfig `json:"icons" mapstructure:"icons" toml:"icons" yaml:"icons"`
	IndentGuide string      `json:"indentGuide" mapstructure:"indentGuide" toml:"indentGuide" yaml:"indentGuide"`
}

// IconsConfig holds fold marker glyphs
type IconsConfig struct {
	Open   string `json:"open" mapstructure:"open" toml:"open" yaml:"open"`
	Closed string `json:"closed" mapstructure:"closed" toml:"closed" yaml:"closed"`
	Leaf   string `json:"leaf" mapstructure:"leaf" toml:"leaf" yaml:"leaf"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level" toml:"level" yaml:"level"`
	File       string `json:"file,omitempty" mapstructure:"file" toml:"file,omitempty" yaml:"file,omitempty"`
	MaxSize    string `json:"maxSize" mapstructure:"maxSize" toml:"maxSize" yaml:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups" toml:"maxBackups" yaml:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Backends: BackendsConfig{
			Lsp: LspConfig{
				Enabled: true,
				Servers: map[string]LspServerConfig{
					"go": {
						Command:    "gopls",
						Args:       []string{"serve"},
						Extensions: []string{".go"},
					},
					"typescript": {
						Command:    "typescript-language-server",
						Args:       []string{"--stdio"},
						Extensions: []string{".ts", ".tsx", ".js", ".jsx"},
					},
					"python": {
						Command:    "pylsp",
						Extensions: []string{".py"},
					},
					"c": {
						Command:    "clangd",
						Extensions: []string{".c", ".h", ".cc", ".cpp", ".hpp"},
					},
				},
			},
			Scip: ScipConfig{
				Enabled:   true,
				IndexPath: ".scip/index.scip",
				Watch:     true,
				Priority:  10,
			},
		},
		Dispatch: DispatchConfig{
			MaxInFlight: 4,
		},
		List: ListConfig{
			StartFolded:    true,
			Cycle:          true,
			SkipGroups:     false,
			AutoJumpSingle: false,
			FlatKinds:      []string{"incoming_calls", "outgoing_calls"},
		},
		Preview: PreviewConfig{
			FileCacheSize: 256,
		},
		Render: RenderConfig{
			Icons: IconsConfig{
				Open:   "▼",
				Closed: "▶",
				Leaf:   " ",
			},
			IndentGuide: "│",
		},
		Logging: LoggingConfig{
			Level:      "warn",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from <root>/.peek/config.{json,toml,yaml}
// and PEEK_* environment variables, on top of the defaults.
func LoadConfig(root string) (*Config, error) {
	v := newViper()
	v.AddConfigPath(filepath.Join(root, DirName))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFile loads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetConfigName("config")
	v.SetEnvPrefix("PEEK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)
	v.SetDefault("backends.lsp.enabled", d.Backends.Lsp.Enabled)
	v.SetDefault("backends.lsp.servers", d.Backends.Lsp.Servers)
	v.SetDefault("backends.scip.enabled", d.Backends.Scip.Enabled)
	v.SetDefault("backends.scip.indexPath", d.Backends.Scip.IndexPath)
	v.SetDefault("backends.scip.watch", d.Backends.Scip.Watch)
	v.SetDefault("backends.scip.priority", d.Backends.Scip.Priority)
	v.SetDefault("dispatch.maxInFlight", d.Dispatch.MaxInFlight)
	v.SetDefault("list.startFolded", d.List.StartFolded)
	v.SetDefault("list.cycle", d.List.Cycle)
	v.SetDefault("list.skipGroups", d.List.SkipGroups)
	v.SetDefault("list.autoJumpSingle", d.List.AutoJumpSingle)
	v.SetDefault("list.flatKinds", d.List.FlatKinds)
	v.SetDefault("preview.fileCacheSize", d.Preview.FileCacheSize)
	v.SetDefault("render.icons.open", d.Render.Icons.Open)
	v.SetDefault("render.icons.closed", d.Render.Icons.Closed)
	v.SetDefault("render.icons.leaf", d.Render.Icons.Leaf)
	v.SetDefault("render.indentGuide", d.Render.IndentGuide)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to <root>/.peek/config.json
func (c *Config) Save(root string) error {
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644)
}

// IsFlatKind reports whether kind renders as a flat sequence.
func (c *Config) IsFlatKind(kind string) bool {
	for _, k := range c.List.FlatKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}
	for lang, server := range c.Backends.Lsp.Servers {
		if server.Command == "" {
			return &ConfigError{Field: "backends.lsp.servers." + lang + ".command", Message: "command is required"}
		}
		if len(server.Extensions) == 0 {
			return &ConfigError{Field: "backends.lsp.servers." + lang + ".extensions", Message: "at least one extension is required"}
		}
	}
	if c.Backends.Scip.Enabled && c.Backends.Scip.IndexPath == "" {
		return &ConfigError{Field: "backends.scip.indexPath", Message: "index path is required when scip is enabled"}
	}
	seen := make(map[string]bool)
	for i, m := range c.Dispatch.ExtraMethods {
		field := fmt.Sprintf("dispatch.extraMethods[%d]", i)
		if m.Kind == "" || m.Method == "" {
			return &ConfigError{Field: field, Message: "kind and method are required"}
		}
		if seen[m.Kind] {
			return &ConfigError{Field: field, Message: "duplicate kind " + m.Kind}
		}
		seen[m.Kind] = true
	}
	if c.Dispatch.MaxInFlight < 0 {
		return &ConfigError{Field: "dispatch.maxInFlight", Message: "must not be negative"}
	}
	if c.Preview.FileCacheSize < 0 {
		return &ConfigError{Field: "preview.fileCacheSize", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
