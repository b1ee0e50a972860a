package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/eonseed/perspt/internal/consts"
)

// Execution modes controlling commit confirmation
const (
	ModeCautious = "cautious"
	ModeBalanced = "balanced"
	ModeYolo     = "yolo"
)

// EnergyConfig holds the weights of the stability energy function
type EnergyConfig struct {
	Alpha              float64 `json:"alpha"`
	Beta               float64 `json:"beta"`
	Gamma              float64 `json:"gamma"`
	StabilityThreshold float64 `json:"stability_threshold"`
}

// BudgetConfig bounds session spend
type BudgetConfig struct {
	MaxCostUSD            float64 `json:"max_cost_usd"`
	MaxSteps              int     `json:"max_steps"`
	SpeculateCostFraction float64 `json:"speculate_cost_fraction"`
}

// SandboxConfig holds contained-execution settings
type SandboxConfig struct {
	TimeoutSeconds   int      `json:"timeout_seconds"`
	OutputLimitBytes int      `json:"output_limit_bytes"`
	AllowedEnv       []string `json:"allowed_env,omitempty"`
	WritablePaths    []string `json:"writable_paths,omitempty"`
	DisableLandlock  bool     `json:"disable_landlock,omitempty"`
}

// ModelConfig selects the provider and model backing one tier
type ModelConfig struct {
	Provider  string `json:"provider"` // "anthropic" or "openai"
	Model     string `json:"model"`
	APIKeyEnv string `json:"api_key_env,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
}

// TierConfig assigns a model to each reasoning tier
type TierConfig struct {
	Architect  ModelConfig `json:"architect"`
	Actuator   ModelConfig `json:"actuator"`
	Verifier   ModelConfig `json:"verifier"`
	Speculator ModelConfig `json:"speculator"`
}

// Config represents application configuration
type Config struct {
	WorkingDir             string        `json:"working_dir"`
	LogLevel               string        `json:"log_level"` // debug, info, warn, error, none
	LogPath                string        `json:"-"`
	StateDir               string        `json:"-"`
	Mode                   string        `json:"mode"`
	BalancedLinesThreshold int           `json:"balanced_lines_threshold"`
	MaxRetries             int           `json:"max_retries"`
	Temperature            float64       `json:"temperature"`
	PolicyPath             string        `json:"policy_path,omitempty"`
	TestCommand            string        `json:"test_command,omitempty"`
	DiagnosticsCommand     string        `json:"diagnostics_command,omitempty"`
	Energy                 EnergyConfig  `json:"energy"`
	Budget                 BudgetConfig  `json:"budget"`
	Sandbox                SandboxConfig `json:"sandbox"`
	Tiers                  TierConfig    `json:"tiers"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "perspt")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "perspt")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "perspt")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "perspt")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "perspt")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "perspt")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "perspt")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "perspt")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	anthropic := ModelConfig{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKeyEnv: "ANTHROPIC_API_KEY"}
	small := ModelConfig{Provider: "anthropic", Model: "claude-haiku-4-5", APIKeyEnv: "ANTHROPIC_API_KEY"}

	return &Config{
		WorkingDir:             ".",
		LogLevel:               "info",
		LogPath:                filepath.Join(stateDir, "perspt.log"),
		StateDir:               stateDir,
		Mode:                   ModeBalanced,
		BalancedLinesThreshold: 50,
		MaxRetries:             consts.DefaultMaxRetries,
		Temperature:            0.2,
		Energy: EnergyConfig{
			Alpha:              consts.DefaultAlpha,
			Beta:               consts.DefaultBeta,
			Gamma:              consts.DefaultGamma,
			StabilityThreshold: consts.DefaultStabilityThreshold,
		},
		Budget: BudgetConfig{
			MaxCostUSD:            consts.DefaultMaxCostUSD,
			MaxSteps:              consts.DefaultMaxSteps,
			SpeculateCostFraction: consts.DefaultSpeculateCostFraction,
		},
		Sandbox: SandboxConfig{
			TimeoutSeconds:   int(consts.DefaultCommandTimeout.Seconds()),
			OutputLimitBytes: consts.DefaultOutputLimit,
			AllowedEnv:       []string{"PATH", "HOME", "LANG", "TERM", "GOPATH", "GOCACHE"},
		},
		Tiers: TierConfig{
			Architect:  anthropic,
			Actuator:   anthropic,
			Verifier:   small,
			Speculator: small,
		},
	}
}

// Load loads configuration from file, layering it over the defaults
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if config.WorkingDir == "" {
		config.WorkingDir = "."
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	stateDir := defaultStateDir()
	if config.StateDir == "" {
		config.StateDir = stateDir
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(stateDir, "perspt.log")
	}
	if config.Mode == "" {
		config.Mode = ModeBalanced
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the orchestrator cannot run with
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeCautious, ModeBalanced, ModeYolo:
	default:
		return fmt.Errorf("unknown execution mode %q", c.Mode)
	}
	if c.Energy.Alpha < 0 || c.Energy.Beta < 0 || c.Energy.Gamma < 0 {
		return fmt.Errorf("energy weights must be non-negative")
	}
	if c.Energy.StabilityThreshold < 0 {
		return fmt.Errorf("stability threshold must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.Budget.MaxSteps <= 0 {
		return fmt.Errorf("budget.max_steps must be positive")
	}
	if c.Budget.MaxCostUSD < 0 {
		return fmt.Errorf("budget.max_cost_usd must be non-negative")
	}
	return nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config file location
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
