package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models procureiq.yml.
type Config struct {
	Thresholds struct {
		AutoApprove int `yaml:"auto_approve"`
		Review      int `yaml:"review"`
	} `yaml:"thresholds"`
	Agent struct {
		PollFloor             time.Duration `yaml:"poll_floor"`
		PollCeiling           time.Duration `yaml:"poll_ceiling"`
		RecoveryInterval      time.Duration `yaml:"recovery_interval"`
		StaleAfter            time.Duration `yaml:"stale_after"`
		HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
		InventoryScanInterval time.Duration `yaml:"inventory_scan_interval"`
	} `yaml:"agent"`
	Mode struct {
		Window    int     `yaml:"window"`
		SafeBelow float64 `yaml:"safe_below"`
		CrisisAt  int     `yaml:"crisis_at"`
	} `yaml:"mode"`
	Providers struct {
		Timeout  time.Duration `yaml:"timeout"`
		Primary  Provider      `yaml:"primary"`
		Fallback Provider      `yaml:"fallback"`
		Fuzzy    struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"fuzzy"`
	} `yaml:"providers"`
	Matching struct {
		// AmountTolerance is the relative PO amount drift still counted as a match.
		AmountTolerance float64 `yaml:"amount_tolerance"`
	} `yaml:"matching"`
	Notifications struct {
		Owner    string        `yaml:"owner"`
		Buffer   int           `yaml:"buffer"`
		Timeout  time.Duration `yaml:"timeout"`
		Webhooks []Webhook     `yaml:"webhooks"`
	} `yaml:"notifications"`
}

// Provider configures one HTTP scoring oracle. An empty endpoint disables it.
type Provider struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the bearer key.
	APIKeyEnv string  `yaml:"api_key_env"`
	RateRPM   int     `yaml:"rate_rpm"`
	RateBurst int     `yaml:"rate_burst"`
	Breaker   Breaker `yaml:"breaker"`
}

type Breaker struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	MinRequests      int           `yaml:"min_requests"`
	RecoveryTime     time.Duration `yaml:"recovery_time"`
	SamplingWindow   time.Duration `yaml:"sampling_window"`
	HalfOpenMax      int           `yaml:"half_open_max"`
}

type Webhook struct {
	ID     string   `yaml:"id"`
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// APIKey resolves the provider key from the environment.
func (p Provider) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Validate ensures the config is internally consistent.
func (c *Config) Validate() error {
	if c.Thresholds.AutoApprove < 0 || c.Thresholds.AutoApprove > 100 {
		return fmt.Errorf("thresholds.auto_approve must be within 0..100")
	}
	if c.Thresholds.Review < 0 || c.Thresholds.Review > c.Thresholds.AutoApprove {
		return fmt.Errorf("thresholds.review must be within 0..auto_approve")
	}
	if c.Agent.PollFloor <= 0 {
		return fmt.Errorf("agent.poll_floor must be > 0")
	}
	if c.Agent.PollCeiling < c.Agent.PollFloor {
		return fmt.Errorf("agent.poll_ceiling must be >= agent.poll_floor")
	}
	if c.Agent.StaleAfter <= 0 {
		return fmt.Errorf("agent.stale_after must be > 0")
	}
	if c.Mode.Window <= 0 {
		return fmt.Errorf("mode.window must be > 0")
	}
	if c.Mode.SafeBelow < 0 || c.Mode.SafeBelow > 100 {
		return fmt.Errorf("mode.safe_below must be within 0..100")
	}
	if c.Mode.CrisisAt < 0 || c.Mode.CrisisAt > 10 {
		return fmt.Errorf("mode.crisis_at must be within 0..10")
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be > 0")
	}
	for name, p := range map[string]Provider{"primary": c.Providers.Primary, "fallback": c.Providers.Fallback} {
		if p.RateRPM < 0 || p.RateBurst < 0 {
			return fmt.Errorf("providers.%s rate settings must be >= 0", name)
		}
		if p.Breaker.Enabled && p.Breaker.FailureThreshold <= 0 {
			return fmt.Errorf("providers.%s.breaker.failure_threshold must be > 0", name)
		}
	}
	if c.Matching.AmountTolerance < 0 || c.Matching.AmountTolerance >= 1 {
		return fmt.Errorf("matching.amount_tolerance must be within 0..1")
	}
	if c.Notifications.Buffer < 0 {
		return fmt.Errorf("notifications.buffer must be >= 0")
	}
	seen := map[string]bool{}
	for _, wh := range c.Notifications.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("notifications.webhooks entries require url")
		}
		if wh.ID != "" {
			if seen[wh.ID] {
				return fmt.Errorf("duplicate webhook id %s", wh.ID)
			}
			seen[wh.ID] = true
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "procureiq.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with piq config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(DefaultYAML)).Decode(&cfg)
	return &cfg
}

// FromYAML parses raw YAML on top of the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Status summarizes which collaborators are configured. Secrets are masked.
func (c *Config) Status() map[string]string {
	state := func(p Provider) string {
		switch {
		case p.Endpoint == "":
			return "disabled"
		case p.APIKeyEnv != "" && p.APIKey() == "":
			return "endpoint set, key missing (" + p.APIKeyEnv + ")"
		default:
			return "configured"
		}
	}
	fuzzy := "disabled"
	if c.Providers.Fuzzy.Enabled {
		fuzzy = "enabled"
	}
	return map[string]string{
		"provider.primary":  state(c.Providers.Primary),
		"provider.fallback": state(c.Providers.Fallback),
		"provider.fuzzy":    fuzzy,
		"notify.owner":      c.Notifications.Owner,
		"notify.webhooks":   fmt.Sprintf("%d", len(c.Notifications.Webhooks)),
		"thresholds":        fmt.Sprintf("auto>=%d review>=%d", c.Thresholds.AutoApprove, c.Thresholds.Review),
	}
}

const DefaultYAML = `thresholds:
  auto_approve: 95
  review: 75

agent:
  poll_floor: 2s
  poll_ceiling: 30s
  recovery_interval: 1m
  stale_after: 5m
  heartbeat_interval: 30s
  inventory_scan_interval: 10m

mode:
  window: 20
  safe_below: 60
  crisis_at: 7

providers:
  timeout: 10s
  primary:
    endpoint: ""
    model: primary
    api_key_env: PROCUREIQ_PRIMARY_API_KEY
    rate_rpm: 60
    rate_burst: 2
    breaker:
      enabled: true
      failure_threshold: 5
      min_requests: 5
      recovery_time: 60s
      sampling_window: 60s
      half_open_max: 1
  fallback:
    endpoint: ""
    model: fallback
    api_key_env: PROCUREIQ_FALLBACK_API_KEY
    rate_rpm: 60
    rate_burst: 2
    breaker:
      enabled: true
      failure_threshold: 5
      min_requests: 5
      recovery_time: 60s
      sampling_window: 60s
      half_open_max: 1
  fuzzy:
    enabled: true

matching:
  amount_tolerance: 0.05

notifications:
  owner: owner@example.com
  buffer: 64
  timeout: 5s
  webhooks: []
`
