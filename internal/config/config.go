package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "BUILDWATCH"

type Config struct {
	Server     ServerConfig   `mapstructure:"server"`
	CircleCI   CircleCIConfig `mapstructure:"circleci"`
	Notify     NotifyConfig   `mapstructure:"notify"`
	Thresholds Thresholds     `mapstructure:"thresholds"`
	Cost       CostConfig     `mapstructure:"cost"`
	Watch      WatchConfig    `mapstructure:"watch"`
	Metrics    MetricsConfig  `mapstructure:"metrics"`
	DryRun     bool           `mapstructure:"dry_run"`
	LogLevel   string         `mapstructure:"log_level"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	APIKey       string        `mapstructure:"api_key"`
	EnableAuth   bool          `mapstructure:"enable_auth"`
}

type CircleCIConfig struct {
	Token             string        `mapstructure:"token"`
	Organization      string        `mapstructure:"organization"`
	Repository        string        `mapstructure:"repository"`
	VCS               string        `mapstructure:"vcs"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	FetchConcurrency  int           `mapstructure:"fetch_concurrency"`
}

// ProjectSlug returns the <vcs>/<org>/<repo> slug used in provider URLs
func (c CircleCIConfig) ProjectSlug() string {
	return fmt.Sprintf("%s/%s/%s", c.VCS, c.Organization, c.Repository)
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Thresholds bound how many pipelines may be triggered inside the trailing window
type Thresholds struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxPerActor   int `mapstructure:"max_per_actor"`
	MaxGlobal     int `mapstructure:"max_global"`
}

// Window returns the window width as a duration
func (t Thresholds) Window() time.Duration {
	return time.Duration(t.WindowSeconds) * time.Second
}

type CostConfig struct {
	UnitPrice        float64 `mapstructure:"unit_price"`
	ExcludedWorkflow string  `mapstructure:"excluded_workflow"`
}

type WatchConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	HistorySize int           `mapstructure:"history_size"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// requiredKeys are the settings a run cannot start without. Each one can also be read
// from a CircleCI-native variable whose name is itself configurable through <key>_env.
var requiredKeys = []struct {
	key        string
	defaultEnv string
}{
	{"circleci.organization", "CIRCLE_PROJECT_USERNAME"},
	{"circleci.repository", "CIRCLE_PROJECT_REPONAME"},
	{"circleci.token", "SLACK_MONITOR_CIRCLE_TOKEN"},
	{"notify.webhook_url", "SLACK_MONITOR_SLACK_APP_URL"},
	{"thresholds.window_seconds", "SLACK_MONITOR_PARAM_THRESHOLD_SECONDS"},
	{"thresholds.max_per_actor", "SLACK_MONITOR_PARAM_THRESHOLD_MAX_BUILDS_PER_USER"},
	{"thresholds.max_global", "SLACK_MONITOR_PARAM_THRESHOLD_MAX_BUILDS"},
}

var keyReplacer = strings.NewReplacer(".", "_")

// Load reads configuration from environment variables and optional config file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(keyReplacer)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var missing []string
	for _, rk := range requiredKeys {
		indirect := v.GetString(rk.key + "_env")
		if err := v.BindEnv(rk.key, envName(rk.key), indirect); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", rk.key, err)
		}
		if strings.TrimSpace(v.GetString(rk.key)) == "" {
			missing = append(missing, fmt.Sprintf("%s (%s or %s)", rk.key, envName(rk.key), indirect))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(keyReplacer.Replace(key))
}

func setDefaults(v *viper.Viper) {
	for _, rk := range requiredKeys {
		v.SetDefault(rk.key+"_env", rk.defaultEnv)
	}

	// Server defaults
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.enable_auth", false)

	// CircleCI defaults
	v.SetDefault("circleci.vcs", "gh")
	v.SetDefault("circleci.base_url", "https://circleci.com/api/v2")
	v.SetDefault("circleci.request_timeout", 30*time.Second)
	v.SetDefault("circleci.requests_per_second", 0)
	v.SetDefault("circleci.fetch_concurrency", 1)

	v.SetDefault("notify.timeout", 10*time.Second)

	// Cost defaults
	v.SetDefault("cost.unit_price", 0.0006)
	v.SetDefault("cost.excluded_workflow", "Build Error")

	v.SetDefault("watch.interval", 60*time.Second)
	v.SetDefault("watch.history_size", 100)

	v.SetDefault("metrics.job", "buildwatch")

	// General defaults
	v.SetDefault("dry_run", false)
	v.SetDefault("log_level", "info")
}

func (c *Config) Validate() error {
	// CircleCI validation
	if c.CircleCI.Token == "" {
		return fmt.Errorf("circleci.token is required")
	}
	if c.CircleCI.Organization == "" || c.CircleCI.Repository == "" {
		return fmt.Errorf("circleci.organization and circleci.repository must be set")
	}
	if c.CircleCI.BaseURL == "" {
		return fmt.Errorf("circleci.base_url must be set")
	}
	if c.CircleCI.RequestsPerSecond < 0 {
		return fmt.Errorf("circleci.requests_per_second must be >= 0")
	}
	if c.CircleCI.FetchConcurrency < 1 {
		return fmt.Errorf("circleci.fetch_concurrency must be >= 1")
	}

	if c.Notify.WebhookURL == "" {
		return fmt.Errorf("notify.webhook_url is required")
	}

	// Threshold validation
	if c.Thresholds.WindowSeconds <= 0 {
		return fmt.Errorf("thresholds.window_seconds must be > 0")
	}
	if c.Thresholds.MaxPerActor < 0 {
		return fmt.Errorf("thresholds.max_per_actor must be >= 0")
	}
	if c.Thresholds.MaxGlobal < 0 {
		return fmt.Errorf("thresholds.max_global must be >= 0")
	}

	if c.Cost.UnitPrice < 0 {
		return fmt.Errorf("cost.unit_price must be >= 0")
	}

	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be > 0")
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.EnableAuth && c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required when server.enable_auth is true")
	}

	return nil
}
