package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// knownVars lists every variable Load may consult so tests start from a clean slate
var knownVars = []string{
	"CIRCLE_PROJECT_USERNAME",
	"CIRCLE_PROJECT_REPONAME",
	"SLACK_MONITOR_CIRCLE_TOKEN",
	"SLACK_MONITOR_SLACK_APP_URL",
	"SLACK_MONITOR_PARAM_THRESHOLD_SECONDS",
	"SLACK_MONITOR_PARAM_THRESHOLD_MAX_BUILDS_PER_USER",
	"SLACK_MONITOR_PARAM_THRESHOLD_MAX_BUILDS",
	"BUILDWATCH_CIRCLECI_ORGANIZATION",
	"BUILDWATCH_CIRCLECI_REPOSITORY",
	"BUILDWATCH_CIRCLECI_TOKEN",
	"BUILDWATCH_CIRCLECI_TOKEN_ENV",
	"BUILDWATCH_NOTIFY_WEBHOOK_URL",
	"BUILDWATCH_THRESHOLDS_WINDOW_SECONDS",
	"BUILDWATCH_THRESHOLDS_MAX_PER_ACTOR",
	"BUILDWATCH_THRESHOLDS_MAX_GLOBAL",
	"BUILDWATCH_LOG_LEVEL",
	"BUILDWATCH_DRY_RUN",
}

func orbEnv() map[string]string {
	return map[string]string{
		"CIRCLE_PROJECT_USERNAME":                           "acme",
		"CIRCLE_PROJECT_REPONAME":                           "widgets",
		"SLACK_MONITOR_CIRCLE_TOKEN":                        "test-token",
		"SLACK_MONITOR_SLACK_APP_URL":                       "https://hooks.example.com/T000",
		"SLACK_MONITOR_PARAM_THRESHOLD_SECONDS":             "60",
		"SLACK_MONITOR_PARAM_THRESHOLD_MAX_BUILDS_PER_USER": "3",
		"SLACK_MONITOR_PARAM_THRESHOLD_MAX_BUILDS":          "10",
	}
}

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, k := range knownVars {
		t.Setenv(k, "")
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	without := func(key string) map[string]string {
		env := orbEnv()
		delete(env, key)
		return env
	}

	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{
			name:    "valid orb environment",
			envVars: orbEnv(),
		},
		{
			name: "valid prefixed environment",
			envVars: map[string]string{
				"BUILDWATCH_CIRCLECI_ORGANIZATION":     "acme",
				"BUILDWATCH_CIRCLECI_REPOSITORY":       "widgets",
				"BUILDWATCH_CIRCLECI_TOKEN":            "test-token",
				"BUILDWATCH_NOTIFY_WEBHOOK_URL":        "https://hooks.example.com/T000",
				"BUILDWATCH_THRESHOLDS_WINDOW_SECONDS": "30",
				"BUILDWATCH_THRESHOLDS_MAX_PER_ACTOR":  "2",
				"BUILDWATCH_THRESHOLDS_MAX_GLOBAL":     "5",
			},
		},
		{
			name:    "missing token",
			envVars: without("SLACK_MONITOR_CIRCLE_TOKEN"),
			wantErr: "circleci.token",
		},
		{
			name:    "missing webhook",
			envVars: without("SLACK_MONITOR_SLACK_APP_URL"),
			wantErr: "notify.webhook_url",
		},
		{
			name:    "missing window",
			envVars: without("SLACK_MONITOR_PARAM_THRESHOLD_SECONDS"),
			wantErr: "thresholds.window_seconds",
		},
		{
			name:    "missing global max",
			envVars: without("SLACK_MONITOR_PARAM_THRESHOLD_MAX_BUILDS"),
			wantErr: "thresholds.max_global",
		},
		{
			name: "non numeric threshold",
			envVars: func() map[string]string {
				env := orbEnv()
				env["SLACK_MONITOR_PARAM_THRESHOLD_SECONDS"] = "soon"
				return env
			}(),
			wantErr: "unmarshal",
		},
		{
			name: "zero window",
			envVars: func() map[string]string {
				env := orbEnv()
				env["SLACK_MONITOR_PARAM_THRESHOLD_SECONDS"] = "0"
				return env
			}(),
			wantErr: "window_seconds must be > 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.envVars)

			cfg, err := Load("")
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() error = nil, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Load() error = %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg == nil {
				t.Fatal("Load() returned nil config")
			}
		})
	}
}

func TestLoadIndirection(t *testing.T) {
	env := orbEnv()
	delete(env, "SLACK_MONITOR_CIRCLE_TOKEN")
	env["BUILDWATCH_CIRCLECI_TOKEN_ENV"] = "MY_CIRCLE_TOKEN"
	env["MY_CIRCLE_TOKEN"] = "indirect-token"
	setEnv(t, env)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.CircleCI.Token != "indirect-token" {
		t.Errorf("expected Token=indirect-token, got %s", cfg.CircleCI.Token)
	}
}

func TestLoadPrefixedWinsOverOrb(t *testing.T) {
	env := orbEnv()
	env["BUILDWATCH_THRESHOLDS_MAX_PER_ACTOR"] = "7"
	setEnv(t, env)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Thresholds.MaxPerActor != 7 {
		t.Errorf("expected MaxPerActor=7, got %d", cfg.Thresholds.MaxPerActor)
	}
}

func TestLoadConfigFile(t *testing.T) {
	setEnv(t, map[string]string{
		"SLACK_MONITOR_CIRCLE_TOKEN": "test-token",
		"HOOK_URL":                   "https://hooks.example.com/file",
	})

	path := filepath.Join(t.TempDir(), "buildwatch.yaml")
	content := `
circleci:
  organization: acme
  repository: widgets
  vcs: bb
notify:
  webhook_url_env: HOOK_URL
thresholds:
  window_seconds: 45
  max_per_actor: 4
  max_global: 20
dry_run: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.com/file" {
		t.Errorf("expected webhook from HOOK_URL, got %s", cfg.Notify.WebhookURL)
	}
	if cfg.CircleCI.ProjectSlug() != "bb/acme/widgets" {
		t.Errorf("expected slug bb/acme/widgets, got %s", cfg.CircleCI.ProjectSlug())
	}
	if cfg.Thresholds.Window() != 45*time.Second {
		t.Errorf("expected window 45s, got %v", cfg.Thresholds.Window())
	}
	if !cfg.DryRun {
		t.Error("expected DryRun=true")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 8080},
			CircleCI: CircleCIConfig{Token: "token", Organization: "org", Repository: "repo", BaseURL: "http://x", FetchConcurrency: 1},
			Notify:   NotifyConfig{WebhookURL: "http://hook"},
			Thresholds: Thresholds{
				WindowSeconds: 60,
				MaxPerActor:   3,
				MaxGlobal:     10,
			},
			Watch: WatchConfig{Interval: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "zero maxima allowed", mutate: func(c *Config) { c.Thresholds.MaxPerActor = 0; c.Thresholds.MaxGlobal = 0 }},
		{name: "negative per actor", mutate: func(c *Config) { c.Thresholds.MaxPerActor = -1 }, wantErr: true},
		{name: "negative global", mutate: func(c *Config) { c.Thresholds.MaxGlobal = -1 }, wantErr: true},
		{name: "negative window", mutate: func(c *Config) { c.Thresholds.WindowSeconds = -5 }, wantErr: true},
		{name: "negative unit price", mutate: func(c *Config) { c.Cost.UnitPrice = -0.1 }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.CircleCI.FetchConcurrency = 0 }, wantErr: true},
		{name: "auth without key", mutate: func(c *Config) { c.Server.EnableAuth = true }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	setEnv(t, orbEnv())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircleCI.VCS != "gh" {
		t.Errorf("expected VCS=gh, got %s", cfg.CircleCI.VCS)
	}
	if cfg.CircleCI.ProjectSlug() != "gh/acme/widgets" {
		t.Errorf("expected slug gh/acme/widgets, got %s", cfg.CircleCI.ProjectSlug())
	}
	if cfg.CircleCI.FetchConcurrency != 1 {
		t.Errorf("expected FetchConcurrency=1, got %d", cfg.CircleCI.FetchConcurrency)
	}
	if cfg.Cost.UnitPrice != 0.0006 {
		t.Errorf("expected UnitPrice=0.0006, got %v", cfg.Cost.UnitPrice)
	}
	if cfg.Cost.ExcludedWorkflow != "Build Error" {
		t.Errorf("expected ExcludedWorkflow='Build Error', got %q", cfg.Cost.ExcludedWorkflow)
	}
	if cfg.Thresholds.WindowSeconds != 60 || cfg.Thresholds.MaxPerActor != 3 || cfg.Thresholds.MaxGlobal != 10 {
		t.Errorf("unexpected thresholds: %+v", cfg.Thresholds)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %s", cfg.LogLevel)
	}
	if cfg.DryRun {
		t.Error("expected DryRun=false")
	}
}
