// Package config loads the queue alert configuration from the environment
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/nadmax/queuealert/internal/analytics"
	"github.com/nadmax/queuealert/internal/github"
	"github.com/nadmax/queuealert/internal/notify"
	"github.com/spf13/viper"
)

// Config is built once at startup and handed to every component.
type Config struct {
	Owner       string `mapstructure:"repo_owner"`
	Repo        string `mapstructure:"repo_name"`
	Label       string `mapstructure:"label"`
	TitlePrefix string `mapstructure:"title_prefix"`

	GitHubToken      string `mapstructure:"github_token"`
	GitHubAPIURL     string `mapstructure:"github_api_url"`
	GitHubGraphQLURL string `mapstructure:"github_graphql_url"`

	MaxHours   float64                    `mapstructure:"max_hours"`
	MaxCount   int                        `mapstructure:"max_count"`
	Exceptions map[string]alert.Threshold `mapstructure:"exceptions"`

	ManifestPath string `mapstructure:"manifest_path"`
	Workspace    string `mapstructure:"workspace"`
	QueryName    string `mapstructure:"query_name"`

	Backend      string        `mapstructure:"backend"`
	LambdaHost   string        `mapstructure:"lambda_host"`
	LambdaAPIKey string        `mapstructure:"lambda_api_key"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	RedisAddr    string        `mapstructure:"redis_addr"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`

	EmailAPIKey      string `mapstructure:"email_api_key"`
	EmailFromName    string `mapstructure:"email_from_name"`
	EmailFromAddress string `mapstructure:"email_from_address"`
	EmailTo          string `mapstructure:"email_to"`

	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// envKeys maps config keys to the environment variables that set them.
var envKeys = map[string]string{
	"repo_owner":         "REPO_OWNER",
	"repo_name":          "REPO_NAME",
	"label":              "QUEUE_ALERT_LABEL",
	"title_prefix":       "QUEUE_ALERT_TITLE_PREFIX",
	"github_token":       "GITHUB_TOKEN",
	"github_api_url":     "GITHUB_API_URL",
	"github_graphql_url": "GITHUB_GRAPHQL_URL",
	"max_hours":          "MAX_QUEUE_HOURS",
	"max_count":          "MAX_QUEUE_MACHINES",
	"manifest_path":      "PROD_VERSIONS_FILE",
	"workspace":          "QUERY_WORKSPACE",
	"query_name":         "QUERY_NAME",
	"backend":            "ANALYTICS_BACKEND",
	"lambda_host":        "ROCKSET_HOST",
	"lambda_api_key":     "ROCKSET_API_KEY",
	"postgres_dsn":       "POSTGRES_DSN",
	"redis_addr":         "POGOCACHE_ADDR",
	"http_timeout":       "HTTP_TIMEOUT",
	"email_api_key":      "EMAIL_API_KEY",
	"email_from_name":    "FROM_NAME",
	"email_from_address": "FROM_ADDRESS",
	"email_to":           "ALERT_EMAIL_TO",
	"pushgateway_url":    "PUSHGATEWAY_URL",
}

// FileEnv names the environment variable pointing at an optional config
// file (any format viper reads) carrying threshold overrides.
const FileEnv = "QUEUE_ALERT_CONFIG"

func setDefaults(v *viper.Viper) {
	policy := alert.DefaultPolicy()

	v.SetDefault("repo_owner", "pytorch")
	v.SetDefault("repo_name", "test-infra")
	v.SetDefault("label", alert.DefaultLabel)
	v.SetDefault("title_prefix", alert.DefaultTitlePrefix)
	v.SetDefault("github_api_url", github.DefaultAPIURL)
	v.SetDefault("github_graphql_url", github.DefaultGraphQLURL)
	v.SetDefault("max_hours", policy.Default.MaxHours)
	v.SetDefault("max_count", policy.Default.MaxCount)
	v.SetDefault("manifest_path", "torchci/rockset/prodVersions.json")
	v.SetDefault("workspace", "metrics")
	v.SetDefault("query_name", "queued_jobs_by_label")
	v.SetDefault("backend", analytics.BackendLambda)
	v.SetDefault("lambda_host", "api.usw2a1.rockset.com")
	v.SetDefault("redis_addr", "localhost:9401")
	v.SetDefault("http_timeout", 30*time.Second)
}

// New returns a viper instance whose key delimiter leaves dotted machine
// types such as linux.gcp.a100.large intact.
func New() *viper.Viper {
	return viper.NewWithOptions(viper.KeyDelimiter("::"))
}

// Load reads configuration from v. A nil v means New().
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = New()
	}

	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, alert.NewConfigError(env, err)
		}
	}
	if err := v.BindEnv("config_file", FileEnv); err != nil {
		return nil, alert.NewConfigError(FileEnv, err)
	}

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, alert.NewConfigError(path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, alert.NewConfigError("config", err)
	}

	cfg.Backend = strings.ToLower(cfg.Backend)
	if !v.IsSet("exceptions") {
		cfg.Exceptions = alert.DefaultPolicy().Exceptions
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return alert.NewConfigError(envKeys["github_token"], errors.New("not set"))
	}
	if c.Owner == "" || c.Repo == "" {
		return alert.NewConfigError("repository", errors.New("owner and name are required"))
	}
	if c.MaxHours < 0 || c.MaxCount < 0 {
		return alert.NewConfigError("thresholds", errors.New("must not be negative"))
	}

	switch c.Backend {
	case analytics.BackendLambda:
		if c.LambdaAPIKey == "" {
			return alert.NewConfigError(envKeys["lambda_api_key"], errors.New("not set"))
		}
	case analytics.BackendPostgres:
		if c.PostgresDSN == "" {
			return alert.NewConfigError(envKeys["postgres_dsn"], errors.New("not set"))
		}
	case analytics.BackendRedis:
		if c.RedisAddr == "" {
			return alert.NewConfigError(envKeys["redis_addr"], errors.New("not set"))
		}
	default:
		return alert.NewConfigError(envKeys["backend"], fmt.Errorf("unknown backend %q", c.Backend))
	}

	return nil
}

func (c *Config) Policy() alert.Policy {
	return alert.Policy{
		Default:    alert.Threshold{MaxHours: c.MaxHours, MaxCount: c.MaxCount},
		Exceptions: c.Exceptions,
	}
}

// EmailEnabled reports whether every e-mail setting is present.
func (c *Config) EmailEnabled() bool {
	return c.EmailAPIKey != "" && c.EmailFromAddress != "" && c.EmailTo != ""
}

func (c *Config) EmailConfig() notify.EmailConfig {
	return notify.EmailConfig{
		APIKey:      c.EmailAPIKey,
		FromName:    c.EmailFromName,
		FromAddress: c.EmailFromAddress,
		To:          c.EmailTo,
	}
}

func (c *Config) GitHubOptions() github.Options {
	return github.Options{
		Token:      c.GitHubToken,
		Owner:      c.Owner,
		Repo:       c.Repo,
		APIURL:     c.GitHubAPIURL,
		GraphQLURL: c.GitHubGraphQLURL,
	}
}
