// Package config loads the application configuration.
package config

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/orchestrator"
	"github.com/effective-security/mcpbridge/pkg/llmfactory"
	"github.com/effective-security/mcpbridge/store"
	"github.com/effective-security/mcpbridge/toolhost"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
)

// LocatorEnvVarName names the default tool host locator
const LocatorEnvVarName = "MCP_SERVER_PATH"

// Config is the application configuration
type Config struct {
	// LLM specifies the model providers. When no provider is configured,
	// they are taken from the environment.
	LLM          llmfactory.Config  `json:"llm" yaml:"llm"`
	ToolHost     ToolHostConfig     `json:"toolhost" yaml:"toolhost"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Store        StoreConfig        `json:"store" yaml:"store"`
}

// ToolHostConfig specifies the tool host process
type ToolHostConfig struct {
	// Locator is the script path, stdio:// command or http(s) URL of the tool host
	Locator          string   `json:"locator,omitempty" yaml:"locator,omitempty"`
	NodeBinary       string   `json:"node_binary,omitempty" yaml:"node_binary,omitempty"`
	PythonBinary     string   `json:"python_binary,omitempty" yaml:"python_binary,omitempty"`
	Env              []string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir              string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	HandshakeTimeout Duration `json:"handshake_timeout,omitempty" yaml:"handshake_timeout,omitempty" validate:"gte=0"`
	RequestTimeout   Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty" validate:"gte=0"`
	CloseGrace       Duration `json:"close_grace,omitempty" yaml:"close_grace,omitempty" validate:"gte=0"`
}

// OrchestratorConfig specifies the query policy
type OrchestratorConfig struct {
	// Model is the preferred model name, the default provider model is used if empty
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`
	// MaxRounds is the number of rounds in which tools are offered, 1 if not set
	MaxRounds           int      `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty" validate:"gte=0,lte=32"`
	DegradedToolResults bool     `json:"degraded_tool_results,omitempty" yaml:"degraded_tool_results,omitempty"`
	SkipValidation      bool     `json:"skip_validation,omitempty" yaml:"skip_validation,omitempty"`
	QueryTimeout        Duration `json:"query_timeout,omitempty" yaml:"query_timeout,omitempty" validate:"gte=0"`
	ModelTimeout        Duration `json:"model_timeout,omitempty" yaml:"model_timeout,omitempty" validate:"gte=0"`
}

// StoreConfig specifies where query transcripts are archived
type StoreConfig struct {
	// RedisURL selects the Redis store, transcripts are kept in memory if empty
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty" validate:"omitempty,url"`
	// Prefix of the Redis keys
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// TTL of the transcripts in Redis, they do not expire if not set
	TTL Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" validate:"gte=0"`
	// Capacity is the number of transcripts kept in memory
	Capacity int `json:"capacity,omitempty" yaml:"capacity,omitempty" validate:"gte=0"`
}

// DefaultStorePrefix is the default prefix of the Redis keys
const DefaultStorePrefix = "/mcpbridge"

// Load returns the configuration from the file, or the default configuration
// from the environment when file is empty.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.WithMessagef(err, "failed to load config %s", file)
		}
	}
	if len(cfg.LLM.Providers) == 0 {
		cfg.LLM = *llmfactory.ConfigFromEnv()
	}
	cfg.ToolHost.Locator = values.StringsCoalesce(cfg.ToolHost.Locator, os.Getenv(LocatorEnvVarName))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}
	return nil
}

// ToolHostOptions returns the connection options
func (c *Config) ToolHostOptions() []toolhost.Option {
	th := c.ToolHost
	var opts []toolhost.Option
	if th.NodeBinary != "" {
		opts = append(opts, toolhost.WithNodeBinary(th.NodeBinary))
	}
	if th.PythonBinary != "" {
		opts = append(opts, toolhost.WithPythonBinary(th.PythonBinary))
	}
	if len(th.Env) > 0 {
		opts = append(opts, toolhost.WithEnv(th.Env...))
	}
	if th.Dir != "" {
		opts = append(opts, toolhost.WithDir(th.Dir))
	}
	if th.HandshakeTimeout > 0 {
		opts = append(opts, toolhost.WithHandshakeTimeout(th.HandshakeTimeout.Duration()))
	}
	if th.RequestTimeout > 0 {
		opts = append(opts, toolhost.WithRequestTimeout(th.RequestTimeout.Duration()))
	}
	if th.CloseGrace > 0 {
		opts = append(opts, toolhost.WithCloseGrace(th.CloseGrace.Duration()))
	}
	return opts
}

// GatewayOptions returns the model gateway options
func (c *Config) GatewayOptions() []gateway.Option {
	o := c.Orchestrator
	var opts []gateway.Option
	if o.Model != "" {
		opts = append(opts, gateway.WithModelName(o.Model))
	}
	if o.Temperature > 0 {
		opts = append(opts, gateway.WithTemperature(o.Temperature))
	}
	if o.MaxTokens > 0 {
		opts = append(opts, gateway.WithMaxTokens(o.MaxTokens))
	}
	if o.ModelTimeout > 0 {
		opts = append(opts, gateway.WithTimeout(o.ModelTimeout.Duration()))
	}
	return opts
}

// NewStore returns the transcript store and a function that releases it
func (c *Config) NewStore(ctx context.Context) (store.Store, func() error, error) {
	sc := c.Store
	if sc.RedisURL == "" {
		return store.NewMemoryStore(sc.Capacity), func() error { return nil }, nil
	}
	client, err := store.NewRedisClient(ctx, sc.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	st := store.NewRedisStore(client, values.StringsCoalesce(sc.Prefix, DefaultStorePrefix), sc.TTL.Duration())
	return st, client.Close, nil
}

// OrchestratorOptions returns the query policy options
func (c *Config) OrchestratorOptions() []orchestrator.Option {
	o := c.Orchestrator
	opts := []orchestrator.Option{
		orchestrator.WithMaxRounds(values.NumbersCoalesce(o.MaxRounds, orchestrator.DefaultMaxRounds)),
		orchestrator.WithDegradedToolResults(o.DegradedToolResults),
		orchestrator.WithArgumentValidation(!o.SkipValidation),
	}
	if o.QueryTimeout > 0 {
		opts = append(opts, orchestrator.WithQueryTimeout(o.QueryTimeout.Duration()))
	}
	return opts
}
