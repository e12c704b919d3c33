package llmfactory

import (
	"os"
	"slices"

	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
)

// DefaultOpenAIModel is used when OPENAI_MODEL is not set
const DefaultOpenAIModel = "qwen-plus"

type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`
	// DefaultProvider specifies the default provider to use
	DefaultProvider string `json:"default_provider" yaml:"default_provider"`
}

// ProviderConfig for a provider
type ProviderConfig struct {
	Name            string       `json:"name" yaml:"name" validate:"required"`
	Token           string       `json:"token,omitempty" yaml:"token,omitempty"`
	DefaultModel    string       `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	AvailableModels []string     `json:"available_models,omitempty" yaml:"available_models,omitempty"`
	OpenAI          OpenAIConfig `json:"open_ai" yaml:"open_ai"`
}

// OpenAIConfig specifies options config
type OpenAIConfig struct {
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	// APIType specifies the type of API to use:
	// OPENAI|AZURE|AZURE_AD|ANTHROPIC
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty" validate:"omitempty,oneof=OPENAI OPEN_AI AZURE AZURE_AD ANTHROPIC"`
	// OrgID specifies which organization's quota and billing should be used when making API requests.
	OrgID string `json:"org_id,omitempty" yaml:"org_id,omitempty"`
}

// FindModel returns the first available model of the list, or the default model
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFromEnv returns providers for the API keys found in the environment:
// OPENAI_API_KEY with OPENAI_BASE_URL and OPENAI_MODEL, and ANTHROPIC_API_KEY
// with ANTHROPIC_MODEL. The OpenAI compatible provider is the default.
func ConfigFromEnv() *Config {
	cfg := new(Config)
	if token := os.Getenv("OPENAI_API_KEY"); token != "" {
		model := values.StringsCoalesce(os.Getenv("OPENAI_MODEL"), DefaultOpenAIModel)
		cfg.Providers = append(cfg.Providers, &ProviderConfig{
			Name:            "openai",
			Token:           token,
			DefaultModel:    model,
			AvailableModels: []string{model},
			OpenAI: OpenAIConfig{
				APIType: "OPENAI",
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
			},
		})
	}
	if token := os.Getenv("ANTHROPIC_API_KEY"); token != "" {
		model := values.StringsCoalesce(os.Getenv("ANTHROPIC_MODEL"), "claude-sonnet-4-5")
		cfg.Providers = append(cfg.Providers, &ProviderConfig{
			Name:            "anthropic",
			Token:           token,
			DefaultModel:    model,
			AvailableModels: []string{model},
			OpenAI: OpenAIConfig{
				APIType: "ANTHROPIC",
			},
		})
	}
	return cfg
}
