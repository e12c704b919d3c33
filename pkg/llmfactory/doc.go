// Package llmfactory creates models from provider configuration: OpenAI compatible
// endpoints, Azure deployments and Anthropic.
package llmfactory
