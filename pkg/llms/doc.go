// Package llms provides the provider-neutral chat model surface used by the gateway:
// role-tagged messages with text, tool-call and tool-response parts, call options
// with function definitions, and the Model interface implemented by the
// provider subpackages.
package llms
