package llms_test

import (
	"testing"

	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestOptions(t *testing.T) {
	tools := []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name: "test",
			},
		},
	}
	meta := map[string]any{"test": "test"}
	opts := llms.NewCallOptions(
		llms.WithModel("test"),
		llms.WithMaxTokens(100),
		llms.WithTemperature(0.5),
		llms.WithStopWords([]string{"stop"}),
		llms.WithTopP(0.5),
		llms.WithSeed(123),
		llms.WithTools(tools),
		llms.WithToolChoice("auto"),
		llms.WithMetadata(meta),
	)

	assert.Equal(t, &llms.CallOptions{
		Model:       "test",
		MaxTokens:   100,
		Temperature: 0.5,
		StopWords:   []string{"stop"},
		TopP:        0.5,
		Seed:        123,
		Tools:       tools,
		ToolChoice:  "auto",
		Metadata:    meta,
	}, opts)

	assert.Equal(t, &llms.CallOptions{}, llms.NewCallOptions())
}

func TestFunctionDefinition_Parameters(t *testing.T) {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set("city", &jsonschema.Schema{Type: "string"})

	tests := []struct {
		name string
		def  *llms.FunctionDefinition
		exp  string
	}{
		{
			name: "nil",
			def:  &llms.FunctionDefinition{Name: "a"},
			exp:  `{"type":"object","properties":{},"required":[]}`,
		},
		{
			name: "empty",
			def:  &llms.FunctionDefinition{Name: "a", Parameters: &jsonschema.Schema{}},
			exp:  `{"type":"object","properties":{},"required":[]}`,
		},
		{
			name: "full",
			def: &llms.FunctionDefinition{Name: "a", Parameters: &jsonschema.Schema{
				Type:       "object",
				Properties: props,
				Required:   []string{"city"},
			}},
			exp: `{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.exp, string(tt.def.ParametersJSON()))
			m := tt.def.ParametersMap()
			assert.Equal(t, "object", m["type"])
			assert.NotNil(t, m["required"])
		})
	}
}
