package catalog

import (
	"encoding/json"

	"github.com/effective-security/mcpbridge/mcp"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ToolTypeFunction is the only tool type offered to models
const ToolTypeFunction = "function"

// Translate maps tool descriptors to model function definitions.
// It never fails: missing or malformed schema parts fall back to
// an object schema with no properties and no required fields.
func Translate(descriptors []mcp.Tool) []llms.Tool {
	list := make([]llms.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		list = append(list, TranslateTool(d))
	}
	return list
}

// TranslateTool maps one descriptor
func TranslateTool(d mcp.Tool) llms.Tool {
	return llms.Tool{
		Type: ToolTypeFunction,
		Function: &llms.FunctionDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  parameters(d.InputSchema),
		},
	}
}

func parameters(raw json.RawMessage) *jsonschema.Schema {
	s := new(jsonschema.Schema)
	if gjson.ValidBytes(raw) && gjson.ParseBytes(raw).IsObject() {
		if err := json.Unmarshal(raw, s); err != nil {
			s = salvage(gjson.ParseBytes(raw))
		}
	}

	s.Type = "object"
	if s.Properties == nil {
		s.Properties = orderedmap.New[string, *jsonschema.Schema]()
	}
	if s.Required == nil {
		s.Required = []string{}
	}
	return s
}

// salvage keeps what can be decoded from a schema that does not unmarshal as a whole:
// each property is decoded on its own and replaced by an empty schema if malformed.
func salvage(res gjson.Result) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Description: res.Get("description").String(),
		Properties:  orderedmap.New[string, *jsonschema.Schema](),
		Required:    []string{},
	}

	props := res.Get("properties")
	if props.IsObject() {
		props.ForEach(func(key, value gjson.Result) bool {
			prop := new(jsonschema.Schema)
			if !value.IsObject() || json.Unmarshal([]byte(value.Raw), prop) != nil {
				prop = new(jsonschema.Schema)
			}
			s.Properties.Set(key.String(), prop)
			return true
		})
	}

	for _, r := range res.Get("required").Array() {
		if r.Type == gjson.String {
			s.Required = append(s.Required, r.String())
		}
	}
	return s
}
