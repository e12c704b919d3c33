package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// Parts are encoded with a "type" discriminator:
//
//	{"type":"text","text":"..."}
//	{"type":"tool_call","tool_call":{"id":"...","type":"function","function":{...}}}
//	{"type":"tool_response","tool_response":{"tool_call_id":"...","name":"...","content":"..."}}

type toolCallJSON struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	FunctionCall *FunctionCall `json:"function,omitempty"`
}

type toolResponseJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// MarshalJSON implements json.Marshaler for TextContent
func (tc TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{
		Type: "text",
		Text: tc.Text,
	})
}

// MarshalJSON implements json.Marshaler for ToolCall
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		ToolCall toolCallJSON `json:"tool_call"`
	}{
		Type:     "tool_call",
		ToolCall: toolCallJSON(tc),
	})
}

// MarshalJSON implements json.Marshaler for ToolCallResponse
func (tc ToolCallResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string           `json:"type"`
		ToolResponse toolResponseJSON `json:"tool_response"`
	}{
		Type:         "tool_response",
		ToolResponse: toolResponseJSON(tc),
	})
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("invalid message JSON")
	}
	res := gjson.ParseBytes(data)
	role := res.Get("role")
	if !role.Exists() {
		return errors.New("missing role field in Message")
	}
	m.Role = Role(role.String())
	m.Parts = nil

	parts := res.Get("parts")
	if parts.Exists() && !parts.IsArray() {
		return errors.New("parts field must be an array")
	}

	var err error
	parts.ForEach(func(_, value gjson.Result) bool {
		var part ContentPart
		part, err = unmarshalContentPart(value)
		if err != nil {
			return false
		}
		m.Parts = append(m.Parts, part)
		return true
	})
	return err
}

func unmarshalContentPart(value gjson.Result) (ContentPart, error) {
	switch typ := value.Get("type").String(); typ {
	case "text", "":
		return TextContent{Text: value.Get("text").String()}, nil
	case "tool_call":
		raw := value.Get("tool_call")
		if !raw.IsObject() {
			return nil, errors.New("tool_call field is required for tool_call type")
		}
		var tc toolCallJSON
		if err := json.Unmarshal([]byte(raw.Raw), &tc); err != nil {
			return nil, errors.Wrap(err, "invalid tool_call")
		}
		if tc.ID == "" {
			return nil, errors.New("missing id field in ToolCall")
		}
		if tc.FunctionCall == nil {
			tc.FunctionCall = &FunctionCall{}
		}
		return ToolCall(tc), nil
	case "tool_response":
		raw := value.Get("tool_response")
		if !raw.IsObject() {
			return nil, errors.New("tool_response field is required for tool_response type")
		}
		var tr toolResponseJSON
		if err := json.Unmarshal([]byte(raw.Raw), &tr); err != nil {
			return nil, errors.Wrap(err, "invalid tool_response")
		}
		if tr.ToolCallID == "" {
			return nil, errors.New("missing tool_call_id field in ToolCallResponse")
		}
		return ToolCallResponse(tr), nil
	default:
		return nil, errors.Newf("unknown content type: '%s'", typ)
	}
}
