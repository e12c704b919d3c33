package llms_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextParts(t *testing.T) {
	t.Parallel()
	mc := llms.MessageFromTextParts(llms.RoleHuman, "a", "b", "c")
	assert.Equal(t, llms.Message{
		Role:  llms.RoleHuman,
		Parts: []llms.ContentPart{llms.TextPart("a"), llms.TextPart("b"), llms.TextPart("c")},
	}, mc)
	assert.Equal(t, "a\nb\nc\n", mc.GetContent())
}

func Test_Message_JSON(t *testing.T) {
	t.Parallel()
	call := llms.ToolCall{
		ID:   "call_1",
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      "getWeather",
			Arguments: `{"city":"Paris"}`,
		},
	}
	tests := []struct {
		name    string
		msg     llms.Message
		js      string
		content string
	}{
		{
			"text",
			llms.MessageFromTextParts(llms.RoleHuman, "a", "b"),
			`{"role":"human","parts":[{"text":"a","type":"text"},{"text":"b","type":"text"}]}`,
			"a\nb\n",
		},
		{
			"tool call",
			llms.MessageFromToolCalls(llms.RoleAI, call),
			`{"role":"ai","parts":[{"type":"tool_call","tool_call":{"id":"call_1","type":"function","function":{"name":"getWeather","arguments":"{\"city\":\"Paris\"}"}}}]}`,
			"Tool Call: " + `{"type":"tool_call","tool_call":{"id":"call_1","type":"function","function":{"name":"getWeather","arguments":"{\"city\":\"Paris\"}"}}}` + "\n",
		},
		{
			"tool response",
			llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: "call_1",
				Name:       "getWeather",
				Content:    "Sunny, 22C",
			}),
			`{"role":"tool","parts":[{"type":"tool_response","tool_response":{"tool_call_id":"call_1","name":"getWeather","content":"Sunny, 22C"}}]}`,
			"Response: " + `{"type":"tool_response","tool_response":{"tool_call_id":"call_1","name":"getWeather","content":"Sunny, 22C"}}` + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			js, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.js, string(js))
			assert.Equal(t, tt.content, tt.msg.GetContent())

			var msg llms.Message
			require.NoError(t, json.Unmarshal(js, &msg))
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func Test_Message_UnmarshalErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		js  string
		err string
	}{
		{`nope`, "invalid character 'o' in literal null (expecting 'u')"},
		{`{"parts":[]}`, "missing role field in Message"},
		{`{"role":"ai","parts":{}}`, "parts field must be an array"},
		{`{"role":"ai","parts":[{"type":"video"}]}`, "unknown content type: 'video'"},
		{`{"role":"ai","parts":[{"type":"tool_call"}]}`, "tool_call field is required for tool_call type"},
		{`{"role":"ai","parts":[{"type":"tool_call","tool_call":{"type":"function"}}]}`, "missing id field in ToolCall"},
		{`{"role":"tool","parts":[{"type":"tool_response","tool_response":{"name":"x"}}]}`, "missing tool_call_id field in ToolCallResponse"},
	}
	for _, tt := range tests {
		var msg llms.Message
		assert.EqualError(t, json.Unmarshal([]byte(tt.js), &msg), tt.err, tt.js)
	}

	var msg llms.Message
	assert.EqualError(t, msg.UnmarshalJSON([]byte("nope")), "invalid message JSON")
}

func TestMessage_ToolCalls(t *testing.T) {
	t.Parallel()
	msg := llms.MessageFromParts(llms.RoleAI,
		llms.TextPart("thinking"),
		llms.ToolCall{ID: "1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "a"}},
		llms.ToolCall{ID: "2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "b"}},
	)
	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "1", calls[0].ID)
	assert.Equal(t, "ToolCall: 2 (b), input: ", calls[1].String())
	assert.Empty(t, llms.MessageFromTextParts(llms.RoleHuman, "x").ToolCalls())
}

func TestContentResponse_Usage(t *testing.T) {
	t.Parallel()
	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{GenerationInfo: map[string]any{llms.InfoInputTokens: 10, llms.InfoOutputTokens: 5, llms.InfoTotalTokens: 15}},
			{GenerationInfo: map[string]any{llms.InfoInputTokens: int64(1)}},
			{},
		},
	}
	in, out, total := resp.Usage()
	assert.Equal(t, int64(11), in)
	assert.Equal(t, int64(5), out)
	assert.Equal(t, int64(15), total)
}

func TestProviderCapabilities(t *testing.T) {
	t.Parallel()
	assert.True(t, llms.ProviderOpenAI.Supports(llms.CapabilityFunctionCalling))
	assert.True(t, llms.ProviderAnthropic.Supports(llms.CapabilityFunctionCalling))
	assert.False(t, llms.ProviderType("UNKNOWN").Supports(llms.CapabilityText))
}
