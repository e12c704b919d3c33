package gateway

import "github.com/effective-security/mcpbridge/pkg/llms"

// messagesSize is the number of content bytes sent to the model
func messagesSize(msgs []llms.Message) uint64 {
	var size int
	for _, m := range msgs {
		size += len(m.Role)
		for _, p := range m.Parts {
			switch part := p.(type) {
			case llms.TextContent:
				size += len(part.Text)
			case llms.ToolCall:
				size += toolCallSize(part)
			case llms.ToolCallResponse:
				size += len(part.ToolCallID) + len(part.Name) + len(part.Content)
			}
		}
	}
	return uint64(size)
}

// responseSize is the number of content bytes received from the model
func responseSize(resp *llms.ContentResponse) uint64 {
	var size int
	for _, c := range resp.Choices {
		size += len(c.Content)
		for _, tc := range c.ToolCalls {
			size += toolCallSize(tc)
		}
	}
	return uint64(size)
}

func toolCallSize(tc llms.ToolCall) int {
	size := len(tc.ID) + len(tc.Type)
	if tc.FunctionCall != nil {
		size += len(tc.FunctionCall.Name) + len(tc.FunctionCall.Arguments)
	}
	return size
}
