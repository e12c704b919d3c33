package openai

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/pkg/llms/openai/internal/openaiclient"
	"github.com/effective-security/x/values"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

// ErrEmptyResponse is returned when the API returns no choices.
var ErrEmptyResponse = openaiclient.ErrEmptyResponse

type LLM struct {
	client *openaiclient.Client
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI compatible LLM.
func New(opts ...Option) (*LLM, error) {
	o := &options{
		token:        os.Getenv(tokenEnvVarName),
		model:        os.Getenv(modelEnvVarName),
		baseURL:      values.StringsCoalesce(os.Getenv(baseURLEnvVarName), os.Getenv(baseAPIBaseEnvVarName)),
		organization: os.Getenv(organizationEnvVarName),
		provider:     ProviderOpenAI,
		apiVersion:   DefaultAPIVersion,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.token == "" {
		return nil, errors.Errorf("openai: missing API key, set it in the %s environment variable", tokenEnvVarName)
	}
	if openaiclient.IsAzure(openaiclient.ProviderType(o.provider)) && o.model == "" {
		return nil, errors.New("openai: model is required for Azure deployments")
	}

	return &LLM{
		client: openaiclient.New(
			openaiclient.ProviderType(o.provider),
			o.model,
			o.token,
			o.baseURL,
			o.organization,
			o.apiVersion,
			o.httpClient,
		),
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return values.StringsCoalesce(o.client.Model, openaiclient.DefaultChatModel)
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	if openaiclient.IsAzure(o.client.Provider) {
		return llms.ProviderAzure
	}
	return llms.ProviderOpenAI
}

// GenerateContent implements the Model interface.
// The tools field is sent only when tools are provided.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)

	chatMsgs, err := ChatMessages(messages)
	if err != nil {
		return nil, err
	}

	req := &openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(opts.Model),
		Messages: chatMsgs,
	}
	if opts.Temperature > 0 {
		req.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		req.TopP = openai.Float(opts.TopP)
	}
	if opts.MaxTokens > 0 {
		req.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Seed != 0 {
		req.Seed = openai.Int(int64(opts.Seed))
	}
	if len(opts.StopWords) > 0 {
		req.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}
	if len(opts.Tools) > 0 {
		req.Tools = Tools(opts.Tools)
		if choice, ok := opts.ToolChoice.(string); ok && choice != "" {
			req.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(choice)}
		}
	}

	result, err := o.client.CreateChat(ctx, req)
	if err != nil {
		return nil, err
	}

	choices := make([]*llms.ContentChoice, len(result.Choices))
	for i, c := range result.Choices {
		choices[i] = &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: c.FinishReason,
		}
		if i == 0 {
			choices[i].GenerationInfo = map[string]any{
				llms.InfoInputTokens:  result.Usage.PromptTokens,
				llms.InfoOutputTokens: result.Usage.CompletionTokens,
				llms.InfoTotalTokens:  result.Usage.TotalTokens,
				"ReasoningTokens":     result.Usage.CompletionTokensDetails.ReasoningTokens,
			}
		}
		for _, tool := range c.Message.ToolCalls {
			choices[i].ToolCalls = append(choices[i].ToolCalls, llms.ToolCall{
				ID:   tool.ID,
				Type: values.StringsCoalesce(tool.Type, "function"),
				FunctionCall: &llms.FunctionCall{
					Name:      tool.Function.Name,
					Arguments: tool.Function.Arguments,
				},
			})
		}
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

// ChatMessages converts messages to chat completion messages.
// A tool message must carry exactly one ToolCallResponse.
func ChatMessages(messages []llms.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	list := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, mc := range messages {
		switch mc.Role {
		case llms.RoleSystem:
			list = append(list, openai.SystemMessage(textOf(mc)))
		case llms.RoleHuman:
			list = append(list, openai.UserMessage(textOf(mc)))
		case llms.RoleAI:
			list = append(list, assistantMessage(mc))
		case llms.RoleTool:
			if len(mc.Parts) != 1 {
				return nil, errors.Errorf("expected exactly one part for role %v, got %v", mc.Role, len(mc.Parts))
			}
			p, ok := mc.Parts[0].(llms.ToolCallResponse)
			if !ok {
				return nil, errors.Errorf("expected part of type ToolCallResponse for role %v, got %T", mc.Role, mc.Parts[0])
			}
			list = append(list, openai.ToolMessage(p.Content, p.ToolCallID))
		default:
			return nil, errors.Errorf("role %v not supported", mc.Role)
		}
	}
	return list, nil
}

// assistantMessage keeps content null when the message only carries tool calls
func assistantMessage(mc llms.Message) openai.ChatCompletionMessageParamUnion {
	msg := &openai.ChatCompletionAssistantMessageParam{}
	if text := textOf(mc); text != "" {
		msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
	}
	for _, tc := range mc.ToolCalls() {
		fn := openai.ChatCompletionMessageFunctionToolCallFunctionParam{}
		if tc.FunctionCall != nil {
			fn.Name = tc.FunctionCall.Name
			fn.Arguments = tc.FunctionCall.Arguments
		}
		msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID:       tc.ID,
				Function: fn,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: msg}
}

func textOf(mc llms.Message) string {
	var text string
	for _, part := range mc.Parts {
		if tc, ok := part.(llms.TextContent); ok {
			text += tc.Text
		}
	}
	return text
}

// Tools converts tool definitions to chat completion function tools.
func Tools(tools []llms.Tool) []openai.ChatCompletionToolUnionParam {
	list := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		def := shared.FunctionDefinitionParam{
			Name:       t.Function.Name,
			Parameters: shared.FunctionParameters(t.Function.ParametersMap()),
		}
		if t.Function.Description != "" {
			def.Description = openai.String(t.Function.Description)
		}
		if t.Function.Strict {
			def.Strict = openai.Bool(true)
		}
		list = append(list, openai.ChatCompletionFunctionTool(def))
	}
	return list
}
