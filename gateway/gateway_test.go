package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/mocks/mockllms"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var weatherTools = []llms.Tool{
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "getWeather",
			Description: "Get the weather for a city",
		},
	},
}

func newModel(t *testing.T, provider llms.ProviderType) *mockllms.MockModel {
	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetProviderType().Return(provider).AnyTimes()
	m.EXPECT().GetName().Return("qwen-plus").AnyTimes()
	return m
}

func TestComplete_Content(t *testing.T) {
	m := newModel(t, llms.ProviderOpenAI)
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msgs []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
			opts := llms.NewCallOptions(options...)
			assert.Empty(t, opts.Tools)
			assert.Equal(t, "qwen-max", opts.Model)
			assert.Equal(t, 0.2, opts.Temperature)
			assert.Equal(t, 512, opts.MaxTokens)
			require.Len(t, msgs, 1)
			return &llms.ContentResponse{Choices: []*llms.ContentChoice{
				{
					Content:    "Hi there!",
					StopReason: "stop",
					GenerationInfo: map[string]any{
						llms.InfoInputTokens:  10,
						llms.InfoOutputTokens: 3,
						llms.InfoTotalTokens:  13,
					},
				},
			}}, nil
		})

	gw := gateway.New(m,
		gateway.WithModelName("qwen-max"),
		gateway.WithTemperature(0.2),
		gateway.WithMaxTokens(512),
	)
	assert.Same(t, m, gw.Model())
	assert.Equal(t, "qwen-max", gw.ModelName())

	reply, err := gw.Complete(context.Background(), session.NewWithQuery("", "Hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply.Content)
	assert.False(t, reply.HasToolCalls())
	assert.Equal(t, "stop", reply.StopReason)
	assert.EqualValues(t, 10, reply.InputTokens)
	assert.EqualValues(t, 3, reply.OutputTokens)
}

func TestComplete_ToolCalls(t *testing.T) {
	m := newModel(t, llms.ProviderAnthropic)
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
			opts := llms.NewCallOptions(options...)
			assert.Equal(t, weatherTools, opts.Tools)
			assert.Equal(t, "qwen-plus", opts.Model)
			// one choice per content block
			return &llms.ContentResponse{Choices: []*llms.ContentChoice{
				{Content: "Let me check."},
				{ToolCalls: []llms.ToolCall{{ID: "a", Type: "function", FunctionCall: &llms.FunctionCall{Name: "getWeather", Arguments: `{"city":"Paris"}`}}}},
				{ToolCalls: []llms.ToolCall{{ID: "b", Type: "function", FunctionCall: &llms.FunctionCall{Name: "getWeather", Arguments: `{"city":"Rome"}`}}}},
			}}, nil
		})

	reply, err := gateway.New(m).Complete(context.Background(), session.NewWithQuery("", "Weather?"), weatherTools)
	require.NoError(t, err)
	assert.Equal(t, "Let me check.", reply.Content)
	require.True(t, reply.HasToolCalls())
	require.Len(t, reply.ToolCalls, 2)
	assert.Equal(t, "a", reply.ToolCalls[0].ID)
	assert.Equal(t, "b", reply.ToolCalls[1].ID)
}

func TestComplete_Errors(t *testing.T) {
	t.Run("model error", func(t *testing.T) {
		m := newModel(t, llms.ProviderOpenAI)
		m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("API returned unexpected status code: 401")).Times(1)

		_, err := gateway.New(m).Complete(context.Background(), session.NewWithQuery("", "Hello"), weatherTools)
		var gerr *gateway.ModelGatewayError
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, "OPENAI", gerr.Provider)
		assert.Equal(t, "qwen-plus", gerr.Model)
		assert.EqualError(t, err, "model call failed: API returned unexpected status code: 401")
	})

	t.Run("no choices", func(t *testing.T) {
		m := newModel(t, llms.ProviderOpenAI)
		m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(&llms.ContentResponse{}, nil)

		_, err := gateway.New(m).Complete(context.Background(), session.NewWithQuery("", "Hello"), nil)
		var gerr *gateway.ModelGatewayError
		require.True(t, errors.As(err, &gerr))
		assert.True(t, errors.Is(err, gateway.ErrNoChoices))
	})

	t.Run("timeout", func(t *testing.T) {
		m := newModel(t, llms.ProviderOpenAI)
		m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})

		_, err := gateway.New(m, gateway.WithTimeout(50*time.Millisecond)).
			Complete(context.Background(), session.NewWithQuery("", "Hello"), nil)
		var gerr *gateway.ModelGatewayError
		require.True(t, errors.As(err, &gerr))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("no function calling", func(t *testing.T) {
		m := newModel(t, llms.ProviderType("PLAIN"))
		_, err := gateway.New(m).Complete(context.Background(), session.NewWithQuery("", "Hello"), weatherTools)
		var gerr *gateway.ModelGatewayError
		require.True(t, errors.As(err, &gerr))
		assert.EqualError(t, err, "model call failed: PLAIN does not support function calling")
	})
}
