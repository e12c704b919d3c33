package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbridge/gateway"
	"github.com/effective-security/mcpbridge/mcp"
	"github.com/effective-security/mcpbridge/mcp/transport/localtransport"
	"github.com/effective-security/mcpbridge/mocks/mockllms"
	"github.com/effective-security/mcpbridge/orchestrator"
	"github.com/effective-security/mcpbridge/pkg/llms"
	"github.com/effective-security/mcpbridge/toolhost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newWeatherServer(t *testing.T) *localtransport.ClientTransport {
	t.Helper()
	srv := mcp.NewServer("weather", "1.0.0")
	require.NoError(t, srv.RegisterTool(weatherTool, func(_ context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		var in struct {
			City string `json:"city"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		if in.City == "Atlantis" {
			return nil, errors.New("city not found")
		}
		return mcp.NewTextResult("Sunny, 22C in " + in.City), nil
	}))

	local := localtransport.New()
	require.NoError(t, srv.Serve(local))
	t.Cleanup(func() { _ = srv.Close() })
	return localtransport.NewClient(local)
}

// echoModel calls getWeather for the city named in the question,
// then answers with the last tool result.
func echoModel(t *testing.T) *mockllms.MockModel {
	m := mockllms.NewMockModel(gomock.NewController(t))
	m.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	m.EXPECT().GetName().Return("qwen-plus").AnyTimes()
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msgs []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
			last := msgs[len(msgs)-1]
			if last.Role == llms.RoleTool {
				resp := last.Parts[0].(llms.ToolCallResponse)
				return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "Answer for " + resp.ToolCallID}}}, nil
			}
			city := last.Parts[0].(llms.TextContent).Text
			return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
				ToolCalls: []llms.ToolCall{{
					ID:           "call_" + city,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: "getWeather", Arguments: `{"city":"` + city + `"}`},
				}},
			}}}, nil
		}).AnyTimes()
	return m
}

func TestLocalHost(t *testing.T) {
	ctx := context.Background()
	conn := toolhost.New()
	require.NoError(t, conn.ConnectTransport(ctx, newWeatherServer(t)))

	o := orchestrator.New(conn, gateway.New(echoModel(t)))
	assert.Equal(t, []string{"getWeather"}, o.Tools().Names())

	answer, err := o.ProcessQuery(ctx, "Paris")
	require.NoError(t, err)
	assert.Equal(t, "Sunny, 22C in Paris\n\nAnswer for call_Paris", answer)

	_, err = o.ProcessQuery(ctx, "Atlantis")
	var ierr *toolhost.ToolInvocationError
	require.True(t, errors.As(err, &ierr))
	assert.EqualError(t, err, "tool getWeather failed: city not found")

	// independent queries share the connection
	cities := []string{"Oslo", "Rome", "Lima", "Cairo", "Quito", "Seoul"}
	answers := make([]string, len(cities))
	errs := make([]error, len(cities))
	var wg sync.WaitGroup
	for i, city := range cities {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answers[i], errs[i] = o.ProcessQuery(ctx, city)
		}()
	}
	wg.Wait()
	for i, city := range cities {
		require.NoError(t, errs[i])
		assert.Equal(t, "Sunny, 22C in "+city+"\n\nAnswer for call_"+city, answers[i])
	}

	require.NoError(t, o.Close())
	assert.Equal(t, toolhost.Closed, conn.State())
	require.NoError(t, o.Close())
	assert.Equal(t, toolhost.Closed, conn.State())

	_, err = o.ProcessQuery(ctx, "Paris")
	var serr *toolhost.IllegalStateError
	assert.True(t, errors.As(err, &serr))
}

func TestConnect_Unsupported(t *testing.T) {
	conn := toolhost.New()
	o := orchestrator.New(conn, gateway.New(echoModel(t)))

	err := o.Connect(context.Background(), "server.exe")
	var cerr *toolhost.ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.EqualError(t, err, `failed to connect to tool host "server.exe": unsupported tool host kind ".exe"`)
	assert.Equal(t, toolhost.Unconnected, conn.State())
	assert.Nil(t, conn.Locator())

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.Equal(t, toolhost.Closed, conn.State())
}
