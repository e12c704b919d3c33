package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/effective-security/mcpbridge/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	rediscon "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisStore(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	redisContainer, err := rediscon.Run(ctx, "redis:7",
		testcontainers.WithConfigModifier(func(config *container.Config) {
			config.Env = []string{
				"ALLOW_EMPTY_PASSWORD=yes",
			}
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, redisContainer.Terminate(ctx))
	})

	host, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := store.NewRedisClient(ctx, host)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	root := fmt.Sprintf("test-%d", time.Now().Unix())
	testStore(t, store.NewRedisStore(client, root, time.Hour))

	// other prefixes do not see the transcripts
	list, err := store.NewRedisStore(client, root+"-other", 0).List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// expired entries leave the index on the next save
	short := store.NewRedisStore(client, root+"-ttl", time.Minute)
	require.NoError(t, short.Save(ctx, newTranscript("old", time.Now().Add(-2*time.Minute))))
	require.NoError(t, short.Save(ctx, newTranscript("new", time.Now())))
	list, err = short.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, list)
}

func TestNewRedisClient_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := store.NewRedisClient(ctx, "http://localhost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid Redis URL")

	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = store.NewRedisClient(ctx, "redis://127.0.0.1:1/0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis at 127.0.0.1:1")
}
