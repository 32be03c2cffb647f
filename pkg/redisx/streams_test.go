package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCreateConsumerGroup_CreatesMissingStream(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	// 全新部署：stream 尚不存在，建组必须同时建出 stream
	require.NoError(t, CreateConsumerGroup(ctx, client, "test:stream", "test-group"))
	assert.True(t, mr.Exists("test:stream"))

	// 建组后立即可发布并按组读取
	_, err := PublishJSONToStream(ctx, client, "test:stream", map[string]string{"k": "v"})
	require.NoError(t, err)

	messages, err := ReadFromStream(ctx, client, "test:stream", "test-group", "consumer-1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].Values, "data")
}

func TestCreateConsumerGroup_ExistingGroupIsNoOp(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "test:stream", "test-group"))

	// 重复建组（服务重启）不报错
	assert.NoError(t, CreateConsumerGroup(ctx, client, "test:stream", "test-group"))
}

func TestAckMessage(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "test:stream", "test-group"))
	_, err := PublishJSONToStream(ctx, client, "test:stream", map[string]string{"k": "v"})
	require.NoError(t, err)

	messages, err := ReadFromStream(ctx, client, "test:stream", "test-group", "consumer-1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	assert.NoError(t, AckMessage(ctx, client, "test:stream", "test-group", messages[0].ID))

	pending, err := client.XPending(ctx, "test:stream", "test-group").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}
