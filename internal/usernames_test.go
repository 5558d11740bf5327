package internal_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/amps-engagement/internal"
	"github.com/koopa0/amps-engagement/internal/testutils"
)

// TestUsernameCache_Lifecycle 佔用、檢查、釋放的完整流程
func TestUsernameCache_Lifecycle(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	cache := internal.NewUsernameCache(env.RedisClient, env.Logger)
	ctx := context.Background()

	taken, err := cache.Exists(ctx, "itsdrvgo")
	require.NoError(t, err)
	assert.False(t, taken)

	require.NoError(t, cache.Add(ctx, "itsdrvgo"))

	taken, err = cache.Exists(ctx, "itsdrvgo")
	require.NoError(t, err)
	assert.True(t, taken, "registered name must report taken")

	// 帳號刪除釋放名稱
	require.NoError(t, cache.Remove(ctx, "itsdrvgo"))

	taken, err = cache.Exists(ctx, "itsdrvgo")
	require.NoError(t, err)
	assert.False(t, taken, "released name must be available again")
}

// TestUsernameCache_Rename 改名移除舊名並加入新名
func TestUsernameCache_Rename(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	cache := internal.NewUsernameCache(env.RedisClient, env.Logger)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, "oldname"))
	require.NoError(t, cache.Rename(ctx, "oldname", "newname"))

	taken, err := cache.Exists(ctx, "oldname")
	require.NoError(t, err)
	assert.False(t, taken)

	taken, err = cache.Exists(ctx, "newname")
	require.NoError(t, err)
	assert.True(t, taken)
}

// TestUsernameCache_Rebuild 以來源名單重建，涵蓋分批與殘批
func TestUsernameCache_Rebuild(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	cache := internal.NewUsernameCache(env.RedisClient, env.Logger)
	ctx := context.Background()

	// 舊集合裡有一個來源已不存在的名稱
	require.NoError(t, cache.Add(ctx, "ghost"))

	// 205 個名稱：兩個滿批加一個殘批
	names := make([]string, 0, 205)
	for i := 0; i < 205; i++ {
		names = append(names, fmt.Sprintf("user%03d", i))
	}

	require.NoError(t, cache.Rebuild(ctx, names))

	count, err := env.RedisClient.SCard(ctx, internal.UsernameSetKey()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(205), count)

	taken, err := cache.Exists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, taken, "rebuild must drop names absent from the source")

	taken, err = cache.Exists(ctx, "user204")
	require.NoError(t, err)
	assert.True(t, taken)
}
