package internal_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/amps-engagement/internal"
	"github.com/koopa0/amps-engagement/internal/testutils"
)

func eventUser(id, username string) map[string]any {
	now := time.Now().UTC().Format(time.RFC3339)
	return map[string]any{
		"id":         id,
		"name":       "Event User",
		"username":   username,
		"email":      username + "@example.com",
		"socials":    []any{},
		"education":  []any{},
		"created_at": now,
		"updated_at": now,
	}
}

// TestProfileEvents_UserUpdated 更新事件覆寫快照並佔用名稱
func TestProfileEvents_UserUpdated(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	source := &stubUserSource{users: map[string]*internal.CachedUser{}}
	users := internal.NewUserCache(env.RedisClient, source, env.Logger)
	usernames := internal.NewUsernameCache(env.RedisClient, env.Logger)
	events := internal.NewProfileEvents(users, usernames, env.Logger)
	ctx := context.Background()

	payload, err := json.Marshal(map[string]any{
		"user": eventUser("u1", "itsdrvgo"),
	})
	require.NoError(t, err)

	require.NoError(t, events.HandleUserUpdated(ctx, payload))

	got, err := users.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "itsdrvgo", got.Username)
	assert.Equal(t, 0, source.calls, "event payload must populate the cache directly")

	taken, err := usernames.Exists(ctx, "itsdrvgo")
	require.NoError(t, err)
	assert.True(t, taken)
}

// TestProfileEvents_UsernameRename 帶舊名的更新事件做 remove-old-add-new
func TestProfileEvents_UsernameRename(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	users := internal.NewUserCache(env.RedisClient, &stubUserSource{}, env.Logger)
	usernames := internal.NewUsernameCache(env.RedisClient, env.Logger)
	events := internal.NewProfileEvents(users, usernames, env.Logger)
	ctx := context.Background()

	require.NoError(t, usernames.Add(ctx, "oldname"))

	payload, err := json.Marshal(map[string]any{
		"user":         eventUser("u1", "newname"),
		"old_username": "oldname",
	})
	require.NoError(t, err)

	require.NoError(t, events.HandleUserUpdated(ctx, payload))

	taken, err := usernames.Exists(ctx, "oldname")
	require.NoError(t, err)
	assert.False(t, taken)

	taken, err = usernames.Exists(ctx, "newname")
	require.NoError(t, err)
	assert.True(t, taken)
}

// TestProfileEvents_UserDeleted 刪除事件移除快照並釋放名稱
func TestProfileEvents_UserDeleted(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	source := &stubUserSource{users: map[string]*internal.CachedUser{}}
	users := internal.NewUserCache(env.RedisClient, source, env.Logger)
	usernames := internal.NewUsernameCache(env.RedisClient, env.Logger)
	events := internal.NewProfileEvents(users, usernames, env.Logger)
	ctx := context.Background()

	// 先建立狀態
	setup, err := json.Marshal(map[string]any{"user": eventUser("u1", "itsdrvgo")})
	require.NoError(t, err)
	require.NoError(t, events.HandleUserUpdated(ctx, setup))

	payload, err := json.Marshal(map[string]any{
		"user_id":  "u1",
		"username": "itsdrvgo",
	})
	require.NoError(t, err)

	require.NoError(t, events.HandleUserDeleted(ctx, payload))

	got, err := users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got, "deleted user must fall through to the (empty) source")

	taken, err := usernames.Exists(ctx, "itsdrvgo")
	require.NoError(t, err)
	assert.False(t, taken)
}

// TestProfileEvents_MalformedPayloads 壞 payload 回傳錯誤、不改狀態
func TestProfileEvents_MalformedPayloads(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	users := internal.NewUserCache(env.RedisClient, &stubUserSource{}, env.Logger)
	usernames := internal.NewUsernameCache(env.RedisClient, env.Logger)
	events := internal.NewProfileEvents(users, usernames, env.Logger)
	ctx := context.Background()

	assert.Error(t, events.HandleUserUpdated(ctx, []byte("{not-json")))
	assert.Error(t, events.HandleUserUpdated(ctx, []byte(`{}`)), "missing user payload")
	assert.Error(t, events.HandleUserDeleted(ctx, []byte("{not-json")))

	// 結構不完整的使用者快照被 Put 的驗證擋下
	payload, err := json.Marshal(map[string]any{
		"user": map[string]any{"id": "u1"},
	})
	require.NoError(t, err)
	assert.Error(t, events.HandleUserUpdated(ctx, payload))
}
