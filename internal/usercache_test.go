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
	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// stubUserSource 測試用的來源資料庫替身，記錄被查詢的次數與收到的 context
type stubUserSource struct {
	users   map[string]*internal.CachedUser
	calls   int
	lastCtx context.Context
}

func (s *stubUserSource) GetUser(ctx context.Context, userID string) (*internal.CachedUser, error) {
	s.calls++
	s.lastCtx = ctx
	return s.users[userID], nil
}

func validUser(id string) *internal.CachedUser {
	now := time.Now().UTC().Truncate(time.Second)
	return &internal.CachedUser{
		ID:        id,
		Name:      "Dev",
		Username:  "itsdrvgo",
		Email:     "dev@example.com",
		Socials:   []internal.Social{{Platform: "x", URL: "https://x.com/itsdrvgo"}},
		Education: []internal.Education{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestUserCache_MissRebuildsFromSource 未命中時從來源重建並回填
func TestUserCache_MissRebuildsFromSource(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	source := &stubUserSource{users: map[string]*internal.CachedUser{
		"u1": validUser("u1"),
	}}
	cache := internal.NewUserCache(env.RedisClient, source, env.Logger)
	ctx := context.Background()

	got, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "itsdrvgo", got.Username)
	assert.Equal(t, 1, source.calls)

	// 第二次讀取命中快取，不再查來源
	got, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, source.calls, "cache hit must not reach the source")
}

// TestUserCache_InvalidSnapshotSelfHeals 舊結構的快照在讀取時自動重建
func TestUserCache_InvalidSnapshotSelfHeals(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	source := &stubUserSource{users: map[string]*internal.CachedUser{
		"u1": validUser("u1"),
	}}
	cache := internal.NewUserCache(env.RedisClient, source, env.Logger)
	ctx := context.Background()

	// 直接塞入一筆缺少必要欄位的舊快照（schema 遷移前的結構）
	stale, err := json.Marshal(map[string]any{
		"id":   "u1",
		"name": "Dev",
	})
	require.NoError(t, err)
	require.NoError(t, env.RedisClient.Set(ctx, internal.UserKey("u1"), stale, 0).Err())

	got, err := cache.Get(ctx, "u1")
	require.NoError(t, err, "invalid snapshot must never surface as an error")
	require.NotNil(t, got)
	assert.Equal(t, "dev@example.com", got.Email, "caller must receive the rebuilt record")
	assert.Equal(t, 1, source.calls)

	// 回填後下次讀取直接命中
	_, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
}

// TestUserCache_CorruptJSONSelfHeals 壞掉的 JSON 同樣視同未命中
func TestUserCache_CorruptJSONSelfHeals(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	source := &stubUserSource{users: map[string]*internal.CachedUser{
		"u1": validUser("u1"),
	}}
	cache := internal.NewUserCache(env.RedisClient, source, env.Logger)
	ctx := context.Background()

	require.NoError(t, env.RedisClient.Set(ctx, internal.UserKey("u1"), "{not-json", 0).Err())

	got, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)
}

// TestUserCache_RebuildDetachedFromCallerCancel 重建查詢不繼承呼叫者的取消
//
// 合併後的重建服務所有等待者，第一個呼叫者取消不能讓整批失敗。
func TestUserCache_RebuildDetachedFromCallerCancel(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	source := &stubUserSource{users: map[string]*internal.CachedUser{
		"u1": validUser("u1"),
	}}
	cache := internal.NewUserCache(env.RedisClient, source, env.Logger)

	ctx, cancel := context.WithCancel(context.Background())

	got, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, source.lastCtx)

	// 呼叫者事後取消，來源查詢用的 context 不受影響
	cancel()
	assert.NoError(t, source.lastCtx.Err(), "source fetch context must not carry the caller's cancellation")
}

// TestUserCache_NotFound 來源也查不到時回傳 nil 而非錯誤
func TestUserCache_NotFound(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	source := &stubUserSource{users: map[string]*internal.CachedUser{}}
	cache := internal.NewUserCache(env.RedisClient, source, env.Logger)

	got, err := cache.Get(context.Background(), "ghost")
	require.NoError(t, err, "absent user is not an error")
	assert.Nil(t, got)
}

// TestUserCache_PutRejectsInvalid Put 不接受結構不完整的快照
func TestUserCache_PutRejectsInvalid(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	cache := internal.NewUserCache(env.RedisClient, &stubUserSource{}, env.Logger)

	err := cache.Put(context.Background(), &internal.CachedUser{ID: "u1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsSchemaInvalid(err))
}

// TestUserCache_PutAndDelete 覆寫與刪除
func TestUserCache_PutAndDelete(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	source := &stubUserSource{users: map[string]*internal.CachedUser{}}
	cache := internal.NewUserCache(env.RedisClient, source, env.Logger)
	ctx := context.Background()

	user := validUser("u1")
	require.NoError(t, cache.Put(ctx, user))

	got, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.Email, got.Email)
	assert.Equal(t, 0, source.calls, "put must be readable without touching the source")

	require.NoError(t, cache.Delete(ctx, "u1"))

	// 刪除後讀取回到來源（來源沒有 → nil）
	got, err = cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, source.calls)
}
