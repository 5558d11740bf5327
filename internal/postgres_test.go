package internal_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/amps-engagement/internal"
	"github.com/koopa0/amps-engagement/internal/testutils"
	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// TestStore_AmpLifecycle 貼文的建立、查詢、刪除
func TestStore_AmpLifecycle(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	store := internal.NewStore(env.PostgresPool, env.Logger)
	ctx := context.Background()

	authorID := env.SeedUser(t, "author")

	amp, err := store.CreateAmp(ctx, authorID, "first post")
	require.NoError(t, err)
	require.NotEmpty(t, amp.ID)
	assert.False(t, amp.CreatedAt.IsZero())

	exists, err := store.AmpExists(ctx, amp.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	found, err := store.FindAmp(ctx, amp.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "first post", found.Content)
	assert.Equal(t, authorID, found.AuthorID)

	require.NoError(t, store.DeleteAmp(ctx, amp.ID))

	exists, err = store.AmpExists(ctx, amp.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	found, err = store.FindAmp(ctx, amp.ID)
	require.NoError(t, err)
	assert.Nil(t, found, "absent amp must be nil, not an error")

	err = store.DeleteAmp(ctx, amp.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

// TestStore_Comments 留言的耐久寫入與對帳計數
func TestStore_Comments(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	store := internal.NewStore(env.PostgresPool, env.Logger)
	ctx := context.Background()

	authorID := env.SeedUser(t, "author")
	ampID := env.SeedAmp(t, authorID, "post")

	c1, err := store.CreateComment(ctx, ampID, authorID, "nice")
	require.NoError(t, err)
	_, err = store.CreateComment(ctx, ampID, authorID, "great")
	require.NoError(t, err)

	count, err := store.CountComments(ctx, ampID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	gotAmpID, err := store.DeleteComment(ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, ampID, gotAmpID, "delete must report the owning amp for cache adjustment")

	count, err = store.CountComments(ctx, ampID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = store.DeleteComment(ctx, c1.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

// TestStore_CommentsCascadeWithAmp 貼文刪除串聯刪除留言
func TestStore_CommentsCascadeWithAmp(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	store := internal.NewStore(env.PostgresPool, env.Logger)
	ctx := context.Background()

	authorID := env.SeedUser(t, "author")
	ampID := env.SeedAmp(t, authorID, "post")

	comment, err := store.CreateComment(ctx, ampID, authorID, "hello")
	require.NoError(t, err)

	require.NoError(t, store.DeleteAmp(ctx, ampID))

	_, err = store.DeleteComment(ctx, comment.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

// TestStore_GetUser 使用者查詢含 JSONB 欄位
func TestStore_GetUser(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	store := internal.NewStore(env.PostgresPool, env.Logger)
	ctx := context.Background()

	userID := env.SeedUser(t, "itsdrvgo")

	user, err := store.GetUser(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "itsdrvgo", user.Username)
	assert.NotNil(t, user.Socials, "snapshot validation requires non-nil socials")
	assert.NotNil(t, user.Education, "snapshot validation requires non-nil education")
	assert.NoError(t, user.Validate(), "a fresh source read must pass snapshot validation")

	missing, err := store.GetUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestStore_CreateUserUniqueUsername 唯一約束是名稱的最終權威
func TestStore_CreateUserUniqueUsername(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	store := internal.NewStore(env.PostgresPool, env.Logger)
	ctx := context.Background()

	env.SeedUser(t, "itsdrvgo")

	dup := &internal.CachedUser{
		ID:        "dup-user",
		Name:      "Dup",
		Username:  "itsdrvgo",
		Email:     "dup@example.com",
		Socials:   []internal.Social{},
		Education: []internal.Education{},
	}
	err := store.CreateUser(ctx, dup)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

// TestStore_UpdateUsername 改名回傳舊名，撞名轉為 Conflict
func TestStore_UpdateUsername(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	store := internal.NewStore(env.PostgresPool, env.Logger)
	ctx := context.Background()

	userID := env.SeedUser(t, "oldname")
	env.SeedUser(t, "takenname")

	old, err := store.UpdateUsername(ctx, userID, "freshname")
	require.NoError(t, err)
	assert.Equal(t, "oldname", old)

	// 目標名稱已被佔用：唯一約束擋下，浮現 Conflict
	_, err = store.UpdateUsername(ctx, userID, "takenname")
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	// 不存在的使用者
	_, err = store.UpdateUsername(ctx, "ghost", "whatever")
	assert.True(t, apperrors.IsNotFound(err))
}

// TestStore_DeleteUserReturnsUsername 刪除帳號回傳被釋放的名稱
func TestStore_DeleteUserReturnsUsername(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	store := internal.NewStore(env.PostgresPool, env.Logger)
	ctx := context.Background()

	userID := env.SeedUser(t, "leaver")

	username, err := store.DeleteUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "leaver", username)

	_, err = store.DeleteUser(ctx, userID)
	assert.True(t, apperrors.IsNotFound(err))
}

// TestStore_ListUsernames 名稱集合重建的來源名單
func TestStore_ListUsernames(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	store := internal.NewStore(env.PostgresPool, env.Logger)
	ctx := context.Background()

	env.SeedUser(t, "alpha")
	env.SeedUser(t, "beta")
	env.SeedUser(t, "gamma")

	usernames, err := store.ListUsernames(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, usernames)
}
