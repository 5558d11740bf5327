package internal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/amps-engagement/internal"
	"github.com/koopa0/amps-engagement/internal/testutils"
)

// TestBatchReader_PositionalResults 結果依排入順序定位，互不混淆
func TestBatchReader_PositionalResults(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	counters := internal.NewCounterStore(env.RedisClient, env.Logger)
	membership := internal.NewMembershipStore(env.RedisClient, env.Logger)
	retention := internal.NewRetentionStore(env.RedisClient, time.Hour, env.Logger)

	require.NoError(t, counters.Initialize(ctx, "amp1", &internal.Counters{Likes: 3, Views: 50}))
	require.NoError(t, counters.Initialize(ctx, "amp2", &internal.Counters{Likes: 7}))
	require.NoError(t, retention.Initialize(ctx, "amp1", 30))
	require.NoError(t, membership.Add(ctx, "amp1", internal.RelationLikes, "userA"))

	// 交錯排入不同貼文、不同關注點的讀取
	reader := internal.NewBatchReader(env.RedisClient)
	c1 := reader.Counters(ctx, "amp1")
	m1 := reader.IsMember(ctx, "amp1", internal.RelationLikes, "userA")
	c2 := reader.Counters(ctx, "amp2")
	r1 := reader.Retention(ctx, "amp1")
	m2 := reader.IsMember(ctx, "amp2", internal.RelationLikes, "userA")

	require.NoError(t, reader.Exec(ctx))

	got1, err := reader.CountersAt(c1)
	require.NoError(t, err)
	require.NotNil(t, got1)
	assert.Equal(t, int64(3), got1.Likes)
	assert.Equal(t, int64(50), got1.Views)

	got2, err := reader.CountersAt(c2)
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, int64(7), got2.Likes)

	ret, err := reader.RetentionAt(r1)
	require.NoError(t, err)
	require.NotNil(t, ret)
	assert.Equal(t, int64(30), ret.Score)

	liked, err := reader.BoolAt(m1)
	require.NoError(t, err)
	assert.True(t, liked)

	liked, err = reader.BoolAt(m2)
	require.NoError(t, err)
	assert.False(t, liked)
}

// TestBatchReader_AbsentRecords 不存在的記錄定位為 nil，不影響其他位置
func TestBatchReader_AbsentRecords(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	counters := internal.NewCounterStore(env.RedisClient, env.Logger)
	require.NoError(t, counters.Initialize(ctx, "exists", &internal.Counters{Views: 1}))

	reader := internal.NewBatchReader(env.RedisClient)
	missing := reader.Counters(ctx, "missing")
	present := reader.Counters(ctx, "exists")
	retIdx := reader.Retention(ctx, "missing")

	require.NoError(t, reader.Exec(ctx))

	got, err := reader.CountersAt(missing)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = reader.CountersAt(present)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Views)

	ret, err := reader.RetentionAt(retIdx)
	require.NoError(t, err)
	assert.Nil(t, ret)
}

// TestBatchReader_Guards 未執行或越界的索引取用是錯誤
func TestBatchReader_Guards(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	reader := internal.NewBatchReader(env.RedisClient)
	idx := reader.Counters(ctx, "amp1")

	// 尚未 Exec
	_, err := reader.CountersAt(idx)
	assert.Error(t, err)

	require.NoError(t, reader.Exec(ctx))

	// 越界索引
	_, err = reader.CountersAt(idx + 1)
	assert.Error(t, err)
	_, err = reader.CountersAt(-1)
	assert.Error(t, err)
}
