package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// BatchReader 批量讀取協調器
//
// 把渲染單一頁面所需的多個獨立讀取（計數器、成員判斷、熱度）
// 排入同一個 pipeline，一次往返取回。結果依排入順序定位，
// 呼叫端用排入時取得的索引解構，不靠名稱。
//
// 這個元件純粹是把 N 次網路往返壓成 1 次，
// 不在個別操作的契約之上添加任何語義。
type BatchReader struct {
	pipe     redis.Pipeliner
	cmds     []redis.Cmder
	executed bool
}

// NewBatchReader 創建批量讀取器
func NewBatchReader(rdb *redis.Client) *BatchReader {
	return &BatchReader{pipe: rdb.Pipeline()}
}

// Counters 排入一篇 amp 的計數器讀取，回傳結果索引
func (b *BatchReader) Counters(ctx context.Context, ampID string) int {
	cmd := b.pipe.HGetAll(ctx, CounterKey(ampID))
	b.cmds = append(b.cmds, cmd)
	return len(b.cmds) - 1
}

// Retention 排入一篇 amp 的熱度讀取，回傳結果索引
func (b *BatchReader) Retention(ctx context.Context, ampID string) int {
	cmd := b.pipe.HGetAll(ctx, RetentionKey(ampID))
	b.cmds = append(b.cmds, cmd)
	return len(b.cmds) - 1
}

// IsMember 排入成員判斷，回傳結果索引
func (b *BatchReader) IsMember(ctx context.Context, ampID string, relation Relation, userID string) int {
	cmd := b.pipe.SIsMember(ctx, MembershipKey(ampID, relation), userID)
	b.cmds = append(b.cmds, cmd)
	return len(b.cmds) - 1
}

// Exec 執行 pipeline（一次往返）
//
// 執行後以各個 At 方法依索引取結果。
func (b *BatchReader) Exec(ctx context.Context) error {
	_, err := b.pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "batch read")
	}
	b.executed = true
	return nil
}

// CountersAt 取出索引位置的計數器結果，nil 表示記錄不存在
func (b *BatchReader) CountersAt(index int) (*Counters, error) {
	cmd, err := b.commandAt(index)
	if err != nil {
		return nil, err
	}

	hashCmd, ok := cmd.(*redis.MapStringStringCmd)
	if !ok {
		return nil, fmt.Errorf("batch result %d is not a hash read", index)
	}

	fields, err := hashCmd.Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "batch counters result")
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseCounters(fields), nil
}

// RetentionAt 取出索引位置的熱度結果，nil 表示記錄不存在或已到期
func (b *BatchReader) RetentionAt(index int) (*Retention, error) {
	cmd, err := b.commandAt(index)
	if err != nil {
		return nil, err
	}

	hashCmd, ok := cmd.(*redis.MapStringStringCmd)
	if !ok {
		return nil, fmt.Errorf("batch result %d is not a hash read", index)
	}

	fields, err := hashCmd.Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "batch retention result")
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseRetention(fields), nil
}

// BoolAt 取出索引位置的成員判斷結果
func (b *BatchReader) BoolAt(index int) (bool, error) {
	cmd, err := b.commandAt(index)
	if err != nil {
		return false, err
	}

	boolCmd, ok := cmd.(*redis.BoolCmd)
	if !ok {
		return false, fmt.Errorf("batch result %d is not a membership check", index)
	}

	v, err := boolCmd.Result()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "batch membership result")
	}
	return v, nil
}

func (b *BatchReader) commandAt(index int) (redis.Cmder, error) {
	if !b.executed {
		return nil, fmt.Errorf("batch not executed")
	}
	if index < 0 || index >= len(b.cmds) {
		return nil, fmt.Errorf("batch index %d out of range", index)
	}
	return b.cmds[index], nil
}
