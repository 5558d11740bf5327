package internal

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// 熱度記錄 hash 的欄位名稱
const (
	retentionFieldScore     = "score"
	retentionFieldRefreshed = "refreshed_at"
)

// Retention 一篇 amp 的熱度記錄
//
// score 是加權互動事件的累計值（可為負），供趨勢排序使用。
// 排序邏輯本身不在此服務內。
type Retention struct {
	Score         int64     `json:"score"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// RetentionStore 熱度分數儲存
//
// 熱度是軟信號：記錄自最近一次 Initialize 起存活固定時間（預設 1 小時），
// 到期被 Redis 逐出。遺失無妨，下一次互動事件會透過 Initialize 從頭重建。
//
// 已知不對稱：Adjust 只遞增分數、不重設過期時間，只有 Initialize 會。
// 持續有互動的貼文仍可能到期消失，下一筆互動再重建。
// 此行為由測試釘住（retention_test.go），改變前先看那裡。
type RetentionStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRetentionStore 創建熱度儲存
//
// ttl 為記錄的存活時間，生產配置為 1 小時，測試可縮短。
func NewRetentionStore(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RetentionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RetentionStore{rdb: rdb, ttl: ttl, logger: logger}
}

// Read 讀取熱度記錄，nil 表示不存在或已到期
func (s *RetentionStore) Read(ctx context.Context, ampID string) (*Retention, error) {
	fields, err := s.rdb.HGetAll(ctx, RetentionKey(ampID)).Result()
	if err != nil {
		s.logger.Error("read retention failed", "amp", ampID, "error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "read retention")
	}

	if len(fields) == 0 {
		return nil, nil
	}

	return parseRetention(fields), nil
}

// Initialize 建立熱度記錄並設定過期時間
func (s *RetentionStore) Initialize(ctx context.Context, ampID string, score int64) error {
	key := RetentionKey(ampID)

	// HSET 與 EXPIRE 合併為一次往返
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		retentionFieldScore:     score,
		retentionFieldRefreshed: time.Now().UnixMilli(),
	})
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("initialize retention failed", "amp", ampID, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "initialize retention")
	}

	return nil
}

// EnqueueAdjust 將分數調整排入 pipeline
//
// 注意：只調整分數，不重設過期時間（見型別註解的不對稱說明）。
func (s *RetentionStore) EnqueueAdjust(ctx context.Context, cmd redis.Cmdable, ampID string, delta int64) {
	cmd.HIncrBy(ctx, RetentionKey(ampID), retentionFieldScore, delta)
}

// Delete 刪除熱度記錄（貼文刪除時）
func (s *RetentionStore) Delete(ctx context.Context, ampID string) error {
	if err := s.rdb.Del(ctx, RetentionKey(ampID)).Err(); err != nil {
		s.logger.Error("delete retention failed", "amp", ampID, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "delete retention")
	}
	return nil
}

// parseRetention 將 HGETALL 結果解析為 Retention
func parseRetention(fields map[string]string) *Retention {
	r := &Retention{}
	if raw, ok := fields[retentionFieldScore]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			r.Score = v
		}
	}
	if raw, ok := fields[retentionFieldRefreshed]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			r.LastRefreshed = time.UnixMilli(ms)
		}
	}
	return r
}
