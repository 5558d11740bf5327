package internal

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// UsernameCache 使用者名稱唯一性快取
//
// 全站已佔用的使用者名稱放在單一 Redis set，註冊與改名表單用它做
// 快速存在性檢查。僅供參考（advisory）：權威是 PostgreSQL 的唯一約束，
// 這裡說「可用」但實際被佔用時，必須由資料庫層以 Conflict 擋下，
// 不能靜默接受。
type UsernameCache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewUsernameCache 創建使用者名稱快取
func NewUsernameCache(rdb *redis.Client, logger *slog.Logger) *UsernameCache {
	return &UsernameCache{rdb: rdb, logger: logger}
}

// Exists 檢查名稱是否已被佔用
func (c *UsernameCache) Exists(ctx context.Context, username string) (bool, error) {
	taken, err := c.rdb.SIsMember(ctx, UsernameSetKey(), username).Result()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "username check")
	}
	return taken, nil
}

// Add 佔用一個名稱（註冊）
func (c *UsernameCache) Add(ctx context.Context, username string) error {
	if err := c.rdb.SAdd(ctx, UsernameSetKey(), username).Err(); err != nil {
		c.logger.Error("username add failed", "username", username, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "username add")
	}
	return nil
}

// Remove 釋放一個名稱（帳號刪除）
func (c *UsernameCache) Remove(ctx context.Context, username string) error {
	if err := c.rdb.SRem(ctx, UsernameSetKey(), username).Err(); err != nil {
		c.logger.Error("username remove failed", "username", username, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "username remove")
	}
	return nil
}

// Rename 改名：移除舊名並加入新名
//
// 兩個操作合併為一次 pipeline，彼此相對原子（同一批次送達），
// 但不保證與其他併發改名之間的順序。
func (c *UsernameCache) Rename(ctx context.Context, oldUsername, newUsername string) error {
	pipe := c.rdb.Pipeline()
	pipe.SRem(ctx, UsernameSetKey(), oldUsername)
	pipe.SAdd(ctx, UsernameSetKey(), newUsername)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("username rename failed",
			"old", oldUsername,
			"new", newUsername,
			"error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "username rename")
	}
	return nil
}

// Rebuild 從來源資料庫的完整名單重建集合
//
// 先刪掉整個集合再分批 SADD，每批 100 個名稱一次往返。
func (c *UsernameCache) Rebuild(ctx context.Context, usernames []string) error {
	if err := c.rdb.Del(ctx, UsernameSetKey()).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "username rebuild")
	}

	const batchSize = 100

	pipe := c.rdb.Pipeline()
	count := 0

	for _, name := range usernames {
		pipe.SAdd(ctx, UsernameSetKey(), name)
		count++

		if count%batchSize == 0 {
			if _, err := pipe.Exec(ctx); err != nil {
				c.logger.Error("username rebuild batch failed", "error", err)
				return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "username rebuild")
			}
			pipe = c.rdb.Pipeline()
		}
	}

	if count%batchSize != 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Error("username rebuild final batch failed", "error", err)
			return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "username rebuild")
		}
	}

	c.logger.Info("username set rebuilt", "count", count)
	return nil
}
