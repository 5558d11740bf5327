package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// CachedUser 使用者資料的反正規化快照
//
// 這是前端渲染個人頁所需的完整欄位集，整筆以 JSON 存於單一 key。
// 欄位增減（schema 遷移）後，舊快照會在讀取時驗證失敗並被重建。
type CachedUser struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Username   string      `json:"username"`
	Email      string      `json:"email"`
	Image      string      `json:"image,omitempty"`
	Bio        string      `json:"bio,omitempty"`
	Category   string      `json:"category,omitempty"`
	Gender     string      `json:"gender,omitempty"`
	Socials    []Social    `json:"socials"`
	IsVerified bool        `json:"is_verified"`
	Resume     string      `json:"resume,omitempty"`
	Education  []Education `json:"education"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Social 社群連結
type Social struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// Education 學歷項目
type Education struct {
	School    string `json:"school"`
	Degree    string `json:"degree,omitempty"`
	StartYear int    `json:"start_year,omitempty"`
	EndYear   int    `json:"end_year,omitempty"`
}

// Validate 驗證快照結構是否完整
//
// 驗證失敗代表快取的是舊結構（schema 遷移前寫入），
// 該筆快照視同不存在，由來源資料庫重建。
func (u *CachedUser) Validate() error {
	if u.ID == "" || u.Username == "" || u.Email == "" {
		return apperrors.ErrSchemaInvalid
	}
	if u.CreatedAt.IsZero() || u.UpdatedAt.IsZero() {
		return apperrors.ErrSchemaInvalid
	}
	// schema 遷移後新增的欄位：舊快照缺少時為 nil
	if u.Socials == nil || u.Education == nil {
		return apperrors.ErrSchemaInvalid
	}
	return nil
}

// UserSource 使用者資料的來源（PostgreSQL）
//
// 回傳 (nil, nil) 表示使用者不存在，與來源不可用（error）是兩回事。
type UserSource interface {
	GetUser(ctx context.Context, userID string) (*CachedUser, error)
}

// UserCache 使用者資料的 read-through 快取
//
// 系統設計考量：
//
//  1. 失效觸發器是結構驗證，不是 TTL：
//     快取命中後先驗證結構，驗證失敗（schema 遷移後的舊快照）
//     視同未命中，自動從來源重建。Get 永遠不會把結構不完整的
//     記錄交給呼叫端。
//
//  2. 為什麼用 singleflight？
//     熱門使用者的快照被重建時，併發的 Get 會同時打到 PostgreSQL。
//     singleflight 把同一 key 的併發重建合併為一次查詢（防止快取擊穿）。
//
//  3. 「使用者不存在」不是錯誤：
//     來源也查不到時回傳 (nil, nil)，呼叫端視為 404。
//     與「快取暫時掛了」（error）必須區分。
type UserCache struct {
	rdb    *redis.Client
	source UserSource
	sf     singleflight.Group
	logger *slog.Logger
}

// NewUserCache 創建使用者快取
func NewUserCache(rdb *redis.Client, source UserSource, logger *slog.Logger) *UserCache {
	return &UserCache{rdb: rdb, source: source, logger: logger}
}

// Get 讀取使用者快照，必要時自我修復
func (c *UserCache) Get(ctx context.Context, userID string) (*CachedUser, error) {
	raw, err := c.rdb.Get(ctx, UserKey(userID)).Result()
	if err == nil {
		var user CachedUser
		if jsonErr := json.Unmarshal([]byte(raw), &user); jsonErr == nil {
			if user.Validate() == nil {
				return &user, nil
			}
		}
		// 結構驗證失敗：視同未命中，重建
		c.logger.Warn("cached user failed schema validation, rebuilding", "user", userID)
	} else if !errors.Is(err, redis.Nil) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "read user cache")
	}

	return c.rebuild(ctx, userID)
}

// rebuild 從來源資料庫重建快取項目
//
// 同一使用者的併發重建透過 singleflight 合併為一次來源查詢。
// 查詢用脫離取消的 context：合併後的重建服務所有等待者，
// 不能因第一個呼叫者中途取消而讓整批失敗。
func (c *UserCache) rebuild(ctx context.Context, userID string) (*CachedUser, error) {
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := c.sf.Do(userID, func() (any, error) {
		user, err := c.source.GetUser(fetchCtx, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			// 使用者不存在，不是錯誤
			return (*CachedUser)(nil), nil
		}

		if err := c.write(fetchCtx, user); err != nil {
			// 快取寫入失敗不影響回傳值，下次讀取再重建
			c.logger.Warn("rebuild cache write failed", "user", userID, "error", err)
		}

		return user, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*CachedUser), nil
}

// Put 無條件覆寫快取項目（個人資料更新、事件同步）
func (c *UserCache) Put(ctx context.Context, user *CachedUser) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return c.write(ctx, user)
}

// Delete 刪除快取項目（帳號刪除）
func (c *UserCache) Delete(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, UserKey(userID)).Err(); err != nil {
		c.logger.Error("delete user cache failed", "user", userID, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "delete user cache")
	}
	return nil
}

func (c *UserCache) write(ctx context.Context, user *CachedUser) error {
	data, err := json.Marshal(user)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal user")
	}

	if err := c.rdb.Set(ctx, UserKey(user.ID), data, 0).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "write user cache")
	}
	return nil
}
