// Package internal 實現 Amps 互動分析快取的核心功能
//
// 系統設計問題：
//
//	如何在單次頁面渲染的延遲預算內，提供貼文的按讚／收藏／留言／轉發／瀏覽
//	計數與當前使用者的互動狀態，同時承受高頻併發寫入？
//
// 核心挑戰：
//  1. 高頻寫入：每篇熱門貼文每秒數百次互動事件
//  2. 併發安全：兩個同時的按讚不能互相覆蓋
//  3. 讀取放大：渲染一篇貼文需要計數 + 兩個成員判斷，不能三次往返
//  4. 部分失效：Redis 故障不能讓貼文頁面掛掉（計數允許短暫不準）
//
// 設計方案：
//
//	✅ Redis hash 儲存每篇貼文的計數器（HINCRBY 原子遞增）
//	✅ Redis set 儲存按讚／收藏成員（SADD/SREM 天然冪等）
//	✅ pipeline 將一次互動的多個寫入合併為單次往返
//	✅ 計數快取優先可用性：Redis 故障時回傳零值視圖而非錯誤
package internal

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// 計數器 hash 的欄位名稱
const (
	FieldViews     = "views"
	FieldLikes     = "likes"
	FieldReamps    = "reamps"
	FieldComments  = "comments"
	FieldBookmarks = "bookmarks"
)

// counterFields 欄位的固定順序（初始化與序列化使用）
var counterFields = []string{FieldViews, FieldLikes, FieldReamps, FieldComments, FieldBookmarks}

// Counters 一篇 amp 的互動計數
//
// 所有欄位不可為負：遞減到 0 時夾住（clamp），不發出負數遞增。
type Counters struct {
	Views     int64 `json:"views"`
	Likes     int64 `json:"likes"`
	Reamps    int64 `json:"reamps"`
	Comments  int64 `json:"comments"`
	Bookmarks int64 `json:"bookmarks"`
}

// Field 取得指定欄位的值
func (c *Counters) Field(name string) int64 {
	switch name {
	case FieldViews:
		return c.Views
	case FieldLikes:
		return c.Likes
	case FieldReamps:
		return c.Reamps
	case FieldComments:
		return c.Comments
	case FieldBookmarks:
		return c.Bookmarks
	}
	return 0
}

// SetField 設定指定欄位的值
func (c *Counters) SetField(name string, value int64) {
	switch name {
	case FieldViews:
		c.Views = value
	case FieldLikes:
		c.Likes = value
	case FieldReamps:
		c.Reamps = value
	case FieldComments:
		c.Comments = value
	case FieldBookmarks:
		c.Bookmarks = value
	}
}

// CounterStore 互動計數器儲存
//
// 系統設計考量：
//
//  1. 為什麼用 hash 而不是五個獨立 key？
//     - 一篇貼文的計數一次 HGETALL 取回，單次往返
//     - HINCRBY 針對單一欄位原子遞增，互不干擾
//     - 貼文刪除時一個 DEL 清掉整筆記錄
//
//  2. 「不存在」與「全零」的區別：
//     - HGETALL 回傳空 map 表示這篇貼文從未有互動，Read 回傳 nil
//     - 呼叫端據此決定 Initialize（建立起始記錄）或 HINCRBY（調整既有記錄）
//     - 絕不把 nil 靜默折疊成零值記錄
//
//  3. 計數器的唯一資料源就是 Redis：
//     - 來源資料庫不保存這些計數（可近似、可重建）
//     - 例外是 comments，可透過 COUNT 留言表校正（見 recovery.go）
type CounterStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewCounterStore 創建計數器儲存
func NewCounterStore(rdb *redis.Client, logger *slog.Logger) *CounterStore {
	return &CounterStore{rdb: rdb, logger: logger}
}

// Read 讀取一篇 amp 的計數器
//
// 回傳 nil 表示這篇貼文從未有互動記錄（不是錯誤），
// 呼叫端應將所有欄位視為 0。
func (s *CounterStore) Read(ctx context.Context, ampID string) (*Counters, error) {
	fields, err := s.rdb.HGetAll(ctx, CounterKey(ampID)).Result()
	if err != nil {
		s.logger.Error("read counters failed", "amp", ampID, "error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "read counters")
	}

	if len(fields) == 0 {
		// 從未有互動：記錄不存在
		return nil, nil
	}

	return parseCounters(fields), nil
}

// Initialize 寫入完整的計數器記錄
//
// 用於第一筆互動事件需要物化起始記錄的情況。
// 本儲存不在遞增時自動建立記錄，建立或遞增由互動協議決定。
func (s *CounterStore) Initialize(ctx context.Context, ampID string, counters *Counters) error {
	values := make(map[string]any, len(counterFields))
	for _, f := range counterFields {
		values[f] = counters.Field(f)
	}

	if err := s.rdb.HSet(ctx, CounterKey(ampID), values).Err(); err != nil {
		s.logger.Error("initialize counters failed", "amp", ampID, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "initialize counters")
	}

	return nil
}

// EnqueueIncrement 將單一欄位的原子遞增排入 pipeline
//
// delta 可為負。與同一次互動的其他操作合併為一次往返，
// 每個命令各自原子執行，整個批次不是 all-or-nothing 交易。
func (s *CounterStore) EnqueueIncrement(ctx context.Context, cmd redis.Cmdable, ampID, field string, delta int64) {
	cmd.HIncrBy(ctx, CounterKey(ampID), field, delta)
}

// EnqueueFloor 將欄位重設為 0 排入 pipeline
//
// 遞減時若當前值已是 0，改寫入 0 而非發出負數遞增，
// 避免競爭條件下計數變成負值。
func (s *CounterStore) EnqueueFloor(ctx context.Context, cmd redis.Cmdable, ampID, field string) {
	cmd.HSet(ctx, CounterKey(ampID), field, 0)
}

// SetField 直接覆寫單一欄位（校正用，如 comments 對帳）
func (s *CounterStore) SetField(ctx context.Context, ampID, field string, value int64) error {
	if err := s.rdb.HSet(ctx, CounterKey(ampID), field, value).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "set counter field")
	}
	return nil
}

// Delete 刪除整筆計數器記錄（貼文刪除時）
func (s *CounterStore) Delete(ctx context.Context, ampID string) error {
	if err := s.rdb.Del(ctx, CounterKey(ampID)).Err(); err != nil {
		s.logger.Error("delete counters failed", "amp", ampID, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "delete counters")
	}
	return nil
}

// parseCounters 將 HGETALL 結果解析為 Counters
//
// Redis hash 的值都是字串，缺少的欄位視為 0。
func parseCounters(fields map[string]string) *Counters {
	c := &Counters{}
	for _, f := range counterFields {
		if raw, ok := fields[f]; ok {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err == nil {
				c.SetField(f, v)
			}
		}
	}
	return c
}
