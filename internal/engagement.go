package internal

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// Action 互動類型
type Action string

const (
	// ActionLike 按讚
	ActionLike Action = "like"
	// ActionUnlike 取消按讚
	ActionUnlike Action = "unlike"
	// ActionBookmark 收藏
	ActionBookmark Action = "bookmark"
	// ActionUnbookmark 取消收藏
	ActionUnbookmark Action = "unbookmark"
	// ActionCommentAdded 新增留言（留言列已由耐久層提交）
	ActionCommentAdded Action = "comment_added"
	// ActionCommentRemoved 刪除留言
	ActionCommentRemoved Action = "comment_removed"
	// ActionView 瀏覽
	ActionView Action = "view"
)

// actionEffect 一種互動對快取狀態的影響
type actionEffect struct {
	field    string   // 受影響的計數器欄位
	delta    int64    // 計數器增量
	score    int64    // 熱度分數增量
	relation Relation // 受影響的成員集合（空值表示無）
	join     bool     // true 加入集合，false 移出
}

// actionEffects 各互動類型的固定權重
//
// 熱度權重：按讚 ±10、留言 ±5、收藏 ±5、瀏覽 +1。
var actionEffects = map[Action]actionEffect{
	ActionLike:           {field: FieldLikes, delta: +1, score: +10, relation: RelationLikes, join: true},
	ActionUnlike:         {field: FieldLikes, delta: -1, score: -10, relation: RelationLikes, join: false},
	ActionBookmark:       {field: FieldBookmarks, delta: +1, score: +5, relation: RelationBookmarks, join: true},
	ActionUnbookmark:     {field: FieldBookmarks, delta: -1, score: -5, relation: RelationBookmarks, join: false},
	ActionCommentAdded:   {field: FieldComments, delta: +1, score: +5},
	ActionCommentRemoved: {field: FieldComments, delta: -1, score: -5},
	ActionView:           {field: FieldViews, delta: +1, score: +1},
}

// EngagementView 渲染一篇貼文所需的互動資料
type EngagementView struct {
	Views                int64 `json:"views"`
	Likes                int64 `json:"likes"`
	Reamps               int64 `json:"reamps"`
	Comments             int64 `json:"comments"`
	Bookmarks            int64 `json:"bookmarks"`
	IsLikedByViewer      bool  `json:"is_liked_by_viewer"`
	IsBookmarkedByViewer bool  `json:"is_bookmarked_by_viewer"`
}

// Engagement 互動變更協議
//
// 每次互動的處理流程：
//
//	驗證貼文存在 → 讀取快取現狀 → 組裝 pipeline → 提交
//
// 系統設計考量：
//
//  1. 為什麼先讀現狀再決定初始化或遞增？
//     HGETALL 回傳空 map 表示這篇貼文從未有記錄，第一筆互動
//     必須物化正確的起始記錄（其餘欄位為 0），之後的互動才走
//     HINCRBY。這個「檢查再分支」對同一貼文的併發首次互動
//     存在 lost-update 視窗：兩邊都讀到「不存在」、都 Initialize，
//     後寫者勝，靜默丟失一次遞增。已知且接受的弱一致視窗，
//     計數器本就允許近似。
//
//  2. 併發完全交給 Redis 的 per-key 原子性：
//     不用應用層鎖，不用多 key 交易。單一 pipeline 內的命令
//     依排入順序執行、各自原子；兩個併發互動的 pipeline
//     可任意交錯。
//
//  3. 快取失敗不回滾耐久寫入：
//     留言列等來源資料庫的變更獨立提交且具權威性。
//     pipeline 失敗時浮現 CacheUnavailable，計數器等下一次
//     成功寫入或重建時追上。不自動重試。
type Engagement struct {
	rdb        *redis.Client
	store      *Store
	counters   *CounterStore
	membership *MembershipStore
	retention  *RetentionStore
	logger     *slog.Logger
}

// NewEngagement 創建互動協議
func NewEngagement(rdb *redis.Client, store *Store, counters *CounterStore,
	membership *MembershipStore, retention *RetentionStore, logger *slog.Logger) *Engagement {
	return &Engagement{
		rdb:        rdb,
		store:      store,
		counters:   counters,
		membership: membership,
		retention:  retention,
		logger:     logger,
	}
}

// Apply 套用一次互動，回傳更新後的計數
func (e *Engagement) Apply(ctx context.Context, ampID, viewerID string, action Action) (*Counters, error) {
	effect, ok := actionEffects[action]
	if !ok {
		return nil, apperrors.ErrInvalidAction
	}

	// 1. 驗證：貼文必須存在於來源資料庫，否則不碰快取
	exists, err := e.store.AmpExists(ctx, ampID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "validate amp")
	}
	if !exists {
		return nil, apperrors.ErrAmpNotFound
	}

	// 2. 讀取快取現狀（計數器 + 熱度，一次往返）
	//    初始化或遞增的分支取決於這次讀取的結果，所以不能與第 3 步合併
	reader := NewBatchReader(e.rdb)
	countersIdx := reader.Counters(ctx, ampID)
	retentionIdx := reader.Retention(ctx, ampID)
	if err := reader.Exec(ctx); err != nil {
		return nil, err
	}

	current, err := reader.CountersAt(countersIdx)
	if err != nil {
		return nil, err
	}
	retention, err := reader.RetentionAt(retentionIdx)
	if err != nil {
		return nil, err
	}

	// 3. 組裝 pipeline
	pipe := e.rdb.Pipeline()
	queued := false

	updated := &Counters{}
	if current == nil {
		// 首次互動：物化起始記錄（pipeline 之外的獨立呼叫）
		updated.SetField(effect.field, clampNonNegative(effect.delta))
		if err := e.counters.Initialize(ctx, ampID, updated); err != nil {
			return nil, err
		}
	} else {
		*updated = *current
		if effect.delta < 0 && current.Field(effect.field) == 0 {
			// 遞減但已是 0：重設為 0，不發負數遞增
			e.counters.EnqueueFloor(ctx, pipe, ampID, effect.field)
		} else {
			e.counters.EnqueueIncrement(ctx, pipe, ampID, effect.field, effect.delta)
			updated.SetField(effect.field, current.Field(effect.field)+effect.delta)
		}
		queued = true
	}

	if retention == nil {
		if err := e.retention.Initialize(ctx, ampID, effect.score); err != nil {
			return nil, err
		}
	} else {
		e.retention.EnqueueAdjust(ctx, pipe, ampID, effect.score)
		queued = true
	}

	if effect.relation != "" {
		if effect.join {
			e.membership.EnqueueAdd(ctx, pipe, ampID, effect.relation, viewerID)
		} else {
			e.membership.EnqueueRemove(ctx, pipe, ampID, effect.relation, viewerID)
		}
		queued = true
	}

	// 4. 提交（一次往返）
	if queued {
		if _, err := pipe.Exec(ctx); err != nil {
			e.logger.Error("engagement pipeline failed",
				"amp", ampID,
				"action", action,
				"error", err)
			return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "commit engagement")
		}
	}

	return updated, nil
}

// View 組裝渲染一篇貼文所需的互動視圖
//
// 計數器讀取與兩個成員判斷合併為一次 pipeline 往返。
// Redis 失敗時降級為零值視圖（計數允許近似，頁面不能掛）。
func (e *Engagement) View(ctx context.Context, ampID, viewerID string) (*EngagementView, error) {
	reader := NewBatchReader(e.rdb)
	countersIdx := reader.Counters(ctx, ampID)

	likedIdx, bookmarkedIdx := -1, -1
	if viewerID != "" {
		likedIdx = reader.IsMember(ctx, ampID, RelationLikes, viewerID)
		bookmarkedIdx = reader.IsMember(ctx, ampID, RelationBookmarks, viewerID)
	}

	if err := reader.Exec(ctx); err != nil {
		// 純讀取沒有耐久後備：降級為零值視圖，不報錯
		e.logger.Warn("engagement view degraded", "amp", ampID, "error", err)
		return &EngagementView{}, nil
	}

	view := &EngagementView{}

	counters, err := reader.CountersAt(countersIdx)
	if err != nil {
		e.logger.Warn("engagement view degraded", "amp", ampID, "error", err)
		return &EngagementView{}, nil
	}
	if counters != nil {
		view.Views = counters.Views
		view.Likes = counters.Likes
		view.Reamps = counters.Reamps
		view.Comments = counters.Comments
		view.Bookmarks = counters.Bookmarks
	}

	if likedIdx >= 0 {
		if liked, err := reader.BoolAt(likedIdx); err == nil {
			view.IsLikedByViewer = liked
		}
		if bookmarked, err := reader.BoolAt(bookmarkedIdx); err == nil {
			view.IsBookmarkedByViewer = bookmarked
		}
	}

	return view, nil
}

// PurgeAmp 清除一篇貼文的全部快取記錄（貼文刪除時）
func (e *Engagement) PurgeAmp(ctx context.Context, ampID string) error {
	pipe := e.rdb.Pipeline()
	pipe.Del(ctx, CounterKey(ampID))
	pipe.Del(ctx, RetentionKey(ampID))
	pipe.Del(ctx, MembershipKey(ampID, RelationLikes))
	pipe.Del(ctx, MembershipKey(ampID, RelationBookmarks))
	pipe.Del(ctx, CommentSetKey(ampID))

	if _, err := pipe.Exec(ctx); err != nil {
		e.logger.Error("purge amp cache failed", "amp", ampID, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "purge amp")
	}
	return nil
}

// clampNonNegative 負數夾為 0
func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
