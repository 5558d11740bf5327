package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Recovery 快取重建 worker
//
// 使用者名稱集合要求精確鏡射來源資料庫的 username 欄位，
// Redis 資料遺失（重啟、清空）後必須重建。做法：
//
//  1. 啟動後延遲數秒（等系統穩定）做首次重建
//  2. 之後按固定間隔重新鏡射，收斂事件遺漏造成的漂移
//
// comments 是唯一有耐久對帳來源的計數器欄位，
// ReconcileComments 用 COUNT 校正單篇貼文的留言數。
type Recovery struct {
	store     *Store
	usernames *UsernameCache
	counters  *CounterStore
	interval  time.Duration
	logger    *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewRecovery 創建重建 worker
func NewRecovery(store *Store, usernames *UsernameCache, counters *CounterStore,
	interval time.Duration, logger *slog.Logger) *Recovery {
	return &Recovery{
		store:     store,
		usernames: usernames,
		counters:  counters,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WarmUsernames 從來源資料庫重建使用者名稱集合
func (r *Recovery) WarmUsernames(ctx context.Context) error {
	usernames, err := r.store.ListUsernames(ctx)
	if err != nil {
		return fmt.Errorf("list usernames: %w", err)
	}
	return r.usernames.Rebuild(ctx, usernames)
}

// ReconcileComments 用耐久留言表校正一篇貼文的留言計數
func (r *Recovery) ReconcileComments(ctx context.Context, ampID string) error {
	count, err := r.store.CountComments(ctx, ampID)
	if err != nil {
		return fmt.Errorf("reconcile comments: %w", err)
	}

	if err := r.counters.SetField(ctx, ampID, FieldComments, count); err != nil {
		return err
	}

	r.logger.Info("comments reconciled", "amp", ampID, "count", count)
	return nil
}

// Start 啟動背景重建 worker
func (r *Recovery) Start() {
	go func() {
		defer close(r.done)

		// 等待系統穩定後做首次重建
		select {
		case <-time.After(5 * time.Second):
		case <-r.stop:
			return
		}

		ctx := context.Background()
		if err := r.WarmUsernames(ctx); err != nil {
			r.logger.Error("initial username warm failed", "error", err)
		}

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.WarmUsernames(ctx); err != nil {
					r.logger.Error("username warm failed", "error", err)
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Shutdown 停止 worker 並等待退出
func (r *Recovery) Shutdown() {
	close(r.stop)
	<-r.done
}
