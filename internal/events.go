package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// 使用者服務發布的事件主題
const (
	// SubjectUserUpdated 個人資料建立或更新
	SubjectUserUpdated = "amps.users.updated"
	// SubjectUserDeleted 帳號刪除
	SubjectUserDeleted = "amps.users.deleted"
)

// userUpdatedEvent 個人資料更新事件的 payload
type userUpdatedEvent struct {
	User *CachedUser `json:"user"`
	// OldUsername 改名時帶上舊名稱，名稱集合據此做 remove-old-add-new
	OldUsername string `json:"old_username,omitempty"`
}

// userDeletedEvent 帳號刪除事件的 payload
type userDeletedEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ProfileEvents 個人資料事件訂閱者
//
// 使用者服務是個人資料的權威，透過 NATS 廣播更新與刪除事件。
// 快取層被動反應：更新事件覆寫使用者快照並同步名稱集合，
// 刪除事件移除快照並釋放名稱。
//
// 事件處理是盡力而為：遺漏的更新由 Get 的結構驗證與 read-through
// 重建兜底，遺漏的名稱變更由 Recovery 的定期鏡射收斂。
type ProfileEvents struct {
	users     *UserCache
	usernames *UsernameCache
	logger    *slog.Logger

	subs []*nats.Subscription
}

// NewProfileEvents 創建事件訂閱者
func NewProfileEvents(users *UserCache, usernames *UsernameCache, logger *slog.Logger) *ProfileEvents {
	return &ProfileEvents{
		users:     users,
		usernames: usernames,
		logger:    logger,
	}
}

// Subscribe 訂閱個人資料事件
func (p *ProfileEvents) Subscribe(conn *nats.Conn) error {
	updatedSub, err := conn.Subscribe(SubjectUserUpdated, func(msg *nats.Msg) {
		if err := p.HandleUserUpdated(context.Background(), msg.Data); err != nil {
			p.logger.Error("handle user updated failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectUserUpdated, err)
	}
	p.subs = append(p.subs, updatedSub)

	deletedSub, err := conn.Subscribe(SubjectUserDeleted, func(msg *nats.Msg) {
		if err := p.HandleUserDeleted(context.Background(), msg.Data); err != nil {
			p.logger.Error("handle user deleted failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectUserDeleted, err)
	}
	p.subs = append(p.subs, deletedSub)

	p.logger.Info("profile event subscriptions active")
	return nil
}

// HandleUserUpdated 處理個人資料更新事件
func (p *ProfileEvents) HandleUserUpdated(ctx context.Context, data []byte) error {
	var event userUpdatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("decode user updated event: %w", err)
	}
	if event.User == nil {
		return fmt.Errorf("user updated event missing user")
	}

	if err := p.users.Put(ctx, event.User); err != nil {
		return err
	}

	// 名稱集合同步：改名走 remove-old-add-new，否則確保新名在集合內
	if event.OldUsername != "" && event.OldUsername != event.User.Username {
		return p.usernames.Rename(ctx, event.OldUsername, event.User.Username)
	}
	return p.usernames.Add(ctx, event.User.Username)
}

// HandleUserDeleted 處理帳號刪除事件
func (p *ProfileEvents) HandleUserDeleted(ctx context.Context, data []byte) error {
	var event userDeletedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("decode user deleted event: %w", err)
	}

	if err := p.users.Delete(ctx, event.UserID); err != nil {
		return err
	}
	return p.usernames.Remove(ctx, event.Username)
}

// Unsubscribe 取消所有訂閱
func (p *ProfileEvents) Unsubscribe() {
	for _, sub := range p.subs {
		if err := sub.Unsubscribe(); err != nil {
			p.logger.Warn("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	p.subs = nil
}
