package internal

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// MembershipStore 成員集合儲存
//
// 記錄哪些使用者對一篇 amp 做過二元動作（按讚、收藏）。
// 以 Redis set 實作：SADD 冪等、SREM 對不存在的成員是靜默 no-op、
// SISMEMBER 期望 O(1)。
//
// 為什麼 remove 不回報「成員不存在」？
// 取消按讚與快取清空之間存在競爭，這種競爭不應對使用者浮現錯誤。
type MembershipStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewMembershipStore 創建成員集合儲存
func NewMembershipStore(rdb *redis.Client, logger *slog.Logger) *MembershipStore {
	return &MembershipStore{rdb: rdb, logger: logger}
}

// Add 將使用者加入集合（冪等）
func (s *MembershipStore) Add(ctx context.Context, ampID string, relation Relation, userID string) error {
	if err := s.rdb.SAdd(ctx, MembershipKey(ampID, relation), userID).Err(); err != nil {
		s.logger.Error("membership add failed", "amp", ampID, "relation", relation, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "membership add")
	}
	return nil
}

// Remove 將使用者移出集合（對非成員是 no-op）
func (s *MembershipStore) Remove(ctx context.Context, ampID string, relation Relation, userID string) error {
	if err := s.rdb.SRem(ctx, MembershipKey(ampID, relation), userID).Err(); err != nil {
		s.logger.Error("membership remove failed", "amp", ampID, "relation", relation, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "membership remove")
	}
	return nil
}

// IsMember 檢查使用者是否在集合中
func (s *MembershipStore) IsMember(ctx context.Context, ampID string, relation Relation, userID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, MembershipKey(ampID, relation), userID).Result()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "membership check")
	}
	return ok, nil
}

// Members 列出集合中的所有使用者
func (s *MembershipStore) Members(ctx context.Context, ampID string, relation Relation) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, MembershipKey(ampID, relation)).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "membership list")
	}
	return members, nil
}

// Delete 刪除整個集合（貼文刪除時）
func (s *MembershipStore) Delete(ctx context.Context, ampID string, relation Relation) error {
	if err := s.rdb.Del(ctx, MembershipKey(ampID, relation)).Err(); err != nil {
		s.logger.Error("membership delete failed", "amp", ampID, "relation", relation, "error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "membership delete")
	}
	return nil
}

// EnqueueAdd 將加入集合排入 pipeline
func (s *MembershipStore) EnqueueAdd(ctx context.Context, cmd redis.Cmdable, ampID string, relation Relation, userID string) {
	cmd.SAdd(ctx, MembershipKey(ampID, relation), userID)
}

// EnqueueRemove 將移出集合排入 pipeline
func (s *MembershipStore) EnqueueRemove(ctx context.Context, cmd redis.Cmdable, ampID string, relation Relation, userID string) {
	cmd.SRem(ctx, MembershipKey(ampID, relation), userID)
}
