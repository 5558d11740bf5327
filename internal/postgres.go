package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// pgUniqueViolation PostgreSQL 唯一約束違反的錯誤碼
const pgUniqueViolation = "23505"

// Amp 一篇貼文（來源資料庫的權威記錄）
type Amp struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment 一則留言
type Comment struct {
	ID        string    `json:"id"`
	AmpID     string    `json:"amp_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 來源資料庫存取層
//
// 快取層永遠不發明實體的存在性：互動協議在任何快取寫入前，
// 先透過這裡確認貼文真的存在。留言列是耐久資料，
// comments 計數器遺失時可用 COUNT 重建。
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore 創建來源資料庫存取層
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// AmpExists 檢查貼文是否存在
func (s *Store) AmpExists(ctx context.Context, ampID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM amps WHERE id = $1)`, ampID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("amp exists: %w", err)
	}
	return exists, nil
}

// FindAmp 查詢貼文，nil 表示不存在
func (s *Store) FindAmp(ctx context.Context, ampID string) (*Amp, error) {
	var amp Amp
	err := s.pool.QueryRow(ctx,
		`SELECT id, author_id, content, created_at FROM amps WHERE id = $1`, ampID).
		Scan(&amp.ID, &amp.AuthorID, &amp.Content, &amp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find amp: %w", err)
	}
	return &amp, nil
}

// CreateAmp 建立貼文
func (s *Store) CreateAmp(ctx context.Context, authorID, content string) (*Amp, error) {
	amp := &Amp{
		ID:       uuid.NewString(),
		AuthorID: authorID,
		Content:  content,
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO amps (id, author_id, content) VALUES ($1, $2, $3) RETURNING created_at`,
		amp.ID, amp.AuthorID, amp.Content).Scan(&amp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create amp: %w", err)
	}
	return amp, nil
}

// DeleteAmp 刪除貼文（留言隨外鍵串聯刪除）
func (s *Store) DeleteAmp(ctx context.Context, ampID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM amps WHERE id = $1`, ampID)
	if err != nil {
		return fmt.Errorf("delete amp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrAmpNotFound
	}
	return nil
}

// CreateComment 插入留言列
//
// 留言是耐久資料：這筆插入獨立於快取提交且具權威性，
// 快取的 comments 計數只是盡力而為。
func (s *Store) CreateComment(ctx context.Context, ampID, authorID, content string) (*Comment, error) {
	comment := &Comment{
		ID:       uuid.NewString(),
		AmpID:    ampID,
		AuthorID: authorID,
		Content:  content,
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO comments (id, amp_id, author_id, content)
		 VALUES ($1, $2, $3, $4) RETURNING created_at`,
		comment.ID, comment.AmpID, comment.AuthorID, comment.Content).
		Scan(&comment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

// DeleteComment 刪除留言，回傳所屬貼文 ID
func (s *Store) DeleteComment(ctx context.Context, commentID string) (string, error) {
	var ampID string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM comments WHERE id = $1 RETURNING amp_id`, commentID).Scan(&ampID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.ErrCommentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete comment: %w", err)
	}
	return ampID, nil
}

// CountComments 統計一篇貼文的留言數（comments 計數器的對帳來源）
func (s *Store) CountComments(ctx context.Context, ampID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM comments WHERE amp_id = $1`, ampID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return count, nil
}

// GetUser 查詢使用者的完整資料，nil 表示不存在
//
// 實作 UserSource，供使用者快取在未命中或結構驗證失敗時重建。
func (s *Store) GetUser(ctx context.Context, userID string) (*CachedUser, error) {
	var (
		user          CachedUser
		socialsJSON   []byte
		educationJSON []byte
	)

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, username, email, image, bio, category, gender,
		        socials, is_verified, resume, education, created_at, updated_at
		 FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Name, &user.Username, &user.Email, &user.Image,
			&user.Bio, &user.Category, &user.Gender, &socialsJSON,
			&user.IsVerified, &user.Resume, &educationJSON,
			&user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if len(socialsJSON) > 0 {
		if err := json.Unmarshal(socialsJSON, &user.Socials); err != nil {
			s.logger.Warn("bad socials json", "user", userID, "error", err)
		}
	}
	if len(educationJSON) > 0 {
		if err := json.Unmarshal(educationJSON, &user.Education); err != nil {
			s.logger.Warn("bad education json", "user", userID, "error", err)
		}
	}

	// 快照的結構驗證要求這兩個欄位非 nil
	if user.Socials == nil {
		user.Socials = []Social{}
	}
	if user.Education == nil {
		user.Education = []Education{}
	}

	return &user, nil
}

// CreateUser 建立使用者
func (s *Store) CreateUser(ctx context.Context, user *CachedUser) error {
	socialsJSON, err := json.Marshal(user.Socials)
	if err != nil {
		return fmt.Errorf("marshal socials: %w", err)
	}
	educationJSON, err := json.Marshal(user.Education)
	if err != nil {
		return fmt.Errorf("marshal education: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, username, email, image, bio, category, gender,
		                    socials, is_verified, resume, education)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at, updated_at`,
		user.ID, user.Name, user.Username, user.Email, user.Image, user.Bio,
		user.Category, user.Gender, socialsJSON, user.IsVerified, user.Resume,
		educationJSON).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.ErrUsernameTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// DeleteUser 刪除使用者，回傳被釋放的使用者名稱
func (s *Store) DeleteUser(ctx context.Context, userID string) (string, error) {
	var username string
	err := s.pool.QueryRow(ctx,
		`DELETE FROM users WHERE id = $1 RETURNING username`, userID).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete user: %w", err)
	}
	return username, nil
}

// ListUsernames 列出全部使用者名稱（名稱集合重建用）
func (s *Store) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list usernames: %w", err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		usernames = append(usernames, name)
	}
	return usernames, rows.Err()
}

// UpdateUsername 改名，回傳舊名稱
//
// 唯一約束在這裡才是權威：快取的存在性檢查只是參考，
// 碰到 23505 一律轉成 Conflict 浮現給呼叫端。
func (s *Store) UpdateUsername(ctx context.Context, userID, newUsername string) (string, error) {
	var oldUsername string
	err := s.pool.QueryRow(ctx,
		`SELECT username FROM users WHERE id = $1`, userID).Scan(&oldUsername)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup username: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE users SET username = $2, updated_at = NOW() WHERE id = $1`,
		userID, newUsername)
	if err != nil {
		if isUniqueViolation(err) {
			return "", apperrors.ErrUsernameTaken
		}
		return "", fmt.Errorf("update username: %w", err)
	}

	return oldUsername, nil
}

// isUniqueViolation 檢查是否為唯一約束違反
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
