package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/koopa0/amps-engagement/pkg/errors"
)

// Handler HTTP 請求處理器
type Handler struct {
	engagement *Engagement
	users      *UserCache
	usernames  *UsernameCache
	store      *Store
	recovery   *Recovery
	logger     *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(engagement *Engagement, users *UserCache, usernames *UsernameCache,
	store *Store, recovery *Recovery, logger *slog.Logger) *Handler {
	return &Handler{
		engagement: engagement,
		users:      users,
		usernames:  usernames,
		store:      store,
		recovery:   recovery,
		logger:     logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：日誌 -> 恢復 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 互動
	mux.HandleFunc("GET /api/v1/amps/{id}/engagement", wrap(h.getEngagement))
	mux.HandleFunc("POST /api/v1/amps/{id}/engagement", wrap(h.applyEngagement))

	// 貼文與留言（耐久層 + 快取清理）
	mux.HandleFunc("POST /api/v1/amps", wrap(h.createAmp))
	mux.HandleFunc("DELETE /api/v1/amps/{id}", wrap(h.deleteAmp))
	mux.HandleFunc("POST /api/v1/amps/{id}/comments", wrap(h.addComment))
	mux.HandleFunc("POST /api/v1/amps/{id}/comments/reconcile", wrap(h.reconcileComments))
	mux.HandleFunc("DELETE /api/v1/comments/{id}", wrap(h.deleteComment))

	// 使用者快取
	mux.HandleFunc("GET /api/v1/users/{id}", wrap(h.getUser))
	mux.HandleFunc("POST /api/v1/users/{id}/invalidate", wrap(h.invalidateUser))
	mux.HandleFunc("DELETE /api/v1/users/{id}", wrap(h.deleteUser))
	mux.HandleFunc("PUT /api/v1/users/{id}/username", wrap(h.changeUsername))

	// 使用者名稱集合
	mux.HandleFunc("GET /api/v1/usernames/{username}", wrap(h.checkUsername))
	mux.HandleFunc("POST /api/v1/usernames", wrap(h.reserveUsername))
	mux.HandleFunc("DELETE /api/v1/usernames/{username}", wrap(h.releaseUsername))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.ready))

	return mux
}

// 請求和響應結構
type engagementRequest struct {
	Action Action `json:"action"`
	UserID string `json:"user_id"`
}

type engagementResponse struct {
	Success  bool      `json:"success"`
	Counters *Counters `json:"counters,omitempty"`
	Degraded bool      `json:"degraded,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type commentRequest struct {
	AuthorID string `json:"author_id"`
	Content  string `json:"content"`
}

type ampRequest struct {
	AuthorID string `json:"author_id"`
	Content  string `json:"content"`
}

type usernameRequest struct {
	Username string `json:"username"`
}

type usernameResponse struct {
	Username string `json:"username"`
	Taken    bool   `json:"taken"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// getEngagement 取得一篇貼文的互動視圖
func (h *Handler) getEngagement(w http.ResponseWriter, r *http.Request) {
	ampID := r.PathValue("id")
	viewerID := r.URL.Query().Get("viewer")

	view, err := h.engagement.View(r.Context(), ampID, viewerID)
	if err != nil {
		h.logger.Error("get engagement failed", "amp", ampID, "error", err)
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, view)
}

// applyEngagement 套用一次互動
func (h *Handler) applyEngagement(w http.ResponseWriter, r *http.Request) {
	ampID := r.PathValue("id")

	var req engagementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "invalid request body")
		return
	}
	if req.UserID == "" {
		h.respondBadRequest(w, "user_id required")
		return
	}

	counters, err := h.engagement.Apply(r.Context(), ampID, req.UserID, req.Action)
	if err != nil {
		h.logger.Error("apply engagement failed",
			"amp", ampID,
			"action", req.Action,
			"error", err)
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, engagementResponse{
		Success:  true,
		Counters: counters,
	})
}

// createAmp 建立貼文
func (h *Handler) createAmp(w http.ResponseWriter, r *http.Request) {
	var req ampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "invalid request body")
		return
	}
	if req.AuthorID == "" || req.Content == "" {
		h.respondBadRequest(w, "author_id and content required")
		return
	}

	amp, err := h.store.CreateAmp(r.Context(), req.AuthorID, req.Content)
	if err != nil {
		h.logger.Error("create amp failed", "error", err)
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, amp)
}

// deleteAmp 刪除貼文，連帶清除全部快取記錄
func (h *Handler) deleteAmp(w http.ResponseWriter, r *http.Request) {
	ampID := r.PathValue("id")

	if err := h.store.DeleteAmp(r.Context(), ampID); err != nil {
		h.respondError(w, err)
		return
	}

	// 快取清理是盡力而為，失敗只記錄
	if err := h.engagement.PurgeAmp(r.Context(), ampID); err != nil {
		h.logger.Warn("purge amp cache failed after delete", "amp", ampID, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// addComment 新增留言
//
// 留言列先在耐久層提交，再更新快取。快取更新失敗時留言仍算成功
// （計數器等下一次寫入或對帳時追上），回應標記 degraded。
func (h *Handler) addComment(w http.ResponseWriter, r *http.Request) {
	ampID := r.PathValue("id")

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "invalid request body")
		return
	}
	if req.AuthorID == "" || req.Content == "" {
		h.respondBadRequest(w, "author_id and content required")
		return
	}

	exists, err := h.store.AmpExists(r.Context(), ampID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if !exists {
		h.respondError(w, apperrors.ErrAmpNotFound)
		return
	}

	comment, err := h.store.CreateComment(r.Context(), ampID, req.AuthorID, req.Content)
	if err != nil {
		h.logger.Error("create comment failed", "amp", ampID, "error", err)
		h.respondError(w, err)
		return
	}

	counters, err := h.engagement.Apply(r.Context(), ampID, req.AuthorID, ActionCommentAdded)
	if err != nil {
		// 耐久寫入已成功且具權威性，不回滾
		h.logger.Warn("comment counter update dropped", "amp", ampID, "error", err)
		h.respondJSON(w, http.StatusCreated, struct {
			Comment  *Comment `json:"comment"`
			Degraded bool     `json:"degraded"`
		}{Comment: comment, Degraded: true})
		return
	}

	h.respondJSON(w, http.StatusCreated, struct {
		Comment  *Comment  `json:"comment"`
		Counters *Counters `json:"counters"`
	}{Comment: comment, Counters: counters})
}

// deleteComment 刪除留言
func (h *Handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	commentID := r.PathValue("id")

	ampID, err := h.store.DeleteComment(r.Context(), commentID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if _, err := h.engagement.Apply(r.Context(), ampID, "", ActionCommentRemoved); err != nil {
		h.logger.Warn("comment counter update dropped", "amp", ampID, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// reconcileComments 用耐久留言表校正留言計數
func (h *Handler) reconcileComments(w http.ResponseWriter, r *http.Request) {
	ampID := r.PathValue("id")

	if err := h.recovery.ReconcileComments(r.Context(), ampID); err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, engagementResponse{Success: true})
}

// getUser 讀取使用者快照（read-through）
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("get user failed", "user", userID, "error", err)
		h.respondError(w, err)
		return
	}
	if user == nil {
		h.respondError(w, apperrors.ErrUserNotFound)
		return
	}

	h.respondJSON(w, http.StatusOK, user)
}

// invalidateUser 使快取項目失效（下次讀取時重建）
func (h *Handler) invalidateUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	if err := h.users.Delete(r.Context(), userID); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteUser 刪除帳號：耐久層、使用者快取與名稱集合
func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	ctx := r.Context()

	username, err := h.store.DeleteUser(ctx, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if err := h.users.Delete(ctx, userID); err != nil {
		h.logger.Warn("user cache delete dropped", "user", userID, "error", err)
	}
	if err := h.usernames.Remove(ctx, username); err != nil {
		h.logger.Warn("username release dropped", "username", username, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// changeUsername 改名流程
//
// 快取的存在性檢查只是快速預檢；權威是資料庫的唯一約束，
// 預檢漏掉的衝突（說可用但其實被佔用）由 UPDATE 的 23505 擋下。
func (h *Handler) changeUsername(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	ctx := r.Context()

	var req usernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "invalid request body")
		return
	}
	if req.Username == "" {
		h.respondBadRequest(w, "username required")
		return
	}

	// 快速預檢（advisory）
	if taken, err := h.usernames.Exists(ctx, req.Username); err == nil && taken {
		h.respondError(w, apperrors.ErrUsernameTaken)
		return
	}

	oldUsername, err := h.store.UpdateUsername(ctx, userID, req.Username)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if err := h.usernames.Rename(ctx, oldUsername, req.Username); err != nil {
		h.logger.Warn("username rename dropped", "old", oldUsername, "new", req.Username, "error", err)
	}
	// 使舊快照失效，下次讀取時重建出新名稱
	if err := h.users.Delete(ctx, userID); err != nil {
		h.logger.Warn("user cache invalidate dropped", "user", userID, "error", err)
	}

	h.respondJSON(w, http.StatusOK, usernameResponse{Username: req.Username, Taken: false})
}

// checkUsername 檢查名稱是否被佔用
func (h *Handler) checkUsername(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	taken, err := h.usernames.Exists(r.Context(), username)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, usernameResponse{Username: username, Taken: taken})
}

// reserveUsername 佔用一個名稱
func (h *Handler) reserveUsername(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "invalid request body")
		return
	}
	if req.Username == "" {
		h.respondBadRequest(w, "username required")
		return
	}

	if err := h.usernames.Add(r.Context(), req.Username); err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, usernameResponse{Username: req.Username, Taken: true})
}

// releaseUsername 釋放一個名稱
func (h *Handler) releaseUsername(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	if err := h.usernames.Remove(r.Context(), username); err != nil {
		h.respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// ready 就緒檢查
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.engagement.rdb.Ping(ctx).Err(); err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "redis not ready"})
		return
	}

	if err := h.store.pool.Ping(ctx); err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "postgres not ready"})
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ready")
}

// 中間件
// loggerMiddleware 記錄請求日誌
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以捕獲狀態碼
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic recovered", "error", err)
				h.respondJSON(w, http.StatusInternalServerError,
					errorResponse{Error: "internal server error"})
			}
		}()
		next(w, r)
	}
}

// respondError 依錯誤分類映射 HTTP 狀態碼
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError

	status := http.StatusInternalServerError
	code := apperrors.ErrCodeInternal
	message := "internal server error"

	switch {
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsConflict(err):
		status = http.StatusConflict
	case apperrors.IsInvalidInput(err):
		status = http.StatusBadRequest
	case apperrors.IsCacheUnavailable(err):
		status = http.StatusServiceUnavailable
	}

	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
	}

	h.respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (h *Handler) respondBadRequest(w http.ResponseWriter, message string) {
	h.respondJSON(w, http.StatusBadRequest,
		errorResponse{Error: message, Code: apperrors.ErrCodeInvalidInput})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}
