// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeConflict 資源衝突（如使用者名稱已被佔用）
	ErrCodeConflict = "CONFLICT"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeSchemaInvalid 快取資料結構驗證失敗
	ErrCodeSchemaInvalid = "SCHEMA_INVALID"
	// ErrCodeUnavailable 快取服務不可用
	ErrCodeUnavailable = "CACHE_UNAVAILABLE"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// 預定義錯誤
var (
	// ErrAmpNotFound 貼文（amp）不存在於來源資料庫
	ErrAmpNotFound = New(ErrCodeNotFound, "amp not found")

	// ErrUserNotFound 使用者不存在於來源資料庫
	ErrUserNotFound = New(ErrCodeNotFound, "user not found")

	// ErrCommentNotFound 留言不存在
	ErrCommentNotFound = New(ErrCodeNotFound, "comment not found")

	// ErrUsernameTaken 使用者名稱已被佔用（來源資料庫唯一約束）
	ErrUsernameTaken = New(ErrCodeConflict, "username already taken")

	// ErrCacheUnavailable Redis 不可達或逾時
	ErrCacheUnavailable = New(ErrCodeUnavailable, "cache unavailable")

	// ErrSchemaInvalid 快取的使用者資料結構過期
	ErrSchemaInvalid = New(ErrCodeSchemaInvalid, "cached record failed schema validation")

	// ErrInvalidAction 未知的互動類型
	ErrInvalidAction = New(ErrCodeInvalidInput, "invalid engagement action")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsConflict 檢查是否為衝突錯誤
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeConflict
	}
	return false
}

// IsCacheUnavailable 檢查是否為快取不可用錯誤
func IsCacheUnavailable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeUnavailable
	}
	return false
}

// IsSchemaInvalid 檢查是否為結構驗證失敗錯誤
func IsSchemaInvalid(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeSchemaInvalid
	}
	return false
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeInvalidInput
	}
	return false
}
