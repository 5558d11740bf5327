package internal

import "fmt"

// Redis key 命名規則集中在這裡，其他元件一律透過這些函數取得 key，
// 不允許自行拼接字串。調整 key 形狀時只需修改這一處。
//
// 同一篇 amp 的計數器、熱度記錄與成員集合共用 entity id，
// 只靠命名慣例關聯，沒有外鍵約束。

// Relation 成員集合的關係類型
type Relation string

const (
	// RelationLikes 按讚集合
	RelationLikes Relation = "likes"
	// RelationBookmarks 收藏集合
	RelationBookmarks Relation = "bookmarks"
)

// usernameSetKey 全站已佔用使用者名稱集合的唯一 key
const usernameSetKey = "amps:usernames"

// CounterKey 互動計數器 hash 的 key
func CounterKey(ampID string) string {
	return fmt.Sprintf("amp:%s:counters", ampID)
}

// RetentionKey 熱度分數記錄的 key
func RetentionKey(ampID string) string {
	return fmt.Sprintf("amp:%s:retention", ampID)
}

// MembershipKey 成員集合的 key（按讚／收藏）
func MembershipKey(ampID string, relation Relation) string {
	return fmt.Sprintf("amp:%s:%s", ampID, relation)
}

// CommentSetKey 留言者集合的 key（保留，目前未寫入）
func CommentSetKey(ampID string) string {
	return fmt.Sprintf("amp:%s:commenters", ampID)
}

// UserKey 使用者快取項目的 key
func UserKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// UsernameSetKey 使用者名稱集合的 key
func UsernameSetKey() string {
	return usernameSetKey
}
