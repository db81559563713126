package domain

import "time"

// 並び順。
const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortType   = "type"
)

// FeedKey はキーセットページングの位置。最後に返した通知の並びキーとID。
type FeedKey struct {
	CreatedAt time.Time
	Type      string
	ID        string
}

// FeedQuery はストアに渡す正規化済みのフィード検索条件。
type FeedQuery struct {
	UserID string
	// Search はmessageに対する大文字小文字を区別しない部分一致。
	Search string
	Types  []string
	// Read がnilなら既読状態で絞り込まない。
	Read *bool
	// From とTo は両端を含む。
	From  *time.Time
	To    *time.Time
	Sort  string
	After *FeedKey
	Limit int
}

// Selector はユーザー単位の一括操作の対象を選ぶ条件。
type Selector struct {
	Read          *bool
	Type          string
	CreatedBefore *time.Time
}

// Aggregate は集計クエリの生の結果。ByDayはYYYY-MM-DD（UTC）をキーとする。
type Aggregate struct {
	Total  int
	Unread int
	ByType map[string]int
	ByDay  map[string]int
}

// OwnedID は所有者付きの通知ID。
type OwnedID struct {
	ID     string `db:"id"`
	UserID string `db:"user_id"`
}
