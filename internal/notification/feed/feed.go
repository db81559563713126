// Package feed は通知フィードの絞り込み・並び替え・カーソルページングを行う。
//
// カーソルは最後に返した通知の並びキーとIDを符号化した不透明な文字列で、
// オフセットを使わないため、取得の合間に通知が追加されても重複や欠落が起きない。
package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/notice/internal/notification/domain"
)

// ステータス絞り込み。
const (
	StatusAll    = "all"
	StatusRead   = "read"
	StatusUnread = "unread"
)

// ページサイズの既定値と上限。
const (
	DefaultLimit       = 20
	MaxLimit           = 100
	DefaultRecentLimit = 10
	MaxRecentLimit     = 50
)

// Filter はフィードの絞り込み条件。フィールドはすべて任意でANDで結合する。
type Filter struct {
	// Search はmessageに対する大文字小文字を区別しない部分一致。
	Search string
	Types  []string
	// Status は all / read / unread。空はall。
	Status string
	// DateFrom とDateTo は両端を含む。
	DateFrom *time.Time
	DateTo   *time.Time
	// SortBy は newest / oldest / type。空はnewest。
	SortBy string
}

// Validate は条件を検証し、既定値を補った条件を返す。
func (f Filter) Validate() (Filter, error) {
	f.Search = strings.TrimSpace(f.Search)

	if f.Status == "" {
		f.Status = StatusAll
	}
	switch f.Status {
	case StatusAll, StatusRead, StatusUnread:
	default:
		return Filter{}, domain.Invalid("status", "all, read, unread のいずれかを指定してください")
	}

	if f.SortBy == "" {
		f.SortBy = domain.SortNewest
	}
	switch f.SortBy {
	case domain.SortNewest, domain.SortOldest, domain.SortType:
	default:
		return Filter{}, domain.Invalid("sort_by", "newest, oldest, type のいずれかを指定してください")
	}

	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return Filter{}, domain.Invalid("date_from", "date_toより後の日時は指定できません")
	}

	if len(f.Types) > 0 {
		seen := make(map[string]struct{}, len(f.Types))
		types := make([]string, 0, len(f.Types))
		for _, t := range f.Types {
			t = strings.TrimSpace(t)
			if _, ok := seen[t]; ok || t == "" {
				continue
			}
			seen[t] = struct{}{}
			types = append(types, t)
		}
		f.Types = types
	}
	return f, nil
}

func (f Filter) read() *bool {
	switch f.Status {
	case StatusRead:
		v := true
		return &v
	case StatusUnread:
		v := false
		return &v
	}
	return nil
}

// Page はフィードの1ページ。NextCursorは続きがなければnil。
type Page struct {
	Items      []domain.Notification `json:"items"`
	NextCursor *string               `json:"next_cursor"`
}

// Store はフィードの取得に必要な操作。
type Store interface {
	ListFeed(ctx context.Context, q domain.FeedQuery) ([]domain.Notification, error)
}

// Engine はフィードクエリを組み立てて実行する。
type Engine struct {
	store Store
}

// NewEngine はEngineを生成する。
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Query は条件に一致する通知を1ページ分返す。cursorが空なら先頭から取得する。
// limitは[1, MaxLimit]に丸め、0は既定値として扱う。
func (e *Engine) Query(ctx context.Context, userID string, f Filter, cursor string, limit int) (Page, error) {
	f, err := f.Validate()
	if err != nil {
		return Page{}, err
	}
	limit = clamp(limit, DefaultLimit, MaxLimit)

	q := domain.FeedQuery{
		UserID: userID,
		Search: f.Search,
		Types:  f.Types,
		Read:   f.read(),
		From:   f.DateFrom,
		To:     f.DateTo,
		Sort:   f.SortBy,
		Limit:  limit + 1,
	}
	if cursor != "" {
		key, err := DecodeCursor(cursor, f.SortBy)
		if err != nil {
			return Page{}, err
		}
		q.After = &key
	}

	items, err := e.store.ListFeed(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("フィードの取得に失敗: %w", err)
	}

	page := Page{Items: items}
	if page.Items == nil {
		page.Items = []domain.Notification{}
	}
	if len(items) > limit {
		page.Items = items[:limit]
		next := EncodeCursor(f.SortBy, items[limit-1])
		page.NextCursor = &next
	}
	return page, nil
}

// Recent は新しい順に最大limit件を返す。続きのカーソルは返さない。
// limitは[1, MaxRecentLimit]に丸め、0は既定値として扱う。
func (e *Engine) Recent(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	items, err := e.store.ListFeed(ctx, domain.FeedQuery{
		UserID: userID,
		Sort:   domain.SortNewest,
		Limit:  clamp(limit, DefaultRecentLimit, MaxRecentLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("最近の通知の取得に失敗: %w", err)
	}
	if items == nil {
		items = []domain.Notification{}
	}
	return items, nil
}

func clamp(v, def, upper int) int {
	switch {
	case v == 0:
		return def
	case v < 1:
		return 1
	case v > upper:
		return upper
	}
	return v
}

type cursorPayload struct {
	Sort      string    `json:"sort"`
	CreatedAt time.Time `json:"created_at"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
}

// EncodeCursor はnの並びキーをカーソル文字列に符号化する。
func EncodeCursor(sort string, n domain.Notification) string {
	b, _ := json.Marshal(cursorPayload{Sort: sort, CreatedAt: n.CreatedAt.UTC(), Type: n.Type, ID: n.ID})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor はカーソル文字列を復元する。並び順が発行時と異なる場合は拒否する。
func DecodeCursor(s, sort string) (domain.FeedKey, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return domain.FeedKey{}, domain.Invalid("cursor", "カーソルが不正です")
	}
	var c cursorPayload
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return domain.FeedKey{}, domain.Invalid("cursor", "カーソルが不正です")
	}
	if c.Sort != sort {
		return domain.FeedKey{}, domain.Invalid("cursor", "カーソルの並び順(%s)がsort_byと一致しません", c.Sort)
	}
	return domain.FeedKey{CreatedAt: c.CreatedAt, Type: c.Type, ID: c.ID}, nil
}
