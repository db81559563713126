package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nao1215/notice/internal/notification/domain"
)

type notificationRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Type      string         `db:"type"`
	Message   string         `db:"message"`
	Link      sql.NullString `db:"link"`
	IsRead    int            `db:"is_read"`
	CreatedAt string         `db:"created_at"`
}

func (r notificationRow) toDomain() (domain.Notification, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Notification{}, err
	}
	n := domain.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      r.Type,
		Message:   r.Message,
		Read:      r.IsRead != 0,
		CreatedAt: createdAt,
	}
	if r.Link.Valid {
		link := r.Link.String
		n.Link = &link
	}
	return n, nil
}

const notificationColumns = "id, user_id, type, message, link, is_read, created_at"

// foldMessage は検索用の大文字小文字を畳み込む。SQLのLOWERはASCIIしか扱わないためGo側で行う。
func foldMessage(s string) string {
	return strings.ToLower(s)
}

// CreateNotification は通知を1件保存する。
func (q *Queries) CreateNotification(ctx context.Context, n domain.Notification) error {
	var link sql.NullString
	if n.Link != nil {
		link = sql.NullString{String: *n.Link, Valid: true}
	}
	_, err := q.db.ExecContext(ctx, q.db.Rebind(`
		INSERT INTO notifications (`+notificationColumns+`, message_folded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.UserID, n.Type, n.Message, link, b2i(n.Read), formatTime(n.CreatedAt),
		foldMessage(n.Message))
	if err != nil {
		return fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return nil
}

// GetNotification はユーザーが所有する通知を取得する。
func (q *Queries) GetNotification(ctx context.Context, userID, id string) (domain.Notification, error) {
	var row notificationRow
	err := q.db.GetContext(ctx, &row, q.db.Rebind(
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = ? AND id = ?"), userID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Notification{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Notification{}, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return row.toDomain()
}

// SetRead は通知の既読状態を変更する。対象がなければErrNotFound。
func (q *Queries) SetRead(ctx context.Context, userID, id string, read bool) error {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(
		"UPDATE notifications SET is_read = ? WHERE user_id = ? AND id = ?"), b2i(read), userID, id)
	if err != nil {
		return fmt.Errorf("既読状態の更新に失敗: %w", err)
	}
	return requireAffected(res)
}

// DeleteNotification は通知を削除する。対象がなければErrNotFound。
func (q *Queries) DeleteNotification(ctx context.Context, userID, id string) error {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(
		"DELETE FROM notifications WHERE user_id = ? AND id = ?"), userID, id)
	if err != nil {
		return fmt.Errorf("通知の削除に失敗: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListFeed はフィード条件に一致する通知をキーセット順に最大q.Limit件返す。
func (q *Queries) ListFeed(ctx context.Context, fq domain.FeedQuery) ([]domain.Notification, error) {
	where := []string{"user_id = ?"}
	args := []any{fq.UserID}

	if fq.Search != "" {
		where = append(where, `message_folded LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(foldMessage(fq.Search))+"%")
	}
	if len(fq.Types) > 0 {
		where = append(where, "type IN (?)")
		args = append(args, fq.Types)
	}
	if fq.Read != nil {
		where = append(where, "is_read = ?")
		args = append(args, b2i(*fq.Read))
	}
	if fq.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*fq.From))
	}
	if fq.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*fq.To))
	}

	var order string
	switch fq.Sort {
	case domain.SortOldest:
		order = "created_at ASC, id ASC"
		if k := fq.After; k != nil {
			c := formatTime(k.CreatedAt)
			where = append(where, "(created_at > ? OR (created_at = ? AND id > ?))")
			args = append(args, c, c, k.ID)
		}
	case domain.SortType:
		order = "type ASC, created_at DESC, id DESC"
		if k := fq.After; k != nil {
			c := formatTime(k.CreatedAt)
			where = append(where, "(type > ? OR (type = ? AND (created_at < ? OR (created_at = ? AND id < ?))))")
			args = append(args, k.Type, k.Type, c, c, k.ID)
		}
	default:
		order = "created_at DESC, id DESC"
		if k := fq.After; k != nil {
			c := formatTime(k.CreatedAt)
			where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
			args = append(args, c, c, k.ID)
		}
	}

	query := "SELECT " + notificationColumns + " FROM notifications WHERE " +
		strings.Join(where, " AND ") + " ORDER BY " + order + " LIMIT ?"
	args = append(args, fq.Limit)

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("フィードクエリの組み立てに失敗: %w", err)
	}

	var rows []notificationRow
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗: %w", err)
	}
	return toNotifications(rows)
}

func toNotifications(rows []notificationRow) ([]domain.Notification, error) {
	out := make([]domain.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// CountUnread はユーザーの未読通知数を返す。
func (q *Queries) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	if err := q.db.GetContext(ctx, &n, q.db.Rebind(
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0"), userID); err != nil {
		return 0, fmt.Errorf("未読数の取得に失敗: %w", err)
	}
	return n, nil
}

// SetReadBatch はids のうちユーザーが所有する通知の既読状態を一括で変更し、更新できたIDを返す。
func (q *Queries) SetReadBatch(ctx context.Context, userID string, ids []string, read bool) ([]string, error) {
	return q.batchReturning(ctx,
		"UPDATE notifications SET is_read = ? WHERE user_id = ? AND id IN (?) RETURNING id",
		b2i(read), userID, ids)
}

// DeleteBatch はidsのうちユーザーが所有する通知を一括で削除し、削除できたIDを返す。
func (q *Queries) DeleteBatch(ctx context.Context, userID string, ids []string) ([]string, error) {
	return q.batchReturning(ctx,
		"DELETE FROM notifications WHERE user_id = ? AND id IN (?) RETURNING id",
		userID, ids)
}

func (q *Queries) batchReturning(ctx context.Context, query string, args ...any) ([]string, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("一括クエリの組み立てに失敗: %w", err)
	}
	var affected []string
	if err := q.db.SelectContext(ctx, &affected, q.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("一括更新に失敗: %w", err)
	}
	return affected, nil
}

// ListIDs はSelectorに一致するユーザーの通知IDを作成順に返す。
func (q *Queries) ListIDs(ctx context.Context, userID string, sel domain.Selector) ([]string, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if sel.Read != nil {
		where = append(where, "is_read = ?")
		args = append(args, b2i(*sel.Read))
	}
	if sel.Type != "" {
		where = append(where, "type = ?")
		args = append(args, sel.Type)
	}
	if sel.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(*sel.CreatedBefore))
	}

	var ids []string
	query := "SELECT id FROM notifications WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at, id"
	if err := q.db.SelectContext(ctx, &ids, q.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("通知IDの取得に失敗: %w", err)
	}
	return ids, nil
}

// ListExpired はbefore より前に作成された通知を所有者順に最大limit件返す。
func (q *Queries) ListExpired(ctx context.Context, before time.Time, limit int) ([]domain.OwnedID, error) {
	var out []domain.OwnedID
	if err := q.db.SelectContext(ctx, &out, q.db.Rebind(`
		SELECT id, user_id FROM notifications
		WHERE created_at < ?
		ORDER BY user_id, created_at, id
		LIMIT ?`), formatTime(before), limit); err != nil {
		return nil, fmt.Errorf("保持期間切れ通知の取得に失敗: %w", err)
	}
	return out, nil
}

type countRow struct {
	Key   string `db:"k"`
	Count int    `db:"n"`
}

// Aggregate はsince以降に作成されたユーザーの通知を集計する。
func (q *Queries) Aggregate(ctx context.Context, userID string, since time.Time) (domain.Aggregate, error) {
	agg := domain.Aggregate{ByType: map[string]int{}, ByDay: map[string]int{}}
	from := formatTime(since)

	var totals struct {
		Total  int `db:"total"`
		Unread int `db:"unread"`
	}
	if err := q.db.GetContext(ctx, &totals, q.db.Rebind(`
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0) AS unread
		FROM notifications
		WHERE user_id = ? AND created_at >= ?`), userID, from); err != nil {
		return agg, fmt.Errorf("通知の集計に失敗: %w", err)
	}
	agg.Total, agg.Unread = totals.Total, totals.Unread

	var byType []countRow
	if err := q.db.SelectContext(ctx, &byType, q.db.Rebind(`
		SELECT type AS k, COUNT(*) AS n FROM notifications
		WHERE user_id = ? AND created_at >= ?
		GROUP BY type`), userID, from); err != nil {
		return agg, fmt.Errorf("種別ごとの集計に失敗: %w", err)
	}
	for _, r := range byType {
		agg.ByType[r.Key] = r.Count
	}

	var byDay []countRow
	if err := q.db.SelectContext(ctx, &byDay, q.db.Rebind(`
		SELECT substr(created_at, 1, 10) AS k, COUNT(*) AS n FROM notifications
		WHERE user_id = ? AND created_at >= ?
		GROUP BY substr(created_at, 1, 10)`), userID, from); err != nil {
		return agg, fmt.Errorf("日ごとの集計に失敗: %w", err)
	}
	for _, r := range byDay {
		agg.ByDay[r.Key] = r.Count
	}
	return agg, nil
}
