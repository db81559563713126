package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/notice/internal/notification/domain"
)

type preferenceRow struct {
	UserID             string         `db:"user_id"`
	EmailEnabled       int            `db:"email_enabled"`
	EmailTypes         string         `db:"email_types"`
	PushEnabled        int            `db:"push_enabled"`
	PushTypes          string         `db:"push_types"`
	InAppEnabled       int            `db:"in_app_enabled"`
	InAppTypes         string         `db:"in_app_types"`
	EmailFrequency     string         `db:"email_frequency"`
	DigestEnabled      int            `db:"digest_enabled"`
	QuietHoursEnabled  int            `db:"quiet_hours_enabled"`
	QuietHoursStart    sql.NullString `db:"quiet_hours_start"`
	QuietHoursEnd      sql.NullString `db:"quiet_hours_end"`
	QuietStartMinute   sql.NullInt64  `db:"quiet_start_minute"`
	QuietEndMinute     sql.NullInt64  `db:"quiet_end_minute"`
	MarketingEnabled   int            `db:"marketing_enabled"`
	PromotionalEnabled int            `db:"promotional_enabled"`
	Timezone           string         `db:"timezone"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
}

const preferenceColumns = `user_id, email_enabled, email_types, push_enabled, push_types,
	in_app_enabled, in_app_types, email_frequency, digest_enabled,
	quiet_hours_enabled, quiet_hours_start, quiet_hours_end, quiet_start_minute, quiet_end_minute,
	marketing_enabled, promotional_enabled, timezone, created_at, updated_at`

const preferencePlaceholders = "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?"

func (r preferenceRow) toDomain() (domain.Preference, error) {
	p := domain.Preference{
		UserID:             r.UserID,
		EmailEnabled:       r.EmailEnabled != 0,
		PushEnabled:        r.PushEnabled != 0,
		InAppEnabled:       r.InAppEnabled != 0,
		EmailFrequency:     r.EmailFrequency,
		DigestEnabled:      r.DigestEnabled != 0,
		QuietHoursEnabled:  r.QuietHoursEnabled != 0,
		QuietHoursStart:    nullString(r.QuietHoursStart),
		QuietHoursEnd:      nullString(r.QuietHoursEnd),
		QuietStartMinute:   nullInt(r.QuietStartMinute),
		QuietEndMinute:     nullInt(r.QuietEndMinute),
		MarketingEnabled:   r.MarketingEnabled != 0,
		PromotionalEnabled: r.PromotionalEnabled != 0,
		Timezone:           r.Timezone,
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{r.EmailTypes, &p.EmailTypes},
		{r.PushTypes, &p.PushTypes},
		{r.InAppTypes, &p.InAppTypes},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return domain.Preference{}, fmt.Errorf("種別リストの解析に失敗: %w", err)
		}
	}

	var err error
	if p.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return domain.Preference{}, err
	}
	if p.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return domain.Preference{}, err
	}
	return p, nil
}

func preferenceArgs(p domain.Preference) ([]any, error) {
	var lists [3]string
	for i, types := range [][]string{p.EmailTypes, p.PushTypes, p.InAppTypes} {
		if types == nil {
			types = []string{}
		}
		b, err := json.Marshal(types)
		if err != nil {
			return nil, fmt.Errorf("種別リストのシリアライズに失敗: %w", err)
		}
		lists[i] = string(b)
	}
	return []any{
		p.UserID,
		b2i(p.EmailEnabled), lists[0],
		b2i(p.PushEnabled), lists[1],
		b2i(p.InAppEnabled), lists[2],
		p.EmailFrequency, b2i(p.DigestEnabled),
		b2i(p.QuietHoursEnabled), toNullString(p.QuietHoursStart), toNullString(p.QuietHoursEnd),
		toNullInt(p.QuietStartMinute), toNullInt(p.QuietEndMinute),
		b2i(p.MarketingEnabled), b2i(p.PromotionalEnabled),
		p.Timezone, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	}, nil
}

// GetPreference はユーザーの通知設定を取得する。レコードがなければErrNotFound。
func (q *Queries) GetPreference(ctx context.Context, userID string) (domain.Preference, error) {
	var row preferenceRow
	err := q.db.GetContext(ctx, &row, q.db.Rebind(
		"SELECT "+preferenceColumns+" FROM notification_preferences WHERE user_id = ?"), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Preference{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Preference{}, fmt.Errorf("通知設定の取得に失敗: %w", err)
	}
	return row.toDomain()
}

// CreatePreferenceIfAbsent はレコードがない場合のみ通知設定を作成する。
func (q *Queries) CreatePreferenceIfAbsent(ctx context.Context, p domain.Preference) error {
	args, err := preferenceArgs(p)
	if err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, q.db.Rebind(
		"INSERT INTO notification_preferences ("+preferenceColumns+") VALUES ("+preferencePlaceholders+
			") ON CONFLICT (user_id) DO NOTHING"), args...); err != nil {
		return fmt.Errorf("通知設定の作成に失敗: %w", err)
	}
	return nil
}

// UpdatePreference は保存済みのupdated_atがprevUpdatedAtと一致する場合のみ通知設定を置き換える。
// 他の更新が先に保存されていた場合やレコードがない場合はfalseを返す。created_atは変更しない。
func (q *Queries) UpdatePreference(ctx context.Context, p domain.Preference, prevUpdatedAt time.Time) (bool, error) {
	args, err := preferenceArgs(p)
	if err != nil {
		return false, err
	}
	// preferenceArgsの並びはuser_id, 設定列..., created_at, updated_at
	set := make([]any, 0, len(args)+1)
	set = append(set, args[1:len(args)-2]...)
	set = append(set, args[len(args)-1], p.UserID, formatTime(prevUpdatedAt))
	res, err := q.db.ExecContext(ctx, q.db.Rebind(`
		UPDATE notification_preferences SET
			email_enabled = ?, email_types = ?,
			push_enabled = ?, push_types = ?,
			in_app_enabled = ?, in_app_types = ?,
			email_frequency = ?, digest_enabled = ?,
			quiet_hours_enabled = ?, quiet_hours_start = ?, quiet_hours_end = ?,
			quiet_start_minute = ?, quiet_end_minute = ?,
			marketing_enabled = ?, promotional_enabled = ?,
			timezone = ?, updated_at = ?
		WHERE user_id = ? AND updated_at = ?`), set...)
	if err != nil {
		return false, fmt.Errorf("通知設定の保存に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n > 0, nil
}

// DeletePreference はユーザーの通知設定を削除する。レコードがなければErrNotFound。
func (q *Queries) DeletePreference(ctx context.Context, userID string) error {
	res, err := q.db.ExecContext(ctx, q.db.Rebind(
		"DELETE FROM notification_preferences WHERE user_id = ?"), userID)
	if err != nil {
		return fmt.Errorf("通知設定の削除に失敗: %w", err)
	}
	return requireAffected(res)
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func toNullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
