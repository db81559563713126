package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nao1215/notice/internal/notification/domain"
)

func setupTestQueries(t *testing.T) *Queries {
	t.Helper()
	ctx := context.Background()
	conn, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("DB接続に失敗: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := Migrate(ctx, conn); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return New(conn)
}

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T, q *Queries, userID, id, typ, message string, read bool, createdAt time.Time) {
	t.Helper()
	err := q.CreateNotification(context.Background(), domain.Notification{
		ID: id, UserID: userID, Type: typ, Message: message, Read: read, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("通知の作成に失敗: %v", err)
	}
}

func ids(ns []domain.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func equal(a, b []string) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// TestMigrateIdempotent はマイグレーションの再実行が安全であることを検証する。
func TestMigrateIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("DB接続に失敗: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, conn); err != nil {
			t.Fatalf("%d回目のマイグレーションに失敗: %v", i+1, err)
		}
	}
}

// TestNotificationCRUD は単件操作と所有者スコープを検証する。
func TestNotificationCRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)
	link := "/posts/1"
	if err := q.CreateNotification(ctx, domain.Notification{
		ID: "n1", UserID: "u1", Type: "system", Message: "hello", Link: &link, CreatedAt: baseTime,
	}); err != nil {
		t.Fatalf("作成に失敗: %v", err)
	}

	t.Run("取得", func(t *testing.T) {
		got, err := q.GetNotification(ctx, "u1", "n1")
		if err != nil {
			t.Fatalf("取得に失敗: %v", err)
		}
		if got.Link == nil || *got.Link != link || got.Read || !got.CreatedAt.Equal(baseTime) {
			t.Errorf("取得結果 = %+v", got)
		}
	})

	t.Run("他ユーザーからは見えない", func(t *testing.T) {
		if _, err := q.GetNotification(ctx, "u2", "n1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("ErrNotFoundになるべき: %v", err)
		}
		if err := q.SetRead(ctx, "u2", "n1", true); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("ErrNotFoundになるべき: %v", err)
		}
	})

	t.Run("既読と未読の切り替え", func(t *testing.T) {
		if err := q.SetRead(ctx, "u1", "n1", true); err != nil {
			t.Fatalf("既読化に失敗: %v", err)
		}
		n, err := q.CountUnread(ctx, "u1")
		if err != nil || n != 0 {
			t.Errorf("未読数 = %d, err = %v", n, err)
		}
		if err := q.SetRead(ctx, "u1", "n1", false); err != nil {
			t.Fatalf("未読化に失敗: %v", err)
		}
		n, _ = q.CountUnread(ctx, "u1")
		if n != 1 {
			t.Errorf("未読数 = %d, want 1", n)
		}
	})
}

// TestDeleteNotification は単件削除を検証する。
func TestDeleteNotification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)
	seed(t, q, "u1", "n1", "system", "m", false, baseTime)

	if err := q.DeleteNotification(ctx, "u1", "n1"); err != nil {
		t.Fatalf("削除に失敗: %v", err)
	}
	if err := q.DeleteNotification(ctx, "u1", "n1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("2回目の削除はErrNotFoundになるべき: %v", err)
	}
}

// TestListFeed は絞り込みとキーセットページングを検証する。
func TestListFeed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)
	// n2とn3は同時刻でIDが並びの決め手になる
	seed(t, q, "u1", "n1", "system", "Build passed", false, baseTime)
	seed(t, q, "u1", "n2", "security", "New login", true, baseTime.Add(time.Hour))
	seed(t, q, "u1", "n3", "system", "100% done_now", false, baseTime.Add(time.Hour))
	seed(t, q, "u1", "n4", "marketing", "Sale!", false, baseTime.Add(2*time.Hour))
	seed(t, q, "u2", "x1", "system", "other user", false, baseTime)

	tests := []struct {
		name  string
		query domain.FeedQuery
		want  []string
	}{
		{name: "newest", query: domain.FeedQuery{Sort: domain.SortNewest}, want: []string{"n4", "n3", "n2", "n1"}},
		{name: "oldest", query: domain.FeedQuery{Sort: domain.SortOldest}, want: []string{"n1", "n2", "n3", "n4"}},
		{name: "type", query: domain.FeedQuery{Sort: domain.SortType}, want: []string{"n4", "n2", "n3", "n1"}},
		{name: "未読のみ", query: domain.FeedQuery{Sort: domain.SortNewest, Read: new(bool)}, want: []string{"n4", "n3", "n1"}},
		{name: "種別", query: domain.FeedQuery{Sort: domain.SortNewest, Types: []string{"security", "marketing"}}, want: []string{"n4", "n2"}},
		{name: "大文字小文字を無視した検索", query: domain.FeedQuery{Sort: domain.SortNewest, Search: "LOGIN"}, want: []string{"n2"}},
		{name: "ワイルドカード文字はエスケープされる", query: domain.FeedQuery{Sort: domain.SortNewest, Search: "%"}, want: []string{"n3"}},
		{name: "アンダースコアもエスケープされる", query: domain.FeedQuery{Sort: domain.SortNewest, Search: "e_n"}, want: []string{"n3"}},
		{
			name: "期間は両端を含む",
			query: domain.FeedQuery{
				Sort: domain.SortNewest,
				From: ptrTime(baseTime),
				To:   ptrTime(baseTime.Add(time.Hour)),
			},
			want: []string{"n3", "n2", "n1"},
		},
		{
			name:  "カーソル以降",
			query: domain.FeedQuery{Sort: domain.SortNewest, After: &domain.FeedKey{CreatedAt: baseTime.Add(time.Hour), ID: "n3"}},
			want:  []string{"n2", "n1"},
		},
		{
			name:  "type順のカーソル以降",
			query: domain.FeedQuery{Sort: domain.SortType, After: &domain.FeedKey{CreatedAt: baseTime.Add(time.Hour), Type: "security", ID: "n2"}},
			want:  []string{"n3", "n1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fq := tt.query
			fq.UserID = "u1"
			fq.Limit = 10
			got, err := q.ListFeed(ctx, fq)
			if err != nil {
				t.Fatalf("ListFeed()でエラーが発生: %v", err)
			}
			if !equal(ids(got), tt.want) {
				t.Errorf("ids = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

// TestBatchReturning は一括操作が実際に更新したIDのみを返すことを検証する。
func TestBatchReturning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)
	seed(t, q, "u1", "a", "system", "m", false, baseTime)
	seed(t, q, "u1", "c", "system", "m", false, baseTime)
	seed(t, q, "u2", "z", "system", "m", false, baseTime)

	got, err := q.SetReadBatch(ctx, "u1", []string{"a", "b", "c", "z"}, true)
	if err != nil {
		t.Fatalf("SetReadBatch()でエラーが発生: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("更新件数 = %d (%v), want 2", len(got), got)
	}

	got, err = q.DeleteBatch(ctx, "u1", []string{"a", "z"})
	if err != nil {
		t.Fatalf("DeleteBatch()でエラーが発生: %v", err)
	}
	if !equal(got, []string{"a"}) {
		t.Errorf("削除ID = %v, want [a]", got)
	}
	if _, err := q.GetNotification(ctx, "u2", "z"); err != nil {
		t.Errorf("他ユーザーの通知が削除された: %v", err)
	}
}

// TestListIDs はSelectorによる対象選択を検証する。
func TestListIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)
	seed(t, q, "u1", "a", "system", "m", true, baseTime)
	seed(t, q, "u1", "b", "security", "m", false, baseTime.Add(time.Minute))
	seed(t, q, "u1", "c", "system", "m", false, baseTime.Add(2*time.Minute))
	seed(t, q, "u2", "z", "system", "m", true, baseTime)

	read := true
	tests := []struct {
		name string
		sel  domain.Selector
		want []string
	}{
		{name: "全件", sel: domain.Selector{}, want: []string{"a", "b", "c"}},
		{name: "既読", sel: domain.Selector{Read: &read}, want: []string{"a"}},
		{name: "種別", sel: domain.Selector{Type: "system"}, want: []string{"a", "c"}},
		{name: "作成日時より前", sel: domain.Selector{CreatedBefore: ptrTime(baseTime.Add(time.Minute))}, want: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := q.ListIDs(ctx, "u1", tt.sel)
			if err != nil {
				t.Fatalf("ListIDs()でエラーが発生: %v", err)
			}
			if !equal(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestListExpired は保持期間切れの抽出を検証する。
func TestListExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)
	seed(t, q, "u2", "old2", "system", "m", false, baseTime)
	seed(t, q, "u1", "old1", "system", "m", false, baseTime)
	seed(t, q, "u1", "new1", "system", "m", false, baseTime.Add(48*time.Hour))

	got, err := q.ListExpired(ctx, baseTime.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListExpired()でエラーが発生: %v", err)
	}
	want := []domain.OwnedID{{ID: "old1", UserID: "u1"}, {ID: "old2", UserID: "u2"}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("ListExpired() = %v, want %v", got, want)
	}
}

// TestAggregate は集計結果を検証する。
func TestAggregate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)

	t.Run("通知がなくてもゼロ値を返す", func(t *testing.T) {
		agg, err := q.Aggregate(ctx, "nobody", baseTime)
		if err != nil {
			t.Fatalf("Aggregate()でエラーが発生: %v", err)
		}
		if agg.Total != 0 || agg.Unread != 0 || agg.ByType == nil || agg.ByDay == nil {
			t.Errorf("Aggregate() = %+v", agg)
		}
	})

	seed(t, q, "u1", "a", "system", "m", true, baseTime)
	seed(t, q, "u1", "b", "system", "m", false, baseTime.Add(time.Hour))
	seed(t, q, "u1", "c", "security", "m", false, baseTime.Add(24*time.Hour))
	seed(t, q, "u1", "old", "security", "m", false, baseTime.Add(-72*time.Hour))

	t.Run("since以降を集計する", func(t *testing.T) {
		agg, err := q.Aggregate(ctx, "u1", baseTime)
		if err != nil {
			t.Fatalf("Aggregate()でエラーが発生: %v", err)
		}
		if agg.Total != 3 || agg.Unread != 2 {
			t.Errorf("Total = %d, Unread = %d", agg.Total, agg.Unread)
		}
		if agg.ByType["system"] != 2 || agg.ByType["security"] != 1 {
			t.Errorf("ByType = %v", agg.ByType)
		}
		if agg.ByDay["2026-03-01"] != 2 || agg.ByDay["2026-03-02"] != 1 {
			t.Errorf("ByDay = %v", agg.ByDay)
		}
	})
}

// TestPreferences は通知設定の保存と取得を検証する。
func TestPreferences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)

	if _, err := q.GetPreference(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("未作成の設定はErrNotFoundになるべき: %v", err)
	}

	def := domain.DefaultPreference("u1")
	def.CreatedAt, def.UpdatedAt = baseTime, baseTime
	if err := q.CreatePreferenceIfAbsent(ctx, def); err != nil {
		t.Fatalf("作成に失敗: %v", err)
	}

	updated := def
	updated.EmailFrequency = domain.FrequencyDaily
	updated.DigestEnabled = true
	updated.QuietHoursEnabled = true
	start, end := "22:00", "08:00"
	if err := updated.SetQuietHours(&start, &end); err != nil {
		t.Fatalf("SetQuietHours()に失敗: %v", err)
	}
	updated.Timezone = "Asia/Tokyo"
	updated.UpdatedAt = baseTime.Add(time.Hour)

	t.Run("既存レコードがあれば作成しない", func(t *testing.T) {
		if err := q.CreatePreferenceIfAbsent(ctx, updated); err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		got, _ := q.GetPreference(ctx, "u1")
		if got.EmailFrequency != domain.FrequencyImmediate {
			t.Errorf("既存レコードが上書きされた: %+v", got)
		}
	})

	t.Run("古いupdated_atでは更新されない", func(t *testing.T) {
		ok, err := q.UpdatePreference(ctx, updated, baseTime.Add(-time.Minute))
		if err != nil {
			t.Fatalf("UpdatePreference()に失敗: %v", err)
		}
		if ok {
			t.Error("updated_atが一致しない更新は拒否されるべき")
		}
		got, _ := q.GetPreference(ctx, "u1")
		if got.EmailFrequency != domain.FrequencyImmediate {
			t.Errorf("拒否された更新が保存された: %+v", got)
		}
	})

	t.Run("一致するupdated_atで更新されcreated_atは保持される", func(t *testing.T) {
		ok, err := q.UpdatePreference(ctx, updated, baseTime)
		if err != nil {
			t.Fatalf("UpdatePreference()に失敗: %v", err)
		}
		if !ok {
			t.Fatal("updated_atが一致する更新は成功するべき")
		}
		got, err := q.GetPreference(ctx, "u1")
		if err != nil {
			t.Fatalf("取得に失敗: %v", err)
		}
		if got.EmailFrequency != domain.FrequencyDaily || !got.DigestEnabled || got.Timezone != "Asia/Tokyo" {
			t.Errorf("取得結果 = %+v", got)
		}
		s, e, ok := got.QuietWindow()
		if !ok || s != 22*60 || e != 8*60 {
			t.Errorf("QuietWindow() = (%d, %d, %v)", s, e, ok)
		}
		if !got.CreatedAt.Equal(baseTime) || !got.UpdatedAt.Equal(baseTime.Add(time.Hour)) {
			t.Errorf("CreatedAt = %v, UpdatedAt = %v", got.CreatedAt, got.UpdatedAt)
		}
		if !equal(got.InAppTypes, []string{domain.TypeAll}) {
			t.Errorf("InAppTypes = %v", got.InAppTypes)
		}
	})

	t.Run("レコードがなければfalse", func(t *testing.T) {
		other := domain.DefaultPreference("u-missing")
		ok, err := q.UpdatePreference(ctx, other, baseTime)
		if err != nil || ok {
			t.Errorf("UpdatePreference() = (%v, %v), want (false, nil)", ok, err)
		}
	})

	t.Run("削除", func(t *testing.T) {
		if err := q.DeletePreference(ctx, "u1"); err != nil {
			t.Fatalf("削除に失敗: %v", err)
		}
		if err := q.DeletePreference(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("2回目の削除はErrNotFoundになるべき: %v", err)
		}
	})
}
