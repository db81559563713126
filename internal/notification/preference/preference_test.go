package preference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nao1215/notice/internal/notification/db"
	"github.com/nao1215/notice/internal/notification/domain"
)

func ptr[T any](v T) *T { return &v }

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func setupTestQueries(t *testing.T) *db.Queries {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("DB接続に失敗: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := db.Migrate(ctx, conn); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return db.New(conn)
}

func newTestService(store Store) *Service {
	s := NewService(store)
	s.now = func() time.Time { return testNow }
	return s
}

func setupTestService(t *testing.T) *Service {
	t.Helper()
	return newTestService(setupTestQueries(t))
}

// interleavedStore は最初の保存の直前にbeforeUpdateを1回だけ実行し、同時更新を再現する。
type interleavedStore struct {
	*db.Queries
	beforeUpdate func()
	attempts     int
}

func (s *interleavedStore) UpdatePreference(ctx context.Context, p domain.Preference, prev time.Time) (bool, error) {
	s.attempts++
	if f := s.beforeUpdate; f != nil {
		s.beforeUpdate = nil
		f()
	}
	return s.Queries.UpdatePreference(ctx, p, prev)
}

// staleStore は保存を常に競合として扱う。
type staleStore struct {
	*db.Queries
}

func (staleStore) UpdatePreference(context.Context, domain.Preference, time.Time) (bool, error) {
	return false, nil
}

// brokenStore は常にエラーを返すストア。
type brokenStore struct{}

var errBroken = errors.New("store unavailable")

func (brokenStore) GetPreference(context.Context, string) (domain.Preference, error) {
	return domain.Preference{}, errBroken
}
func (brokenStore) CreatePreferenceIfAbsent(context.Context, domain.Preference) error { return errBroken }
func (brokenStore) UpdatePreference(context.Context, domain.Preference, time.Time) (bool, error) {
	return false, errBroken
}
func (brokenStore) DeletePreference(context.Context, string) error { return errBroken }

// TestGet は既定値の遅延作成を検証する。
func TestGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestService(t)

	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get()でエラーが発生: %v", err)
	}
	want := domain.DefaultPreference("u1")
	if got.EmailFrequency != want.EmailFrequency || len(got.EmailTypes) != 3 || got.InAppTypes[0] != domain.TypeAll {
		t.Errorf("既定値が返るべき: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("作成日時が設定されていない")
	}

	// 2回目は保存済みのレコードが返る
	again, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("2回目のGet()でエラーが発生: %v", err)
	}
	if !again.CreatedAt.Equal(got.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", again.CreatedAt, got.CreatedAt)
	}
}

// TestResolve はストア障害時に既定値で続行することを検証する。
func TestResolve(t *testing.T) {
	t.Parallel()

	s := NewService(brokenStore{})
	if _, err := s.Get(context.Background(), "u1"); !errors.Is(err, errBroken) {
		t.Errorf("Get()はストアのエラーを返すべき: %v", err)
	}
	p := s.Resolve(context.Background(), "u1")
	if p.UserID != "u1" || !p.EmailEnabled || p.InAppTypes[0] != domain.TypeAll {
		t.Errorf("Resolve()は既定値を返すべき: %+v", p)
	}
}

// TestUpsert は部分更新の適用と検証を確認する。
func TestUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestService(t)

	t.Run("指定したフィールドのみ変更される", func(t *testing.T) {
		got, err := s.Upsert(ctx, "u1", Patch{
			EmailFrequency:    ptr(domain.FrequencyDaily),
			DigestEnabled:     ptr(true),
			QuietHoursEnabled: ptr(true),
			QuietHoursStart:   ptr("22:00"),
			QuietHoursEnd:     ptr("08:00"),
			EmailTypes:        []string{"system", "system", "security"},
			Timezone:          ptr("Asia/Tokyo"),
		})
		if err != nil {
			t.Fatalf("Upsert()でエラーが発生: %v", err)
		}
		if got.EmailFrequency != domain.FrequencyDaily || !got.DigestEnabled || got.Timezone != "Asia/Tokyo" {
			t.Errorf("更新結果 = %+v", got)
		}
		if len(got.EmailTypes) != 2 {
			t.Errorf("EmailTypesの重複が除去されていない: %v", got.EmailTypes)
		}
		if !got.PushEnabled || len(got.PushTypes) != 3 {
			t.Errorf("未指定のフィールドが変更された: %+v", got)
		}
		if start, end, ok := got.QuietWindow(); !ok || start != 1320 || end != 480 {
			t.Errorf("QuietWindow() = (%d, %d, %v)", start, end, ok)
		}

		stored, err := s.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}
		if stored.EmailFrequency != domain.FrequencyDaily {
			t.Errorf("保存されていない: %+v", stored)
		}
	})

	t.Run("空文字列で片方を消すと不整合で拒否される", func(t *testing.T) {
		_, err := s.Upsert(ctx, "u1", Patch{QuietHoursEnd: ptr("")})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) || ve.Field != "quiet_hours" {
			t.Fatalf("quiet_hoursのValidationErrorになるべき: %v", err)
		}
	})

	t.Run("両方消せば静穏時間なし", func(t *testing.T) {
		got, err := s.Upsert(ctx, "u1", Patch{QuietHoursStart: ptr(""), QuietHoursEnd: ptr("")})
		if err != nil {
			t.Fatalf("Upsert()でエラーが発生: %v", err)
		}
		if got.QuietHoursStart != nil || got.QuietHoursEnd != nil {
			t.Errorf("静穏時間が消えていない: %+v", got)
		}
		if _, _, ok := got.QuietWindow(); ok {
			t.Error("QuietWindow()はokがfalseであるべき")
		}
	})
}

// TestUpsertConcurrent は同時更新で別々のフィールドの変更が両方残ることを検証する。
func TestUpsertConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)
	other := newTestService(q)
	store := &interleavedStore{Queries: q}
	store.beforeUpdate = func() {
		if _, err := other.Upsert(ctx, "u1", Patch{MarketingEnabled: ptr(true)}); err != nil {
			t.Errorf("割り込みのUpsert()でエラーが発生: %v", err)
		}
	}
	s := newTestService(store)

	got, err := s.Upsert(ctx, "u1", Patch{Timezone: ptr("Asia/Tokyo")})
	if err != nil {
		t.Fatalf("Upsert()でエラーが発生: %v", err)
	}
	if store.attempts != 2 {
		t.Errorf("保存の試行回数 = %d, want 2", store.attempts)
	}
	if !got.MarketingEnabled || got.Timezone != "Asia/Tokyo" {
		t.Errorf("戻り値で片方の変更が失われた: %+v", got)
	}

	stored, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get()でエラーが発生: %v", err)
	}
	if !stored.MarketingEnabled || stored.Timezone != "Asia/Tokyo" {
		t.Errorf("保存結果で片方の変更が失われた: %+v", stored)
	}
	if !stored.UpdatedAt.After(testNow) {
		t.Errorf("UpdatedAt = %v, 割り込み後の更新日時より後になるべき", stored.UpdatedAt)
	}

	t.Run("競合が続けばErrConflict", func(t *testing.T) {
		s := newTestService(staleStore{Queries: q})
		_, err := s.Upsert(ctx, "u1", Patch{PushEnabled: ptr(false)})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("ErrConflictになるべき: %v", err)
		}
		stored, _ := s.Get(ctx, "u1")
		if !stored.PushEnabled {
			t.Error("競合した更新が保存された")
		}
	})
}

// TestUpsertValidation は入力検証のエラーを確認する。
func TestUpsertValidation(t *testing.T) {
	t.Parallel()

	s := setupTestService(t)
	tests := []struct {
		name      string
		patch     Patch
		wantField string
	}{
		{name: "不明な頻度", patch: Patch{EmailFrequency: ptr("monthly")}, wantField: "email_frequency"},
		{name: "不正な時刻", patch: Patch{QuietHoursStart: ptr("25:00")}, wantField: "quiet_hours_start"},
		{name: "秒付きの時刻", patch: Patch{QuietHoursEnd: ptr("08:00:00")}, wantField: "quiet_hours_end"},
		{name: "不明なタイムゾーン", patch: Patch{Timezone: ptr("Mars/Base")}, wantField: "timezone"},
		{name: "空の種別", patch: Patch{PushTypes: []string{"system", ""}}, wantField: "push_types[1]"},
		{
			name:      "片方のみの静穏時間",
			patch:     Patch{QuietHoursEnabled: ptr(true), QuietHoursStart: ptr("22:00")},
			wantField: "quiet_hours",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Upsert(context.Background(), "u-"+tt.name, tt.patch)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidationErrorになるべき: %v", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

// TestDelete は削除後に既定値へ戻ることを検証する。
func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestService(t)

	if err := s.Delete(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("存在しない設定の削除はErrNotFoundになるべき: %v", err)
	}
	if _, err := s.Upsert(ctx, "u1", Patch{MarketingEnabled: ptr(true)}); err != nil {
		t.Fatalf("Upsert()でエラーが発生: %v", err)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete()でエラーが発生: %v", err)
	}
	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get()でエラーが発生: %v", err)
	}
	if got.MarketingEnabled {
		t.Error("削除後は既定値に戻るべき")
	}
}
