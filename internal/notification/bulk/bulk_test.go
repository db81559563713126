package bulk

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/notice/internal/notification/db"
	"github.com/nao1215/notice/internal/notification/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

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

func create(t *testing.T, q *db.Queries, userID, id, typ string, read bool) {
	t.Helper()
	if err := q.CreateNotification(context.Background(), domain.Notification{
		ID: id, UserID: userID, Type: typ, Message: "m", Read: read, CreatedAt: t0,
	}); err != nil {
		t.Fatalf("通知の作成に失敗: %v", err)
	}
}

// recordingRemover は除去要求を記録する。
type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) Remove(_ context.Context, _ string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, ids...)
	return nil
}

// flakyStore は指定した呼び出し回のチャンクを失敗させるストア。
type flakyStore struct {
	failCall int
	calls    int
	chunks   [][]string
}

func (f *flakyStore) SetReadBatch(_ context.Context, _ string, ids []string, _ bool) ([]string, error) {
	f.calls++
	f.chunks = append(f.chunks, ids)
	if f.calls == f.failCall {
		return nil, errors.New("chunk failed")
	}
	return ids, nil
}

func (f *flakyStore) DeleteBatch(ctx context.Context, userID string, ids []string) ([]string, error) {
	return f.SetReadBatch(ctx, userID, ids, false)
}

func (f *flakyStore) ListIDs(context.Context, string, domain.Selector) ([]string, error) {
	return nil, nil
}

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%03d", i)
	}
	return ids
}

// TestClampBatchSize はチャンクサイズの丸めを検証する。
func TestClampBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int }{
		{in: 0, want: DefaultBatchSize},
		{in: -1, want: DefaultBatchSize},
		{in: 5, want: MinBatchSize},
		{in: 250, want: 250},
		{in: 10000, want: MaxBatchSize},
	}
	for _, tt := range tests {
		if got := ClampBatchSize(tt.in); got != tt.want {
			t.Errorf("ClampBatchSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// TestDeletePartialFailure は存在しないIDだけが失敗になることを検証する。
func TestDeletePartialFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := setupTestQueries(t)
	create(t, q, "u1", "A", "system", false)
	create(t, q, "u1", "C", "system", false)
	create(t, q, "u2", "D", "system", false)
	remover := &recordingRemover{}
	e := NewEngine(q, WithRemover(remover))

	res := e.Delete(ctx, "u1", []string{"A", "B", "C", "D", "A"}, 0)
	if res.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", res.Succeeded)
	}
	if fmt.Sprint(res.Failed) != "[B D]" {
		t.Errorf("Failed = %v, want [B D]", res.Failed)
	}
	slices.Sort(remover.removed)
	if fmt.Sprint(remover.removed) != "[A C]" {
		t.Errorf("ダイジェストから除去されたID = %v", remover.removed)
	}
	if _, err := q.GetNotification(ctx, "u2", "D"); err != nil {
		t.Errorf("他ユーザーの通知が削除された: %v", err)
	}
}

// TestChunkFailure は失敗したチャンクが他のチャンクを止めないことを検証する。
func TestChunkFailure(t *testing.T) {
	t.Parallel()

	store := &flakyStore{failCall: 2}
	e := NewEngine(store)
	ids := makeIDs(25)

	res := e.MarkRead(context.Background(), "u1", ids, 10)
	if len(store.chunks) != 3 {
		t.Fatalf("チャンク数 = %d, want 3", len(store.chunks))
	}
	if res.Succeeded != 15 {
		t.Errorf("Succeeded = %d, want 15", res.Succeeded)
	}
	if fmt.Sprint(res.Failed) != fmt.Sprint(ids[10:20]) {
		t.Errorf("Failed = %v, want %v", res.Failed, ids[10:20])
	}
}

// TestCanceledContext は終了したctxで未処理のIDが失敗になることを検証する。
func TestCanceledContext(t *testing.T) {
	t.Parallel()

	store := &flakyStore{}
	e := NewEngine(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Delete(ctx, "u1", makeIDs(30), 10)
	if res.Succeeded != 0 || len(res.Failed) != 30 {
		t.Errorf("Result = %d succeeded, %d failed", res.Succeeded, len(res.Failed))
	}
	if store.calls != 0 {
		t.Errorf("ストアが呼ばれた回数 = %d, want 0", store.calls)
	}
}

// TestEmptyIDs は空の入力で空の結果を返すことを検証する。
func TestEmptyIDs(t *testing.T) {
	t.Parallel()

	res := NewEngine(&flakyStore{}).MarkUnread(context.Background(), "u1", nil, 0)
	if res.Succeeded != 0 || res.Failed == nil || len(res.Failed) != 0 {
		t.Errorf("Result = %+v", res)
	}
}

// TestUserScopedOperations はサーバー側で対象を選ぶ一括操作を検証する。
func TestUserScopedOperations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("MarkAllRead", func(t *testing.T) {
		t.Parallel()
		q := setupTestQueries(t)
		create(t, q, "u1", "a", "system", false)
		create(t, q, "u1", "b", "system", true)
		create(t, q, "u2", "c", "system", false)

		res, err := NewEngine(q).MarkAllRead(ctx, "u1")
		if err != nil || res.Succeeded != 1 {
			t.Fatalf("MarkAllRead() = %+v, %v", res, err)
		}
		if n, _ := q.CountUnread(ctx, "u1"); n != 0 {
			t.Errorf("u1の未読数 = %d, want 0", n)
		}
		if n, _ := q.CountUnread(ctx, "u2"); n != 1 {
			t.Errorf("u2の未読数 = %d, want 1", n)
		}
	})

	t.Run("DeleteRead", func(t *testing.T) {
		t.Parallel()
		q := setupTestQueries(t)
		create(t, q, "u1", "a", "system", false)
		create(t, q, "u1", "b", "system", true)

		res, err := NewEngine(q).DeleteRead(ctx, "u1")
		if err != nil || res.Succeeded != 1 {
			t.Fatalf("DeleteRead() = %+v, %v", res, err)
		}
		if _, err := q.GetNotification(ctx, "u1", "a"); err != nil {
			t.Errorf("未読通知が削除された: %v", err)
		}
	})

	t.Run("DeleteByType", func(t *testing.T) {
		t.Parallel()
		q := setupTestQueries(t)
		create(t, q, "u1", "a", "marketing", false)
		create(t, q, "u1", "b", "system", false)
		e := NewEngine(q)

		if _, err := e.DeleteByType(ctx, "u1", ""); !domain.IsValidation(err) {
			t.Errorf("空の種別は検証エラーになるべき: %v", err)
		}
		res, err := e.DeleteByType(ctx, "u1", "marketing")
		if err != nil || res.Succeeded != 1 {
			t.Fatalf("DeleteByType() = %+v, %v", res, err)
		}
	})

	t.Run("DeleteAllはチャンクをまたぐ", func(t *testing.T) {
		t.Parallel()
		q := setupTestQueries(t)
		for _, id := range makeIDs(MaxBatchSize + 20) {
			create(t, q, "u1", id, "system", false)
		}
		res, err := NewEngine(q).DeleteAll(ctx, "u1")
		if err != nil {
			t.Fatalf("DeleteAll()でエラーが発生: %v", err)
		}
		if res.Succeeded != MaxBatchSize+20 || len(res.Failed) != 0 {
			t.Errorf("Result = %d succeeded, %v failed", res.Succeeded, res.Failed)
		}
	})

	t.Run("DeleteOlderThan", func(t *testing.T) {
		t.Parallel()
		q := setupTestQueries(t)
		create(t, q, "u1", "old", "system", false)
		res, err := NewEngine(q).DeleteOlderThan(ctx, "u1", t0)
		if err != nil || res.Succeeded != 0 {
			t.Fatalf("境界と同時刻は削除しない: %+v, %v", res, err)
		}
		res, _ = NewEngine(q).DeleteOlderThan(ctx, "u1", t0.Add(time.Second))
		if res.Succeeded != 1 {
			t.Errorf("Succeeded = %d, want 1", res.Succeeded)
		}
	})
}
