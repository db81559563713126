package digest

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリにバケットを保持するStore。
// 全体のロックはバケットの取得・削除の間だけ保持し、エントリの操作はバケット単位のロックで行う。
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[Key]*bucket
}

type bucket struct {
	mu      sync.Mutex
	entries []Entry
	due     time.Time
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[Key]*bucket)}
}

// Enqueue はエントリをバケットに追加する。
func (s *MemoryStore) Enqueue(_ context.Context, e Entry) error {
	s.mu.Lock()
	b, ok := s.buckets[e.Key()]
	if !ok {
		b = &bucket{}
		s.buckets[e.Key()] = b
	}
	b.mu.Lock()
	s.mu.Unlock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	if len(b.entries) == 1 || e.Until.Before(b.due) {
		b.due = e.Until
	}
	return nil
}

// Due はnow時点で期限に達したバケットをユーザー、チャネル順に返す。
func (s *MemoryStore) Due(_ context.Context, now time.Time) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []Key
	for k, b := range s.buckets {
		b.mu.Lock()
		if len(b.entries) > 0 && !b.due.After(now) {
			keys = append(keys, k)
		}
		b.mu.Unlock()
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].Channel < keys[j].Channel
	})
	return keys, nil
}

// Drain はバケットをマップから外してから中身を取り出す。
// 外す前にバケットを取得済みのEnqueueの完了を待つため、エントリは失われない。
func (s *MemoryStore) Drain(_ context.Context, key Key) ([]Entry, error) {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	delete(s.buckets, key)
	b.mu.Lock()
	s.mu.Unlock()
	defer b.mu.Unlock()

	entries := b.entries
	b.entries = nil
	return entries, nil
}

// Remove はユーザーの全バケットから指定した通知を取り除く。空になったバケットは削除する。
func (s *MemoryStore) Remove(_ context.Context, userID string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(notificationIDs))
	for _, id := range notificationIDs {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.buckets {
		if k.UserID != userID {
			continue
		}
		b.mu.Lock()
		kept := b.entries[:0]
		for _, e := range b.entries {
			if _, ok := drop[e.NotificationID]; !ok {
				kept = append(kept, e)
			}
		}
		b.entries = kept
		for i, e := range kept {
			if i == 0 || e.Until.Before(b.due) {
				b.due = e.Until
			}
		}
		if len(kept) == 0 {
			delete(s.buckets, k)
		}
		b.mu.Unlock()
	}
	return nil
}

// Len はバケット内のエントリ数を返す。
func (s *MemoryStore) Len(key Key) int {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	b.mu.Lock()
	s.mu.Unlock()
	defer b.mu.Unlock()
	return len(b.entries)
}
