package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/notice/internal/notification/domain"
)

// removeRetries は楽観ロックが競合した場合のRemoveの再試行回数。
const removeRetries = 5

// RedisStore はRedisにバケットを保持するStore。複数インスタンスで共有できる。
//
// バケットは "<prefix>:bucket:<channel>:<user>" のリストにJSONで保存し、
// 期限は "<prefix>:due" のソート済みセット（スコアはUnixミリ秒）で管理する。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) dueKey() string {
	return s.prefix + ":due"
}

func (s *RedisStore) bucketKey(k Key) string {
	return s.prefix + ":bucket:" + member(k)
}

func member(k Key) string {
	return k.Channel + ":" + k.UserID
}

func parseMember(m string) (Key, bool) {
	channel, userID, ok := strings.Cut(m, ":")
	return Key{UserID: userID, Channel: channel}, ok
}

// Enqueue はエントリをリストに追加し、期限をより早い方に更新する。
func (s *RedisStore) Enqueue(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ダイジェストエントリのシリアライズに失敗: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, s.bucketKey(e.Key()), b)
		p.ZAddLT(ctx, s.dueKey(), redis.Z{Score: float64(e.Until.UnixMilli()), Member: member(e.Key())})
		return nil
	})
	if err != nil {
		return fmt.Errorf("ダイジェストエントリの保存に失敗: %w", err)
	}
	return nil
}

// Due はnow以前に期限を迎えたバケットを返す。
func (s *RedisStore) Due(ctx context.Context, now time.Time) ([]Key, error) {
	members, err := s.client.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("期限到来バケットの取得に失敗: %w", err)
	}
	keys := make([]Key, 0, len(members))
	for _, m := range members {
		if k, ok := parseMember(m); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Drain はMULTI内でリストの取得と削除を行う。
func (s *RedisStore) Drain(ctx context.Context, key Key) ([]Entry, error) {
	var values *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		values = p.LRange(ctx, s.bucketKey(key), 0, -1)
		p.Del(ctx, s.bucketKey(key))
		p.ZRem(ctx, s.dueKey(), member(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("バケットの取り出しに失敗: %w", err)
	}
	return decodeEntries(values.Val())
}

// Remove はユーザーの各チャネルのバケットから指定した通知を取り除く。
func (s *RedisStore) Remove(ctx context.Context, userID string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(notificationIDs))
	for _, id := range notificationIDs {
		drop[id] = struct{}{}
	}

	var errs []error
	for _, ch := range domain.Channels {
		if err := s.removeFromBucket(ctx, Key{UserID: userID, Channel: ch}, drop); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *RedisStore) removeFromBucket(ctx context.Context, key Key, drop map[string]struct{}) error {
	listKey := s.bucketKey(key)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, listKey, 0, -1).Result()
		if err != nil {
			return err
		}
		entries, err := decodeEntries(raw)
		if err != nil {
			return err
		}

		var removed []string
		var due time.Time
		kept := 0
		for i, e := range entries {
			if _, ok := drop[e.NotificationID]; ok {
				removed = append(removed, raw[i])
				continue
			}
			if kept == 0 || e.Until.Before(due) {
				due = e.Until
			}
			kept++
		}
		if len(removed) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if kept == 0 {
				p.Del(ctx, listKey)
				p.ZRem(ctx, s.dueKey(), member(key))
				return nil
			}
			for _, v := range removed {
				p.LRem(ctx, listKey, 1, v)
			}
			p.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(due.UnixMilli()), Member: member(key)})
			return nil
		})
		return err
	}

	for i := 0; i < removeRetries; i++ {
		err := s.client.Watch(ctx, txf, listKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("ダイジェストエントリの削除に失敗: %w", err)
		}
		return nil
	}
	return fmt.Errorf("ダイジェストエントリの削除が競合により失敗: %s", listKey)
}

func decodeEntries(raw []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(raw))
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("ダイジェストエントリの解析に失敗: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
