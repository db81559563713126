package digest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestRedisStore はRedisStoreのStore動作を検証する。
// NOTICE_TEST_REDIS_ADDR が設定されている場合のみ実行する。
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("NOTICE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NOTICE_TEST_REDIS_ADDR が未設定のためスキップします")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Redisに接続できない: %v", err)
	}

	n := 0
	testStore(t, func(t *testing.T) Store {
		n++
		prefix := fmt.Sprintf("notice-test:%d:%d", time.Now().UnixNano(), n)
		t.Cleanup(func() {
			keys, _ := client.Keys(context.Background(), prefix+":*").Result()
			if len(keys) > 0 {
				_ = client.Del(context.Background(), keys...).Err()
			}
		})
		return NewRedisStore(client, prefix)
	})
}
