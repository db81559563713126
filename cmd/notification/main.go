// 通知サービスのエントリポイント。
// 通知設定に従って配信を判定し、通知フィードのAPIを提供する。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/notice/internal/config"
	"github.com/nao1215/notice/internal/notification"
	"github.com/nao1215/notice/internal/notification/analytics"
	"github.com/nao1215/notice/internal/notification/bulk"
	"github.com/nao1215/notice/internal/notification/db"
	"github.com/nao1215/notice/internal/notification/delivery"
	"github.com/nao1215/notice/internal/notification/digest"
	"github.com/nao1215/notice/internal/notification/dispatch"
	"github.com/nao1215/notice/internal/notification/feed"
	"github.com/nao1215/notice/internal/notification/preference"
	"github.com/nao1215/notice/internal/notification/retention"
	"github.com/nao1215/notice/pkg/metrics"
	"github.com/nao1215/notice/pkg/middleware"
	"github.com/nao1215/notice/pkg/zlog"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "TOML設定ファイルのパス")
	envFile := flag.String("env", ".env", ".envファイルのパス")
	issueFor := flag.String("issue-token", "", "指定したユーザーIDの開発用JWTを標準出力に書き出して終了する")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "-issue-tokenで発行するJWTの有効期間")
	flag.Parse()

	if *issueFor != "" {
		if err := issueToken(*configPath, *envFile, *issueFor, *tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(*configPath, *envFile); err != nil {
		zlog.Error("通知サービスが異常終了しました", zap.Error(err))
		_ = zlog.Sync()
		os.Exit(1)
	}
	_ = zlog.Sync()
}

func run(configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	if err := zlog.Init(zlog.Config{
		Level:      cfg.Log.Level,
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	queries := db.New(conn)
	m := metrics.New()

	store, closeStore, err := newDigestStore(ctx, cfg.Digest)
	if err != nil {
		return err
	}
	defer closeStore()

	transport, closeTransport, err := newDispatcher(cfg.Dispatch)
	if err != nil {
		return err
	}
	defer closeTransport()
	async := dispatch.NewAsync(transport,
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
		dispatch.WithSendTimeout(cfg.Dispatch.SendTimeout),
		dispatch.WithMetrics(m),
	)

	scheduler := digest.NewScheduler(store, async, m)
	prefs := preference.NewService(queries)
	engine := bulk.NewEngine(queries, bulk.WithRemover(scheduler), bulk.WithMetrics(m))
	purge := retention.NewJob(queries, engine, cfg.Retention.Days, m)

	server := notification.NewServer(cfg, notification.Services{
		DB:          conn,
		Queries:     queries,
		Preferences: prefs,
		Feed:        feed.NewEngine(queries),
		Bulk:        engine,
		Analytics:   analytics.NewAggregator(queries),
		Delivery:    delivery.NewService(queries, prefs, scheduler, async, m),
		Digests:     scheduler,
		Metrics:     m,
	})

	if err := scheduler.Start(cfg.Digest.Schedule); err != nil {
		return err
	}
	if err := purge.Start(cfg.Retention.Schedule); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		zlog.Info("通知サービスを起動します", zap.String("addr", srv.Addr), zap.String("dispatch", cfg.Dispatch.Mode))
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zlog.Info("停止シグナルを受信しました", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("HTTPサーバーの停止に失敗しました", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	purge.Stop(shutdownCtx)
	if err := async.Close(shutdownCtx); err != nil {
		zlog.Warn("送信キューを処理しきれずに停止しました", zap.Error(err))
	}
	zlog.Info("通知サービスを停止しました")
	return nil
}

// issueToken は設定のJWTシークレットで署名した開発用トークンを出力する。
func issueToken(configPath, envFile, userID string, ttl time.Duration) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("jwt_secretが未設定のためトークンを発行できません")
	}
	token, err := middleware.IssueToken(cfg.JWTSecret, userID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// newDigestStore はRedisのアドレスが設定されていればRedis、なければメモリのバケットを返す。
func newDigestStore(ctx context.Context, cfg config.DigestConfig) (digest.Store, func(), error) {
	if cfg.RedisAddr == "" {
		zlog.Warn("Redisが未設定のためダイジェストをメモリに保持します。再起動で失われます")
		return digest.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ダイジェスト用のRedisへの接続に失敗: %w", err)
	}
	return digest.NewRedisStore(client, cfg.RedisPrefix), func() { _ = client.Close() }, nil
}

// newDispatcher は配信モードに応じたDispatcherを返す。
func newDispatcher(cfg config.DispatchConfig) (dispatch.Dispatcher, func(), error) {
	switch cfg.Mode {
	case config.DispatchHTTP:
		return dispatch.NewHTTP(cfg.TransportURL, cfg.Token, cfg.SendTimeout), func() {}, nil
	case config.DispatchKafka:
		k, err := dispatch.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return k, func() {
			if err := k.Close(); err != nil {
				zlog.Warn("Kafkaプロデューサーの停止に失敗しました", zap.Error(err))
			}
		}, nil
	default:
		return dispatch.Log{}, func() {}, nil
	}
}
