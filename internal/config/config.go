// Package config は通知サービスの設定を読み込む。
//
// 優先順位は 既定値 < TOMLファイル < .envファイル < 環境変数。
// .envの値は環境変数として取り込まれるため、既に設定済みの環境変数は上書きしない。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// 配信モード。
const (
	DispatchLog   = "log"
	DispatchHTTP  = "http"
	DispatchKafka = "kafka"
)

// Config はサービス全体の設定。
type Config struct {
	Port        int    `toml:"port"`
	DatabaseURL string `toml:"database_url"`
	// JWTSecret はBearerトークン検証用のHMACシークレット。
	JWTSecret string `toml:"jwt_secret"`
	// TrustUserHeader がtrueの場合、JWTの代わりにX-User-IDヘッダーを信頼する。
	TrustUserHeader bool `toml:"trust_user_header"`
	// InternalToken は通知受付APIを保護する静的トークン。空なら受付APIを公開しない。
	InternalToken  string          `toml:"internal_token"`
	AllowedOrigins []string        `toml:"allowed_origins"`
	Log            LogConfig       `toml:"log"`
	Digest         DigestConfig    `toml:"digest"`
	Dispatch       DispatchConfig  `toml:"dispatch"`
	Retention      RetentionConfig `toml:"retention"`
}

// LogConfig はロガーの設定。
type LogConfig struct {
	Level      string `toml:"level"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DigestConfig はダイジェストスケジューラの設定。
type DigestConfig struct {
	// Schedule はフラッシュ間隔のcron式。
	Schedule string `toml:"schedule"`
	// RedisAddr が空の場合はプロセス内メモリにバケットを保持する。
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

// DispatchConfig は配信トランスポートの設定。
type DispatchConfig struct {
	Mode         string        `toml:"mode"`
	TransportURL string        `toml:"transport_url"`
	Token        string        `toml:"token"`
	KafkaBrokers []string      `toml:"kafka_brokers"`
	KafkaTopic   string        `toml:"kafka_topic"`
	Workers      int           `toml:"workers"`
	QueueSize    int           `toml:"queue_size"`
	SendTimeout  time.Duration `toml:"send_timeout"`
}

// RetentionConfig は保持期間切れ通知の削除ジョブの設定。
type RetentionConfig struct {
	// Days が0の場合は削除ジョブを無効にする。
	Days     int    `toml:"days"`
	Schedule string `toml:"schedule"`
}

// Default は既定値を設定したConfigを返す。
func Default() Config {
	return Config{
		Port:           8080,
		DatabaseURL:    "notice.db",
		AllowedOrigins: []string{"http://localhost:3000"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Digest: DigestConfig{
			Schedule:    "@every 1m",
			RedisPrefix: "notice:digest",
		},
		Dispatch: DispatchConfig{
			Mode:        DispatchLog,
			KafkaTopic:  "notice.deliveries",
			Workers:     4,
			QueueSize:   1024,
			SendTimeout: 5 * time.Second,
		},
		Retention: RetentionConfig{
			Days:     90,
			Schedule: "@daily",
		},
	}
}

// Load は設定を読み込み検証する。tomlPathとenvFileは空なら読み込まない。
// envFileが存在しない場合は無視する。
func Load(tomlPath, envFile string) (Config, error) {
	cfg := Default()

	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
			return Config{}, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", tomlPath, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf(".envファイル %s の読み込みに失敗: %w", envFile, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("portが範囲外です: %d", c.Port))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_urlが必要です"))
	}
	if c.JWTSecret == "" && !c.TrustUserHeader {
		errs = append(errs, errors.New("jwt_secretが必要です（trust_user_header=trueの場合は不要）"))
	}

	switch c.Dispatch.Mode {
	case DispatchLog:
	case DispatchHTTP:
		if c.Dispatch.TransportURL == "" {
			errs = append(errs, errors.New("dispatch.mode=httpにはdispatch.transport_urlが必要です"))
		}
	case DispatchKafka:
		if len(c.Dispatch.KafkaBrokers) == 0 || c.Dispatch.KafkaTopic == "" {
			errs = append(errs, errors.New("dispatch.mode=kafkaにはkafka_brokersとkafka_topicが必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("dispatch.modeが不正です: %q", c.Dispatch.Mode))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.workersは1以上である必要があります: %d", c.Dispatch.Workers))
	}
	if c.Dispatch.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.queue_sizeは1以上である必要があります: %d", c.Dispatch.QueueSize))
	}
	if c.Dispatch.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.send_timeoutは正の値である必要があります: %s", c.Dispatch.SendTimeout))
	}

	if _, err := cron.ParseStandard(c.Digest.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("digest.scheduleが不正です: %w", err))
	}
	if c.Retention.Days < 0 {
		errs = append(errs, fmt.Errorf("retention.daysは0以上である必要があります: %d", c.Retention.Days))
	}
	if c.Retention.Days > 0 {
		if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("retention.scheduleが不正です: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// applyEnv はNOTICE_で始まる環境変数で設定を上書きする。
func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s が整数ではありません: %q", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s が真偽値ではありません: %q", key, v))
				return
			}
			*dst = b
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = splitList(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s が期間ではありません: %q", key, v))
				return
			}
			*dst = d
		}
	}

	num("NOTICE_PORT", &cfg.Port)
	str("NOTICE_DATABASE_URL", &cfg.DatabaseURL)
	str("NOTICE_JWT_SECRET", &cfg.JWTSecret)
	flag("NOTICE_TRUST_USER_HEADER", &cfg.TrustUserHeader)
	str("NOTICE_INTERNAL_TOKEN", &cfg.InternalToken)
	list("NOTICE_ALLOWED_ORIGINS", &cfg.AllowedOrigins)

	str("NOTICE_LOG_LEVEL", &cfg.Log.Level)
	str("NOTICE_LOG_PATH", &cfg.Log.Path)
	num("NOTICE_LOG_MAX_SIZE_MB", &cfg.Log.MaxSizeMB)
	num("NOTICE_LOG_MAX_BACKUPS", &cfg.Log.MaxBackups)
	num("NOTICE_LOG_MAX_AGE_DAYS", &cfg.Log.MaxAgeDays)

	str("NOTICE_DIGEST_SCHEDULE", &cfg.Digest.Schedule)
	str("NOTICE_REDIS_ADDR", &cfg.Digest.RedisAddr)
	str("NOTICE_REDIS_PASSWORD", &cfg.Digest.RedisPassword)
	num("NOTICE_REDIS_DB", &cfg.Digest.RedisDB)
	str("NOTICE_REDIS_PREFIX", &cfg.Digest.RedisPrefix)

	str("NOTICE_DISPATCH_MODE", &cfg.Dispatch.Mode)
	str("NOTICE_TRANSPORT_URL", &cfg.Dispatch.TransportURL)
	str("NOTICE_TRANSPORT_TOKEN", &cfg.Dispatch.Token)
	list("NOTICE_KAFKA_BROKERS", &cfg.Dispatch.KafkaBrokers)
	str("NOTICE_KAFKA_TOPIC", &cfg.Dispatch.KafkaTopic)
	num("NOTICE_DISPATCH_WORKERS", &cfg.Dispatch.Workers)
	num("NOTICE_DISPATCH_QUEUE_SIZE", &cfg.Dispatch.QueueSize)
	dur("NOTICE_DISPATCH_SEND_TIMEOUT", &cfg.Dispatch.SendTimeout)

	num("NOTICE_RETENTION_DAYS", &cfg.Retention.Days)
	str("NOTICE_RETENTION_SCHEDULE", &cfg.Retention.Schedule)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
