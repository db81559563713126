// Package zlog はサービス全体で共有する構造化ロガーを提供する。
//
// zapをラップし、パッケージ関数（Info/Warn/Error等）でどこからでもログを出力できる。
// ログファイルのパスが設定されている場合はlumberjackでローテーションしながら
// 標準出力と同時にファイルへも書き出す。
package zlog

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config はロガーの設定。
type Config struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string
	// Path はログファイルのパス。空の場合はファイル出力しない。
	Path string
	// MaxSizeMB はローテーションするファイルサイズ（MB）。
	MaxSizeMB int
	// MaxBackups は保持する古いログファイルの数。
	MaxBackups int
	// MaxAgeDays は古いログファイルを保持する日数。
	MaxAgeDays int
}

var (
	mu     sync.RWMutex
	logger = newDefault()
)

// newDefault はInit前に使用するデフォルトのロガーを生成する。
func newDefault() *zap.Logger {
	core := zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stdout), zapcore.InfoLevel)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

func newEncoder() zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encCfg)
}

// Init は設定に従ってグローバルロガーを初期化する。
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if cfg.Path != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(newEncoder(), zapcore.NewMultiWriteSyncer(sinks...), level)
	Set(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)))
	return nil
}

// Set はグローバルロガーを差し替える。テストでzap.NewNop()を渡す用途にも使う。
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// L は現在のロガーを返す。
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("不明なログレベル: %q", s)
	}
}

// Debug はdebugレベルのログを出力する。
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

// Info はinfoレベルのログを出力する。
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

// Warn はwarnレベルのログを出力する。
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

// Error はerrorレベルのログを出力する。
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal はfatalレベルのログを出力してプロセスを終了する。
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// Sync はバッファされたログを書き出す。
func Sync() error {
	return L().Sync()
}
