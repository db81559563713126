// Package db は通知と通知設定をSQLデータベースに永続化する。
//
// SQLite（modernc.org/sqlite）とPostgreSQL（pgx）の両方で同じSQLを使う。
// 時刻はtimeLayoutの固定幅UTC文字列、真偽値は0/1の整数で保存する。
package db

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/notice/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout は辞書順と時系列順が一致する固定幅の時刻形式。
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Open はURLに応じたドライバでデータベースに接続する。
// "postgres" で始まるURLはPostgreSQL、それ以外はSQLiteのファイルパスとして扱う。
func Open(ctx context.Context, url string) (*sqlx.DB, error) {
	driver, dsn := "sqlite", sqliteDSN(url)
	if strings.HasPrefix(url, "postgres") {
		driver, dsn = "pgx", url
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if driver == "sqlite" && strings.Contains(url, ":memory:") {
		// インメモリDBは接続ごとに別のDBになるため1接続に制限する
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	return conn, nil
}

// Migrate は埋め込みのマイグレーションを適用する。
func Migrate(ctx context.Context, conn *sqlx.DB) error {
	if _, err := migration.Run(ctx, conn, migrations, "migrations"); err != nil {
		return fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, ":memory:") || strings.Contains(path, "?") {
		return path
	}
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Queries は通知と通知設定のクエリを実行する。
type Queries struct {
	db *sqlx.DB
}

// New はQueriesを生成する。
func New(conn *sqlx.DB) *Queries {
	return &Queries{db: conn}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("保存された時刻の解析に失敗: %w", err)
	}
	return t, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
