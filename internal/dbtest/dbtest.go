// Package dbtest opens isolated in-memory sqlite databases carrying the full
// engine schema for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/uplink/internal/migration"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// Open returns a fresh database. Row locking clauses are stripped because
// sqlite serialises writers on its own.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(migration.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// Node returns a snowflake generator for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	return node
}

func stripForUpdate(d *gorm.DB) {
	sql := d.Statement.SQL.String()
	if !strings.Contains(sql, "FOR UPDATE") {
		return
	}
	newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
	newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
	d.Statement.SQL.Reset()
	d.Statement.SQL.WriteString(newSQL)
}
