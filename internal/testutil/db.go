// Package testutil builds throwaway sqlite databases carrying the production
// schema for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/loyaltyrail/internal/migration"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	dbSeq    atomic.Int64
	migrated sync.Map
)

var sqliteTypes = strings.NewReplacer(
	"TIMESTAMPTZ", "TIMESTAMP",
	"JSONB", "TEXT",
)

// NewDB opens a private in-memory database with every migration applied.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	return OpenShared(t, fmt.Sprintf("memdb_%d", dbSeq.Add(1)))
}

// OpenShared opens the named in-memory database. Two handles opened with the
// same name see the same tables, which lets tests model separate replicas.
func OpenShared(t testing.TB, name string) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	stripRowLocks(db)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if _, done := migrated.LoadOrStore(name, true); done {
		return db
	}

	statements, err := migration.UpStatements()
	if err != nil {
		t.Fatalf("failed to read migrations: %v", err)
	}
	for _, stmt := range statements {
		if err := db.Exec(sqliteTypes.Replace(stmt)).Error; err != nil {
			t.Fatalf("failed to apply %q: %v", stmt, err)
		}
	}
	return db
}

// NewNode returns a snowflake generator for test fixtures.
func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	return node
}

// sqlite has no row locks; drop FOR UPDATE clauses before execution.
func stripRowLocks(db *gorm.DB) {
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if !strings.Contains(sql, "FOR UPDATE") {
			return
		}
		sql = strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
		sql = strings.ReplaceAll(sql, "FOR UPDATE", "")
		d.Statement.SQL.Reset()
		d.Statement.SQL.WriteString(sql)
	}
	_ = db.Callback().Query().Before("gorm:query").Register("sqlite_strip_row_locks", strip)
	_ = db.Callback().Row().Before("gorm:row").Register("sqlite_strip_row_locks_row", strip)
	_ = db.Callback().Raw().Before("gorm:raw").Register("sqlite_strip_row_locks_raw", strip)
}
