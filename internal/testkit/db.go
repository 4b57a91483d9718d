// Package testkit holds shared fixtures for package tests: an in-memory
// SQLite database with the service schema and helpers that move stored
// timestamps around.
package testkit

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/penwork/internal/migration"
	"gorm.io/gorm"
)

// OpenDB returns a fresh in-memory database with the SQLite schema applied.
// The pool is pinned to one connection so every query sees the same memory
// database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLite(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}
