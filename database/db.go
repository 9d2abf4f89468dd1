// Package database persists chat metadata (titles, usernames, kinds) in a
// small sqlite file. The search index stays the authoritative store for
// which chats are archived; this table only enriches status output.
package database

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

// Ready reports whether InitDatabase has run. Metadata lookups are skipped
// entirely when the database was never opened.
func Ready() bool {
	return db != nil
}

func InitDatabase(ctx context.Context, path string) error {
	if db != nil {
		return nil
	}
	log.FromContext(ctx).Debug("Initializing database", "path", path)
	openDb, err := gorm.Open(gormlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}
	db = openDb
	return db.AutoMigrate(&ChatInfo{})
}
