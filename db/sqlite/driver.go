package sqlite

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open creates a GORM *DB backed by an SQLite file.
//
// SQLite has a single writer, so the pool is pinned to one connection; this
// turns every gorm transaction into a serialized unit and stands in for the
// row locks the MySQL driver takes with SELECT ... FOR UPDATE.
func Open(path string, log gormlogger.Interface) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	return open(dsn, log)
}

// OpenMemory creates a private in-memory database. Each call gets its own
// named shared-cache database so parallel tests never see each other's rows.
func OpenMemory() (*gorm.DB, error) {
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()),
		gormlogger.Discard)
}

func open(dsn string, log gormlogger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: log, TranslateError: true})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
