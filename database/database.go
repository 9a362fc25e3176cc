package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/parcelbroker/parcelbroker/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open connects to the database described by dbval ("DBTYPE=PARAMS",
// sqlite or postgres) and runs schema migration.
func Open(dbval string) (*gorm.DB, error) {
	parts := strings.SplitN(dbval, "=", 2)
	if len(parts) == 1 {
		return nil, fmt.Errorf("format for database string is 'DBTYPE=PARAMS'")
	}

	var dial gorm.Dialector
	switch parts[0] {
	case "sqlite":
		dial = sqlite.Open(parts[1])
	case "postgres":
		dial = postgres.Open(parts[1])
	default:
		return nil, fmt.Errorf("unsupported or unrecognized db type: %s", parts[0])
	}

	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqldb.SetMaxIdleConns(40)
	sqldb.SetMaxOpenConns(80)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if err := migrateSchemas(db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrateSchemas(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Request{},
		&model.Response{},
		&model.ChatThread{},
		&model.Notification{},
	)
}
