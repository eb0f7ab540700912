package configdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

type ConfigDB struct {
	Log logs.Log
	DB  *gorm.DB
}

func NewConfigDB(logger logs.Log, dbFilename string) (*ConfigDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0770)
	configDB, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbFilename), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &ConfigDB{
		Log: logger,
		DB:  configDB,
	}, nil
}

// GenerateNewID returns the next value of the named counter, and increments it.
// Used for long lived camera names, which must never be reused.
func (c *ConfigDB) GenerateNewID(tx *gorm.DB, key string) (int64, error) {
	id := int64(0)
	if err := tx.Raw("SELECT value FROM next_id WHERE key = ?", key).Scan(&id).Error; err != nil {
		return 0, err
	}
	if id == 0 {
		id = 1
		if err := tx.Exec("INSERT INTO next_id (key, value) VALUES (?, ?)", key, id+1).Error; err != nil {
			return 0, err
		}
		return id, nil
	}
	if err := tx.Exec("UPDATE next_id SET value = ? WHERE key = ?", id+1, key).Error; err != nil {
		return 0, err
	}
	return id, nil
}
