package configdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE camera(
			id INTEGER PRIMARY KEY,
			long_lived_name TEXT NOT NULL,
			name TEXT NOT NULL,
			host TEXT NOT NULL,
			stream_path TEXT,
			enabled INT NOT NULL,
			created_at INT NOT NULL,
			updated_at INT NOT NULL
		);

		CREATE UNIQUE INDEX idx_camera_long_lived_name ON camera(long_lived_name);

		CREATE TABLE user(
			id INTEGER PRIMARY KEY,
			username TEXT NOT NULL,
			username_normalized TEXT NOT NULL,
			permissions TEXT NOT NULL,
			name TEXT,
			password BLOB
		);

		CREATE UNIQUE INDEX idx_user_username_normalized ON user(username_normalized);

		CREATE TABLE session(
			created_at INT NOT NULL,
			key BLOB NOT NULL,
			user_id INT NOT NULL,
			expires_at INT
		);

		CREATE UNIQUE INDEX idx_session_key ON session(key);

		CREATE TABLE system_config(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE next_id(
			key TEXT PRIMARY KEY,
			value INT NOT NULL
		);
	`))

	return migs
}
