package eventdb

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
		CREATE TABLE security_event(
			id INTEGER PRIMARY KEY,
			event_id TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			event_start INT NOT NULL,
			event_end INT,
			combined_score REAL,
			scores BLOB,
			detections BLOB,
			severity TEXT,
			status TEXT NOT NULL,
			created_at INT NOT NULL
		);

		CREATE UNIQUE INDEX idx_security_event_event_id ON security_event(event_id);
		CREATE INDEX idx_security_event_start ON security_event(event_start);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_security_event_status ON security_event(status);
	`))

	return migs
}
