package postgres

import (
	"database/sql"

	migrate "github.com/rubenv/sql-migrate"
)

// Schema migrations, run by New or from memoctl. Slots are keyed by the
// ResourceID string and the codec extension, so switching codecs leaves the
// old rows behind as orphans.

var migrationSource = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1_memo_slots",
			Up: []string{
				`CREATE TABLE memo_slots (
					id TEXT NOT NULL,
					extension TEXT NOT NULL,
					func_hash TEXT NOT NULL,
					payload BYTEA NOT NULL,
					modified_at TIMESTAMP WITH TIME ZONE NOT NULL,
					PRIMARY KEY (id, extension)
				)`,
				`CREATE INDEX memo_slots_func_hash ON memo_slots (func_hash, extension)`,
			},
			Down: []string{
				`DROP TABLE memo_slots`,
			},
		},
	},
}

// Upgrade upgrades a database to the latest schema version.
func Upgrade(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Up)
	return err
}

// Drop clears a database by running all of the migrations in reverse,
// ultimately dropping the slot table.
func Drop(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Down)
	return err
}
