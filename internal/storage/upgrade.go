package storage

import (
	"fmt"
)

// migrate brings the database to d.version. A fresh database gets the schema
// created. A database stored at any other version has its tables moved aside
// as <table><oldVersion> and recreated empty.
func (d *DB) migrate() error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	var current int
	if err := tx.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		tx.Rollback()
		return fmt.Errorf("read user_version: %w", err)
	}

	if current != 0 && current != d.version {
		d.log.Info("upgrading schema", "from", current, "to", d.version)
		for _, t := range tables {
			// Best effort: the table may not exist, or the target name may
			// already be taken by an earlier upgrade.
			if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s RENAME TO %s%d", t, t, current)); err != nil {
				d.log.Debug("rename table skipped", "table", t, "err", err)
			}
		}
	}

	if _, err := tx.Exec(schema); err != nil {
		tx.Rollback()
		return fmt.Errorf("create tables: %w", err)
	}
	// PRAGMA does not accept bound parameters; the version is an int.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", d.version)); err != nil {
		tx.Rollback()
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}
