package storage

import "fmt"

// DeleteOlderThan deletes rows from all tables whose timestamp is before the
// given unix epoch. Returns the total number of deleted rows.
func (d *DB) DeleteOlderThan(before int64) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	var total int64
	// Identifiers come from the fixed tables slice; placeholders only bind values.
	for _, t := range tables {
		res, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", t), before)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("delete from %s: %w", t, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}
