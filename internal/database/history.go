package database

import (
	sq "github.com/Masterminds/squirrel"
)

// RecordSearch appends a search to the history. Called once per
// submitted query, never from the poll loop.
func (db *DB) RecordSearch(query string, totalImmediate int, taskID *string) error {
	_, err := db.conn.Exec(
		"INSERT INTO search_history (query, total_immediate, task_id) VALUES (?, ?, ?)",
		query, totalImmediate, taskID,
	)
	return err
}

// RecentSearches returns the newest history entries, up to limit.
func (db *DB) RecentSearches(limit int) ([]SearchRecord, error) {
	query, args, err := sq.Select("id", "query", "total_immediate", "task_id", "searched_at").
		From("search_history").
		OrderBy("searched_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SearchRecord
	for rows.Next() {
		var r SearchRecord
		if err := rows.Scan(&r.ID, &r.Query, &r.TotalImmediate, &r.TaskID, &r.SearchedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
