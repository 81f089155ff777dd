package storage

import (
	"fmt"
	"time"

	"github.com/rklstats/rosterlink/internal/model"
	"github.com/rklstats/rosterlink/internal/realvg"
)

// SnapshotFetched returns true if a karma snapshot for the date has already
// been stored, even if the snapshot was empty.
func (db *DB) SnapshotFetched(date string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(1) FROM snapshot_dates WHERE date = ?", date).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveSnapshot stores the ranked-user list for a date. Uses INSERT OR REPLACE
// for idempotency; an empty list is recorded in snapshot_dates so it is not
// refetched.
func (db *DB) SaveSnapshot(date string, users []realvg.RankedUser) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO snapshot_dates(date, entry_count, fetched_at)
		VALUES (?, ?, ?)`,
		date, len(users), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO karma_snapshots(date, user_id, username, amount, rank)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.Exec(date, u.UserID, u.Username, u.Amount, u.Rank); err != nil {
			return fmt.Errorf("insert snapshot %s/%s: %w", date, u.UserID, err)
		}
	}
	return tx.Commit()
}

// LoadSnapshot returns the stored ranked-user map for a date, keyed by user id.
func (db *DB) LoadSnapshot(date string) (map[string]model.KarmaEntry, error) {
	rows, err := db.conn.Query(
		"SELECT user_id, username, amount, rank FROM karma_snapshots WHERE date = ?", date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]model.KarmaEntry)
	for rows.Next() {
		var id string
		var e model.KarmaEntry
		if err := rows.Scan(&id, &e.Username, &e.Amount, &e.Rank); err != nil {
			return nil, err
		}
		entries[id] = e
	}
	return entries, rows.Err()
}

// HistoryFetched returns true if the ranked-days history for the user has
// already been stored.
func (db *DB) HistoryFetched(userID string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(1) FROM ranked_days_users WHERE user_id = ?", userID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SaveHistory stores a user's ranked-days history.
func (db *DB) SaveHistory(userID string, days []realvg.RankedDay) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO ranked_days_users(user_id, fetched_at)
		VALUES (?, ?)`,
		userID, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ranked_days(user_id, day, karma, rank)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range days {
		if _, err := stmt.Exec(userID, d.Day, d.Karma, d.Rank); err != nil {
			return fmt.Errorf("insert ranked day %s/%s: %w", userID, d.Day, err)
		}
	}
	return tx.Commit()
}

// LoadHistory returns the stored ranked-days history for a user, newest first.
func (db *DB) LoadHistory(userID string) ([]realvg.RankedDay, error) {
	rows, err := db.conn.Query(
		"SELECT day, karma, rank FROM ranked_days WHERE user_id = ? ORDER BY day DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []realvg.RankedDay
	for rows.Next() {
		var d realvg.RankedDay
		if err := rows.Scan(&d.Day, &d.Karma, &d.Rank); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
