// Package statsdb persists collected stats to Postgres, grounded on
// tg/stats/stats_db.py: three logical tables (channels, stats, msgs), with
// msgs replaced wholesale on every save and read-side timestamps reported in
// Europe/Moscow to match the original's to_msk() conversion.
package statsdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leshchenko/tgpool/internal/database"
	"github.com/leshchenko/tgpool/internal/stats"
)

var moscow = mustLoadLocation("Europe/Moscow")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Fails only if the tzdata database is missing entirely; fall back
		// to UTC rather than panicking the whole process at init time.
		return time.UTC
	}
	return loc
}

// Store is the Postgres-backed stats store.
type Store struct {
	db            *database.DB
	channelsTable string
	statsTable    string
	msgsTable     string
}

// Config names the three logical tables, matching the original's
// constructor parameters.
type Config struct {
	ChannelsTable string
	StatsTable    string
	MsgsTable     string
}

// New wraps db with the table names in cfg, defaulting to "channels",
// "stats" and "msgs" when left blank.
func New(db *database.DB, cfg Config) *Store {
	s := &Store{db: db, channelsTable: cfg.ChannelsTable, statsTable: cfg.StatsTable, msgsTable: cfg.MsgsTable}
	if s.channelsTable == "" {
		s.channelsTable = "channels"
	}
	if s.statsTable == "" {
		s.statsTable = "stats"
	}
	if s.msgsTable == "" {
		s.msgsTable = "msgs"
	}
	return s
}

// LoadChannels returns every username from the channels table.
func (s *Store) LoadChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT username FROM %s", s.channelsTable))
	if err != nil {
		return nil, fmt.Errorf("statsdb: loading channel list: %w", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("statsdb: scanning channel row: %w", err)
		}
		channels = append(channels, username)
	}
	return channels, rows.Err()
}

// ChannelLastStats is one row of the per-channel most-recent-snapshot view.
type ChannelLastStats struct {
	Username    string
	Reach       int
	Subscribers int
	CreatedAt   time.Time // converted to Europe/Moscow
}

// LastStats returns, for every channel, its most recent stats row —
// equivalent to the original's calc_last_stats_dataframe (group by username,
// keep the row with the max created_at).
func (s *Store) LastStats(ctx context.Context) ([]ChannelLastStats, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (username) username, reach, subscribers, created_at
		FROM %s
		ORDER BY username, created_at DESC
	`, s.statsTable)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("statsdb: loading last stats: %w", err)
	}
	defer rows.Close()

	var out []ChannelLastStats
	for rows.Next() {
		var row ChannelLastStats
		var createdAt time.Time
		if err := rows.Scan(&row.Username, &row.Reach, &row.Subscribers, &createdAt); err != nil {
			return nil, fmt.Errorf("statsdb: scanning last-stats row: %w", err)
		}
		row.CreatedAt = createdAt.In(moscow)
		out = append(out, row)
	}
	return out, rows.Err()
}

// TimeSinceLastUpdate reports how long ago the most recent stats row (across
// all channels) was written, or false if the stats table is empty.
func (s *Store) TimeSinceLastUpdate(ctx context.Context) (time.Duration, bool, error) {
	var createdAt sql.NullTime
	query := fmt.Sprintf("SELECT MAX(created_at) FROM %s", s.statsTable)
	if err := s.db.QueryRowContext(ctx, query).Scan(&createdAt); err != nil {
		return 0, false, fmt.Errorf("statsdb: loading last update time: %w", err)
	}
	if !createdAt.Valid {
		return 0, false, nil
	}
	return time.Since(createdAt.Time), true, nil
}

// SaveNewStats appends one stats row per channel, stamped with the current
// time, matching save_new_stats_to_db.
func (s *Store) SaveNewStats(ctx context.Context, channels []stats.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (created_at, username, reach, subscribers) VALUES ($1, $2, $3, $4)", s.statsTable))
		if err != nil {
			return fmt.Errorf("statsdb: preparing stats insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, ch := range channels {
			if _, err := stmt.ExecContext(ctx, now, ch.Username, ch.Reach, ch.Subscribers); err != nil {
				return fmt.Errorf("statsdb: inserting stats row for %s: %w", ch.Username, err)
			}
		}
		return nil
	})
}

// SaveMsgs replaces the entire msgs table with msgs, matching save_msgs'
// full-table-replace semantics: every prior row is deleted in the same
// transaction as the new batch is inserted, so a reader never observes a
// stale mix of old and new rows.
func (s *Store) SaveMsgs(ctx context.Context, msgs []stats.Msg) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.msgsTable)); err != nil {
			return fmt.Errorf("statsdb: clearing msgs table: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (username, link, reach, likes, replies, forwards, datetime, text) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			s.msgsTable))
		if err != nil {
			return fmt.Errorf("statsdb: preparing msgs insert: %w", err)
		}
		defer stmt.Close()

		for _, m := range msgs {
			_, err := stmt.ExecContext(ctx, m.Username, m.Link, m.Reach, m.Likes, m.Replies, m.Forwards, m.Datetime.UTC(), m.Text)
			if err != nil {
				return fmt.Errorf("statsdb: inserting msg row for %s: %w", m.Link, err)
			}
		}
		return nil
	})
}
