// Package statsd is the statistics intake service: it stores one record per
// reported match and lists them back, all at once or for a given day.
package statsd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var ErrInvalidDate = errors.New("invalid date")

// Record is one reported match.
type Record struct {
	ID       int64     `json:"id"`
	GameID   string    `json:"gameId"`
	GameType string    `json:"gameType"`
	State    string    `json:"state"`
	Country  string    `json:"country"`
	Date     time.Time `json:"date"`
}

// Store persists records through database/sql. Both the sqlite and the
// postgres drivers are supported.
type Store struct {
	db     *sql.DB
	driver string
}

const (
	sqliteSchema = `
CREATE TABLE IF NOT EXISTS statistics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id TEXT NOT NULL,
	game_type TEXT NOT NULL,
	state TEXT NOT NULL,
	country TEXT NOT NULL,
	played_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statistics_played_at ON statistics(played_at);
CREATE TABLE IF NOT EXISTS failed_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	"partition" INTEGER NOT NULL,
	"offset" BIGINT NOT NULL,
	message TEXT NOT NULL,
	error TEXT NOT NULL,
	failed_at BIGINT NOT NULL
);`

	postgresSchema = `
CREATE TABLE IF NOT EXISTS statistics (
	id BIGSERIAL PRIMARY KEY,
	game_id TEXT NOT NULL,
	game_type TEXT NOT NULL,
	state TEXT NOT NULL,
	country TEXT NOT NULL,
	played_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_statistics_played_at ON statistics(played_at);
CREATE TABLE IF NOT EXISTS failed_events (
	id BIGSERIAL PRIMARY KEY,
	topic TEXT NOT NULL,
	"partition" INTEGER NOT NULL,
	"offset" BIGINT NOT NULL,
	message TEXT NOT NULL,
	error TEXT NOT NULL,
	failed_at BIGINT NOT NULL
);`
)

// Open connects, configures the pool and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	if driver == "sqlite" {
		// One writer at a time.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.driver == "postgres" {
		schema = postgresSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error creating schema: %v", err)
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert stores rec and returns it with its id. A zero Date means now.
func (s *Store) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.Date.IsZero() {
		rec.Date = time.Now()
	}
	rec.Date = rec.Date.UTC().Truncate(time.Millisecond)

	query := s.rebind(`
		INSERT INTO statistics (game_id, game_type, state, country, played_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`)
	err := s.db.QueryRowContext(ctx, query,
		rec.GameID, rec.GameType, rec.State, rec.Country, rec.Date.UnixMilli(),
	).Scan(&rec.ID)
	if err != nil {
		return Record{}, fmt.Errorf("error inserting record: %v", err)
	}
	return rec, nil
}

// List returns every record, oldest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return s.query(ctx, `
		SELECT id, game_id, game_type, state, country, played_at
		FROM statistics
		ORDER BY played_at, id`)
}

// ListByDate returns the records of one UTC calendar day.
func (s *Store) ListByDate(ctx context.Context, day, month, year int) ([]Record, error) {
	start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if start.Day() != day || int(start.Month()) != month || start.Year() != year {
		return nil, fmt.Errorf("%w: %02d/%02d/%04d", ErrInvalidDate, day, month, year)
	}
	end := start.AddDate(0, 0, 1)
	return s.query(ctx, `
		SELECT id, game_id, game_type, state, country, played_at
		FROM statistics
		WHERE played_at >= ? AND played_at < ?
		ORDER BY played_at, id`, start.UnixMilli(), end.UnixMilli())
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error listing records: %v", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var playedAt int64
		if err := rows.Scan(&rec.ID, &rec.GameID, &rec.GameType, &rec.State, &rec.Country, &playedAt); err != nil {
			return nil, fmt.Errorf("error scanning record: %v", err)
		}
		rec.Date = time.UnixMilli(playedAt).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordFailure keeps an event that could not be processed.
func (s *Store) RecordFailure(ctx context.Context, topic string, partition int32, offset int64, message, reason string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO failed_events (topic, "partition", "offset", message, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		topic, partition, offset, message, reason, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("error storing failed event: %v", err)
	}
	return nil
}

// FailedEvents counts stored failures.
func (s *Store) FailedEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_events`).Scan(&n)
	return n, err
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
