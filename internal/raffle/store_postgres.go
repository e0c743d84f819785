package raffle

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new PostgreSQL-backed raffle store.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the raffle tables when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS raffle_entries (
			id         TEXT PRIMARY KEY,
			address    TEXT NOT NULL,
			amount     BIGINT NOT NULL,
			entered_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS raffle_draws (
			id           TEXT PRIMARY KEY,
			request_id   TEXT NOT NULL UNIQUE,
			status       TEXT NOT NULL,
			winner       TEXT,
			payout       BIGINT NOT NULL DEFAULT 0,
			player_count INTEGER NOT NULL,
			requested_at TIMESTAMPTZ NOT NULL,
			fulfilled_at TIMESTAMPTZ
		);
	`)
	return err
}

func (s *PostgresStore) CreateEntry(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_entries (id, address, amount, entered_at)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.Address, entry.Amount, entry.EnteredAt.UTC())
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, address, amount, entered_at
		FROM raffle_entries
		ORDER BY entered_at DESC
		LIMIT $1
	`, limit)
	return entries, err
}

func (s *PostgresStore) CreateDraw(ctx context.Context, draw Draw) (Draw, error) {
	if draw.ID == "" {
		draw.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_draws (id, request_id, status, winner, payout, player_count, requested_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, draw.ID, draw.RequestID, draw.Status, toNullString(draw.Winner), draw.Payout, draw.PlayerCount, draw.RequestedAt.UTC(), toNullTime(draw.FulfilledAt))
	if err != nil {
		return Draw{}, err
	}
	return draw, nil
}

func (s *PostgresStore) GetDrawByRequestID(ctx context.Context, requestID string) (Draw, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, status, winner, payout, player_count, requested_at, fulfilled_at
		FROM raffle_draws
		WHERE request_id = $1
	`, requestID)
	return scanDraw(row)
}

func (s *PostgresStore) UpdateDraw(ctx context.Context, draw Draw) (Draw, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE raffle_draws
		SET status = $2, winner = $3, payout = $4, fulfilled_at = $5
		WHERE id = $1
	`, draw.ID, draw.Status, toNullString(draw.Winner), draw.Payout, toNullTime(draw.FulfilledAt))
	if err != nil {
		return Draw{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return Draw{}, sql.ErrNoRows
	}
	return draw, nil
}

func (s *PostgresStore) ListDraws(ctx context.Context, limit int) ([]Draw, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, status, winner, payout, player_count, requested_at, fulfilled_at
		FROM raffle_draws
		ORDER BY requested_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Draw
	for rows.Next() {
		draw, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, draw)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraw(row rowScanner) (Draw, error) {
	var (
		draw        Draw
		winner      sql.NullString
		fulfilledAt sql.NullTime
	)
	if err := row.Scan(&draw.ID, &draw.RequestID, &draw.Status, &winner, &draw.Payout, &draw.PlayerCount, &draw.RequestedAt, &fulfilledAt); err != nil {
		return Draw{}, err
	}
	if winner.Valid {
		draw.Winner = winner.String
	}
	if fulfilledAt.Valid {
		draw.FulfilledAt = fulfilledAt.Time.UTC()
	}
	return draw, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
