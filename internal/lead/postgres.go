package lead

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the leads table. Execute it via
// [PostgresSink.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS leads (
    id           BIGSERIAL PRIMARY KEY,
    name         TEXT NOT NULL,
    phone        TEXT NOT NULL,
    address      TEXT NOT NULL DEFAULT '',
    heating_type TEXT NOT NULL DEFAULT '',
    unit_age     TEXT NOT NULL DEFAULT '',
    summary      TEXT NOT NULL DEFAULT '',
    temp         TEXT NOT NULL DEFAULT '',
    urgent       BOOLEAN NOT NULL DEFAULT FALSE,
    agent        TEXT NOT NULL DEFAULT '',
    received_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_leads_received_at ON leads(received_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone);
`

// DB is the database interface used by [PostgresSink]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink is a [Sink] backed by a PostgreSQL database.
type PostgresSink struct {
	db DB
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a new [PostgresSink] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresSink.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresSink(db DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Name labels the sink in delivery metrics.
func (*PostgresSink) Name() string { return "postgres" }

// Migrate executes the [Schema] DDL against the database, creating the leads
// table and indexes if they do not already exist.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("lead: migrate: %w", err)
	}
	return nil
}

// Submit inserts the record.
func (s *PostgresSink) Submit(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO leads (
			name, phone, address, heating_type, unit_age,
			summary, temp, urgent, agent, received_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	receivedAt := rec.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, query,
		rec.Name, rec.Phone, rec.Address, rec.HeatingType, rec.UnitAge,
		rec.Summary, rec.Temp, rec.Urgent, rec.Agent, receivedAt,
	)
	if err != nil {
		return fmt.Errorf("lead: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit leads, newest first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	const query = `
		SELECT name, phone, address, heating_type, unit_age,
		       summary, temp, urgent, agent, received_at
		FROM leads
		ORDER BY received_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lead: recent: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.Name, &rec.Phone, &rec.Address, &rec.HeatingType, &rec.UnitAge,
			&rec.Summary, &rec.Temp, &rec.Urgent, &rec.Agent, &rec.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("lead: recent scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead: recent: %w", err)
	}
	return recs, nil
}
