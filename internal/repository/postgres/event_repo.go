package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres

	"github.com/xela07ax/obsidian-remote-cli/internal/audit"
)

const eventColumns = 6

const schemaSQL = `
CREATE TABLE IF NOT EXISTS remote_cli_events (
	id         UUID PRIMARY KEY,
	trace_id   TEXT NOT NULL,
	action     TEXT NOT NULL,
	status     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	timestamp  TIMESTAMPTZ NOT NULL
)`

// EventRepo - необязательное долговременное хранилище журнала событий.
type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(connString string) (*EventRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &EventRepo{db: db}, nil
}

// Ping проверяет доступность базы при старте
func (r *EventRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureSchema создаёт таблицу журнала, если её ещё нет.
func (r *EventRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (r *EventRepo) Close() error {
	return r.db.Close()
}

// WriteBatch реализует audit.Store: одна пачка - один INSERT.
func (r *EventRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	query, vals := buildInsert(events)
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write %d events: %w", len(events), err)
	}
	return nil
}

// buildInsert динамически строит запрос для пакетной вставки
func buildInsert(events []audit.Event) (string, []interface{}) {
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(events)*eventColumns)

	for i, e := range events {
		p := i * eventColumns
		if i > 0 {
			placeholders.WriteString(", ")
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4, p+5, p+6)
		vals = append(vals, e.ID, e.TraceID, e.Action, string(e.Status), e.Detail, e.Timestamp)
	}

	query := "INSERT INTO remote_cli_events (id, trace_id, action, status, detail, timestamp) VALUES " +
		placeholders.String() + " ON CONFLICT (id) DO NOTHING"
	return query, vals
}
