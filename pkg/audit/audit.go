// Package audit keeps an append-only log of analyzed actions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/hacp-router/pkg/hacp"
)

type Record struct {
	ActionID           string        `json:"action_id"`
	AccountID          string        `json:"account_id,omitempty"`
	Tier               hacp.Level    `json:"tier"`
	Route              hacp.Route    `json:"route"`
	Intent             string        `json:"intent"`
	EmotionalWeight    float64       `json:"emotional_weight"`
	EscalationRequired bool          `json:"escalation_required"`
	Reasons            []hacp.Reason `json:"reasons,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

func NewRecord(accountID string, r hacp.AnalysisResult, at time.Time) Record {
	return Record{
		ActionID:           r.Action.ID,
		AccountID:          accountID,
		Tier:               r.Action.Tier,
		Route:              r.Action.Type,
		Intent:             r.Action.Intent,
		EmotionalWeight:    r.Action.EmotionalWeight,
		EscalationRequired: r.EscalationRequired,
		Reasons:            r.EscalationReasons,
		CreatedAt:          at.UTC(),
	}
}

type Store interface {
	Record(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// SQLStore works against postgres (lib/pq) and sqlite (modernc).
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open connects with driver "postgres" or "sqlite" and runs Migrate.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var name string
	switch driver {
	case "postgres":
		name = "postgres"
	case "sqlite":
		name = "sqlite"
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// a single connection keeps :memory: databases alive and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping %s: %w", driver, err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const schema = `CREATE TABLE IF NOT EXISTS hacp_actions (
	action_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	route TEXT NOT NULL,
	intent TEXT NOT NULL,
	emotional_weight DOUBLE PRECISION NOT NULL,
	escalation_required BOOLEAN NOT NULL,
	reasons TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
)`

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS hacp_actions_created_at ON hacp_actions (created_at)`); err != nil {
		return fmt.Errorf("audit: migrate index: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
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

func (s *SQLStore) Record(ctx context.Context, rec Record) error {
	reasons := make([]string, len(rec.Reasons))
	for i, r := range rec.Reasons {
		reasons[i] = string(r)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO hacp_actions
		(action_id, account_id, tier, route, intent, emotional_weight, escalation_required, reasons, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ActionID, rec.AccountID, rec.Tier.String(), string(rec.Route), rec.Intent,
		rec.EmotionalWeight, rec.EscalationRequired, strings.Join(reasons, ","), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", rec.ActionID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT action_id, account_id, tier, route, intent,
		emotional_weight, escalation_required, reasons, created_at
		FROM hacp_actions ORDER BY created_at DESC, action_id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			tier    string
			route   string
			reasons string
		)
		if err := rows.Scan(&rec.ActionID, &rec.AccountID, &tier, &route, &rec.Intent,
			&rec.EmotionalWeight, &rec.EscalationRequired, &reasons, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if rec.Tier, err = hacp.ParseLevel(tier); err != nil {
			return nil, err
		}
		rec.Route = hacp.Route(route)
		if reasons != "" {
			for _, r := range strings.Split(reasons, ",") {
				rec.Reasons = append(rec.Reasons, hacp.Reason(r))
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
