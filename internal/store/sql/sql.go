// Package sql is a rule and template store on SQLite or PostgreSQL via sqlx.
package sql

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gyaneshwarpardhi/cep/internal/rules"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

const (
	maxOpenConns    = 8
	maxIdleConns    = 2
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		rule_id      INTEGER NOT NULL,
		rule_group   VARCHAR(128) NOT NULL DEFAULT '',
		rule_content TEXT NOT NULL,
		PRIMARY KEY (rule_group, rule_id)
	)`,
	`CREATE TABLE IF NOT EXISTS templates (
		template_id      INTEGER NOT NULL PRIMARY KEY,
		template_content TEXT NOT NULL
	)`,
}

type ruleRow struct {
	ID      int    `db:"rule_id"`
	Group   string `db:"rule_group"`
	Content string `db:"rule_content"`
}

type templateRow struct {
	ID      int    `db:"template_id"`
	Content string `db:"template_content"`
}

// Store implements rules.Store and templates.Store. Reads and writes
// reconnect on demand, so the store stays usable after an engine's
// initialization has disconnected it.
type Store struct {
	url    string
	logger *slog.Logger

	mu sync.Mutex
	db *sqlx.DB
}

// New creates a store for dbURL (sqlite://path or postgres://...). Connect
// opens the connection.
func New(dbURL string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{url: dbURL, logger: logger}
}

// Open parses dbURL and opens a pooled connection.
func Open(ctx context.Context, dbURL string) (*sqlx.DB, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	var driver, dsn string
	switch u.Scheme {
	case "sqlite":
		driver = "sqlite3"
		if u.Host != "" {
			dsn = u.Host + u.Path
		} else {
			dsn = u.Path
		}
		if u.RawQuery != "" {
			dsn += "?" + u.RawQuery
		}
	case "postgres":
		driver = "postgres"
		dsn = dbURL
	default:
		return nil, fmt.Errorf("unsupported database scheme: %s (expected sqlite or postgres)", u.Scheme)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Connect opens the database if it is not open yet.
func (s *Store) Connect(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *Store) conn(ctx context.Context) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := Open(ctx, s.url)
	if err != nil {
		return nil, err
	}
	s.db = db
	return db, nil
}

// Disconnect closes the database.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) loadRules(ctx context.Context) ([]*rules.Rule, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []ruleRow
	if err := db.SelectContext(ctx, &rows, `SELECT rule_id, rule_group, rule_content FROM rules ORDER BY rule_group, rule_id`); err != nil {
		return nil, fmt.Errorf("select rules: %w", err)
	}
	out := make([]*rules.Rule, 0, len(rows))
	for _, row := range rows {
		var r rules.Rule
		if err := json.Unmarshal([]byte(row.Content), &r); err != nil {
			return nil, fmt.Errorf("rule %d in group %q: %w", row.ID, row.Group, err)
		}
		r.ID = uint16(row.ID)
		r.Group = row.Group
		out = append(out, &r)
	}
	return out, nil
}

func (s *Store) ListRules(ctx context.Context) (map[uint16]*rules.Rule, error) {
	rs, err := s.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[uint16]*rules.Rule, len(rs))
	for _, r := range rs {
		if prev, dup := out[r.ID]; dup {
			s.logger.Warn("duplicate rule id across groups, last one wins", "rule_id", r.ID, "group", prev.Group)
		}
		out[r.ID] = r
	}
	return out, nil
}

func (s *Store) ListGroupedRules(ctx context.Context) (map[string]map[uint16]*rules.Rule, error) {
	rs, err := s.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[uint16]*rules.Rule)
	for _, r := range rs {
		g, ok := out[r.Group]
		if !ok {
			g = make(map[uint16]*rules.Rule)
			out[r.Group] = g
		}
		g[r.ID] = r
	}
	return out, nil
}

// PutRule inserts or replaces a rule in its group.
func (s *Store) PutRule(ctx context.Context, r *rules.Rule) error {
	content, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rule %d: %w", r.ID, err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	q := db.Rebind(`INSERT INTO rules (rule_id, rule_group, rule_content) VALUES (?, ?, ?)
		ON CONFLICT (rule_group, rule_id) DO UPDATE SET rule_content = excluded.rule_content`)
	if _, err := db.ExecContext(ctx, q, int(r.ID), r.Group, string(content)); err != nil {
		return fmt.Errorf("put rule %d: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes a rule; a missing rule is not an error.
func (s *Store) DeleteRule(ctx context.Context, group string, id uint16) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	q := db.Rebind(`DELETE FROM rules WHERE rule_group = ? AND rule_id = ?`)
	if _, err := db.ExecContext(ctx, q, group, int(id)); err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return nil
}

func (s *Store) GetAllTemplates(ctx context.Context) (map[uint16]*templates.Template, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []templateRow
	if err := db.SelectContext(ctx, &rows, `SELECT template_id, template_content FROM templates`); err != nil {
		return nil, fmt.Errorf("select templates: %w", err)
	}
	out := make(map[uint16]*templates.Template, len(rows))
	for _, row := range rows {
		var t templates.Template
		if err := json.Unmarshal([]byte(row.Content), &t); err != nil {
			return nil, fmt.Errorf("template %d: %w", row.ID, err)
		}
		t.ID = uint16(row.ID)
		out[t.ID] = &t
	}
	return out, nil
}

// PutTemplate inserts or replaces a template.
func (s *Store) PutTemplate(ctx context.Context, t *templates.Template) error {
	content, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode template %d: %w", t.ID, err)
	}
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	q := db.Rebind(`INSERT INTO templates (template_id, template_content) VALUES (?, ?)
		ON CONFLICT (template_id) DO UPDATE SET template_content = excluded.template_content`)
	if _, err := db.ExecContext(ctx, q, int(t.ID), string(content)); err != nil {
		return fmt.Errorf("put template %d: %w", t.ID, err)
	}
	return nil
}

// DeleteTemplate removes a template; a missing template is not an error.
func (s *Store) DeleteTemplate(ctx context.Context, id uint16) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	q := db.Rebind(`DELETE FROM templates WHERE template_id = ?`)
	if _, err := db.ExecContext(ctx, q, int(id)); err != nil {
		return fmt.Errorf("delete template %d: %w", id, err)
	}
	return nil
}
