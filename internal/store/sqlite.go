// Package store persists the graph in SQLite.
//
// The graph lives in memory; the database only receives upserts from the
// engine's writer goroutine and hands every record back on startup. Row
// order follows first insertion so restored neighborhoods keep their
// original edge order.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HendryAvila/wayfinder/internal/graph"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// DBFile is the database file name inside the data directory.
const DBFile = "wayfinder.db"

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{DataDir: filepath.Join(home, ".wayfinder")}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// SQLite implements graph.Store.
type SQLite struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

var _ graph.Store = (*SQLite)(nil)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

func (s *SQLite) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *SQLite) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *SQLite) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// Open creates the data directory if needed, opens SQLite with WAL mode,
// and runs migrations.
func Open(cfg Config) (*SQLite, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	db, err := openDB("sqlite", filepath.Join(cfg.DataDir, DBFile))
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// Pragmas are per connection; one connection keeps them in force.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &SQLite{db: db, cfg: cfg, hooks: defaultStoreHooks()}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *SQLite) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			scope        TEXT NOT NULL,
			fields       TEXT NOT NULL DEFAULT '{}',
			embedding    TEXT NOT NULL DEFAULT '[]',
			log_weight   REAL NOT NULL DEFAULT 0,
			ema_signal   REAL NOT NULL DEFAULT 0,
			ema_quality  REAL NOT NULL DEFAULT 0,
			signal_seen  INTEGER NOT NULL DEFAULT 0,
			quality_seen INTEGER NOT NULL DEFAULT 0,
			last_update  TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS edges (
			id              TEXT PRIMARY KEY,
			from_id         TEXT NOT NULL,
			to_id           TEXT NOT NULL,
			type            TEXT NOT NULL,
			scope           TEXT NOT NULL,
			fields          TEXT NOT NULL DEFAULT '{}',
			embedding       TEXT NOT NULL DEFAULT '[]',
			base_cost       REAL NOT NULL DEFAULT 1,
			log_weight      REAL NOT NULL DEFAULT 0,
			ema_signal      REAL NOT NULL DEFAULT 0,
			ema_quality     REAL NOT NULL DEFAULT 0,
			signal_seen     INTEGER NOT NULL DEFAULT 0,
			quality_seen    INTEGER NOT NULL DEFAULT 0,
			last_update     TEXT,
			link_strength   REAL NOT NULL,
			strength_source TEXT NOT NULL DEFAULT '',
			last_traversed  TEXT,
			created_at      TEXT NOT NULL,
			coactivation    TEXT NOT NULL DEFAULT '{}',
			FOREIGN KEY (from_id) REFERENCES nodes(id),
			FOREIGN KEY (to_id)   REFERENCES nodes(id)
		);

		CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id);

		CREATE TABLE IF NOT EXISTS agent_states (
			edge_id  TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			state    TEXT NOT NULL,
			PRIMARY KEY (edge_id, agent_id),
			FOREIGN KEY (edge_id) REFERENCES edges(id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// SaveNodes upserts nodes in one transaction.
func (s *SQLite) SaveNodes(ctx context.Context, nodes []graph.NodeRecord) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("store: save nodes: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, n := range nodes {
		fields, emb, err := encodeAttrs(n.Fields, n.Embedding)
		if err != nil {
			return fmt.Errorf("store: save node %q: %w", n.ID, err)
		}
		l := n.Learning
		if _, err := s.execHook(ctx, tx,
			`INSERT INTO nodes (id, type, scope, fields, embedding, log_weight, ema_signal, ema_quality, signal_seen, quality_seen, last_update, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   fields = excluded.fields, embedding = excluded.embedding,
			   log_weight = excluded.log_weight, ema_signal = excluded.ema_signal, ema_quality = excluded.ema_quality,
			   signal_seen = excluded.signal_seen, quality_seen = excluded.quality_seen, last_update = excluded.last_update`,
			n.ID, n.Type, n.Scope, fields, emb,
			l.LogWeight, l.EMASignal, l.EMAQuality, l.SignalSeen, l.QualitySeen, formatTime(l.LastUpdate),
			formatTime(n.CreatedAt),
		); err != nil {
			return fmt.Errorf("store: save node %q: %w", n.ID, err)
		}
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("store: save nodes: commit: %w", err)
	}
	return nil
}

// SaveEdges upserts edges' shared state in one transaction.
func (s *SQLite) SaveEdges(ctx context.Context, edges []graph.EdgeRecord) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("store: save edges: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range edges {
		fields, emb, err := encodeAttrs(e.Fields, e.Embedding)
		if err != nil {
			return fmt.Errorf("store: save edge %q: %w", e.ID, err)
		}
		coact, err := json.Marshal(nonNilCounts(e.Coactivation))
		if err != nil {
			return fmt.Errorf("store: save edge %q: %w", e.ID, err)
		}
		l := e.Learning
		if _, err := s.execHook(ctx, tx,
			`INSERT INTO edges (id, from_id, to_id, type, scope, fields, embedding, base_cost,
			                    log_weight, ema_signal, ema_quality, signal_seen, quality_seen, last_update,
			                    link_strength, strength_source, last_traversed, created_at, coactivation)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   fields = excluded.fields, embedding = excluded.embedding, base_cost = excluded.base_cost,
			   log_weight = excluded.log_weight, ema_signal = excluded.ema_signal, ema_quality = excluded.ema_quality,
			   signal_seen = excluded.signal_seen, quality_seen = excluded.quality_seen, last_update = excluded.last_update,
			   link_strength = excluded.link_strength, strength_source = excluded.strength_source,
			   last_traversed = excluded.last_traversed, coactivation = excluded.coactivation`,
			e.ID, e.From, e.To, e.Type, e.Scope, fields, emb, e.BaseCost,
			l.LogWeight, l.EMASignal, l.EMAQuality, l.SignalSeen, l.QualitySeen, formatTime(l.LastUpdate),
			e.LinkStrength, string(e.StrengthSource), formatTime(e.LastTraversed), formatTime(e.CreatedAt), string(coact),
		); err != nil {
			return fmt.Errorf("store: save edge %q: %w", e.ID, err)
		}
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("store: save edges: commit: %w", err)
	}
	return nil
}

// SaveAgentStates upserts per-agent edge state in one transaction.
func (s *SQLite) SaveAgentStates(ctx context.Context, states []graph.AgentRecord) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return fmt.Errorf("store: save agent states: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range states {
		b, err := json.Marshal(a.State)
		if err != nil {
			return fmt.Errorf("store: save agent %q on %q: %w", a.AgentID, a.EdgeID, err)
		}
		if _, err := s.execHook(ctx, tx,
			`INSERT INTO agent_states (edge_id, agent_id, state) VALUES (?, ?, ?)
			 ON CONFLICT(edge_id, agent_id) DO UPDATE SET state = excluded.state`,
			a.EdgeID, a.AgentID, string(b),
		); err != nil {
			return fmt.Errorf("store: save agent %q on %q: %w", a.AgentID, a.EdgeID, err)
		}
	}
	if err := s.commitHook(tx); err != nil {
		return fmt.Errorf("store: save agent states: commit: %w", err)
	}
	return nil
}

// ─── Load ────────────────────────────────────────────────────────────────────

// Load reads every record in first-insertion order.
func (s *SQLite) Load(ctx context.Context) (*graph.Records, error) {
	r := &graph.Records{}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, scope, fields, embedding, log_weight, ema_signal, ema_quality,
		        signal_seen, quality_seen, last_update, created_at
		 FROM nodes ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: load nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			n           graph.NodeRecord
			fields, emb string
			lastUpdate  sql.NullString
			created     string
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.Scope, &fields, &emb,
			&n.Learning.LogWeight, &n.Learning.EMASignal, &n.Learning.EMAQuality,
			&n.Learning.SignalSeen, &n.Learning.QualitySeen, &lastUpdate, &created,
		); err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		if err := decodeAttrs(fields, emb, &n.Fields, &n.Embedding); err != nil {
			return nil, fmt.Errorf("store: node %q: %w", n.ID, err)
		}
		n.Learning.LastUpdate = parseTime(lastUpdate)
		n.CreatedAt = parseTime(sql.NullString{String: created, Valid: true})
		r.Nodes = append(r.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, to_id, type, scope, fields, embedding, base_cost,
		        log_weight, ema_signal, ema_quality, signal_seen, quality_seen, last_update,
		        link_strength, strength_source, last_traversed, created_at, coactivation
		 FROM edges ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("store: load edges: %w", err)
	}
	defer func() { _ = edgeRows.Close() }()
	for edgeRows.Next() {
		var (
			e                          graph.EdgeRecord
			fields, emb, coact, source string
			lastUpdate, lastTraversed  sql.NullString
			created                    string
		)
		if err := edgeRows.Scan(&e.ID, &e.From, &e.To, &e.Type, &e.Scope, &fields, &emb, &e.BaseCost,
			&e.Learning.LogWeight, &e.Learning.EMASignal, &e.Learning.EMAQuality,
			&e.Learning.SignalSeen, &e.Learning.QualitySeen, &lastUpdate,
			&e.LinkStrength, &source, &lastTraversed, &created, &coact,
		); err != nil {
			return nil, fmt.Errorf("store: scan edge: %w", err)
		}
		if err := decodeAttrs(fields, emb, &e.Fields, &e.Embedding); err != nil {
			return nil, fmt.Errorf("store: edge %q: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(coact), &e.Coactivation); err != nil {
			return nil, fmt.Errorf("store: edge %q coactivation: %w", e.ID, err)
		}
		if len(e.Coactivation) == 0 {
			e.Coactivation = nil
		}
		e.StrengthSource = graph.StrengthSource(source)
		e.Learning.LastUpdate = parseTime(lastUpdate)
		e.LastTraversed = parseTime(lastTraversed)
		e.CreatedAt = parseTime(sql.NullString{String: created, Valid: true})
		r.Edges = append(r.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	agentRows, err := s.db.QueryContext(ctx, "SELECT edge_id, agent_id, state FROM agent_states ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("store: load agent states: %w", err)
	}
	defer func() { _ = agentRows.Close() }()
	for agentRows.Next() {
		var (
			a     graph.AgentRecord
			state string
		)
		if err := agentRows.Scan(&a.EdgeID, &a.AgentID, &state); err != nil {
			return nil, fmt.Errorf("store: scan agent state: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &a.State); err != nil {
			return nil, fmt.Errorf("store: agent %q on %q: %w", a.AgentID, a.EdgeID, err)
		}
		r.Agents = append(r.Agents, a)
	}
	if err := agentRows.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func encodeAttrs(fields map[string]string, embedding []float64) (string, string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	if embedding == nil {
		embedding = []float64{}
	}
	f, err := json.Marshal(fields)
	if err != nil {
		return "", "", err
	}
	e, err := json.Marshal(embedding)
	if err != nil {
		return "", "", err
	}
	return string(f), string(e), nil
}

func decodeAttrs(fields, embedding string, dstFields *map[string]string, dstEmb *[]float64) error {
	if err := json.Unmarshal([]byte(fields), dstFields); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	if err := json.Unmarshal([]byte(embedding), dstEmb); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(*dstFields) == 0 {
		*dstFields = nil
	}
	if len(*dstEmb) == 0 {
		*dstEmb = nil
	}
	return nil
}

func nonNilCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
