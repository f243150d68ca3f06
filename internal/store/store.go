// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists session snapshots to a SQLite database so sessions
// can be listed and re-exported after the process exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Annh770/Blatt/pkg/types"
)

const dbFile = "blatt.db"

// Store manages the session SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database at dataDir/blatt.db, creating the
// schema if it does not exist.
func NewStore(cfg types.StoreConfig) (*Store, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			keywords TEXT,
			description TEXT,
			queries TEXT,
			created_at TEXT,
			partial INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS papers (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			key TEXT NOT NULL,
			title TEXT,
			authors TEXT,
			abstract TEXT,
			year INTEGER,
			venue TEXT,
			citation_count INTEGER,
			doi TEXT,
			arxiv_id TEXT,
			url TEXT,
			source_ids TEXT,
			discovered_round INTEGER,
			discovered_at TEXT,
			priority INTEGER,
			rationale TEXT,
			matched_keywords TEXT,
			score_cache_key TEXT,
			scoring_failed TEXT,
			PRIMARY KEY (session_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			from_key TEXT NOT NULL,
			to_key TEXT NOT NULL,
			direction TEXT NOT NULL,
			discovered_round INTEGER,
			PRIMARY KEY (session_id, from_key, to_key, direction)
		)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			from_key TEXT NOT NULL,
			to_key TEXT NOT NULL,
			relationship_type TEXT,
			confidence REAL,
			PRIMARY KEY (session_id, from_key, to_key)
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			number INTEGER NOT NULL,
			frontier TEXT,
			discovered TEXT,
			started_at TEXT,
			completed_at TEXT,
			status TEXT,
			PRIMARY KEY (session_id, number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_session ON papers(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_session ON edges(session_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// SaveSession persists a snapshot, replacing any previous save of the same
// session.
func (s *Store) SaveSession(ctx context.Context, snap types.GraphSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-saving replaces the session's rows wholesale.
	for _, table := range []string{"papers", "edges", "relationships", "rounds"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, table), snap.SessionID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	queriesJSON, _ := json.Marshal(snap.Seed.Queries)
	partial := 0
	if snap.Partial {
		partial = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, keywords, description, queries, created_at, partial)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			keywords=excluded.keywords, description=excluded.description,
			queries=excluded.queries, created_at=excluded.created_at,
			partial=excluded.partial`,
		snap.SessionID, snap.Seed.Keywords, snap.Seed.Description,
		string(queriesJSON), snap.CreatedAt.UTC().Format(time.RFC3339Nano), partial,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO papers (session_id, key, title, authors, abstract, year, venue,
			citation_count, doi, arxiv_id, url, source_ids, discovered_round,
			discovered_at, priority, rationale, matched_keywords, score_cache_key, scoring_failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing paper insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range snap.Papers {
		authorsJSON, _ := json.Marshal(p.Authors)
		sourceIDsJSON, _ := json.Marshal(p.SourceIDs)

		var priority sql.NullInt64
		var rationale, matchedKeywords, cacheKey string
		if p.Score != nil {
			priority = sql.NullInt64{Int64: int64(p.Score.Priority), Valid: true}
			rationale = p.Score.Rationale
			kwJSON, _ := json.Marshal(p.Score.MatchedKeywords)
			matchedKeywords = string(kwJSON)
			cacheKey = p.Score.CacheKey
		}

		_, err := stmt.ExecContext(ctx,
			snap.SessionID, p.Key, p.Title, string(authorsJSON), p.Abstract,
			p.Year, p.Venue, p.CitationCount, p.DOI, p.ArxivID, p.URL,
			string(sourceIDsJSON), p.DiscoveredRound,
			p.DiscoveredAt.UTC().Format(time.RFC3339Nano),
			priority, rationale, matchedKeywords, cacheKey, p.ScoringFailed,
		)
		if err != nil {
			return fmt.Errorf("inserting paper %s: %w", p.Key, err)
		}
	}

	for _, e := range snap.Edges {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO edges (session_id, from_key, to_key, direction, discovered_round)
			 VALUES (?, ?, ?, ?, ?)`,
			snap.SessionID, e.FromKey, e.ToKey, string(e.Direction), e.DiscoveredRound,
		)
		if err != nil {
			return fmt.Errorf("inserting edge %s -> %s: %w", e.FromKey, e.ToKey, err)
		}
	}

	for _, r := range snap.Relationships {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO relationships (session_id, from_key, to_key, relationship_type, confidence)
			 VALUES (?, ?, ?, ?, ?)`,
			snap.SessionID, r.FromKey, r.ToKey, string(r.Type), r.Confidence,
		)
		if err != nil {
			return fmt.Errorf("inserting relationship %s -> %s: %w", r.FromKey, r.ToKey, err)
		}
	}

	for _, r := range snap.Rounds {
		frontierJSON, _ := json.Marshal(r.Frontier)
		discoveredJSON, _ := json.Marshal(r.Discovered)
		completedAt := ""
		if !r.CompletedAt.IsZero() {
			completedAt = r.CompletedAt.UTC().Format(time.RFC3339Nano)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rounds (session_id, number, frontier, discovered, started_at, completed_at, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.SessionID, r.Number, string(frontierJSON), string(discoveredJSON),
			r.StartedAt.UTC().Format(time.RFC3339Nano), completedAt, string(r.Status),
		)
		if err != nil {
			return fmt.Errorf("inserting round %d: %w", r.Number, err)
		}
	}

	return tx.Commit()
}

// LoadSession reads back a saved snapshot.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (types.GraphSnapshot, error) {
	var snap types.GraphSnapshot
	var queriesJSON, createdAt string
	var partial int

	err := s.db.QueryRowContext(ctx,
		`SELECT id, keywords, description, queries, created_at, partial FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&snap.SessionID, &snap.Seed.Keywords, &snap.Seed.Description, &queriesJSON, &createdAt, &partial)
	if err == sql.ErrNoRows {
		return snap, fmt.Errorf("no session with ID %s", sessionID)
	}
	if err != nil {
		return snap, fmt.Errorf("loading session: %w", err)
	}

	json.Unmarshal([]byte(queriesJSON), &snap.Seed.Queries)
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	snap.Partial = partial != 0

	if err := s.loadPapers(ctx, &snap); err != nil {
		return snap, err
	}
	if err := s.loadEdges(ctx, &snap); err != nil {
		return snap, err
	}
	if err := s.loadRelationships(ctx, &snap); err != nil {
		return snap, err
	}
	if err := s.loadRounds(ctx, &snap); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *Store) loadPapers(ctx context.Context, snap *types.GraphSnapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, title, authors, abstract, year, venue, citation_count, doi,
			arxiv_id, url, source_ids, discovered_round, discovered_at,
			priority, rationale, matched_keywords, score_cache_key, scoring_failed
		 FROM papers WHERE session_id = ? ORDER BY rowid`, snap.SessionID)
	if err != nil {
		return fmt.Errorf("loading papers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p types.Paper
		var authorsJSON, sourceIDsJSON, discoveredAt string
		var priority sql.NullInt64
		var rationale, matchedKeywords, cacheKey string

		if err := rows.Scan(&p.Key, &p.Title, &authorsJSON, &p.Abstract, &p.Year,
			&p.Venue, &p.CitationCount, &p.DOI, &p.ArxivID, &p.URL,
			&sourceIDsJSON, &p.DiscoveredRound, &discoveredAt,
			&priority, &rationale, &matchedKeywords, &cacheKey, &p.ScoringFailed); err != nil {
			return fmt.Errorf("scanning paper: %w", err)
		}

		json.Unmarshal([]byte(authorsJSON), &p.Authors)
		json.Unmarshal([]byte(sourceIDsJSON), &p.SourceIDs)
		p.DiscoveredAt, _ = time.Parse(time.RFC3339Nano, discoveredAt)

		if priority.Valid {
			rec := types.ScoreRecord{
				PaperKey:  p.Key,
				Priority:  int(priority.Int64),
				Rationale: rationale,
				CacheKey:  cacheKey,
			}
			json.Unmarshal([]byte(matchedKeywords), &rec.MatchedKeywords)
			p.Score = &rec
		}
		snap.Papers = append(snap.Papers, p)
	}
	return rows.Err()
}

func (s *Store) loadEdges(ctx context.Context, snap *types.GraphSnapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_key, to_key, direction, discovered_round
		 FROM edges WHERE session_id = ? ORDER BY rowid`, snap.SessionID)
	if err != nil {
		return fmt.Errorf("loading edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.Edge
		var direction string
		if err := rows.Scan(&e.FromKey, &e.ToKey, &direction, &e.DiscoveredRound); err != nil {
			return fmt.Errorf("scanning edge: %w", err)
		}
		e.Direction = types.Direction(direction)
		snap.Edges = append(snap.Edges, e)
	}
	return rows.Err()
}

func (s *Store) loadRelationships(ctx context.Context, snap *types.GraphSnapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_key, to_key, relationship_type, confidence
		 FROM relationships WHERE session_id = ? ORDER BY rowid`, snap.SessionID)
	if err != nil {
		return fmt.Errorf("loading relationships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r types.RelationshipRecord
		var rt string
		if err := rows.Scan(&r.FromKey, &r.ToKey, &rt, &r.Confidence); err != nil {
			return fmt.Errorf("scanning relationship: %w", err)
		}
		r.Type = types.RelationshipType(rt)
		snap.Relationships = append(snap.Relationships, r)
	}
	return rows.Err()
}

func (s *Store) loadRounds(ctx context.Context, snap *types.GraphSnapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, frontier, discovered, started_at, completed_at, status
		 FROM rounds WHERE session_id = ? ORDER BY number`, snap.SessionID)
	if err != nil {
		return fmt.Errorf("loading rounds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r types.ExpansionRound
		var frontierJSON, discoveredJSON, startedAt, completedAt, status string
		if err := rows.Scan(&r.Number, &frontierJSON, &discoveredJSON, &startedAt, &completedAt, &status); err != nil {
			return fmt.Errorf("scanning round: %w", err)
		}
		json.Unmarshal([]byte(frontierJSON), &r.Frontier)
		json.Unmarshal([]byte(discoveredJSON), &r.Discovered)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if completedAt != "" {
			r.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		}
		r.Status = types.RoundStatus(status)
		snap.Rounds = append(snap.Rounds, r)
	}
	return rows.Err()
}

// SessionInfo summarizes one saved session for listing.
type SessionInfo struct {
	ID         string
	Keywords   string
	CreatedAt  time.Time
	PaperCount int
	Partial    bool
}

// ListSessions returns saved sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.keywords, s.created_at, s.partial,
			(SELECT count(*) FROM papers p WHERE p.session_id = s.id)
		 FROM sessions s ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var createdAt string
		var partial int
		if err := rows.Scan(&info.ID, &info.Keywords, &createdAt, &partial, &info.PaperCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		info.Partial = partial != 0
		out = append(out, info)
	}
	return out, rows.Err()
}
