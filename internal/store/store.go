// Package store persists the engine state to SQLite: the
// traceability graph, configuration versions and safety cases, the
// improvement queue, and regulator submission acks. Saves are
// whole-snapshot and transactional so a crash never leaves a partial
// state on disk.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"certtrace/internal/certify"
	"certtrace/internal/improve"
	"certtrace/internal/logging"
	"certtrace/internal/trace"
)

// Store wraps the SQLite database holding the persisted engine state.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open initializes the database at path, creating the file and any
// missing schema. Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer with concurrent readers; don't fail fast under
	// brief lock contention.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("opened database at %s", path)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS requirements (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		verified INTEGER NOT NULL DEFAULT 0,
		retired INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS verifications (
		id TEXT PRIMARY KEY,
		requirement_id TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0,
		evidence TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_verif_req ON verifications(requirement_id);

	CREATE TABLE IF NOT EXISTS tests (
		id TEXT PRIMARY KEY,
		verification_id TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		evidence TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_test_verif ON tests(verification_id);

	CREATE TABLE IF NOT EXISTS changes (
		id TEXT PRIMARY KEY,
		seq INTEGER,
		description TEXT NOT NULL,
		touched TEXT NOT NULL DEFAULT '[]',
		risk_high TEXT NOT NULL DEFAULT '[]',
		risk_medium TEXT NOT NULL DEFAULT '[]',
		ts TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config_versions (
		version TEXT PRIMARY KEY,
		base_version TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		safety_case_id TEXT NOT NULL DEFAULT '',
		verified INTEGER NOT NULL DEFAULT 0,
		verified_date TEXT NOT NULL DEFAULT '',
		revision INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS safety_cases (
		id TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		evidence TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS improvements (
		id TEXT PRIMARY KEY,
		sequence INTEGER NOT NULL UNIQUE,
		category TEXT NOT NULL,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		component TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS report_submissions (
		sequence INTEGER PRIMARY KEY,
		acked_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// migration adds one column to an existing table. Used when a schema
// gains a column after databases with the old shape already exist.
type migration struct {
	version int
	table   string
	column  string
	def     string
}

// pendingMigrations lists schema changes beyond the base tables, in
// order. The changes seq column backfills ordering for databases
// written before it existed.
var pendingMigrations = []migration{
	{1, "changes", "seq", "INTEGER"},
}

func (s *Store) migrate() error {
	applied := make(map[int]bool)
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range pendingMigrations {
		if applied[m.version] {
			continue
		}
		if !s.columnExists(m.table, m.column) {
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		logging.Store("applied migration %d (%s.%s)", m.version, m.table, m.column)
	}
	return nil
}

func (s *Store) columnExists(table, column string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// SaveGraph replaces the persisted traceability graph with the
// current entities of g.
func (s *Store) SaveGraph(g *trace.Graph) error {
	reqs, verifs, tests, changes := g.Entities()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"requirements", "verifications", "tests", "changes"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, r := range reqs {
		_, err := tx.Exec(
			"INSERT INTO requirements (id, description, category, verified, retired) VALUES (?, ?, ?, ?, ?)",
			r.ID, r.Description, r.Category, boolInt(r.Verified), boolInt(r.Retired))
		if err != nil {
			return fmt.Errorf("failed to save requirement %s: %w", r.ID, err)
		}
	}
	for _, v := range verifs {
		_, err := tx.Exec(
			"INSERT INTO verifications (id, requirement_id, description, status, verified, evidence) VALUES (?, ?, ?, ?, ?, ?)",
			v.ID, v.RequirementID, v.Description, string(v.Status), boolInt(v.Verified), mustJSON(v.Evidence))
		if err != nil {
			return fmt.Errorf("failed to save verification %s: %w", v.ID, err)
		}
	}
	for _, t := range tests {
		_, err := tx.Exec(
			"INSERT INTO tests (id, verification_id, description, status, evidence) VALUES (?, ?, ?, ?, ?)",
			t.ID, t.VerificationID, t.Description, string(t.Status), mustJSON(t.Evidence))
		if err != nil {
			return fmt.Errorf("failed to save test %s: %w", t.ID, err)
		}
	}
	for i, c := range changes {
		_, err := tx.Exec(
			"INSERT INTO changes (id, seq, description, touched, risk_high, risk_medium, ts) VALUES (?, ?, ?, ?, ?, ?, ?)",
			c.ID, i, c.Description, mustJSON(c.Touched), mustJSON(c.RiskHigh), mustJSON(c.RiskMedium),
			c.Timestamp.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to save change %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	logging.Store("saved graph: %d requirements, %d verifications, %d tests, %d changes",
		len(reqs), len(verifs), len(tests), len(changes))
	return nil
}

// LoadGraph rebuilds the traceability graph from the database. An
// empty database yields an empty graph.
func (s *Store) LoadGraph() (*trace.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reqs []trace.Requirement
	rows, err := s.db.Query("SELECT id, description, category, verified, retired FROM requirements ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to load requirements: %w", err)
	}
	for rows.Next() {
		var r trace.Requirement
		var verified, retired int
		if err := rows.Scan(&r.ID, &r.Description, &r.Category, &verified, &retired); err != nil {
			rows.Close()
			return nil, err
		}
		r.Verified = verified != 0
		r.Retired = retired != 0
		reqs = append(reqs, r)
	}
	rows.Close()

	var verifs []trace.VerificationObjective
	rows, err = s.db.Query("SELECT id, requirement_id, description, status, verified, evidence FROM verifications ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to load verifications: %w", err)
	}
	for rows.Next() {
		var v trace.VerificationObjective
		var status, evidence string
		var verified int
		if err := rows.Scan(&v.ID, &v.RequirementID, &v.Description, &status, &verified, &evidence); err != nil {
			rows.Close()
			return nil, err
		}
		v.Status = trace.VerificationStatus(status)
		v.Verified = verified != 0
		if err := json.Unmarshal([]byte(evidence), &v.Evidence); err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt evidence for verification %s: %w", v.ID, err)
		}
		verifs = append(verifs, v)
	}
	rows.Close()

	var tests []trace.Test
	rows, err = s.db.Query("SELECT id, verification_id, description, status, evidence FROM tests ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to load tests: %w", err)
	}
	for rows.Next() {
		var t trace.Test
		var status, evidence string
		if err := rows.Scan(&t.ID, &t.VerificationID, &t.Description, &status, &evidence); err != nil {
			rows.Close()
			return nil, err
		}
		t.Status = trace.TestStatus(status)
		if err := json.Unmarshal([]byte(evidence), &t.Evidence); err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt evidence for test %s: %w", t.ID, err)
		}
		tests = append(tests, t)
	}
	rows.Close()

	var changes []trace.Change
	rows, err = s.db.Query("SELECT id, description, touched, risk_high, risk_medium, ts FROM changes ORDER BY seq, ts")
	if err != nil {
		return nil, fmt.Errorf("failed to load changes: %w", err)
	}
	for rows.Next() {
		var c trace.Change
		var touched, riskHigh, riskMedium, ts string
		if err := rows.Scan(&c.ID, &c.Description, &touched, &riskHigh, &riskMedium, &ts); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(touched), &c.Touched); err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt change %s: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(riskHigh), &c.RiskHigh); err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt change %s: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(riskMedium), &c.RiskMedium); err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt change %s: %w", c.ID, err)
		}
		when, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt change %s: %w", c.ID, err)
		}
		c.Timestamp = when
		changes = append(changes, c)
	}
	rows.Close()

	g, err := trace.Restore(reqs, verifs, tests, changes)
	if err != nil {
		logging.StoreError("graph restore failed: %v", err)
		return nil, err
	}
	return g, nil
}

// SaveRegistry replaces the persisted configuration versions and
// safety cases with the current contents of r.
func (s *Store) SaveRegistry(r *certify.Registry) error {
	versions := r.Versions()
	cases := r.SafetyCases()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM config_versions"); err != nil {
		return fmt.Errorf("failed to clear config_versions: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM safety_cases"); err != nil {
		return fmt.Errorf("failed to clear safety_cases: %w", err)
	}

	for _, v := range versions {
		date := ""
		if !v.VerifiedDate.IsZero() {
			date = v.VerifiedDate.UTC().Format(time.RFC3339Nano)
		}
		_, err := tx.Exec(
			"INSERT INTO config_versions (version, base_version, config, status, safety_case_id, verified, verified_date, revision) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			v.Version, v.BaseVersion, mustJSON(v.Config), string(v.Status), v.SafetyCaseID,
			boolInt(v.Verified), date, v.Revision)
		if err != nil {
			return fmt.Errorf("failed to save version %s: %w", v.Version, err)
		}
	}
	for _, sc := range cases {
		_, err := tx.Exec(
			"INSERT INTO safety_cases (id, version, evidence, status) VALUES (?, ?, ?, ?)",
			sc.ID, sc.Version, mustJSON(sc.Evidence), string(sc.Status))
		if err != nil {
			return fmt.Errorf("failed to save safety case %s: %w", sc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registry: %w", err)
	}
	logging.Store("saved registry: %d versions, %d safety cases", len(versions), len(cases))
	return nil
}

// LoadRegistry rebuilds the configuration registry from the database.
func (s *Store) LoadRegistry() (*certify.Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var versions []certify.ConfigVersion
	rows, err := s.db.Query("SELECT version, base_version, config, status, safety_case_id, verified, verified_date, revision FROM config_versions ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to load config versions: %w", err)
	}
	for rows.Next() {
		var v certify.ConfigVersion
		var config, status, date string
		var verified int
		if err := rows.Scan(&v.Version, &v.BaseVersion, &config, &status, &v.SafetyCaseID, &verified, &date, &v.Revision); err != nil {
			rows.Close()
			return nil, err
		}
		v.Status = certify.VersionStatus(status)
		v.Verified = verified != 0
		if err := json.Unmarshal([]byte(config), &v.Config); err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt config for version %s: %w", v.Version, err)
		}
		if date != "" {
			when, err := time.Parse(time.RFC3339Nano, date)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("corrupt date for version %s: %w", v.Version, err)
			}
			v.VerifiedDate = when
		}
		versions = append(versions, v)
	}
	rows.Close()

	var cases []certify.SafetyCase
	rows, err = s.db.Query("SELECT id, version, evidence, status FROM safety_cases ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to load safety cases: %w", err)
	}
	for rows.Next() {
		var sc certify.SafetyCase
		var evidence, status string
		if err := rows.Scan(&sc.ID, &sc.Version, &evidence, &status); err != nil {
			rows.Close()
			return nil, err
		}
		sc.Status = certify.SafetyCaseStatus(status)
		if err := json.Unmarshal([]byte(evidence), &sc.Evidence); err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt evidence for safety case %s: %w", sc.ID, err)
		}
		cases = append(cases, sc)
	}
	rows.Close()

	reg, err := certify.Restore(versions, cases)
	if err != nil {
		logging.StoreError("registry restore failed: %v", err)
		return nil, err
	}
	return reg, nil
}

// SaveImprovements replaces the persisted improvement queue with the
// current contents of q.
func (s *Store) SaveImprovements(q *improve.Queue) error {
	imps := q.Improvements()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM improvements"); err != nil {
		return fmt.Errorf("failed to clear improvements: %w", err)
	}
	for _, imp := range imps {
		_, err := tx.Exec(
			"INSERT INTO improvements (id, sequence, category, priority, status, component, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			imp.ID, imp.Sequence, imp.Category, imp.Priority.String(), string(imp.Status),
			imp.Component, imp.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to save improvement %s: %w", imp.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit improvements: %w", err)
	}
	logging.Store("saved %d improvements", len(imps))
	return nil
}

// LoadImprovements rebuilds the improvement queue from the database.
func (s *Store) LoadImprovements() (*improve.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var imps []improve.Improvement
	rows, err := s.db.Query("SELECT id, sequence, category, priority, status, component, created_at FROM improvements ORDER BY sequence")
	if err != nil {
		return nil, fmt.Errorf("failed to load improvements: %w", err)
	}
	for rows.Next() {
		var imp improve.Improvement
		var priority, status, created string
		if err := rows.Scan(&imp.ID, &imp.Sequence, &imp.Category, &priority, &status, &imp.Component, &created); err != nil {
			rows.Close()
			return nil, err
		}
		p, err := improve.ParsePriority(priority)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt improvement %s: %w", imp.ID, err)
		}
		imp.Priority = p
		imp.Status = improve.Status(status)
		when, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("corrupt improvement %s: %w", imp.ID, err)
		}
		imp.CreatedAt = when
		imps = append(imps, imp)
	}
	rows.Close()

	q, err := improve.RestoreQueue(imps)
	if err != nil {
		logging.StoreError("improvement restore failed: %v", err)
		return nil, err
	}
	return q, nil
}

// SaveSubmissions replaces the persisted regulator submission acks.
func (s *Store) SaveSubmissions(acks map[uint32]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM report_submissions"); err != nil {
		return fmt.Errorf("failed to clear submissions: %w", err)
	}
	for seq, at := range acks {
		_, err := tx.Exec(
			"INSERT INTO report_submissions (sequence, acked_at) VALUES (?, ?)",
			seq, at.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to save submission %d: %w", seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit submissions: %w", err)
	}
	return nil
}

// LoadSubmissions reads the persisted regulator submission acks.
func (s *Store) LoadSubmissions() (map[uint32]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acks := make(map[uint32]time.Time)
	rows, err := s.db.Query("SELECT sequence, acked_at FROM report_submissions")
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var seq uint32
		var at string
		if err := rows.Scan(&seq, &at); err != nil {
			return nil, err
		}
		when, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("corrupt submission %d: %w", seq, err)
		}
		acks[seq] = when
	}
	return acks, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mustJSON encodes v for a TEXT column. The persisted types only hold
// strings and string maps, which cannot fail to encode.
func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	if string(b) == "null" {
		switch v.(type) {
		case map[string]string, map[string][]string:
			return "{}"
		default:
			return "[]"
		}
	}
	return string(b)
}
