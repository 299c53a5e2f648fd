package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gatekit/gatekit/internal/model"
)

// Verify at compile time that Store implements all interfaces.
var (
	_ ProjectDirectory = (*Store)(nil)
	_ SubmissionLedger = (*Store)(nil)
)

// Store provides data access to the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and initialises the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	// Ensure the schema_version table exists.
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// Fresh database: initialize to version 0.
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// migrations is an ordered list of migration functions.
	// Index 0 = migration from v0 to v1, etc.
	migrations := []func() error{
		s.migrateV1, // v0 → v1: initial schema
	}

	for i := version; i < len(migrations); i++ {
		if err := migrations[i](); err != nil {
			return fmt.Errorf("migration v%d→v%d: %w", i, i+1, err)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return fmt.Errorf("update schema version to %d: %w", i+1, err)
		}
	}

	return nil
}

// migrateV1 creates the initial schema (v0 → v1).
//
// submissions is append-only: the Store exposes no UPDATE or DELETE for
// it, and seq (AUTOINCREMENT) fixes insertion order so records with
// identical timestamps still sort deterministically.
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id                   TEXT PRIMARY KEY,
		owner_id             TEXT NOT NULL,
		title                TEXT NOT NULL,
		description          TEXT,
		current_state        TEXT NOT NULL,
		current_gate_id      TEXT NOT NULL,
		current_gate_version TEXT NOT NULL,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS submissions (
		seq              INTEGER PRIMARY KEY AUTOINCREMENT,
		id               TEXT NOT NULL UNIQUE,
		project_id       TEXT NOT NULL REFERENCES projects(id),
		gate_id          TEXT NOT NULL,
		gate_version     TEXT NOT NULL,
		state_before     TEXT NOT NULL,
		state_after      TEXT NOT NULL,
		decision         TEXT NOT NULL,
		request_snapshot TEXT NOT NULL,
		result_snapshot  TEXT NOT NULL,
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_project ON submissions(project_id, created_at, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

// CreateProject inserts a new project.
func (s *Store) CreateProject(ctx context.Context, p model.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner_id, title, description, current_state, current_gate_id, current_gate_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Title, p.Description, p.CurrentState,
		p.CurrentGateID, p.CurrentGateVersion, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetProject returns an owner's project. A foreign or unknown id yields
// ErrProjectNotFound either way, so existence is never leaked.
func (s *Store) GetProject(ctx context.Context, ownerID, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, current_state, current_gate_id, current_gate_version, created_at, updated_at
		FROM projects WHERE id = ? AND owner_id = ?`, id, ownerID)
	return scanProject(row)
}

// ListProjects returns all of an owner's projects, most recently updated
// first.
func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, description, current_state, current_gate_id, current_gate_version, created_at, updated_at
		FROM projects WHERE owner_id = ? ORDER BY updated_at DESC, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// ---------------------------------------------------------------------------
// Submissions (append-only ledger)
// ---------------------------------------------------------------------------

// AppendSubmission durably records one evaluation attempt. When advance is
// non-nil the project's state and gate pointer move in the same
// transaction, so the ledger can never claim a transition that did not
// take effect (or the reverse).
func (s *Store) AppendSubmission(ctx context.Context, sub model.Submission, advance *model.ProjectAdvance) (model.Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Submission{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (id, project_id, gate_id, gate_version, state_before, state_after, decision, request_snapshot, result_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ProjectID, sub.GateID, sub.GateVersion, sub.StateBefore, sub.StateAfter,
		sub.Decision, string(sub.RequestSnapshot), string(sub.ResultSnapshot), sub.CreatedAt,
	)
	if err != nil {
		return model.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.Submission{}, fmt.Errorf("submission seq: %w", err)
	}
	sub.Seq = seq

	if advance != nil {
		now := time.Now().UTC().Format(time.RFC3339)
		res, err := tx.ExecContext(ctx, `
			UPDATE projects SET current_state = ?, current_gate_id = ?, current_gate_version = ?, updated_at = ?
			WHERE id = ?`,
			advance.NewState, advance.NewGateID, advance.NewGateVersion, now, advance.ProjectID,
		)
		if err != nil {
			return model.Submission{}, fmt.Errorf("advance project: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return model.Submission{}, err
		}
		if n != 1 {
			return model.Submission{}, fmt.Errorf("advance project %s: %w", advance.ProjectID, model.ErrProjectNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Submission{}, fmt.Errorf("commit: %w", err)
	}
	return sub, nil
}

// GetSubmission returns one immutable record. Ownership is checked through
// the project; a foreign submission yields ErrSubmissionNotFound so
// existence is never leaked.
func (s *Store) GetSubmission(ctx context.Context, ownerID, id string) (*model.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.seq, s.id, s.project_id, s.gate_id, s.gate_version, s.state_before, s.state_after, s.decision, s.request_snapshot, s.result_snapshot, s.created_at
		FROM submissions s JOIN projects p ON p.id = s.project_id
		WHERE s.id = ? AND p.owner_id = ?`, id, ownerID)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrSubmissionNotFound
	}
	return sub, err
}

// ListOptions controls audit listing. Cursor is the opaque token returned
// by a previous page; Desc reverses creation order.
type ListOptions struct {
	Limit  int
	Cursor string
	Desc   bool
}

// ErrInvalidCursor marks an unparseable pagination cursor.
var ErrInvalidCursor = errors.New("invalid cursor")

// cursorToken is the decoded form of the opaque pagination cursor.
type cursorToken struct {
	CreatedAt string `json:"created_at"`
	Seq       int64  `json:"seq"`
}

func encodeCursor(sub model.Submission) string {
	raw, _ := json.Marshal(cursorToken{CreatedAt: sub.CreatedAt, Seq: sub.Seq})
	return base64.URLEncoding.EncodeToString(raw)
}

func decodeCursor(cursor string) (cursorToken, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return cursorToken{}, ErrInvalidCursor
	}
	var tok cursorToken
	if err := json.Unmarshal(raw, &tok); err != nil || tok.Seq == 0 {
		return cursorToken{}, ErrInvalidCursor
	}
	return tok, nil
}

// ListSubmissions returns a page of a project's records ordered by
// creation (created_at, then seq for identical timestamps), plus the
// cursor for the next page ("" when exhausted).
func (s *Store) ListSubmissions(ctx context.Context, ownerID, projectID string, opts ListOptions) ([]model.Submission, string, error) {
	if _, err := s.GetProject(ctx, ownerID, projectID); err != nil {
		return nil, "", err
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT seq, id, project_id, gate_id, gate_version, state_before, state_after, decision, request_snapshot, result_snapshot, created_at
		FROM submissions WHERE project_id = ?`
	args := []any{projectID}

	if opts.Cursor != "" {
		tok, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, "", err
		}
		if opts.Desc {
			query += ` AND (created_at < ? OR (created_at = ? AND seq < ?))`
		} else {
			query += ` AND (created_at > ? OR (created_at = ? AND seq > ?))`
		}
		args = append(args, tok.CreatedAt, tok.CreatedAt, tok.Seq)
	}

	if opts.Desc {
		query += ` ORDER BY created_at DESC, seq DESC`
	} else {
		query += ` ORDER BY created_at ASC, seq ASC`
	}
	query += ` LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, "", err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(subs) > limit {
		subs = subs[:limit]
		nextCursor = encodeCursor(subs[len(subs)-1])
	}
	return subs, nextCursor, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*model.Project, error) {
	var p model.Project
	var description sql.NullString
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &description, &p.CurrentState,
		&p.CurrentGateID, &p.CurrentGateVersion, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	return &p, nil
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var sub model.Submission
	var req, res string
	err := row.Scan(&sub.Seq, &sub.ID, &sub.ProjectID, &sub.GateID, &sub.GateVersion,
		&sub.StateBefore, &sub.StateAfter, &sub.Decision, &req, &res, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	sub.RequestSnapshot = json.RawMessage(req)
	sub.ResultSnapshot = json.RawMessage(res)
	return &sub, nil
}
