package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DatabaseFile is the sqlite file created inside the state directory.
const DatabaseFile = "gateway.sqlite"

// SQLiteStore implements Store on a single sqlite database in WAL mode.
type SQLiteStore struct {
	db *sqlx.DB
}

// projectRow is the raw table shape; state is kept as a JSON blob so the
// tagged variant survives schema changes without migrations.
type projectRow struct {
	Name        string    `db:"project_name"`
	Owner       string    `db:"account_name"`
	ProjectID   string    `db:"project_id"`
	InitialKey  string    `db:"initial_key"`
	FQDN        string    `db:"fqdn"`
	IdleMinutes uint64    `db:"idle_minutes"`
	CreatedAt   time.Time `db:"created_at"`
	State       string    `db:"state"`
}

// NewSQLiteStore opens (or creates) the gateway database in stateDir and
// runs pending migrations.
func NewSQLiteStore(stateDir string) (*SQLiteStore, error) {
	path := filepath.Join(stateDir, DatabaseFile)
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; avoid SQLITE_BUSY under concurrency
	db.SetMaxOpenConns(1)

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	log.WithComponent("storage").Info().Str("path", path).Msg("Database opened")
	return &SQLiteStore{db: db}, nil
}

// NewMemoryStore opens an in-memory database, used by tests.
func NewMemoryStore() (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateProject inserts a new record; the primary key makes name
// uniqueness atomic.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *types.Project) error {
	state, err := json.Marshal(project.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (project_name, account_name, project_id, initial_key, fqdn, idle_minutes, created_at, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		project.Name, project.Owner, project.ProjectID, project.InitialKey,
		project.FQDN, project.IdleMinutes, project.CreatedAt, string(state))
	if err != nil {
		if isConstraintErr(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// FindProject returns the record or ErrNotFound.
func (s *SQLiteStore) FindProject(ctx context.Context, name string) (*types.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM projects WHERE project_name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return row.toProject()
}

// FindProjectsByOwner returns one page of the owner's projects.
func (s *SQLiteStore) FindProjectsByOwner(ctx context.Context, owner string, offset, limit uint32) ([]*types.Project, error) {
	var rows []projectRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM projects WHERE account_name = ? ORDER BY project_name LIMIT ? OFFSET ?`,
		owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	return toProjects(rows)
}

// UpdateProjectState writes next, optionally as a compare-and-set on the
// previous state kind.
func (s *SQLiteStore) UpdateProjectState(ctx context.Context, name string, expectedPrev *types.StateKind, next types.ProjectState) error {
	state, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	var res sql.Result
	if expectedPrev != nil {
		res, err = s.db.ExecContext(ctx,
			`UPDATE projects SET state = ? WHERE project_name = ? AND json_extract(state, '$.kind') = ?`,
			string(state), name, string(*expectedPrev))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE projects SET state = ? WHERE project_name = ?`, string(state), name)
	}
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing row from a lost CAS race
		if _, findErr := s.FindProject(ctx, name); findErr != nil {
			return findErr
		}
		return ErrConflict
	}
	return nil
}

// UpdateProjectFQDN rebinds the fqdn used for future containers.
func (s *SQLiteStore) UpdateProjectFQDN(ctx context.Context, name, fqdn string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET fqdn = ? WHERE project_name = ?`, fqdn, name)
	if err != nil {
		return fmt.Errorf("failed to update fqdn: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes the record and its custom domains.
func (s *SQLiteStore) DeleteProject(ctx context.Context, name string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_domains WHERE project_name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete custom domains: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE project_name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// CountProjectsByOwner counts the owner's projects regardless of state.
func (s *SQLiteStore) CountProjectsByOwner(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM projects WHERE account_name = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return count, nil
}

// ReadyProjects returns every project currently in the ready state.
func (s *SQLiteStore) ReadyProjects(ctx context.Context) ([]*types.Project, error) {
	var rows []projectRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM projects WHERE json_extract(state, '$.kind') = ? ORDER BY project_name`,
		string(types.StateReady))
	if err != nil {
		return nil, fmt.Errorf("failed to query ready projects: %w", err)
	}
	return toProjects(rows)
}

// AllProjects returns every record with full state detail.
func (s *SQLiteStore) AllProjects(ctx context.Context) ([]*types.Project, error) {
	var rows []projectRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM projects ORDER BY project_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	return toProjects(rows)
}

// AdminProjects returns (project, account) pairs.
func (s *SQLiteStore) AdminProjects(ctx context.Context) ([]types.AdminProjectEntry, error) {
	var entries []types.AdminProjectEntry
	err := s.db.SelectContext(ctx, &entries,
		`SELECT project_name, account_name FROM projects ORDER BY project_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	return entries, nil
}

// UpsertCustomDomain creates or replaces the mapping for a fqdn.
func (s *SQLiteStore) UpsertCustomDomain(ctx context.Context, domain *types.CustomDomain) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO custom_domains (fqdn, project_name, certificate, private_key, account_creds)
		 VALUES (?, ?, ?, ?, ?)`,
		domain.FQDN, domain.ProjectName, domain.Certificate, domain.PrivateKey, domain.AccountCreds)
	if err != nil {
		if isConstraintErr(err) {
			// foreign key: the project must exist
			return ErrNotFound
		}
		return fmt.Errorf("failed to upsert custom domain: %w", err)
	}
	return nil
}

// FindCustomDomain returns the mapping or ErrNotFound.
func (s *SQLiteStore) FindCustomDomain(ctx context.Context, fqdn string) (*types.CustomDomain, error) {
	var domain types.CustomDomain
	err := s.db.GetContext(ctx, &domain, `SELECT * FROM custom_domains WHERE fqdn = ?`, fqdn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query custom domain: %w", err)
	}
	return &domain, nil
}

// CustomDomainForProject returns the mapping pointing at a project.
func (s *SQLiteStore) CustomDomainForProject(ctx context.Context, projectName string) (*types.CustomDomain, error) {
	var domain types.CustomDomain
	err := s.db.GetContext(ctx, &domain, `SELECT * FROM custom_domains WHERE project_name = ?`, projectName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query custom domain: %w", err)
	}
	return &domain, nil
}

// AllCustomDomains returns every stored mapping.
func (s *SQLiteStore) AllCustomDomains(ctx context.Context) ([]*types.CustomDomain, error) {
	var domains []*types.CustomDomain
	err := s.db.SelectContext(ctx, &domains, `SELECT * FROM custom_domains ORDER BY fqdn`)
	if err != nil {
		return nil, fmt.Errorf("failed to query custom domains: %w", err)
	}
	return domains, nil
}

// SaveAcmeAccount persists account credentials keyed by email.
func (s *SQLiteStore) SaveAcmeAccount(ctx context.Context, email, credentials string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO acme_accounts (email, credentials) VALUES (?, ?)`, email, credentials)
	if err != nil {
		return fmt.Errorf("failed to save acme account: %w", err)
	}
	return nil
}

// FindAcmeAccount returns the stored credentials or ErrNotFound.
func (s *SQLiteStore) FindAcmeAccount(ctx context.Context, email string) (string, error) {
	var credentials string
	err := s.db.GetContext(ctx, &credentials, `SELECT credentials FROM acme_accounts WHERE email = ?`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query acme account: %w", err)
	}
	return credentials, nil
}

func (r *projectRow) toProject() (*types.Project, error) {
	var state types.ProjectState
	if err := json.Unmarshal([]byte(r.State), &state); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", r.Name, err)
	}
	return &types.Project{
		Name:        r.Name,
		Owner:       r.Owner,
		ProjectID:   r.ProjectID,
		InitialKey:  r.InitialKey,
		FQDN:        r.FQDN,
		IdleMinutes: r.IdleMinutes,
		CreatedAt:   r.CreatedAt,
		State:       state,
	}, nil
}

func toProjects(rows []projectRow) ([]*types.Project, error) {
	projects := make([]*types.Project, 0, len(rows))
	for i := range rows {
		project, err := rows[i].toProject()
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, nil
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
