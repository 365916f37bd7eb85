package deployer

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/hangarlabs/hangar/pkg/log"
	"github.com/hangarlabs/hangar/pkg/storage"
	"github.com/hangarlabs/hangar/pkg/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DatabaseFile is the sqlite file created inside the deployer state
// directory.
const DatabaseFile = "deployer.sqlite"

// Store persists services, deployments and their log lines for one
// deployer instance.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (or creates) the deployer database in stateDir and
// runs pending migrations.
func NewStore(stateDir string) (*Store, error) {
	path := filepath.Join(stateDir, DatabaseFile)
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	log.WithComponent("deployer").Info().Str("path", path).Msg("Database opened")
	return &Store{db: db}, nil
}

// NewMemoryStore opens an in-memory database, used by tests.
func NewMemoryStore() (*Store, error) {
	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
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
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreateService returns the named service, creating it on first
// deploy.
func (s *Store) GetOrCreateService(ctx context.Context, name string) (*types.Service, error) {
	svc, err := s.FindService(ctx, name)
	if err == nil {
		return svc, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	svc = &types.Service{ID: uuid.New(), Name: name}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO services (id, name) VALUES (?, ?)`, svc.ID.String(), svc.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

// Services lists every service this deployer knows, ordered by name.
func (s *Store) Services(ctx context.Context) ([]types.Service, error) {
	services := []types.Service{}
	err := s.db.SelectContext(ctx, &services, `SELECT id, name FROM services ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return services, nil
}

// FindService returns the named service or storage.ErrNotFound.
func (s *Store) FindService(ctx context.Context, name string) (*types.Service, error) {
	var svc types.Service
	err := s.db.GetContext(ctx, &svc, `SELECT id, name FROM services WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find service: %w", err)
	}
	return &svc, nil
}

// DeleteService removes the service and, through the schema's cascade,
// its deployments and logs.
func (s *Store) DeleteService(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertDeployment records a fresh deployment row.
func (s *Store) InsertDeployment(ctx context.Context, d *types.Deployment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, service_id, state, last_update, address, git_commit_id, git_commit_msg, git_branch, git_dirty)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.ServiceID.String(), d.State, d.LastUpdate, d.Address,
		d.GitCommitID, d.GitCommitMsg, d.GitBranch, d.GitDirty)
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}
	return nil
}

// FindDeployment returns one deployment or storage.ErrNotFound.
func (s *Store) FindDeployment(ctx context.Context, id uuid.UUID) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.GetContext(ctx, &d,
		`SELECT id, service_id, state, last_update, address, git_commit_id, git_commit_msg, git_branch, git_dirty
		 FROM deployments WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find deployment: %w", err)
	}
	return &d, nil
}

// Deployments returns one page of a service's deployments, most recent
// first.
func (s *Store) Deployments(ctx context.Context, serviceID uuid.UUID, offset, limit uint32) ([]types.Deployment, error) {
	deployments := []types.Deployment{}
	err := s.db.SelectContext(ctx, &deployments,
		`SELECT id, service_id, state, last_update, address, git_commit_id, git_commit_msg, git_branch, git_dirty
		 FROM deployments WHERE service_id = ?
		 ORDER BY last_update DESC LIMIT ? OFFSET ?`,
		serviceID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return deployments, nil
}

// RunningDeployments returns every deployment currently in the running
// state.
func (s *Store) RunningDeployments(ctx context.Context) ([]types.Deployment, error) {
	deployments := []types.Deployment{}
	err := s.db.SelectContext(ctx, &deployments,
		`SELECT id, service_id, state, last_update, address, git_commit_id, git_commit_msg, git_branch, git_dirty
		 FROM deployments WHERE state = ?`, types.DeploymentRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running deployments: %w", err)
	}
	return deployments, nil
}

// UpdateDeploymentState writes the next state with a monotonic guard on
// last_update. Out-of-order writes are dropped, not applied; a missing
// row returns storage.ErrNotFound.
func (s *Store) UpdateDeploymentState(ctx context.Context, id uuid.UUID, state types.DeploymentState, address string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET state = ?, address = ?, last_update = ?
		 WHERE id = ? AND last_update <= ?`,
		state, address, at, id.String(), at)
	if err != nil {
		return fmt.Errorf("failed to update deployment state: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM deployments WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to check deployment: %w", err)
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	// stale update, the stored row is newer
	log.WithDeployment(id.String()).Debug().
		Str("state", string(state)).
		Msg("Dropping out-of-order state update")
	return nil
}

// InsertLog appends one log line to a deployment's stream.
func (s *Store) InsertLog(ctx context.Context, item types.LogItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deployment_logs (deployment_id, timestamp, line) VALUES (?, ?, ?)`,
		item.DeploymentID.String(), item.Timestamp, item.Line)
	if err != nil {
		return fmt.Errorf("failed to insert log line: %w", err)
	}
	return nil
}

// Logs returns a deployment's full log stream in order.
func (s *Store) Logs(ctx context.Context, deploymentID uuid.UUID) ([]types.LogItem, error) {
	items := []types.LogItem{}
	err := s.db.SelectContext(ctx, &items,
		`SELECT deployment_id, timestamp, line FROM deployment_logs
		 WHERE deployment_id = ? ORDER BY timestamp, rowid`, deploymentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return items, nil
}

// CleanLogs deletes the log streams of every finished deployment of a
// service and reports how many lines were removed.
func (s *Store) CleanLogs(ctx context.Context, serviceID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deployment_logs WHERE deployment_id IN (
		    SELECT id FROM deployments WHERE service_id = ? AND state IN (?, ?, ?)
		 )`,
		serviceID.String(), types.DeploymentCompleted, types.DeploymentStopped, types.DeploymentCrashed)
	if err != nil {
		return 0, fmt.Errorf("failed to clean logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
