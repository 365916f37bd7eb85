package storage

import (
	"context"
	"errors"

	"github.com/hangarlabs/hangar/pkg/types"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a create hits a uniqueness
	// constraint.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a compare-and-set update observes a
	// different previous state than expected.
	ErrConflict = errors.New("state conflict")
)

// ProjectStore is the durable mapping (owner, project-name) -> record.
// The task worker is the only writer for a given project at a time; the
// store still guards every update so racing writers are detected.
type ProjectStore interface {
	// CreateProject inserts a new record. Atomic on project-name
	// uniqueness; returns ErrAlreadyExists on collision.
	CreateProject(ctx context.Context, project *types.Project) error

	// FindProject returns the record or ErrNotFound.
	FindProject(ctx context.Context, name string) (*types.Project, error)

	// FindProjectsByOwner returns one page of the owner's projects
	// ordered by name.
	FindProjectsByOwner(ctx context.Context, owner string, offset, limit uint32) ([]*types.Project, error)

	// UpdateProjectState writes the next state. When expectedPrev is
	// non-nil the write is a compare-and-set on the current state kind
	// and returns ErrConflict if it does not match.
	UpdateProjectState(ctx context.Context, name string, expectedPrev *types.StateKind, next types.ProjectState) error

	// UpdateProjectFQDN rebinds the fqdn baked into future containers,
	// used when a custom domain replaces the wildcard one.
	UpdateProjectFQDN(ctx context.Context, name, fqdn string) error

	// DeleteProject removes the record, or ErrNotFound.
	DeleteProject(ctx context.Context, name string) error

	// CountProjectsByOwner counts the owner's projects regardless of state.
	CountProjectsByOwner(ctx context.Context, owner string) (int, error)

	// ReadyProjects returns every project currently in the ready state.
	ReadyProjects(ctx context.Context) ([]*types.Project, error)

	// AllProjects returns every record with full state detail.
	AllProjects(ctx context.Context) ([]*types.Project, error)

	// AdminProjects returns (project, account) pairs for admin listings.
	AdminProjects(ctx context.Context) ([]types.AdminProjectEntry, error)
}

// CustomDomainStore is the durable mapping fqdn -> certificate material.
type CustomDomainStore interface {
	// UpsertCustomDomain creates or replaces the mapping for a fqdn.
	UpsertCustomDomain(ctx context.Context, domain *types.CustomDomain) error

	// FindCustomDomain returns the mapping or ErrNotFound.
	FindCustomDomain(ctx context.Context, fqdn string) (*types.CustomDomain, error)

	// CustomDomainForProject returns the mapping that points at a
	// project, or ErrNotFound.
	CustomDomainForProject(ctx context.Context, projectName string) (*types.CustomDomain, error)

	// AllCustomDomains returns every stored mapping, used to warm the
	// certificate resolver on start.
	AllCustomDomains(ctx context.Context) ([]*types.CustomDomain, error)
}

// AcmeAccountStore persists ACME account credentials keyed by email.
type AcmeAccountStore interface {
	SaveAcmeAccount(ctx context.Context, email, credentials string) error
	FindAcmeAccount(ctx context.Context, email string) (string, error)
}

// Store bundles everything the gateway persists.
type Store interface {
	ProjectStore
	CustomDomainStore
	AcmeAccountStore

	Close() error
}
