/*
Package storage provides SQLite-backed persistence for the gateway.

The storage package implements the ProjectStore, CustomDomainStore and
AcmeAccountStore interfaces on a single sqlite database opened in WAL mode
with synchronous=NORMAL. Schema migrations are embedded in the binary and
run with goose on every start, so a gateway can always open an older state
directory.

# Architecture

One database file (gateway.sqlite) inside the gateway state directory:

	projects        project_name -> record + state JSON blob
	custom_domains  fqdn -> (project, certificate PEM, key PEM, creds)
	acme_accounts   email -> ACME account credentials

Project state is stored as a JSON blob carrying the tagged state variant.
This keeps the state shape out of the schema; queries that filter on state
use json_extract on the kind field.

# Consistency

  - CreateProject is atomic on project-name uniqueness (primary key).
  - UpdateProjectState is a compare-and-set when an expected previous
    state kind is supplied; a lost race returns ErrConflict.
  - The connection pool is capped at one connection, which serializes
    writers and sidesteps SQLITE_BUSY. Readers see the last committed
    write.

# Usage

	store, err := storage.NewSQLiteStore("/var/lib/hangar")
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.CreateProject(ctx, project)
	prev := types.StateCreating
	err = store.UpdateProjectState(ctx, "matrix", &prev, next)

Tests use NewMemoryStore, which runs the same migrations against an
in-memory database.
*/
package storage
