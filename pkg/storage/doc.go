/*
Package storage provides BoltDB-backed persistence for ghost's applications,
deployment history and jobs.

The storage package implements the Store interface using BoltDB as the
underlying database. All records are serialized as JSON and stored in one
bucket per kind.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/ghost.db                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌──────────────────────────────┐           │          │
	│  │  │ apps             (App ID)    │           │          │
	│  │  │ deploy_histories (Record ID) │           │          │
	│  │  │ jobs             (Job ID)    │           │          │
	│  │  └──────────────────────────────┘           │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Apps

Apps are never overwritten wholesale by the pipelines. Every write goes
through UpdateApp, which loads the record, applies a mutation and saves it
inside one write transaction, bumping Version. The targeted helpers
(MarkModuleInitialized, UpdateAutoscale, UpdateAMI) are thin wrappers.

Blue/green pairs are written in a single transaction as well:

  - CreateAlterEgo copies an app into a new record with the opposite color,
    offline, then links the original (online) to it. When a twin with the
    opposite color already exists it is linked instead of duplicated.
  - Promote checks the current state before flipping: the target must be
    offline and its alter ego online. Both records are rewritten together,
    so at most one app of a pair is ever online. Any other state returns
    errdefs.ErrConflict.

# Deployment History

Records are append-only. AppendDeployment refuses an id that already
exists; there is no update or delete.

# Jobs

CreateJob assigns an id and the init status. ListJobs returns jobs in
creation order so the worker pool dispatches them first in, first out.
UpdateJobStatus refuses to change a job that already reached done, failed
or aborted.

# Usage

	store, err := storage.NewBoltStore("/var/lib/ghost")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	app, err := store.UpdateApp(id, func(app *types.App) error {
		app.InstanceType = "t3.large"
		return nil
	})

Lookups of missing records return errors wrapping errdefs.ErrNotFound.
*/
package storage
