/*
Package worker executes ghost jobs.

A job names an App and a command. The worker looks the command up in a
Registry, loads and validates the App, opens the job log file, connects to
the App's cloud provider and runs the command. Exactly one terminal status
is reported for every job it accepts.

# Architecture

	┌──────────────────────── GHOST WORKER ─────────────────────────┐
	│                                                                │
	│  ┌──────────────┐   ListJobs(init)   ┌──────────────────────┐ │
	│  │    Pool      │◀───────────────────│   storage.JobStore   │ │
	│  │ - poll loop  │                    └──────────▲───────────┘ │
	│  │ - 1 job/app  │                               │              │
	│  └──────┬───────┘                               │ status       │
	│         │ Execute                               │              │
	│  ┌──────▼───────────────────────────┐   ┌───────┴──────────┐  │
	│  │             Worker               │──▶│     Reporter     │  │
	│  │ - Registry lookup                │   │ - job store      │  │
	│  │ - App validation                 │   │ - metrics        │  │
	│  │ - job log file                   │   │ - events.Broker  │  │
	│  │ - panic recovery                 │   └──────────────────┘  │
	│  └──────┬───────────────────────────┘                          │
	│         │ CommandFunc(ctx, *Env)                                │
	│  ┌──────▼───────────────────────────────────────────────────┐  │
	│  │ deploy | redeploy | preparebluegreen | swapbluegreen     │  │
	│  │ purgebluegreen | destroyallinstances                      │  │
	│  └──────────────────────────────────────────────────────────┘  │
	└────────────────────────────────────────────────────────────────┘

# Status mapping

A command returns a message and an error:

  - nil error: done, with the returned message
  - an errdefs abort (a precondition refusal): aborted
  - any other error, or a panic: failed

Unknown commands, missing or invalid Apps and cloud connection failures
fail the job before the command runs. The job is marked started only once
the command is about to run.

# Job logs

Each job logs to <log_dir>/<job_id>.log in console format, in addition to
the process output. The file starts with "STATE: Started" and ends with
"STATE: End". A log file that cannot be opened is not fatal.

# Concurrency

The Pool runs at most Size jobs at once and never two jobs of the same App:
jobs of an App are serialized in creation order. Commands themselves do not
lock anything.

# Usage

	w := worker.NewWorker(&worker.Config{
		Settings: cfg,
		Store:    store,
		Broker:   broker,
	})

	pool := worker.NewPool(w, store, cfg.Workers, 2*time.Second)
	go pool.Run(ctx)

Tests inject a custom Registry, a fake cloud Gateway through Gateways and a
fake remote executor through Executors.
*/
package worker
