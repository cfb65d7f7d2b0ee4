/*
Package log provides structured logging for ghost using zerolog.

Init configures the global Logger once at process start (level, JSON or
console output). Components derive child loggers with WithComponent
instead of writing to the global logger directly.

Jobs get their own logger from JobLogger. It carries job_id, app_id and
command fields and writes every event both to the process output and to a
per-job sink, usually the job's log file, so that an operator can read the
full history of a single deployment:

	f, _ := os.Create(filepath.Join(logDir, job.ID+".log"))
	logger := log.JobLogger(f, job.ID, app.ID, job.Command)
	logger.Info().Str("module", "web").Msg("Git clone")

The job logger is the "log sink" passed through the deployment pipeline to
the remote executor and the command runner.
*/
package log
