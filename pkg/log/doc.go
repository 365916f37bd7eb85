/*
Package log provides structured logging for Hangar using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Usage

Initializing the logger:

	import "github.com/hangarlabs/hangar/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Simple logging:

	log.Info("Gateway started")
	log.Error("Failed to reach deployer")

Structured logging:

	log.Logger.Info().
		Str("project", "matrix").
		Str("state", "ready").
		Msg("Project state committed")

Component loggers:

	workerLog := log.WithComponent("worker")
	workerLog.Info().Msg("Task dequeued")

	projLog := log.WithProject("matrix")
	projLog.Warn().Msg("Health probe failed")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with context fields
  - WithComponent, WithProject, WithDeployment, WithAccount
  - Automatically includes context in all logs

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Consistent error format across the codebase

# Integration Points

This package is used by every other package: the task worker logs step
results, the project FSM logs transitions, the deployer's state recorder
emits one line per deployment transition, and the proxies log forwarding
failures.
*/
package log
