/*
Package log provides structured logging for the synchronization core
using zerolog: JSON or console output, a configurable level, and
component-scoped child loggers so every subsystem's lines carry a
"component" field without repeating it at every call site.

# Usage

Initializing the logger (done once, in cmd/posyncd/main.go):

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	outboxLog := log.WithComponent("outbox")
	outboxLog.Info().Int("depth", len(items)).Msg("drain cycle starting")

Domain-scoped helpers carry the identifiers that matter most for
tracing a sync issue across devices:

	log.WithDeviceID(deviceID).Warn().Msg("vector clock reset")
	log.WithOrganizationID(orgID).Error().Err(err).Msg("hydration failed")
	log.WithOpID(op.ID).Debug().Msg("operation enqueued")

# Conventions

  - Use .Err(err) for errors, never string concatenation.
  - Never log player balances, charge amounts, or other ledger data at
    info level or above outside of an explicit audit log; debug level
    is acceptable for local troubleshooting only.
  - Prefer a component logger over the bare global Logger so every line
    can be filtered by subsystem.
*/
package log
