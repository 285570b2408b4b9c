/*
Package log provides structured logging for Stratum using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Usage

Initialize once at process start, then derive child loggers per component:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("thin")
	logger.Info().Str("volume", vid).Msg("volume committed")

Volume lifecycle operations attach the pool and volume identity so a single
VM boot/shutdown cycle can be traced across the lvm command layer:

	log.WithPool("default").Info().Msg("pool registered")
	log.WithVolume("vm-work-root").Debug().Msg("overlay created")

Console output (human-readable) is the default; pass JSONOutput for
machine-parsed logs in production.
*/
package log
