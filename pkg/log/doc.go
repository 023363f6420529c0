/*
Package log provides structured logging for Dockpeek using zerolog.

The package wraps zerolog behind a small surface: a global Logger initialized
once via Init, plus helpers that derive child loggers carrying a fixed context
field (component, server, container, image). All subsystems log through these
child loggers so fleet-wide output can be filtered per host or per container.

Initializing:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

Component loggers:

	logger := log.WithComponent("scanner")
	logger.Info().Str("image", image).Msg("scan queued")

JSON output is intended for production; console output for development.
*/
package log
