/*
Package log provides structured logging for meshwarden using zerolog.

A single global logger is initialized once at startup via Init and consumed
through child loggers scoped by component, network or node:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("certs")
	logger.Info().Str("network", net.Name).Msg("CA created")

Console output (human readable) is the default; JSON output is available for
machine consumption with Config.JSONOutput.
*/
package log
