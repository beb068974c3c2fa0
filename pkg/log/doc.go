/*
Package log provides structured logging for quickdist using zerolog.

The package wraps zerolog behind a global logger initialized once via
log.Init. Components create child loggers carrying identifying fields:

	nodeLog := log.WithComponent("node")
	nodeLog.Info().Int("port", 8421).Msg("serving")

Console output is the default; JSON output is available for production via
Config.JSONOutput. Levels follow the usual debug/info/warn/error ladder and
filter at the global level set by Init.
*/
package log
