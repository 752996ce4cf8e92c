/*
Package log provides structured logging for the routing engine using zerolog.

Init configures a single global Logger from a Config (level, JSON vs console
output, and an optional rotating file target). WithComponent, WithPort, and
WithHandler derive child loggers that attach a field (component, port_id, or
handler) to every record so log lines can be filtered per port or per owner
without repeating the field at each call site.

Usage:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		LogFile:    "/var/log/serialrouter/engine.log",
		MaxSizeBytes: 10 << 20,
		MaxBackups:   1,
	})

	portLog := log.WithPort("COM131")
	portLog.Warn().Int("queue_size", 1000).Msg("queue full, dropping")

	handlerLog := log.WithHandler("IncomingPortOwner")
	handlerLog.Error().Err(err).Msg("read_available failed")

JSON records carry level, component/port_id/handler, any per-call fields,
time, and message, e.g.:

	{"level":"warn","port_id":"COM131","queue_size":1000,"time":"2026-07-29T10:30:00Z","message":"queue full, dropping"}

LogFile rotation is handled by rotate.go: the active file is renamed to a
single ".1" backup once it exceeds MaxSizeBytes, matching the one-backup,
size-triggered policy the engine's external log sink is expected to honor.
*/
package log
