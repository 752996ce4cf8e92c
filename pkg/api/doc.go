/*
Package api implements the router's control surface.

It exposes the engine over two protocols: an HTTP+JSON status/health
endpoint for the CLI and any polling GUI, and a grpc_health_v1 health
service for RPC-aware supervisors. /status, /ready and the grpc service
derive their answer from engine.Status(); /ready also checks handler
heartbeats. /health reports only that the process is up, plus the
component registry, and does not consult the engine.

	┌────────── CLIENT (CLI / GUI / supervisor) ───────────┐
	│                                                        │
	│   GET /status ──┐        grpc_health_v1.Check ──┐      │
	│   GET /ready ────┴──► engine.Status() ◄──────────┘      │
	│   GET /health ──► metrics.GetHealth()                  │
	│   GET /metrics ──► promhttp.Handler()                  │
	│                                                        │
	└────────────────────────────────────────────────────────┘
*/
package api
