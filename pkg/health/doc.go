/*
Package health provides a generic Checker abstraction and two concrete
implementations: HTTP and heartbeat-based.

The HeartbeatChecker adapts the watchdog's liveness test (a handler's last
loop iteration timestamp, compared against its staleness deadline) into the
same Checker interface the HTTP checker uses: the control surface's /ready
endpoint reports on port handlers through HeartbeatChecker, and the CLI's
status command probes a remote instance's /health endpoint through
HTTPChecker.

	┌──────────────────────────────────────────────┐
	│               Checker Interface               │
	│  • Check(ctx) Result                          │
	│  • Type() CheckType                           │
	└──────┬───────────────────┬────────────────────┘
	       ▼                   ▼
	  HTTPChecker        HeartbeatChecker
*/
package health
