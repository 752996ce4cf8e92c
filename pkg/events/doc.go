/*
Package events provides an in-memory event broker for the router's
pub/sub messaging.

It implements a lightweight event bus for broadcasting lifecycle and fault
events to interested subscribers — the log sink, a GUI activity viewer, or
an alerting hook. Publish waits only for room in the broker's 100-event
buffer (or returns once the broker is stopped); delivery to each
subscriber is non-blocking and drops the event for a subscriber whose
buffer is full, so a slow consumer never stalls the data plane.

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100)                  │
	│       ↓                                                    │
	│  Broadcast Loop                                            │
	│       ↓                                                    │
	│  Subscriber Channels (buffer: 50 each, drop-on-full)       │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

Event types: port.acquired, port.released, port.error, port.drop,
handler.restarted, handler.stalled, engine.started, engine.stopped,
health.transition.
*/
package events
