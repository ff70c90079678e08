// Package poll refreshes the printer cache from the REST endpoints.
//
// Source.Run polls the roster (every 10s by default) and keeps one status
// poller (5s) and one filament poller (30s) per listed printer. Results go
// through the same cache write funnel as push frames, so the two sources are
// last-write-wins with respect to each other. Failures are recorded per
// (topic, printer) and exposed through LastError; they never overwrite cached
// data.
//
// Each endpoint family sits behind a circuit breaker. Connection failures trip
// it; a {"error": ...} reply from a reachable server does not.
package poll
