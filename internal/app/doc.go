// Package app is the composition root for printfarm.
//
// # Overview
//
// Run wires configuration, logging, the cache, both data sources and the UI.
// It owns every long-lived object; nothing here is a package global.
//
//	┌──────────────┐
//	│   Run()      │
//	└──────┬───────┘
//	       ├─────> config.Load()        read ~/.config/printfarm/config.toml
//	       ├─────> initLogging()        zerolog to log_file or io.Discard
//	       ├─────> startMetrics()       optional /metrics on metrics_bind
//	       ├─────> cache.NewStore()     single write funnel
//	       ├─────> stream.New()         push client, dispatches into the cache
//	       ├─────> poll.New().Run()     REST roster/status/filament pollers
//	       └─────> ui.Run()             dashboard (blocks)
//
// Push frames and poll results both land in the same cache.Store through
// cache writes. Whichever arrives last wins.
//
// # Shutdown
//
// When the UI exits or the context is cancelled, Run cancels the pollers,
// disables the push client (closing its socket and timers) and waits for all
// goroutines before returning.
//
// # Error Handling
//
// Only startup errors are returned: an unreadable config, a malformed server
// origin, an unwritable log file or a metrics bind that cannot listen. Runtime
// failures (dial errors, poll errors, bad frames) are logged and retried.
package app
