// Package config loads the printfarm client configuration.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/printfarm/config.toml (default)
//  3. If the config file doesn't exist, fall back to Default()
//  4. If the file exists but fields are missing/empty, use defaults
//
// Durations use Go syntax ("5s", "1m30s"). A value that does not parse, or is
// not positive, is an error rather than a silent default.
//
// # TOML Format
//
//	server = "127.0.0.1:8000"          # host:port or http(s) URL
//	stream_path = "/ws"
//	status_interval = "5s"
//	roster_interval = "10s"
//	filament_interval = "30s"
//	reconnect_delay = "2s"
//	keepalive_interval = "15s"
//	log_level = "info"
//	log_format = "json"                 # or "console"
//	log_file = "~/.local/state/printfarm/printfarm.log"
//	metrics_bind = "127.0.0.1:9109"     # empty disables /metrics
package config
