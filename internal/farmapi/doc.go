// Package farmapi is the HTTP client for the fleet server REST endpoints the
// poll source consumes: the printer roster, per-printer status and the loaded
// filament tray.
//
// The server reports some printer failures in a 200 response whose body is
// {"error": "..."}. Those are returned as errors wrapping ErrPrinterReported,
// never decoded into a payload.
package farmapi
