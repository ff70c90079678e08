// Package ui provides the Bubble Tea dashboard for the printer fleet.
//
// The model never touches the cache directly. It reads printers through the
// typed views and learns about changes from view subscriptions, which the
// watcher forwards as printer ids over a buffered channel. The roster and
// connection banner come from state.Store snapshots fetched on every tick.
//
// Key bindings:
//
//	j/k, g/G   move selection
//	r          refresh the selected printer over REST
//	s          pause or resume the live stream
//	t          toggle temperatures
//	T          cycle theme
//	h/?        help
//	e, ctrl+c  quit
package ui
