// Package stream keeps the realtime push connection to the fleet server.
//
// The lifecycle lives in Machine, a pure state machine: events in, effects
// out. Client is the runtime around it. It serializes every event under one
// lock and runs the effects (dial, timers, keepalive writes, close). Received
// frames are handed to a Handler, normally a *dispatch.Dispatcher, in read
// order after the lock is released, so handlers and the cache subscribers
// they trigger may query the client.
//
// While enabled the client holds at most one connection. When it drops, one
// reconnect is scheduled after a fixed delay; there is no backoff and no retry
// limit. A text keepalive frame is written every KeepaliveInterval while open.
// Disable cancels all of that and may be called at any time.
package stream
