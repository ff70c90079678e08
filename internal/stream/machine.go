package stream

import (
	"fmt"
	"time"
)

// State is the connection lifecycle state of the push client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosedByUser
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosedByUser:
		return "closed_by_user"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether a transport exists or is being established.
func (s State) Live() bool {
	return s == StateConnecting || s == StateOpen
}

// EventKind enumerates the inputs of the state machine.
type EventKind int

const (
	EventEnable EventKind = iota
	EventDisable
	EventDialSucceeded
	EventDialFailed
	EventMessage
	EventTransportError
	EventClosed
	EventReconnectDue
	EventKeepaliveDue
)

// Event is one input. Gen identifies the timer that produced a *Due event.
type Event struct {
	Kind    EventKind
	Gen     uint64
	Payload []byte
}

// EffectKind enumerates the side effects the runtime must perform.
type EffectKind int

const (
	EffectDial EffectKind = iota
	EffectCancelDial
	EffectScheduleReconnect
	EffectCancelReconnect
	EffectStartKeepalive
	EffectStopKeepalive
	EffectSendKeepalive
	EffectCloseTransport
	EffectDispatch
)

func (k EffectKind) String() string {
	switch k {
	case EffectDial:
		return "dial"
	case EffectCancelDial:
		return "cancel_dial"
	case EffectScheduleReconnect:
		return "schedule_reconnect"
	case EffectCancelReconnect:
		return "cancel_reconnect"
	case EffectStartKeepalive:
		return "start_keepalive"
	case EffectStopKeepalive:
		return "stop_keepalive"
	case EffectSendKeepalive:
		return "send_keepalive"
	case EffectCloseTransport:
		return "close_transport"
	case EffectDispatch:
		return "dispatch"
	default:
		return fmt.Sprintf("effect(%d)", int(k))
	}
}

// Effect is one side effect. Timer effects carry the delay and the generation
// the resulting *Due event must echo back.
type Effect struct {
	Kind    EffectKind
	Delay   time.Duration
	Gen     uint64
	Payload []byte
}

// Machine is the push client lifecycle without any I/O. Step is not safe for
// concurrent use; the runtime serializes events.
type Machine struct {
	state   State
	enabled bool
	dialing bool

	reconnectGen uint64
	keepaliveGen uint64

	reconnectDelay    time.Duration
	keepaliveInterval time.Duration
}

// NewMachine returns a disabled machine in StateDisconnected.
func NewMachine(reconnectDelay, keepaliveInterval time.Duration) *Machine {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	if keepaliveInterval <= 0 {
		keepaliveInterval = DefaultKeepaliveInterval
	}
	return &Machine{
		state:             StateDisconnected,
		reconnectDelay:    reconnectDelay,
		keepaliveInterval: keepaliveInterval,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Enabled reports whether the client wants a connection.
func (m *Machine) Enabled() bool { return m.enabled }

// Step applies one event and returns the effects to run, in order.
func (m *Machine) Step(ev Event) []Effect {
	switch ev.Kind {
	case EventEnable:
		return m.enable()
	case EventDisable:
		return m.disable()
	case EventDialSucceeded:
		return m.dialSucceeded()
	case EventDialFailed:
		return m.dialFailed()
	case EventMessage:
		if m.state != StateOpen {
			return nil
		}
		return []Effect{{Kind: EffectDispatch, Payload: ev.Payload}}
	case EventTransportError:
		return m.transportError()
	case EventClosed:
		return m.closed()
	case EventReconnectDue:
		return m.reconnectDue(ev.Gen)
	case EventKeepaliveDue:
		if m.state != StateOpen || ev.Gen != m.keepaliveGen {
			return nil
		}
		return []Effect{
			{Kind: EffectSendKeepalive},
			{Kind: EffectStartKeepalive, Delay: m.keepaliveInterval, Gen: m.keepaliveGen},
		}
	default:
		return nil
	}
}

func (m *Machine) enable() []Effect {
	if m.enabled {
		return nil
	}
	m.enabled = true
	switch m.state {
	case StateDisconnected, StateClosedByUser:
		return m.dial()
	default:
		// Closing: the close event schedules the reconnect. Connecting with a
		// dial in flight: the dial result decides.
		return nil
	}
}

func (m *Machine) disable() []Effect {
	m.enabled = false
	m.reconnectGen++
	effects := []Effect{{Kind: EffectCancelReconnect}}

	switch m.state {
	case StateOpen:
		m.keepaliveGen++
		m.state = StateClosing
		effects = append(effects, Effect{Kind: EffectStopKeepalive}, Effect{Kind: EffectCloseTransport})
	case StateConnecting:
		if m.dialing {
			m.state = StateClosing
			effects = append(effects, Effect{Kind: EffectCancelDial})
		} else {
			m.state = StateClosedByUser
		}
	case StateDisconnected:
		m.state = StateClosedByUser
	}
	return effects
}

func (m *Machine) dial() []Effect {
	m.state = StateConnecting
	m.dialing = true
	return []Effect{{Kind: EffectDial}}
}

func (m *Machine) dialSucceeded() []Effect {
	if !m.dialing {
		return nil
	}
	m.dialing = false
	if !m.enabled {
		m.state = StateClosing
		return []Effect{{Kind: EffectCloseTransport}}
	}
	m.state = StateOpen
	m.keepaliveGen++
	return []Effect{{Kind: EffectStartKeepalive, Delay: m.keepaliveInterval, Gen: m.keepaliveGen}}
}

func (m *Machine) dialFailed() []Effect {
	if !m.dialing {
		return nil
	}
	m.dialing = false
	if !m.enabled {
		m.state = StateClosedByUser
		return nil
	}
	m.state = StateConnecting
	return m.scheduleReconnect()
}

// transportError never schedules a reconnect itself: it closes the transport
// and the resulting close event does.
func (m *Machine) transportError() []Effect {
	if m.state != StateOpen {
		return nil
	}
	m.keepaliveGen++
	m.state = StateClosing
	return []Effect{{Kind: EffectStopKeepalive}, {Kind: EffectCloseTransport}}
}

func (m *Machine) closed() []Effect {
	var effects []Effect
	switch m.state {
	case StateOpen:
		m.keepaliveGen++
		effects = append(effects, Effect{Kind: EffectStopKeepalive})
	case StateClosing:
	default:
		return nil
	}
	if !m.enabled {
		m.state = StateClosedByUser
		return effects
	}
	m.state = StateDisconnected
	return append(effects, m.scheduleReconnect()...)
}

func (m *Machine) reconnectDue(gen uint64) []Effect {
	if !m.enabled || gen != m.reconnectGen {
		return nil
	}
	switch {
	case m.state == StateDisconnected, m.state == StateConnecting && !m.dialing:
		return m.dial()
	default:
		return nil
	}
}

func (m *Machine) scheduleReconnect() []Effect {
	m.reconnectGen++
	return []Effect{{Kind: EffectScheduleReconnect, Delay: m.reconnectDelay, Gen: m.reconnectGen}}
}
