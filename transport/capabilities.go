package transport

// Capabilities describes what a transport shape supports.
type Capabilities struct {
	// Name is the registered transport kind.
	Name string

	// Server is true for shapes that accept inbound sessions instead of dialling.
	Server bool

	// SupportsSend indicates outbound actions can be written back.
	SupportsSend bool

	// SupportsPing indicates the transport has a native liveness probe.
	SupportsPing bool

	// SupportsSessions indicates more than one peer can be connected at once.
	SupportsSessions bool

	// Streaming indicates frames are pushed rather than polled.
	Streaming bool

	// MaxMessageSize is the maximum frame size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// Reconnects reports whether the manager should redial after a loss. Server
// shapes keep listening and never redial.
func (c Capabilities) Reconnects() bool {
	return !c.Server
}

// RequiresHeartbeatEmulation is true when liveness can only be inferred from
// inbound traffic.
func (c Capabilities) RequiresHeartbeatEmulation() bool {
	return !c.SupportsPing
}

// Predefined capability sets for the built-in shapes.
var (
	WSClientCapabilities = Capabilities{
		Name:           "ws-client",
		SupportsSend:   true,
		SupportsPing:   true,
		Streaming:      true,
		MaxMessageSize: 16 << 20,
	}

	WSServerCapabilities = Capabilities{
		Name:             "ws-server",
		Server:           true,
		SupportsSend:     true,
		SupportsPing:     true,
		SupportsSessions: true,
		Streaming:        true,
		MaxMessageSize:   16 << 20,
	}

	HTTPClientCapabilities = Capabilities{
		Name:         "http-client",
		SupportsSend: true,
	}

	HTTPServerCapabilities = Capabilities{
		Name:             "http-server",
		Server:           true,
		SupportsSessions: true,
		MaxMessageSize:   4 << 20,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a Capabilities with only Name set if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
