// Package can defines the bus transport capability used by the bootloader:
// a minimal send/subscribe interface generalized from the teacher's classic
// CAN Bus interface to CAN-FD's wider 64-byte payload.
package can

import "fmt"

// MaxDLC is the largest payload a CAN-FD frame as used by this protocol
// carries.
const MaxDLC = 64

// Frame is one CAN-FD frame: a 29-bit extended arbitration id, a length, and
// up to MaxDLC bytes of payload. Unlike classic CAN's 8-byte Data, CAN-FD's
// wider frames are needed to carry the 60-byte UpdateData body in one frame.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [MaxDLC]byte
}

// NewFrame builds a Frame from an id and payload, copying payload into the
// fixed Data array and truncating Data beyond MaxDLC.
func NewFrame(id uint32, payload []byte) Frame {
	f := Frame{ID: id}
	n := copy(f.Data[:], payload)
	f.DLC = uint8(n)
	return f
}

// Payload returns the meaningful slice of Data.
func (f Frame) Payload() []byte {
	return f.Data[:f.DLC]
}

// FrameListener receives frames delivered by a Bus.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the transport capability: connect, disconnect, send a frame, and
// register a single listener for all received frames.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener) error
}

// NewInterfaceFunc constructs a Bus bound to a channel name (e.g. a
// socketcan interface name, or a host:port for the virtual bus).
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// RegisterInterface registers a Bus constructor under a name, called from an
// init() in the interface's own package (see pkg/can/socketcan,
// pkg/can/virtual).
func RegisterInterface(name string, newInterface NewInterfaceFunc) {
	interfaceRegistry[name] = newInterface
}

// NewBus constructs a Bus of the named, previously-registered interface
// type.
func NewBus(interfaceType string, channel string) (Bus, error) {
	newInterface, ok := interfaceRegistry[interfaceType]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface: %v", interfaceType)
	}
	return newInterface(channel)
}
