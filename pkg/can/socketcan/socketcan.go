// Package socketcan wraps github.com/brutella/can to provide a can.Bus over
// a real Linux SocketCAN interface. brutella/can only speaks classic CAN's
// 8-byte frames, so this transport is suited to the bootloader's
// fixed-length status/control messages (device_info, start_app, status
// request/response, heartbeat) but cannot carry the 60-byte UpdateData body;
// pkg/can/socketcanv3 covers that case over a raw CAN-FD socket.
package socketcan

import (
	sockcan "github.com/brutella/can"

	can "github.com/opentrons-ot3/canboot/pkg/can"
)

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

// SocketcanBus is a can.Bus backed by a real Linux SocketCAN interface.
type SocketcanBus struct {
	bus        *sockcan.Bus
	rxCallback can.FrameListener
}

// Connect implements can.Bus.
func (s *SocketcanBus) Connect(...any) error {
	go s.bus.ConnectAndPublish()
	return nil
}

// Disconnect implements can.Bus.
func (s *SocketcanBus) Disconnect() error {
	return s.bus.Disconnect()
}

// Send implements can.Bus. The frame's payload beyond 8 bytes is silently
// truncated; callers on this transport must keep DLC <= 8.
func (s *SocketcanBus) Send(frame can.Frame) error {
	var data [8]byte
	copy(data[:], frame.Data[:])
	dlc := frame.DLC
	if dlc > 8 {
		dlc = 8
	}
	return s.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: dlc,
		Data:   data,
	})
}

// Subscribe implements can.Bus.
func (s *SocketcanBus) Subscribe(rxCallback can.FrameListener) error {
	s.rxCallback = rxCallback
	s.bus.Subscribe(s)
	return nil
}

// Handle implements brutella/can's Handle interface.
func (s *SocketcanBus) Handle(frame sockcan.Frame) {
	f := can.Frame{ID: frame.ID, DLC: frame.Length}
	copy(f.Data[:], frame.Data[:])
	s.rxCallback.Handle(f)
}

// NewSocketCanBus opens a SocketCAN bus bound to the named interface (e.g.
// "can0").
func NewSocketCanBus(name string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	return &SocketcanBus{bus: bus}, err
}
