// Package socketcanv3 implements a can.Bus over a raw Linux CAN-FD socket,
// using golang.org/x/sys/unix directly rather than a wrapper library so the
// 64-byte CAN-FD frame layout (canfd_frame, CANFD_MTU) can be read and
// written without copying through an 8-byte-only abstraction. This is the
// transport capable of carrying the full 60-byte UpdateData body in one
// frame; pkg/can/socketcan (brutella/can) is limited to classic CAN's 8
// bytes.
package socketcanv3

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"unsafe"

	can "github.com/opentrons-ot3/canboot/pkg/can"
	"golang.org/x/sys/unix"
)

// canRawFDFrames is CAN_RAW_FD_FRAMES, the socket option that switches a CAN
// raw socket from classic 16-byte frames to CAN-FD's 72-byte frames. Not
// present in golang.org/x/sys/unix's CAN constant set, so named here from
// the kernel's linux/can/raw.h value.
const canRawFDFrames = 5

// canfdFrameSize is sizeof(struct canfd_frame): 4-byte id, 1-byte len,
// 1-byte flags, 2 reserved bytes, 64 bytes of data.
const canfdFrameSize = 72

func init() {
	can.RegisterInterface("socketcanv3", NewBus)
	can.RegisterInterface("socketcanfd", NewBus)
}

// canfdFrame is the Go layout of the kernel's struct canfd_frame.
type canfdFrame struct {
	id    uint32
	length uint8
	flags uint8
	res0  uint8
	res1  uint8
	data  [64]uint8
}

// Bus is a can.Bus backed by a raw CAN-FD socket.
type Bus struct {
	fd         int
	rxCallback can.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

const (
	// msgBatchSize bounds how many frames processIncoming reads per
	// recvmmsg call.
	msgBatchSize = 64
)

var defaultTimeVal = unix.Timeval{Usec: 100_000}

// NewBus opens a CAN-FD raw socket bound to channel (e.g. "can0"), which
// must already be up and configured for FD (e.g. `ip link set can0 up type
// can bitrate 500000 dbitrate 2000000 fd on`).
func NewBus(channel string) (can.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcanv3: failed to create CAN socket: %v", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, canRawFDFrames, 1); err != nil {
		return nil, fmt.Errorf("socketcanv3: failed to enable FD frames: %v", err)
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &defaultTimeVal); err != nil {
		return nil, fmt.Errorf("socketcanv3: failed to set read timeout: %v", err)
	}
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		return nil, err
	}
	return &Bus{fd: fd, logger: slog.Default()}, nil
}

// Connect implements can.Bus.
func (b *Bus) Connect(...any) error {
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

// Disconnect implements can.Bus.
func (b *Bus) Disconnect() error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	b.wg.Wait()
	return unix.Close(b.fd)
}

// Send implements can.Bus.
func (b *Bus) Send(frame can.Frame) error {
	raw := canfdFrame{id: frame.ID, length: frame.DLC}
	raw.data = frame.Data
	rawBytes := (*(*[canfdFrameSize]byte)(unsafe.Pointer(&raw)))[:]
	n, err := unix.Write(b.fd, rawBytes)
	if err != nil {
		return err
	}
	if n != canfdFrameSize {
		return fmt.Errorf("socketcanv3: short write: %d of %d bytes", n, canfdFrameSize)
	}
	return nil
}

func (b *Bus) processIncoming(ctx context.Context) {
	if err := unix.SetNonblock(b.fd, false); err != nil {
		b.logger.Error("failed to set blocking mode", "err", err)
		return
	}

	frames := make([]canfdFrame, msgBatchSize)
	iovecs := make([]unix.Iovec, msgBatchSize)
	mmsgs := make([]Mmsghdr, msgBatchSize)

	for i := range msgBatchSize {
		iovecs[i].Base = (*byte)(unsafe.Pointer(&frames[i]))
		iovecs[i].SetLen(canfdFrameSize)
		mmsgs[i].Hdr.Iov = &iovecs[i]
		mmsgs[i].Hdr.Iovlen = 1
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("exiting CAN-FD bus reception, closed")
			return
		default:
			ts := unix.Timespec{Nsec: 10_000_000} // 10ms

			n, _, errno := unix.Syscall6(
				unix.SYS_RECVMMSG,
				uintptr(b.fd),
				uintptr(unsafe.Pointer(&mmsgs[0])),
				uintptr(msgBatchSize),
				0,
				uintptr(unsafe.Pointer(&ts)),
				0,
			)

			if errno != 0 {
				if errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINTR {
					continue
				}
				b.logger.Error("syscall error", "err", errno)
				return
			}

			nbMsg := int(n)
			if nbMsg == 0 {
				b.logger.Info("socket closed")
				return
			}

			for i := range nbMsg {
				frame := frames[i]
				var f can.Frame
				f.ID = frame.id
				f.DLC = frame.length
				f.Data = frame.data
				if b.rxCallback != nil {
					b.rxCallback.Handle(f)
				}
			}
		}
	}
}

// Subscribe implements can.Bus.
func (b *Bus) Subscribe(rxCallback can.FrameListener) error {
	b.rxCallback = rxCallback
	return nil
}

// SetReceiveOwn enables receiving back frames this socket itself sent,
// useful for single-process loopback testing.
func (b *Bus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	return unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

// SetFilters installs kernel-side CAN id filters, the software analogue of
// this node's arbitration-id admission rule (pkg/canid.Admits) pushed down
// to the socket so unwanted traffic never reaches userspace.
func (b *Bus) SetFilters(filters []unix.CanFilter) error {
	return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}
