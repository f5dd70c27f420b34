// Package virtual implements a TCP-backed virtual CAN bus, used by
// cmd/canboot-sim and by tests that want several simulated nodes talking to
// each other without real CAN hardware.
//
// It speaks the same wire format as windelbouwman/virtualcan: a 4-byte
// big-endian length header followed by the binary-encoded frame.
package virtual

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	can "github.com/opentrons-ot3/canboot/pkg/can"
)

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

// Bus is a can.Bus backed by a TCP connection to a virtualcan broker.
type Bus struct {
	logger        *slog.Logger
	mu            sync.Mutex
	channel       string
	conn          net.Conn
	receiveOwn    bool
	frameHandler  can.FrameListener
	stopChan      chan bool
	wg            sync.WaitGroup
	isRunning     bool
	errSubscriber bool
}

// NewVirtualCanBus constructs a Bus that will dial channel (e.g.
// "localhost:18000") on Connect.
func NewVirtualCanBus(channel string) (can.Bus, error) {
	return &Bus{channel: channel, stopChan: make(chan bool), logger: slog.Default()}, nil
}

func serializeFrame(frame can.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	if err := binary.Write(buffer, binary.BigEndian, frame); err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	return append(frameBytes, dataBytes...), nil
}

func deserializeFrame(buffer []byte) (*can.Frame, error) {
	var frame can.Frame
	buf := bytes.NewBuffer(buffer)
	if err := binary.Read(buf, binary.BigEndian, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// Connect dials the broker, e.g. localhost:18000.
func (b *Bus) Connect(...any) error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return err
	}
	b.conn = conn
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect closes the connection to the broker.
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.errSubscriber && b.isRunning {
		b.stopChan <- true
		b.wg.Wait()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Send implements can.Bus.
func (b *Bus) Send(frame can.Frame) error {
	if b.receiveOwn && b.frameHandler != nil {
		b.frameHandler.Handle(frame)
	} else if b.conn == nil {
		return errors.New("virtual: no active connection, abort send")
	}
	if b.conn != nil {
		frameBytes, err := serializeFrame(frame)
		if err != nil {
			return err
		}
		_ = b.conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
		_, err = b.conn.Write(frameBytes)
		return err
	}
	return nil
}

// Subscribe implements can.Bus.
func (b *Bus) Subscribe(frameHandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameHandler = frameHandler
	if b.isRunning {
		return nil
	}
	b.wg.Add(1)
	b.isRunning = true
	b.errSubscriber = false
	go b.handleReception()
	return nil
}

// Recv reads and decodes a single frame, timing out after 200ms.
func (b *Bus) Recv() (*can.Frame, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("virtual: no active connection, abort receive")
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	headerBytes := make([]byte, 4)
	n, err := b.conn.Read(headerBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n < 4 || err != nil {
		return nil, fmt.Errorf("virtual: error deserializing header: expected %v, got %v, err: %v", 4, n, err)
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	_ = b.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err = b.conn.Read(frameBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return nil, err
	}
	if n != int(length) || err != nil {
		return nil, fmt.Errorf("virtual: error deserializing body: expected %v, got %v", length, n)
	}
	return deserializeFrame(frameBytes)
}

func (b *Bus) handleReception() {
	defer func() {
		b.isRunning = false
		b.wg.Done()
	}()
	for {
		select {
		case <-b.stopChan:
			return
		default:
			if !b.mu.TryLock() {
				break
			}
			frame, err := b.Recv()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// no message received, this is fine
			} else if err != nil {
				b.logger.Error("listening routine closed", "err", err)
				b.errSubscriber = true
				b.mu.Unlock()
				return
			} else if b.frameHandler != nil {
				b.frameHandler.Handle(*frame)
			}
			b.mu.Unlock()
		}
	}
}

// SetReceiveOwn enables local loopback of sent frames to the subscribed
// listener, used by single-process tests that act as both node and host.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}
