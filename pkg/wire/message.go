// Package wire implements the bootloader's on-bus message framing: integer
// encoding, the fixed-layout UpdateData/UpdateComplete bodies, the
// ones'-complement checksum, and the 64-bit double-word iterator used to
// drive flash programming.
package wire

import (
	"errors"
	"fmt"

	"github.com/opentrons-ot3/canboot/pkg/canid"
)

// MaxPayload is the largest body a CAN-FD frame used by this protocol
// carries.
const MaxPayload = 64

// Message is one CAN-FD frame: an arbitration id plus up to 64 payload bytes.
type Message struct {
	Arbitration canid.ArbitrationID
	Size        uint8
	Data        [MaxPayload]byte
}

// Payload returns the meaningful slice of Data.
func (m Message) Payload() []byte {
	return m.Data[:m.Size]
}

var (
	// ErrInvalidSize is returned when a body does not match its expected,
	// fixed length.
	ErrInvalidSize = errors.New("wire: invalid message size")
	// ErrInvalidByteCount is returned when UpdateData's declared byte count
	// exceeds UpdateDataMaxByteCount.
	ErrInvalidByteCount = errors.New("wire: invalid byte count")
	// ErrBadChecksum is returned when UpdateData's trailing checksum does not
	// match the computed one.
	ErrBadChecksum = errors.New("wire: bad checksum")
)

// WriteUint16 appends v to buf big-endian and returns the grown slice.
func WriteUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

// WriteUint32 appends v to buf big-endian and returns the grown slice.
func WriteUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// ReadUint16 decodes a big-endian uint16 from the first 2 bytes of buf.
func ReadUint16(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("wire: need 2 bytes, got %d", len(buf))
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// ReadUint32 decodes a big-endian uint32 from the first 4 bytes of buf.
func ReadUint32(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("wire: need 4 bytes, got %d", len(buf))
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}

// ComputeChecksum sums the bytes of b and returns the two's-complement
// negation, truncated to 16 bits. Ported from the original's
// compute_checksum: the byte sum plus the 16-bit checksum is zero modulo
// 2^16. This implementation validates by direct comparison instead.
func ComputeChecksum(b []byte) uint16 {
	var sum int32
	for _, v := range b {
		sum += int32(v)
	}
	return uint16(-sum) & 0xffff
}

// ParseEmptyMessage extracts the 4-byte message index carried by request
// messages with no further body (device_info_request, fw_update_status_request,
// and the like).
func ParseEmptyMessage(buf []byte) (messageIndex uint32, err error) {
	if len(buf) != 4 {
		return 0, ErrInvalidSize
	}
	return ReadUint32(buf)
}

const (
	// UpdateDataMessageSize is the fixed wire size of an UpdateData body.
	UpdateDataMessageSize = 60
	// UpdateDataMaxByteCount is the largest legal byte count in an
	// UpdateData body: 60 total bytes, less a 10-byte header (message
	// index, address, byte count, reserved) and a 2-byte trailing
	// checksum leaves 48 bytes for payload.
	UpdateDataMaxByteCount = 48
	// UpdateCompleteMessageSize is the fixed wire size of an UpdateComplete
	// body.
	UpdateCompleteMessageSize = 12
)

// UpdateData is the parsed body of an fw_update_data request.
type UpdateData struct {
	MessageIndex uint32
	Address      uint32
	NumBytes     uint8
	Reserved     uint8
	// Data holds exactly NumBytes meaningful bytes; bytes beyond NumBytes in
	// the 48-byte wire slot are not exposed, matching the CRC/flash-write
	// contract that only the declared byte count is meaningful (see
	// SPEC_FULL.md Design Decision D3).
	Data     []byte
	Checksum uint16
}

// ParseUpdateData parses a 60-byte fw_update_data body:
// 4-byte index, 4-byte address, 1-byte count, 1-byte reserved,
// 48-byte payload slot, 2-byte checksum over the first 58 bytes.
func ParseUpdateData(buf []byte) (UpdateData, error) {
	var d UpdateData
	if len(buf) != UpdateDataMessageSize {
		return d, ErrInvalidSize
	}
	messageIndex, _ := ReadUint32(buf[0:4])
	address, _ := ReadUint32(buf[4:8])
	numBytes := buf[8]
	reserved := buf[9]
	if numBytes > UpdateDataMaxByteCount {
		return d, ErrInvalidByteCount
	}
	checksum, _ := ReadUint16(buf[58:60])
	if ComputeChecksum(buf[0:58]) != checksum {
		return d, ErrBadChecksum
	}
	d = UpdateData{
		MessageIndex: messageIndex,
		Address:      address,
		NumBytes:     numBytes,
		Reserved:     reserved,
		Data:         append([]byte(nil), buf[10:10+numBytes]...),
		Checksum:     checksum,
	}
	return d, nil
}

// UpdateComplete is the parsed body of an fw_update_complete request.
type UpdateComplete struct {
	MessageIndex uint32
	NumMessages  uint32
	ExpectedCRC  uint32
}

// ParseUpdateComplete parses a 12-byte fw_update_complete body: 4-byte
// index, 4-byte expected message count, 4-byte expected CRC-32.
func ParseUpdateComplete(buf []byte) (UpdateComplete, error) {
	var c UpdateComplete
	if len(buf) != UpdateCompleteMessageSize {
		return c, ErrInvalidSize
	}
	messageIndex, _ := ReadUint32(buf[0:4])
	numMessages, _ := ReadUint32(buf[4:8])
	expectedCRC, _ := ReadUint32(buf[8:12])
	return UpdateComplete{MessageIndex: messageIndex, NumMessages: numMessages, ExpectedCRC: expectedCRC}, nil
}

// IterateDoubleWords walks buf (length <= 56) emitting one 64-bit word per
// 8-byte chunk, low-byte-first within each word, starting at address and
// advancing by 8 per word. The final, possibly-partial chunk is zero-padded
// in its high bytes. fn is called once per chunk; iteration stops and false
// is returned as soon as fn returns false. An empty buf calls fn zero times
// and returns true.
func IterateDoubleWords(address uint32, buf []byte, fn func(address uint32, word uint64) bool) bool {
	if len(buf) == 0 {
		return true
	}
	for offset := 0; offset < len(buf); offset += 8 {
		end := offset + 8
		if end > len(buf) {
			end = len(buf)
		}
		var word uint64
		for i, b := range buf[offset:end] {
			word |= uint64(b) << (8 * uint(i))
		}
		if !fn(address+uint32(offset), word) {
			return false
		}
	}
	return true
}
