package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUint16RoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x00ff, 0xff00, 0xffff, 0x1234} {
		buf := WriteUint16(nil, v)
		require.Len(t, buf, 2)
		got, err := ReadUint16(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestUint32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0xdeadbeef, 0xffffffff} {
		buf := WriteUint32(nil, v)
		require.Len(t, buf, 4)
		got, err := ReadUint32(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestReadUint16ShortBuffer(t *testing.T) {
	_, err := ReadUint16([]byte{0x01})
	assert.Error(t, err)
}

func TestParseEmptyMessage(t *testing.T) {
	buf := WriteUint32(nil, 0x01020304)
	idx, err := ParseEmptyMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), idx)
}

func TestParseEmptyMessageWrongSize(t *testing.T) {
	_, err := ParseEmptyMessage([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func buildUpdateDataFrame(t *testing.T, messageIndex, address uint32, payload []byte) []byte {
	t.Helper()
	require.LessOrEqual(t, len(payload), UpdateDataMaxByteCount)
	buf := make([]byte, 0, UpdateDataMessageSize)
	buf = WriteUint32(buf, messageIndex)
	buf = WriteUint32(buf, address)
	buf = append(buf, byte(len(payload)), 0)
	data := make([]byte, UpdateDataMaxByteCount)
	copy(data, payload)
	buf = append(buf, data...)
	checksum := ComputeChecksum(buf)
	buf = WriteUint16(buf, checksum)
	return buf
}

func TestParseUpdateDataRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog!!!")
	if len(payload) > UpdateDataMaxByteCount {
		payload = payload[:UpdateDataMaxByteCount]
	}
	frame := buildUpdateDataFrame(t, 7, 0x08008000, payload)
	require.Len(t, frame, UpdateDataMessageSize)

	got, err := ParseUpdateData(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got.MessageIndex)
	assert.Equal(t, uint32(0x08008000), got.Address)
	assert.Equal(t, uint8(len(payload)), got.NumBytes)
	assert.Equal(t, payload, got.Data)
}

func TestParseUpdateDataWrongSize(t *testing.T) {
	_, err := ParseUpdateData(make([]byte, 59))
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestParseUpdateDataBadChecksum(t *testing.T) {
	frame := buildUpdateDataFrame(t, 1, 0, []byte("hello"))
	frame[58] ^= 0xff
	_, err := ParseUpdateData(frame)
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestParseUpdateDataByteCountTooLarge(t *testing.T) {
	frame := buildUpdateDataFrame(t, 1, 0, make([]byte, UpdateDataMaxByteCount))
	frame[8] = UpdateDataMaxByteCount + 1
	_, err := ParseUpdateData(frame)
	assert.ErrorIs(t, err, ErrInvalidByteCount)
}

func TestParseUpdateDataZeroByteCount(t *testing.T) {
	frame := buildUpdateDataFrame(t, 1, 0x1000, nil)
	got, err := ParseUpdateData(frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), got.NumBytes)
	assert.Empty(t, got.Data)
}

func TestParseUpdateCompleteRoundTrip(t *testing.T) {
	buf := make([]byte, 0, UpdateCompleteMessageSize)
	buf = WriteUint32(buf, 3)
	buf = WriteUint32(buf, 42)
	buf = WriteUint32(buf, 0xcafebabe)
	got, err := ParseUpdateComplete(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.MessageIndex)
	assert.Equal(t, uint32(42), got.NumMessages)
	assert.Equal(t, uint32(0xcafebabe), got.ExpectedCRC)
}

func TestParseUpdateCompleteWrongSize(t *testing.T) {
	_, err := ParseUpdateComplete(make([]byte, 11))
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestComputeChecksumZeroesOutWhenSummed(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	checksum := ComputeChecksum(b)
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	assert.Equal(t, uint16(0), sum+checksum)
}

func TestIterateDoubleWordsExactMultiple(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	var addrs []uint32
	var words []uint64
	ok := IterateDoubleWords(0x1000, buf, func(addr uint32, word uint64) bool {
		addrs = append(addrs, addr)
		words = append(words, word)
		return true
	})
	assert.True(t, ok)
	assert.Equal(t, []uint32{0x1000, 0x1008}, addrs)
	assert.Equal(t, uint64(0x0807060504030201), words[0])
	assert.Equal(t, uint64(0x100f0e0d0c0b0a09), words[1])
}

func TestIterateDoubleWordsPartialLastWord(t *testing.T) {
	buf := []byte{1, 2, 3}
	var words []uint64
	ok := IterateDoubleWords(0, buf, func(addr uint32, word uint64) bool {
		words = append(words, word)
		return true
	})
	assert.True(t, ok)
	require.Len(t, words, 1)
	assert.Equal(t, uint64(0x00000000_00030201), words[0])
}

func TestIterateDoubleWordsEmpty(t *testing.T) {
	called := false
	ok := IterateDoubleWords(0, nil, func(uint32, uint64) bool {
		called = true
		return true
	})
	assert.True(t, ok)
	assert.False(t, called)
}

func TestIterateDoubleWordsStopsEarly(t *testing.T) {
	buf := make([]byte, 32)
	calls := 0
	ok := IterateDoubleWords(0, buf, func(uint32, uint64) bool {
		calls++
		return calls < 2
	})
	assert.False(t, ok)
	assert.Equal(t, 2, calls)
}

func TestBuildDeviceInfoResponseLayout(t *testing.T) {
	body := BuildDeviceInfoResponse(9, VersionInfo{Version: 0x01020304, Flags: 0, SHA: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}, RevisionInfo{Primary: 'b', Secondary: '1'})
	require.Len(t, body, 4+4+4+8+1+1+3)
	idx, _ := ReadUint32(body[0:4])
	assert.Equal(t, uint32(9), idx)
	assert.Equal(t, byte('b'), body[20])
	assert.Equal(t, byte('1'), body[21])
}
