package handler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrons-ot3/canboot/pkg/appflag"
	"github.com/opentrons-ot3/canboot/pkg/canid"
	"github.com/opentrons-ot3/canboot/pkg/flash"
	"github.com/opentrons-ot3/canboot/pkg/flash/simflash"
	"github.com/opentrons-ot3/canboot/pkg/updatestate"
	"github.com/opentrons-ot3/canboot/pkg/wire"
)

func emptyRequest(self canid.NodeId, msgId canid.MessageId, messageIndex uint32) wire.Message {
	var m wire.Message
	m.Arbitration = canid.ArbitrationID{
		FunctionCode:      canid.FuncBootloader,
		NodeId:            self,
		OriginatingNodeId: canid.NodeHost,
		MessageId:         msgId,
	}
	body := wire.WriteUint32(nil, messageIndex)
	m.Size = uint8(len(body))
	copy(m.Data[:], body)
	return m
}

func updateDataRequest(self canid.NodeId, messageIndex, address uint32, payload []byte) wire.Message {
	buf := make([]byte, 0, wire.UpdateDataMessageSize)
	buf = wire.WriteUint32(buf, messageIndex)
	buf = wire.WriteUint32(buf, address)
	buf = append(buf, byte(len(payload)), 0)
	buf = append(buf, payload...)
	for len(buf) < wire.UpdateDataMessageSize-2 {
		buf = append(buf, 0)
	}
	checksum := wire.ComputeChecksum(buf[0:58])
	buf = wire.WriteUint16(buf, checksum)

	var m wire.Message
	m.Arbitration = canid.ArbitrationID{
		FunctionCode:      canid.FuncBootloader,
		NodeId:            self,
		OriginatingNodeId: canid.NodeHost,
		MessageId:         canid.MessageFwUpdateData,
	}
	m.Size = uint8(len(buf))
	copy(m.Data[:], buf)
	return m
}

func completeRequest(self canid.NodeId, messageIndex, numMessages, crc uint32) wire.Message {
	buf := wire.WriteUint32(nil, messageIndex)
	buf = wire.WriteUint32(buf, numMessages)
	buf = wire.WriteUint32(buf, crc)
	var m wire.Message
	m.Arbitration = canid.ArbitrationID{
		FunctionCode:      canid.FuncBootloader,
		NodeId:            self,
		OriginatingNodeId: canid.NodeHost,
		MessageId:         canid.MessageFwUpdateComplete,
	}
	m.Size = uint8(len(buf))
	copy(m.Data[:], buf)
	return m
}

func newTestCore(t *testing.T) (*Core, *simflash.Flash) {
	t.Helper()
	mem := simflash.New(4096)
	region := flash.Region{Start: 0, End: 4096}
	state := updatestate.New()
	w := flash.NewWriter(mem, region, state, nil)
	cb := w.Callbacks()
	mem.OnEraseDone = cb.Done
	mem.OnEraseError = cb.Error

	return &Core{
		Self:     canid.NodeGantryXBootloader,
		State:    state,
		Flash:    w,
		Version:  wire.VersionInfo{Version: 0x0102, Flags: 0, SHA: [8]byte{'d', 'e', 'a', 'd', 'b', 'e', 'e', 'f'}},
		Revision: wire.RevisionInfo{Primary: 1, Secondary: 2},
		Flags:    &appflag.InMemory{},
	}, mem
}

func TestDeviceInfoRequestReportsVersionAndRevision(t *testing.T) {
	c, _ := newTestCore(t)
	req := emptyRequest(canid.NodeBroadcast, canid.MessageDeviceInfoRequest, 7)

	resp, result := c.HandleMessage(req)
	require.Equal(t, ResultHasResponse, result)
	assert.Equal(t, canid.MessageDeviceInfoResponse, resp.Arbitration.MessageId)
	assert.Equal(t, canid.NodeHost, resp.Arbitration.NodeId)
	assert.Equal(t, canid.NodeGantryXBootloader, resp.Arbitration.OriginatingNodeId)

	body := resp.Payload()
	messageIndex, _ := wire.ReadUint32(body[0:4])
	assert.Equal(t, uint32(7), messageIndex)
	version, _ := wire.ReadUint32(body[4:8])
	assert.Equal(t, uint32(0x0102), version)
	assert.Equal(t, byte(1), body[20])
	assert.Equal(t, byte(2), body[21])
}

func TestDeviceInfoRequestAppendsBoardExtra(t *testing.T) {
	c, _ := newTestCore(t)
	c.DeviceInfoExtra = func() []byte { return []byte{0x09} }

	req := emptyRequest(canid.NodeBroadcast, canid.MessageDeviceInfoRequest, 1)
	resp, result := c.HandleMessage(req)
	require.Equal(t, ResultHasResponse, result)
	assert.Equal(t, byte(0x09), resp.Payload()[len(resp.Payload())-1])
}

func TestInitiateFwUpdateResetsStateAndAcks(t *testing.T) {
	c, _ := newTestCore(t)
	c.State.Accept([]byte("stale"))

	req := emptyRequest(canid.NodeGantryXBootloader, canid.MessageFwUpdateInitiate, 3)
	resp, result := c.HandleMessage(req)

	require.Equal(t, ResultHasResponse, result)
	assert.Equal(t, canid.MessageAcknowledgement, resp.Arbitration.MessageId)
	messageIndex, _ := wire.ReadUint32(resp.Payload())
	assert.Equal(t, uint32(3), messageIndex)
	assert.Equal(t, uint32(0), c.State.NumMessagesReceived)
}

func TestFwUpdateDataWritesFlashAndAcksOK(t *testing.T) {
	c, mem := newTestCore(t)
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	req := updateDataRequest(canid.NodeGantryXBootloader, 1, 0x40, payload)

	resp, result := c.HandleMessage(req)
	require.Equal(t, ResultHasResponse, result)
	assert.Equal(t, canid.MessageFwUpdateDataAck, resp.Arbitration.MessageId)

	body := resp.Payload()
	messageIndex, _ := wire.ReadUint32(body[0:4])
	address, _ := wire.ReadUint32(body[4:8])
	code, _ := wire.ReadUint16(body[8:10])
	assert.Equal(t, uint32(1), messageIndex)
	assert.Equal(t, uint32(0x40), address)
	assert.Equal(t, uint16(canid.ErrOK), code)
	assert.Equal(t, payload, mem.Bytes()[0x40:0x40+len(payload)])
}

func TestFwUpdateDataOutOfRangeAcksHardwareError(t *testing.T) {
	c, _ := newTestCore(t)
	req := updateDataRequest(canid.NodeGantryXBootloader, 1, 0xfff0, []byte{1, 2, 3})

	resp, result := c.HandleMessage(req)
	require.Equal(t, ResultHasResponse, result)
	code, _ := wire.ReadUint16(resp.Payload()[8:10])
	assert.Equal(t, uint16(canid.ErrHardware), code)
}

func TestFwUpdateDataBadChecksumAcksBadChecksum(t *testing.T) {
	c, _ := newTestCore(t)
	req := updateDataRequest(canid.NodeGantryXBootloader, 1, 0, []byte{1, 2, 3})
	req.Data[57] ^= 0xff

	resp, result := c.HandleMessage(req)
	require.Equal(t, ResultHasResponse, result)
	code, _ := wire.ReadUint16(resp.Payload()[8:10])
	assert.Equal(t, uint16(canid.ErrBadChecksum), code)
}

func TestFwUpdateCompleteSuccess(t *testing.T) {
	c, _ := newTestCore(t)
	payload := []byte("firmware")
	require.NoError(t, c.Flash.Data(0, payload))

	req := completeRequest(canid.NodeGantryXBootloader, 2, 1, c.State.CRC32())
	resp, result := c.HandleMessage(req)

	require.Equal(t, ResultHasResponse, result)
	code, _ := wire.ReadUint16(resp.Payload()[4:6])
	assert.Equal(t, uint16(canid.ErrOK), code)
}

func TestFwUpdateCompleteWrongCountReportsInvalidSize(t *testing.T) {
	c, _ := newTestCore(t)
	require.NoError(t, c.Flash.Data(0, []byte("abc")))

	req := completeRequest(canid.NodeGantryXBootloader, 2, 9, c.State.CRC32())
	resp, result := c.HandleMessage(req)

	require.Equal(t, ResultHasResponse, result)
	code, _ := wire.ReadUint16(resp.Payload()[4:6])
	assert.Equal(t, uint16(canid.ErrInvalidSize), code)
}

func TestFwUpdateCompleteWrongCRCReportsBadChecksum(t *testing.T) {
	c, _ := newTestCore(t)
	require.NoError(t, c.Flash.Data(0, []byte("abc")))

	req := completeRequest(canid.NodeGantryXBootloader, 2, 1, 0xdeadbeef)
	resp, result := c.HandleMessage(req)

	require.Equal(t, ResultHasResponse, result)
	code, _ := wire.ReadUint16(resp.Payload()[4:6])
	assert.Equal(t, uint16(canid.ErrBadChecksum), code)
}

func TestFwUpdateStatusRequestReportsFlags(t *testing.T) {
	c, _ := newTestCore(t)
	appflag.Request(c.Flags)

	req := emptyRequest(canid.NodeGantryXBootloader, canid.MessageFwUpdateStatusRequest, 5)
	resp, result := c.HandleMessage(req)

	require.Equal(t, ResultHasResponse, result)
	messageIndex, _ := wire.ReadUint32(resp.Payload()[0:4])
	flags, _ := wire.ReadUint32(resp.Payload()[4:8])
	assert.Equal(t, uint32(5), messageIndex)
	assert.Equal(t, uint32(appflag.Requested), flags)
}

func TestFwUpdateEraseAppAcksOKAndSetsErased(t *testing.T) {
	c, _ := newTestCore(t)
	req := emptyRequest(canid.NodeGantryXBootloader, canid.MessageFwUpdateEraseApp, 1)

	resp, result := c.HandleMessage(req)
	require.Equal(t, ResultHasResponse, result)
	code, _ := wire.ReadUint16(resp.Payload()[4:6])
	assert.Equal(t, uint16(canid.ErrOK), code)
	assert.True(t, c.State.Erased())
}

func TestFwUpdateEraseAppAcksHardwareOnFailure(t *testing.T) {
	c, mem := newTestCore(t)
	mem.HasFailBank = true
	mem.FailBank = 0

	req := emptyRequest(canid.NodeGantryXBootloader, canid.MessageFwUpdateEraseApp, 1)
	resp, result := c.HandleMessage(req)
	require.Equal(t, ResultHasResponse, result)
	code, _ := wire.ReadUint16(resp.Payload()[4:6])
	assert.Equal(t, uint16(canid.ErrHardware), code)
}

func TestFwUpdateStartAppInvokesHandoffAndSendsNoResponse(t *testing.T) {
	c, _ := newTestCore(t)
	called := false
	c.StartApp = func() error {
		called = true
		return errors.New("simulated: does not jump")
	}

	req := emptyRequest(canid.NodeGantryXBootloader, canid.MessageFwUpdateStartApp, 0)
	resp, result := c.HandleMessage(req)

	assert.True(t, called)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, wire.Message{}, resp)
}

func TestUnknownMessageDefaultsToOKWithNoResponse(t *testing.T) {
	c, _ := newTestCore(t)
	req := emptyRequest(canid.NodeGantryXBootloader, canid.MessageHeartbeatRequest, 0)

	resp, result := c.HandleMessage(req)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, wire.Message{}, resp)
}

func TestOverrideShortCircuitsBuiltinDispatch(t *testing.T) {
	c, _ := newTestCore(t)
	overrideResp := wire.Message{Size: 1}
	c.Override = func(req wire.Message) (wire.Message, HandleResult) {
		if req.Arbitration.MessageId == canid.MessageDeviceInfoRequest {
			return overrideResp, ResultHasResponse
		}
		return wire.Message{}, ResultNotHandled
	}

	req := emptyRequest(canid.NodeBroadcast, canid.MessageDeviceInfoRequest, 1)
	resp, result := c.HandleMessage(req)
	assert.Equal(t, ResultHasResponse, result)
	assert.Equal(t, overrideResp, resp)
}

func TestOverrideFallsThroughWhenNotHandled(t *testing.T) {
	c, _ := newTestCore(t)
	calls := 0
	c.Override = func(req wire.Message) (wire.Message, HandleResult) {
		calls++
		return wire.Message{}, ResultNotHandled
	}

	req := emptyRequest(canid.NodeBroadcast, canid.MessageDeviceInfoRequest, 2)
	_, result := c.HandleMessage(req)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ResultHasResponse, result)
}

func TestDispatcherDelegatesToCore(t *testing.T) {
	c, _ := newTestCore(t)
	d := &Dispatcher{Core: c}
	req := emptyRequest(canid.NodeGantryXBootloader, canid.MessageFwUpdateStatusRequest, 0)
	_, result := d.Dispatch(req)
	assert.Equal(t, ResultHasResponse, result)
}
