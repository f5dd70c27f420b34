// Package handler implements the bootloader's message dispatch: one function
// per message kind, each building the exact response body its original
// handle_* counterpart in message_handler.c builds, routed through the same
// board-override-first, then-table-dispatch shape as handle_message.
package handler

import (
	"context"
	"errors"

	"github.com/opentrons-ot3/canboot/pkg/appflag"
	"github.com/opentrons-ot3/canboot/pkg/canid"
	"github.com/opentrons-ot3/canboot/pkg/flash"
	"github.com/opentrons-ot3/canboot/pkg/updatestate"
	"github.com/opentrons-ot3/canboot/pkg/wire"
)

// HandleResult mirrors HandleMessageReturn from message_handler.h.
type HandleResult int

const (
	// ResultOK means the message was handled and no response is owed.
	ResultOK HandleResult = iota
	// ResultHasResponse means the message was handled and resp holds the
	// frame to transmit.
	ResultHasResponse
	// ResultError means handling failed outright; resp is meaningless.
	ResultError
	// ResultNotHandled means the receiver has no opinion on this message.
	// Only an Override hook returns this to fall through to Core.dispatch;
	// Core.dispatch itself never returns it (its default branch is
	// ResultOK, matching system_handle_message's "default: ok, not
	// handled" collapsing to a silent no-response in this module).
	ResultNotHandled
)

// Core holds everything a handler needs to answer a request: this node's own
// identity (resolved once at boot, not re-resolved per message), the update
// state and flash writer threaded from the boot entry point, the static
// version/revision this binary reports, and the persistent update-request
// flag.
type Core struct {
	Self     canid.NodeId
	State    *updatestate.State
	Flash    *flash.Writer
	Version  wire.VersionInfo
	Revision wire.RevisionInfo
	Flags    appflag.Store

	// DeviceInfoExtra, if set, appends board-specific bytes after the fixed
	// device_info_response body (e.g. a pipette subtype byte).
	DeviceInfoExtra func() []byte

	// StartApp triggers the application handoff for fw_update_start_app.
	// It is only ever expected to return on failure (the simulator's
	// Handoff), since a real jump never returns.
	StartApp func() error

	// EraseContext supplies the context bounding an erase's busy-wait. Nil
	// means context.Background().
	EraseContext func() context.Context

	// Override runs before Core.dispatch, the Go analogue of
	// system_specific_handle_message's weak-symbol override. Returning
	// ResultNotHandled falls through to the built-in dispatch.
	Override func(req wire.Message) (wire.Message, HandleResult)
}

// HandleMessage is the entry point matching handle_message's two-stage
// dispatch: an optional board override runs first, then the built-in table.
func (c *Core) HandleMessage(req wire.Message) (wire.Message, HandleResult) {
	if c.Override != nil {
		if resp, result := c.Override(req); result != ResultNotHandled {
			return resp, result
		}
	}
	return c.dispatch(req)
}

// dispatch is system_handle_message's switch, one case per message id this
// module acts on. Everything else falls to the default branch: ok, no
// response.
func (c *Core) dispatch(req wire.Message) (wire.Message, HandleResult) {
	switch req.Arbitration.MessageId {
	case canid.MessageDeviceInfoRequest:
		return c.handleDeviceInfoRequest(req)
	case canid.MessageFwUpdateInitiate:
		return c.handleInitiateFwUpdate(req)
	case canid.MessageFwUpdateData:
		return c.handleFwUpdateData(req)
	case canid.MessageFwUpdateComplete:
		return c.handleFwUpdateComplete(req)
	case canid.MessageFwUpdateStatusRequest:
		return c.handleFwUpdateStatusRequest(req)
	case canid.MessageFwUpdateEraseApp:
		return c.handleFwUpdateEraseApp(req)
	case canid.MessageFwUpdateStartApp:
		return c.handleFwUpdateStartApp(req)
	default:
		return wire.Message{}, ResultOK
	}
}

func (c *Core) response(messageId canid.MessageId, body []byte) wire.Message {
	var resp wire.Message
	resp.Arbitration = canid.ResponseID(c.Self, messageId)
	resp.Size = uint8(len(body))
	copy(resp.Data[:], body)
	return resp
}

func (c *Core) handleDeviceInfoRequest(req wire.Message) (wire.Message, HandleResult) {
	messageIndex, err := wire.ParseEmptyMessage(req.Payload())
	if err != nil {
		return wire.Message{}, ResultError
	}
	body := wire.BuildDeviceInfoResponse(messageIndex, c.Version, c.Revision)
	if c.DeviceInfoExtra != nil {
		body = append(body, c.DeviceInfoExtra()...)
	}
	return c.response(canid.MessageDeviceInfoResponse, body), ResultHasResponse
}

func (c *Core) handleInitiateFwUpdate(req wire.Message) (wire.Message, HandleResult) {
	messageIndex, err := wire.ParseEmptyMessage(req.Payload())
	if err != nil {
		return wire.Message{}, ResultError
	}
	c.State.Reset()
	body := wire.BuildAcknowledgement(messageIndex)
	return c.response(canid.MessageAcknowledgement, body), ResultHasResponse
}

func (c *Core) handleFwUpdateData(req wire.Message) (wire.Message, HandleResult) {
	payload := req.Payload()
	d, err := wire.ParseUpdateData(payload)
	if err != nil {
		code := canid.ErrInvalidSize
		if errors.Is(err, wire.ErrBadChecksum) {
			code = canid.ErrBadChecksum
		} else if errors.Is(err, wire.ErrInvalidByteCount) {
			code = canid.ErrInvalidByteCount
		}
		messageIndex, _ := wire.ReadUint32(payload)
		var address uint32
		if len(payload) >= 8 {
			address, _ = wire.ReadUint32(payload[4:8])
		}
		body := wire.BuildUpdateDataAck(messageIndex, address, uint16(code))
		return c.response(canid.MessageFwUpdateDataAck, body), ResultHasResponse
	}

	code := canid.ErrOK
	if err := c.Flash.Data(d.Address, d.Data); err != nil {
		code = canid.ErrHardware
	}
	body := wire.BuildUpdateDataAck(d.MessageIndex, d.Address, uint16(code))
	return c.response(canid.MessageFwUpdateDataAck, body), ResultHasResponse
}

func (c *Core) handleFwUpdateComplete(req wire.Message) (wire.Message, HandleResult) {
	u, err := wire.ParseUpdateComplete(req.Payload())
	if err != nil {
		messageIndex, _ := wire.ReadUint32(req.Payload())
		body := wire.BuildUpdateCompleteAck(messageIndex, uint16(canid.ErrInvalidSize))
		return c.response(canid.MessageFwUpdateCompleteAck, body), ResultHasResponse
	}

	code := canid.ErrOK
	switch err := c.Flash.Complete(u.NumMessages, u.ExpectedCRC); {
	case err == nil:
		code = canid.ErrOK
	case errors.Is(err, wire.ErrInvalidSize):
		code = canid.ErrInvalidSize
	case errors.Is(err, wire.ErrBadChecksum):
		code = canid.ErrBadChecksum
	default:
		code = canid.ErrHardware
	}
	body := wire.BuildUpdateCompleteAck(u.MessageIndex, uint16(code))
	return c.response(canid.MessageFwUpdateCompleteAck, body), ResultHasResponse
}

func (c *Core) handleFwUpdateStatusRequest(req wire.Message) (wire.Message, HandleResult) {
	messageIndex, err := wire.ParseEmptyMessage(req.Payload())
	if err != nil {
		return wire.Message{}, ResultError
	}
	var flags uint32
	if c.Flags != nil {
		flags = uint32(c.Flags.Read())
	}
	body := wire.BuildStatusResponse(messageIndex, flags)
	return c.response(canid.MessageFwUpdateStatusResp, body), ResultHasResponse
}

func (c *Core) handleFwUpdateEraseApp(req wire.Message) (wire.Message, HandleResult) {
	messageIndex, err := wire.ParseEmptyMessage(req.Payload())
	if err != nil {
		return wire.Message{}, ResultError
	}

	ctx := context.Background()
	if c.EraseContext != nil {
		ctx = c.EraseContext()
	}
	code := canid.ErrOK
	if err := c.Flash.EraseApplication(ctx); err != nil {
		code = canid.ErrHardware
	}
	body := wire.BuildEraseAck(messageIndex, uint16(code))
	return c.response(canid.MessageFwUpdateEraseAppAck, body), ResultHasResponse
}

// handleFwUpdateStartApp mirrors system_handle_message's fw_update_start_app
// case exactly: it calls the handoff directly and returns ok, never a
// response, since a successful jump never returns to send one.
func (c *Core) handleFwUpdateStartApp(req wire.Message) (wire.Message, HandleResult) {
	if c.StartApp != nil {
		_ = c.StartApp()
	}
	return wire.Message{}, ResultOK
}

// Dispatcher is the thin routing layer pkg/bootloader's update loop calls
// once per received frame, kept distinct from Core so the loop depends only
// on this narrow surface.
type Dispatcher struct {
	Core *Core
}

// Dispatch handles one request frame.
func (d *Dispatcher) Dispatch(req wire.Message) (wire.Message, HandleResult) {
	return d.Core.HandleMessage(req)
}
