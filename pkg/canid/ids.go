// Package canid describes the CAN arbitration-id layout and the node,
// message, function-code, error-code and tool-type catalogues shared by
// every node on the bus.
package canid

import "fmt"

// FunctionCode is the coarse class carried in the low nibble (bits 0-3) of
// an arbitration id.
type FunctionCode uint8

const (
	FuncNetworkManagement FunctionCode = 0x0
	FuncSync              FunctionCode = 0x1
	FuncError             FunctionCode = 0x2
	FuncCommand           FunctionCode = 0x3
	FuncStatus            FunctionCode = 0x4
	FuncParameters        FunctionCode = 0x5
	FuncBootloader        FunctionCode = 0x6
	FuncHeartbeat         FunctionCode = 0x7
)

// NodeId identifies a physical board, or its bootloader variant, on the bus.
type NodeId uint8

const (
	NodeBroadcast NodeId = 0x00
	NodeHost      NodeId = 0x10

	NodeGripper  NodeId = 0x20
	NodeGripperZ NodeId = 0x21
	NodeGripperG NodeId = 0x22

	NodeGantryX NodeId = 0x30
	NodeGantryY NodeId = 0x40

	NodeHead  NodeId = 0x50
	NodeHeadL NodeId = 0x51
	NodeHeadR NodeId = 0x52

	NodePipetteLeft  NodeId = 0x60
	NodePipetteRight NodeId = 0x70

	NodeGripperBootloader      NodeId = 0x2f
	NodeGantryXBootloader      NodeId = 0x3f
	NodeGantryYBootloader      NodeId = 0x4f
	NodeHeadBootloader         NodeId = 0x5f
	NodePipetteLeftBootloader  NodeId = 0x6f
	NodePipetteRightBootloader NodeId = 0x7f
)

var nodeNames = map[NodeId]string{
	NodeBroadcast: "broadcast", NodeHost: "host",
	NodeGripper: "gripper", NodeGripperZ: "gripper_z", NodeGripperG: "gripper_g",
	NodeGantryX: "gantry_x", NodeGantryY: "gantry_y",
	NodeHead: "head", NodeHeadL: "head_l", NodeHeadR: "head_r",
	NodePipetteLeft: "pipette_left", NodePipetteRight: "pipette_right",
	NodeGripperBootloader: "gripper_bootloader", NodeGantryXBootloader: "gantry_x_bootloader",
	NodeGantryYBootloader: "gantry_y_bootloader", NodeHeadBootloader: "head_bootloader",
	NodePipetteLeftBootloader: "pipette_left_bootloader", NodePipetteRightBootloader: "pipette_right_bootloader",
}

func (n NodeId) String() string {
	if name, ok := nodeNames[n]; ok {
		return name
	}
	return fmt.Sprintf("node(0x%02x)", uint8(n))
}

// MessageId enumerates the message catalogue. Only the bootloader subset is
// acted on by this module's handlers, but the rest of the catalogue is named
// here too: the dispatcher's "everything else" branch and any board-specific
// override need real constants to compare against, not just the bootloader
// subset.
type MessageId uint16

const (
	MessageStopRequest              MessageId = 0x000
	MessageGetStatusRequest         MessageId = 0x001
	MessageSetupRequest             MessageId = 0x002
	MessageGetStatusResponse        MessageId = 0x005
	MessageEnableMotorRequest       MessageId = 0x006
	MessageDisableMotorRequest      MessageId = 0x007
	MessageLimitSwitchRequest       MessageId = 0x008
	MessageLimitSwitchResponse      MessageId = 0x009
	MessageMoveRequest              MessageId = 0x010
	MessageEncoderPositionRequest   MessageId = 0x012
	MessageMoveCompleted            MessageId = 0x013
	MessageEncoderPositionResponse  MessageId = 0x014
	MessageAddMoveRequest           MessageId = 0x015
	MessageGetMoveGroupRequest      MessageId = 0x016
	MessageGetMoveGroupResponse     MessageId = 0x017
	MessageExecuteMoveGroupRequest  MessageId = 0x018
	MessageClearAllMoveGroups       MessageId = 0x019
	MessageHomeRequest              MessageId = 0x020
	MessageWriteMotorDriverRegister MessageId = 0x030
	MessageReadMotorDriverRegister  MessageId = 0x031
	MessageReadMotorDriverResponse  MessageId = 0x032
	MessageWriteMotorCurrent        MessageId = 0x033
	MessageReadMotorCurrentRequest  MessageId = 0x034
	MessageReadMotorCurrentResponse MessageId = 0x035
	MessageSetBrushedMotorVref      MessageId = 0x040
	MessageSetBrushedMotorPwm       MessageId = 0x041
	MessageGripperGripRequest       MessageId = 0x042
	MessageGripperHomeRequest       MessageId = 0x043

	MessageFwUpdateInitiate      MessageId = 0x060
	MessageFwUpdateData          MessageId = 0x061
	MessageFwUpdateDataAck       MessageId = 0x062
	MessageFwUpdateComplete      MessageId = 0x063
	MessageFwUpdateCompleteAck   MessageId = 0x064
	MessageFwUpdateStatusRequest MessageId = 0x065
	MessageFwUpdateStatusResp    MessageId = 0x066
	MessageFwUpdateStartApp      MessageId = 0x067
	MessageFwUpdateEraseApp      MessageId = 0x068
	MessageFwUpdateEraseAppAck   MessageId = 0x069
	MessageAcknowledgement       MessageId = 0x06a

	MessageSetMotionConstraints    MessageId = 0x101
	MessageGetMotionConstraintsReq MessageId = 0x102
	MessageGetMotionConstraintsRsp MessageId = 0x103

	MessageWriteEeprom        MessageId = 0x201
	MessageReadEepromRequest  MessageId = 0x202
	MessageReadEepromResponse MessageId = 0x203

	MessageDeviceInfoRequest     MessageId = 0x302
	MessageDeviceInfoResponse    MessageId = 0x303
	MessageTaskInfoRequest       MessageId = 0x304
	MessageTaskInfoResponse      MessageId = 0x305
	MessageInstrumentInfoRequest MessageId = 0x306
	MessagePipetteInfoResponse   MessageId = 0x307
	MessageGripperInfoResponse   MessageId = 0x308
	MessageSetSerialNumber       MessageId = 0x30a

	MessageReadPresenceSensingVoltageReq MessageId = 0x600
	MessageReadPresenceSensingVoltageRsp MessageId = 0x601

	MessageAttachedToolsRequest      MessageId = 0x700
	MessageToolsDetectedNotification MessageId = 0x701

	MessageHeartbeatResponse MessageId = 0x3fe
	MessageHeartbeatRequest  MessageId = 0x3ff
)

// ErrorCode is the 16-bit big-endian status carried in acknowledgement bodies.
type ErrorCode uint16

const (
	ErrOK               ErrorCode = 0x0000
	ErrInvalidSize      ErrorCode = 0x0001
	ErrBadChecksum      ErrorCode = 0x0002
	ErrInvalidByteCount ErrorCode = 0x0003
	ErrInvalidInput     ErrorCode = 0x0004
	ErrHardware         ErrorCode = 0x0005
)

// ToolType enumerates tools that may be sensed on the head.
type ToolType uint8

const (
	ToolUndefined       ToolType = 0x0
	ToolPipette96Chan   ToolType = 0x1
	ToolPipette384Chan  ToolType = 0x2
	ToolPipetteSingle   ToolType = 0x3
	ToolPipetteMulti    ToolType = 0x4
	ToolGripper         ToolType = 0x5
	ToolNothingAttached ToolType = 0x6
)

// ArbitrationID is the bit-packed 29-bit CAN-FD extended identifier.
//
//	[ msg_id : 11 | orig : 7 | dest : 7 | func : 4 ]  (msg_id in the high bits)
//
// Top 3 bits are reserved: zero on send, ignored on receive.
type ArbitrationID struct {
	FunctionCode      FunctionCode
	NodeId            NodeId
	OriginatingNodeId NodeId
	MessageId         MessageId
}

// Pack encodes the fields into the raw 29-bit identifier value.
func (a ArbitrationID) Pack() uint32 {
	return uint32(a.FunctionCode)&0xf |
		(uint32(a.NodeId)&0x7f)<<4 |
		(uint32(a.OriginatingNodeId)&0x7f)<<11 |
		(uint32(a.MessageId)&0x7ff)<<18
}

// Unpack decodes a raw 29-bit identifier into its fields. Reserved bits are
// ignored, matching the spec's "ignored on receive."
func Unpack(raw uint32) ArbitrationID {
	return ArbitrationID{
		FunctionCode:      FunctionCode(raw & 0xf),
		NodeId:            NodeId((raw >> 4) & 0x7f),
		OriginatingNodeId: NodeId((raw >> 11) & 0x7f),
		MessageId:         MessageId((raw >> 18) & 0x7ff),
	}
}

// Admits reports whether a frame with the given arbitration id should be
// accepted by a node with identity self. pkg/bootloader's Loop.Handle applies
// it to every received frame, whichever transport delivered it; no transport
// in this module derives its own kernel or hardware filters from it.
func Admits(self NodeId, id ArbitrationID) bool {
	if id.NodeId == self && id.OriginatingNodeId == NodeHost {
		return true
	}
	if id.NodeId == NodeBroadcast && id.MessageId == MessageDeviceInfoRequest {
		return true
	}
	return false
}

// ResponseID builds the arbitration id for a response to request, as built
// by every message handler in pkg/handler: destination is always the host,
// origin is this node, and the message id is the canonical response id.
func ResponseID(self NodeId, responseMessageId MessageId) ArbitrationID {
	return ArbitrationID{
		FunctionCode:      FuncBootloader,
		NodeId:            NodeHost,
		OriginatingNodeId: self,
		MessageId:         responseMessageId,
	}
}
