package wire

// VersionInfo mirrors struct version from common/core/version.h: a packed
// version word, a flags word, and an 8-byte build sha, all carried verbatim
// in device_info_response.
type VersionInfo struct {
	Version uint32
	Flags   uint32
	SHA     [8]byte
}

// RevisionInfo mirrors struct revision: a primary/secondary board revision
// pair, read off two populated resistor-sensed pins on the real hardware.
type RevisionInfo struct {
	Primary   byte
	Secondary byte
}

// BuildDeviceInfoResponse lays out a device_info_response body: message
// index, version info, build sha, revision, and a 3-byte reserved subtype
// tail, matching handle_device_info_request's field order byte for byte.
func BuildDeviceInfoResponse(messageIndex uint32, version VersionInfo, revision RevisionInfo) []byte {
	buf := make([]byte, 0, 4+4+4+8+1+1+3)
	buf = WriteUint32(buf, messageIndex)
	buf = WriteUint32(buf, version.Version)
	buf = WriteUint32(buf, version.Flags)
	buf = append(buf, version.SHA[:]...)
	buf = append(buf, revision.Primary, revision.Secondary)
	buf = append(buf, 0, 0, 0)
	return buf
}

// BuildAcknowledgement lays out the fw_update_initiate response body: just
// the echoed message index.
func BuildAcknowledgement(messageIndex uint32) []byte {
	return WriteUint32(nil, messageIndex)
}

// BuildUpdateDataAck lays out an fw_update_data_ack body: message index,
// address, 16-bit error code.
func BuildUpdateDataAck(messageIndex uint32, address uint32, code uint16) []byte {
	buf := make([]byte, 0, 10)
	buf = WriteUint32(buf, messageIndex)
	buf = WriteUint32(buf, address)
	buf = WriteUint16(buf, code)
	return buf
}

// BuildUpdateCompleteAck lays out an fw_update_complete_ack body: message
// index, 16-bit error code.
func BuildUpdateCompleteAck(messageIndex uint32, code uint16) []byte {
	buf := make([]byte, 0, 6)
	buf = WriteUint32(buf, messageIndex)
	buf = WriteUint16(buf, code)
	return buf
}

// BuildStatusResponse lays out an fw_update_status_response body: message
// index, 32-bit app-update-flags word.
func BuildStatusResponse(messageIndex uint32, flags uint32) []byte {
	buf := make([]byte, 0, 8)
	buf = WriteUint32(buf, messageIndex)
	buf = WriteUint32(buf, flags)
	return buf
}

// BuildEraseAck lays out an fw_update_erase_app_ack body: message index,
// 16-bit error code. Same shape as BuildUpdateCompleteAck, kept as a
// separate function so each response kind has its own name at the call
// site in pkg/handler.
func BuildEraseAck(messageIndex uint32, code uint16) []byte {
	return BuildUpdateCompleteAck(messageIndex, code)
}
