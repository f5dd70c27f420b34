// Package updatestate tracks the progress of a single in-flight firmware
// update: how many data messages have landed, the running CRC-32 over their
// payloads, and whether the application region has been erased. The original
// firmware keeps this as a single global singleton; here it is an explicit
// struct threaded through the handler core, so nothing prevents a test (or a
// process embedding more than one simulated node) from holding several.
package updatestate

import (
	"sync/atomic"

	"github.com/opentrons-ot3/canboot/internal/crc32accum"
)

// EraseState mirrors the flash programmer's asynchronous erase progress, as
// observed by the update loop between issuing an erase and polling for its
// completion.
type EraseState int32

const (
	EraseIdle EraseState = iota
	EraseRunning
	EraseDone
	EraseError
)

func (s EraseState) String() string {
	switch s {
	case EraseIdle:
		return "idle"
	case EraseRunning:
		return "running"
	case EraseDone:
		return "done"
	case EraseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the mutable bookkeeping for one firmware update attempt.
type State struct {
	// NumMessagesReceived counts accepted fw_update_data messages since the
	// last Reset.
	NumMessagesReceived uint32
	crc                 *crc32accum.Accumulator
	// erased records whether EraseApplication completed successfully since
	// the last Reset. It is write-only from the core's perspective: nothing
	// in this module reads it back to gate behavior (see Erased below), it
	// exists purely for status reporting.
	erased int32
	// eraseState is touched by the flash programmer's completion callback
	// concurrently with the core reading it, hence atomic.
	eraseState int32
}

// New returns a freshly reset State.
func New() *State {
	s := &State{crc: crc32accum.New()}
	s.Reset()
	return s
}

// Reset clears the message counter and CRC accumulator and returns the erase
// progress to EraseIdle, as happens at fw_update_initiate. It does not touch
// Erased: an erase that already
// completed earlier in this boot remains valid across a restarted transfer,
// matching the original firmware's update_state.erased surviving
// reset_update_state (only num_messages_received and error_detection are
// cleared there).
func (s *State) Reset() {
	s.NumMessagesReceived = 0
	s.crc.Reset()
	s.SetEraseState(EraseIdle)
}

// Accept folds payload into the running CRC and increments the message
// counter, in arrival order. Call this once per accepted fw_update_data
// message, after validating its checksum and byte count but regardless of
// whether the flash write itself succeeds (the original always increments
// the counter and CRC before reporting the write's own error separately).
func (s *State) Accept(payload []byte) {
	s.crc.Write(payload)
	s.NumMessagesReceived++
}

// CRC32 returns the running CRC-32 over all payloads folded in since Reset.
func (s *State) CRC32() uint32 {
	return s.crc.Sum32()
}

// SetErased records that EraseApplication completed successfully.
func (s *State) SetErased(v bool) {
	i := int32(0)
	if v {
		i = 1
	}
	atomic.StoreInt32(&s.erased, i)
}

// Erased reports whether EraseApplication has completed successfully since
// the last SetErased(false). Exposed for status reporting only (see Design
// Decision D1): the handler core never consults this to gate fw_update_data
// or fw_update_complete, matching the original firmware which also never
// reads update_state.erased back.
func (s *State) Erased() bool {
	return atomic.LoadInt32(&s.erased) != 0
}

// SetEraseState is called by the flash programmer's erase-completion
// callback.
func (s *State) SetEraseState(v EraseState) {
	atomic.StoreInt32(&s.eraseState, int32(v))
}

// GetEraseState reports the current erase progress.
func (s *State) GetEraseState() EraseState {
	return EraseState(atomic.LoadInt32(&s.eraseState))
}
