// Package flash drives double-word flash programming and the asynchronous
// page-erase state machine that back a firmware update, adapted from the
// unlock/program/lock and interrupt-driven erase sequence in the original
// firmware's updater.c.
package flash

import (
	"context"
	"errors"
	"time"

	"github.com/opentrons-ot3/canboot/internal/iwdg"
	"github.com/opentrons-ot3/canboot/pkg/updatestate"
	"github.com/opentrons-ot3/canboot/pkg/wire"
)

// ErrOutOfRange is returned when a write targets an address outside the
// programmer's configured application region (Design Decision D2: clamp to
// [AppRegionStart, AppRegionEnd) and reject anything else as a hardware
// error, since the original's dword_address_iter has no such check at all
// and a TODO in updater.c flags exactly this gap).
var ErrOutOfRange = errors.New("flash: address out of range")

// Region describes the erasable/programmable application area of flash, and
// whether it spans one bank or two (dual-bank devices erase bank 2
// separately, per updater.c's #ifdef FLASH_BANK_2 branch).
type Region struct {
	Start    uint32
	End      uint32
	DualBank bool
}

// Contains reports whether [addr, addr+n) lies entirely within the region.
func (r Region) Contains(addr uint32, n int) bool {
	return addr >= r.Start && uint64(addr)+uint64(n) <= uint64(r.End)
}

// Programmer is the hardware capability this package drives: unlock/lock the
// flash controller, program one double word, and kick off an asynchronous
// page erase. A real implementation wraps the target's HAL; simflash
// provides an in-memory one for tests and the simulator.
type Programmer interface {
	Unlock() error
	Lock() error
	ProgramDoubleWord(address uint32, word uint64) error
	// EraseBank starts an asynchronous erase of the application pages in the
	// given bank (0 or 1; 1 is only used on dual-bank regions) and returns
	// immediately. Completion is reported through the Callbacks passed to
	// NewWriter.
	EraseBank(bank int) error
}

// Callbacks lets the Programmer report asynchronous erase completion,
// standing in for HAL_FLASH_EndOfOperationCallback/OperationErrorCallback.
type Callbacks struct {
	Done  func()
	Error func()
}

// Writer drives programming and erase against a Programmer, threading
// progress through a State rather than the original's process-wide globals.
type Writer struct {
	prog    Programmer
	region  Region
	state   *updatestate.State
	watchdog *iwdg.Watchdog
	eraseWaitPoll time.Duration
}

// NewWriter returns a Writer. watchdog may be nil, in which case the erase
// busy-wait does not kick anything (used by tests that don't care about
// watchdog behavior).
func NewWriter(prog Programmer, region Region, state *updatestate.State, watchdog *iwdg.Watchdog) *Writer {
	return &Writer{prog: prog, region: region, state: state, watchdog: watchdog, eraseWaitPoll: 100 * time.Millisecond}
}

// Callbacks returns the Callbacks this Writer expects to be wired to its
// Programmer, translating erase completion into updatestate transitions.
func (w *Writer) Callbacks() Callbacks {
	return Callbacks{
		Done: func() {
			if w.state.GetEraseState() == updatestate.EraseRunning {
				w.state.SetEraseState(updatestate.EraseDone)
			}
		},
		Error: func() {
			if w.state.GetEraseState() == updatestate.EraseRunning {
				w.state.SetEraseState(updatestate.EraseError)
			}
		},
	}
}

// Data programs payload starting at address, double word at a time, folding
// payload into the running CRC and incrementing the message counter
// regardless of the flash write's own outcome, mirroring fw_update_data's
// unconditional state->num_messages_received++ - but only once the address
// range has been accepted. The original has no such range check (it's a
// TODO there); since this rewrite adds one, a rejected out-of-range write
// must not touch the CRC or counter, or error_detection would no longer
// reflect exactly the bytes actually accepted. The range checked is the span
// of whole double words programmed, including the zero-filled tail of a
// partial last word.
func (w *Writer) Data(address uint32, payload []byte) error {
	if !w.region.Contains(address, (len(payload)+7)/8*8) {
		return ErrOutOfRange
	}

	w.state.Accept(payload)

	if err := w.prog.Unlock(); err != nil {
		return err
	}

	var writeErr error
	wire.IterateDoubleWords(address, payload, func(addr uint32, word uint64) bool {
		if err := w.prog.ProgramDoubleWord(addr, word); err != nil {
			writeErr = err
			return false
		}
		return true
	})

	if err := w.prog.Lock(); err != nil && writeErr == nil {
		writeErr = err
	}
	return writeErr
}

// Complete validates the transfer against the declared message count and
// CRC-32, per fw_update_complete.
func (w *Writer) Complete(numMessages uint32, expectedCRC uint32) error {
	if numMessages != w.state.NumMessagesReceived {
		return wire.ErrInvalidSize
	}
	if expectedCRC != w.state.CRC32() {
		return wire.ErrBadChecksum
	}
	return nil
}

// EraseApplication unlocks flash, starts an asynchronous erase of the
// application region (both banks, in sequence, on dual-bank devices), and
// busy-waits for completion while kicking the watchdog, matching
// fw_update_erase_application/fw_update_wait_erase's 100ms HAL_Delay loop.
// ctx cancellation aborts the wait (but not an erase already in flight on
// real hardware, which has no abort primitive).
func (w *Writer) EraseApplication(ctx context.Context) error {
	if err := w.prog.Unlock(); err != nil {
		return err
	}
	defer w.prog.Lock()

	w.state.SetEraseState(updatestate.EraseRunning)
	if err := w.prog.EraseBank(0); err != nil {
		w.state.SetEraseState(updatestate.EraseIdle)
		return err
	}
	if err := w.waitErase(ctx); err != nil {
		return err
	}

	if w.region.DualBank {
		w.state.SetEraseState(updatestate.EraseRunning)
		if err := w.prog.EraseBank(1); err != nil {
			w.state.SetEraseState(updatestate.EraseIdle)
			return err
		}
		if err := w.waitErase(ctx); err != nil {
			return err
		}
	}

	w.state.SetErased(true)
	return nil
}

func (w *Writer) waitErase(ctx context.Context) error {
	ticker := time.NewTicker(w.eraseWaitPoll)
	defer ticker.Stop()
	for {
		switch w.state.GetEraseState() {
		case updatestate.EraseDone:
			return nil
		case updatestate.EraseError:
			return errors.New("flash: erase failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if w.watchdog != nil {
				w.watchdog.Kick()
			}
		}
	}
}
