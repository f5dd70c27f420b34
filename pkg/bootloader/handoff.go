package bootloader

import "errors"

// Handoff transfers control from the bootloader to the application. Jump
// never returns on a real target: it disables interrupts, clears the NVIC,
// zeroes SysTick, loads the application's initial stack pointer, and
// branches to its reset vector, mirroring app_update.c's app_update_start
// (the application side) and updater.c's fw_update_start_application (the
// bootloader side), both of which jump into code at a fixed flash offset
// with a fresh stack. That branch has no Go representation (it requires
// either cgo or a target-specific assembly stub) and is out of scope for
// this module; only the boundary interface and a recording simulator
// implementation live here.
type Handoff interface {
	Jump(appBaseAddress uint32) error
}

// ErrSimulatedHandoff is returned by SimHandoff.Jump in place of a real,
// non-returning branch.
var ErrSimulatedHandoff = errors.New("bootloader: simulated handoff, no real jump performed")

// SimHandoff records the address it was asked to jump to instead of actually
// transferring control, for use by cmd/canboot-sim and by tests.
type SimHandoff struct {
	Jumped      bool
	JumpAddress uint32
}

// Jump implements Handoff.
func (s *SimHandoff) Jump(appBaseAddress uint32) error {
	s.Jumped = true
	s.JumpAddress = appBaseAddress
	return ErrSimulatedHandoff
}
