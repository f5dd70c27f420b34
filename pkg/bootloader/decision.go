// Package bootloader ties together the boot decision, the update loop, and
// application handoff: the three pieces of main.c that sit above
// pkg/handler's message dispatch.
package bootloader

// ResetCause records which reset-flag bits RCC_CSR carried at boot, the Go
// analogue of main.c's IS_WATCHDOG_RESET()/IS_POWER_ON_RESET() macros. A real
// implementation reads and clears these from the reset-and-clock-control
// peripheral; tests construct one directly.
type ResetCause struct {
	PowerOn             bool
	LowPower            bool
	BrownOut            bool
	IndependentWatchdog bool
	WindowWatchdog      bool
}

// PowerOnReset reports whether any of the "normal" reset sources fired,
// matching IS_POWER_ON_RESET()'s RESET_CHECK_MASK (pin/low-power/brown-out).
func (c ResetCause) PowerOnReset() bool {
	return c.PowerOn || c.LowPower || c.BrownOut
}

// WatchdogReset reports whether either watchdog fired, matching
// IS_WATCHDOG_RESET()'s WATCHDOG_CHECK_MASK.
func (c ResetCause) WatchdogReset() bool {
	return c.IndependentWatchdog || c.WindowWatchdog
}

// RequiresUpdate is main.c's requires_an_update(), translated directly: an
// update is required if the watchdog fired, or if this isn't a power-on
// reset and the application asked for an update before resetting, or if
// there is simply no valid application in flash to jump to.
func RequiresUpdate(cause ResetCause, updateRequested bool, appInFlash bool) bool {
	if cause.WatchdogReset() {
		return true
	}
	if !cause.PowerOnReset() && updateRequested {
		return true
	}
	if !appInFlash {
		return true
	}
	return false
}

// appRAMMask/appRAMSignature are is_app_in_flash's 0x2FFC0000 mask and
// 0x20000000 expected value: a flashed application's vector table begins
// with its initial stack pointer, which always points somewhere in SRAM.
const (
	appRAMMask      = 0x2ffc0000
	appRAMSignature = 0x20000000
)

// AppInFlash reports whether stackPointerWord - the 32-bit word read from
// the application region's first address - looks like a plausible initial
// stack pointer (an SRAM address) rather than unprogrammed flash (0xffffffff)
// or zeroed flash. ramMask/expectedSignature are exposed as parameters
// instead of hardwired constants so tests can exercise the check without
// depending on this target's actual memory map.
func AppInFlash(stackPointerWord, ramMask, expectedSignature uint32) bool {
	return stackPointerWord&ramMask == expectedSignature
}

// DefaultAppInFlash applies AppInFlash with this target's real RAM mask and
// signature, matching is_app_in_flash's hardcoded 0x2FFC0000/0x20000000.
func DefaultAppInFlash(stackPointerWord uint32) bool {
	return AppInFlash(stackPointerWord, appRAMMask, appRAMSignature)
}
