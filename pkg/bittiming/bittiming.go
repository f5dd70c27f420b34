// Package bittiming derives CAN-FD bit-timing register values - prescaler,
// segment 1/2 quanta, synchronization jump width - from a bus clock, a
// requested time quantum, a target bitrate, and a sample point. It
// translates can/core/bit_timings.hpp's consteval template chain
// (get_clock_divider / get_actual_time_quantum / get_total_time_quanta /
// get_actual_bitrate / get_segment_1_quanta / get_segment_2_quanta) into
// runtime functions: Go has no consteval, so the derivation that would run
// at compile time there runs at config-load time here, and the chain's
// static_asserts become returned errors instead.
package bittiming

import "fmt"

const (
	nsPerSecond    = 1_000_000_000
	samplePointMax = 1000
)

// Timing is the register tuple a CAN-FD bit-timing block is programmed
// from: the rederivable (segment1, segment2, SJW, prescaler) tuple.
type Timing struct {
	Prescaler           uint8
	ActualTimeQuantumNs uint32
	TotalTimeQuanta     uint32
	ActualBitrateHz     uint32
	Segment1Quanta      uint8
	Segment2Quanta      uint8
	SyncJumpWidth       uint8
}

// Compute derives Timing for a peripheral clocked at busClockHz, targeting a
// time quantum of quantumNs, a bitrate of bitrateHz, and a sample point
// given in thousandths (883 means a sample point at 88.3% of the bit time).
// It returns an error everywhere bit_timings.hpp's static_asserts would have
// failed to compile: an unreachable quantum at this clock, or a resulting
// quantum/bitrate more than 12% off the request.
func Compute(busClockHz, quantumNs, bitrateHz, samplePointMilli uint32) (Timing, error) {
	if busClockHz == 0 {
		return Timing{}, fmt.Errorf("bittiming: clock must not be 0")
	}
	if quantumNs == 0 {
		return Timing{}, fmt.Errorf("bittiming: quantum time must not be 0")
	}
	if bitrateHz == 0 {
		return Timing{}, fmt.Errorf("bittiming: bitrate must not be 0")
	}
	if samplePointMilli == 0 || samplePointMilli >= samplePointMax {
		return Timing{}, fmt.Errorf("bittiming: sample point ratio %d must be in (0, 1000)", samplePointMilli)
	}

	prescaler, err := clockDivider(busClockHz, quantumNs)
	if err != nil {
		return Timing{}, err
	}

	actualQuantum := actualTimeQuantum(busClockHz, uint32(prescaler))
	if err := checkQuantumTolerance(actualQuantum, quantumNs); err != nil {
		return Timing{}, err
	}

	totalQuanta := totalTimeQuanta(bitrateHz, actualQuantum)
	if totalQuanta == 0 {
		return Timing{}, fmt.Errorf("bittiming: bitrate %dHz leaves no time quanta per bit at quantum %dns", bitrateHz, actualQuantum)
	}

	rate := actualBitrate(totalQuanta, actualQuantum)
	if err := checkBitrateTolerance(rate, bitrateHz); err != nil {
		return Timing{}, err
	}

	seg1 := segment1Quanta(totalQuanta, samplePointMilli)
	seg2 := segment2Quanta(totalQuanta, samplePointMilli, seg1)

	return Timing{
		Prescaler:           prescaler,
		ActualTimeQuantumNs: actualQuantum,
		TotalTimeQuanta:     totalQuanta,
		ActualBitrateHz:     rate,
		Segment1Quanta:      uint8(seg1),
		Segment2Quanta:      seg2,
		SyncJumpWidth:       seg2,
	}, nil
}

// clockDivider is get_clock_divider: the prescaler that makes one clock tick
// at this divider last quantumNs, restricted to a single byte the way the
// original's uint8_t return type is.
func clockDivider(busClockHz, quantumNs uint32) (uint8, error) {
	divider := uint64(busClockHz) * uint64(quantumNs) / nsPerSecond
	if divider == 0 {
		return 0, fmt.Errorf("bittiming: cannot accomplish quantum %dns at clock %dHz (too slow)", quantumNs, busClockHz)
	}
	if divider >= 256 {
		return 0, fmt.Errorf("bittiming: cannot accomplish quantum %dns at clock %dHz (too fast)", quantumNs, busClockHz)
	}
	return uint8(divider), nil
}

// actualTimeQuantum is get_actual_time_quantum: the real quantum length the
// chosen divider produces, which only approximates the requested one.
func actualTimeQuantum(busClockHz, divider uint32) uint32 {
	return nsPerSecond / (busClockHz / divider)
}

// checkQuantumTolerance is get_actual_time_quantum's pair of static_asserts,
// bounding actual to within 1/8 (12.5%) of requested.
func checkQuantumTolerance(actual, requested uint32) error {
	tolerance := requested >> 3
	if actual >= requested+tolerance {
		return fmt.Errorf("bittiming: time quantum %dns is >12%% too high (requested %dns)", actual, requested)
	}
	if actual <= requested-tolerance {
		return fmt.Errorf("bittiming: time quantum %dns is >12%% too low (requested %dns)", actual, requested)
	}
	return nil
}

// totalTimeQuanta is get_total_time_quanta: how many quanta make up one bit
// at the requested bitrate.
func totalTimeQuanta(bitrateHz, actualQuantum uint32) uint32 {
	return nsPerSecond / (bitrateHz * actualQuantum)
}

// actualBitrate is get_actual_bitrate: the real bitrate totalQuanta whole
// quanta of actualQuantum length produce.
func actualBitrate(totalQuanta, actualQuantum uint32) uint32 {
	return nsPerSecond / (totalQuanta * actualQuantum)
}

// checkBitrateTolerance bounds actual to within 1/8 (12.5%) of requested,
// the same shape as checkQuantumTolerance. bit_timings.hpp's own
// get_actual_bitrate has its comparison operators swapped on this pair of
// static_asserts (asserting actual_bitrate > the upper bound and < the
// lower bound, which both G4 and L5's own fixture values fail - they'd
// never compile against that literal condition); this applies the
// tolerance in the direction the quantum check and the surrounding prose
// ("±12% tolerance") actually intend.
func checkBitrateTolerance(actual, requested uint32) error {
	tolerance := requested >> 3
	if actual >= requested+tolerance {
		return fmt.Errorf("bittiming: bitrate %dHz is >12%% too high (requested %dHz)", actual, requested)
	}
	if actual <= requested-tolerance {
		return fmt.Errorf("bittiming: bitrate %dHz is >12%% too low (requested %dHz)", actual, requested)
	}
	return nil
}

// segment1Quanta is get_segment_1_quanta.
func segment1Quanta(totalQuanta, samplePointMilli uint32) uint32 {
	return (totalQuanta*samplePointMilli)/samplePointMax - 1
}

// segment2Quanta is get_segment_2_quanta: segment 1 plus a first-pass
// segment 2 estimate is nudged up by one quantum when it would otherwise
// undershoot the total.
func segment2Quanta(totalQuanta, samplePointMilli, segment1 uint32) uint8 {
	trySegment2 := totalQuanta * (samplePointMax - samplePointMilli) / samplePointMax
	if segment1+trySegment2 < totalQuanta+1 {
		return uint8(trySegment2 + 1)
	}
	return uint8(trySegment2)
}
