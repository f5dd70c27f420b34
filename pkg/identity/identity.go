// Package identity resolves a node's CAN id at boot time, the same role
// node_id.c plays on the real hardware: some boards wire their id with a
// constant, some sense a single GPIO pin, and some read an ADC voltage
// against a table of disjoint bands.
package identity

import (
	"fmt"

	"github.com/opentrons-ot3/canboot/pkg/canid"
)

// Resolver resolves a node's identity. Implementations must be safe to call
// repeatedly; Digital and Analog read their sense input on every call, so
// callers that need the identity resolved once per boot wrap one in Cached.
type Resolver interface {
	Resolve() (canid.NodeId, error)
}

// Static always resolves to a fixed id, for boards whose identity is a
// compile-time constant (the common case: most boards have exactly one
// physical position).
type Static canid.NodeId

// Resolve returns the constant id.
func (s Static) Resolve() (canid.NodeId, error) {
	return canid.NodeId(s), nil
}

// InputPin is a single digital sense line, read once at boot.
type InputPin interface {
	Read() (bool, error)
}

// Digital resolves between two ids based on a single GPIO pin, used by
// boards that carry two possible physical positions distinguished by a strap
// (e.g. gantry X vs gantry Y on shared hardware).
type Digital struct {
	Pin      InputPin
	WhenHigh canid.NodeId
	WhenLow  canid.NodeId
}

// Resolve reads Pin once and returns the corresponding id.
func (d Digital) Resolve() (canid.NodeId, error) {
	high, err := d.Pin.Read()
	if err != nil {
		return 0, fmt.Errorf("identity: reading sense pin: %w", err)
	}
	if high {
		return d.WhenHigh, nil
	}
	return d.WhenLow, nil
}

// Reader is a single analog input, read once at boot and reported in
// millivolts.
type Reader interface {
	ReadMillivolts() (uint16, error)
}

// Band is one entry of an analog identity lookup table: a reading in
// [Lower, Upper) resolves to Id. Bands must be disjoint; Analog.Resolve does
// not sort or validate this, it walks Bands in order and returns the first
// match.
type Band struct {
	Lower uint16
	Upper uint16
	Id    canid.NodeId
}

// Within reports whether reading falls in this band.
func (b Band) Within(reading uint16) bool {
	return reading >= b.Lower && reading < b.Upper
}

// Analog resolves identity from a single ADC reading against a table of
// voltage bands, the strategy used by boards sensed through a resistor-ladder
// carrier (mirrors tool_detection's bounds/lookup-table pattern, generalized
// from tool-type lookup to node-id lookup).
type Analog struct {
	Source Reader
	Bands  []Band
	// Fallback is returned, with no error, when no band matches. The real
	// hardware has no way to signal "unidentifiable" other than picking some
	// id, so this mirrors tool_detection's UNKNOWN/undefined_tool fallback
	// rather than failing resolution outright.
	Fallback canid.NodeId
}

// Resolve reads Source once and looks it up against Bands in order.
func (a Analog) Resolve() (canid.NodeId, error) {
	reading, err := a.Source.ReadMillivolts()
	if err != nil {
		return 0, fmt.Errorf("identity: reading sense adc: %w", err)
	}
	for _, band := range a.Bands {
		if band.Within(reading) {
			return band.Id, nil
		}
	}
	return a.Fallback, nil
}

// Cached wraps a Resolver so Resolve only consults the underlying strategy
// once per boot, regardless of how many callers ask; every board's firmware
// treats node identity as fixed for the lifetime of the process.
type Cached struct {
	inner    Resolver
	resolved bool
	id       canid.NodeId
	err      error
}

// NewCached wraps inner in a Cached.
func NewCached(inner Resolver) *Cached {
	return &Cached{inner: inner}
}

// Resolve returns the memoized result, calling the wrapped Resolver only on
// the first call.
func (c *Cached) Resolve() (canid.NodeId, error) {
	if !c.resolved {
		c.id, c.err = c.inner.Resolve()
		c.resolved = true
	}
	return c.id, c.err
}
