// Package config loads a bootloader node's static configuration - identity,
// CAN transport, and flash region bounds - from an INI file, the same format
// (and library) the teacher's object-dictionary loader uses for EDS files,
// repurposed here onto a much smaller schema since this module has no object
// dictionary of its own.
package config

import (
	"fmt"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/opentrons-ot3/canboot/pkg/bittiming"
	"github.com/opentrons-ot3/canboot/pkg/canid"
)

// Config is one node's static bootloader configuration.
type Config struct {
	// NodeID is the [node] section's id. Load also copies it into
	// Identity.NodeID; cmd/canboot-sim uses it as the node's id whatever
	// Identity.Strategy says.
	NodeID canid.NodeId

	// Identity selects how this node resolves its own NodeId at boot:
	// "static", "digital", or "analog". pkg/identity builds the matching
	// Resolver; this package only carries the selection and its
	// parameters.
	Identity IdentityConfig

	Transport string
	Channel   string

	// Timing is the CAN-FD bit timing rederived from the [can] section's
	// bus_clock_hz/quantum_ns/bitrate_hz/sample_point_milli keys at load
	// time: a miscalibrated [can]
	// section fails Load instead of producing a node that can't agree on
	// bus timing with the rest of the network.
	Timing bittiming.Timing

	FlashStart uint32
	FlashEnd   uint32
	DualBank   bool
}

// IdentityConfig carries the parameters pkg/identity needs to build a
// Resolver, without importing pkg/identity itself (this package only
// describes data, it does not wire up GPIO/ADC capabilities).
type IdentityConfig struct {
	Strategy string // "static", "digital", "analog"

	// Static
	NodeID canid.NodeId

	// Digital
	WhenHigh canid.NodeId
	WhenLow  canid.NodeId

	// Analog
	Bands    []BandConfig
	Fallback canid.NodeId
}

// BandConfig mirrors identity.Band for INI representation.
type BandConfig struct {
	Lower uint16
	Upper uint16
	Id    canid.NodeId
}

// Load parses a node configuration from file, which may be a path, an
// *os.File, or a []byte, per ini.Load's own accepted types.
func Load(file any) (*Config, error) {
	f, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	node := f.Section("node")
	can := f.Section("can")
	flashSection := f.Section("flash")
	identitySection := f.Section("identity")

	cfg := &Config{
		Transport: can.Key("transport").MustString("virtual"),
		Channel:   can.Key("channel").MustString("localhost:18888"),
	}

	nodeID, err := parseNodeID(node.Key("id").MustString("0x00"))
	if err != nil {
		return nil, fmt.Errorf("config: node.id: %w", err)
	}
	cfg.NodeID = nodeID

	// Defaults are the G4 target's bring-up values: an 85MHz peripheral
	// clock, a 240ns quantum, 250kbaud, and an 88.3% sample point.
	busClockHz := can.Key("bus_clock_hz").MustUint64(85_000_000)
	quantumNs := can.Key("quantum_ns").MustUint64(240)
	bitrateHz := can.Key("bitrate_hz").MustUint64(250_000)
	samplePointMilli := can.Key("sample_point_milli").MustUint64(883)
	cfg.Timing, err = bittiming.Compute(uint32(busClockHz), uint32(quantumNs), uint32(bitrateHz), uint32(samplePointMilli))
	if err != nil {
		return nil, fmt.Errorf("config: can: %w", err)
	}

	cfg.FlashStart, err = parseHexUint32(flashSection.Key("start").MustString("0x0"))
	if err != nil {
		return nil, fmt.Errorf("config: flash.start: %w", err)
	}
	cfg.FlashEnd, err = parseHexUint32(flashSection.Key("end").MustString("0x0"))
	if err != nil {
		return nil, fmt.Errorf("config: flash.end: %w", err)
	}
	cfg.DualBank = flashSection.Key("dual_bank").MustBool(false)

	cfg.Identity, err = loadIdentity(identitySection, nodeID)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadIdentity(section *ini.Section, defaultNodeID canid.NodeId) (IdentityConfig, error) {
	strategy := section.Key("strategy").MustString("static")
	ic := IdentityConfig{Strategy: strategy, NodeID: defaultNodeID}

	switch strategy {
	case "static":
		return ic, nil
	case "digital":
		whenHigh, err := parseNodeID(section.Key("when_high").MustString("0x00"))
		if err != nil {
			return ic, fmt.Errorf("config: identity.when_high: %w", err)
		}
		whenLow, err := parseNodeID(section.Key("when_low").MustString("0x00"))
		if err != nil {
			return ic, fmt.Errorf("config: identity.when_low: %w", err)
		}
		ic.WhenHigh, ic.WhenLow = whenHigh, whenLow
		return ic, nil
	case "analog":
		fallback, err := parseNodeID(section.Key("fallback").MustString("0x00"))
		if err != nil {
			return ic, fmt.Errorf("config: identity.fallback: %w", err)
		}
		ic.Fallback = fallback
		for i, name := range section.Key("bands").Strings(",") {
			band, err := parseBand(name)
			if err != nil {
				return ic, fmt.Errorf("config: identity.bands[%d]: %w", i, err)
			}
			ic.Bands = append(ic.Bands, band)
		}
		return ic, nil
	default:
		return ic, fmt.Errorf("config: identity.strategy: unknown strategy %q", strategy)
	}
}

// parseBand parses "lower:upper:nodeid", e.g. "0:1000:0x6f".
func parseBand(s string) (BandConfig, error) {
	var lower, upper uint16
	var nodeIDStr string
	n, err := fmt.Sscanf(s, "%d:%d:%s", &lower, &upper, &nodeIDStr)
	if err != nil || n != 3 {
		return BandConfig{}, fmt.Errorf("expected lower:upper:nodeid, got %q", s)
	}
	id, err := parseNodeID(nodeIDStr)
	if err != nil {
		return BandConfig{}, err
	}
	return BandConfig{Lower: lower, Upper: upper, Id: id}, nil
}

func parseNodeID(s string) (canid.NodeId, error) {
	v, err := parseHexUint32(s)
	if err != nil {
		return 0, err
	}
	return canid.NodeId(v), nil
}

func parseHexUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
