// Package crc32accum implements the running CRC-32 accumulator used to
// validate a firmware image as it arrives frame by frame. It matches the
// zlib/IEEE polynomial the original firmware's crc32.c explicitly targets.
package crc32accum

import "hash/crc32"

// Accumulator folds bytes into a zlib-compatible CRC-32 one payload at a
// time, in arrival order, without buffering the image itself.
type Accumulator struct {
	crc uint32
}

// New returns an accumulator primed to zlib/IEEE's initial value.
func New() *Accumulator {
	a := &Accumulator{}
	a.Reset()
	return a
}

// Reset returns the accumulator to its initial state, as happens at
// fw_update_initiate.
func (a *Accumulator) Reset() {
	a.crc = 0
}

// Write folds b into the running CRC in arrival order and returns len(b), nil,
// satisfying io.Writer.
func (a *Accumulator) Write(b []byte) (int, error) {
	a.crc = crc32.Update(a.crc, crc32.IEEETable, b)
	return len(b), nil
}

// Sum32 returns the CRC-32 of all bytes written so far.
func (a *Accumulator) Sum32() uint32 {
	return a.crc
}
