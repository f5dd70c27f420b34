package bootloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimHandoffRecordsJumpAddressAndReturnsError(t *testing.T) {
	h := &SimHandoff{}
	err := h.Jump(0x08008000)
	assert.ErrorIs(t, err, ErrSimulatedHandoff)
	assert.True(t, h.Jumped)
	assert.Equal(t, uint32(0x08008000), h.JumpAddress)
}
