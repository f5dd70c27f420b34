package iwdg

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKickPreventsFiring(t *testing.T) {
	var fired int32
	w := New(30*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	defer w.Stop()

	deadline := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(deadline) {
		w.Kick()
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestExpiryFiresCallback(t *testing.T) {
	var fired int32
	w := New(10*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	defer w.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestStopSuppressesLateFire(t *testing.T) {
	var fired int32
	w := New(10*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	w.Stop()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}
