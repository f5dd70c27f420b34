package bootloader

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opentrons-ot3/canboot/internal/iwdg"
	"github.com/opentrons-ot3/canboot/internal/ring"
	"github.com/opentrons-ot3/canboot/pkg/bittiming"
	"github.com/opentrons-ot3/canboot/pkg/can"
	"github.com/opentrons-ot3/canboot/pkg/canid"
	"github.com/opentrons-ot3/canboot/pkg/handler"
	"github.com/opentrons-ot3/canboot/pkg/wire"
)

// Loop is the update loop's single foreground actor, matching main.c's
// run_update: pop a queued frame, dispatch it, transmit any response, kick
// the watchdog, repeat.
type Loop struct {
	Bus      can.Bus
	Dispatch *handler.Dispatcher
	SelfID   canid.NodeId
	Watchdog *iwdg.Watchdog
	RxQueue  *ring.Ring[wire.Message]

	// Timing is the CAN-FD bit timing this node's transport was brought up
	// with, rederived by bittiming.Compute at config load time. Run logs it
	// once before entering the dispatch loop; a zero value means the caller
	// never set it (e.g. a test double) and logging is skipped.
	Timing bittiming.Timing

	// IdleSleep bounds how long Run waits between empty-queue polls. Zero
	// uses a 1ms default, matching run_update's HAL_Delay(1) idle branch.
	IdleSleep time.Duration
}

// bringUp logs this node's CAN-FD bit timing once, the foreground-loop
// analogue of initialize_can's peripheral configuration step that runs
// before the dispatch loop starts.
func (l *Loop) bringUp() {
	if l.Timing.ActualBitrateHz == 0 {
		return
	}
	log.WithFields(log.Fields{
		"prescaler":         l.Timing.Prescaler,
		"segment1_quanta":   l.Timing.Segment1Quanta,
		"segment2_quanta":   l.Timing.Segment2Quanta,
		"sync_jump_width":   l.Timing.SyncJumpWidth,
		"actual_bitrate_hz": l.Timing.ActualBitrateHz,
	}).Info("bootloader: CAN bring-up")
}

// Handle implements can.FrameListener. The receive path is only ever allowed
// to convert the frame and push it onto RxQueue - the Go analogue of an ISR
// handing work to the foreground loop - applying the same canid.Admits
// predicate a real FDCAN hardware filter would enforce, so frames this node
// would reject never reach the dispatcher on any transport.
func (l *Loop) Handle(frame can.Frame) {
	arb := canid.Unpack(frame.ID)
	if !canid.Admits(l.SelfID, arb) {
		return
	}
	var msg wire.Message
	msg.Arbitration = arb
	msg.Size = frame.DLC
	copy(msg.Data[:], frame.Data[:])
	l.RxQueue.Push(msg)
}

// Run drains RxQueue, dispatching each frame and transmitting any response,
// until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	l.bringUp()

	idle := l.IdleSleep
	if idle <= 0 {
		idle = time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, ok := l.RxQueue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idle):
			}
			l.kick()
			continue
		}

		resp, result := l.Dispatch.Dispatch(msg)
		if result == handler.ResultHasResponse {
			// Set the originating id to our node id, exactly as run_update
			// does unconditionally before transmitting, independent of
			// whatever the handler itself already filled in.
			resp.Arbitration.OriginatingNodeId = l.SelfID
			frame := can.NewFrame(resp.Arbitration.Pack(), resp.Payload())
			if err := l.Bus.Send(frame); err != nil {
				return err
			}
		}

		l.kick()
	}
}

func (l *Loop) kick() {
	if l.Watchdog != nil {
		l.Watchdog.Kick()
	}
}
