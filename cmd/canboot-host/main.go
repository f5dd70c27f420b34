// Command canboot-host is a minimal development harness that pushes one
// firmware image to a single bootloader node over CAN: initiate, data,
// complete, in order, with no acknowledgement tracking or retry. It is
// explicitly not a resumable host-side update orchestrator - that is out of
// scope for this module, same as the application firmware itself.
package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v2"

	"github.com/opentrons-ot3/canboot/internal/crc32accum"
	"github.com/opentrons-ot3/canboot/pkg/can"
	_ "github.com/opentrons-ot3/canboot/pkg/can/socketcan"
	_ "github.com/opentrons-ot3/canboot/pkg/can/socketcanv3"
	_ "github.com/opentrons-ot3/canboot/pkg/can/virtual"
	"github.com/opentrons-ot3/canboot/pkg/canid"
	"github.com/opentrons-ot3/canboot/pkg/wire"
)

func main() {
	app := &cli.App{
		Name:    "canboot-host",
		Usage:   "push one firmware image to a bootloader node over CAN",
		Version: "v0.0.1",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "transport", Aliases: []string{"t"}, Value: "virtual", Usage: "registered can.Bus interface name"},
			&cli.StringFlag{Name: "channel", Aliases: []string{"c"}, Value: "localhost:18888", Usage: "transport channel (e.g. host:port, or a socketcan interface name)"},
			&cli.StringFlag{Name: "node", Aliases: []string{"n"}, Usage: "target node id, hex (e.g. 0x3f)"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "firmware image path"},
			&cli.UintFlag{Name: "address", Aliases: []string{"a"}, Usage: "starting flash address"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	nodeStr := c.String("node")
	filePath := c.String("file")
	if nodeStr == "" || filePath == "" {
		return cli.Exit("both -node and -file are required", 86)
	}
	nodeVal, err := strconv.ParseUint(nodeStr, 0, 8)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid -node: %v", err), 1)
	}
	target := canid.NodeId(nodeVal)

	image, err := os.ReadFile(filePath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	bus, err := can.NewBus(c.String("transport"), c.String("channel"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := bus.Connect(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer bus.Disconnect()

	address := uint32(c.Uint("address"))
	if err := pushImage(bus, target, address, image); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	log.WithFields(log.Fields{"node": target, "bytes": len(image)}).Info("canboot-host: image sent")
	return nil
}

func requestArb(target canid.NodeId, messageId canid.MessageId) canid.ArbitrationID {
	return canid.ArbitrationID{
		FunctionCode:      canid.FuncBootloader,
		NodeId:            target,
		OriginatingNodeId: canid.NodeHost,
		MessageId:         messageId,
	}
}

func pushImage(bus can.Bus, target canid.NodeId, address uint32, image []byte) error {
	initiate := wire.WriteUint32(nil, 0)
	if err := bus.Send(can.NewFrame(requestArb(target, canid.MessageFwUpdateInitiate).Pack(), initiate)); err != nil {
		return fmt.Errorf("initiate: %w", err)
	}

	accum := crc32accum.New()
	var messageIndex uint32
	for offset := 0; offset < len(image); offset += wire.UpdateDataMaxByteCount {
		end := offset + wire.UpdateDataMaxByteCount
		if end > len(image) {
			end = len(image)
		}
		chunk := image[offset:end]
		accum.Write(chunk)

		buf := make([]byte, 0, wire.UpdateDataMessageSize)
		buf = wire.WriteUint32(buf, messageIndex)
		buf = wire.WriteUint32(buf, address+uint32(offset))
		buf = append(buf, byte(len(chunk)), 0)
		buf = append(buf, chunk...)
		for len(buf) < wire.UpdateDataMessageSize-2 {
			buf = append(buf, 0)
		}
		checksum := wire.ComputeChecksum(buf[0:58])
		buf = wire.WriteUint16(buf, checksum)

		if err := bus.Send(can.NewFrame(requestArb(target, canid.MessageFwUpdateData).Pack(), buf)); err != nil {
			return fmt.Errorf("data[%d]: %w", messageIndex, err)
		}
		messageIndex++
	}

	complete := wire.WriteUint32(nil, messageIndex)
	complete = wire.WriteUint32(complete, messageIndex)
	complete = wire.WriteUint32(complete, accum.Sum32())
	if err := bus.Send(can.NewFrame(requestArb(target, canid.MessageFwUpdateComplete).Pack(), complete)); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}
