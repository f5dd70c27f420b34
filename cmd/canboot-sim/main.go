// Command canboot-sim runs one simulated bootloader node over the virtual
// CAN bus, driven by an INI configuration file, standing in for the real
// firmware's main.c/run_update for local development and testing.
package main

import (
	"context"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v2"

	"github.com/opentrons-ot3/canboot/internal/iwdg"
	"github.com/opentrons-ot3/canboot/internal/ring"
	"github.com/opentrons-ot3/canboot/pkg/appflag"
	"github.com/opentrons-ot3/canboot/pkg/bootloader"
	"github.com/opentrons-ot3/canboot/pkg/can"
	_ "github.com/opentrons-ot3/canboot/pkg/can/socketcan"
	_ "github.com/opentrons-ot3/canboot/pkg/can/socketcanv3"
	_ "github.com/opentrons-ot3/canboot/pkg/can/virtual"
	"github.com/opentrons-ot3/canboot/pkg/config"
	"github.com/opentrons-ot3/canboot/pkg/flash"
	"github.com/opentrons-ot3/canboot/pkg/flash/simflash"
	"github.com/opentrons-ot3/canboot/pkg/handler"
	"github.com/opentrons-ot3/canboot/pkg/updatestate"
	"github.com/opentrons-ot3/canboot/pkg/wire"
)

func main() {
	app := &cli.App{
		Name:    "canboot-sim",
		Usage:   "run a simulated bootloader node over the virtual CAN bus",
		Version: "v0.0.1",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the node's INI configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "logrus level: debug, info, warn, error",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	level, err := log.ParseLevel(c.String("log-level"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	log.SetLevel(level)

	configPath := c.String("config")
	if configPath == "" {
		return cli.Exit("missing required -config flag", 86)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	bus, err := can.NewBus(cfg.Transport, cfg.Channel)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := bus.Connect(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer bus.Disconnect()

	mem := simflash.New(int(cfg.FlashEnd - cfg.FlashStart))
	region := flash.Region{Start: cfg.FlashStart, End: cfg.FlashEnd, DualBank: cfg.DualBank}
	state := updatestate.New()
	watchdog := iwdg.New(iwdg.Interval, func() {
		log.Error("watchdog expired: no kick received in time")
	})
	defer watchdog.Stop()

	writer := flash.NewWriter(mem, region, state, watchdog)
	cb := writer.Callbacks()
	mem.OnEraseDone = cb.Done
	mem.OnEraseError = cb.Error

	handoff := &bootloader.SimHandoff{}
	core := &handler.Core{
		Self:     cfg.NodeID,
		State:    state,
		Flash:    writer,
		Version:  wire.VersionInfo{Version: 0x00010000},
		Revision: wire.RevisionInfo{},
		Flags:    &appflag.InMemory{},
		StartApp: func() error {
			return handoff.Jump(cfg.FlashStart)
		},
	}

	loop := &bootloader.Loop{
		Bus:      bus,
		Dispatch: &handler.Dispatcher{Core: core},
		SelfID:   cfg.NodeID,
		Watchdog: watchdog,
		RxQueue:  ring.New[wire.Message](64),
		Timing:   cfg.Timing,
	}
	if err := bus.Subscribe(loop); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	log.WithField("node", cfg.NodeID).Info("canboot-sim: listening")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err = loop.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}
