// Package main runs a simulated o3d3xx camera on loopback: an XML-RPC
// parameter server plus a PCIC stream of synthetic frames. Point the
// bridge at it when no hardware is around.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx/fake"
)

var logger = golog.NewDevelopmentLogger("o3d3xx-sim")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	XMLRPCPort     int    `flag:"xmlrpc-port,usage=XML-RPC listen port, 0 picks a free one"`
	PCICPort       int    `flag:"pcic-port,usage=PCIC listen port, 0 picks a free one"`
	Width          int    `flag:"width,default=176,usage=frame width in pixels"`
	Height         int    `flag:"height,default=132,usage=frame height in pixels"`
	IntervalMillis int    `flag:"interval-millis,default=100,usage=frame interval in milliseconds"`
	Password       string `flag:"password,usage=edit-mode password clients must present"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	dev, err := fake.NewDevice(fake.Config{
		Password:      argsParsed.Password,
		Width:         argsParsed.Width,
		Height:        argsParsed.Height,
		FrameInterval: time.Duration(argsParsed.IntervalMillis) * time.Millisecond,
		XMLRPCPort:    argsParsed.XMLRPCPort,
		PCICPort:      argsParsed.PCICPort,
	}, logger)
	if err != nil {
		return err
	}

	logger.Infow("simulated camera up",
		"ip", dev.IP(),
		"xmlrpc_port", dev.XMLRPCPort(),
		"pcic_port", dev.PCICPort(),
		"interval", time.Duration(argsParsed.IntervalMillis)*time.Millisecond)

	goutils.ContextMainReadyFunc(ctx)()
	<-ctx.Done()
	return dev.Close()
}
