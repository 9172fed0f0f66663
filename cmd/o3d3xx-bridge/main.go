// Package main runs the o3d3xx bridge daemon: it streams camera frames
// onto ZeroMQ channels and serves the admin operations over HTTP.
package main

import (
	"context"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/shaun-edwards/o3d3xx-ros/bridge"
	"github.com/shaun-edwards/o3d3xx-ros/publish"
	"github.com/shaun-edwards/o3d3xx-ros/web"
)

var logger = golog.NewDevelopmentLogger("o3d3xx-bridge")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	CameraIP      string `flag:"camera-ip,default=192.168.0.69,usage=camera IP address"`
	XMLRPCPort    int    `flag:"xmlrpc-port,default=80,usage=camera XML-RPC port"`
	Password      string `flag:"password,usage=camera edit-mode password"`
	PCICPort      int    `flag:"pcic-port,default=50010,usage=camera PCIC port"`
	TimeoutMillis int    `flag:"timeout-millis,default=500,usage=frame wait timeout in milliseconds"`
	PublishViz    bool   `flag:"publish-viz,usage=also publish rendered depth/pixel/histogram images"`
	Name          string `flag:"name,default=o3d3xx,usage=node name, frame IDs derive from it"`
	PubEndpoint   string `flag:"pub,default=tcp://127.0.0.1:5563,usage=ZeroMQ PUB endpoint"`
	HTTPAddr      string `flag:"http,default=:8080,usage=admin HTTP listen address"`
	MonitorMillis int    `flag:"monitor-millis,default=1000,usage=WebSocket monitor interval in milliseconds"`
	Debug         bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = golog.NewDebugLogger("o3d3xx-bridge")
	}
	return runBridge(ctx, argsParsed, logger)
}

func runBridge(ctx context.Context, args Arguments, logger golog.Logger) (err error) {
	pub, err := publish.NewZMQPublisher(args.PubEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, pub.Close())
	}()

	node, err := bridge.NewNode(bridge.Config{
		CameraIP:   args.CameraIP,
		XMLRPCPort: args.XMLRPCPort,
		Password:   args.Password,
		PCICPort:   args.PCICPort,
		Timeout:    time.Duration(args.TimeoutMillis) * time.Millisecond,
		PublishViz: args.PublishViz,
		FrameID:    args.Name + "_link",
	}, pub, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, node.Close(context.Background()))
	}()
	node.Start()

	srv := web.NewServer(node, args.HTTPAddr, time.Duration(args.MonitorMillis)*time.Millisecond, logger)
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, srv.Close())
	}()

	logger.Infow("bridge running",
		"camera", args.CameraIP,
		"pub", args.PubEndpoint,
		"http", srv.Addr(),
		"frame_id", node.FrameID())

	goutils.ContextMainReadyFunc(ctx)()
	<-ctx.Done()
	return nil
}
