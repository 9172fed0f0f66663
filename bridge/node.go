package bridge

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
	"github.com/shaun-edwards/o3d3xx-ros/publish"
)

// DefaultTimeout bounds each frame wait when Config leaves Timeout zero.
const DefaultTimeout = 500 * time.Millisecond

// Config is a node's startup configuration. It is immutable once handed
// to NewNode; reconfiguring the camera happens through the admin
// operations, never by mutating this.
type Config struct {
	CameraIP   string
	XMLRPCPort int
	Password   string
	PCICPort   int
	Timeout    time.Duration
	PublishViz bool
	FrameID    string
}

func (c *Config) applyDefaults() error {
	if c.CameraIP == "" {
		c.CameraIP = o3d3xx.DefaultIP
	}
	if c.XMLRPCPort == 0 {
		c.XMLRPCPort = o3d3xx.DefaultXMLRPCPort
	}
	if c.PCICPort == 0 {
		c.PCICPort = o3d3xx.DefaultPCICPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout < 0 {
		return errors.New("frame timeout must be positive")
	}
	if c.XMLRPCPort < 0 || c.PCICPort < 0 {
		return errors.New("ports must be positive")
	}
	if c.FrameID == "" {
		c.FrameID = "o3d3xx_link"
	}
	return nil
}

// FrameSnapshot is the monitor's view of the most recently published
// cycle. The image fields are nil unless visualization is enabled.
type FrameSnapshot struct {
	Seq         uint32
	Stamp       time.Time
	Width       int
	Height      int
	DeviceFrame uint32
	DepthViz    image.Image
	GoodBad     image.Image
	Hist        image.Image
}

// Node ties the camera, the acquisition loop, the admin operations and
// the publication sink together.
type Node struct {
	cfg    Config
	logger golog.Logger

	cam   *o3d3xx.Camera
	guard *SessionGuard
	pub   publish.Publisher

	// configMu serializes admin operations and is always taken before
	// the guard, never after.
	configMu sync.Mutex

	metrics metrics
	seq     uint32 // owned by the acquisition loop
	latest  atomic.Value

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewNode builds a node against the device named in cfg. The device is
// not contacted until the acquisition loop or an admin operation first
// needs it. The publication sink stays the caller's to close.
func NewNode(cfg Config, pub publish.Publisher, logger golog.Logger) (*Node, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	cam := o3d3xx.NewCamera(cfg.CameraIP, cfg.XMLRPCPort, cfg.Password, logger)
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	n := &Node{
		cfg:        cfg,
		logger:     logger,
		cam:        cam,
		guard:      NewSessionGuard(o3d3xx.NewFrameGrabber(cam, cfg.PCICPort, logger)),
		pub:        pub,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	return n, nil
}

// Start launches the acquisition worker. Call at most once.
func (n *Node) Start() {
	n.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		n.acquireLoop(n.cancelCtx)
	}, n.activeBackgroundWorkers.Done)
}

// Close stops acquisition and releases the device connection.
func (n *Node) Close(ctx context.Context) error {
	n.cancelFunc()
	n.activeBackgroundWorkers.Wait()
	return n.guard.Close()
}

// Stats returns a snapshot of the node's counters.
func (n *Node) Stats() map[string]interface{} {
	return n.metrics.snapshot()
}

// LatestFrame returns the most recently published cycle, nil before the
// first one.
func (n *Node) LatestFrame() *FrameSnapshot {
	snap, _ := n.latest.Load().(*FrameSnapshot)
	return snap
}

// FrameID returns the tag stamped on every published message.
func (n *Node) FrameID() string { return n.cfg.FrameID }
