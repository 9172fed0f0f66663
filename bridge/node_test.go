package bridge

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/shaun-edwards/o3d3xx-ros/msg"
	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx/fake"
	"github.com/shaun-edwards/o3d3xx-ros/pointcloud"
	"github.com/shaun-edwards/o3d3xx-ros/publish"
)

func newBridgeDevice(t *testing.T, cfg fake.Config) *fake.Device {
	t.Helper()
	dev, err := fake.NewDevice(cfg, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, dev.Close(), test.ShouldBeNil)
	})
	return dev
}

func bridgeConfig(dev *fake.Device) Config {
	return Config{
		CameraIP:   "127.0.0.1",
		XMLRPCPort: dev.XMLRPCPort(),
		PCICPort:   dev.PCICPort(),
		FrameID:    "test_link",
	}
}

func newTestNode(t *testing.T, cfg Config, pub publish.Publisher, logger golog.Logger) *Node {
	t.Helper()
	if logger == nil {
		logger = golog.NewTestLogger(t)
	}
	n, err := NewNode(cfg, pub, logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, n.Close(context.Background()), test.ShouldBeNil)
	})
	return n
}

// currentGrabber peeks at the guarded handle so tests can observe
// replacement.
func currentGrabber(n *Node) *o3d3xx.FrameGrabber {
	var fg *o3d3xx.FrameGrabber
	_ = n.guard.WithSession(func(cur *o3d3xx.FrameGrabber) error {
		fg = cur
		return nil
	})
	return fg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestNodeConfigDefaults(t *testing.T) {
	logger := golog.NewTestLogger(t)
	n, err := NewNode(Config{}, publish.NewRecorder(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n.cfg.CameraIP, test.ShouldEqual, o3d3xx.DefaultIP)
	test.That(t, n.cfg.XMLRPCPort, test.ShouldEqual, o3d3xx.DefaultXMLRPCPort)
	test.That(t, n.cfg.PCICPort, test.ShouldEqual, o3d3xx.DefaultPCICPort)
	test.That(t, n.cfg.Timeout, test.ShouldEqual, DefaultTimeout)
	test.That(t, n.FrameID(), test.ShouldEqual, "o3d3xx_link")
	test.That(t, n.LatestFrame(), test.ShouldBeNil)
	test.That(t, n.Close(context.Background()), test.ShouldBeNil)

	_, err = NewNode(Config{Timeout: -time.Second}, publish.NewRecorder(), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNodeStreamsFrames(t *testing.T) {
	dev := newBridgeDevice(t, fake.Config{Width: 8, Height: 6, FrameInterval: 15 * time.Millisecond})
	rec := publish.NewRecorder()
	cfg := bridgeConfig(dev)
	cfg.PublishViz = true
	cfg.Timeout = 2 * time.Second
	n := newTestNode(t, cfg, rec, nil)
	n.Start()

	waitFor(t, 10*time.Second, func() bool {
		return rec.Count(TopicCloud) >= 2
	})

	clouds := rec.Messages(TopicCloud)
	first := clouds[0].(msg.PointCloud)
	second := clouds[1].(msg.PointCloud)
	test.That(t, first.Header.FrameID, test.ShouldEqual, "test_link")
	test.That(t, first.Header.Seq, test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, second.Header.Seq, test.ShouldEqual, first.Header.Seq+1)
	test.That(t, first.Width, test.ShouldEqual, 8)
	test.That(t, first.Height, test.ShouldEqual, 6)
	test.That(t, first.Format, test.ShouldEqual, msg.FormatPCD)

	pc, err := pointcloud.ReadPCD(bytes.NewReader(first.Data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Width(), test.ShouldEqual, 8)
	test.That(t, pc.Height(), test.ShouldEqual, 6)
	bad, ok := pc.At(0, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, bad.Valid, test.ShouldBeFalse)
	good, _ := pc.At(1, 0)
	test.That(t, good.Valid, test.ShouldBeTrue)

	depth := rec.Messages(TopicDepth)[0].(msg.Image)
	test.That(t, depth.Encoding, test.ShouldEqual, msg.EncodingMono16)
	test.That(t, depth.Step, test.ShouldEqual, 16)
	test.That(t, depth.Header, test.ShouldResemble, first.Header)
	test.That(t, rec.Count(TopicAmplitude), test.ShouldBeGreaterThanOrEqualTo, 2)
	test.That(t, rec.Count(TopicConfidence), test.ShouldBeGreaterThanOrEqualTo, 2)
	test.That(t, rec.Count(TopicDepthViz), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, rec.Count(TopicGoodBad), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, rec.Count(TopicHist), test.ShouldBeGreaterThanOrEqualTo, 1)

	snap := n.LatestFrame()
	test.That(t, snap, test.ShouldNotBeNil)
	test.That(t, snap.Width, test.ShouldEqual, 8)
	test.That(t, snap.Height, test.ShouldEqual, 6)
	test.That(t, snap.DeviceFrame, test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, snap.DepthViz, test.ShouldNotBeNil)
	test.That(t, snap.GoodBad, test.ShouldNotBeNil)
	test.That(t, snap.Hist, test.ShouldNotBeNil)

	stats := n.Stats()
	test.That(t, stats["frames_published"], test.ShouldBeGreaterThanOrEqualTo, 2)
	test.That(t, stats["publish_errors"], test.ShouldEqual, 0)
	test.That(t, stats["last_frame_unix"], test.ShouldBeGreaterThan, 0)
}

func TestNodeWarnsOnTimeoutAndRecovers(t *testing.T) {
	dev := newBridgeDevice(t, fake.Config{Width: 4, Height: 3})
	rec := publish.NewRecorder()
	logger, logs := golog.NewObservedTestLogger(t)
	cfg := bridgeConfig(dev)
	cfg.Timeout = 30 * time.Millisecond
	n := newTestNode(t, cfg, rec, logger)
	n.Start()

	// the device produces nothing, so waits expire and the loop keeps
	// trying without counting them as failures
	waitFor(t, 10*time.Second, func() bool {
		return len(logs.FilterMessageSnippet("Timeout waiting for camera").All()) >= 3
	})
	test.That(t, rec.Count(TopicCloud), test.ShouldEqual, 0)

	// frames start flowing again and the loop picks them up
	waitFor(t, 10*time.Second, func() bool {
		dev.TriggerFrame()
		return rec.Count(TopicCloud) >= 1
	})

	stats := n.Stats()
	test.That(t, stats["wait_timeouts"], test.ShouldBeGreaterThanOrEqualTo, 3)
	test.That(t, stats["grabber_errors"], test.ShouldEqual, 0)
}

func TestNodeBacksOffOnGrabberFailure(t *testing.T) {
	// a freed loopback port refuses the dial instantly
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	port := lis.Addr().(*net.TCPAddr).Port
	test.That(t, lis.Close(), test.ShouldBeNil)

	rec := publish.NewRecorder()
	logger, logs := golog.NewObservedTestLogger(t)
	n := newTestNode(t, Config{
		CameraIP: "127.0.0.1",
		PCICPort: port,
		Timeout:  50 * time.Millisecond,
		FrameID:  "test_link",
	}, rec, logger)
	n.Start()

	waitFor(t, 5*time.Second, func() bool {
		return len(logs.FilterMessageSnippet("failed to read camera frame").All()) >= 1
	})

	// failures are spaced by the retry wait, not spun hot
	c1 := n.Stats()["grabber_errors"].(uint64)
	time.Sleep(220 * time.Millisecond)
	c2 := n.Stats()["grabber_errors"].(uint64)
	test.That(t, c2, test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, c2-c1, test.ShouldBeLessThanOrEqualTo, 1)
	test.That(t, rec.Count(TopicCloud), test.ShouldEqual, 0)
}
