package bridge

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/shaun-edwards/o3d3xx-ros/msg"
	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
	"github.com/shaun-edwards/o3d3xx-ros/pointcloud"
	"github.com/shaun-edwards/o3d3xx-ros/viz"
)

// Channel names the loop publishes on. The first four are always
// served; the viz channels only when Config.PublishViz is set.
const (
	TopicCloud      = "cloud"
	TopicDepth      = "depth"
	TopicAmplitude  = "amplitude"
	TopicConfidence = "confidence"
	TopicDepthViz   = "depth_viz"
	TopicGoodBad    = "good_bad_pixels"
	TopicHist       = "hist"
)

// grabberRetryWait spaces retries after non-timeout grabber failures so
// an unreachable device does not spin the loop.
const grabberRetryWait = 500 * time.Millisecond

// acquireLoop pumps frames until ctx is cancelled. Each cycle waits for
// a frame under the session guard, holding it no longer than the
// configured timeout, then publishes with the guard released. A timeout
// is routine, the device may be mid-reconfiguration, so it warns and
// re-enters the wait.
func (n *Node) acquireLoop(ctx context.Context) {
	buf := o3d3xx.NewImageBuffer()
	for {
		if ctx.Err() != nil {
			return
		}
		err := n.guard.WithSession(func(fg *o3d3xx.FrameGrabber) error {
			return fg.WaitForFrame(ctx, buf, n.cfg.Timeout)
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if o3d3xx.IsFrameTimeout(err) {
				n.metrics.waitTimeouts.Add(1)
				n.logger.Warnw("Timeout waiting for camera!")
				continue
			}
			n.metrics.grabberErrors.Add(1)
			n.logger.Warnw("failed to read camera frame", "error", err)
			if !goutils.SelectContextOrWait(ctx, grabberRetryWait) {
				return
			}
			continue
		}
		n.publishFrame(buf)
	}
}

// publishFrame emits one cycle: every channel gets its own send with the
// shared header, and one channel failing never holds back another.
func (n *Node) publishFrame(buf *o3d3xx.ImageBuffer) {
	now := time.Now()
	n.seq++
	hdr := msg.Header{Seq: n.seq, Stamp: msg.FromTime(now), FrameID: n.cfg.FrameID}

	cloud, err := buf.Cloud()
	if err != nil {
		n.metrics.publishErrors.Add(1)
		n.logger.Warnw("failed to organize cloud", "error", err)
	} else {
		var pcd bytes.Buffer
		if err := pointcloud.ToPCD(cloud, &pcd, pointcloud.PCDBinary); err != nil {
			n.metrics.publishErrors.Add(1)
			n.logger.Warnw("failed to encode cloud", "error", err)
		} else {
			n.publish(TopicCloud, msg.NewPointCloud(hdr, buf.Width, buf.Height, pcd.Bytes()))
		}
	}

	n.publish(TopicDepth, msg.NewMono16(hdr, buf.Width, buf.Height, buf.RadialDistance))
	n.publish(TopicAmplitude, msg.NewMono16(hdr, buf.Width, buf.Height, buf.Amplitude))
	n.publish(TopicConfidence, msg.NewMono8(hdr, buf.Width, buf.Height, buf.Confidence))

	snap := &FrameSnapshot{
		Seq:         n.seq,
		Stamp:       now,
		Width:       buf.Width,
		Height:      buf.Height,
		DeviceFrame: buf.FrameCount,
	}
	if n.cfg.PublishViz {
		depthViz := viz.ColorizeDepth(buf.RadialDistance, buf.Width, buf.Height)
		goodBad := viz.GoodBadPixels(buf.Confidence, buf.Width, buf.Height)
		hist := viz.AmplitudeHistogram(buf.Amplitude)
		n.publish(TopicDepthViz, msg.NewBGR8(hdr, depthViz))
		n.publish(TopicGoodBad, msg.NewMono8(hdr, buf.Width, buf.Height, goodBad.Pix))
		n.publish(TopicHist, msg.NewBGR8(hdr, hist))
		snap.DepthViz, snap.GoodBad, snap.Hist = depthViz, goodBad, hist
	}

	n.metrics.framesPublished.Add(1)
	n.metrics.lastFrameUnix.Store(now.Unix())
	n.latest.Store(snap)
}

func (n *Node) publish(topic string, m interface{}) {
	if err := n.pub.Publish(topic, m); err != nil {
		n.metrics.publishErrors.Add(1)
		n.logger.Warnw("failed to publish", "channel", topic, "error", err)
	}
}
