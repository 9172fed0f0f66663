package bridge

import "sync/atomic"

// metrics are the node's cumulative counters, updated lock-free on the
// acquisition path and snapshotted by the status surface.
type metrics struct {
	framesPublished atomic.Uint64
	waitTimeouts    atomic.Uint64
	grabberErrors   atomic.Uint64
	publishErrors   atomic.Uint64
	adminCalls      atomic.Uint64
	lastFrameUnix   atomic.Int64
}

func (m *metrics) snapshot() map[string]interface{} {
	return map[string]interface{}{
		"frames_published": m.framesPublished.Load(),
		"wait_timeouts":    m.waitTimeouts.Load(),
		"grabber_errors":   m.grabberErrors.Load(),
		"publish_errors":   m.publishErrors.Load(),
		"admin_calls":      m.adminCalls.Load(),
		"last_frame_unix":  m.lastFrameUnix.Load(),
	}
}
