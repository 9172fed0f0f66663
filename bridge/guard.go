// Package bridge is the runtime core of the camera-to-middleware
// bridge: it owns the acquisition loop that republishes device frames
// and the admin operations that reconfigure the device underneath it,
// keeping the two from ever touching the frame stream at once.
package bridge

import (
	"sync"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
)

// SessionGuard owns the live frame grabber and is the only path to it.
// WithSession gives the caller exclusive scoped use of the handle, and
// Replace installs a new handle while closing the old one. A Replace
// blocks until an in-progress WithSession returns; it never interrupts
// one.
type SessionGuard struct {
	mu sync.Mutex
	fg *o3d3xx.FrameGrabber
}

// NewSessionGuard returns a guard holding fg.
func NewSessionGuard(fg *o3d3xx.FrameGrabber) *SessionGuard {
	return &SessionGuard{fg: fg}
}

// WithSession runs fn with exclusive use of the current handle. The
// handle must not escape fn.
func (g *SessionGuard) WithSession(fn func(fg *o3d3xx.FrameGrabber) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.fg)
}

// Replace installs fg as the live handle and closes the one it
// displaces, returning that handle's close error.
func (g *SessionGuard) Replace(fg *o3d3xx.FrameGrabber) error {
	g.mu.Lock()
	old := g.fg
	g.fg = fg
	g.mu.Unlock()
	if old == nil {
		return nil
	}
	return old.Close()
}

// Close closes the current handle without replacing it.
func (g *SessionGuard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fg == nil {
		return nil
	}
	return g.fg.Close()
}
