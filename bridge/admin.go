package bridge

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
)

// Operation statuses reuse the device's numeric fault space: zero on
// success, the device's own code when a failure carries one, -1 for
// everything else.
const (
	StatusOK      = 0
	StatusFailure = -1
)

const msgOK = "OK"

var errActiveApplication = errors.New("Cannot delete active application!")

// DumpResult is a Dump outcome; Config is nil unless Status is zero.
type DumpResult struct {
	Status int
	Config json.RawMessage
}

// OpResult is a Config or Rm outcome.
type OpResult struct {
	Status int
	Msg    string
}

func statusOf(err error) int {
	if derr, ok := o3d3xx.AsError(err); ok {
		return derr.Code
	}
	return StatusFailure
}

// Version returns the driver identification string. It takes no locks
// and touches no device state.
func (n *Node) Version() string {
	return o3d3xx.LibraryName + ": " + o3d3xx.Version()
}

// Dump reads the device configuration tree. Because reading it opens a
// throwaway session on the device, the frame grabber is replaced
// afterwards whether the dump worked or not.
func (n *Node) Dump(ctx context.Context) DumpResult {
	n.metrics.adminCalls.Add(1)
	n.configMu.Lock()
	defer n.configMu.Unlock()
	defer n.resetGrabber()

	doc, err := n.cam.ToJSON(ctx)
	if err != nil {
		n.logger.Errorw("failed to dump camera configuration", "error", err)
		return DumpResult{Status: statusOf(err)}
	}
	return DumpResult{Status: StatusOK, Config: doc}
}

// Config applies the fields present in doc to the device. Fields apply
// in document order until the first failure; what applied stays applied
// and the failure's code comes back as the status. The frame grabber is
// replaced afterwards on every path.
func (n *Node) Config(ctx context.Context, doc []byte) OpResult {
	n.metrics.adminCalls.Add(1)
	n.configMu.Lock()
	defer n.configMu.Unlock()
	defer n.resetGrabber()

	if err := n.cam.FromJSON(ctx, doc); err != nil {
		n.logger.Errorw("failed to apply camera configuration", "error", err)
		return OpResult{Status: statusOf(err), Msg: err.Error()}
	}
	return OpResult{Status: StatusOK, Msg: msgOK}
}

// Rm deletes the stored application profile at index. Index zero and
// below is a no-op success with no device interaction. The active
// application is refused. The frame grabber is replaced afterwards on
// every path.
func (n *Node) Rm(ctx context.Context, index int) OpResult {
	n.metrics.adminCalls.Add(1)
	n.configMu.Lock()
	defer n.configMu.Unlock()
	defer n.resetGrabber()

	if index <= 0 {
		return OpResult{Status: StatusOK, Msg: msgOK}
	}
	if err := n.removeApplication(ctx, index); err != nil {
		n.logger.Errorw("failed to delete application", "index", index, "error", err)
		return OpResult{Status: statusOf(err), Msg: err.Error()}
	}
	return OpResult{Status: StatusOK, Msg: msgOK}
}

// removeApplication drives the device-side delete under a throwaway
// edit session, which is cancelled on every path.
func (n *Node) removeApplication(ctx context.Context, index int) error {
	return n.cam.WithEditSession(ctx, func() error {
		dc, err := n.cam.GetDeviceConfig()
		if err != nil {
			return err
		}
		if dc.ActiveApplication == index {
			return errActiveApplication
		}
		return n.cam.DeleteApplication(index)
	})
}

// resetGrabber unconditionally replaces the guarded frame grabber with
// a fresh handle bound to the camera. It runs after every admin
// mutation, success or failure: the displaced handle may be watching a
// stream the device just invalidated.
func (n *Node) resetGrabber() {
	fg := o3d3xx.NewFrameGrabber(n.cam, n.cfg.PCICPort, n.logger)
	if err := n.guard.Replace(fg); err != nil {
		n.logger.Debugw("closing displaced frame grabber", "error", err)
	}
}
