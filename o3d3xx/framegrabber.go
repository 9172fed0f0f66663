package o3d3xx

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// FrameGrabber owns the PCIC data connection of one acquisition session.
// It dials lazily on the first wait so that creating and swapping
// grabbers stays cheap and infallible.
//
// A FrameGrabber is not safe for concurrent use; callers serialize
// access externally (the bridge guards it behind a session lock, which
// also means Close never races a wait).
type FrameGrabber struct {
	addr   string
	logger golog.Logger

	conn   net.Conn
	br     *bufio.Reader
	closed bool
}

// NewFrameGrabber returns a grabber for cam's PCIC stream on port. The
// device is not contacted until the first WaitForFrame.
func NewFrameGrabber(cam *Camera, port int, logger golog.Logger) *FrameGrabber {
	if port <= 0 {
		port = DefaultPCICPort
	}
	return &FrameGrabber{
		addr:   net.JoinHostPort(cam.IP(), strconv.Itoa(port)),
		logger: logger,
	}
}

// WaitForFrame blocks until the device pushes the next result frame,
// organizes it into buf, or gives up after timeout with ErrFrameTimeout.
// Replies to explicit commands are skipped. Any other failure drops the
// connection so the next wait starts from a clean dial; note that a
// timeout landing mid-envelope desyncs the stream, in which case the
// following wait fails its frame check and forces that redial too.
func (fg *FrameGrabber) WaitForFrame(ctx context.Context, buf *ImageBuffer, timeout time.Duration) error {
	if fg.closed {
		return errors.New("frame grabber is closed")
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if fg.conn == nil {
		if err := fg.dial(deadline); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return ErrFrameTimeout
		}
		if err := fg.conn.SetReadDeadline(deadline); err != nil {
			fg.dropConn()
			return errors.Wrap(err, "set read deadline")
		}
		ticket, content, err := ReadEnvelope(fg.br)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return ErrFrameTimeout
			}
			fg.dropConn()
			return err
		}
		if ticket != AsyncResultTicket {
			continue
		}
		if err := buf.Organize(content); err != nil {
			fg.dropConn()
			return err
		}
		return nil
	}
}

func (fg *FrameGrabber) dial(deadline time.Time) error {
	conn, err := net.DialTimeout("tcp", fg.addr, time.Until(deadline))
	if err != nil {
		return errors.Wrapf(err, "dial pcic %s", fg.addr)
	}
	fg.conn = conn
	fg.br = bufio.NewReaderSize(conn, 1<<16)
	fg.logger.Debugw("pcic stream connected", "addr", fg.addr)
	return nil
}

func (fg *FrameGrabber) dropConn() {
	if fg.conn == nil {
		return
	}
	goutils.UncheckedError(fg.conn.Close())
	fg.conn = nil
	fg.br = nil
}

// Close tears down the data connection. Safe to call more than once.
func (fg *FrameGrabber) Close() error {
	if fg.closed {
		return nil
	}
	fg.closed = true
	if fg.conn == nil {
		return nil
	}
	err := fg.conn.Close()
	fg.conn = nil
	fg.br = nil
	return errors.Wrap(err, "close pcic stream")
}
