// Package fake provides an in-process O3D3xx device double: an XML-RPC
// control endpoint and a PCIC stream serving deterministic synthetic
// frames. It backs the driver and bridge tests and the simulator binary.
package fake

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
)

// Config shapes a fake device. Zero values get sensible defaults; port
// zero binds an ephemeral localhost port.
type Config struct {
	Password      string
	Width         int
	Height        int
	FrameInterval time.Duration // 0 means frames only on TriggerFrame
	XMLRPCPort    int
	PCICPort      int
	Clock         clock.Clock
}

type application struct {
	name        string
	description string
	params      map[string]string
	imager      map[string]string
}

type rpcFault struct {
	code int
	msg  string
}

// Device is one simulated camera. All state behind mu; the XML-RPC and
// PCIC surfaces serve concurrently.
type Device struct {
	cfg    Config
	logger golog.Logger
	clk    clock.Clock

	httpLis net.Listener
	httpSrv *http.Server
	pcicLis net.Listener

	mu             sync.Mutex
	sessionCounter uint64
	sessionID      string
	editMode       bool
	editingApp     int
	deviceParams   map[string]string
	netParams      map[string]string
	apps           map[int]*application
	calls          []string
	failParams     map[string]rpcFault
	failMethods    map[string]rpcFault
	conns          map[net.Conn]struct{}
	frameCount     uint32

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewDevice starts a fake device and returns it ready to serve.
func NewDevice(cfg Config, logger golog.Logger) (*Device, error) {
	if cfg.Width <= 0 {
		cfg.Width = 176
	}
	if cfg.Height <= 0 {
		cfg.Height = 132
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	httpLis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.XMLRPCPort))
	if err != nil {
		return nil, errors.Wrap(err, "listen xmlrpc")
	}
	pcicLis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.PCICPort))
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "listen pcic"), httpLis.Close())
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	d := &Device{
		cfg:    cfg,
		logger: logger,
		clk:    cfg.Clock,

		httpLis: httpLis,
		pcicLis: pcicLis,

		deviceParams: map[string]string{
			"Name":              "New sensor",
			"Description":       "",
			"ActiveApplication": "1",
			"PcicTcpPort":       strconv.Itoa(pcicLis.Addr().(*net.TCPAddr).Port),
			"SessionTimeout":    "30",
		},
		netParams: map[string]string{
			"UseDHCP":              "false",
			"StaticIPv4Address":    "192.168.0.69",
			"StaticIPv4SubNetMask": "255.255.255.0",
			"StaticIPv4Gateway":    "192.168.0.201",
		},
		apps: map[int]*application{
			1: newApplication("Sample application"),
			2: newApplication("Alternate application"),
		},
		failParams:  map[string]rpcFault{},
		failMethods: map[string]rpcFault{},
		conns:       map[net.Conn]struct{}{},

		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	d.httpSrv = &http.Server{Handler: http.HandlerFunc(d.handleXMLRPC), ReadHeaderTimeout: 5 * time.Second}

	d.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		if err := d.httpSrv.Serve(d.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Errorw("fake xmlrpc server", "error", err)
		}
	}, d.activeBackgroundWorkers.Done)

	d.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() { d.acceptPCIC() }, d.activeBackgroundWorkers.Done)

	if cfg.FrameInterval > 0 {
		d.activeBackgroundWorkers.Add(1)
		goutils.ManagedGo(func() { d.streamFrames(cancelCtx, cfg.FrameInterval) }, d.activeBackgroundWorkers.Done)
	}
	return d, nil
}

func newApplication(name string) *application {
	return &application{
		name: name,
		params: map[string]string{
			"Name":        name,
			"Description": "",
			"TriggerMode": "1",
		},
		imager: map[string]string{
			"ExposureTime": "1000",
			"FrameRate":    "5",
		},
	}
}

// IP returns the address both surfaces listen on.
func (d *Device) IP() string { return "127.0.0.1" }

// XMLRPCPort returns the bound control port.
func (d *Device) XMLRPCPort() int { return d.httpLis.Addr().(*net.TCPAddr).Port }

// PCICPort returns the bound data port.
func (d *Device) PCICPort() int { return d.pcicLis.Addr().(*net.TCPAddr).Port }

func (d *Device) acceptPCIC() {
	for {
		conn, err := d.pcicLis.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.conns[conn] = struct{}{}
		d.mu.Unlock()
	}
}

func (d *Device) streamFrames(ctx context.Context, interval time.Duration) {
	ticker := d.clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.TriggerFrame()
		}
	}
}

// TriggerFrame pushes one synthetic frame to every connected PCIC
// subscriber. Subscribers that fail their write are dropped.
func (d *Device) TriggerFrame() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frameCount++
	content := o3d3xx.WrapResult(buildFrameChunks(d.cfg.Width, d.cfg.Height, d.frameCount))
	for conn := range d.conns {
		goutils.UncheckedError(conn.SetWriteDeadline(time.Now().Add(time.Second)))
		if err := o3d3xx.WriteEnvelope(conn, o3d3xx.AsyncResultTicket, content); err != nil {
			d.logger.Debugw("dropping pcic subscriber", "error", err)
			goutils.UncheckedError(conn.Close())
			delete(d.conns, conn)
		}
	}
}

// PCICSubscribers returns how many data connections are open.
func (d *Device) PCICSubscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Calls returns every XML-RPC method dispatched so far, in order.
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallCount returns how many times method was dispatched.
func (d *Device) CallCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.calls {
		if m == method {
			n++
		}
	}
	return n
}

// HasSession reports whether a control session is open.
func (d *Device) HasSession() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID != ""
}

// DeviceParam reads one device parameter.
func (d *Device) DeviceParam(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceParams[name]
}

// NetParam reads one network parameter.
func (d *Device) NetParam(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.netParams[name]
}

// AppParam reads one parameter of the stored application at index.
func (d *Device) AppParam(index int, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if app, ok := d.apps[index]; ok {
		return app.params[name]
	}
	return ""
}

// ImagerParam reads one imager parameter of the stored application at
// index.
func (d *Device) ImagerParam(index int, name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if app, ok := d.apps[index]; ok {
		return app.imager[name]
	}
	return ""
}

// ActiveApplication returns the index the device reports as active.
func (d *Device) ActiveApplication() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, _ := strconv.Atoi(d.deviceParams["ActiveApplication"])
	return n
}

// ApplicationIndexes returns the stored application indexes, sorted.
func (d *Device) ApplicationIndexes() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, 0, len(d.apps))
	for idx := range d.apps {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// FailParameter arms a fault for every setParameter of name.
func (d *Device) FailParameter(name string, code int, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failParams[name] = rpcFault{code, msg}
}

// FailMethod arms a fault for every dispatch of method.
func (d *Device) FailMethod(method string, code int, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failMethods[method] = rpcFault{code, msg}
}

// ClearFailures disarms all programmed faults.
func (d *Device) ClearFailures() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failParams = map[string]rpcFault{}
	d.failMethods = map[string]rpcFault{}
}

// Close stops both surfaces and drops all subscribers.
func (d *Device) Close() error {
	d.cancelFunc()
	err := multierr.Combine(
		errors.Wrap(d.httpSrv.Close(), "close xmlrpc server"),
		errors.Wrap(d.pcicLis.Close(), "close pcic listener"),
	)
	d.mu.Lock()
	for conn := range d.conns {
		goutils.UncheckedError(conn.Close())
		delete(d.conns, conn)
	}
	d.mu.Unlock()
	d.activeBackgroundWorkers.Wait()
	return err
}
