// Package o3d3xx speaks the device protocols of the IFM Efector O3D3xx
// family of 3-D time-of-flight cameras: the XML-RPC control channel used
// for configuration and session management, and the PCIC TCP stream that
// carries image frames.
package o3d3xx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/kolo/xmlrpc"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Factory defaults for the device endpoints.
const (
	DefaultIP         = "192.168.0.69"
	DefaultXMLRPCPort = 80
	DefaultPassword   = ""
	DefaultPCICPort   = 50010
)

// RPCRoot is the path of the device's XML-RPC object tree; session,
// edit and device objects hang off it.
const RPCRoot = "/api/rpc/v1/com.ifm.efector/"

const defaultCallTimeout = 10 * time.Second

// OperatingMode selects between running the active application and
// editing device state.
type OperatingMode int

// Operating modes accepted by setOperatingMode.
const (
	ModeRun  OperatingMode = 0
	ModeEdit OperatingMode = 1
)

// Camera is the control-channel client for one device. It tracks at most
// one open session. A Camera is safe for concurrent use, but the device's
// session model means callers should serialize whole edit transactions
// themselves (the bridge's configuration lock does).
type Camera struct {
	ip       string
	port     int
	password string
	logger   golog.Logger

	transport http.RoundTripper

	mu        sync.Mutex
	clients   map[string]*xmlrpc.Client
	sessionID string
}

// NewCamera returns a control client for the device at ip:port. The
// password is the device's edit-mode credential, empty on factory
// devices. No connection is made until the first call.
func NewCamera(ip string, port int, password string, logger golog.Logger) *Camera {
	return &Camera{
		ip:       ip,
		port:     port,
		password: password,
		logger:   logger,
		transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: defaultCallTimeout}).DialContext,
			ResponseHeaderTimeout: defaultCallTimeout,
		},
		clients: map[string]*xmlrpc.Client{},
	}
}

// IP returns the device address the camera was built with.
func (c *Camera) IP() string { return c.ip }

func (c *Camera) object(path string) (*xmlrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url := fmt.Sprintf("http://%s%s%s", net.JoinHostPort(c.ip, strconv.Itoa(c.port)), RPCRoot, path)
	if cl, ok := c.clients[url]; ok {
		return cl, nil
	}
	cl, err := xmlrpc.NewClient(url, c.transport)
	if err != nil {
		return nil, errors.Wrapf(err, "xmlrpc client for %s", url)
	}
	c.clients[url] = cl
	return cl, nil
}

// call invokes method on the object at path, mapping XML-RPC faults and
// transport timeouts into *Error values.
func (c *Camera) call(path, method string, result interface{}, params ...interface{}) error {
	cl, err := c.object(path)
	if err != nil {
		return err
	}
	var args interface{}
	switch len(params) {
	case 0:
		args = nil
	case 1:
		args = params[0]
	default:
		args = params
	}
	if err := cl.Call(method, args, result); err != nil {
		return wrapCallError(method, err)
	}
	return nil
}

func wrapCallError(method string, err error) error {
	var fault xmlrpc.FaultError
	if errors.As(err, &fault) {
		return newError(fault.Code, fault.String)
	}
	var faultp *xmlrpc.FaultError
	if errors.As(err, &faultp) {
		return newError(faultp.Code, faultp.String)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return newError(CodeXMLRPCTimeout, fmt.Sprintf("%s: %v", method, err))
	}
	return errors.Wrapf(newError(CodeXMLRPCFailure, err.Error()), "call %s", method)
}

// sessionObject resolves an object path under the open session.
func (c *Camera) sessionObject(suffix string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return "", newError(CodeValueError, "no open session")
	}
	return "session_" + c.sessionID + "/" + suffix, nil
}

// SessionID returns the current session identifier, empty when closed.
func (c *Camera) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RequestSession asks the device for a new session and remembers its
// identifier for subsequent session-scoped calls.
func (c *Camera) RequestSession() (string, error) {
	var id string
	if err := c.call("", "requestSession", &id, c.password, ""); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	c.logger.Debugw("camera session opened", "session", id)
	return id, nil
}

// CancelSession closes the open session, if any.
func (c *Camera) CancelSession() error {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()
	if id == "" {
		return nil
	}
	err := c.call("session_"+id+"/", "cancelSession", nil)
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.logger.Debugw("camera session closed", "session", id)
	return nil
}

// Heartbeat extends the open session's lifetime and returns the timeout
// the device granted, in seconds.
func (c *Camera) Heartbeat(requestedSeconds int) (int, error) {
	path, err := c.sessionObject("")
	if err != nil {
		return 0, err
	}
	var granted int
	if err := c.call(path, "heartbeat", &granted, requestedSeconds); err != nil {
		return 0, err
	}
	return granted, nil
}

// SetOperatingMode switches the open session between run and edit mode.
func (c *Camera) SetOperatingMode(mode OperatingMode) error {
	path, err := c.sessionObject("")
	if err != nil {
		return err
	}
	return c.call(path, "setOperatingMode", nil, int(mode))
}

// GetSWVersion reads the device software version map. No session needed.
func (c *Camera) GetSWVersion() (map[string]string, error) {
	var out map[string]string
	if err := c.call("", "getSWVersion", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplicationEntry describes one stored application profile as returned
// by getApplicationList.
type ApplicationEntry struct {
	Index       int    `xmlrpc:"Index"`
	ID          int    `xmlrpc:"Id"`
	Name        string `xmlrpc:"Name"`
	Description string `xmlrpc:"Description"`
	Active      bool   `xmlrpc:"Active"`
}

// GetApplicationList reads the stored application table. No session
// needed.
func (c *Camera) GetApplicationList() ([]ApplicationEntry, error) {
	var out []ApplicationEntry
	if err := c.call("", "getApplicationList", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDeviceParameters reads the raw device parameter map. Requires an
// open session in edit mode.
func (c *Camera) GetDeviceParameters() (map[string]string, error) {
	path, err := c.sessionObject("edit/device/")
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := c.call(path, "getAllParameters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetDeviceParameter stages one device parameter. Requires edit mode.
func (c *Camera) SetDeviceParameter(name, value string) error {
	path, err := c.sessionObject("edit/device/")
	if err != nil {
		return err
	}
	return c.call(path, "setParameter", nil, name, value)
}

// SaveDevice persists staged device parameters.
func (c *Camera) SaveDevice() error {
	path, err := c.sessionObject("edit/device/")
	if err != nil {
		return err
	}
	return c.call(path, "save", nil)
}

// GetNetParameters reads the network parameter map. Requires edit mode.
func (c *Camera) GetNetParameters() (map[string]string, error) {
	path, err := c.sessionObject("edit/device/network/")
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := c.call(path, "getAllParameters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetNetParameter stages one network parameter. Requires edit mode.
func (c *Camera) SetNetParameter(name, value string) error {
	path, err := c.sessionObject("edit/device/network/")
	if err != nil {
		return err
	}
	return c.call(path, "setParameter", nil, name, value)
}

// SaveNet persists staged network parameters. The device may drop
// connections while it re-applies its network stack.
func (c *Camera) SaveNet() error {
	path, err := c.sessionObject("edit/device/network/")
	if err != nil {
		return err
	}
	return c.call(path, "saveAndActivateConfig", nil)
}

// EditApplication opens the stored application at index for editing.
// Requires edit mode.
func (c *Camera) EditApplication(index int) error {
	path, err := c.sessionObject("edit/")
	if err != nil {
		return err
	}
	return c.call(path, "editApplication", nil, index)
}

// StopEditingApplication closes the application being edited.
func (c *Camera) StopEditingApplication() error {
	path, err := c.sessionObject("edit/")
	if err != nil {
		return err
	}
	return c.call(path, "stopEditingApplication", nil)
}

// DeleteApplication removes the stored application at index. Requires
// edit mode. Deleting the active application is the caller's policy to
// refuse; the device will not.
func (c *Camera) DeleteApplication(index int) error {
	path, err := c.sessionObject("edit/")
	if err != nil {
		return err
	}
	return c.call(path, "deleteApplication", nil, index)
}

// GetAppParameters reads the parameter map of the application being
// edited.
func (c *Camera) GetAppParameters() (map[string]string, error) {
	path, err := c.sessionObject("edit/application/")
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := c.call(path, "getAllParameters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetAppParameter stages one parameter on the application being edited.
func (c *Camera) SetAppParameter(name, value string) error {
	path, err := c.sessionObject("edit/application/")
	if err != nil {
		return err
	}
	return c.call(path, "setParameter", nil, name, value)
}

// SaveApp persists the application being edited.
func (c *Camera) SaveApp() error {
	path, err := c.sessionObject("edit/application/")
	if err != nil {
		return err
	}
	return c.call(path, "save", nil)
}

// GetImagerParameters reads the imager parameter map of the application
// being edited.
func (c *Camera) GetImagerParameters() (map[string]string, error) {
	path, err := c.sessionObject("edit/application/imager_001/")
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := c.call(path, "getAllParameters", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetImagerParameter stages one imager parameter on the application
// being edited.
func (c *Camera) SetImagerParameter(name, value string) error {
	path, err := c.sessionObject("edit/application/imager_001/")
	if err != nil {
		return err
	}
	return c.call(path, "setParameter", nil, name, value)
}

// WithEditSession opens a session in edit mode, runs fn, and cancels
// the session on every path, success or failure.
func (c *Camera) WithEditSession(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.RequestSession(); err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(c.CancelSession)
	if err := c.SetOperatingMode(ModeEdit); err != nil {
		return err
	}
	return fn()
}
