package web_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/gorilla/websocket"
	"go.viam.com/test"
	goutils "go.viam.com/utils"

	"github.com/shaun-edwards/o3d3xx-ros/bridge"
	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx/fake"
	"github.com/shaun-edwards/o3d3xx-ros/publish"
	"github.com/shaun-edwards/o3d3xx-ros/web"
)

func newTestBridge(t *testing.T, cfg fake.Config, publishViz bool) (*fake.Device, *bridge.Node) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	dev, err := fake.NewDevice(cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, dev.Close(), test.ShouldBeNil)
	})

	node, err := bridge.NewNode(bridge.Config{
		CameraIP:   "127.0.0.1",
		XMLRPCPort: dev.XMLRPCPort(),
		PCICPort:   dev.PCICPort(),
		Timeout:    2 * time.Second,
		PublishViz: publishViz,
		FrameID:    "test_link",
	}, publish.NewRecorder(), logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, node.Close(context.Background()), test.ShouldBeNil)
	})
	return dev, node
}

func doJSON(t *testing.T, method, url string, body io.Reader, out interface{}) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	test.That(t, err, test.ShouldBeNil)
	resp, err := http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, resp.Body.Close(), test.ShouldBeNil)
	}()
	if out != nil {
		test.That(t, json.NewDecoder(resp.Body).Decode(out), test.ShouldBeNil)
	}
	return resp
}

func TestAdminEndpoints(t *testing.T) {
	dev, node := newTestBridge(t, fake.Config{}, false)
	srv := web.NewServer(node, "127.0.0.1:0", 0, golog.NewTestLogger(t))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	t.Run("version", func(t *testing.T) {
		var v map[string]string
		doJSON(t, http.MethodGet, ts.URL+"/api/v1/version", nil, &v)
		test.That(t, v["version"], test.ShouldContainSubstring, "libo3d3xx")
	})

	t.Run("dump", func(t *testing.T) {
		var dump struct {
			Status int             `json:"status"`
			Config json.RawMessage `json:"config"`
		}
		doJSON(t, http.MethodGet, ts.URL+"/api/v1/config", nil, &dump)
		test.That(t, dump.Status, test.ShouldEqual, 0)

		var doc map[string]json.RawMessage
		test.That(t, json.Unmarshal(dump.Config, &doc), test.ShouldBeNil)
		_, ok := doc["o3d3xx"]
		test.That(t, ok, test.ShouldBeTrue)
	})

	t.Run("config", func(t *testing.T) {
		body := strings.NewReader(`{"o3d3xx": {"Device": {"Name": "via-http"}}}`)
		var res struct {
			Status int    `json:"status"`
			Msg    string `json:"msg"`
		}
		doJSON(t, http.MethodPut, ts.URL+"/api/v1/config", body, &res)
		test.That(t, res.Status, test.ShouldEqual, 0)
		test.That(t, res.Msg, test.ShouldEqual, "OK")
		test.That(t, dev.DeviceParam("Name"), test.ShouldEqual, "via-http")
	})

	t.Run("rm", func(t *testing.T) {
		var res struct {
			Status int    `json:"status"`
			Msg    string `json:"msg"`
		}
		doJSON(t, http.MethodDelete, ts.URL+"/api/v1/applications/2", nil, &res)
		test.That(t, res.Status, test.ShouldEqual, 0)
		test.That(t, res.Msg, test.ShouldEqual, "OK")
		test.That(t, dev.ApplicationIndexes(), test.ShouldResemble, []int{1})
	})

	t.Run("rm bad index", func(t *testing.T) {
		var res struct {
			Status int    `json:"status"`
			Msg    string `json:"msg"`
		}
		resp := doJSON(t, http.MethodDelete, ts.URL+"/api/v1/applications/abc", nil, &res)
		test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)
		test.That(t, res.Status, test.ShouldEqual, -1)
		test.That(t, res.Msg, test.ShouldContainSubstring, "integer")
	})

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		test.That(t, err, test.ShouldBeNil)
		body, err := io.ReadAll(resp.Body)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, resp.Body.Close(), test.ShouldBeNil)
		test.That(t, string(body), test.ShouldEqual, "ok")
	})

	t.Run("status", func(t *testing.T) {
		var status map[string]interface{}
		doJSON(t, http.MethodGet, ts.URL+"/status", nil, &status)
		test.That(t, status["frame_id"], test.ShouldEqual, "test_link")
		test.That(t, status["monitor_clients"], test.ShouldEqual, 0)
		test.That(t, status["uptime_seconds"], test.ShouldBeGreaterThanOrEqualTo, 0)
		_, ok := status["frames_published"]
		test.That(t, ok, test.ShouldBeTrue)
	})
}

func TestMonitorWebSocket(t *testing.T) {
	_, node := newTestBridge(t, fake.Config{Width: 4, Height: 3, FrameInterval: 15 * time.Millisecond}, true)
	node.Start()

	srv := web.NewServer(node, "127.0.0.1:0", 20*time.Millisecond, golog.NewTestLogger(t))
	test.That(t, srv.Start(), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, srv.Close(), test.ShouldBeNil)
	})

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	test.That(t, err, test.ShouldBeNil)
	goutils.UncheckedError(resp.Body.Close())
	defer goutils.UncheckedErrorFunc(conn.Close)
	test.That(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)), test.ShouldBeNil)

	var frame struct {
		Type        string                 `json:"type"`
		Seq         uint32                 `json:"seq"`
		Stamp       string                 `json:"stamp"`
		Width       int                    `json:"width"`
		Height      int                    `json:"height"`
		DeviceFrame uint32                 `json:"device_frame"`
		Stats       map[string]interface{} `json:"stats"`
		DepthViz    string                 `json:"depth_viz"`
		GoodBad     string                 `json:"good_bad_pixels"`
		Hist        string                 `json:"hist"`
	}
	_, payload, err := conn.ReadMessage()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, json.Unmarshal(payload, &frame), test.ShouldBeNil)

	test.That(t, frame.Type, test.ShouldEqual, "frame")
	test.That(t, frame.Seq, test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, frame.Width, test.ShouldEqual, 4)
	test.That(t, frame.Height, test.ShouldEqual, 3)
	test.That(t, frame.DeviceFrame, test.ShouldBeGreaterThanOrEqualTo, 1)
	_, err = time.Parse(time.RFC3339Nano, frame.Stamp)
	test.That(t, err, test.ShouldBeNil)
	_, ok := frame.Stats["frames_published"]
	test.That(t, ok, test.ShouldBeTrue)

	// viz payloads are PNGs of the published organization
	raw, err := base64.StdEncoding.DecodeString(frame.DepthViz)
	test.That(t, err, test.ShouldBeNil)
	img, err := png.Decode(bytes.NewReader(raw))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 4)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 3)
	test.That(t, frame.GoodBad, test.ShouldNotBeEmpty)
	test.That(t, frame.Hist, test.ShouldNotBeEmpty)

	// the monitor only pushes when a newer cycle was published
	_, payload, err = conn.ReadMessage()
	test.That(t, err, test.ShouldBeNil)
	var next struct {
		Seq uint32 `json:"seq"`
	}
	test.That(t, json.Unmarshal(payload, &next), test.ShouldBeNil)
	test.That(t, next.Seq, test.ShouldBeGreaterThan, frame.Seq)

	// with a client attached the status surface reports it
	var status map[string]interface{}
	doJSON(t, http.MethodGet, "http://"+srv.Addr()+"/status", nil, &status)
	test.That(t, status["monitor_clients"], test.ShouldEqual, 1)
}
