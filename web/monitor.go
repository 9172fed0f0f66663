package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/gorilla/websocket"
	goutils "go.viam.com/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Per-client outbound buffer. A client that falls this far behind
	// starts losing frames rather than slowing the broadcaster.
	sendBuffer = 4
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// monitorFrame is the JSON message pushed to WebSocket clients. Viz
// fields carry base64-encoded PNGs and are absent when the node runs
// with visualization off.
type monitorFrame struct {
	Type        string                 `json:"type"`
	Seq         uint32                 `json:"seq"`
	Stamp       string                 `json:"stamp"`
	Width       int                    `json:"width"`
	Height      int                    `json:"height"`
	DeviceFrame uint32                 `json:"device_frame"`
	Stats       map[string]interface{} `json:"stats"`
	DepthViz    string                 `json:"depth_viz,omitempty"`
	GoodBad     string                 `json:"good_bad_pixels,omitempty"`
	Hist        string                 `json:"hist,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub tracks connected monitor clients. Frames are fanned out with a
// non-blocking send so one stalled client cannot hold up the rest.
type hub struct {
	logger golog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger golog.Logger) *hub {
	return &hub{logger: logger, clients: map[*client]struct{}{}}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debugw("monitor client lagging, dropping frame")
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		goutils.UncheckedError(c.conn.Close())
		delete(h.clients, c)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.add(c)
	goutils.PanicCapturingGo(func() { c.writePump() })
	goutils.PanicCapturingGo(func() { s.readPump(c) })
}

// writePump owns all writes on the connection. It exits when the send
// loop hits a write error or the connection is closed under it.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		goutils.UncheckedError(c.conn.Close())
	}()
	for {
		select {
		case payload, ok := <-c.send:
			goutils.UncheckedError(c.conn.SetWriteDeadline(time.Now().Add(writeWait)))
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			goutils.UncheckedError(c.conn.SetWriteDeadline(time.Now().Add(writeWait)))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages to keep pong handling alive; the
// monitor protocol has no client-to-server traffic.
func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.remove(c)
		goutils.UncheckedError(c.conn.Close())
	}()
	c.conn.SetReadLimit(512)
	goutils.UncheckedError(c.conn.SetReadDeadline(time.Now().Add(pongWait)))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// monitorLoop pushes at most one frame per interval to the hub,
// skipping ticks where nothing new was published.
func (s *Server) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()
	var lastSeq uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.hub.count() == 0 {
			continue
		}
		snap := s.node.LatestFrame()
		if snap == nil || snap.Seq == lastSeq {
			continue
		}
		lastSeq = snap.Seq

		frame := monitorFrame{
			Type:        "frame",
			Seq:         snap.Seq,
			Stamp:       snap.Stamp.UTC().Format(time.RFC3339Nano),
			Width:       snap.Width,
			Height:      snap.Height,
			DeviceFrame: snap.DeviceFrame,
			Stats:       s.node.Stats(),
			DepthViz:    encodePNG(snap.DepthViz, s.logger),
			GoodBad:     encodePNG(snap.GoodBad, s.logger),
			Hist:        encodePNG(snap.Hist, s.logger),
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			s.logger.Errorw("failed to encode monitor frame", "error", err)
			continue
		}
		s.hub.broadcast(payload)
	}
}

func encodePNG(img image.Image, logger golog.Logger) string {
	if img == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		logger.Debugw("failed to encode viz image", "error", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
