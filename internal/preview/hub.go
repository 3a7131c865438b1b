// Package preview streams what the arms show to browser clients over
// websockets, along with diagnostics and a health endpoint. In sim mode it is
// the only output.
package preview

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/coreman2200/arcaluminis-pov/internal/config"
	"github.com/coreman2200/arcaluminis-pov/internal/diagnostics"
)

const writeWait = 200 * time.Millisecond

// Controls are the actions a /control client may trigger.
type Controls struct {
	NextPattern   func()
	NextAnimation func()
}

type Hub struct {
	log      zerolog.Logger
	clock    clockwork.Clock
	throttle time.Duration
	arms     []config.Arm
	start    time.Time

	// Status feeds /health; typically the coordinator's Status.
	Status   func() any
	Controls Controls

	mu          sync.RWMutex
	clients     map[*websocket.Conn]bool
	diagClients map[*websocket.Conn]bool
	frameID     uint64
	lastEmit    map[int]time.Time

	// gorilla connections allow a single concurrent writer.
	wmu sync.Mutex
}

func NewHub(arms []config.Arm, throttle time.Duration, clock clockwork.Clock, log zerolog.Logger) *Hub {
	return &Hub{
		log:         log.With().Str("component", "preview").Logger(),
		clock:       clock,
		throttle:    throttle,
		arms:        arms,
		start:       clock.Now(),
		clients:     map[*websocket.Conn]bool{},
		diagClients: map[*websocket.Conn]bool{},
		lastEmit:    map[int]time.Time{},
	}
}

// Handler serves /ws, /diag, /control and /health.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleFramesWS)
	mux.HandleFunc("/diag", h.HandleDiagWS)
	mux.HandleFunc("/control", h.HandleControlWS)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (h *Hub) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.sendTopology(conn)
	go h.drain(conn, h.clients)
}

func (h *Hub) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.diagClients[conn] = true
	h.mu.Unlock()
	go h.drain(conn, h.diagClients)
}

// drain reads until the client goes away, then unregisters it.
func (h *Hub) drain(conn *websocket.Conn, set map[*websocket.Conn]bool) {
	defer func() {
		h.mu.Lock()
		delete(set, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type controlMsg struct {
	Action string `json:"action"`
}

func (h *Hub) HandleControlWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.applyControl(msg)
	}
}

func (h *Hub) applyControl(msg controlMsg) {
	var fn func()
	switch msg.Action {
	case "next_pattern":
		fn = h.Controls.NextPattern
	case "next_animation":
		fn = h.Controls.NextAnimation
	}
	if fn == nil {
		h.Push(diagnostics.Diagnostic{
			Time:     h.clock.Now(),
			Severity: diagnostics.Warn,
			Code:     "control_unknown",
			Summary:  "unknown control action",
			Evidence: map[string]any{"action": msg.Action},
		})
		return
	}
	h.log.Info().Str("action", msg.Action).Msg("control")
	fn()
}

func (h *Hub) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resp := map[string]any{
		"frame_id": h.frameID,
		"uptime_s": h.clock.Since(h.start).Seconds(),
		"clients":  len(h.clients),
		"arms":     len(h.arms),
	}
	h.mu.RUnlock()
	if h.Status != nil {
		resp["status"] = h.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Hub) sendTopology(conn *websocket.Conn) {
	leds := make([]int, len(h.arms))
	mounts := make([]int, len(h.arms))
	for i, a := range h.arms {
		leds[i] = a.NumLEDs
		mounts[i] = a.MountAngle
	}
	b, _ := json.Marshal(map[string]any{
		"type":   "topology",
		"leds":   leds,
		"mounts": mounts,
	})
	h.write(conn, b)
}

type frame struct {
	Type    string `json:"type"`
	T       int64  `json:"t"`
	FrameID uint64 `json:"frame_id"`
	Arm     int    `json:"arm"`
	RGB     []byte `json:"rgb"`
}

// publish sends one arm's pixels to frame clients, at most once per
// throttle interval per arm.
func (h *Hub) publish(arm int, rgb []byte) {
	now := h.clock.Now()
	h.mu.Lock()
	if last, ok := h.lastEmit[arm]; ok && now.Sub(last) < h.throttle {
		h.mu.Unlock()
		return
	}
	h.lastEmit[arm] = now
	h.frameID++
	id := h.frameID
	conns := keys(h.clients)
	h.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	b, _ := json.Marshal(frame{Type: "frame", T: now.UnixNano(), FrameID: id, Arm: arm, RGB: rgb})
	for _, c := range conns {
		h.write(c, b)
	}
}

// Push implements diagnostics.Sink.
func (h *Hub) Push(d diagnostics.Diagnostic) {
	h.mu.RLock()
	conns := keys(h.diagClients)
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}
	b, _ := json.Marshal(d)
	for _, c := range conns {
		h.write(c, b)
	}
}

func (h *Hub) write(c *websocket.Conn, b []byte) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		h.log.Debug().Err(err).Msg("write")
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) DiagClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.diagClients)
}

func keys(m map[*websocket.Conn]bool) []*websocket.Conn {
	out := make([]*websocket.Conn, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

// Strip is a led.Strip whose Refresh publishes to the hub.
type Strip struct {
	hub *Hub
	arm int

	mu  sync.Mutex
	rgb []byte
}

// Strip returns the preview output for arm with n pixels.
func (h *Hub) Strip(arm, n int) *Strip {
	return &Strip{hub: h, arm: arm, rgb: make([]byte, n*3)}
}

func (s *Strip) SetPixel(i int, r, g, b uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i*3 >= len(s.rgb) {
		return
	}
	s.rgb[i*3+0] = r
	s.rgb[i*3+1] = g
	s.rgb[i*3+2] = b
}

func (s *Strip) Refresh() error {
	s.mu.Lock()
	buf := append([]byte(nil), s.rgb...)
	s.mu.Unlock()
	s.hub.publish(s.arm, buf)
	return nil
}

func (s *Strip) Len() int { return len(s.rgb) / 3 }
