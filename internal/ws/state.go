package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/bamtile/internal/bam"
	diag "github.com/coreman2200/bamtile/internal/diagnostics"
	"github.com/coreman2200/bamtile/internal/layout"
	"github.com/coreman2200/bamtile/internal/tile"
)

// Source is the running tile as seen by the preview.
type Source interface {
	Frame() (bam.Block, uint64)
	Stats() tile.Stats
}

// Control is a request from the control socket.
type Control struct {
	Pattern     string `json:"pattern,omitempty"`
	ResetBuffer bool   `json:"resetBuffer,omitempty"`
	Resync      bool   `json:"resync,omitempty"`
	// Show is pause, resume or restart for a loaded show.
	Show string `json:"show,omitempty"`
}

type State struct {
	mu     sync.RWMutex
	Layout layout.Layout
	Map    *layout.Map
	FPS    int
	Source Source
	Timing bam.Timing

	// OnControl applies control requests; nil makes the socket read-only.
	OnControl     func(Control) error
	CurrentDriver string

	frameID     uint64
	stats       tile.Stats
	startTime   time.Time
	clients     map[*websocket.Conn]bool
	diagClients map[*websocket.Conn]bool
}

func NewState(src Source, l layout.Layout, m *layout.Map, fps int) *State {
	if m == nil {
		m = layout.Default
	}
	return &State{
		Layout:      l,
		Map:         m,
		FPS:         fps,
		Source:      src,
		Timing:      bam.DefaultTiming,
		startTime:   time.Now(),
		clients:     map[*websocket.Conn]bool{},
		diagClients: map[*websocket.Conn]bool{},
	}
}

// RunPreviewLoop pushes every newly committed frame to the frame clients and
// turns stat changes into diagnostics once a second.
func (s *State) RunPreviewLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(max(1, s.FPS)))
	defer ticker.Stop()
	watch := time.NewTicker(time.Second)
	defer watch.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-watch.C:
			cur := s.Source.Stats()
			s.mu.Lock()
			prev := s.stats
			s.stats = cur
			s.mu.Unlock()
			for _, d := range diag.Watch(prev, cur) {
				s.Push(d)
			}
		case <-ticker.C:
			b, id := s.Source.Frame()
			s.mu.Lock()
			if id == s.frameID {
				s.mu.Unlock()
				continue
			}
			s.frameID = id
			s.mu.Unlock()
			s.broadcastFrame(id, rgb(&b, s.Layout, s.Map))
		}
	}
}

// rgb flattens a block into scan order R,G,B triples.
func rgb(b *bam.Block, l layout.Layout, m *layout.Map) []byte {
	im := bam.Image(b, l, m)
	out := make([]byte, 0, l.Count()*layout.Colors)
	for i := 0; i < len(im.Pix); i += 4 {
		out = append(out, im.Pix[i], im.Pix[i+1], im.Pix[i+2])
	}
	return out
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *State) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	s.sendTopology(conn)
	go s.drain(conn, s.clients)
}

func (s *State) HandleDiagWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.diagClients[conn] = true
	s.mu.Unlock()
	go s.drain(conn, s.diagClients)
}

// drain discards client messages and unregisters the client on close.
func (s *State) drain(conn *websocket.Conn, set map[*websocket.Conn]bool) {
	defer func() {
		s.mu.Lock()
		delete(set, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *State) HandleControlWS(w http.ResponseWriter, r *http.Request) {
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
		var msg Control
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.applyControl(msg)
		s.sendTopology(conn)
	}
}

func (s *State) applyControl(msg Control) {
	if s.OnControl == nil {
		s.Push(diag.Diagnostic{Severity: diag.Warn, Code: "CONTROL.DISABLED", Summary: "Control requests are not accepted"})
		return
	}
	if err := s.OnControl(msg); err != nil {
		s.Push(diag.Diagnostic{
			Severity: diag.Warn, Code: "CONTROL.REJECTED", Summary: "Control request failed",
			Detail:   err.Error(),
			Evidence: map[string]any{"pattern": msg.Pattern, "resync": msg.Resync, "resetBuffer": msg.ResetBuffer, "show": msg.Show},
		})
		return
	}
	log.Debug().Str("pattern", msg.Pattern).Bool("resync", msg.Resync).Bool("reset_buffer", msg.ResetBuffer).Str("show", msg.Show).Msg("control applied")
}

type health struct {
	FrameID   uint64  `json:"frame_id"`
	UptimeS   float64 `json:"uptime_s"`
	Count     int     `json:"count"`
	FPS       int     `json:"fps"`
	RefreshHz float64 `json:"refresh_hz"`
	Driver    string  `json:"driver"`
	tile.Stats
}

func (s *State) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_, id := s.Source.Frame()
	resp := health{
		FrameID:   id,
		UptimeS:   time.Since(s.startTime).Seconds(),
		Count:     s.Layout.Count(),
		FPS:       s.FPS,
		RefreshHz: float64(s.Timing.RefreshRate()) / float64(physic.Hertz),
		Driver:    s.CurrentDriver,
		Stats:     s.Source.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *State) sendTopology(conn *websocket.Conn) {
	top := map[string]any{
		"dim":    map[string]int{"x": s.Layout.Dim.X, "y": s.Layout.Dim.Y},
		"order":  map[string]bool{"xFlipEveryRow": s.Layout.Order.XFlipEveryRow},
		"driver": s.CurrentDriver,
		"step0":  s.Timing.Step0.String(),
	}
	b, _ := json.Marshal(top)
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func (s *State) broadcastFrame(id uint64, rgb []byte) {
	type frame struct {
		T       int64  `json:"t"`
		FrameID uint64 `json:"frame_id"`
		RGB     []byte `json:"rgb"`
	}
	b, _ := json.Marshal(frame{T: time.Now().UnixNano(), FrameID: id, RGB: rgb})
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Debug().Err(err).Msg("write frame")
		}
	}
}

// Push sends d to every diagnostics client and logs it.
func (s *State) Push(d diag.Diagnostic) {
	diag.Log(d)
	b, _ := json.Marshal(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.diagClients {
		c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		_ = c.WriteMessage(websocket.TextMessage, b)
	}
}
