package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/bamtile/internal/bam"
	diag "github.com/coreman2200/bamtile/internal/diagnostics"
	"github.com/coreman2200/bamtile/internal/layout"
	"github.com/coreman2200/bamtile/internal/rx"
	"github.com/coreman2200/bamtile/internal/tile"
)

type source struct {
	mu    sync.Mutex
	b     bam.Block
	id    uint64
	stats tile.Stats
}

func (s *source) Frame() (bam.Block, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b, s.id
}

func (s *source) Stats() tile.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *source) commit(set map[int]byte) {
	st := bam.NewStore(nil)
	for ch, v := range set {
		_ = st.Assemble(v, ch)
	}
	st.Swap()
	s.mu.Lock()
	s.b = *st.Front()
	s.id++
	s.mu.Unlock()
}

func serve(t *testing.T, s *State) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleFramesWS)
	mux.HandleFunc("/diag", s.HandleDiagWS)
	mux.HandleFunc("/control", s.HandleControlWS)
	mux.HandleFunc("/health", s.HandleHealth)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func dial(t *testing.T, url, path string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFramesStreamCommittedFrames(t *testing.T) {
	src := &source{}
	s := NewState(src, layout.Panel, nil, 200)
	url := serve(t, s)
	c := dial(t, url, "/ws")

	var top map[string]any
	require.NoError(t, c.ReadJSON(&top))
	assert.Equal(t, map[string]any{"x": 8.0, "y": 8.0}, top["dim"])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunPreviewLoop(ctx)

	ch := layout.Panel.Channel(2, 3, layout.Blue)
	src.commit(map[int]byte{ch: 99})

	var f struct {
		FrameID uint64 `json:"frame_id"`
		RGB     []byte `json:"rgb"`
	}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, c.ReadJSON(&f))
	assert.Equal(t, uint64(1), f.FrameID)
	require.Len(t, f.RGB, layout.Channels)
	assert.Equal(t, byte(99), f.RGB[ch])
}

func TestHealthReportsStats(t *testing.T) {
	src := &source{stats: tile.Stats{Snapshot: rx.Snapshot{Frames: 7, Resyncs: 2}, Ticks: 40}}
	s := NewState(src, layout.Panel, nil, 30)
	s.CurrentDriver = "sim"
	url := serve(t, s)

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var h map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, 7.0, h["frames"])
	assert.Equal(t, 2.0, h["resyncs"])
	assert.Equal(t, 40.0, h["ticks"])
	assert.Equal(t, 64.0, h["count"])
	assert.Equal(t, "sim", h["driver"])
	assert.InDelta(t, 122.5, h["refresh_hz"], 0.1)
}

func TestControlRequests(t *testing.T) {
	src := &source{}
	s := NewState(src, layout.Panel, nil, 30)
	got := make(chan Control, 2)
	s.OnControl = func(c Control) error {
		got <- c
		if c.Pattern == "plasma" {
			return errors.New("unknown pattern")
		}
		return nil
	}
	url := serve(t, s)
	d := dial(t, url, "/diag")
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.diagClients) == 1
	}, 5*time.Second, time.Millisecond)
	c := dial(t, url, "/control")

	require.NoError(t, c.WriteJSON(Control{Resync: true}))
	assert.Equal(t, Control{Resync: true}, <-got)

	require.NoError(t, c.WriteJSON(Control{Pattern: "plasma"}))
	assert.Equal(t, "plasma", (<-got).Pattern)

	var dg diag.Diagnostic
	d.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, d.ReadJSON(&dg))
	assert.Equal(t, "CONTROL.REJECTED", dg.Code)
	assert.Equal(t, "unknown pattern", dg.Detail)
}
