package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dm-vev/adamant/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type recordingHandler struct {
	mu     sync.Mutex
	joined []uuid.UUID
	moves  []mgl64.Vec3
	quit   []uuid.UUID
}

func (h *recordingHandler) HandleJoin(id uuid.UUID, _ string, _ mgl64.Vec3) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joined = append(h.joined, id)
}

func (h *recordingHandler) HandleMove(_ uuid.UUID, pos mgl64.Vec3) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moves = append(h.moves, pos)
}

func (h *recordingHandler) HandleQuit(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quit = append(h.quit, id)
}

func (h *recordingHandler) counts() (joined, moves, quit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.joined), len(h.moves), len(h.quit)
}

type denyAll struct{}

func (denyAll) Allow(uuid.UUID, string) (string, bool) { return "not whitelisted", false }

func dial(t *testing.T, srv *httptest.Server, id string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?name=Steve&id=" + id
	return websocket.DefaultDialer.Dial(url, nil)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestHubBroadcast(t *testing.T) {
	h := &recordingHandler{}
	hub := HubConfig{Handler: h}.New()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	id := uuid.New()
	ws, _, err := dial(t, srv, id.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	waitFor(t, func() bool { joined, _, _ := h.counts(); return joined == 1 })
	if !hub.Connected(id) {
		t.Fatalf("expected player to be connected")
	}

	p := &world.Payload{Pos: world.ChunkPos{1, 2}, Data: []byte{1}, Encoded: []byte{9, 8, 7}}
	hub.Broadcast(p, []uuid.UUID{uuid.New(), id})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.BinaryMessage || string(data) != string(p.Encoded) {
		t.Fatalf("expected encoded payload as binary message, got %v %v", typ, data)
	}
}

func TestHubMoveAndQuit(t *testing.T) {
	h := &recordingHandler{}
	hub := HubConfig{Handler: h}.New()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	ws, _, err := dial(t, srv, uuid.NewString())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"move","x":40,"y":64,"z":-3}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
	waitFor(t, func() bool { _, moves, _ := h.counts(); return moves == 1 })
	h.mu.Lock()
	if h.moves[0] != (mgl64.Vec3{40, 64, -3}) {
		t.Errorf("unexpected move position %v", h.moves[0])
	}
	h.mu.Unlock()

	_ = ws.Close()
	waitFor(t, func() bool { _, _, quit := h.counts(); return quit == 1 })
	waitFor(t, func() bool { return hub.PlayerCount() == 0 })
}

func TestHubRejects(t *testing.T) {
	hub := HubConfig{Allower: denyAll{}}.New()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	if _, resp, err := dial(t, srv, "not-a-uuid"); err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected invalid id to be rejected with a bad request, got %v", err)
	}

	ws, _, err := dial(t, srv, uuid.NewString())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if hub.PlayerCount() != 0 {
		t.Fatalf("rejected player must not be registered")
	}
}

func TestHubMaxPlayers(t *testing.T) {
	hub := HubConfig{MaxPlayers: 1}.New()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	first, _, err := dial(t, srv, uuid.NewString())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	waitFor(t, func() bool { return hub.PlayerCount() == 1 })

	second, _, err := dial(t, srv, uuid.NewString())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected full server to close the connection, got %v", err)
	}
}

func TestHubRegisterEnforcesMaxPlayers(t *testing.T) {
	hub := HubConfig{MaxPlayers: 2}.New()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &conn{id: uuid.New(), send: make(chan []byte, 1), done: make(chan struct{})}
			if err := hub.register(c); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 2 || hub.PlayerCount() != 2 {
		t.Fatalf("expected exactly 2 players to be registered, got %v (count %v)", accepted, hub.PlayerCount())
	}
}

func TestWorldHandler(t *testing.T) {
	w := world.Config{TickInterval: -1, SaveInterval: -1, SpawnSendRadius: 1}.New()
	t.Cleanup(func() { _ = w.Close() })

	id := uuid.New()
	hdl := WorldHandler{World: w}
	hdl.HandleJoin(id, "Steve", mgl64.Vec3{8, 64, 8})
	hdl.HandleMove(id, mgl64.Vec3{40, 64, -3})

	var (
		pos world.ChunkPos
		ok  bool
	)
	<-w.Exec(func(tx *world.Tx) { pos, ok = w.PlayerChunk(id) })
	if !ok || pos != (world.ChunkPos{2, -1}) {
		t.Fatalf("expected player in chunk (2, -1), got %v (%v)", pos, ok)
	}
	hdl.HandleQuit(id)
	<-w.Exec(func(tx *world.Tx) { _, ok = w.PlayerChunk(id) })
	if ok {
		t.Fatalf("expected player to be removed")
	}
}
