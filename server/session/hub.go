package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dm-vev/adamant/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a single message to a player.
	writeWait = 10 * time.Second
	// pongWait is the time allowed to read the next pong from a player.
	pongWait = 60 * time.Second
	// pingPeriod is the interval at which pings are sent. It must be less
	// than pongWait.
	pingPeriod = pongWait * 9 / 10
	// maxMessageSize is the maximum size of a message read from a player.
	maxMessageSize = 4096
	// sendQueueSize is the amount of payloads buffered per player before
	// payloads are dropped.
	sendQueueSize = 256
)

// Allower decides if a player may connect to the Hub. If Allow returns false,
// the connection is closed with the message returned.
type Allower interface {
	Allow(id uuid.UUID, name string) (string, bool)
}

// Handler handles the lifecycle of players connected to a Hub. Its methods
// are called from the goroutine reading from the connection of the player.
type Handler interface {
	HandleJoin(id uuid.UUID, name string, pos mgl64.Vec3)
	HandleMove(id uuid.UUID, pos mgl64.Vec3)
	HandleQuit(id uuid.UUID)
}

// HubConfig holds the options of a Hub.
type HubConfig struct {
	// Log is the Logger used to log errors and debug messages. If nil,
	// slog.Default() is used.
	Log *slog.Logger
	// Handler is notified of players joining, moving and quitting.
	Handler Handler
	// Allower decides which players may connect. If nil, every player is
	// allowed.
	Allower Allower
	// Spawn is the position players are placed at when they connect.
	Spawn mgl64.Vec3
	// MaxPlayers is the maximum amount of players connected at once. A value
	// of 0 or lower means there is no limit.
	MaxPlayers int
}

// Hub accepts websocket connections from players and delivers chunk payloads
// to them. It implements world.Broadcaster.
type Hub struct {
	conf     HubConfig
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[uuid.UUID]*conn
	closed bool
	// wg is done once the Handler was notified of the quit of every player
	// registered.
	wg sync.WaitGroup

	dropped atomic.Uint64
}

var _ world.Broadcaster = (*Hub)(nil)

// New creates a Hub using the fields of conf.
func (conf HubConfig) New() *Hub {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	conf.Log = conf.Log.With("net origin", "websocket")
	if conf.Handler == nil {
		conf.Handler = NopHandler{}
	}
	return &Hub{
		conf:     conf,
		conns:    make(map[uuid.UUID]*conn),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1 << 16},
	}
}

// SetHandler changes the Handler of the Hub. It must be called before the Hub
// accepts connections.
func (h *Hub) SetHandler(hdl Handler) {
	if hdl == nil {
		hdl = NopHandler{}
	}
	h.conf.Handler = hdl
}

// conn is a player connected to the Hub.
type conn struct {
	id   uuid.UUID
	name string
	ws   *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

// close stops the write loop of the connection and closes it.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// clientMessage is a message sent by a player.
type clientMessage struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

// ServeHTTP upgrades the request to a websocket connection. The player is
// identified by the id and name query parameters.
func (h *Hub) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(rw, "invalid player id", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	ws, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		h.conf.Log.Debug("Upgrade failed.", "error", err)
		return
	}
	if msg, ok := h.allow(id, name); !ok {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	c := &conn{id: id, name: name, ws: ws, send: make(chan []byte, sendQueueSize), done: make(chan struct{})}
	if err := h.register(c); err != nil {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	h.conf.Log.Info("Player connected.", "name", name, "uuid", id, "addr", r.RemoteAddr)

	go h.writeLoop(c)
	h.conf.Handler.HandleJoin(id, name, h.conf.Spawn)
	h.readLoop(c)

	h.unregister(c)
	h.conf.Handler.HandleQuit(id)
	h.wg.Done()
	h.conf.Log.Info("Player disconnected.", "name", name, "uuid", id)
}

// allow checks if the player may join according to the Allower. The maximum
// amount of players is checked by register.
func (h *Hub) allow(id uuid.UUID, name string) (string, bool) {
	if h.conf.Allower == nil {
		return "", true
	}
	return h.conf.Allower.Allow(id, name)
}

var (
	errHubClosed       = errors.New("server closed")
	errAlreadyLoggedIn = errors.New("logged in from another location")
	errServerFull      = errors.New("server is full")
)

// register adds a connection to the Hub if the Hub is not full.
func (h *Hub) register(c *conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	if _, ok := h.conns[c.id]; ok {
		return errAlreadyLoggedIn
	}
	if h.conf.MaxPlayers > 0 && len(h.conns) >= h.conf.MaxPlayers {
		return errServerFull
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	return nil
}

// unregister removes a connection from the Hub and closes it.
func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
	c.close()
}

// readLoop reads messages from the connection until it is closed.
func (h *Hub) readLoop(c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.conf.Log.Debug("Read failed.", "uuid", c.id, "error", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.conf.Log.Debug("Discarding malformed message.", "uuid", c.id, "error", err)
			continue
		}
		switch msg.Type {
		case "move":
			h.conf.Handler.HandleMove(c.id, mgl64.Vec3{msg.X, msg.Y, msg.Z})
		default:
			h.conf.Log.Debug("Unknown message type.", "uuid", c.id, "type", msg.Type)
		}
	}
}

// writeLoop writes the payloads queued for the connection and keeps it alive
// with pings.
func (h *Hub) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				h.conf.Log.Debug("Write failed.", "uuid", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// Broadcast queues the encoded payload passed for every connected player in
// players. Payloads for players whose queue is full are dropped.
func (h *Hub) Broadcast(p *world.Payload, players []uuid.UUID) {
	data := p.Encoded
	if data == nil {
		data = p.Data
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range players {
		c, ok := h.conns[id]
		if !ok {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			h.conf.Log.Warn("Send queue full, dropping chunk.", "uuid", id, "X", p.Pos[0], "Z", p.Pos[1])
		}
	}
}

// Dropped returns the amount of payloads dropped because the send queue of a
// player was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// PlayerCount returns the amount of players connected.
func (h *Hub) PlayerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// PlayerNames returns the names of the players connected, sorted.
func (h *Hub) PlayerNames() []string {
	h.mu.RLock()
	names := make([]string, 0, len(h.conns))
	for _, c := range h.conns {
		names = append(names, c.name)
	}
	h.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Connected checks if the player with the UUID passed is connected.
func (h *Hub) Connected(id uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[id]
	return ok
}

// Close disconnects all players and stops accepting new connections. Close
// returns once the Handler was notified of every player quitting.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	h.wg.Wait()
}

// NopHandler is a Handler that does nothing.
type NopHandler struct{}

func (NopHandler) HandleJoin(uuid.UUID, string, mgl64.Vec3) {}
func (NopHandler) HandleMove(uuid.UUID, mgl64.Vec3)         {}
func (NopHandler) HandleQuit(uuid.UUID)                     {}

// WorldHandler is a Handler that adds players to a world.World and moves
// them between its chunks.
type WorldHandler struct {
	World *world.World
}

// HandleJoin ...
func (h WorldHandler) HandleJoin(id uuid.UUID, _ string, pos mgl64.Vec3) {
	h.World.AddPlayer(id, pos)
}

// HandleMove ...
func (h WorldHandler) HandleMove(id uuid.UUID, pos mgl64.Vec3) {
	h.World.MovePlayerToChunk(id, world.ChunkPosFromVec3(pos))
}

// HandleQuit ...
func (h WorldHandler) HandleQuit(id uuid.UUID) {
	h.World.RemovePlayer(id)
}
