package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dm-vev/adamant/server/query"
	"github.com/dm-vev/adamant/server/session"
	"github.com/dm-vev/adamant/server/world"
)

// Server runs a World and accepts websocket connections from players, sending
// them the chunks around them. A Server may be created using Config.New().
type Server struct {
	conf Config

	world     *world.World
	hub       *session.Hub
	whitelist *Whitelist

	started atomic.Pointer[time.Time]

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	query    *query.Listener

	once   sync.Once
	closed chan struct{}
}

// Listen loads the spawn region of the World and starts listening for
// connections on the address of the Config. Listen returns once the listener
// is set up; connections are accepted in the background.
func (srv *Server) Listen() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := srv.world.PrepareSpawnRegion(ctx, world.ChunkPosFromVec3(srv.conf.Spawn), srv.conf.SpawnRadius); err != nil {
		return fmt.Errorf("prepare spawn region: %w", err)
	}
	t := time.Now()
	srv.started.Store(&t)

	if srv.conf.QueryAddress != "" {
		ql, err := query.Listen(srv.conf.QueryAddress, srv.conf.Log, srv.queryData)
		if err != nil {
			return fmt.Errorf("listen query: %w", err)
		}
		srv.mu.Lock()
		srv.query = ql
		srv.mu.Unlock()
	}
	if srv.conf.Address == "" {
		return nil
	}
	l, err := net.Listen("tcp", srv.conf.Address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", srv.hub)
	mux.HandleFunc("/status", srv.serveStatus)
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	srv.mu.Lock()
	srv.listener, srv.http = l, hs
	srv.mu.Unlock()

	srv.conf.Log.Info("Listener running.", "addr", l.Addr())
	go func() {
		if err := hs.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.conf.Log.Error("serve: " + err.Error())
		}
	}()
	return nil
}

// Status is the state of a Server as served on the /status endpoint.
type Status struct {
	Name         string                `json:"name"`
	Players      int                   `json:"players"`
	MaxPlayers   int                   `json:"max_players"`
	TPS          float64               `json:"tps"`
	Tick         int64                 `json:"tick"`
	LoadedChunks int                   `json:"loaded_chunks"`
	Uptime       string                `json:"uptime"`
	Metrics      world.MetricsSnapshot `json:"metrics"`
}

// Status returns the current Status of the Server.
func (srv *Server) Status() Status {
	s := Status{
		Name:         srv.conf.Name,
		Players:      srv.PlayerCount(),
		MaxPlayers:   srv.conf.MaxPlayers,
		TPS:          srv.world.TPS(),
		Tick:         srv.world.CurrentTick(),
		LoadedChunks: srv.world.LoadedChunkCount(),
		Metrics:      srv.world.Metrics().Snapshot(),
	}
	if start := srv.StartTime(); !start.IsZero() {
		s.Uptime = time.Since(start).Round(time.Second).String()
	}
	return s
}

// queryData returns the Data answered to query requests.
func (srv *Server) queryData() query.Data {
	names := srv.hub.PlayerNames()
	return query.Data{
		HostName:         srv.conf.Name,
		WorldName:        srv.world.Name(),
		PlayerCount:      len(names),
		MaxPlayers:       srv.conf.MaxPlayers,
		PlayerNames:      names,
		WhitelistEnabled: srv.whitelist.Enabled(),
		TPS:              srv.world.TPS(),
		LoadedChunks:     srv.world.LoadedChunkCount(),
	}
}

func (srv *Server) serveStatus(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(srv.Status()); err != nil {
		srv.conf.Log.Debug("Write status failed.", "error", err)
	}
}

// Addr returns the address the Server is listening on, or nil if it is not
// listening.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// QueryAddr returns the address query requests are answered on, or nil if
// query is disabled.
func (srv *Server) QueryAddr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.query == nil {
		return nil
	}
	return srv.query.Addr()
}

// World returns the World of the Server.
func (srv *Server) World() *world.World {
	return srv.world
}

// Whitelist returns the Whitelist of the Server, or nil if the Allower of the
// Config is not a Whitelist.
func (srv *Server) Whitelist() *Whitelist {
	return srv.whitelist
}

// StartTime returns the time the Server started listening. The zero time is
// returned if Listen was not called.
func (srv *Server) StartTime() time.Time {
	if t := srv.started.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// PlayerCount returns the amount of players connected to the Server.
func (srv *Server) PlayerCount() int {
	return srv.hub.PlayerCount()
}

// MaxPlayerCount returns the maximum amount of players that may be connected
// at once, or 0 if there is no limit.
func (srv *Server) MaxPlayerCount() int {
	return srv.conf.MaxPlayers
}

// CloseOnProgramEnd closes the Server right before the program ends, so that
// all data of the Server is saved properly.
func (srv *Server) CloseOnProgramEnd() {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			if err := srv.Close(); err != nil {
				srv.conf.Log.Error("close server: " + err.Error())
			}
		case <-srv.closed:
		}
		signal.Stop(c)
	}()
}

// Wait blocks until the Server is closed.
func (srv *Server) Wait() {
	<-srv.closed
}

// Close disconnects all players, stops the listener and closes the World,
// saving all of its chunks. Calling Close more than once has no effect.
func (srv *Server) Close() error {
	var err error
	srv.once.Do(func() {
		srv.conf.Log.Info("Server closing...")
		srv.mu.Lock()
		hs, ql := srv.http, srv.query
		srv.mu.Unlock()
		if ql != nil {
			_ = ql.Close()
		}
		srv.hub.Close()
		if hs != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if e := hs.Shutdown(ctx); e != nil {
				err = fmt.Errorf("close listener: %w", e)
			}
			cancel()
		}
		srv.conf.Log.Debug("Closing world...")
		if e := srv.world.Close(); e != nil && err == nil {
			err = fmt.Errorf("close world: %w", e)
		}
		close(srv.closed)
		srv.conf.Log.Info("Server closed.", "uptime", time.Since(srv.StartTime()).Round(time.Second))
	})
	return err
}
