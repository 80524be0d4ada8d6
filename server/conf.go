package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dm-vev/adamant/server/session"
	"github.com/dm-vev/adamant/server/world"
	"github.com/dm-vev/adamant/server/world/generator"
	"github.com/dm-vev/adamant/server/world/mcdb"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Config contains options for starting a Server.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// Name is the name of the server, also used as the name of its World.
	Name string
	// Address is the address the websocket listener of the Server listens
	// on. If empty, no players will be able to connect to the Server.
	Address string
	// QueryAddress is the UDP address query requests are answered on. If
	// empty, query requests are not answered.
	QueryAddress string
	// MaxPlayers is the maximum amount of players allowed to join the server
	// at once. A value of 0 means there is no limit.
	MaxPlayers int
	// Allower may be used to specify what players can join the server and
	// what players cannot.
	Allower session.Allower
	// World holds the options of the World of the Server. Its Log, Name,
	// Encoder and Broadcaster fields are set by the Server.
	World world.Config
	// Spawn is the position players are placed at when they join.
	Spawn mgl64.Vec3
	// SpawnRadius is the radius in chunks of the region around Spawn that is
	// loaded before the Server accepts players. A value of 0 or lower only
	// loads the chunk of Spawn.
	SpawnRadius int32
	// CompressionLevel is the flate level used to compress chunks sent to
	// players. 0 selects the default level.
	CompressionLevel int
}

// New creates a Server using fields of conf. The World of the Server is
// created immediately, and connections may be accepted by calling
// Server.Listen() afterwards.
func (conf Config) New() *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Address == "" {
		conf.Log.Warn("config: no listen address set, no connections will be accepted")
	}
	if conf.Name == "" {
		conf.Name = "Adamant Server"
	}
	if conf.World.Name == "" {
		conf.World.Name = conf.Name
	}
	if conf.World.Log == nil {
		conf.World.Log = conf.Log
	}

	srv := &Server{conf: conf, closed: make(chan struct{})}
	srv.hub = session.HubConfig{
		Log:        conf.Log,
		Allower:    conf.Allower,
		Spawn:      conf.Spawn,
		MaxPlayers: conf.MaxPlayers,
	}.New()
	if wl, ok := conf.Allower.(*Whitelist); ok {
		srv.whitelist = wl
	}

	wc := conf.World
	wc.Encoder = session.LevelChunkEncoder{Level: conf.CompressionLevel}
	wc.Broadcaster = srv.hub
	srv.world = wc.New()
	srv.hub.SetHandler(session.WorldHandler{World: srv.world})
	return srv
}

// UserConfig is the user configuration for an Adamant server. It holds
// settings that affect different aspects of the server, such as its name,
// the world it runs and how long chunks are kept in memory. UserConfig may be
// serialised as TOML or YAML and can be converted to a Config by calling
// UserConfig.Config().
type UserConfig struct {
	// Network holds settings related to network aspects of the server.
	Network struct {
		// Address is the address on which the server should listen for
		// websocket connections.
		Address string
		// QueryAddress is the UDP address on which query requests are
		// answered. Leave empty to disable query.
		QueryAddress string
		// CompressionLevel is the flate level used to compress chunks sent
		// to players.
		CompressionLevel int
	}
	Server struct {
		// Name is the name of the server.
		Name string
		// MaxPlayers is the maximum amount of players allowed to join the
		// server at the same time. If set to 0, there is no limit.
		MaxPlayers int
	}
	World struct {
		// SaveData controls whether a world's data will be saved and loaded.
		// If true, the server will use the default LevelDB data provider and
		// if false, an empty provider will be used.
		SaveData bool
		// ReadOnly prevents any chunk from being written to the world
		// folder.
		ReadOnly bool
		// Folder is the folder that the data of the world resides in.
		Folder string
		// Generator is the generator used for chunks that were never saved.
		// Valid values are "flat", "ocean" and "none".
		Generator string
		// SpawnRadius is the radius in chunks of the region loaded around
		// the spawn before players can join.
		SpawnRadius int
		// SendRadius is the radius in chunks of the chunks sent to a player
		// when it joins.
		SendRadius int
		// MinResidencySeconds is the minimum amount of seconds a chunk stays
		// in memory after it was loaded.
		MinResidencySeconds int
		// GracePeriodSeconds is the minimum amount of seconds a chunk stays
		// in memory after the last player left it.
		GracePeriodSeconds int
		// SaveIntervalSeconds is the interval in seconds at which modified
		// chunks are saved. A negative value disables autosaving.
		SaveIntervalSeconds int
		// PayloadCacheSize is the maximum amount of packaged chunks kept in
		// memory. 0 means every resident chunk may keep its payload.
		PayloadCacheSize int
		// ForceLoadTimeoutSeconds bounds the time spent waiting for a chunk
		// that must be loaded immediately. 0 waits indefinitely.
		ForceLoadTimeoutSeconds int
	}
	Whitelist struct {
		// Enabled controls if the whitelist should be enforced for players
		// attempting to join.
		Enabled bool
		// File is the path to the whitelist TOML file that stores player
		// names.
		File string
	}
}

// Config converts a UserConfig to a Config, so that it may be used for creating
// a Server. An error is returned if creating data providers or loading the
// whitelist failed.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	if log == nil {
		log = slog.Default()
	}
	conf := Config{
		Log:              log,
		Name:             uc.Server.Name,
		Address:          uc.Network.Address,
		QueryAddress:     uc.Network.QueryAddress,
		MaxPlayers:       uc.Server.MaxPlayers,
		CompressionLevel: uc.Network.CompressionLevel,
		Spawn:            mgl64.Vec3{0.5, 4, 0.5},
		SpawnRadius:      int32(uc.World.SpawnRadius),
		World: world.Config{
			ReadOnly:         uc.World.ReadOnly,
			SpawnSendRadius:  uc.World.SendRadius,
			MinResidency:     time.Duration(uc.World.MinResidencySeconds) * time.Second,
			GracePeriod:      time.Duration(uc.World.GracePeriodSeconds) * time.Second,
			SaveInterval:     time.Duration(uc.World.SaveIntervalSeconds) * time.Second,
			PayloadCacheSize: uc.World.PayloadCacheSize,
			ForceLoadTimeout: time.Duration(uc.World.ForceLoadTimeoutSeconds) * time.Second,
		},
	}
	gen, spawnY, err := parseGenerator(uc.World.Generator)
	if err != nil {
		return conf, err
	}
	conf.World.Generator, conf.Spawn[1] = gen, spawnY

	wlFile := strings.TrimSpace(uc.Whitelist.File)
	if wlFile == "" {
		wlFile = "whitelist.toml"
	}
	wl, err := LoadWhitelist(wlFile)
	if err != nil {
		return conf, fmt.Errorf("load whitelist: %w", err)
	}
	wl.SetEnabled(uc.Whitelist.Enabled)
	conf.Allower = wl

	if uc.World.SaveData {
		db, err := mcdb.Config{Log: log, ReadOnly: uc.World.ReadOnly}.Open(uc.World.Folder)
		if err != nil {
			return conf, fmt.Errorf("create world provider: %w", err)
		}
		conf.World.Provider = db
		if uc.Server.Name != "" && !uc.World.ReadOnly {
			db.SetLevelName(uc.Server.Name)
		}
	}
	return conf, nil
}

// parseGenerator returns the generator with the name passed and the Y
// position players spawn at in worlds it generated.
func parseGenerator(name string) (world.Generator, float64, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "flat":
		return generator.DefaultFlat(), 4, nil
	case "ocean":
		o := generator.DefaultOcean()
		return o, float64(o.WaterHeight + 1), nil
	case "none", "void":
		return world.NopGenerator{}, 64, nil
	}
	return nil, 0, fmt.Errorf("unknown generator %q", name)
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Network.Address = ":8080"
	c.Network.QueryAddress = ":19132"
	c.Server.Name = "Adamant Server"
	c.World.SaveData = true
	c.World.Folder = "world"
	c.World.Generator = "flat"
	c.World.SpawnRadius = 4
	c.World.SendRadius = 4
	c.World.MinResidencySeconds = 30
	c.World.GracePeriodSeconds = 10
	c.World.SaveIntervalSeconds = 300
	c.World.PayloadCacheSize = 1024
	c.Whitelist.File = "whitelist.toml"
	return c
}

// ReadUserConfig reads the UserConfig stored at the path passed. The format
// is picked by the extension of the file: .yml and .yaml files are decoded as
// YAML and all other files as TOML. If no file exists at the path, it is
// created with the values of DefaultConfig.
func ReadUserConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		data, err := marshalConfig(path, c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %w", err)
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0777); err != nil {
				return c, fmt.Errorf("create config directory: %w", err)
			}
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return c, fmt.Errorf("create default config: %w", err)
		}
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := unmarshalConfig(path, data, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// isYAML checks if the file at the path passed holds YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

func marshalConfig(path string, c UserConfig) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(c)
	}
	return toml.Marshal(c)
}

func unmarshalConfig(path string, data []byte, c *UserConfig) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return toml.Unmarshal(data, c)
}
