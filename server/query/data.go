package query

import (
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// Data summarises the information returned by the query responder.
type Data struct {
	// HostName is the public server name.
	HostName string
	// WorldName holds the name of the world run by the server.
	WorldName string
	// Engine identifies the software that powers the server. When empty the
	// engine label of the build is used.
	Engine string
	// Version is the protocol version string advertised. Defaults to
	// protocol.CurrentVersion.
	Version string
	// PlayerCount reports the amount of online players.
	PlayerCount int
	// MaxPlayers is the configured player capacity.
	MaxPlayers int
	// PlayerNames lists the names of online players in sorted order.
	PlayerNames []string
	// WhitelistEnabled indicates whether the server whitelist is enabled.
	WhitelistEnabled bool
	// TPS is the average amount of ticks per second of the world.
	TPS float64
	// LoadedChunks is the amount of chunks in memory.
	LoadedChunks int
}

// ProviderFunc produces the Data served by a Listener. It is called for every
// information request and must be safe to call from any goroutine.
type ProviderFunc func() Data

type keyValue struct {
	key   string
	value string
}

// keyValues converts Data into the ordered key/value pairs required by the
// query protocol.
func (d Data) keyValues(host string, port int) []keyValue {
	if host == "" {
		host = "0.0.0.0"
	}
	if d.Engine == "" {
		d.Engine = engineLabel
	}
	if d.Version == "" {
		d.Version = protocol.CurrentVersion
	}
	whitelist := "off"
	if d.WhitelistEnabled {
		whitelist = "on"
	}
	values := []keyValue{
		{"hostname", d.HostName},
		{"gametype", "SMP"},
		{"game_id", "MINECRAFT"},
		{"version", d.Version},
		{"server_engine", d.Engine},
	}
	if d.WorldName != "" {
		values = append(values, keyValue{"map", d.WorldName})
	}
	values = append(values,
		keyValue{"numplayers", strconv.Itoa(d.PlayerCount)},
		keyValue{"maxplayers", strconv.Itoa(d.MaxPlayers)},
		keyValue{"whitelist", whitelist},
		keyValue{"hostport", strconv.Itoa(port)},
		keyValue{"hostip", host},
		keyValue{"tps", strconv.FormatFloat(d.TPS, 'f', 2, 64)},
		keyValue{"loaded_chunks", strconv.Itoa(d.LoadedChunks)},
	)
	if len(d.PlayerNames) > 0 {
		values = append(values, keyValue{"players", strings.Join(d.PlayerNames, ", ")})
	}
	return values
}

var engineLabel = buildEngineLabel()

// buildEngineLabel inspects build metadata to determine the engine label that
// is reported through the query interface.
func buildEngineLabel() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return "Adamant"
	}
	version := info.Main.Version
	if version == "" {
		version = "dev"
	}
	return "Adamant (" + version + ")"
}
