package console

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/metrics"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dm-vev/adamant/server"
)

type command struct {
	description string
	usage       string
	run         func(srv *server.Server, args []string, o *Output)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":      {description: "Lists all commands.", usage: "help", run: runHelp},
		"status":    {description: "Displays server performance statistics.", usage: "status", run: runStatus},
		"save":      {description: "Saves all modified chunks.", usage: "save", run: runSave},
		"stop":      {description: "Stops the server.", usage: "stop", run: runStop},
		"whitelist": {description: "Manages the whitelist.", usage: "whitelist <add|remove> <player> | whitelist <list|on|off>", run: runWhitelist},
	}
}

func runHelp(_ *server.Server, _ []string, o *Output) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		o.Printf("%s: %s Usage: %s", name, commands[name].description, commands[name].usage)
	}
}

func runStatus(srv *server.Server, _ []string, o *Output) {
	s := srv.Status()
	if s.Uptime != "" {
		o.Printf("Uptime: %s", s.Uptime)
	}
	if s.MaxPlayers > 0 {
		o.Printf("Players: %d/%d", s.Players, s.MaxPlayers)
	} else {
		o.Printf("Players: %d", s.Players)
	}
	o.Printf("World: %s | Chunks: %d | Tick: %d", srv.World().Name(), s.LoadedChunks, s.Tick)
	if s.TPS > 0 {
		o.Printf("TPS (avg): %.2f / 20.00", s.TPS)
	} else {
		o.Print("TPS (avg): collecting samples...")
	}
	m := s.Metrics
	o.Printf("Chunks loaded: %d (%d failed) | generated: %d | saved: %d (%d failed) | evicted: %d", m.Loads, m.LoadFailures, m.Generated, m.Saves, m.SaveFailures, m.Evictions)
	o.Printf("Chunks packaged: %d | payload hits: %d | block updates: %d random, %d scheduled, %d skipped", m.Packaged, m.PayloadHits, m.RandomUpdates, m.ScheduledUpdates, m.SkippedUpdates)
	o.Printf("Worker queue: %d | saturation warnings: %d | recovered panics: %d", m.QueueSize, m.QueueSaturation, m.Panics)

	if cpuLoad, ready := sampleAverageCPULoad(); ready {
		o.Printf("CPU load (per core): %.2f%% across %d cores", cpuLoad, runtime.NumCPU())
	} else {
		o.Print("CPU load: collecting baseline, try again shortly.")
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	lastGC := "never"
	if mem.LastGC != 0 {
		lastGC = fmt.Sprintf("%s ago", time.Since(time.Unix(0, int64(mem.LastGC))).Round(time.Second))
	}
	o.Printf("Memory: %.2f MiB heap used / %.2f MiB reserved", bytesToMiB(mem.HeapAlloc), bytesToMiB(mem.HeapSys))
	o.Printf("Goroutines: %d | GC cycles: %d | Last GC: %s", runtime.NumGoroutine(), mem.NumGC, lastGC)
}

func runSave(srv *server.Server, _ []string, o *Output) {
	srv.World().Save()
	o.Print("Queued all modified chunks for saving.")
}

func runStop(srv *server.Server, _ []string, o *Output) {
	o.Print("Stopping server...")
	if err := srv.Close(); err != nil {
		o.Error(err)
	}
	o.stop = true
}

func runWhitelist(srv *server.Server, args []string, o *Output) {
	wl := srv.Whitelist()
	if wl == nil {
		o.Error(server.ErrWhitelistUnavailable)
		return
	}
	if len(args) == 0 {
		o.Errorf("Usage: %s", commands["whitelist"].usage)
		return
	}
	switch strings.ToLower(args[0]) {
	case "list":
		status := "enabled"
		if !wl.Enabled() {
			status = "disabled"
		}
		entries := wl.Players()
		o.Printf("Whitelist (%s): %d player(s).", status, len(entries))
		if len(entries) != 0 {
			o.Print(strings.Join(entries, ", "))
		}
	case "on", "off":
		wl.SetEnabled(args[0] == "on")
		o.Printf("Whitelist turned %s.", args[0])
	case "add", "remove":
		name := strings.Join(args[1:], " ")
		var (
			changed bool
			err     error
		)
		if args[0] == "add" {
			changed, err = wl.Add(name)
		} else {
			changed, err = wl.Remove(name)
		}
		switch {
		case errors.Is(err, server.ErrWhitelistInvalidName):
			o.Errorf("Invalid player name: %q", name)
		case err != nil:
			o.Error(err)
		case changed && args[0] == "add":
			o.Printf("Added %s to the whitelist.", name)
		case changed:
			o.Printf("Removed %s from the whitelist.", name)
		case args[0] == "add":
			o.Printf("%s is already on the whitelist.", name)
		default:
			o.Printf("%s is not on the whitelist.", name)
		}
	default:
		o.Errorf("Usage: %s", commands["whitelist"].usage)
	}
}

var (
	cpuSampleMu       sync.Mutex
	cpuSampleLastTime time.Time
	cpuSampleLastUsed float64
)

// sampleAverageCPULoad returns the CPU load since the last call. The bool
// returned is false for the first sample.
func sampleAverageCPULoad() (float64, bool) {
	samples := []metrics.Sample{{Name: "/cpu/classes/total:cpu-seconds"}}
	metrics.Read(samples)
	if samples[0].Value.Kind() != metrics.KindFloat64 {
		return 0, false
	}
	total := samples[0].Value.Float64()
	now := time.Now()

	cpuSampleMu.Lock()
	defer cpuSampleMu.Unlock()

	ready := !cpuSampleLastTime.IsZero()
	deltaTime := now.Sub(cpuSampleLastTime).Seconds()
	deltaUsed := total - cpuSampleLastUsed
	cpuSampleLastTime, cpuSampleLastUsed = now, total

	if !ready || deltaTime <= 0 || deltaUsed < 0 {
		return 0, false
	}
	return min(max(deltaUsed/deltaTime/float64(runtime.NumCPU())*100, 0), 100), true
}

func bytesToMiB(v uint64) float64 {
	return float64(v) / (1024 * 1024)
}
