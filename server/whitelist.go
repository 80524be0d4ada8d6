package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/dm-vev/adamant/server/session"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml"
)

var (
	// ErrWhitelistUnavailable is returned when the whitelist is not configured.
	ErrWhitelistUnavailable = errors.New("whitelist is not configured")
	// ErrWhitelistInvalidName is returned when an invalid player name is
	// provided to a whitelist operation.
	ErrWhitelistInvalidName = errors.New("invalid player name")
)

// Whitelist controls which players are allowed to connect. Entries are
// persisted in a TOML file.
type Whitelist struct {
	mu       sync.RWMutex
	players  map[string]string
	filePath string
	enabled  bool
}

var _ session.Allower = (*Whitelist)(nil)

type whitelistFile struct {
	Players []string `toml:"players"`
}

// LoadWhitelist loads the whitelist stored in the file at the path passed. If
// the file does not exist yet, it is created with an empty player list.
func LoadWhitelist(path string) (*Whitelist, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("whitelist path must not be empty")
	}
	w := &Whitelist{players: make(map[string]string), filePath: path}

	contents, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return w, w.write()
	} else if err != nil {
		return nil, fmt.Errorf("read whitelist: %w", err)
	}
	var data whitelistFile
	if len(contents) != 0 {
		if err := toml.Unmarshal(contents, &data); err != nil {
			return nil, fmt.Errorf("decode whitelist: %w", err)
		}
	}
	for _, name := range data.Players {
		if name = strings.TrimSpace(name); name != "" {
			w.players[strings.ToLower(name)] = name
		}
	}
	return w, nil
}

// Enabled reports if the whitelist is currently enforced.
func (w *Whitelist) Enabled() bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled updates whether the whitelist is enforced.
func (w *Whitelist) SetEnabled(enabled bool) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.enabled = enabled
	w.mu.Unlock()
}

// Allow only allows players on the whitelist to connect if it is enabled.
func (w *Whitelist) Allow(_ uuid.UUID, name string) (string, bool) {
	if w == nil {
		return "", true
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.enabled {
		return "", true
	}
	if _, ok := w.players[strings.ToLower(strings.TrimSpace(name))]; !ok {
		return "You are not whitelisted on this server.", false
	}
	return "", true
}

// Add inserts the name passed into the whitelist. The bool returned is true
// if the name was newly added.
func (w *Whitelist) Add(name string) (bool, error) {
	if w == nil {
		return false, ErrWhitelistUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrWhitelistInvalidName
	}
	key := strings.ToLower(name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.players[key]; ok {
		return false, nil
	}
	w.players[key] = name
	if err := w.write(); err != nil {
		delete(w.players, key)
		return false, err
	}
	return true, nil
}

// Remove deletes the name passed from the whitelist. The bool returned is true
// if the name was on the whitelist.
func (w *Whitelist) Remove(name string) (bool, error) {
	if w == nil {
		return false, ErrWhitelistUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrWhitelistInvalidName
	}
	key := strings.ToLower(name)

	w.mu.Lock()
	defer w.mu.Unlock()
	original, ok := w.players[key]
	if !ok {
		return false, nil
	}
	delete(w.players, key)
	if err := w.write(); err != nil {
		w.players[key] = original
		return false, err
	}
	return true, nil
}

// Players returns the names on the whitelist, sorted case-insensitively.
func (w *Whitelist) Players() []string {
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sortedNames()
}

// write writes the whitelist to its file. w.mu must be held.
func (w *Whitelist) write() error {
	if dir := filepath.Dir(w.filePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return fmt.Errorf("create whitelist directory: %w", err)
		}
	}
	encoded, err := toml.Marshal(whitelistFile{Players: w.sortedNames()})
	if err != nil {
		return fmt.Errorf("encode whitelist: %w", err)
	}
	if err := os.WriteFile(w.filePath, encoded, 0644); err != nil {
		return fmt.Errorf("write whitelist: %w", err)
	}
	return nil
}

func (w *Whitelist) sortedNames() []string {
	names := make([]string, 0, len(w.players))
	for _, name := range w.players {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return names
}
