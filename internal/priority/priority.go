// Package priority maintains the operator-edited list of high-priority players.
//
// The list is a flat text file with one "player_id,rarity" entry per line. Blank lines and
// lines starting with '#' are ignored.
package priority

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sorare-trading-bot/internal/model"
)

const fileHeader = "# Format: player_id,rarity\n# Example: 0x123456789abcdef,limited\n"

// ErrInvalidEntry is returned for empty player ids or rarities.
var ErrInvalidEntry = errors.New("priority: player id and rarity are required")

// List is the in-memory index of the high-priority file.
type List struct {
	mu      sync.RWMutex
	path    string
	players map[string]string
	// stamp of the file as last read or written by this List.
	modTime time.Time
	size    int64
	logger  zerolog.Logger
}

// Open loads the file at path, creating it with a commented header when missing.
func Open(path string, logger zerolog.Logger) (*List, error) {
	l := &List{
		path:    path,
		players: make(map[string]string),
		logger:  logger.With().Str("component", "priority_list").Logger(),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create priority dir: %w", err)
			}
		}
		if err := os.WriteFile(path, []byte(fileHeader), 0o644); err != nil {
			return nil, fmt.Errorf("create priority file: %w", err)
		}
		l.logger.Info().Str("path", path).Msg("created high-priority players file")
		l.stamp()
		return l, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat priority file: %w", err)
	}

	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *List) load() error {
	players, err := l.parse()
	if err != nil {
		return err
	}
	l.players = players
	l.stamp()
	l.logger.Info().Int("players", len(l.players)).Msg("loaded high-priority players")
	return nil
}

func (l *List) parse() (map[string]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open priority file: %w", err)
	}
	defer f.Close()

	players := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			l.logger.Warn().Int("line", lineNum).Str("content", line).Msg("skipping malformed priority entry")
			continue
		}
		players[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read priority file: %w", err)
	}
	return players, nil
}

// stamp records the file's current modification time and size. Caller holds mu or owns l.
func (l *List) stamp() {
	info, err := os.Stat(l.path)
	if err != nil {
		return
	}
	l.modTime, l.size = info.ModTime(), info.Size()
}

// Reload rereads the file unconditionally. On error the previous entries are kept.
func (l *List) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Refresh rereads the file when another process changed it since it was last read or
// written here. It reports whether the entries were reloaded.
func (l *List) Refresh() (bool, error) {
	info, err := os.Stat(l.path)
	if err != nil {
		return false, fmt.Errorf("stat priority file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if info.ModTime().Equal(l.modTime) && info.Size() == l.size {
		return false, nil
	}
	if err := l.load(); err != nil {
		return false, err
	}
	return true, nil
}

// Contains reports whether a player is high priority, whatever the rarity.
func (l *List) Contains(playerID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.players[playerID]
	return ok
}

// Rarity returns the rarity tracked for a player.
func (l *List) Rarity(playerID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.players[playerID]
	return r, ok
}

// Assets returns the list sorted by player id.
func (l *List) Assets() []model.Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Asset, 0, len(l.players))
	for id, rarity := range l.players {
		out = append(out, model.Asset{PlayerID: id, Rarity: rarity})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// Add appends a player to the file. Adding a known player with a new rarity rewrites the file.
func (l *List) Add(playerID, rarity string) error {
	playerID, rarity = strings.TrimSpace(playerID), strings.TrimSpace(rarity)
	if playerID == "" || rarity == "" || strings.Contains(playerID, ",") {
		return ErrInvalidEntry
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.players[playerID]; ok {
		if current == rarity {
			return nil
		}
		next := l.copyPlayers()
		next[playerID] = rarity
		if err := l.rewrite(next); err != nil {
			return err
		}
		l.players = next
		l.logger.Info().Str("player_id", playerID).Str("rarity", rarity).Msg("high-priority rarity changed")
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open priority file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s,%s\n", playerID, rarity); err != nil {
		f.Close()
		return fmt.Errorf("append priority entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close priority file: %w", err)
	}

	l.players[playerID] = rarity
	l.stamp()
	l.logger.Info().Str("player_id", playerID).Str("rarity", rarity).Msg("high-priority player added")
	return nil
}

// Remove drops a player and rewrites the file. It reports whether the player was listed.
func (l *List) Remove(playerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.players[playerID]; !ok {
		return false, nil
	}
	next := l.copyPlayers()
	delete(next, playerID)
	if err := l.rewrite(next); err != nil {
		return false, err
	}
	l.players = next
	l.logger.Info().Str("player_id", playerID).Msg("high-priority player removed")
	return true, nil
}

func (l *List) copyPlayers() map[string]string {
	out := make(map[string]string, len(l.players))
	for id, rarity := range l.players {
		out[id] = rarity
	}
	return out
}

// rewrite keeps comments and replaces the entries with players, going through a temp
// file and rename.
func (l *List) rewrite(players map[string]string) error {
	raw, err := os.ReadFile(l.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read priority file: %w", err)
	}

	var b strings.Builder
	written := make(map[string]bool, len(players))
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			b.WriteString(line + "\n")
			continue
		}
		id := strings.TrimSpace(strings.SplitN(trimmed, ",", 2)[0])
		rarity, ok := players[id]
		if !ok || written[id] {
			continue
		}
		written[id] = true
		b.WriteString(id + "," + rarity + "\n")
	}
	ids := make([]string, 0, len(players))
	for id := range players {
		if !written[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.WriteString(id + "," + players[id] + "\n")
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write priority temp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace priority file: %w", err)
	}
	l.stamp()
	return nil
}
