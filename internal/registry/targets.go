package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"statusbot/internal/util"
)

// Target is a monitored endpoint. Name is unique in capitalized form.
type Target struct {
	Name    string
	Address string
}

// Targets is the set of monitored targets, persisted as a flat name→address
// JSON object and kept in insertion order.
type Targets struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	items []Target
}

// NormalizeName maps a user-supplied target name to its registry key.
func NormalizeName(name string) string {
	return util.Capitalize(name)
}

func LoadTargets(path string) (*Targets, error) {
	t := &Targets{path: path, logger: slog.Default()}

	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	if data == nil {
		return t, nil
	}
	entries, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("parse targets %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		var address string
		if err := json.Unmarshal(e.Value, &address); err != nil {
			return nil, fmt.Errorf("parse target %q: %w", e.Key, err)
		}
		name := NormalizeName(e.Key)
		address = strings.TrimSpace(address)
		if name == "" || address == "" {
			t.logger.Warn("skipping invalid target entry", "name", e.Key)
			continue
		}
		if _, dup := seen[name]; dup {
			t.logger.Warn("skipping duplicate target entry", "name", e.Key)
			continue
		}
		seen[name] = struct{}{}
		t.items = append(t.items, Target{Name: name, Address: address})
	}
	return t, nil
}

// Add registers a target. The file is rewritten before the in-memory set
// changes; on a write error the registry is left as it was.
func (t *Targets) Add(name, address string) (Target, error) {
	target := Target{Name: NormalizeName(name), Address: strings.TrimSpace(address)}
	if target.Name == "" || target.Address == "" {
		return Target{}, fmt.Errorf("target name and address are required: %w", ErrInvalid)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexOf(target.Name) >= 0 {
		return Target{}, fmt.Errorf("target %q: %w", target.Name, ErrAlreadyExists)
	}

	next := make([]Target, 0, len(t.items)+1)
	next = append(next, t.items...)
	next = append(next, target)
	if err := t.persist(next); err != nil {
		return Target{}, err
	}
	t.items = next
	return target, nil
}

func (t *Targets) Remove(name string) (Target, error) {
	key := NormalizeName(name)

	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexOf(key)
	if idx < 0 {
		return Target{}, fmt.Errorf("target %q: %w", key, ErrNotFound)
	}

	removed := t.items[idx]
	next := make([]Target, 0, len(t.items)-1)
	next = append(next, t.items[:idx]...)
	next = append(next, t.items[idx+1:]...)
	if err := t.persist(next); err != nil {
		return Target{}, err
	}
	t.items = next
	return removed, nil
}

func (t *Targets) Get(name string) (Target, bool) {
	key := NormalizeName(name)

	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.indexOf(key)
	if idx < 0 {
		return Target{}, false
	}
	return t.items[idx], true
}

// List returns a copy of the targets in insertion order.
func (t *Targets) List() []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Target(nil), t.items...)
}

func (t *Targets) indexOf(name string) int {
	for i, item := range t.items {
		if item.Name == name {
			return i
		}
	}
	return -1
}

func (t *Targets) persist(items []Target) error {
	entries := make([]entry, 0, len(items))
	for _, item := range items {
		value, err := json.Marshal(item.Address)
		if err != nil {
			return err
		}
		entries = append(entries, entry{Key: item.Name, Value: value})
	}
	if err := writeObject(t.path, entries); err != nil {
		return fmt.Errorf("persist targets: %w", err)
	}
	return nil
}
