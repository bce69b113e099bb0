package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

type Category string

const (
	CategoryCCTV      Category = "cctv"
	CategoryStatus    Category = "status"
	CategoryDown      Category = "down"
	CategoryBroadcast Category = "broadcast"

	// AllToken selects every category in subscribe and unsubscribe requests.
	AllToken = "all"
)

var Categories = []Category{CategoryCCTV, CategoryStatus, CategoryDown, CategoryBroadcast}

// ParseCategories maps request tokens to categories in token order. Unknown
// tokens are ignored; all reports whether the "all" token was present.
func ParseCategories(tokens []string) (cats []Category, all bool) {
	seen := make(map[Category]struct{}, len(Categories))
	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == AllToken {
			all = true
			continue
		}
		for _, c := range Categories {
			if string(c) != token {
				continue
			}
			if _, dup := seen[c]; !dup {
				seen[c] = struct{}{}
				cats = append(cats, c)
			}
		}
	}
	return cats, all
}

// Subscriber is a chat recipient with one flag per category. The JSON field
// names match the files written by earlier deployments.
type Subscriber struct {
	ChatID    string `json:"-"`
	CCTV      bool   `json:"cctv_sub"`
	Status    bool   `json:"status_sub"`
	Down      bool   `json:"down_sub"`
	Broadcast bool   `json:"broadcast_sub"`
}

// NewSubscriber returns a subscriber with the default categories (broadcast only).
func NewSubscriber(chatID string) Subscriber {
	return Subscriber{ChatID: chatID, Broadcast: true}
}

func (s Subscriber) Has(c Category) bool {
	switch c {
	case CategoryCCTV:
		return s.CCTV
	case CategoryStatus:
		return s.Status
	case CategoryDown:
		return s.Down
	case CategoryBroadcast:
		return s.Broadcast
	default:
		return false
	}
}

func (s *Subscriber) set(c Category, value bool) {
	switch c {
	case CategoryCCTV:
		s.CCTV = value
	case CategoryStatus:
		s.Status = value
	case CategoryDown:
		s.Down = value
	case CategoryBroadcast:
		s.Broadcast = value
	}
}

func (s *Subscriber) setAll(value bool) {
	for _, c := range Categories {
		s.set(c, value)
	}
}

// Subscribers is the set of notification recipients keyed by chat id, kept in
// registration order.
type Subscribers struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	items []Subscriber
}

func LoadSubscribers(path string) (*Subscribers, error) {
	s := &Subscribers{path: path, logger: slog.Default()}

	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}
	if data == nil {
		return s, nil
	}

	if trimmed := bytes.TrimSpace(data); trimmed[0] == '[' {
		if err := s.migrateList(trimmed); err != nil {
			return nil, err
		}
		return s, nil
	}

	entries, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("parse subscribers %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		chatID := strings.TrimSpace(e.Key)
		if chatID == "" {
			continue
		}
		if _, dup := seen[chatID]; dup {
			continue
		}
		var sub Subscriber
		if err := json.Unmarshal(e.Value, &sub); err != nil {
			return nil, fmt.Errorf("parse subscriber %q: %w", e.Key, err)
		}
		sub.ChatID = chatID
		seen[chatID] = struct{}{}
		s.items = append(s.items, sub)
	}
	return s, nil
}

// migrateList loads the deprecated flat list-of-chat-ids format. Each id gets
// the default categories; the file is rewritten on the next mutation.
func (s *Subscribers) migrateList(data []byte) error {
	var ids []json.RawMessage
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("parse legacy subscribers %s: %w", s.path, err)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		chatID := strings.Trim(strings.TrimSpace(string(raw)), `"`)
		if chatID == "" {
			continue
		}
		if _, dup := seen[chatID]; dup {
			continue
		}
		seen[chatID] = struct{}{}
		s.items = append(s.items, NewSubscriber(chatID))
	}
	s.logger.Info("migrated legacy subscriber list", "path", s.path, "count", len(s.items))
	return nil
}

// Subscribe enables the requested categories for chatID. An unknown chat is
// created: with the default categories when the request names none, otherwise
// with exactly the requested ones. A known chat only gains categories.
// The returned bool reports whether the subscriber was created.
func (s *Subscribers) Subscribe(chatID string, tokens []string) (Subscriber, bool, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return Subscriber{}, false, fmt.Errorf("chat id is required: %w", ErrInvalid)
	}
	cats, all := ParseCategories(tokens)
	explicit := all || len(cats) > 0

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(chatID)
	created := idx < 0
	var sub Subscriber
	switch {
	case !created:
		sub = s.items[idx]
	case explicit:
		sub = Subscriber{ChatID: chatID}
	default:
		sub = NewSubscriber(chatID)
	}

	if all {
		sub.setAll(true)
	}
	for _, c := range cats {
		sub.set(c, true)
	}

	if !created && sub == s.items[idx] {
		return sub, false, nil
	}

	next := s.with(idx, sub)
	if err := s.persist(next); err != nil {
		return Subscriber{}, false, err
	}
	s.items = next
	return sub, created, nil
}

// Unsubscribe turns the requested categories off for chatID. A request with
// no tokens or with "all" deletes the subscriber; the returned bool reports
// whether that happened.
func (s *Subscribers) Unsubscribe(chatID string, tokens []string) (Subscriber, bool, error) {
	chatID = strings.TrimSpace(chatID)
	cats, all := ParseCategories(tokens)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(chatID)
	if idx < 0 {
		return Subscriber{}, false, fmt.Errorf("subscriber %q: %w", chatID, ErrNotFound)
	}

	if all || len(tokens) == 0 {
		removed := s.items[idx]
		next := make([]Subscriber, 0, len(s.items)-1)
		next = append(next, s.items[:idx]...)
		next = append(next, s.items[idx+1:]...)
		if err := s.persist(next); err != nil {
			return Subscriber{}, false, err
		}
		s.items = next
		return removed, true, nil
	}

	sub := s.items[idx]
	for _, c := range cats {
		sub.set(c, false)
	}
	if sub == s.items[idx] {
		return sub, false, nil
	}
	next := s.with(idx, sub)
	if err := s.persist(next); err != nil {
		return Subscriber{}, false, err
	}
	s.items = next
	return sub, false, nil
}

// ListMatching returns the chat ids subscribed to c, in registry order.
func (s *Subscribers) ListMatching(c Category) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.items))
	for _, sub := range s.items {
		if sub.Has(c) {
			out = append(out, sub.ChatID)
		}
	}
	return out
}

func (s *Subscribers) Get(chatID string) (Subscriber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(strings.TrimSpace(chatID))
	if idx < 0 {
		return Subscriber{}, false
	}
	return s.items[idx], true
}

func (s *Subscribers) List() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Subscriber(nil), s.items...)
}

func (s *Subscribers) indexOf(chatID string) int {
	for i, sub := range s.items {
		if sub.ChatID == chatID {
			return i
		}
	}
	return -1
}

// with returns a copy of the items with sub stored at idx, or appended when idx < 0.
func (s *Subscribers) with(idx int, sub Subscriber) []Subscriber {
	next := make([]Subscriber, len(s.items), len(s.items)+1)
	copy(next, s.items)
	if idx < 0 {
		return append(next, sub)
	}
	next[idx] = sub
	return next
}

func (s *Subscribers) persist(items []Subscriber) error {
	entries := make([]entry, 0, len(items))
	for _, sub := range items {
		value, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		entries = append(entries, entry{Key: sub.ChatID, Value: value})
	}
	if err := writeObject(s.path, entries); err != nil {
		return fmt.Errorf("persist subscribers: %w", err)
	}
	return nil
}
