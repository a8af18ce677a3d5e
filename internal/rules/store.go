// Package rules persists per-site and per-URL volume rules and resolves the
// rule matching a tab's URL. The store is a single JSON document on disk,
// reloaded automatically when an external tool rewrites the file.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New("rule not found")

type Scope string

const (
	ScopeDomain Scope = "domain"
	ScopeURL    Scope = "url"
)

// Rule maps a domain or exact URL to a volume percentage.
type Rule struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Volume int    `json:"volume"`
	Scope  Scope  `json:"scope"`
}

type document struct {
	Rules []Rule `json:"rules"`
}

// Store manages the rule document on disk.
type Store struct {
	path string

	mu        sync.RWMutex
	rules     []Rule
	saving    bool
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewStore loads (or initializes) the rule file at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rules store: mkdir: %w", err)
	}
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.rules = nil
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("rules store: read: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("rules store: unmarshal: %w", err)
	}

	s.mu.Lock()
	s.rules = doc.Rules
	s.mu.Unlock()
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(document{Rules: s.rules}, "", "  ")
	if err != nil {
		return fmt.Errorf("rules store: marshal: %w", err)
	}
	s.saving = true
	defer func() { s.saving = false }()
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("rules store: write: %w", err)
	}
	return nil
}

// Watch reloads the store when the rule file changes on disk. Call Close to
// stop the watcher.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules store: watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("rules store: watch dir: %w", err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.watchDone = make(chan struct{})
	done := s.watchDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				s.mu.RLock()
				self := s.saving
				s.mu.RUnlock()
				if self {
					continue
				}
				if err := s.load(); err != nil {
					slog.Warn("rules reload failed", "path", s.path, "error", err)
					continue
				}
				slog.Info("rules reloaded from disk", "path", s.path, "count", len(s.List()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("rules watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if started.
func (s *Store) Close() error {
	s.mu.Lock()
	watcher := s.watcher
	done := s.watchDone
	s.watcher = nil
	s.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}

// List returns all rules in stored order.
func (s *Store) List() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Put saves a rule, replacing any existing rule for the same key and scope.
func (s *Store) Put(key string, volume int, scope Scope) (Rule, error) {
	if key == "" {
		return Rule{}, errors.New("rule key is required")
	}
	if scope != ScopeDomain && scope != ScopeURL {
		return Rule{}, fmt.Errorf("invalid rule scope %q", scope)
	}

	rule := Rule{ID: ulid.Make().String(), Key: key, Volume: volume, Scope: scope}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rules[:0]
	for _, r := range s.rules {
		if r.Key != key || r.Scope != scope {
			kept = append(kept, r)
		}
	}
	s.rules = append(kept, rule)
	if err := s.saveLocked(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// Delete removes a rule by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return s.saveLocked()
		}
	}
	return ErrNotFound
}

// ReplaceAll swaps in an imported rule set. Rules without ids are assigned
// fresh ones; unknown scopes are rejected.
func (s *Store) ReplaceAll(rules []Rule) error {
	for i := range rules {
		if rules[i].Scope != ScopeDomain && rules[i].Scope != ScopeURL {
			return fmt.Errorf("invalid rule scope %q at index %d", rules[i].Scope, i)
		}
		if rules[i].ID == "" {
			rules[i].ID = ulid.Make().String()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
	return s.saveLocked()
}

// Export returns the rule document as indented JSON.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.MarshalIndent(document{Rules: s.rules}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rules store: marshal: %w", err)
	}
	return data, nil
}
