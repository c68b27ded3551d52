// Package file is a rule and template store backed by one YAML or JSON
// document. Watch turns edits of the document into rule and template
// commands so running engines pick them up without a restart.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/gyaneshwarpardhi/cep/internal/rules"
	"github.com/gyaneshwarpardhi/cep/internal/templates"
)

// Document is the on-disk layout.
type Document struct {
	Rules     []rules.Doc           `yaml:"rules" json:"rules"`
	Templates []*templates.Template `yaml:"templates" json:"templates"`
}

// Changes are the commands that turn one document revision into the next.
type Changes struct {
	Rules     []rules.Command
	Templates []templates.Command
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool { return len(c.Rules) == 0 && len(c.Templates) == 0 }

// Store implements rules.Store and templates.Store.
type Store struct {
	path     string
	logger   *slog.Logger
	mu       sync.RWMutex
	current  *Document
	onChange []func(Changes)
}

// New creates a store for path. Nothing is read until Connect or Reload.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: filepath.Clean(path), logger: logger}
}

// Connect reads the document.
func (s *Store) Connect(context.Context) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = doc
	s.mu.Unlock()
	return nil
}

func (s *Store) Disconnect(context.Context) error { return nil }

// Document returns the last document read.
func (s *Store) Document() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) docs() ([]rules.Doc, error) {
	doc := s.Document()
	if doc == nil {
		return nil, fmt.Errorf("rule file %s not loaded", s.path)
	}
	return doc.Rules, nil
}

func (s *Store) ListRules(context.Context) (map[uint16]*rules.Rule, error) {
	docs, err := s.docs()
	if err != nil {
		return nil, err
	}
	out := make(map[uint16]*rules.Rule, len(docs))
	for _, d := range docs {
		r, err := rules.FromDoc(d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		out[r.ID] = r
	}
	return out, nil
}

func (s *Store) ListGroupedRules(context.Context) (map[string]map[uint16]*rules.Rule, error) {
	docs, err := s.docs()
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[uint16]*rules.Rule)
	for _, d := range docs {
		r, err := rules.FromDoc(d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		g, ok := out[r.Group]
		if !ok {
			g = make(map[uint16]*rules.Rule)
			out[r.Group] = g
		}
		g[r.ID] = r
	}
	return out, nil
}

func (s *Store) GetAllTemplates(context.Context) (map[uint16]*templates.Template, error) {
	doc := s.Document()
	if doc == nil {
		return nil, fmt.Errorf("template file %s not loaded", s.path)
	}
	out := make(map[uint16]*templates.Template, len(doc.Templates))
	for _, t := range doc.Templates {
		out[t.ID] = t
	}
	return out, nil
}

// OnChange registers a callback invoked with the commands of every reload.
func (s *Store) OnChange(fn func(Changes)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Watch starts a background goroutine that reloads the document on file
// changes. The directory is watched so editors that replace the file are
// followed. Call the returned stop function to clean up.
func (s *Store) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rule file watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("rule file watcher add %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := s.Reload(); err != nil {
						s.logger.Warn("rule file reload failed, keeping previous revision", "path", s.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("rule file watcher error", "path", s.path, "err", err)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload re-reads the document and notifies callbacks with the difference
// to the previous revision.
func (s *Store) Reload() (Changes, error) {
	doc, err := s.load()
	if err != nil {
		return Changes{}, err
	}
	s.mu.Lock()
	prev := s.current
	s.current = doc
	callbacks := make([]func(Changes), len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	changes, err := Diff(prev, doc)
	if err != nil {
		return Changes{}, err
	}
	if changes.Empty() {
		return changes, nil
	}
	s.logger.Info("rule file changed", "path", s.path, "rule_commands", len(changes.Rules), "template_commands", len(changes.Templates))
	for _, fn := range callbacks {
		fn(changes)
	}
	return changes, nil
}

func (s *Store) load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", s.path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", s.path, err)
	}
	seen := make(map[ruleKey]bool, len(doc.Rules))
	for _, d := range doc.Rules {
		k := ruleKey{d.Group, d.ID}
		if seen[k] {
			return nil, fmt.Errorf("rule file %s: duplicate rule %d in group %q", s.path, d.ID, d.Group)
		}
		seen[k] = true
	}
	return &doc, nil
}

type ruleKey struct {
	group string
	id    uint16
}

// Diff computes the commands that turn prev into next. A nil prev is an
// empty document.
func Diff(prev, next *Document) (Changes, error) {
	if prev == nil {
		prev = &Document{}
	}
	var out Changes

	old := make(map[ruleKey][]byte, len(prev.Rules))
	for _, d := range prev.Rules {
		b, err := json.Marshal(d)
		if err != nil {
			return Changes{}, err
		}
		old[ruleKey{d.Group, d.ID}] = b
	}
	for _, d := range next.Rules {
		b, err := json.Marshal(d)
		if err != nil {
			return Changes{}, err
		}
		k := ruleKey{d.Group, d.ID}
		if ob, ok := old[k]; !ok || !bytes.Equal(ob, b) {
			out.Rules = append(out.Rules, rules.Command{Group: d.Group, Content: string(b)})
		}
		delete(old, k)
	}
	for _, d := range prev.Rules {
		k := ruleKey{d.Group, d.ID}
		if _, gone := old[k]; gone {
			out.Rules = append(out.Rules, rules.Command{Group: d.Group, Content: fmt.Sprintf(`{"id":%d}`, d.ID), Delete: true})
		}
	}

	oldT := make(map[uint16][]byte, len(prev.Templates))
	for _, t := range prev.Templates {
		b, err := json.Marshal(t)
		if err != nil {
			return Changes{}, err
		}
		oldT[t.ID] = b
	}
	for _, t := range next.Templates {
		b, err := json.Marshal(t)
		if err != nil {
			return Changes{}, err
		}
		if ob, ok := oldT[t.ID]; !ok || !bytes.Equal(ob, b) {
			out.Templates = append(out.Templates, templates.Command{Content: string(b)})
		}
		delete(oldT, t.ID)
	}
	for _, t := range prev.Templates {
		if _, gone := oldT[t.ID]; gone {
			out.Templates = append(out.Templates, templates.Command{Content: fmt.Sprintf(`{"id":%d}`, t.ID), Delete: true})
		}
	}
	return out, nil
}
