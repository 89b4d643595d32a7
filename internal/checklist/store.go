package checklist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("checklist not found")

// Store serves read-only checklist definitions loaded from disk. Safe for
// concurrent readers; LoadAll is called once at startup.
type Store struct {
	mu         sync.RWMutex
	checklists map[string]*Checklist
}

func NewStore() *Store {
	return &Store{checklists: make(map[string]*Checklist)}
}

// LoadAll scans dir for *.json checklist definitions. Files missing a name or
// a non-empty requirement list are skipped with a warning; a missing directory
// is created and yields zero checklists. Returns the number of checklists loaded.
func (s *Store) LoadAll(dir string) (int, error) {
	if dir == "" {
		return 0, errors.New("empty checklists dir")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
				return 0, fmt.Errorf("create checklists dir: %w", mkErr)
			}
			log.Warn().Str("dir", dir).Msg("checklists dir missing, created empty")
			return 0, nil
		}
		return 0, fmt.Errorf("read checklists dir: %w", err)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		cl, err := parseFile(path)
		if err != nil {
			log.Warn().Str("file", e.Name()).Err(err).Msg("skipping invalid checklist file")
			continue
		}
		s.mu.Lock()
		s.checklists[cl.ID] = cl
		s.mu.Unlock()
		loaded++
		log.Info().Str("checklist_id", cl.ID).Str("name", cl.Name).
			Int("requirements", len(cl.Requirements)).Msg("checklist loaded")
	}
	log.Info().Int("count", loaded).Str("dir", dir).Msg("checklist loading complete")
	return loaded, nil
}

func parseFile(path string) (*Checklist, error) {
	b, err := os.ReadFile(path) //nolint:gosec // path comes from a scanned app-owned dir
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var cl Checklist
	if err := json.Unmarshal(b, &cl); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if cl.Name == "" {
		return nil, errors.New("missing checklist_name")
	}
	if len(cl.Requirements) == 0 {
		return nil, errors.New("empty requirements list")
	}
	// The file stem is the stable id, as with the persisted definitions.
	cl.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cl.Filename = filepath.Base(path)
	if info, err := os.Stat(path); err == nil {
		cl.LoadedAt = info.ModTime()
	}
	return &cl, nil
}

// Get returns the checklist for id or ErrNotFound.
func (s *Store) Get(id string) (*Checklist, error) {
	s.mu.RLock()
	cl, ok := s.checklists[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cl, nil
}

// List returns all loaded checklists ordered by id.
func (s *Store) List() []*Checklist {
	s.mu.RLock()
	out := make([]*Checklist, 0, len(s.checklists))
	for _, cl := range s.checklists {
		out = append(out, cl)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
