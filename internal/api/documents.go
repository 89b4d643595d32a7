package api

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"plancheck/internal/file"

	"github.com/google/uuid"
)

var (
	errDocumentNotFound = errors.New("document not found")
	errNotPDF           = errors.New("only .pdf files are accepted")
)

// Document is one uploaded report available for matching by id.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Pages      int       `json:"pages"`
	UploadedAt time.Time `json:"uploaded_at"`

	path string
}

// PageCounter reports how many pages a stored PDF has.
type PageCounter interface {
	PageCount(path string) (int, error)
}

// DocumentStore keeps uploaded report PDFs under uploadsDir and their
// metadata in memory. Uploads are written atomically so a half-written file
// is never served to the pipeline.
type DocumentStore struct {
	uploadsDir string
	pages      PageCounter

	mu   sync.RWMutex
	docs map[string]*Document
}

func NewDocumentStore(uploadsDir string, pages PageCounter) *DocumentStore {
	return &DocumentStore{
		uploadsDir: uploadsDir,
		pages:      pages,
		docs:       make(map[string]*Document),
	}
}

// Save stores the uploaded PDF under a fresh id and returns its metadata.
func (s *DocumentStore) Save(filename string, size int64, r io.Reader) (*Document, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, errNotPDF
	}

	id := uuid.NewString()
	path := filepath.Join(s.uploadsDir, id+".pdf")
	if err := file.CopyAtomic(path, r); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	pages := 0
	if s.pages != nil {
		n, err := s.pages.PageCount(path)
		if err != nil {
			return nil, fmt.Errorf("read uploaded pdf: %w", err)
		}
		pages = n
	}

	doc := &Document{
		ID:         id,
		Filename:   filepath.Base(filename),
		Size:       size,
		Pages:      pages,
		UploadedAt: time.Now().UTC(),
		path:       path,
	}

	s.mu.Lock()
	s.docs[id] = doc
	s.mu.Unlock()
	return doc, nil
}

func (s *DocumentStore) Get(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, errDocumentNotFound
	}
	return doc, nil
}

// List returns all uploads, newest first.
func (s *DocumentStore) List() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out
}
