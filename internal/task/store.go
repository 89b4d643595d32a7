package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	fileutil "plancheck/internal/file"
)

// RecordStore abstracts persistence of the durable per-task result record and
// the run-scoped consolidated-checklist scratch file. Default implementation
// is file-based under the data dir.
type RecordStore interface {
	SaveRecord(rec *Record) error
	LoadRecord(taskID string) (*Record, error)
	WriteScratch(taskID string, v any) (string, error)
	RemoveScratch(taskID string)
}

type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) RecordStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) resultsDir() string {
	return filepath.Join(s.dataDir, "results")
}

func (s *fileStore) recordPath(taskID string) string {
	return filepath.Join(s.resultsDir(), taskID+".json")
}

func (s *fileStore) scratchPath(taskID string) string {
	return filepath.Join(s.resultsDir(), taskID+"_requirements.json")
}

func (s *fileStore) SaveRecord(rec *Record) error {
	if err := fileutil.EnsureDir(s.resultsDir()); err != nil {
		return err
	}
	return fileutil.WriteJSONAtomic(s.recordPath(rec.TaskID), rec) //nolint:wrapcheck
}

func (s *fileStore) LoadRecord(taskID string) (*Record, error) {
	b, err := os.ReadFile(s.recordPath(taskID)) //nolint:gosec // path is controlled by application
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return &rec, nil
}

func (s *fileStore) WriteScratch(taskID string, v any) (string, error) {
	if err := fileutil.EnsureDir(s.resultsDir()); err != nil {
		return "", err
	}
	path := s.scratchPath(taskID)
	if err := fileutil.WriteJSONAtomic(path, v); err != nil {
		return "", err //nolint:wrapcheck
	}
	return path, nil
}

func (s *fileStore) RemoveScratch(taskID string) {
	_ = os.Remove(s.scratchPath(taskID))
}
