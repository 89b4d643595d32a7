package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"plancheck/internal/checklist"
)

type fakeExtractor struct {
	pages []Page
	err   error
}

func (f *fakeExtractor) ExtractPages(ctx context.Context, path string, progress func(current, total int)) ([]Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.pages {
		progress(i+1, len(f.pages))
	}
	return f.pages, nil
}

type fakeIndex struct {
	chunks []Chunk
}

func (f *fakeIndex) Search(ctx context.Context, query string, k int) ([]Chunk, error) {
	return f.chunks, nil
}

type fakeIndexer struct {
	index Index
	err   error
}

func (f *fakeIndexer) BuildIndex(ctx context.Context, pages []Page) (Index, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.index, nil
}

type fakeEvaluator struct {
	fn func(ctx context.Context, req checklist.Requirement, chunks []Chunk) (Verdict, error)
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, req checklist.Requirement, chunks []Chunk) (Verdict, error) {
	return f.fn(ctx, req, chunks)
}

func writeChecklistFile(t *testing.T, dir, id string, reqCount int) {
	t.Helper()
	var reqs []string
	for i := 1; i <= reqCount; i++ {
		reqs = append(reqs, fmt.Sprintf(`{
			"id": "R%d",
			"requirement": "Requirement %d text",
			"regulation_source": "HKC Reg %d",
			"category": "General",
			"search_keywords": ["keyword%d"],
			"severity": "major"
		}`, i, i, i, i))
	}
	content := fmt.Sprintf(`{
		"checklist_name": "Test Checklist %s",
		"version": "1.0",
		"output_report_title": "Test Compliance Report",
		"requirements": [%s]
	}`, id, strings.Join(reqs, ","))
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0o600); err != nil {
		t.Fatalf("write checklist fixture: %v", err)
	}
}

func newTestStore(t *testing.T, ids map[string]int) *checklist.Store {
	t.Helper()
	dir := t.TempDir()
	for id, n := range ids {
		writeChecklistFile(t, dir, id, n)
	}
	store := checklist.NewStore()
	if _, err := store.LoadAll(dir); err != nil {
		t.Fatalf("load checklists: %v", err)
	}
	return store
}

func newTestManager(t *testing.T, store *checklist.Store, collab Collaborators) *Manager {
	t.Helper()
	return NewManager(store, collab, Options{
		DataDir:            t.TempDir(),
		MaxConcurrentTasks: 1,
	})
}

func waitTerminal(t *testing.T, m *Manager, id string) Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := m.Registry().Get(id)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if got.Status.Terminal() {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for task %s to finish", id)
	return Task{}
}

func TestSubmitUnknownChecklistCreatesNoTask(t *testing.T) {
	store := newTestStore(t, map[string]int{"hkc": 2})
	m := newTestManager(t, store, Collaborators{})

	_, err := m.Submit(Submission{ChecklistIDs: []string{"hkc", "missing"}})
	if !errors.Is(err, ErrChecklistNotFound) {
		t.Fatalf("expected ErrChecklistNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Fatalf("error should name the unknown id, got %v", err)
	}
	if got := m.Registry().List(); len(got) != 0 {
		t.Fatalf("rejected submission must not create a task, got %d", len(got))
	}
}

func TestSubmitWithoutChecklists(t *testing.T) {
	store := newTestStore(t, nil)
	m := newTestManager(t, store, Collaborators{})
	if _, err := m.Submit(Submission{}); !errors.Is(err, ErrNoChecklists) {
		t.Fatalf("expected ErrNoChecklists, got %v", err)
	}
}

func TestListingOnlyFlow(t *testing.T) {
	store := newTestStore(t, map[string]int{"hkc": 3})
	m := newTestManager(t, store, Collaborators{})

	id, err := m.Submit(Submission{ChecklistIDs: []string{"hkc"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitTerminal(t, m, id)
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	if got.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", got.Progress)
	}
	if got.Result == nil || len(got.Result.Rows) != 3 {
		t.Fatalf("expected 3 result rows, got %+v", got.Result)
	}
	for _, row := range got.Result.Rows {
		if row.Status != NotChecked {
			t.Fatalf("listing mode must not evaluate, got status %s", row.Status)
		}
		if row.Evidence != "No report provided" {
			t.Fatalf("unexpected evidence %q", row.Evidence)
		}
	}
	if got.Result.Summary.ComplianceRate != 0 {
		t.Fatalf("listing mode compliance rate must be 0, got %f", got.Result.Summary.ComplianceRate)
	}

	rec, err := m.Records().LoadRecord(id)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.OutputReportTitle != "Test Compliance Report" {
		t.Fatalf("single checklist keeps its own title, got %q", rec.OutputReportTitle)
	}
	if len(rec.Results) != 3 || rec.Status != StatusCompleted {
		t.Fatalf("record mismatch: %+v", rec)
	}
}

func TestConsolidatedTitleForMultipleChecklists(t *testing.T) {
	store := newTestStore(t, map[string]int{"a": 1, "b": 1})
	m := newTestManager(t, store, Collaborators{})

	id, err := m.Submit(Submission{ChecklistIDs: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, m, id)

	rec, err := m.Records().LoadRecord(id)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec.OutputReportTitle != "Consolidated Compliance Report" {
		t.Fatalf("expected consolidated title, got %q", rec.OutputReportTitle)
	}
	if len(rec.Results) != 2 {
		t.Fatalf("requirements of both checklists expected, got %d rows", len(rec.Results))
	}
}

func TestCheckDocumentFlowMixedVerdicts(t *testing.T) {
	store := newTestStore(t, map[string]int{"hkc": 3})
	collab := Collaborators{
		Extractor: &fakeExtractor{pages: []Page{{Number: 1, Text: "p1"}, {Number: 2, Text: "p2"}}},
		Indexer:   &fakeIndexer{index: &fakeIndex{chunks: []Chunk{{Content: "c", Page: 1}}}},
		Evaluator: &fakeEvaluator{fn: func(_ context.Context, req checklist.Requirement, _ []Chunk) (Verdict, error) {
			switch req.ID {
			case "R1":
				return Verdict{Status: Compliant, Evidence: "found it", EvidencePages: []int{1}}, nil
			case "R2":
				return Verdict{Status: NonCompliant, Remarks: "missing"}, nil
			default:
				return Verdict{}, errors.New("llm boom")
			}
		}},
	}
	m := newTestManager(t, store, collab)

	id, err := m.Submit(Submission{ReportPath: "/tmp/report.pdf", ReportFilename: "report.pdf", ChecklistIDs: []string{"hkc"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitTerminal(t, m, id)
	if got.Status != StatusCompleted {
		t.Fatalf("one failing requirement must not fail the task, got %s (%s)", got.Status, got.Message)
	}

	rows := got.Result.Rows
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Status != Compliant || rows[1].Status != NonCompliant || rows[2].Status != CheckError {
		t.Fatalf("unexpected statuses: %s %s %s", rows[0].Status, rows[1].Status, rows[2].Status)
	}
	if !strings.Contains(rows[2].Evidence, "llm boom") {
		t.Fatalf("error row should carry the cause, got %q", rows[2].Evidence)
	}

	s := got.Result.Summary
	if s.Total != 3 || s.Compliant != 1 || s.NonCompliant != 1 || s.Error != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.ComplianceRate < 33.3 || s.ComplianceRate > 33.4 {
		t.Fatalf("expected compliance rate ~33.3, got %f", s.ComplianceRate)
	}
}

func TestExtractionFailureFailsTask(t *testing.T) {
	store := newTestStore(t, map[string]int{"hkc": 1})
	collab := Collaborators{
		Extractor: &fakeExtractor{err: errors.New("corrupt pdf")},
	}
	m := newTestManager(t, store, collab)

	id, err := m.Submit(Submission{ReportPath: "/tmp/report.pdf", ChecklistIDs: []string{"hkc"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitTerminal(t, m, id)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.Message, "corrupt pdf") {
		t.Fatalf("failure message should carry the cause, got %q", got.Message)
	}
	if _, err := m.Records().LoadRecord(id); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("failed task must not persist a record, got %v", err)
	}
}

func TestCancellationMidRun(t *testing.T) {
	store := newTestStore(t, map[string]int{"hkc": 5})
	started := make(chan struct{})
	var once bool
	collab := Collaborators{
		Extractor: &fakeExtractor{pages: []Page{{Number: 1, Text: "p1"}}},
		Indexer:   &fakeIndexer{index: &fakeIndex{}},
		Evaluator: &fakeEvaluator{fn: func(ctx context.Context, _ checklist.Requirement, _ []Chunk) (Verdict, error) {
			if !once {
				once = true
				close(started)
			}
			<-ctx.Done()
			return Verdict{}, ctx.Err()
		}},
	}
	m := newTestManager(t, store, collab)

	id, err := m.Submit(Submission{ReportPath: "/tmp/report.pdf", ChecklistIDs: []string{"hkc"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-started
	if err := m.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := waitTerminal(t, m, id)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed after cancel, got %s", got.Status)
	}
	if got.Message != CancelledMessage {
		t.Fatalf("expected %q, got %q", CancelledMessage, got.Message)
	}
	if _, err := m.Records().LoadRecord(id); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("cancelled task must not persist a record, got %v", err)
	}
	if err := m.Cancel(id); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("second cancel on terminal task, expected ErrNotCancellable, got %v", err)
	}
}

func TestStreamOrderAndMonotonicProgress(t *testing.T) {
	store := newTestStore(t, map[string]int{"hkc": 4})
	// holds the run until the test has the channel in hand
	release := make(chan struct{})
	collab := Collaborators{
		Extractor: &fakeExtractor{pages: []Page{{Number: 1, Text: "p1"}, {Number: 2, Text: "p2"}, {Number: 3, Text: "p3"}}},
		Indexer:   &fakeIndexer{index: &fakeIndex{}},
		Evaluator: &fakeEvaluator{fn: func(context.Context, checklist.Requirement, []Chunk) (Verdict, error) {
			<-release
			return Verdict{Status: Compliant}, nil
		}},
	}
	m := newTestManager(t, store, collab)

	id, err := m.Submit(Submission{ReportPath: "/tmp/report.pdf", ChecklistIDs: []string{"hkc"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ch, err := m.Registry().Channel(id)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	close(release)

	stop := make(chan struct{})
	defer close(stop)

	var events []Event
	for ev := range ch.Subscribe(stop) {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatalf("expected events before the stream ended")
	}

	prev := -1
	for _, ev := range events {
		if ev.Progress < prev {
			t.Fatalf("progress went backwards: %d after %d (%s)", ev.Progress, prev, ev.Message)
		}
		prev = ev.Progress
	}

	last := events[len(events)-1]
	if last.Status != StatusCompleted || last.Progress != 100 {
		t.Fatalf("final event must be terminal at 100, got %+v", last)
	}
	if last.Result == nil || len(last.Result.Rows) != 4 {
		t.Fatalf("final event carries the full result list, got %+v", last.Result)
	}

	snapshot, _ := m.Registry().Get(id)
	if snapshot.Status != last.Status || snapshot.Progress != last.Progress {
		t.Fatalf("snapshot and stream disagree: %+v vs %+v", snapshot, last)
	}
}

func TestScratchFileRemovedAfterRun(t *testing.T) {
	store := newTestStore(t, map[string]int{"hkc": 1})
	dataDir := t.TempDir()
	m := NewManager(store, Collaborators{}, Options{DataDir: dataDir, MaxConcurrentTasks: 1})

	id, err := m.Submit(Submission{ChecklistIDs: []string{"hkc"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, m, id)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !m.WaitAll(ctx) {
		t.Fatalf("workers did not finish")
	}

	scratch := filepath.Join(dataDir, "results", id+"_requirements.json")
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Fatalf("scratch file should be removed after the run, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "results", id+".json")); err != nil {
		t.Fatalf("durable record should exist: %v", err)
	}
}
