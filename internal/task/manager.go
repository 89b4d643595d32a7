package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"plancheck/internal/checklist"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Extractor converts a PDF into ordered page texts, reporting extraction
// progress through the callback.
type Extractor interface {
	ExtractPages(ctx context.Context, path string, progress func(current, total int)) ([]Page, error)
}

// Index answers top-k similarity queries over an indexed document.
type Index interface {
	Search(ctx context.Context, query string, k int) ([]Chunk, error)
}

// Indexer builds a searchable index over extracted pages.
type Indexer interface {
	BuildIndex(ctx context.Context, pages []Page) (Index, error)
}

// Evaluator judges one requirement against its retrieved context. A returned
// error means the check itself failed, distinct from a negative finding.
type Evaluator interface {
	Evaluate(ctx context.Context, req checklist.Requirement, chunks []Chunk) (Verdict, error)
}

// Collaborators groups the external services a Manager drives. Tests inject
// fakes here.
type Collaborators struct {
	Extractor Extractor
	Indexer   Indexer
	Evaluator Evaluator
}

// Manager owns the lifecycle of compliance-check tasks: it validates
// submissions, schedules one orchestrator goroutine per task, and is the sole
// writer of a task's snapshot while the run is active.
type Manager struct {
	registry   *Registry
	checklists *checklist.Store
	records    RecordStore
	collab     Collaborators
	semaphore  chan struct{}
	workersWG  sync.WaitGroup
	retrievalK int

	mu      sync.Mutex
	baseCtx context.Context
}

// NewManager wires a manager over the given checklist store and collaborators.
func NewManager(checklists *checklist.Store, collab Collaborators, opts Options) *Manager {
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = defaultMaxConcurrent
	}
	if opts.RetrievalK <= 0 {
		opts.RetrievalK = defaultRetrievalK
	}
	return &Manager{
		registry:   NewRegistry(),
		checklists: checklists,
		records:    NewFileStore(opts.DataDir),
		collab:     collab,
		semaphore:  make(chan struct{}, opts.MaxConcurrentTasks),
		retrievalK: opts.RetrievalK,
		baseCtx:    context.Background(),
	}
}

// Registry exposes the task directory for the API layer.
func (m *Manager) Registry() *Registry { return m.registry }

// Records exposes the durable record store for the report endpoints.
func (m *Manager) Records() RecordStore { return m.records }

// SetBaseContext sets the context all task runs derive from. Intended to be
// set at startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

func (m *Manager) base() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}

// Submit validates the submission, creates a pending task with its progress
// channel and cancellation handle, and schedules the orchestration goroutine.
// It returns the new task id immediately regardless of document size or
// requirement count.
func (m *Manager) Submit(sub Submission) (string, error) {
	if len(sub.ChecklistIDs) == 0 {
		return "", ErrNoChecklists
	}
	reqs := make([]checklist.Requirement, 0)
	var title string
	for _, id := range sub.ChecklistIDs {
		cl, err := m.checklists.Get(id)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrChecklistNotFound, id)
		}
		reqs = append(reqs, cl.Requirements...)
		title = cl.OutputReportTitle
	}
	if len(sub.ChecklistIDs) != 1 {
		title = "Consolidated Compliance Report"
	}

	now := time.Now()
	t := &Task{
		ID:             uuid.NewString(),
		Status:         StatusPending,
		Progress:       0,
		Message:        "Task created, starting processing...",
		ReportFilename: sub.ReportFilename,
		ReportPath:     sub.ReportPath,
		ChecklistIDs:   sub.ChecklistIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ch := NewProgressChannel()
	runCtx, cancel := context.WithCancel(m.base())

	m.registry.Create(t)
	m.registry.AttachChannel(t.ID, ch)
	m.registry.AttachCancel(t.ID, cancel)

	log.Info().Str("task_id", t.ID).Strs("checklist_ids", sub.ChecklistIDs).
		Bool("has_document", sub.ReportPath != "").Int("requirements", len(reqs)).
		Msg("task submitted")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer cancel()
		m.run(runCtx, t.ID, ch, reqs, title)
	}()
	return t.ID, nil
}

// Cancel requests cooperative cancellation of a running task.
func (m *Manager) Cancel(taskID string) error {
	return m.registry.Cancel(taskID)
}

// WaitAll blocks until all in-flight orchestrator goroutines finish or the
// context is done. Returns false on timeout.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// emit mirrors the event into the registry snapshot, then hands it to the
// live channel. Mirror-then-publish keeps a polling client and a streaming
// client from ever observing contradictory states for the same step.
func (m *Manager) emit(ch *ProgressChannel, ev Event) {
	upd := Update{Progress: &ev.Progress, Message: &ev.Message, Result: ev.Result}
	if ev.Status != "" {
		upd.Status = &ev.Status
	}
	if err := m.registry.Update(ev.TaskID, upd); err != nil {
		log.Warn().Str("task_id", ev.TaskID).Err(err).Msg("snapshot update failed")
	}
	ch.Publish(ev)
}
