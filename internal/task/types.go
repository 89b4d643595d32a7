package task

import (
	"time"

	"plancheck/internal/checklist"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CancelledMessage is the fixed user-facing message for a cancelled task.
// Cancellation reuses StatusFailed; the message preserves the distinction.
const CancelledMessage = "Task cancelled by user."

// ComplianceStatus is the verdict for a single requirement.
type ComplianceStatus string

const (
	Compliant          ComplianceStatus = "Compliant"
	NonCompliant       ComplianceStatus = "Non-Compliant"
	PartiallyCompliant ComplianceStatus = "Partially Compliant"
	NotChecked         ComplianceStatus = "Not Checked"
	CheckError         ComplianceStatus = "Error"
)

// ComplianceRow is the evaluation result for one requirement. Immutable once
// appended to a task's result list.
type ComplianceRow struct {
	RequirementID    string           `json:"requirement_id"`
	RequirementText  string           `json:"requirement_text"`
	RegulationSource string           `json:"regulation_source"`
	Category         string           `json:"category"`
	Severity         string           `json:"severity,omitempty"`
	CheckType        string           `json:"check_type,omitempty"`
	Status           ComplianceStatus `json:"status"`
	Evidence         string           `json:"evidence"`
	EvidencePages    []int            `json:"evidence_pages"`
	Remarks          string           `json:"remarks"`
}

// Summary holds per-status counts over a result list.
type Summary struct {
	Total              int     `json:"total"`
	Compliant          int     `json:"compliant"`
	NonCompliant       int     `json:"non_compliant"`
	PartiallyCompliant int     `json:"partially_compliant"`
	Error              int     `json:"error"`
	ComplianceRate     float64 `json:"compliance_rate"`
}

// Summarize computes per-status counts and the compliance rate over rows.
func Summarize(rows []ComplianceRow) Summary {
	s := Summary{Total: len(rows)}
	for _, row := range rows {
		switch row.Status {
		case Compliant:
			s.Compliant++
		case NonCompliant:
			s.NonCompliant++
		case PartiallyCompliant:
			s.PartiallyCompliant++
		case CheckError:
			s.Error++
		}
	}
	if s.Total > 0 {
		s.ComplianceRate = float64(s.Compliant) / float64(s.Total) * 100
	}
	return s
}

// Result is the structured payload attached to a task. LatestRow carries the
// most recent row on incremental events; Rows holds the full ordered list on
// the final event and in snapshots.
type Result struct {
	Rows      []ComplianceRow `json:"rows,omitempty"`
	LatestRow *ComplianceRow  `json:"latest_row,omitempty"`
	Summary   Summary         `json:"summary"`
}

// Task is the unit of orchestrated work. All mutation after creation goes
// through the Registry under its lock; the orchestrator goroutine is the
// single writer for the task's active lifetime.
type Task struct {
	ID             string    `json:"task_id"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	Message        string    `json:"message"`
	Result         *Result   `json:"result,omitempty"`
	ReportFilename string    `json:"report_filename,omitempty"`
	ReportPath     string    `json:"-"`
	ChecklistIDs   []string  `json:"checklist_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Event is one ordered increment of a task's advancing state. An empty Status
// means "unchanged"; Result may carry a partial or final payload.
type Event struct {
	TaskID   string  `json:"task_id"`
	Status   Status  `json:"status,omitempty"`
	Progress int     `json:"progress"`
	Message  string  `json:"message"`
	Result   *Result `json:"result,omitempty"`
}

// Update is a partial mutation applied to a task snapshot. Nil fields are
// left untouched; the last-update timestamp is always refreshed.
type Update struct {
	Status   *Status
	Progress *int
	Message  *string
	Result   *Result
}

// Record is the durable JSON artifact written when a run completes. It is
// the only task state that survives a process restart.
type Record struct {
	TaskID            string          `json:"task_id"`
	ReportFilename    string          `json:"report_filename,omitempty"`
	ChecklistIDs      []string        `json:"checklist_ids"`
	OutputReportTitle string          `json:"output_report_title,omitempty"`
	CompletedAt       time.Time       `json:"completed_at"`
	Status            Status          `json:"status"`
	Results           []ComplianceRow `json:"results"`
	Summary           Summary         `json:"summary"`
}

// Page is one extracted page of the submitted document.
type Page struct {
	Number int
	Text   string
}

// Chunk is one retrieved passage with page attribution.
type Chunk struct {
	Content string
	Page    int
}

// Verdict is what the evaluator returns for one requirement with context.
type Verdict struct {
	Status        ComplianceStatus
	Evidence      string
	EvidencePages []int
	Remarks       string
}

// Submission describes one compliance-check job. An empty ReportPath selects
// listing-only mode; the API layer resolves inline uploads and pre-registered
// document ids to a path before calling Submit.
type Submission struct {
	ReportPath     string
	ReportFilename string
	ChecklistIDs   []string
}

// Options configures a Manager.
type Options struct {
	DataDir            string
	MaxConcurrentTasks int
	RetrievalK         int
}

const (
	defaultMaxConcurrent = 3
	defaultRetrievalK    = 10
)

// consolidatedChecklist is the scratch merge of all selected checklists,
// written to disk for the duration of one run.
type consolidatedChecklist struct {
	ChecklistName string                  `json:"checklist_name"`
	Version       string                  `json:"version"`
	Requirements  []checklist.Requirement `json:"requirements"`
}
