package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"plancheck/internal/checklist"

	"github.com/rs/zerolog/log"
)

// Progress bands. Extraction maps its own callback into the 5-15 band, the
// per-requirement loop scales linearly over its remaining band.
const (
	progressReceived  = 2
	progressIndexing  = 5
	progressChunking  = 15
	progressIndexed   = 20
	progressCheckSpan = 75
	progressListBase  = 5
	progressListSpan  = 90
	progressDone      = 100
)

// run drives one compliance-check job end to end. It is the sole error
// boundary for the task: per-requirement failures become Error rows, anything
// else terminates the run as failed. Teardown always publishes the sentinel
// and releases the task's live resources.
func (m *Manager) run(ctx context.Context, taskID string, ch *ProgressChannel, reqs []checklist.Requirement, reportTitle string) {
	defer func() {
		ch.Close()
		m.registry.DetachChannel(taskID)
		m.registry.DetachCancel(taskID)
		m.records.RemoveScratch(taskID)
		log.Info().Str("task_id", taskID).Msg("task resources released")
	}()

	// Wait for a processing slot; submission stays O(1).
	select {
	case m.semaphore <- struct{}{}:
	case <-ctx.Done():
		m.finishCancelled(taskID, ch)
		return
	}
	defer func() { <-m.semaphore }()

	err := m.process(ctx, taskID, ch, reqs, reportTitle)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		m.finishCancelled(taskID, ch)
	default:
		log.Error().Str("task_id", taskID).Err(err).Msg("task failed")
		m.finishFailed(taskID, ch, err.Error())
	}
}

func (m *Manager) process(ctx context.Context, taskID string, ch *ProgressChannel, reqs []checklist.Requirement, reportTitle string) error {
	snapshot, err := m.registry.Get(taskID)
	if err != nil {
		return err
	}

	m.emit(ch, Event{
		TaskID:   taskID,
		Status:   StatusProcessing,
		Progress: progressReceived,
		Message:  "File received. Initializing processing...",
	})

	scratch := consolidatedChecklist{
		ChecklistName: "Consolidated Checklist",
		Version:       "1.0",
		Requirements:  reqs,
	}
	if _, err := m.records.WriteScratch(taskID, &scratch); err != nil {
		return fmt.Errorf("write consolidated checklist: %w", err)
	}

	var rows []ComplianceRow
	if snapshot.ReportPath == "" {
		rows, err = m.listOnly(ctx, taskID, ch, reqs)
	} else {
		rows, err = m.checkDocument(ctx, taskID, ch, snapshot.ReportPath, reqs)
	}
	if err != nil {
		return err
	}

	summary := Summarize(rows)
	if snapshot.ReportPath == "" {
		// Nothing was evaluated; the rate stays zero by definition.
		summary.ComplianceRate = 0
	}

	rec := &Record{
		TaskID:            taskID,
		ReportFilename:    snapshot.ReportFilename,
		ChecklistIDs:      snapshot.ChecklistIDs,
		OutputReportTitle: reportTitle,
		CompletedAt:       time.Now(),
		Status:            StatusCompleted,
		Results:           rows,
		Summary:           summary,
	}
	if err := m.records.SaveRecord(rec); err != nil {
		return fmt.Errorf("persist result record: %w", err)
	}
	log.Info().Str("task_id", taskID).Int("rows", len(rows)).
		Float64("compliance_rate", summary.ComplianceRate).Msg("result record saved")

	m.emit(ch, Event{
		TaskID:   taskID,
		Status:   StatusCompleted,
		Progress: progressDone,
		Message:  "Compliance check complete.",
		Result:   &Result{Rows: rows, Summary: summary},
	})
	return nil
}

// listOnly synthesizes a Not Checked row per requirement when no document was
// supplied, emitting one event per row.
func (m *Manager) listOnly(ctx context.Context, taskID string, ch *ProgressChannel, reqs []checklist.Requirement) ([]ComplianceRow, error) {
	m.emit(ch, Event{
		TaskID:   taskID,
		Status:   StatusProcessing,
		Progress: progressListBase,
		Message:  "Processing selected checklist(s) (no report supplied)...",
	})

	total := len(reqs)
	rows := make([]ComplianceRow, 0, total)
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := ComplianceRow{
			RequirementID:    req.ID,
			RequirementText:  req.Requirement,
			RegulationSource: req.RegulationSource,
			Category:         req.Category,
			Severity:         req.Severity,
			CheckType:        req.CheckType,
			Status:           NotChecked,
			Evidence:         "No report provided",
			EvidencePages:    []int{},
			Remarks:          "No document supplied; requirement listed only.",
		}
		rows = append(rows, row)

		progress := progressDone
		if total > 0 {
			progress = progressListBase + (i+1)*progressListSpan/total
		}
		m.emit(ch, Event{
			TaskID:   taskID,
			Status:   StatusProcessing,
			Progress: progress,
			Message:  fmt.Sprintf("Listed requirement %d/%d: %s", i+1, total, req.ID),
			Result:   &Result{LatestRow: &row, Summary: Summarize(rows)},
		})
	}
	return rows, nil
}

// checkDocument indexes the report once, then evaluates each requirement
// against its own retrieved context. A failure inside one requirement never
// aborts the task; it is recorded as an Error row and the loop continues.
func (m *Manager) checkDocument(ctx context.Context, taskID string, ch *ProgressChannel, reportPath string, reqs []checklist.Requirement) ([]ComplianceRow, error) {
	m.emit(ch, Event{TaskID: taskID, Status: StatusProcessing, Progress: progressIndexing, Message: "Indexing report..."})

	pages, err := m.collab.Extractor.ExtractPages(ctx, reportPath, func(current, total int) {
		progress := progressIndexing
		if total > 0 {
			progress = progressIndexing + current*(progressChunking-progressIndexing)/total
		}
		m.emit(ch, Event{
			TaskID:   taskID,
			Status:   StatusProcessing,
			Progress: progress,
			Message:  fmt.Sprintf("Indexing: Extracting page %d/%d", current, total),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("extract report: %w", err)
	}

	m.emit(ch, Event{TaskID: taskID, Status: StatusProcessing, Progress: progressChunking, Message: "Chunking document and creating vector embeddings..."})
	index, err := m.collab.Indexer.BuildIndex(ctx, pages)
	if err != nil {
		return nil, fmt.Errorf("build report index: %w", err)
	}
	m.emit(ch, Event{
		TaskID:   taskID,
		Status:   StatusProcessing,
		Progress: progressIndexed,
		Message:  fmt.Sprintf("Report indexed (%d pages). Starting analysis...", len(pages)),
	})

	total := len(reqs)
	rows := make([]ComplianceRow, 0, total)
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := m.checkRequirement(ctx, index, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			log.Warn().Str("task_id", taskID).Str("requirement_id", req.ID).Err(err).Msg("requirement check failed")
			row = errorRow(req, err)
		}
		rows = append(rows, row)

		progress := progressIndexed
		if total > 0 {
			progress = progressIndexed + (i+1)*progressCheckSpan/total
		}
		message := fmt.Sprintf("Checked requirement %d/%d: %s", i+1, total, req.ID)
		if row.Status == CheckError {
			message = fmt.Sprintf("Error checking requirement %d/%d", i+1, total)
		}
		m.emit(ch, Event{
			TaskID:   taskID,
			Status:   StatusProcessing,
			Progress: progress,
			Message:  message,
			Result:   &Result{LatestRow: &row, Summary: Summarize(rows)},
		})
	}
	return rows, nil
}

// checkRequirement retrieves targeted context for one requirement and asks
// the evaluator for a verdict.
func (m *Manager) checkRequirement(ctx context.Context, index Index, req checklist.Requirement) (ComplianceRow, error) {
	query := req.Requirement
	if len(req.SearchKeywords) > 0 {
		query += "\nKeywords: " + strings.Join(req.SearchKeywords, ", ")
	}
	chunks, err := index.Search(ctx, query, m.retrievalK)
	if err != nil {
		return ComplianceRow{}, fmt.Errorf("retrieve context: %w", err)
	}
	verdict, err := m.collab.Evaluator.Evaluate(ctx, req, chunks)
	if err != nil {
		return ComplianceRow{}, fmt.Errorf("evaluate: %w", err)
	}
	pages := verdict.EvidencePages
	if pages == nil {
		pages = []int{}
	}
	return ComplianceRow{
		RequirementID:    req.ID,
		RequirementText:  req.Requirement,
		RegulationSource: req.RegulationSource,
		Category:         req.Category,
		Severity:         req.Severity,
		CheckType:        req.CheckType,
		Status:           verdict.Status,
		Evidence:         verdict.Evidence,
		EvidencePages:    pages,
		Remarks:          verdict.Remarks,
	}, nil
}

func errorRow(req checklist.Requirement, err error) ComplianceRow {
	return ComplianceRow{
		RequirementID:    req.ID,
		RequirementText:  req.Requirement,
		RegulationSource: req.RegulationSource,
		Category:         req.Category,
		Severity:         req.Severity,
		CheckType:        req.CheckType,
		Status:           CheckError,
		Evidence:         "Error during checking: " + err.Error(),
		EvidencePages:    []int{},
		Remarks:          "An error occurred during compliance checking",
	}
}

// finishCancelled finalizes a cancelled run. No completed record is written;
// the task's progress is left where it was.
func (m *Manager) finishCancelled(taskID string, ch *ProgressChannel) {
	log.Warn().Str("task_id", taskID).Msg("task cancelled")
	m.finishFailed(taskID, ch, CancelledMessage)
}

func (m *Manager) finishFailed(taskID string, ch *ProgressChannel, msg string) {
	progress := 0
	if snapshot, err := m.registry.Get(taskID); err == nil {
		progress = snapshot.Progress
	}
	m.emit(ch, Event{
		TaskID:   taskID,
		Status:   StatusFailed,
		Progress: progress,
		Message:  msg,
	})
}
