// Package api exposes the compliance-check service over HTTP: checklist
// discovery, document upload, task submission and the live progress stream.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"plancheck/internal/checklist"
	"plancheck/internal/report"
	"plancheck/internal/task"
)

type checklistSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"checklist_name"`
	Version      string    `json:"version"`
	Regulations  []string  `json:"regulations,omitempty"`
	Requirements int       `json:"requirements_count"`
	LoadedAt     time.Time `json:"loaded_at"`
}

type API struct {
	manager    *task.Manager
	checklists *checklist.Store
	documents  *DocumentStore
}

func NewAPI(manager *task.Manager, checklists *checklist.Store, documents *DocumentStore) *API {
	return &API{manager: manager, checklists: checklists, documents: documents}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", a.Health)

	api := router.Group("/api/v1")
	{
		api.GET("/checklists", a.ListChecklists)
		api.GET("/checklists/:id", a.GetChecklist)
		api.POST("/documents", a.UploadDocument)
		api.GET("/documents", a.ListDocuments)
		api.POST("/match", a.Match)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.GET("/tasks/:id/stream", a.StreamTask)
		api.POST("/tasks/:id/cancel", a.CancelTask)
		api.GET("/tasks/:id/report", a.DownloadReport)
		api.GET("/tasks/:id/result", a.GetResult)
	}
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListChecklists returns a summary per loaded checklist
func (a *API) ListChecklists(c *gin.Context) {
	all := a.checklists.List()
	out := make([]checklistSummary, 0, len(all))
	for _, cl := range all {
		out = append(out, checklistSummary{
			ID:           cl.ID,
			Name:         cl.Name,
			Version:      cl.Version,
			Regulations:  cl.Regulations,
			Requirements: len(cl.Requirements),
			LoadedAt:     cl.LoadedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"checklists": out})
}

// GetChecklist returns the full checklist including its requirements
func (a *API) GetChecklist(c *gin.Context) {
	id := c.Param("id")
	cl, err := a.checklists.Get(id)
	if err != nil {
		log.Warn().Str("checklist_id", id).Msg("checklist not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "checklist not found"})
		return
	}
	c.JSON(http.StatusOK, cl)
}

// UploadDocument stores a report PDF for later matching by id
func (a *API) UploadDocument(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	src, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	defer func() { _ = src.Close() }()

	doc, err := a.documents.Save(fh.Filename, fh.Size, src)
	if err != nil {
		if errors.Is(err, errNotPDF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("filename", fh.Filename).Msg("failed to store upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}
	log.Info().Str("document_id", doc.ID).Str("filename", doc.Filename).Int("pages", doc.Pages).Msg("document uploaded")
	c.JSON(http.StatusCreated, doc)
}

// ListDocuments returns uploaded document metadata, newest first
func (a *API) ListDocuments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"documents": a.documents.List()})
}

// Match submits a compliance-check job. The report comes either inline as the
// multipart `report` file or via `document_id` referencing an earlier upload;
// with neither, the task lists the selected requirements without checking.
func (a *API) Match(c *gin.Context) {
	ids, ok := a.parseChecklistIDs(c)
	if !ok {
		return
	}

	sub := task.Submission{ChecklistIDs: ids}

	fh, fileErr := c.FormFile("report")
	docID := c.PostForm("document_id")

	switch {
	case fileErr == nil && docID != "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide either an inline report or document_id, not both"})
		return
	case fileErr == nil:
		src, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
			return
		}
		doc, err := a.documents.Save(fh.Filename, fh.Size, src)
		_ = src.Close()
		if err != nil {
			if errors.Is(err, errNotPDF) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Error().Err(err).Msg("failed to store inline report")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store report"})
			return
		}
		sub.ReportPath = doc.path
		sub.ReportFilename = doc.Filename
	case docID != "":
		doc, err := a.documents.Get(docID)
		if err != nil {
			log.Warn().Str("document_id", docID).Msg("document not found on match")
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		sub.ReportPath = doc.path
		sub.ReportFilename = doc.Filename
	}

	taskID, err := a.manager.Submit(sub)
	if err != nil {
		if errors.Is(err, task.ErrChecklistNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Warn().Err(err).Msg("match submission rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshot, err := a.manager.Registry().Get(taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "task vanished after submit"})
		return
	}
	log.Info().Str("task_id", taskID).Strs("checklist_ids", ids).Bool("has_report", sub.ReportPath != "").Msg("match task created")
	c.JSON(http.StatusCreated, snapshot)
}

func (a *API) parseChecklistIDs(c *gin.Context) ([]string, bool) {
	raw := c.PostForm("checklist_ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checklist_ids is required"})
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checklist_ids must be a JSON array of strings"})
		return nil, false
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "checklist_ids must not be empty"})
		return nil, false
	}
	return ids, true
}

// ListTasks returns all task snapshots, newest first
func (a *API) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": a.manager.Registry().List()})
}

// GetTask returns the current task snapshot
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	snapshot, err := a.manager.Registry().Get(id)
	if err != nil {
		log.Warn().Str("task_id", id).Msg("task not found on get")
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// StreamTask serves the task's live progress stream as server-sent events.
// The stream ends after the terminal event; a client disconnect requests
// cancellation of the underlying task.
func (a *API) StreamTask(c *gin.Context) {
	id := c.Param("id")
	ch, err := a.manager.Registry().Channel(id)
	if err != nil {
		log.Warn().Str("task_id", id).Msg("no live stream for task")
		c.JSON(http.StatusNotFound, gin.H{"error": "no live stream for this task"})
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	events := ch.Subscribe(stop)
	clientGone := c.Request.Context().Done()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, open := <-events:
			if !open {
				return false
			}
			c.SSEvent("progress", ev)
			return true
		case <-clientGone:
			log.Info().Str("task_id", id).Msg("stream client disconnected, requesting cancel")
			_ = a.manager.Cancel(id)
			return false
		}
	})
}

// CancelTask requests cooperative cancellation of a running task
func (a *API) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.manager.Cancel(id); err != nil {
		switch {
		case errors.Is(err, task.ErrNotCancellable):
			c.JSON(http.StatusBadRequest, gin.H{"error": "task already finished"})
		case errors.Is(err, task.ErrNoRunningTask):
			c.JSON(http.StatusNotFound, gin.H{"error": "no running task with this id"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	log.Info().Str("task_id", id).Msg("cancellation requested")
	c.JSON(http.StatusAccepted, gin.H{"task_id": id, "status": "cancelling"})
}

// DownloadReport renders the durable record as a PDF attachment
func (a *API) DownloadReport(c *gin.Context) {
	id := c.Param("id")
	rec, err := a.manager.Records().LoadRecord(id)
	if err != nil {
		if errors.Is(err, task.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no result for this task"})
			return
		}
		log.Error().Str("task_id", id).Err(err).Msg("failed to load record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		return
	}
	if rec.Status != task.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task did not complete successfully"})
		return
	}

	data, err := report.Generate(rec)
	if err != nil {
		log.Error().Str("task_id", id).Err(err).Msg("failed to render report pdf")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render report"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="compliance-report-`+id+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", data)
}

// GetResult returns the durable JSON record for a finished task
func (a *API) GetResult(c *gin.Context) {
	id := c.Param("id")
	rec, err := a.manager.Records().LoadRecord(id)
	if err != nil {
		if errors.Is(err, task.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no result for this task"})
			return
		}
		log.Error().Str("task_id", id).Err(err).Msg("failed to load record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
