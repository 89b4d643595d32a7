package task

import "errors"

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrChecklistNotFound = errors.New("checklist not found")
	ErrNoChecklists      = errors.New("no checklist ids provided")
	ErrNotCancellable    = errors.New("task is not cancellable")
	ErrNoRunningTask     = errors.New("no running task for id")
	ErrStreamNotFound    = errors.New("no live progress stream for task")
	ErrRecordNotFound    = errors.New("no result record for task")
)
