// Package dispatch owns the task state machine: claim eligibility, the
// atomic claim, validated status transitions and the fan-out they trigger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"dispatchd/broadcast"
	"dispatchd/domain"
	"dispatchd/storage"
)

// Store is the persistence port the engine drives. The conditional-write
// operations return false when the write matched nothing, which is the
// only concurrency signal the engine relies on.
type Store interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	GetContractor(ctx context.Context, id string) (*domain.Contractor, error)
	ClaimTask(ctx context.Context, taskID, contractorID string) (bool, error)
	UpdateTaskStatus(ctx context.Context, taskID string, from, to domain.TaskStatus) (bool, error)
	CompleteTask(ctx context.Context, taskID, notes string, photos []string, completedAt time.Time) (bool, error)
	ListAvailableTasks(ctx context.Context, q *domain.GeoQuery) ([]domain.Task, error)
	ListContractorTasks(ctx context.Context, contractorID string) ([]domain.Task, error)
}

// Broadcaster pushes realtime events; failures there never surface here.
type Broadcaster interface {
	Broadcast(event string, payload map[string]any, t broadcast.Target)
}

// Notifier persists the durable mirror of a realtime event.
type Notifier interface {
	Deliver(n domain.Notification)
}

// Result reports the outcome of a task operation. Business-rule
// rejections are results, not errors.
type Result struct {
	Success bool         `json:"success"`
	Task    *domain.Task `json:"task,omitempty"`
	Message string       `json:"message,omitempty"`
}

// TasksResult is Result's shape for list operations.
type TasksResult struct {
	Success bool          `json:"success"`
	Tasks   []domain.Task `json:"tasks,omitempty"`
	Message string        `json:"message,omitempty"`
}

const (
	msgContractorNotFound = "Contractor not found"
	msgInactive           = "Contractor account is inactive"
	msgNotVerified        = "Contractor account is not verified"
	msgTaskNotFound       = "Task not found"
	msgAlreadyYours       = "Task is already assigned to you"
	msgNotAvailable       = "Task is not available for claiming"
	msgSkillMismatch      = "Task type does not match your skills"
	msgNotAssigned        = "You are not assigned to this task"
	msgInvalidStatus      = "Invalid status value"
	msgStatusChanged      = "Task status has changed"
	msgNotInProgress      = "Task must be in progress before completion"
	msgGenericFailure     = "Unable to process request"
)

var msgTooManyPhotos = fmt.Sprintf("A maximum of %d completion photos is allowed", domain.MaxCompletionPhotos)

// Engine validates and applies task mutations, then triggers the realtime
// and durable fan-out. All dependencies arrive through the constructor;
// there is no process-wide dispatcher.
type Engine struct {
	store  Store
	router Broadcaster
	bridge Notifier
	logger *log.Logger
}

func NewEngine(store Store, router Broadcaster, bridge Notifier, logger *log.Logger) *Engine {
	return &Engine{store: store, router: router, bridge: bridge, logger: logger}
}

// Claim assigns a pending task to the contractor. Preconditions are
// checked in order and short-circuit; the claim itself is a single
// conditional write, so concurrent claimers race on the store and the
// loser sees a zero-match, reported as "not available".
func (e *Engine) Claim(ctx context.Context, taskID, contractorID string) Result {
	m := newOpMetrics(e.logger, "claim", taskID, contractorID)
	defer m.Log()

	fetchStart := time.Now()
	contractor, err := e.store.GetContractor(ctx, contractorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return m.reject(msgContractorNotFound)
		}
		return m.fail("fetch_contractor", err)
	}
	if !contractor.IsActive {
		return m.reject(msgInactive)
	}
	if !contractor.IsVerified {
		return m.reject(msgNotVerified)
	}

	task, err := e.store.GetTask(ctx, taskID)
	m.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return m.reject(msgTaskNotFound)
		}
		return m.fail("fetch_task", err)
	}
	if task.IsAssignedTo(contractorID) {
		return m.reject(msgAlreadyYours)
	}
	if task.Status != domain.StatusPending {
		return m.reject(msgNotAvailable)
	}
	if !domain.SkillsMatchType(contractor.Skills, task.Type) {
		return m.reject(msgSkillMismatch)
	}

	writeStart := time.Now()
	won, err := e.store.ClaimTask(ctx, taskID, contractorID)
	m.ObserveWrite(time.Since(writeStart))
	if err != nil {
		return m.fail("claim_write", err)
	}
	if !won {
		// Lost the race, or the task vanished mid-flight. One answer.
		return m.reject(msgNotAvailable)
	}

	if fresh, err := e.store.GetTask(ctx, taskID); err == nil {
		task = fresh
	} else {
		task.Status = domain.StatusAssigned
		task.AssignedTo = contractorID
		task.AssignedContractors = append(task.AssignedContractors, contractorID)
	}

	fanoutStart := time.Now()
	e.router.Broadcast(domain.EventTaskClaimed, taskPayload(task, map[string]any{
		"claimedBy": contractorID,
	}), broadcast.Target{ExcludeContractor: contractorID})
	e.router.Broadcast(domain.EventTaskAssigned, taskPayload(task, nil),
		broadcast.Target{Contractor: contractorID})
	e.bridge.Deliver(domain.Notification{
		ContractorID: contractorID,
		Type:         domain.EventTaskAssigned,
		Priority:     domain.NotifyNormal,
		Title:        "Task assigned",
		Message:      fmt.Sprintf("You claimed %s task %s", task.Type, task.OrderRef),
		Data:         map[string]any{"taskId": task.ID},
	})
	m.ObserveFanout(time.Since(fanoutStart))

	return m.ok(Result{Success: true, Task: task})
}

// statusNotices keys notification title/message/priority off the new status.
var statusNotices = map[domain.TaskStatus]struct {
	title    string
	message  string
	priority domain.NotificationPriority
}{
	domain.StatusInProgress: {"Task started", "Task is now in progress", domain.NotifyNormal},
	domain.StatusCompleted:  {"Task completed", "Task has been completed", domain.NotifyHigh},
	domain.StatusCancelled:  {"Task cancelled", "Task has been cancelled", domain.NotifyHigh},
}

// UpdateStatus moves an assigned task along the state machine on behalf
// of one of its assignees.
func (e *Engine) UpdateStatus(ctx context.Context, taskID, contractorID, newStatus string) Result {
	m := newOpMetrics(e.logger, "update_status", taskID, contractorID)
	defer m.Log()

	status := domain.TaskStatus(newStatus)
	if !domain.ValidStatus(status) || status == domain.StatusPending {
		return m.reject(msgInvalidStatus)
	}

	fetchStart := time.Now()
	task, err := e.store.GetTask(ctx, taskID)
	m.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return m.reject(msgTaskNotFound)
		}
		return m.fail("fetch_task", err)
	}
	if !task.IsAssignedTo(contractorID) {
		return m.reject(msgNotAssigned)
	}
	if !domain.CanTransition(task.Status, status) {
		return m.reject(fmt.Sprintf("Cannot change status from %s to %s", task.Status, status))
	}

	writeStart := time.Now()
	ok, err := e.store.UpdateTaskStatus(ctx, taskID, task.Status, status)
	m.ObserveWrite(time.Since(writeStart))
	if err != nil {
		return m.fail("status_write", err)
	}
	if !ok {
		return m.reject(msgStatusChanged)
	}
	task.Status = status

	fanoutStart := time.Now()
	e.router.Broadcast(domain.EventTaskUpdated, taskPayload(task, map[string]any{
		"updatedBy": contractorID,
	}), broadcast.Target{Contractor: contractorID})
	if status == domain.StatusCancelled {
		e.router.Broadcast(domain.EventTaskCancelled, taskPayload(task, nil),
			broadcast.Target{ExcludeContractor: contractorID})
	}
	notice := statusNotices[status]
	if notice.title == "" {
		notice.title = "Task updated"
		notice.message = "Task status is now " + string(status)
		notice.priority = domain.NotifyNormal
	}
	e.bridge.Deliver(domain.Notification{
		ContractorID: contractorID,
		Type:         domain.EventTaskUpdated,
		Priority:     notice.priority,
		Title:        notice.title,
		Message:      notice.message,
		Data:         map[string]any{"taskId": task.ID, "status": string(status)},
	})
	m.ObserveFanout(time.Since(fanoutStart))

	return m.ok(Result{Success: true, Task: task})
}

// Complete records completion details for an in-progress task.
func (e *Engine) Complete(ctx context.Context, taskID, contractorID, notes string, photos []string) Result {
	m := newOpMetrics(e.logger, "complete", taskID, contractorID)
	defer m.Log()

	if len(photos) > domain.MaxCompletionPhotos {
		return m.reject(msgTooManyPhotos)
	}

	fetchStart := time.Now()
	task, err := e.store.GetTask(ctx, taskID)
	m.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return m.reject(msgTaskNotFound)
		}
		return m.fail("fetch_task", err)
	}
	if !task.IsAssignedTo(contractorID) {
		return m.reject(msgNotAssigned)
	}
	if task.Status != domain.StatusInProgress {
		return m.reject(msgNotInProgress)
	}

	completedAt := time.Now().UTC()
	writeStart := time.Now()
	ok, err := e.store.CompleteTask(ctx, taskID, notes, photos, completedAt)
	m.ObserveWrite(time.Since(writeStart))
	if err != nil {
		return m.fail("complete_write", err)
	}
	if !ok {
		return m.reject(msgNotInProgress)
	}
	task.Status = domain.StatusCompleted
	task.CompletedAt = &completedAt
	task.CompletionNotes = notes
	task.CompletionPhotos = photos

	fanoutStart := time.Now()
	e.router.Broadcast(domain.EventTaskCompleted, taskPayload(task, map[string]any{
		"completedBy": contractorID,
	}), broadcast.Target{Contractor: contractorID})
	e.bridge.Deliver(domain.Notification{
		ContractorID: contractorID,
		Type:         domain.EventTaskCompleted,
		Priority:     domain.NotifyHigh,
		Title:        "Task completed",
		Message:      fmt.Sprintf("Task %s has been completed", task.OrderRef),
		Data:         map[string]any{"taskId": task.ID},
	})
	m.ObserveFanout(time.Since(fanoutStart))

	return m.ok(Result{Success: true, Task: task})
}

// GetAvailableTasks lists pending tasks the contractor could claim,
// optionally narrowed to a radius.
func (e *Engine) GetAvailableTasks(ctx context.Context, contractorID string, q *domain.GeoQuery) TasksResult {
	contractor, err := e.store.GetContractor(ctx, contractorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TasksResult{Message: msgContractorNotFound}
		}
		e.logger.WithError(err).Error("available tasks: contractor fetch failed")
		return TasksResult{Message: msgGenericFailure}
	}
	tasks, err := e.store.ListAvailableTasks(ctx, q)
	if err != nil {
		e.logger.WithError(err).Error("available tasks: list failed")
		return TasksResult{Message: msgGenericFailure}
	}
	matched := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if domain.SkillsMatchType(contractor.Skills, t.Type) {
			matched = append(matched, t)
		}
	}
	return TasksResult{Success: true, Tasks: matched}
}

// GetContractorTasks lists every task the contractor has claimed.
func (e *Engine) GetContractorTasks(ctx context.Context, contractorID string) TasksResult {
	tasks, err := e.store.ListContractorTasks(ctx, contractorID)
	if err != nil {
		e.logger.WithError(err).Error("contractor tasks: list failed")
		return TasksResult{Message: msgGenericFailure}
	}
	return TasksResult{Success: true, Tasks: tasks}
}

// GetTaskByID fetches one task.
func (e *Engine) GetTaskByID(ctx context.Context, taskID string) Result {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Message: msgTaskNotFound}
		}
		e.logger.WithError(err).Error("task fetch failed")
		return Result{Message: msgGenericFailure}
	}
	return Result{Success: true, Task: task}
}

func taskPayload(t *domain.Task, extra map[string]any) map[string]any {
	p := map[string]any{
		"taskId":   t.ID,
		"orderRef": t.OrderRef,
		"status":   string(t.Status),
		"type":     string(t.Type),
		"priority": string(t.Priority),
	}
	if t.Location != nil {
		p["location"] = map[string]any{"lat": t.Location.Lat, "lng": t.Location.Lng}
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}
