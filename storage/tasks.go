package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatchd/domain"
)

// claimScript is the serialization point for competing claims: the status
// check, the duplicate-assignee check and the mutation happen in one
// atomic evaluation. A zero result means the caller lost the race (or the
// task vanished); callers never distinguish the two.
var claimScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'pending' then return 0 end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'status', 'assigned', 'assigned_to', ARGV[1])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[2])
redis.call('SADD', KEYS[5], ARGV[2])
return 1
`)

// transitionScript flips the status only if it still holds the value the
// caller validated against.
var transitionScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
return 1
`)

// completeScript requires the task to still be in progress when the
// completion lands.
var completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'in_progress' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'completed', 'completed_at', ARGV[1], 'completion_notes', ARGV[2], 'completion_photos', ARGV[3])
return 1
`)

// CreateTask writes a task document and its indexes. Pending tasks with a
// location are added to the geo index so radius queries can find them.
func (s *Storage) CreateTask(ctx context.Context, t *domain.Task) error {
	fields := map[string]any{
		"order_ref":   t.OrderRef,
		"status":      string(t.Status),
		"type":        string(t.Type),
		"priority":    string(t.Priority),
		"description": t.Description,
		"assigned_to": t.AssignedTo,
		"payment":     strconv.FormatFloat(t.PaymentAmount, 'f', -1, 64),
		"created_at":  formatTime(t.CreatedAt),
	}
	if !t.ScheduledAt.IsZero() {
		fields["scheduled_at"] = formatTime(t.ScheduledAt)
	}
	if t.Location != nil {
		fields["lat"] = strconv.FormatFloat(t.Location.Lat, 'f', -1, 64)
		fields["lng"] = strconv.FormatFloat(t.Location.Lng, 'f', -1, 64)
		fields["has_location"] = "1"
	}
	if err := s.rdb.HSet(ctx, taskKey(t.ID), fields).Err(); err != nil {
		return err
	}
	if len(t.AssignedContractors) > 0 {
		if err := s.rdb.SAdd(ctx, assigneesKey(t.ID), toAny(t.AssignedContractors)...).Err(); err != nil {
			return err
		}
	}
	if t.Status == domain.StatusPending {
		if err := s.rdb.SAdd(ctx, pendingIndexKey, t.ID).Err(); err != nil {
			return err
		}
		if t.Location != nil {
			err := s.rdb.GeoAdd(ctx, geoIndexKey, &redis.GeoLocation{
				Name:      t.ID,
				Longitude: t.Location.Lng,
				Latitude:  t.Location.Lat,
			}).Err()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// GetTask loads one task document.
func (s *Storage) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	h, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	assignees, err := s.rdb.SMembers(ctx, assigneesKey(id)).Result()
	if err != nil {
		return nil, err
	}
	return taskFromHash(id, h, assignees), nil
}

// ClaimTask atomically assigns a pending task to the contractor. It
// returns false when the conditional write matched nothing, which the
// engine treats as "someone beat you".
func (s *Storage) ClaimTask(ctx context.Context, taskID, contractorID string) (bool, error) {
	keys := []string{taskKey(taskID), assigneesKey(taskID), pendingIndexKey, geoIndexKey, contractorTasks(contractorID)}
	n, err := claimScript.Run(ctx, s.rdb, keys, contractorID, taskID).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateTaskStatus moves the task from one validated status to another,
// conditioned on the status being unchanged since the caller read it.
func (s *Storage) UpdateTaskStatus(ctx context.Context, taskID string, from, to domain.TaskStatus) (bool, error) {
	n, err := transitionScript.Run(ctx, s.rdb, []string{taskKey(taskID)}, string(from), string(to)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteTask records completion details, conditioned on the task still
// being in progress.
func (s *Storage) CompleteTask(ctx context.Context, taskID, notes string, photos []string, completedAt time.Time) (bool, error) {
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return false, err
	}
	n, err := completeScript.Run(ctx, s.rdb, []string{taskKey(taskID)},
		formatTime(completedAt), notes, string(photosJSON)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListAvailableTasks returns pending tasks, optionally narrowed to a
// radius around a point via the geo index.
func (s *Storage) ListAvailableTasks(ctx context.Context, q *domain.GeoQuery) ([]domain.Task, error) {
	var ids []string
	if q != nil {
		locs, err := s.rdb.GeoRadius(ctx, geoIndexKey, q.Lng, q.Lat, &redis.GeoRadiusQuery{
			Radius: q.RadiusKm,
			Unit:   "km",
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, l := range locs {
			ids = append(ids, l.Name)
		}
	} else {
		var err error
		ids, err = s.rdb.SMembers(ctx, pendingIndexKey).Result()
		if err != nil {
			return nil, err
		}
	}
	return s.loadTasks(ctx, ids, domain.StatusPending)
}

// ListContractorTasks returns every task the contractor has claimed.
func (s *Storage) ListContractorTasks(ctx context.Context, contractorID string) ([]domain.Task, error) {
	ids, err := s.rdb.SMembers(ctx, contractorTasks(contractorID)).Result()
	if err != nil {
		return nil, err
	}
	return s.loadTasks(ctx, ids, "")
}

// loadTasks fetches tasks by id, skipping records that disappeared and,
// when wantStatus is set, records that moved on since they were indexed.
func (s *Storage) loadTasks(ctx context.Context, ids []string, wantStatus domain.TaskStatus) ([]domain.Task, error) {
	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		if wantStatus != "" && t.Status != wantStatus {
			continue
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func taskFromHash(id string, h map[string]string, assignees []string) *domain.Task {
	t := &domain.Task{
		ID:                  id,
		OrderRef:            h["order_ref"],
		Status:              domain.TaskStatus(h["status"]),
		Type:                domain.TaskType(h["type"]),
		Priority:            domain.TaskPriority(h["priority"]),
		Description:         h["description"],
		AssignedTo:          h["assigned_to"],
		AssignedContractors: assignees,
		CompletionNotes:     h["completion_notes"],
	}
	if v := h["payment"]; v != "" {
		t.PaymentAmount, _ = strconv.ParseFloat(v, 64)
	}
	if h["has_location"] == "1" {
		lat, _ := strconv.ParseFloat(h["lat"], 64)
		lng, _ := strconv.ParseFloat(h["lng"], 64)
		t.Location = &domain.Location{Lat: lat, Lng: lng}
	}
	if ts := parseTime(h["scheduled_at"]); !ts.IsZero() {
		t.ScheduledAt = ts
	}
	if ts := parseTime(h["completed_at"]); !ts.IsZero() {
		t.CompletedAt = &ts
	}
	if ts := parseTime(h["created_at"]); !ts.IsZero() {
		t.CreatedAt = ts
	}
	if raw := h["completion_photos"]; raw != "" {
		var photos []string
		if err := json.Unmarshal([]byte(raw), &photos); err == nil {
			t.CompletionPhotos = photos
		}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func toAny(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}
