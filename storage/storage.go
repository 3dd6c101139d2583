// Package storage is the redis-backed record store for tasks, contractors
// and notifications. The claim and status transitions run as Lua scripts
// so each conditional write is a single atomic server-side operation.
package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage provides access to the underlying persistence mechanisms.
type Storage struct {
	rdb *redis.Client
}

// New wraps an existing redis client.
func New(rdb *redis.Client) *Storage {
	return &Storage{rdb: rdb}
}

// Ping verifies connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func taskKey(id string) string         { return "task:" + id }
func assigneesKey(id string) string    { return "task:" + id + ":assignees" }
func contractorKey(id string) string   { return "contractor:" + id }
func contractorTasks(id string) string { return "contractor:" + id + ":tasks" }
func notifKey(cid, id string) string   { return "notification:" + cid + ":" + id }
func notifIndexKey(cid string) string  { return "contractor:" + cid + ":notifications" }

const (
	pendingIndexKey = "tasks:pending"
	geoIndexKey     = "tasks:geo"
)
