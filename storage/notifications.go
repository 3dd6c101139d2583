package storage

import (
	"context"
	"encoding/json"
	"time"

	"dispatchd/domain"
)

// CreateNotification persists one per-recipient notification with an
// expiry. The recipient can query and ack it long after the realtime
// push happened (or didn't).
func (s *Storage) CreateNotification(ctx context.Context, n *domain.Notification) error {
	fields := map[string]any{
		"type":       n.Type,
		"priority":   string(n.Priority),
		"title":      n.Title,
		"message":    n.Message,
		"delivered":  boolField(n.Delivered),
		"created_at": formatTime(n.CreatedAt),
		"expires_at": formatTime(n.ExpiresAt),
	}
	if len(n.Data) > 0 {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return err
		}
		fields["data"] = string(data)
	}
	key := notifKey(n.ContractorID, n.ID)
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	if ttl := time.Until(n.ExpiresAt); ttl > 0 {
		if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return err
		}
	}
	return s.rdb.SAdd(ctx, notifIndexKey(n.ContractorID), n.ID).Err()
}

// MarkNotificationDelivered flags a notification as seen by its recipient.
func (s *Storage) MarkNotificationDelivered(ctx context.Context, contractorID, notificationID string) (bool, error) {
	key := notifKey(contractorID, notificationID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	if err := s.rdb.HSet(ctx, key, "delivered", "1").Err(); err != nil {
		return false, err
	}
	return true, nil
}

// ListNotifications returns the contractor's unexpired notifications.
// Index entries whose documents have expired are skipped and pruned.
func (s *Storage) ListNotifications(ctx context.Context, contractorID string) ([]domain.Notification, error) {
	ids, err := s.rdb.SMembers(ctx, notifIndexKey(contractorID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(ids))
	for _, id := range ids {
		h, err := s.rdb.HGetAll(ctx, notifKey(contractorID, id)).Result()
		if err != nil {
			return nil, err
		}
		if len(h) == 0 {
			_ = s.rdb.SRem(ctx, notifIndexKey(contractorID), id).Err()
			continue
		}
		n := domain.Notification{
			ID:           id,
			ContractorID: contractorID,
			Type:         h["type"],
			Priority:     domain.NotificationPriority(h["priority"]),
			Title:        h["title"],
			Message:      h["message"],
			Delivered:    h["delivered"] == "1",
			CreatedAt:    parseTime(h["created_at"]),
			ExpiresAt:    parseTime(h["expires_at"]),
		}
		if raw := h["data"]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &n.Data)
		}
		out = append(out, n)
	}
	return out, nil
}
