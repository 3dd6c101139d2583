package storage

import (
	"context"
	"encoding/json"

	"dispatchd/domain"
)

// GetContractor loads one contractor record. The dispatch core never
// writes these; onboarding owns them.
func (s *Storage) GetContractor(ctx context.Context, id string) (*domain.Contractor, error) {
	h, err := s.rdb.HGetAll(ctx, contractorKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	c := &domain.Contractor{
		ID:         id,
		Name:       h["name"],
		IsActive:   h["active"] == "1",
		IsVerified: h["verified"] == "1",
	}
	if raw := h["skills"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Skills); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// PutContractor writes a contractor record. Used by seeding and tests;
// production records arrive through the onboarding flow.
func (s *Storage) PutContractor(ctx context.Context, c *domain.Contractor) error {
	skills, err := json.Marshal(c.Skills)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"name":     c.Name,
		"skills":   string(skills),
		"active":   boolField(c.IsActive),
		"verified": boolField(c.IsVerified),
	}
	return s.rdb.HSet(ctx, contractorKey(c.ID), fields).Err()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
