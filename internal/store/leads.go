package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lead is the contact data collected by a completed dialog.
type Lead struct {
	ID        uuid.UUID         `json:"id"`
	UserID    string            `json:"user_id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Company   string            `json:"company"`
	Phone     string            `json:"phone"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
}

// WriteLead inserts a lead and returns its new ID.
func (s *Store) WriteLead(ctx context.Context, lead Lead) (uuid.UUID, error) {
	id := lead.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	data := lead.Data
	if data == nil {
		data = map[string]string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO leads (id, user_id, name, email, company, phone, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		id, lead.UserID, lead.Name, lead.Email, lead.Company, lead.Phone, data,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert lead: %w", err)
	}
	return id, nil
}

// GetLead fetches a lead by ID.
func (s *Store) GetLead(ctx context.Context, id uuid.UUID) (*Lead, error) {
	var l Lead
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, email, company, phone, data, created_at
		FROM leads WHERE id = $1`, id,
	).Scan(&l.ID, &l.UserID, &l.Name, &l.Email, &l.Company, &l.Phone, &l.Data, &l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return &l, nil
}

// CountLeads returns the number of stored leads.
func (s *Store) CountLeads(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM leads`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}
