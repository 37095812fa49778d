package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/envoy/internal/scraper"
)

// UpsertMembers records a scrape of groupRef. Re-scraped members are updated
// in place.
func (s *Store) UpsertMembers(ctx context.Context, groupRef string, members []scraper.MemberRecord) error {
	if len(members) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range members {
		batch.Queue(`
			INSERT INTO group_members (group_ref, member_id, username, first_name, last_name, phone, bio, scraped_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (group_ref, member_id) DO UPDATE SET
				username = EXCLUDED.username,
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				phone = EXCLUDED.phone,
				bio = EXCLUDED.bio,
				scraped_at = now()`,
			groupRef, m.ID, m.Username, m.FirstName, m.LastName, m.Phone, m.Bio,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert members: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMembers returns the stored members of groupRef ordered by member ID.
func (s *Store) ListMembers(ctx context.Context, groupRef string) ([]scraper.MemberRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT member_id, username, first_name, last_name, phone, bio
		FROM group_members WHERE group_ref = $1
		ORDER BY member_id`, groupRef)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []scraper.MemberRecord
	for rows.Next() {
		var m scraper.MemberRecord
		if err := rows.Scan(&m.ID, &m.Username, &m.FirstName, &m.LastName, &m.Phone, &m.Bio); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
