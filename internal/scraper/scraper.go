// Package scraper enumerates the members of a chat group into flat records.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/envoy/internal/platform"
)

const DefaultDelay = 500 * time.Millisecond

// MemberRecord is one scraped group member. Username holds "id<ID>" when the
// account has no public username.
type MemberRecord struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Bio       string `json:"bio"`
}

// HasUsername reports whether Username is a real handle rather than the id
// placeholder.
func (m MemberRecord) HasUsername() bool {
	return m.Username != "" && m.Username != placeholder(m.ID)
}

// MemberSink receives scraped members for persistence. *store.Store
// satisfies it.
type MemberSink interface {
	UpsertMembers(ctx context.Context, groupRef string, members []MemberRecord) error
}

type Option func(*Scraper)

// WithDelay sets the pause between member fetches.
func WithDelay(d time.Duration) Option {
	return func(s *Scraper) { s.delay = d }
}

// WithSink persists every successful scrape.
func WithSink(sink MemberSink) Option {
	return func(s *Scraper) { s.sink = sink }
}

// WithSleeper replaces the delay implementation.
func WithSleeper(sleep platform.Sleeper) Option {
	return func(s *Scraper) { s.sleep = sleep }
}

type Scraper struct {
	client platform.Client
	logger *slog.Logger
	delay  time.Duration
	sleep  platform.Sleeper
	sink   MemberSink
}

func New(client platform.Client, logger *slog.Logger, opts ...Option) *Scraper {
	s := &Scraper{
		client: client,
		logger: logger,
		delay:  DefaultDelay,
		sleep:  platform.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape collects up to limit members of groupRef, skipping bots, deleted
// accounts and the caller's own account. Any transport failure discards the
// partial result: the returned slice is empty and the error says why.
func (s *Scraper) Scrape(ctx context.Context, groupRef string, limit int) ([]MemberRecord, error) {
	records, err := s.scrape(ctx, groupRef, limit)
	if err != nil {
		s.logger.Error("scrape failed", "group", groupRef, "error", err)
		return []MemberRecord{}, err
	}

	s.logger.Info("scrape complete", "group", groupRef, "members", len(records))

	if s.sink != nil {
		if err := s.sink.UpsertMembers(ctx, groupRef, records); err != nil {
			s.logger.Warn("failed to persist scraped members", "group", groupRef, "error", err)
		}
	}
	return records, nil
}

func (s *Scraper) scrape(ctx context.Context, groupRef string, limit int) ([]MemberRecord, error) {
	me, err := s.client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("get self: %w", err)
	}

	group, err := s.client.ResolveGroup(ctx, groupRef)
	if err != nil {
		return nil, fmt.Errorf("resolve group %s: %w", groupRef, err)
	}

	s.logger.Info("scraping group", "group", groupRef, "title", group.Title, "limit", limit)

	var records []MemberRecord
	first := true
	err = s.client.Members(ctx, group, limit, func(u platform.User) error {
		if !first {
			if err := s.sleep(ctx, s.delay); err != nil {
				return err
			}
		}
		first = false

		if u.Bot || u.Deleted || u.Self || u.ID == me.ID {
			return nil
		}
		records = append(records, toRecord(u))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	if records == nil {
		records = []MemberRecord{}
	}
	return records, nil
}

func toRecord(u platform.User) MemberRecord {
	username := u.Username
	if username == "" {
		username = placeholder(u.ID)
	}
	return MemberRecord{
		ID:        u.ID,
		Username:  username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		Bio:       u.Bio,
	}
}

func placeholder(id int64) string {
	return fmt.Sprintf("id%d", id)
}
