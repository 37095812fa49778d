package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/envoy/internal/platform"
)

// ErrQuotaReached is returned once the daily send limit is used up.
var ErrQuotaReached = errors.New("daily message limit reached")

var placeholderUsername = regexp.MustCompile(`^id\d+$`)

// Pacing controls how fast a campaign may send.
type Pacing struct {
	MaxPerDay      int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	LongPauseEvery int
	LongPauseMin   time.Duration
	LongPauseMax   time.Duration
}

// DefaultPacing mirrors a cautious human sender.
func DefaultPacing() Pacing {
	return Pacing{
		MaxPerDay:      5,
		MinDelay:       120 * time.Second,
		MaxDelay:       300 * time.Second,
		LongPauseEvery: 2,
		LongPauseMin:   5 * time.Minute,
		LongPauseMax:   10 * time.Minute,
	}
}

// Result summarises a campaign run.
type Result struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type SenderOption func(*Sender)

func WithSleeper(sleep platform.Sleeper) SenderOption {
	return func(s *Sender) { s.sleep = sleep }
}

func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

func WithSenderRand(r *rand.Rand) SenderOption {
	return func(s *Sender) { s.rnd = r }
}

// Sender delivers generated greetings within the campaign's daily quota.
type Sender struct {
	client   platform.Client
	gen      *Generator
	campaign *CampaignState
	pacing   Pacing
	limiter  *rate.Limiter
	logger   *slog.Logger

	sleep platform.Sleeper
	now   func() time.Time
	rnd   *rand.Rand

	mu sync.Mutex
}

func NewSender(client platform.Client, gen *Generator, campaign *CampaignState, pacing Pacing, logger *slog.Logger, opts ...SenderOption) *Sender {
	limit := rate.Inf
	if pacing.MinDelay > 0 {
		limit = rate.Every(pacing.MinDelay)
	}
	s := &Sender{
		client:   client,
		gen:      gen,
		campaign: campaign,
		pacing:   pacing,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		sleep:    platform.Sleep,
		now:      time.Now,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendTo greets one user and returns the text that was sent.
func (s *Sender) SendTo(ctx context.Context, username string) (string, error) {
	s.mu.Lock()
	remaining := s.campaign.Remaining(s.now(), s.pacing.MaxPerDay)
	s.mu.Unlock()
	if remaining == 0 {
		return "", ErrQuotaReached
	}

	user, err := s.client.ResolveUser(ctx, username)
	if err != nil {
		s.recordError(username, err)
		return "", fmt.Errorf("resolve %s: %w", username, err)
	}

	text := s.gen.Message(ctx, user.FirstName, user.Bio)
	if err := platform.SendWithFloodRetry(ctx, s.client, s.sleep, user.ID, text); err != nil {
		s.recordError(username, err)
		return "", fmt.Errorf("send to %s: %w", username, err)
	}

	s.mu.Lock()
	s.campaign.RecordSent(username, s.now())
	sent := s.campaign.SentToday
	saveErr := s.campaign.Save()
	s.mu.Unlock()
	if saveErr != nil {
		s.logger.Warn("failed to save campaign state", "error", saveErr)
	}

	s.logger.Info("message sent", "username", username, "sent_today", sent, "max_per_day", s.pacing.MaxPerDay)
	return text, nil
}

// Run greets usernames in order, pausing between sends, until the list or
// the daily quota is exhausted. Placeholder usernames and users contacted
// in an earlier run are skipped.
func (s *Sender) Run(ctx context.Context, usernames []string) (Result, error) {
	var res Result
	s.logger.Info("campaign started", "users", len(usernames))

	for _, username := range usernames {
		if placeholderUsername.MatchString(normalizeUsername(username)) || s.contacted(username) {
			res.Skipped++
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return res, err
		}

		res.Attempted++
		_, err := s.SendTo(ctx, username)
		switch {
		case errors.Is(err, ErrQuotaReached):
			res.Attempted--
			s.logger.Warn("daily limit reached", "sent", res.Sent)
			return res, nil
		case ctx.Err() != nil:
			return res, ctx.Err()
		case err != nil:
			res.Failed++
			s.logger.Error("send failed", "username", username, "error", err)
		default:
			res.Sent++
		}

		if s.quotaUsed() {
			s.logger.Warn("daily limit reached", "sent", res.Sent)
			break
		}

		if err := s.sleep(ctx, s.between(s.pacing.MinDelay, s.pacing.MaxDelay)); err != nil {
			return res, err
		}
		if s.pacing.LongPauseEvery > 0 && res.Attempted%s.pacing.LongPauseEvery == 0 {
			pause := s.between(s.pacing.LongPauseMin, s.pacing.LongPauseMax)
			s.logger.Info("long pause", "duration", pause)
			if err := s.sleep(ctx, pause); err != nil {
				return res, err
			}
		}
	}

	s.logger.Info("campaign finished", "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

func (s *Sender) contacted(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaign.IsContacted(username)
}

func (s *Sender) quotaUsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.campaign.Remaining(s.now(), s.pacing.MaxPerDay) == 0
}

func (s *Sender) recordError(username string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaign.AddError(fmt.Sprintf("%s %s: %v", s.now().UTC().Format(time.RFC3339), username, err))
	if saveErr := s.campaign.Save(); saveErr != nil {
		s.logger.Warn("failed to save campaign state", "error", saveErr)
	}
}

// between returns a uniformly random duration in [lo, hi].
func (s *Sender) between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + time.Duration(s.rnd.Int64N(int64(hi-lo)+1))
}
