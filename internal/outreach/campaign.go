package outreach

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// CampaignState tracks the daily send counter and who has already been
// contacted so interrupted campaigns can resume.
type CampaignState struct {
	Day       string    `json:"day"`
	SentToday int       `json:"sent_today"`
	Contacted []string  `json:"contacted"`
	Errors    []string  `json:"errors"`
	UpdatedAt time.Time `json:"updated_at"`

	path string // not serialized
}

// LoadCampaign reads the state at path, or starts a new one when the file
// does not exist. An empty path keeps the state in memory only.
func LoadCampaign(path string) (*CampaignState, error) {
	path = expandHome(path)
	if path == "" {
		return &CampaignState{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CampaignState{path: path}, nil
		}
		return nil, fmt.Errorf("read campaign state: %w", err)
	}

	var s CampaignState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse campaign state: %w", err)
	}
	s.path = path
	return &s, nil
}

// Save persists the state. It is a no-op for in-memory state.
func (s *CampaignState) Save() error {
	if s.path == "" {
		return nil
	}
	s.UpdatedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal campaign state: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Roll resets the daily counter when now falls on a new day.
func (s *CampaignState) Roll(now time.Time) {
	day := now.Format(dayLayout)
	if s.Day != day {
		s.Day = day
		s.SentToday = 0
	}
}

// Remaining returns how many sends are left today under maxPerDay.
func (s *CampaignState) Remaining(now time.Time, maxPerDay int) int {
	s.Roll(now)
	if n := maxPerDay - s.SentToday; n > 0 {
		return n
	}
	return 0
}

func (s *CampaignState) IsContacted(username string) bool {
	key := normalizeUsername(username)
	for _, u := range s.Contacted {
		if u == key {
			return true
		}
	}
	return false
}

// RecordSent counts a delivered message.
func (s *CampaignState) RecordSent(username string, now time.Time) {
	s.Roll(now)
	s.SentToday++
	if !s.IsContacted(username) {
		s.Contacted = append(s.Contacted, normalizeUsername(username))
	}
}

func (s *CampaignState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
