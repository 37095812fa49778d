// Package state persists per-user dialog progress between turns.
package state

import (
	"time"

	"github.com/MikeSquared-Agency/envoy/internal/flow"
	"github.com/MikeSquared-Agency/envoy/internal/nlu"
)

// MaxHistory bounds the number of exchanges kept per user.
const MaxHistory = 10

// Exchange is one inbound message and the reply it produced.
type Exchange struct {
	User string    `json:"user"`
	Bot  string    `json:"bot"`
	At   time.Time `json:"at"`
}

// DialogState is one user's position in the conversation. An empty
// ActiveGoal means the user is idle.
type DialogState struct {
	UserID        string                   `json:"user_id"`
	ActiveGoal    flow.GoalID              `json:"active_goal,omitempty"`
	CurrentStep   int                      `json:"current_step"`
	CollectedData map[nlu.EntityKey]string `json:"collected_data"`
	History       []Exchange               `json:"history"`
	LastIntent    nlu.Intent               `json:"last_intent,omitempty"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

func New(userID string) *DialogState {
	return &DialogState{
		UserID:        userID,
		CollectedData: make(map[nlu.EntityKey]string),
	}
}

func (s *DialogState) Idle() bool { return s.ActiveGoal == "" }

// Start enters goal at its first step. Collected data is kept.
func (s *DialogState) Start(goal flow.GoalID) {
	s.ActiveGoal = goal
	s.CurrentStep = 0
}

// Has reports whether key has been collected.
func (s *DialogState) Has(key nlu.EntityKey) bool {
	_, ok := s.CollectedData[key]
	return ok
}

// Merge adds entities whose keys are not yet collected and returns the keys
// it added. Existing values are never overwritten.
func (s *DialogState) Merge(entities nlu.Entities) []nlu.EntityKey {
	if s.CollectedData == nil {
		s.CollectedData = make(map[nlu.EntityKey]string, len(entities))
	}
	var added []nlu.EntityKey
	for k, v := range entities {
		if _, ok := s.CollectedData[k]; ok {
			continue
		}
		s.CollectedData[k] = v
		added = append(added, k)
	}
	return added
}

// AppendHistory records an exchange, dropping the oldest beyond MaxHistory.
func (s *DialogState) AppendHistory(user, bot string, at time.Time) {
	s.History = append(s.History, Exchange{User: user, Bot: bot, At: at})
	if n := len(s.History); n > MaxHistory {
		s.History = append([]Exchange(nil), s.History[n-MaxHistory:]...)
	}
}

// Vars exposes collected data as template variables.
func (s *DialogState) Vars() map[string]string {
	out := make(map[string]string, len(s.CollectedData))
	for k, v := range s.CollectedData {
		out[string(k)] = v
	}
	return out
}

// Clone returns a deep copy.
func (s *DialogState) Clone() *DialogState {
	c := *s
	c.CollectedData = make(map[nlu.EntityKey]string, len(s.CollectedData))
	for k, v := range s.CollectedData {
		c.CollectedData[k] = v
	}
	c.History = append([]Exchange(nil), s.History...)
	return &c
}
