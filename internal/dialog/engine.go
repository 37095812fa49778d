// Package dialog runs the per-user conversation state machine: classify the
// message, route it to a goal, walk the goal's steps and render the reply.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/envoy/internal/flow"
	"github.com/MikeSquared-Agency/envoy/internal/nlu"
	"github.com/MikeSquared-Agency/envoy/internal/render"
	"github.com/MikeSquared-Agency/envoy/internal/state"
)

// Template names the engine renders directly.
const (
	TemplateWelcome = "welcome_message"
	TemplateSuccess = "success_message"
	TemplateGoodbye = "goodbye_message"
	TemplateThanks  = "thanks_message"
)

const (
	defaultGoodbye = "До свидания! Буду рад помочь снова."
	defaultThanks  = "Всегда рад помочь! 😊"
)

// Event subjects published on goal transitions.
const (
	SubjectGoalStarted   = "envoy.dialog.goal.started"
	SubjectGoalCompleted = "envoy.dialog.goal.completed"
)

// DefaultRequiredFields must all be collected before any goal can complete.
var DefaultRequiredFields = []nlu.EntityKey{nlu.EntityName, nlu.EntityEmail}

// CatalogSource yields the catalog snapshot for one turn. Both *flow.Catalog
// and *flow.Source satisfy it.
type CatalogSource interface {
	Current() *flow.Catalog
}

type IntentClassifier interface {
	Classify(ctx context.Context, text string) nlu.Classification
}

// LeadSaver persists the data collected by a completed goal.
type LeadSaver interface {
	SaveLead(ctx context.Context, userID string, data map[nlu.EntityKey]string) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Reply is the outcome of one turn. Text is always safe to send, even when
// Handle also returns an error.
type Reply struct {
	Text       string       `json:"text"`
	Intent     nlu.Intent   `json:"intent"`
	Confidence float64      `json:"confidence"`
	Entities   nlu.Entities `json:"entities,omitempty"`
	Goal       flow.GoalID  `json:"goal,omitempty"`
	Step       int          `json:"step"`
	Completed  bool         `json:"completed,omitempty"`
	Reset      bool         `json:"reset,omitempty"`
}

// StateError reports a dialog state that violates the step invariants. It
// signals a programming error and is raised as a panic.
type StateError struct {
	UserID string
	Goal   flow.GoalID
	Step   int
	Len    int
}

func (e *StateError) Error() string {
	return fmt.Sprintf("dialog state for %s: step %d out of range for goal %s with %d steps", e.UserID, e.Step, e.Goal, e.Len)
}

// GoalEvent is the payload of goal transition events.
type GoalEvent struct {
	UserID    string            `json:"user_id"`
	Goal      flow.GoalID       `json:"goal"`
	Intent    nlu.Intent        `json:"intent,omitempty"`
	Collected map[string]string `json:"collected,omitempty"`
	Timestamp string            `json:"timestamp"`
}

type Option func(*Engine)

// WithPublisher emits goal transition events.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithRequiredFields replaces the fields checked at goal completion.
func WithRequiredFields(fields ...nlu.EntityKey) Option {
	return func(e *Engine) { e.required = append([]nlu.EntityKey(nil), fields...) }
}

// WithClock overrides time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	catalog    CatalogSource
	classifier IntentClassifier
	store      state.Store
	locker     state.Locker
	leads      LeadSaver
	events     Publisher
	logger     *slog.Logger
	required   []nlu.EntityKey
	now        func() time.Time
}

func New(catalog CatalogSource, classifier IntentClassifier, store state.Store, locker state.Locker, leads LeadSaver, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		catalog:    catalog,
		classifier: classifier,
		store:      store,
		locker:     locker,
		leads:      leads,
		logger:     logger,
		required:   DefaultRequiredFields,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle processes one inbound message from userID and returns the reply.
// Turns for the same user are serialised.
func (e *Engine) Handle(ctx context.Context, userID, text string) (Reply, error) {
	cat := e.catalog.Current()
	r := cat.Renderer()

	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return Reply{Text: r.Render(render.FallbackTemplate, nil)}, fmt.Errorf("lock %s: %w", userID, err)
	}
	defer unlock()

	st, found, err := e.store.Get(ctx, userID)
	if err != nil {
		return Reply{Text: r.Render(render.FallbackTemplate, nil)}, fmt.Errorf("load state: %w", err)
	}
	if !found {
		st = state.New(userID)
	}

	cls := e.classifier.Classify(ctx, text)
	entities := nlu.Extract(text)
	reply := Reply{Intent: cls.Intent, Confidence: cls.Confidence, Entities: entities}

	switch cls.Intent {
	case nlu.IntentGreeting:
		reply.Text = r.Render(TemplateWelcome, nil)
		reply.Reset = true
		return reply, e.clear(ctx, userID, found)
	case nlu.IntentGoodbye:
		reply.Text = fixedMessage(r, TemplateGoodbye, defaultGoodbye)
		reply.Reset = true
		return reply, e.clear(ctx, userID, found)
	case nlu.IntentThanks:
		reply.Text = fixedMessage(r, TemplateThanks, defaultThanks)
		reply.Goal = st.ActiveGoal
		reply.Step = st.CurrentStep
		return reply, nil
	}

	st.LastIntent = cls.Intent
	e.enterGoal(cat, st, cls.Intent)
	st.Merge(entities)

	out, completed, advErr := e.advance(ctx, cat, st)
	reply.Text = out
	reply.Goal = st.ActiveGoal
	reply.Step = st.CurrentStep

	if completed {
		reply.Completed = true
		e.publish(SubjectGoalCompleted, GoalEvent{
			UserID:    userID,
			Goal:      st.ActiveGoal,
			Intent:    cls.Intent,
			Collected: st.Vars(),
			Timestamp: e.now().UTC().Format(time.RFC3339),
		})
		e.logger.Info("goal completed", "user_id", userID, "goal", st.ActiveGoal)
		if err := e.store.Delete(ctx, userID); err != nil {
			return reply, fmt.Errorf("clear state: %w", err)
		}
		return reply, nil
	}

	st.AppendHistory(text, out, e.now().UTC())
	if err := e.store.Put(ctx, st); err != nil {
		return reply, fmt.Errorf("save state: %w", err)
	}

	e.logger.Debug("dialog turn",
		"user_id", userID,
		"intent", cls.Intent,
		"source", cls.Source,
		"goal", st.ActiveGoal,
		"step", st.CurrentStep,
	)
	return reply, advErr
}

// enterGoal starts a goal for idle users and repairs state left behind by a
// catalog reload.
func (e *Engine) enterGoal(cat *flow.Catalog, st *state.DialogState, intent nlu.Intent) {
	if !st.Idle() {
		steps, ok := cat.StepsFor(st.ActiveGoal)
		if ok {
			if st.CurrentStep > len(steps) {
				st.CurrentStep = len(steps)
			}
			return
		}
		e.logger.Warn("active goal no longer defined, restarting", "user_id", st.UserID, "goal", st.ActiveGoal)
	}

	goal := cat.DefaultGoalFor(intent)
	st.Start(goal)
	e.publish(SubjectGoalStarted, GoalEvent{
		UserID:    st.UserID,
		Goal:      goal,
		Intent:    intent,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	})
}

// advance skips collect steps that are already satisfied, then renders the
// step the user is on, or completes the goal when none remain.
func (e *Engine) advance(ctx context.Context, cat *flow.Catalog, st *state.DialogState) (string, bool, error) {
	r := cat.Renderer()
	steps, _ := cat.StepsFor(st.ActiveGoal)

	for st.CurrentStep < len(steps) {
		ce, ok := steps[st.CurrentStep].(flow.CollectEntity)
		if !ok || !st.Has(ce.Entity) {
			break
		}
		st.CurrentStep++
	}

	if st.CurrentStep > len(steps) || st.CurrentStep < 0 {
		panic(&StateError{UserID: st.UserID, Goal: st.ActiveGoal, Step: st.CurrentStep, Len: len(steps)})
	}
	if st.CurrentStep == len(steps) {
		return e.complete(ctx, r, st)
	}

	switch step := steps[st.CurrentStep].(type) {
	case flow.EmitResponse:
		st.CurrentStep++
		return r.Render(step.Template, st.Vars()), false, nil
	case flow.CollectEntity:
		if r.Has(step.QuestionTemplate) {
			return r.Render(step.QuestionTemplate, st.Vars()), false, nil
		}
		return render.EntityPrompt(string(step.Entity)), false, nil
	default:
		panic(&StateError{UserID: st.UserID, Goal: st.ActiveGoal, Step: st.CurrentStep, Len: len(steps)})
	}
}

func (e *Engine) complete(ctx context.Context, r *render.Renderer, st *state.DialogState) (string, bool, error) {
	for _, field := range e.required {
		if !st.Has(field) {
			return render.EntityPrompt(string(field)), false, nil
		}
	}

	if err := e.leads.SaveLead(ctx, st.UserID, st.CollectedData); err != nil {
		e.logger.Error("failed to save lead", "user_id", st.UserID, "error", err)
		return r.Render(render.FallbackTemplate, nil), false, fmt.Errorf("save lead: %w", err)
	}
	return r.Render(TemplateSuccess, st.Vars()), true, nil
}

// State returns a copy of the user's dialog state.
func (e *Engine) State(ctx context.Context, userID string) (*state.DialogState, bool, error) {
	return e.store.Get(ctx, userID)
}

// Reset forgets the user's dialog state.
func (e *Engine) Reset(ctx context.Context, userID string) error {
	unlock, err := e.locker.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("lock %s: %w", userID, err)
	}
	defer unlock()
	return e.store.Delete(ctx, userID)
}

// ActiveDialogs counts stored dialog states.
func (e *Engine) ActiveDialogs(ctx context.Context) (int, error) {
	return e.store.Len(ctx)
}

func (e *Engine) clear(ctx context.Context, userID string, found bool) error {
	if !found {
		return nil
	}
	if err := e.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

func (e *Engine) publish(subject string, evt GoalEvent) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(subject, evt); err != nil {
		e.logger.Warn("failed to publish dialog event", "subject", subject, "error", err)
	}
}

func fixedMessage(r *render.Renderer, name, fallback string) string {
	if r.Has(name) {
		return r.Render(name, nil)
	}
	return fallback
}
