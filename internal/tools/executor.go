// Package tools runs the named side-effecting actions a flow document
// declares, such as saving a lead.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/envoy/internal/flow"
	"github.com/MikeSquared-Agency/envoy/internal/hermes"
	"github.com/MikeSquared-Agency/envoy/internal/nlu"
	"github.com/MikeSquared-Agency/envoy/internal/store"
)

const (
	CalendarCheck = "calendar_check"
	SaveLead      = "save_lead"
)

// Result is the JSON-shaped outcome of a tool call.
type Result struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// CatalogSource yields the current catalog; tools are looked up per call so
// a reloaded document takes effect immediately.
type CatalogSource interface {
	Current() *flow.Catalog
}

// LeadWriter persists leads. *store.Store satisfies it.
type LeadWriter interface {
	WriteLead(ctx context.Context, lead store.Lead) (uuid.UUID, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Option func(*Executor)

// WithLeadWriter stores leads in a database. Without one leads are only
// logged and announced.
func WithLeadWriter(w LeadWriter) Option {
	return func(e *Executor) { e.leads = w }
}

func WithPublisher(p Publisher) Option {
	return func(e *Executor) { e.bus = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

type Executor struct {
	catalog CatalogSource
	leads   LeadWriter
	bus     Publisher
	logger  *slog.Logger
	now     func() time.Time
}

func NewExecutor(catalog CatalogSource, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the named tool. Failures are reported in the Result, never
// as a Go error.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]string) Result {
	if !e.registered(name) {
		return Result{Error: fmt.Sprintf("Инструмент %s не найден", name)}
	}

	switch name {
	case CalendarCheck:
		date := params["date"]
		if date == "" {
			date = "завтра"
		}
		return Result{Success: true, Message: fmt.Sprintf("Время %s доступно для записи", date)}

	case SaveLead:
		data := make(map[string]string, len(params))
		for k, v := range params {
			if k != "user_id" {
				data[k] = v
			}
		}
		id, err := e.writeLead(ctx, params["user_id"], data)
		if err != nil {
			return Result{Error: err.Error()}
		}
		data["lead_id"] = id.String()
		return Result{Success: true, Message: "Лид успешно сохранен", Data: data}

	default:
		return Result{Error: fmt.Sprintf("Инструмент %s не реализован", name)}
	}
}

// SaveLead persists the data a completed dialog collected. It is the
// engine's lead hook and runs whether or not save_lead is listed as a tool.
func (e *Executor) SaveLead(ctx context.Context, userID string, collected map[nlu.EntityKey]string) error {
	data := make(map[string]string, len(collected))
	for k, v := range collected {
		data[string(k)] = v
	}
	_, err := e.writeLead(ctx, userID, data)
	return err
}

// Names lists the tools the current catalog declares.
func (e *Executor) Names() []string {
	specs := e.catalog.Current().Tools()
	names := make([]string, 0, len(specs))
	for _, t := range specs {
		names = append(names, t.Name)
	}
	return names
}

func (e *Executor) registered(name string) bool {
	for _, t := range e.catalog.Current().Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

func (e *Executor) writeLead(ctx context.Context, userID string, data map[string]string) (uuid.UUID, error) {
	lead := store.Lead{
		ID:      uuid.New(),
		UserID:  userID,
		Name:    data[string(nlu.EntityName)],
		Email:   data[string(nlu.EntityEmail)],
		Company: data[string(nlu.EntityCompany)],
		Phone:   data[string(nlu.EntityPhone)],
		Data:    data,
	}

	if e.leads != nil {
		id, err := e.leads.WriteLead(ctx, lead)
		if err != nil {
			return uuid.Nil, fmt.Errorf("write lead: %w", err)
		}
		lead.ID = id
	}

	e.logger.Info("lead saved", "lead_id", lead.ID, "user_id", userID, "fields", len(data))

	if e.bus != nil {
		evt := hermes.LeadSavedEvent{
			LeadID:    lead.ID.String(),
			UserID:    userID,
			Name:      lead.Name,
			Email:     lead.Email,
			Data:      data,
			Timestamp: e.now().UTC().Format(time.RFC3339),
		}
		if err := e.bus.Publish(hermes.SubjectLeadSaved, evt); err != nil {
			e.logger.Warn("failed to publish lead event", "lead_id", lead.ID, "error", err)
		}
	}
	return lead.ID, nil
}
