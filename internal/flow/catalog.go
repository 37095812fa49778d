// Package flow holds the read-only catalog of goals, their step sequences
// and the intent-to-goal routing table.
package flow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/envoy/internal/nlu"
	"github.com/MikeSquared-Agency/envoy/internal/render"
)

// GoalID names a goal in the catalog.
type GoalID string

const (
	GoalCollectContactInfo GoalID = "collect_contact_info"
	GoalQualifyLead        GoalID = "qualify_lead"
	GoalScheduleDemo       GoalID = "schedule_demo"

	// DefaultGoal receives every intent without its own route.
	DefaultGoal = GoalCollectContactInfo
)

var intentGoals = map[nlu.Intent]GoalID{
	nlu.IntentExpressInterest: GoalCollectContactInfo,
	nlu.IntentRequestPrice:    GoalCollectContactInfo,
	nlu.IntentRequestInfo:     GoalCollectContactInfo,
	nlu.IntentAskAboutProduct: GoalQualifyLead,
	nlu.IntentScheduleMeeting: GoalScheduleDemo,
}

// ConfigError reports a document that is missing, unreadable, or fails
// validation.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("flow config %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("flow config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Step is one position in a goal's sequence: either CollectEntity or
// EmitResponse.
type Step interface {
	isStep()
}

// CollectEntity asks for Entity until the user's collected data contains it.
type CollectEntity struct {
	Entity           nlu.EntityKey
	QuestionTemplate string
}

// EmitResponse renders Template once and moves on.
type EmitResponse struct {
	Template string
}

func (CollectEntity) isStep() {}
func (EmitResponse) isStep()  {}

// Catalog is immutable after New returns and safe for concurrent reads.
type Catalog struct {
	agent     AgentConfig
	goals     map[GoalID][]Step
	goalOrder []GoalID
	intents   []nlu.Intent
	templates map[string]string
	tools     []ToolSpec
	renderer  *render.Renderer
}

// New validates doc and builds a catalog from it. Every failure is a
// *ConfigError.
func New(doc *Document) (*Catalog, error) {
	if doc == nil {
		return nil, &ConfigError{Err: errors.New("empty document")}
	}

	var problems []string
	for _, section := range []string{"agent_config", "goals", "intents", "templates", "dialog_flows"} {
		if !doc.has(section) {
			problems = append(problems, "missing section "+section)
		}
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Err: errors.New(strings.Join(problems, "; "))}
	}

	c := &Catalog{
		agent:     doc.Agent,
		goals:     make(map[GoalID][]Step, len(doc.DialogFlows)),
		templates: make(map[string]string, len(doc.Templates)),
		tools:     append([]ToolSpec(nil), doc.Tools...),
	}
	for k, v := range doc.Templates {
		c.templates[k] = v
	}

	for _, raw := range doc.Intents {
		in, ok := nlu.ParseIntent(raw)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown intent %q", raw))
			continue
		}
		c.intents = append(c.intents, in)
	}

	names := make([]string, 0, len(doc.DialogFlows))
	for name := range doc.DialogFlows {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		specs := doc.DialogFlows[name]
		if len(specs) == 0 {
			problems = append(problems, fmt.Sprintf("goal %s has no steps", name))
			continue
		}
		steps := make([]Step, 0, len(specs))
		for i, spec := range specs {
			step, err := buildStep(spec)
			if err != nil {
				problems = append(problems, fmt.Sprintf("goal %s step %d: %v", name, i, err))
				continue
			}
			steps = append(steps, step)
		}
		c.goals[GoalID(name)] = steps
	}

	for _, g := range doc.Goals {
		if _, ok := doc.DialogFlows[g]; !ok {
			problems = append(problems, fmt.Sprintf("goal %s listed without a dialog flow", g))
		}
		c.goalOrder = append(c.goalOrder, GoalID(g))
	}
	for _, name := range names {
		if !contains(doc.Goals, name) {
			c.goalOrder = append(c.goalOrder, GoalID(name))
		}
	}

	if _, ok := doc.DialogFlows[string(DefaultGoal)]; !ok {
		problems = append(problems, fmt.Sprintf("default goal %s has no dialog flow", DefaultGoal))
	}

	for i, tool := range doc.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			problems = append(problems, fmt.Sprintf("tool %d has no name", i))
		}
	}

	if len(problems) > 0 {
		return nil, &ConfigError{Err: errors.New(strings.Join(problems, "; "))}
	}

	c.renderer = render.New(c.templates)
	return c, nil
}

// LoadCatalog reads and validates the document at path.
func LoadCatalog(path string) (*Catalog, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	c, err := New(doc)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) && ce.Path == "" {
			ce.Path = path
		}
		return nil, err
	}
	return c, nil
}

func buildStep(spec StepSpec) (Step, error) {
	switch spec.Type {
	case StepTypeCollectEntity:
		entity := strings.TrimSpace(spec.Entity)
		if entity == "" {
			return nil, errors.New("collect_entity without entity")
		}
		if !nlu.EntityKey(entity).Known() {
			return nil, fmt.Errorf("collect_entity with unknown entity %q", entity)
		}
		q := spec.QuestionTemplate
		if q == "" {
			q = "ask_" + entity
		}
		return CollectEntity{Entity: nlu.EntityKey(entity), QuestionTemplate: q}, nil
	case StepTypeGenerateResponse:
		if spec.Template == "" {
			return nil, errors.New("generate_response without template")
		}
		return EmitResponse{Template: spec.Template}, nil
	default:
		return nil, fmt.Errorf("unknown step type %q", spec.Type)
	}
}

// Current lets a fixed catalog stand in wherever a reloading Source is
// accepted.
func (c *Catalog) Current() *Catalog { return c }

// StepsFor returns the ordered steps of goal. The slice must not be modified.
func (c *Catalog) StepsFor(goal GoalID) ([]Step, bool) {
	steps, ok := c.goals[goal]
	return steps, ok
}

// DefaultGoalFor routes an intent to a goal. Unrouted intents, and routes
// to goals this catalog does not define, land on DefaultGoal.
func (c *Catalog) DefaultGoalFor(intent nlu.Intent) GoalID {
	if g, ok := intentGoals[intent]; ok {
		if _, defined := c.goals[g]; defined {
			return g
		}
	}
	return DefaultGoal
}

func (c *Catalog) Agent() AgentConfig { return c.agent }

// Goals lists goal IDs, document order first.
func (c *Catalog) Goals() []GoalID {
	return append([]GoalID(nil), c.goalOrder...)
}

func (c *Catalog) Intents() []nlu.Intent {
	return append([]nlu.Intent(nil), c.intents...)
}

func (c *Catalog) Tools() []ToolSpec {
	return append([]ToolSpec(nil), c.tools...)
}

// Templates returns a copy of the template table.
func (c *Catalog) Templates() map[string]string {
	out := make(map[string]string, len(c.templates))
	for k, v := range c.templates {
		out[k] = v
	}
	return out
}

// Renderer renders this catalog's templates.
func (c *Catalog) Renderer() *render.Renderer { return c.renderer }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
