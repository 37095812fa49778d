package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk agent configuration.
type Document struct {
	Agent       AgentConfig           `json:"agent_config" yaml:"agent_config"`
	Goals       []string              `json:"goals" yaml:"goals"`
	Intents     []string              `json:"intents" yaml:"intents"`
	Templates   map[string]string     `json:"templates" yaml:"templates"`
	DialogFlows map[string][]StepSpec `json:"dialog_flows" yaml:"dialog_flows"`
	Tools       []ToolSpec            `json:"tools" yaml:"tools"`

	// present records which top-level sections appeared in the source, so
	// validation can tell an empty section from a missing one.
	present map[string]bool
}

type AgentConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Language    string `json:"language,omitempty" yaml:"language,omitempty"`
}

// StepSpec is the serialized form of a Step.
type StepSpec struct {
	Type             string `json:"type" yaml:"type"`
	Entity           string `json:"entity,omitempty" yaml:"entity,omitempty"`
	QuestionTemplate string `json:"question_template,omitempty" yaml:"question_template,omitempty"`
	Template         string `json:"template,omitempty" yaml:"template,omitempty"`
}

type ToolSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Step type names used in documents.
const (
	StepTypeCollectEntity    = "collect_entity"
	StepTypeGenerateResponse = "generate_response"
)

// Load reads a document from path. Files ending in .yaml or .yml are parsed
// as YAML, everything else as JSON.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var doc *Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		doc, err = ParseYAML(data)
	default:
		doc, err = ParseJSON(data)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return doc, nil
}

// ParseJSON decodes a JSON document.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	doc.present = make(map[string]bool, len(sections))
	for k := range sections {
		doc.present[k] = true
	}
	return &doc, nil
}

// ParseYAML decodes a YAML document.
func ParseYAML(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	doc.present = make(map[string]bool, len(sections))
	for k := range sections {
		doc.present[k] = true
	}
	return &doc, nil
}

func (d *Document) has(section string) bool {
	if d.present == nil {
		// Built in code rather than parsed.
		switch section {
		case "agent_config":
			return d.Agent != (AgentConfig{})
		case "goals":
			return d.Goals != nil
		case "intents":
			return d.Intents != nil
		case "templates":
			return d.Templates != nil
		case "dialog_flows":
			return d.DialogFlows != nil
		}
		return false
	}
	return d.present[section]
}
