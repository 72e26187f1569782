package config

import (
	"fmt"
	"os"

	"github.com/draftline/draftline-go/schema"
	"github.com/draftline/draftline-go/workflow"
	"gopkg.in/yaml.v3"
)

// WorkflowDefinition is the YAML shape of a workflow file:
//
//	initialState: draft
//	transitions:
//	  draft:
//	    submit:
//	      target: review
//	      payload:
//	        required: [comment]
//	        fields:
//	          comment: {type: string}
//	  review:
//	    approve:
//	      target: published
//	    reject:
//	      target: draft
type WorkflowDefinition struct {
	InitialState string                               `yaml:"initialState"`
	Transitions  map[string]map[string]*TransitionDef `yaml:"transitions"`
	Content      *schema.Definition                   `yaml:"content"`
}

// TransitionDef is one action entry under a source state.
type TransitionDef struct {
	Target  string             `yaml:"target"`
	Payload *schema.Definition `yaml:"payload"`
}

// LoadWorkflow reads and parses a workflow definition file.
func LoadWorkflow(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow parses YAML workflow definition bytes.
func ParseWorkflow(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return &def, nil
}

// Table builds the transition table from the definition.
func (d *WorkflowDefinition) Table() (*workflow.Table, error) {
	var rules []workflow.Rule
	for source, actions := range d.Transitions {
		for action, t := range actions {
			if t == nil {
				return nil, fmt.Errorf("transition %s/%s: definition is empty", source, action)
			}
			rules = append(rules, workflow.Rule{
				SourceState: source,
				Action:      action,
				TargetState: t.Target,
				Payload:     t.Payload,
			})
		}
	}
	return workflow.NewTable(d.InitialState, rules)
}
