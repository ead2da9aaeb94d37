package macro

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StepList is an ordered list of steps. In YAML and JSON each step is a
// mapping tagged by its "type" key.
type StepList []Step

// UnmarshalYAML decodes a sequence of type-tagged step mappings.
func (l *StepList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*l = nil
		return nil
	}
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("%w: steps must be a list (line %d)", ErrInvalidScript, value.Line)
	}

	steps := make(StepList, 0, len(value.Content))
	for i, n := range value.Content {
		step, err := decodeStepNode(n)
		if err != nil {
			return fmt.Errorf("step %d (line %d): %w", i, n.Line, err)
		}
		steps = append(steps, step)
	}
	*l = steps
	return nil
}

func decodeStepNode(n *yaml.Node) (Step, error) {
	var head struct {
		Type StepType `yaml:"type"`
	}
	if err := n.Decode(&head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing step type", ErrInvalidScript)
	}

	step, err := newStep(head.Type)
	if err != nil {
		return nil, err
	}
	if err := n.Decode(step); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	return step, nil
}

// MarshalYAML encodes each step as a mapping led by its type.
func (l StepList) MarshalYAML() (any, error) {
	nodes := make([]*yaml.Node, 0, len(l))
	for i, step := range l {
		n := &yaml.Node{}
		if err := n.Encode(step); err != nil {
			return nil, fmt.Errorf("encoding step %d: %w", i, err)
		}
		n.Content = append([]*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "type"},
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(step.Type())},
		}, n.Content...)
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// MarshalJSON encodes each step as an object with a "type" field.
func (l StepList) MarshalJSON() ([]byte, error) {
	out := make([]map[string]any, 0, len(l))
	for i, step := range l {
		raw, err := json.Marshal(step)
		if err != nil {
			return nil, fmt.Errorf("encoding step %d: %w", i, err)
		}
		fields := map[string]any{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("encoding step %d: %w", i, err)
		}
		fields["type"] = step.Type()
		out = append(out, fields)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes type-tagged step objects.
func (l *StepList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}

	steps := make(StepList, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			Type StepType `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("step %d: %w: %w", i, ErrInvalidScript, err)
		}
		step, err := newStep(head.Type)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := json.Unmarshal(raw, step); err != nil {
			return fmt.Errorf("step %d: %w: %w", i, ErrInvalidScript, err)
		}
		steps = append(steps, step)
	}
	*l = steps
	return nil
}

// ParseScript decodes a YAML script document. Any decoding problem is
// reported as ErrInvalidScript.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		if errors.Is(err, ErrInvalidScript) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	return &s, nil
}

// LoadScript reads and decodes a YAML script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// EncodeScript renders s as a YAML document.
func EncodeScript(s *Script) ([]byte, error) {
	return yaml.Marshal(s)
}
