package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LangConfig is one entry of the platform language table.
type LangConfig struct {
	Display string `yaml:"display,omitempty" json:"display,omitempty"`
	// Comment is the line comment token, or an open/close pair for block comments.
	Comment CommentSyntax `yaml:"comment,omitempty" json:"comment,omitempty"`
	Hidden  bool          `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	// Remote names the provider that owns a remote-only entry.
	Remote    string            `yaml:"remote,omitempty" json:"remote,omitempty"`
	ValidAs   map[string]string `yaml:"validAs,omitempty" json:"validAs,omitempty"`
	Monaco    string            `yaml:"monaco,omitempty" json:"monaco,omitempty"`
	Highlight string            `yaml:"highlight,omitempty" json:"highlight,omitempty"`
}

// LanguageMapping is a provider's language table keyed by remote language key.
type LanguageMapping map[string]LangConfig

// CommentLine renders a marker line using the language comment syntax.
// It returns "" when the language declares no comment syntax.
func (c LangConfig) CommentLine(text string) string {
	switch len(c.Comment) {
	case 0:
		return ""
	case 1:
		return c.Comment[0] + " " + text
	default:
		return c.Comment[0] + " " + text + " " + c.Comment[1]
	}
}

// CommentSyntax is written in YAML either as a single token or as a pair.
type CommentSyntax []string

func (c *CommentSyntax) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*c = CommentSyntax{node.Value}
		return nil
	case yaml.SequenceNode:
		var tokens []string
		if err := node.Decode(&tokens); err != nil {
			return err
		}
		*c = tokens
		return nil
	}
	return fmt.Errorf("line %d: comment must be a string or a list", node.Line)
}

func (c CommentSyntax) MarshalYAML() (interface{}, error) {
	if len(c) == 1 {
		return c[0], nil
	}
	return []string(c), nil
}
