package rules

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"threat-advisor/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Format of a rules document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

type rulesDocument struct {
	Rules []model.Rule `yaml:"rules" json:"rules"`
}

// ParseRules decodes a rules document, validates it against the rules schema
// and then checks required fields and id uniqueness
func ParseRules(data []byte, format Format) ([]model.Rule, error) {
	var generic interface{}
	var doc rulesDocument

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse rules file: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse rules file: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse YAML rules file: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML rules file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported rules format %q", format)
	}

	if err := validateDocument(generic); err != nil {
		return nil, err
	}
	if err := ValidateRules(doc.Rules); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

// LoadRulesFromJSON loads rules from a JSON configuration file
func LoadRulesFromJSON(filename string) ([]model.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data, FormatJSON)
}

// LoadRulesFromYAML loads rules from a YAML configuration file
func LoadRulesFromYAML(filename string) ([]model.Rule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data, FormatYAML)
}

// LoadRules automatically detects file format and loads rules
func LoadRules(filename string) ([]model.Rule, error) {
	if len(filename) == 0 {
		return nil, fmt.Errorf("rules file path is empty")
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return LoadRulesFromYAML(filename)
	case ".json":
		return LoadRulesFromJSON(filename)
	}

	// Default: try YAML first, fallback to JSON
	if rules, err := LoadRulesFromYAML(filename); err == nil {
		return rules, nil
	}
	return LoadRulesFromJSON(filename)
}

// DefaultRules returns the built-in rule set
func DefaultRules() []model.Rule {
	rules, err := ParseRules(defaultRulesYAML, FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in rules are invalid: %v", err))
	}
	return rules
}
