package model

import "strings"

// Severity is the author-assigned severity of a rule
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities (case-insensitive)
func (s Severity) Valid() bool {
	switch Severity(strings.ToLower(string(s))) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rule categories
const (
	CategoryMalware             = "Malware"
	CategoryBruteForce          = "Brute Force"
	CategoryNetworkAttack       = "Network Attack"
	CategoryResourceAbuse       = "Resource Abuse"
	CategoryFileTampering       = "File Tampering"
	CategoryNetworkScan         = "Network Scan"
	CategoryPrivilegeEscalation = "Privilege Escalation"
	CategoryScriptAttack        = "Script Attack"
	CategoryDataTheft           = "Data Theft"
	CategoryCodeInjection       = "Code Injection"
)

// Rule is a detection signature. Rules are treated as immutable once registered.
type Rule struct {
	ID               string      `yaml:"id" json:"id"`
	Name             string      `yaml:"name" json:"name"`
	Description      string      `yaml:"description" json:"description"`
	Category         string      `yaml:"category" json:"category"`
	Severity         Severity    `yaml:"severity" json:"severity"`
	Confidence       float64     `yaml:"confidence" json:"confidence"`
	Impact           string      `yaml:"impact" json:"impact"`
	Conditions       *Conditions `yaml:"conditions" json:"conditions"`
	AdvisoryTemplate string      `yaml:"advisory_template,omitempty" json:"advisory_template,omitempty"`
}

// Conditions is a conjunction of clauses. A nil slice or pointer means the clause
// is absent; a present but empty list can never be satisfied.
type Conditions struct {
	EventType           string   `yaml:"event_type,omitempty" json:"event_type,omitempty"`
	ProcessNameContains []string `yaml:"process_name_contains,omitempty" json:"process_name_contains,omitempty"`
	PortIn              []int    `yaml:"port_in,omitempty" json:"port_in,omitempty"`
	CPUPercent          *float64 `yaml:"cpu_percent,omitempty" json:"cpu_percent,omitempty"`
	PathContains        []string `yaml:"path_contains,omitempty" json:"path_contains,omitempty"`
	ExtensionIn         []string `yaml:"extension_in,omitempty" json:"extension_in,omitempty"`
	ConnectionCount     *int     `yaml:"connection_count,omitempty" json:"connection_count,omitempty"`
	Count               *int     `yaml:"count,omitempty" json:"count,omitempty"`
}

// Empty reports whether no clause is present, i.e. the rule matches every event
func (c Conditions) Empty() bool {
	return c.EventType == "" &&
		c.ProcessNameContains == nil &&
		c.PortIn == nil &&
		c.CPUPercent == nil &&
		c.PathContains == nil &&
		c.ExtensionIn == nil &&
		c.ConnectionCount == nil &&
		c.Count == nil
}

// Candidate is the matcher output: one event and the first rule it satisfied
type Candidate struct {
	Event Event
	Rule  Rule
}
