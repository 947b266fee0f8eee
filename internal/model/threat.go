package model

import "time"

// RiskLevel is the threshold-derived label of a risk score
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Rank orders risk levels, unknown levels rank below Low
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

// RiskComponents are the four sub-scores behind a risk score
type RiskComponents struct {
	Severity   float64 `json:"severity_score"`
	Confidence float64 `json:"confidence_score"`
	Impact     float64 `json:"impact_score"`
	Prevalence float64 `json:"prevalence_score"`
}

// Threat is a matched, scored unit derived from exactly one Event and one Rule
type Threat struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	EventID          string    `json:"event_id"`
	EventType        EventType `json:"event_type"`
	Source           string    `json:"source"`
	ThreatName       string    `json:"threat_name"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	Severity         Severity  `json:"severity"`
	Confidence       float64   `json:"confidence"`
	Impact           string    `json:"impact"`
	AdvisoryTemplate string    `json:"advisory_template,omitempty"`
	RuleMatched      string    `json:"rule_matched"`
	EventData        Payload   `json:"event_data"`

	RiskScore       float64        `json:"risk_score"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	RiskComponents  RiskComponents `json:"risk_components"`
	RiskAdjustments []string       `json:"risk_adjustments,omitempty"`
	ContextAdjusted bool           `json:"context_adjusted"`
}

// Actor returns the best identifier of who triggered the threat
func (t Threat) Actor() string {
	if t.EventData == nil {
		return ""
	}
	a := t.EventData.Attributes()
	switch {
	case a.ProcessName != nil && *a.ProcessName != "":
		return *a.ProcessName
	case a.RemoteIP != nil && *a.RemoteIP != "":
		return *a.RemoteIP
	case a.FilePath != nil:
		return *a.FilePath
	case a.Username != nil:
		return *a.Username
	}
	return ""
}

// Username returns the account attached to the threat's event, if any
func (t Threat) Username() string {
	if t.EventData == nil {
		return ""
	}
	if u := t.EventData.Attributes().Username; u != nil {
		return *u
	}
	return ""
}
