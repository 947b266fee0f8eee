package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyAdjusted is returned when context re-scoring is applied to a threat twice
var ErrAlreadyAdjusted = errors.New("threat already adjusted by context")

const defaultImpactFactor = 3

var severityScores = map[model.Severity]float64{
	model.SeverityLow:      0.25,
	model.SeverityMedium:   0.5,
	model.SeverityHigh:     0.85,
	model.SeverityCritical: 1.0,
}

// Historical true-positive priors per category, keyed lowercase
var prevalenceScores = map[string]float64{
	"malware":              0.8,
	"brute force":          0.9,
	"network attack":       0.7,
	"resource abuse":       0.6,
	"file tampering":       0.5,
	"network scan":         0.7,
	"privilege escalation": 0.6,
	"script attack":        0.7,
	"data theft":           0.5,
	"code injection":       0.4,
}

// Weights of the four sub-scores. They are not required to sum to 1.
type Weights struct {
	Severity   float64
	Confidence float64
	Impact     float64
	Prevalence float64
}

// Thresholds are the ascending lower bounds of Medium, High and Critical
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

type Config struct {
	Weights       Weights
	Thresholds    Thresholds
	ImpactFactors map[string]int
}

func DefaultConfig() Config {
	return Config{
		Weights:    Weights{Severity: 0.4, Confidence: 0.3, Impact: 0.2, Prevalence: 0.1},
		Thresholds: Thresholds{Low: 0.3, Medium: 0.6, High: 0.85},
		ImpactFactors: map[string]int{
			"data_access":          3,
			"system_control":       5,
			"network_access":       4,
			"privilege_escalation": 5,
		},
	}
}

// ConfigFrom builds a scorer config from the YAML section, keeping defaults for unset values
func ConfigFrom(rc utils.RiskAssessmentConfig) Config {
	cfg := DefaultConfig()
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&cfg.Weights.Severity, rc.Weights.Severity)
	set(&cfg.Weights.Confidence, rc.Weights.Confidence)
	set(&cfg.Weights.Impact, rc.Weights.Impact)
	set(&cfg.Weights.Prevalence, rc.Weights.Prevalence)
	set(&cfg.Thresholds.Low, rc.Thresholds.Low)
	set(&cfg.Thresholds.Medium, rc.Thresholds.Medium)
	set(&cfg.Thresholds.High, rc.Thresholds.High)
	if rc.ImpactFactors != nil {
		cfg.ImpactFactors = make(map[string]int, len(rc.ImpactFactors))
		for k, v := range rc.ImpactFactors {
			cfg.ImpactFactors[k] = v
		}
	}
	return cfg
}

// Scorer turns rule matches into scored threats. It holds no mutable state.
type Scorer struct {
	cfg    Config
	logger *logrus.Logger
}

func NewScorer(cfg Config, logger *logrus.Logger) *Scorer {
	t := cfg.Thresholds
	if !(t.Low <= t.Medium && t.Medium <= t.High) {
		logger.Warnf("Risk thresholds are not ascending (low=%.2f medium=%.2f high=%.2f), classification bands may be empty", t.Low, t.Medium, t.High)
	}
	return &Scorer{cfg: cfg, logger: logger}
}

func (s *Scorer) Config() Config {
	return s.cfg
}

// Score builds a Threat from a candidate and computes its risk
func (s *Scorer) Score(c model.Candidate) model.Threat {
	components := model.RiskComponents{
		Severity:   round3(SeverityScore(c.Rule.Severity)),
		Confidence: round3(c.Rule.Confidence),
		Impact:     round3(s.impactScore(c.Rule.Impact)),
		Prevalence: round3(PrevalenceScore(c.Rule.Category)),
	}

	w := s.cfg.Weights
	raw := w.Severity*SeverityScore(c.Rule.Severity) +
		w.Confidence*c.Rule.Confidence +
		w.Impact*s.impactScore(c.Rule.Impact) +
		w.Prevalence*PrevalenceScore(c.Rule.Category)
	score := round3(clamp(raw))

	ts := c.Event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	threat := model.Threat{
		ID:               uuid.NewString(),
		Timestamp:        ts,
		EventID:          c.Event.ID,
		EventType:        c.Event.Type,
		Source:           c.Event.Source,
		ThreatName:       c.Rule.Name,
		Description:      c.Rule.Description,
		Category:         c.Rule.Category,
		Severity:         c.Rule.Severity,
		Confidence:       c.Rule.Confidence,
		Impact:           c.Rule.Impact,
		AdvisoryTemplate: c.Rule.AdvisoryTemplate,
		RuleMatched:      c.Rule.ID,
		EventData:        c.Event.Payload,
		RiskScore:        score,
		RiskLevel:        s.Classify(score),
		RiskComponents:   components,
	}

	s.logger.Debugf("Risk calculated for %s: score=%.3f level=%s", threat.ThreatName, threat.RiskScore, threat.RiskLevel)
	return threat
}

// Classify maps a score to a level. A score equal to a threshold falls in the higher band.
func (s *Scorer) Classify(score float64) model.RiskLevel {
	t := s.cfg.Thresholds
	switch {
	case score < t.Low:
		return model.RiskLow
	case score < t.Medium:
		return model.RiskMedium
	case score < t.High:
		return model.RiskHigh
	default:
		return model.RiskCritical
	}
}

// Context carries the signals used for re-scoring
type Context struct {
	RepeatOffender bool `json:"repeat_offender"`
	OffHours       bool `json:"off_hours"`
	PrivilegedUser bool `json:"privileged_user"`
}

// AdjustByContext returns a re-scored copy of threat. Multipliers apply in a fixed
// order and each threat may be adjusted only once.
func (s *Scorer) AdjustByContext(threat model.Threat, ctx Context) (model.Threat, error) {
	if threat.ContextAdjusted {
		return threat, fmt.Errorf("%w: %s", ErrAlreadyAdjusted, threat.ID)
	}

	score := threat.RiskScore
	var adjustments []string
	if ctx.RepeatOffender {
		score *= 1.2
		adjustments = append(adjustments, "Increased: Repeat offender")
	}
	if ctx.OffHours {
		score *= 1.1
		adjustments = append(adjustments, "Increased: Off-hours activity")
	}
	if ctx.PrivilegedUser {
		score *= 1.15
		adjustments = append(adjustments, "Increased: Privileged user account")
	}

	adjusted := threat
	adjusted.RiskScore = round3(clamp(score))
	adjusted.RiskLevel = s.Classify(adjusted.RiskScore)
	adjusted.RiskAdjustments = adjustments
	adjusted.ContextAdjusted = true

	if len(adjustments) > 0 {
		s.logger.Debugf("Risk adjusted for %s: %.3f -> %.3f (%s)", threat.ThreatName, threat.RiskScore, adjusted.RiskScore, strings.Join(adjustments, ", "))
	}
	return adjusted, nil
}

// Explain renders a human-readable breakdown of a threat's score
func (s *Scorer) Explain(threat model.Threat) string {
	var b strings.Builder
	c := threat.RiskComponents
	w := s.cfg.Weights
	fmt.Fprintf(&b, "Risk Level: %s (Score: %.2f)\n\n", threat.RiskLevel, threat.RiskScore)
	b.WriteString("Risk Calculation:\n")
	fmt.Fprintf(&b, "- Severity: %.2f (weight: %g)\n", c.Severity, w.Severity)
	fmt.Fprintf(&b, "- Confidence: %.2f (weight: %g)\n", c.Confidence, w.Confidence)
	fmt.Fprintf(&b, "- Impact: %.2f (weight: %g)\n", c.Impact, w.Impact)
	fmt.Fprintf(&b, "- Prevalence: %.2f (weight: %g)\n", c.Prevalence, w.Prevalence)
	if len(threat.RiskAdjustments) > 0 {
		b.WriteString("\nContext Adjustments:\n")
		for _, a := range threat.RiskAdjustments {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return b.String()
}

// SeverityScore maps a severity to its sub-score, 0.5 when unknown
func SeverityScore(sev model.Severity) float64 {
	if v, ok := severityScores[model.Severity(strings.ToLower(string(sev)))]; ok {
		return v
	}
	return 0.5
}

// PrevalenceScore maps a category to its prior, 0.5 when unknown
func PrevalenceScore(category string) float64 {
	if v, ok := prevalenceScores[strings.ToLower(category)]; ok {
		return v
	}
	return 0.5
}

func (s *Scorer) impactScore(impact string) float64 {
	factor, ok := s.cfg.ImpactFactors[impact]
	if !ok {
		factor = defaultImpactFactor
	}
	return math.Min(float64(factor)/5.0, 1.0)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
