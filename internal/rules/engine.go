package rules

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"threat-advisor/internal/model"

	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidRule   = errors.New("invalid rule")
	ErrDuplicateRule = errors.New("duplicate rule id")
)

// Engine holds an ordered rule set and maps an event to at most one rule.
//
// Matching is first-match-wins: rules are tried in insertion order and the
// first rule whose conditions hold is the only one reported, so rule order is
// part of the configuration. Mutations replace the slice instead of editing it,
// which lets Check work on a snapshot without holding the lock while matching.
type Engine struct {
	rules  []model.Rule
	logger *logrus.Logger
	mu     sync.RWMutex
}

// Statistics summarises the loaded rule set
type Statistics struct {
	TotalRules int            `json:"total_rules"`
	BySeverity map[string]int `json:"by_severity"`
	ByCategory map[string]int `json:"by_category"`
}

func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		rules:  make([]model.Rule, 0),
		logger: logger,
	}
}

// NewEngineWithRules creates an engine preloaded with rules, failing on the first invalid one
func NewEngineWithRules(logger *logrus.Logger, rules []model.Rule) (*Engine, error) {
	e := NewEngine(logger)
	if err := e.ReplaceRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) snapshot() []model.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// Check returns a candidate for the first rule event satisfies
func (e *Engine) Check(event model.Event) (*model.Candidate, bool) {
	for _, rule := range e.snapshot() {
		if Matches(*rule.Conditions, event) {
			e.logger.Debugf("Event %s matched rule %s (%s)", event.Type, rule.ID, rule.Name)
			return &model.Candidate{Event: event, Rule: rule}, true
		}
	}
	return nil, false
}

// CheckAll runs Check on every event, keeping event order
func (e *Engine) CheckAll(events []model.Event) []model.Candidate {
	var candidates []model.Candidate
	for _, event := range events {
		if c, ok := e.Check(event); ok {
			candidates = append(candidates, *c)
		}
	}
	return candidates
}

// AddRule appends rule after validating it and checking its id is unused
func (e *Engine) AddRule(rule model.Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.rules {
		if r.ID == rule.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
		}
	}

	next := make([]model.Rule, len(e.rules), len(e.rules)+1)
	copy(next, e.rules)
	e.rules = append(next, normalize(rule))
	e.logger.Infof("Added rule: %s - %s", rule.ID, rule.Name)
	return nil
}

// RemoveRule deletes the rule with id, reporting whether it existed
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]model.Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.ID != id {
			next = append(next, r)
		}
	}
	if len(next) == len(e.rules) {
		return false
	}
	e.rules = next
	e.logger.Infof("Removed rule: %s", id)
	return true
}

// ReplaceRules swaps the whole rule set. Nothing changes unless every rule is valid.
func (e *Engine) ReplaceRules(rules []model.Rule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}

	next := make([]model.Rule, len(rules))
	for i, r := range rules {
		next[i] = normalize(r)
	}

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()

	e.logger.Infof("Loaded %d rules", len(next))
	return nil
}

// Rules returns a copy of the rule set in match order
func (e *Engine) Rules() []model.Rule {
	rules := e.snapshot()
	out := make([]model.Rule, len(rules))
	copy(out, rules)
	return out
}

func (e *Engine) RuleByID(id string) (model.Rule, bool) {
	for _, r := range e.snapshot() {
		if r.ID == id {
			return r, true
		}
	}
	return model.Rule{}, false
}

func (e *Engine) RulesByCategory(category string) []model.Rule {
	var out []model.Rule
	for _, r := range e.snapshot() {
		if r.Category == category {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) RulesBySeverity(severity model.Severity) []model.Rule {
	var out []model.Rule
	for _, r := range e.snapshot() {
		if strings.EqualFold(string(r.Severity), string(severity)) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) Count() int {
	return len(e.snapshot())
}

func (e *Engine) Statistics() Statistics {
	stats := Statistics{
		BySeverity: map[string]int{},
		ByCategory: map[string]int{},
	}
	for _, r := range e.snapshot() {
		stats.TotalRules++
		stats.BySeverity[string(r.Severity)]++
		category := r.Category
		if category == "" {
			category = "Unknown"
		}
		stats.ByCategory[category]++
	}
	return stats
}

// ValidateRule checks the fields every rule must carry
func ValidateRule(rule model.Rule) error {
	var missing []string
	if strings.TrimSpace(rule.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(rule.Name) == "" {
		missing = append(missing, "name")
	}
	if rule.Conditions == nil {
		missing = append(missing, "conditions")
	}
	if rule.Severity == "" {
		missing = append(missing, "severity")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w %q: missing required field(s) %s", ErrInvalidRule, rule.ID, strings.Join(missing, ", "))
	}
	if !rule.Severity.Valid() {
		return fmt.Errorf("%w %q: unknown severity %q", ErrInvalidRule, rule.ID, rule.Severity)
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return fmt.Errorf("%w %q: confidence %.2f outside [0,1]", ErrInvalidRule, rule.ID, rule.Confidence)
	}
	return nil
}

// ValidateRules validates each rule and the uniqueness of ids across the set
func ValidateRules(rules []model.Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := ValidateRule(r); err != nil {
			return err
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// normalize detaches the rule from caller-owned memory and lowercases severity
func normalize(rule model.Rule) model.Rule {
	rule.Severity = model.Severity(strings.ToLower(string(rule.Severity)))
	conds := *rule.Conditions
	conds.ProcessNameContains = slices.Clone(conds.ProcessNameContains)
	conds.PortIn = slices.Clone(conds.PortIn)
	conds.PathContains = slices.Clone(conds.PathContains)
	conds.ExtensionIn = slices.Clone(conds.ExtensionIn)
	rule.Conditions = &conds
	return rule
}
