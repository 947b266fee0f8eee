package pipeline

import (
	"context"
	"fmt"

	"threat-advisor/internal/model"
	"threat-advisor/internal/risk"

	"github.com/sirupsen/logrus"
)

// Matcher maps an event to at most one rule
type Matcher interface {
	Check(event model.Event) (*model.Candidate, bool)
}

// ContextSource supplies re-scoring signals for a freshly scored threat
type ContextSource interface {
	ContextFor(threat model.Threat) risk.Context
}

// Processor receives an event, matches it against the rules, scores the match
// and optionally re-scores it by context
type Processor struct {
	matcher  Matcher
	scorer   *risk.Scorer
	contexts ContextSource
	logger   *logrus.Logger
}

// NewProcessor creates a new processor instance. contexts may be nil to skip re-scoring.
func NewProcessor(matcher Matcher, scorer *risk.Scorer, contexts ContextSource, logger *logrus.Logger) *Processor {
	return &Processor{
		matcher:  matcher,
		scorer:   scorer,
		contexts: contexts,
		logger:   logger,
	}
}

// Process returns the threat derived from event, or nil when no rule matched.
// A panic while handling the event is returned as an error.
func (p *Processor) Process(ctx context.Context, event model.Event) (threat *model.Threat, err error) {
	defer func() {
		if r := recover(); r != nil {
			threat = nil
			err = fmt.Errorf("panic processing event %s (%s): %v", event.ID, event.Type, r)
		}
	}()

	candidate, ok := p.matcher.Check(event)
	if !ok {
		return nil, nil
	}

	scored := p.scorer.Score(*candidate)
	if p.contexts != nil {
		adjusted, err := p.scorer.AdjustByContext(scored, p.contexts.ContextFor(scored))
		if err != nil {
			return nil, err
		}
		scored = adjusted
	}

	p.logger.Infof("Threat detected: %s (Rule: %s, Severity: %s, Risk: %s %.3f)",
		scored.ThreatName, scored.RuleMatched, scored.Severity, scored.RiskLevel, scored.RiskScore)
	return &scored, nil
}

// ProcessAll handles events in order. A failing event is logged and skipped
// so the remaining events are still processed.
func (p *Processor) ProcessAll(ctx context.Context, events []model.Event) ([]model.Threat, []error) {
	var threats []model.Threat
	var errs []error

	for _, event := range events {
		threat, err := p.Process(ctx, event)
		if err != nil {
			p.logger.Errorf("Failed to process event %s: %v", event.ID, err)
			errs = append(errs, err)
			continue
		}
		if threat != nil {
			threats = append(threats, *threat)
		}
	}

	return threats, errs
}
