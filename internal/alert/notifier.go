package alert

import (
	"fmt"

	"threat-advisor/internal/model"
)

// Notifier interface for threat notification
type Notifier interface {
	SendAlert(threat model.Threat) error
}

type named interface {
	Name() string
}

// NameOf returns the notifier's name, falling back to its type
func NameOf(n Notifier) string {
	if nn, ok := n.(named); ok {
		return nn.Name()
	}
	return fmt.Sprintf("%T", n)
}

// LevelFilter forwards only threats at or above a minimum risk level
type LevelFilter struct {
	next Notifier
	min  model.RiskLevel
}

// WithMinLevel wraps next so threats below min are dropped silently
func WithMinLevel(next Notifier, min model.RiskLevel) *LevelFilter {
	return &LevelFilter{next: next, min: min}
}

func (f *LevelFilter) SendAlert(threat model.Threat) error {
	if threat.RiskLevel.Rank() < f.min.Rank() {
		return nil
	}
	return f.next.SendAlert(threat)
}

func (f *LevelFilter) Name() string {
	return NameOf(f.next)
}
