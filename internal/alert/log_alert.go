package alert

import (
	"threat-advisor/internal/model"

	"github.com/sirupsen/logrus"
)

// LogAlertNotifier sends threats to local logs
type LogAlertNotifier struct {
	logger *logrus.Logger
}

// NewLogAlertNotifier creates a new log alert notifier
func NewLogAlertNotifier(logger *logrus.Logger) *LogAlertNotifier {
	return &LogAlertNotifier{
		logger: logger,
	}
}

func (ln *LogAlertNotifier) Name() string {
	return "log"
}

// SendAlert implements Notifier interface - sends threat to logs
func (ln *LogAlertNotifier) SendAlert(threat model.Threat) error {
	ln.logger.WithFields(logrus.Fields{
		"threat_id":  threat.ID,
		"rule":       threat.RuleMatched,
		"category":   threat.Category,
		"risk_score": threat.RiskScore,
		"actor":      threat.Actor(),
		"source":     threat.Source,
	}).Warnf("THREAT [%s] %s: %s", threat.RiskLevel, threat.ThreatName, threat.Description)
	return nil
}
