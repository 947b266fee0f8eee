package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"threat-advisor/internal/model"
)

// AuditNotifier appends every threat as one JSON line to a file
type AuditNotifier struct {
	mu       sync.Mutex
	filePath string
}

func NewAuditNotifier(filePath string) *AuditNotifier {
	return &AuditNotifier{
		filePath: filePath,
	}
}

func (a *AuditNotifier) Name() string {
	return "audit"
}

func (a *AuditNotifier) SendAlert(threat model.Threat) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(threat); err != nil {
		return fmt.Errorf("failed to encode threat: %w", err)
	}
	return nil
}
