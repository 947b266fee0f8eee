package collector

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"threat-advisor/internal/model"

	"github.com/google/uuid"
)

// Event sources reported on emitted events
const (
	SourceSystem    = "system_monitor"
	SourceNetwork   = "network_monitor"
	SourceAuthLog   = "auth_log"
	SourceFileWatch = "file_watch"
)

// ErrAccessDenied marks host reads that failed for lack of privilege.
// Collectors treat it as recoverable and return an empty sample.
var ErrAccessDenied = errors.New("access denied")

// Collector produces events by sampling host state
type Collector interface {
	Name() string
	Sample(ctx context.Context) ([]model.Event, error)
}

// IsAccessDenied reports whether err stems from insufficient privilege
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, fs.ErrPermission)
}

// ProcessInfo is one running process as seen by a ProcessSource
type ProcessInfo struct {
	PID           int
	Name          string
	CPUPercent    float64
	MemoryPercent float64
	Username      string
}

// ProcessSource enumerates running processes
type ProcessSource interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
}

// ConnectionInfo is one socket with a remote endpoint
type ConnectionInfo struct {
	PID         int
	ProcessName string
	LocalIP     string
	LocalPort   int
	RemoteIP    string
	RemotePort  int
	Status      string
}

// ConnectionSource enumerates established connections
type ConnectionSource interface {
	Connections(ctx context.Context) ([]ConnectionInfo, error)
}

func newEvent(eventType model.EventType, source string, hint model.SeverityHint, payload model.Payload) model.Event {
	return model.Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         eventType,
		Source:       source,
		SeverityHint: hint,
		Payload:      payload,
	}
}
