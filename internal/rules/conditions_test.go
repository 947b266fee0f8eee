package rules

import (
	"testing"

	"threat-advisor/internal/model"

	"github.com/stretchr/testify/assert"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestMatches(t *testing.T) {
	cpu := 95.0
	tests := []struct {
		name     string
		conds    model.Conditions
		event    model.Event
		expected bool
	}{
		{
			name:     "empty conditions match anything",
			conds:    model.Conditions{},
			event:    model.Event{Type: model.EventAuthFailure},
			expected: true,
		},
		{
			name:     "event type mismatch",
			conds:    model.Conditions{EventType: "process_start"},
			event:    model.Event{Type: model.EventHighCPU},
			expected: false,
		},
		{
			name:     "process name is case-insensitive substring",
			conds:    model.Conditions{ProcessNameContains: []string{"MimiKatz"}},
			event:    model.Event{Type: model.EventProcessStart, Payload: model.ProcessPayload{ProcessName: "mimikatz.exe"}},
			expected: true,
		},
		{
			name:     "process name clause fails without process name",
			conds:    model.Conditions{ProcessNameContains: []string{"x"}},
			event:    model.Event{Type: model.EventFileModified, Payload: model.FilePayload{FilePath: "/tmp/x"}},
			expected: false,
		},
		{
			name:     "present but empty list never matches",
			conds:    model.Conditions{ProcessNameContains: []string{}},
			event:    model.Event{Payload: model.ProcessPayload{ProcessName: "bash"}},
			expected: false,
		},
		{
			name:     "port in set",
			conds:    model.Conditions{PortIn: []int{4444, 31337}},
			event:    model.Event{Payload: model.ConnectionPayload{RemoteIP: "203.0.113.9", RemotePort: 4444}},
			expected: true,
		},
		{
			name:     "port not in set",
			conds:    model.Conditions{PortIn: []int{4444}},
			event:    model.Event{Payload: model.ConnectionPayload{RemoteIP: "203.0.113.9", RemotePort: 443}},
			expected: false,
		},
		{
			name:     "port clause fails without port",
			conds:    model.Conditions{PortIn: []int{4444}},
			event:    model.Event{Payload: model.ProcessPayload{ProcessName: "nc"}},
			expected: false,
		},
		{
			name:     "cpu at threshold matches",
			conds:    model.Conditions{CPUPercent: floatPtr(90)},
			event:    model.Event{Payload: model.ResourcePayload{Metric: model.MetricCPU, Value: 90}},
			expected: true,
		},
		{
			name:     "cpu below threshold",
			conds:    model.Conditions{CPUPercent: floatPtr(90)},
			event:    model.Event{Payload: model.ResourcePayload{Metric: model.MetricCPU, Value: 89.9}},
			expected: false,
		},
		{
			name:     "cpu from process payload",
			conds:    model.Conditions{CPUPercent: floatPtr(90)},
			event:    model.Event{Payload: model.ProcessPayload{ProcessName: "xmrig", CPUPercent: &cpu}},
			expected: true,
		},
		{
			name:     "missing cpu counts as zero",
			conds:    model.Conditions{CPUPercent: floatPtr(0)},
			event:    model.Event{Payload: model.FilePayload{FilePath: "/etc/passwd"}},
			expected: true,
		},
		{
			name:     "path contains",
			conds:    model.Conditions{PathContains: []string{"/ETC/"}},
			event:    model.Event{Payload: model.FilePayload{FilePath: "/etc/shadow"}},
			expected: true,
		},
		{
			name:     "path clause fails without file path",
			conds:    model.Conditions{PathContains: []string{"/etc"}},
			event:    model.Event{Payload: model.ProcessPayload{ProcessName: "bash"}},
			expected: false,
		},
		{
			name:     "extension suffix is case-insensitive",
			conds:    model.Conditions{ExtensionIn: []string{".ps1"}},
			event:    model.Event{Payload: model.FilePayload{FilePath: "C:/Temp/Run.PS1"}},
			expected: true,
		},
		{
			name:     "extension mismatch",
			conds:    model.Conditions{ExtensionIn: []string{".sh"}},
			event:    model.Event{Payload: model.FilePayload{FilePath: "/tmp/readme.txt"}},
			expected: false,
		},
		{
			name:     "connection count at threshold",
			conds:    model.Conditions{ConnectionCount: intPtr(100)},
			event:    model.Event{Payload: model.ConnectionBurstPayload{ConnectionCount: 100}},
			expected: true,
		},
		{
			name:     "missing connection count counts as zero",
			conds:    model.Conditions{ConnectionCount: intPtr(1)},
			event:    model.Event{Payload: model.ProcessPayload{ProcessName: "bash"}},
			expected: false,
		},
		{
			name:     "missing count counts as one",
			conds:    model.Conditions{Count: intPtr(1)},
			event:    model.Event{Payload: model.ProcessPayload{ProcessName: "bash"}},
			expected: true,
		},
		{
			name:     "aggregated count below threshold",
			conds:    model.Conditions{Count: intPtr(5)},
			event:    model.Event{Payload: model.AuthPayload{RemoteIP: "198.51.100.7", Count: 4}},
			expected: false,
		},
		{
			name: "all clauses are ANDed",
			conds: model.Conditions{
				EventType:    "file_modified",
				PathContains: []string{"/var/www"},
				ExtensionIn:  []string{".php"},
			},
			event:    model.Event{Type: model.EventFileModified, Payload: model.FilePayload{FilePath: "/var/www/html/index.html"}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Matches(tt.conds, tt.event))
		})
	}
}
