package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the family an Event belongs to
type EventType string

const (
	EventProcessStart        EventType = "process_start"
	EventHighCPU             EventType = "high_cpu"
	EventHighMemory          EventType = "high_memory"
	EventNetworkConnection   EventType = "network_connection"
	EventMultipleConnections EventType = "multiple_connections"
	EventFileModified        EventType = "file_modified"
	EventAuthFailure         EventType = "auth_failure"
)

// SeverityHint is the collector's own opinion of an event; rules decide the real severity
type SeverityHint string

const (
	HintInfo   SeverityHint = "info"
	HintLow    SeverityHint = "low"
	HintMedium SeverityHint = "medium"
	HintHigh   SeverityHint = "high"
)

// Event represents a normalized observation emitted by a collector
type Event struct {
	ID           string       `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	Type         EventType    `json:"event_type"`
	Source       string       `json:"source"`
	SeverityHint SeverityHint `json:"severity_hint"`
	Payload      Payload      `json:"data"`
}

// Attributes returns the matchable view of the payload, empty when there is none
func (e Event) Attributes() Attributes {
	if e.Payload == nil {
		return Attributes{}
	}
	return e.Payload.Attributes()
}

// Payload is implemented by one typed struct per event family
type Payload interface {
	Attributes() Attributes
}

// Attributes is the flattened, optional field set rule conditions are evaluated against.
// A nil field means the payload does not carry it.
type Attributes struct {
	ProcessName     *string
	PID             *int
	CPUPercent      *float64
	MemoryPercent   *float64
	RemoteIP        *string
	RemotePort      *int
	FilePath        *string
	ConnectionCount *int
	Count           *int
	Username        *string
}

// ProcessPayload describes a running process (process_start)
type ProcessPayload struct {
	ProcessName   string   `json:"process_name"`
	PID           int      `json:"pid"`
	CPUPercent    *float64 `json:"cpu_percent,omitempty"`
	MemoryPercent *float64 `json:"memory_percent,omitempty"`
	Username      string   `json:"username,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

func (p ProcessPayload) Attributes() Attributes {
	a := Attributes{
		ProcessName:   &p.ProcessName,
		PID:           &p.PID,
		CPUPercent:    p.CPUPercent,
		MemoryPercent: p.MemoryPercent,
	}
	if p.Username != "" {
		a.Username = &p.Username
	}
	return a
}

// Resource metric names carried by ResourcePayload
const (
	MetricCPU    = "cpu_percent"
	MetricMemory = "memory_percent"
)

// ResourcePayload describes a process over a CPU or memory threshold (high_cpu, high_memory)
type ResourcePayload struct {
	ProcessName string  `json:"process_name"`
	PID         int     `json:"pid"`
	Metric      string  `json:"metric"`
	Value       float64 `json:"value"`
	Threshold   float64 `json:"threshold"`
	Username    string  `json:"username,omitempty"`
}

func (p ResourcePayload) Attributes() Attributes {
	a := Attributes{
		ProcessName: &p.ProcessName,
		PID:         &p.PID,
	}
	switch p.Metric {
	case MetricCPU:
		a.CPUPercent = &p.Value
	case MetricMemory:
		a.MemoryPercent = &p.Value
	}
	if p.Username != "" {
		a.Username = &p.Username
	}
	return a
}

// ConnectionPayload describes one established connection (network_connection)
type ConnectionPayload struct {
	ProcessName  string `json:"process_name"`
	PID          int    `json:"pid,omitempty"`
	RemoteIP     string `json:"remote_ip"`
	RemotePort   int    `json:"remote_port"`
	LocalAddress string `json:"local_address"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

func (p ConnectionPayload) Attributes() Attributes {
	a := Attributes{
		ProcessName: &p.ProcessName,
		RemoteIP:    &p.RemoteIP,
		RemotePort:  &p.RemotePort,
	}
	if p.PID != 0 {
		a.PID = &p.PID
	}
	return a
}

// ConnectionBurstPayload describes a process holding too many connections (multiple_connections)
type ConnectionBurstPayload struct {
	ProcessName       string   `json:"process_name"`
	PID               int      `json:"pid"`
	ConnectionCount   int      `json:"connection_count"`
	Threshold         int      `json:"threshold"`
	SampleConnections []string `json:"sample_connections"`
}

func (p ConnectionBurstPayload) Attributes() Attributes {
	return Attributes{
		ProcessName:     &p.ProcessName,
		PID:             &p.PID,
		ConnectionCount: &p.ConnectionCount,
	}
}

// FilePayload describes a change on a watched path (file_modified)
type FilePayload struct {
	FilePath  string `json:"file_path"`
	Operation string `json:"operation"`
}

func (p FilePayload) Attributes() Attributes {
	return Attributes{FilePath: &p.FilePath}
}

// AuthPayload describes failed logins aggregated per remote address (auth_failure)
type AuthPayload struct {
	Username string `json:"username"`
	RemoteIP string `json:"remote_ip"`
	Count    int    `json:"count"`
	Service  string `json:"service"`
}

func (p AuthPayload) Attributes() Attributes {
	return Attributes{
		Username: &p.Username,
		RemoteIP: &p.RemoteIP,
		Count:    &p.Count,
	}
}

// DecodePayload restores the typed payload of an event family from JSON
func DecodePayload(eventType EventType, data []byte) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch eventType {
	case EventProcessStart:
		var p ProcessPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventHighCPU, EventHighMemory:
		var p ResourcePayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventNetworkConnection:
		var p ConnectionPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventMultipleConnections:
		var p ConnectionBurstPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventFileModified:
		var p FilePayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventAuthFailure:
		var p AuthPayload
		err = json.Unmarshal(data, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", eventType, err)
	}
	return payload, nil
}
