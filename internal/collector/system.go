package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/sirupsen/logrus"
)

type procKey struct {
	pid  int
	name string
}

// SystemCollector samples processes and emits three disjoint families per call:
// suspicious names, CPU/memory threshold breaches and newly observed processes.
type SystemCollector struct {
	source          ProcessSource
	suspicious      []string
	allowlist       map[string]struct{}
	cpuThreshold    float64
	memoryThreshold float64
	logger          *logrus.Logger

	// previous holds the (pid, name) set of the last successful sample.
	// mu serializes Sample so overlapping calls cannot corrupt the diff.
	mu       sync.Mutex
	previous map[procKey]struct{}
}

func NewSystemCollector(cfg utils.SystemMonitorConfig, source ProcessSource, logger *logrus.Logger) *SystemCollector {
	suspicious := make([]string, 0, len(cfg.SuspiciousProcessNames))
	for _, n := range cfg.SuspiciousProcessNames {
		if n = strings.TrimSpace(n); n != "" {
			suspicious = append(suspicious, strings.ToLower(n))
		}
	}
	allow := make(map[string]struct{}, len(cfg.ProcessAllowlist))
	for _, n := range cfg.ProcessAllowlist {
		allow[strings.ToLower(n)] = struct{}{}
	}

	return &SystemCollector{
		source:          source,
		suspicious:      suspicious,
		allowlist:       allow,
		cpuThreshold:    cfg.CPUThreshold,
		memoryThreshold: cfg.MemoryThreshold,
		logger:          logger,
		previous:        make(map[procKey]struct{}),
	}
}

func (c *SystemCollector) Name() string {
	return SourceSystem
}

func (c *SystemCollector) Sample(ctx context.Context) ([]model.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	procs, err := c.source.Processes(ctx)
	if err != nil {
		if IsAccessDenied(err) {
			c.logger.Warnf("Access denied while enumerating processes, run with elevated privileges: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	var suspicious, resources, fresh []model.Event
	flagged := make(map[procKey]struct{})
	current := make(map[procKey]struct{}, len(procs))

	for _, p := range procs {
		if _, ok := c.allowlist[strings.ToLower(p.Name)]; ok {
			continue
		}
		key := procKey{pid: p.PID, name: p.Name}
		current[key] = struct{}{}

		if pattern, ok := c.matchSuspicious(p.Name); ok {
			flagged[key] = struct{}{}
			suspicious = append(suspicious, newEvent(model.EventProcessStart, SourceSystem, model.HintHigh, processPayload(p, "Matches suspicious pattern: "+pattern)))
			c.logger.Warnf("Suspicious process detected: %s (PID: %d)", p.Name, p.PID)
		}

		if p.CPUPercent > c.cpuThreshold {
			resources = append(resources, newEvent(model.EventHighCPU, SourceSystem, model.HintMedium, model.ResourcePayload{
				ProcessName: p.Name,
				PID:         p.PID,
				Metric:      model.MetricCPU,
				Value:       p.CPUPercent,
				Threshold:   c.cpuThreshold,
				Username:    p.Username,
			}))
		}
		if p.MemoryPercent > c.memoryThreshold {
			resources = append(resources, newEvent(model.EventHighMemory, SourceSystem, model.HintMedium, model.ResourcePayload{
				ProcessName: p.Name,
				PID:         p.PID,
				Metric:      model.MetricMemory,
				Value:       p.MemoryPercent,
				Threshold:   c.memoryThreshold,
				Username:    p.Username,
			}))
		}
	}

	for _, p := range procs {
		key := procKey{pid: p.PID, name: p.Name}
		if _, ok := current[key]; !ok {
			continue
		}
		if _, seen := c.previous[key]; seen {
			continue
		}
		if _, ok := flagged[key]; ok {
			continue
		}
		fresh = append(fresh, newEvent(model.EventProcessStart, SourceSystem, model.HintInfo, processPayload(p, "New process")))
	}
	c.previous = current

	events := make([]model.Event, 0, len(suspicious)+len(resources)+len(fresh))
	events = append(events, suspicious...)
	events = append(events, resources...)
	events = append(events, fresh...)

	c.logger.Debugf("System scan complete: %d processes, %d suspicious, %d over threshold, %d new",
		len(procs), len(suspicious), len(resources), len(fresh))
	return events, nil
}

func (c *SystemCollector) matchSuspicious(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, s := range c.suspicious {
		if strings.Contains(lower, s) {
			return s, true
		}
	}
	return "", false
}

func processPayload(p ProcessInfo, reason string) model.ProcessPayload {
	cpu, mem := p.CPUPercent, p.MemoryPercent
	return model.ProcessPayload{
		ProcessName:   p.Name,
		PID:           p.PID,
		CPUPercent:    &cpu,
		MemoryPercent: &mem,
		Username:      p.Username,
		Reason:        reason,
	}
}
