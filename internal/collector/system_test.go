package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func systemConfig() utils.SystemMonitorConfig {
	return utils.SystemMonitorConfig{
		Enabled:                true,
		SuspiciousProcessNames: []string{"mimikatz", "nmap"},
		CPUThreshold:           90,
		MemoryThreshold:        85,
	}
}

func eventTypes(events []model.Event) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestSystemCollector_Families(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := &fakeProcessSource{batches: [][]ProcessInfo{{
		{PID: 1, Name: "systemd"},
		{PID: 100, Name: "Mimikatz.exe", CPUPercent: 5},
		{PID: 200, Name: "xmrig", CPUPercent: 99, MemoryPercent: 90, Username: "www-data"},
		{PID: 300, Name: "java", MemoryPercent: 86},
	}}}
	c := NewSystemCollector(systemConfig(), src, logger)

	events, err := c.Sample(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []model.EventType{
		model.EventProcessStart, // suspicious
		model.EventHighCPU,
		model.EventHighMemory,
		model.EventHighMemory,
		model.EventProcessStart, // new: systemd
		model.EventProcessStart, // new: xmrig
		model.EventProcessStart, // new: java
	}, eventTypes(events))

	suspicious := events[0]
	assert.Equal(t, model.HintHigh, suspicious.SeverityHint)
	assert.Equal(t, SourceSystem, suspicious.Source)
	p := suspicious.Payload.(model.ProcessPayload)
	assert.Equal(t, 100, p.PID)
	assert.Contains(t, p.Reason, "mimikatz")

	cpu := events[1].Payload.(model.ResourcePayload)
	assert.Equal(t, 200, cpu.PID)
	assert.Equal(t, 99.0, cpu.Value)
	assert.Equal(t, 90.0, cpu.Threshold)
	assert.Equal(t, model.HintMedium, events[1].SeverityHint)

	for _, e := range events[4:] {
		assert.Equal(t, model.HintInfo, e.SeverityHint)
		assert.NotEqual(t, 100, e.Payload.(model.ProcessPayload).PID, "suspicious process repeated as new")
	}
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestSystemCollector_ThresholdIsExclusive(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := &fakeProcessSource{batches: [][]ProcessInfo{{
		{PID: 10, Name: "worker", CPUPercent: 90, MemoryPercent: 85},
	}}}
	c := NewSystemCollector(systemConfig(), src, logger)

	events, err := c.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.EventType{model.EventProcessStart}, eventTypes(events))
}

func TestSystemCollector_NewProcessDiff(t *testing.T) {
	logger, _ := test.NewNullLogger()
	base := []ProcessInfo{{PID: 1, Name: "init"}, {PID: 2, Name: "sshd"}}
	src := &fakeProcessSource{batches: [][]ProcessInfo{
		base,
		base,
		{{PID: 1, Name: "init"}, {PID: 3, Name: "bash"}},
		{{PID: 1, Name: "init"}, {PID: 2, Name: "sshd"}},
	}}
	c := NewSystemCollector(systemConfig(), src, logger)
	ctx := context.Background()

	first, err := c.Sample(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := c.Sample(ctx)
	require.NoError(t, err)
	assert.Empty(t, second)

	third, err := c.Sample(ctx)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "bash", third[0].Payload.(model.ProcessPayload).ProcessName)

	// sshd left in the previous sample, so it is new again
	fourth, err := c.Sample(ctx)
	require.NoError(t, err)
	require.Len(t, fourth, 1)
	assert.Equal(t, "sshd", fourth[0].Payload.(model.ProcessPayload).ProcessName)
}

func TestSystemCollector_Allowlist(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := systemConfig()
	cfg.ProcessAllowlist = []string{"nmap"}
	src := &fakeProcessSource{batches: [][]ProcessInfo{{{PID: 7, Name: "nmap", CPUPercent: 100}}}}
	c := NewSystemCollector(cfg, src, logger)

	events, err := c.Sample(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSystemCollector_AccessDenied(t *testing.T) {
	logger, hook := test.NewNullLogger()
	src := &fakeProcessSource{err: fmt.Errorf("read /proc: %w", os.ErrPermission)}
	c := NewSystemCollector(systemConfig(), src, logger)

	events, err := c.Sample(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestSystemCollector_OtherErrorsKeepSnapshot(t *testing.T) {
	logger, _ := test.NewNullLogger()
	src := &fakeProcessSource{batches: [][]ProcessInfo{{{PID: 1, Name: "init"}}}}
	c := NewSystemCollector(systemConfig(), src, logger)
	ctx := context.Background()

	_, err := c.Sample(ctx)
	require.NoError(t, err)

	src.err = errors.New("boom")
	_, err = c.Sample(ctx)
	assert.Error(t, err)

	src.err = nil
	events, err := c.Sample(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}
