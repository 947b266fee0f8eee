package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"threat-advisor/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanMetrics_ObserveScan(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewScanMetrics(reg)

	events := []model.Event{
		{Type: model.EventProcessStart, Source: "system_monitor"},
		{Type: model.EventProcessStart, Source: "system_monitor"},
		{Type: model.EventNetworkConnection, Source: "network_monitor"},
	}
	threats := []model.Threat{
		{RuleMatched: "MAL_001", Category: "Malware", RiskLevel: model.RiskCritical, RiskScore: 0.965},
	}
	m.ObserveScan(120*time.Millisecond, events, threats)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("process_start", "system_monitor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ThreatsTotal.WithLabelValues("MAL_001", "Malware", "Critical")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RiskScore))

	m.SetRunning(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Running))
	m.SetRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Running))
}

func TestHandler(t *testing.T) {
	reg := CreateCustomRegistry()
	m := NewScanMetrics(reg)
	m.RulesLoaded.Set(16)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	expected := `
# HELP threat_advisor_rules_loaded Number of detection rules currently loaded
# TYPE threat_advisor_rules_loaded gauge
threat_advisor_rules_loaded 16
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "threat_advisor_rules_loaded"))

	assert.NoError(t, testutil.ScrapeAndCompare(srv.URL+"/metrics", strings.NewReader(expected), "threat_advisor_rules_loaded"))
}
