package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(utils.StorageConfig{Driver: "sqlite3", DSN: ":memory:"}, utils.NewLogger("ERROR"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleThreat(id string, ts time.Time, level model.RiskLevel, category string, score float64) model.Threat {
	return model.Threat{
		ID:          id,
		Timestamp:   ts,
		EventID:     "evt-" + id,
		EventType:   model.EventProcessStart,
		Source:      "system_monitor",
		ThreatName:  "Credential Dumping Tool",
		Description: "Known credential dumping tool executed",
		Category:    category,
		Severity:    model.SeverityHigh,
		Confidence:  0.9,
		Impact:      "system_control",
		RuleMatched: "MAL_001",
		EventData:   model.ProcessPayload{ProcessName: "mimikatz.exe", PID: 4242, Username: "bob"},
		RiskScore:   score,
		RiskLevel:   level,
		RiskComponents: model.RiskComponents{
			Severity: 0.85, Confidence: 0.9, Impact: 1.0, Prevalence: 0.8,
		},
		RiskAdjustments: []string{"Repeat offender: +20%"},
		ContextAdjusted: true,
	}
}

func TestSaveAndLoadThreat(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	id, err := s.SaveThreat(ctx, sampleThreat("t-1", now, model.RiskCritical, "Malware", 0.89))
	require.NoError(t, err)
	assert.Equal(t, "t-1", id)

	got, err := s.ThreatByID(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, got.Timestamp.Equal(now))
	assert.Equal(t, "MAL_001", got.RuleMatched)
	assert.Equal(t, model.RiskCritical, got.RiskLevel)
	assert.InDelta(t, 0.89, got.RiskScore, 1e-9)
	assert.Equal(t, model.RiskComponents{Severity: 0.85, Confidence: 0.9, Impact: 1.0, Prevalence: 0.8}, got.RiskComponents)
	assert.Equal(t, []string{"Repeat offender: +20%"}, got.RiskAdjustments)
	assert.True(t, got.ContextAdjusted)

	payload, ok := got.EventData.(model.ProcessPayload)
	require.True(t, ok)
	assert.Equal(t, "mimikatz.exe", payload.ProcessName)
	assert.Equal(t, 4242, payload.PID)
}

func TestSaveThreatGeneratesID(t *testing.T) {
	s := openTestStore(t)
	id, err := s.SaveThreat(context.Background(), sampleThreat("", time.Now(), model.RiskLow, "Malware", 0.1))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestThreatByIDNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ThreatByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveEvent(t *testing.T) {
	s := openTestStore(t)
	id, err := s.SaveEvent(context.Background(), model.Event{
		Timestamp: time.Now(),
		Type:      model.EventAuthFailure,
		Source:    "auth_log",
		Payload:   model.AuthPayload{Username: "root", RemoteIP: "203.0.113.7", Count: 6, Service: "sshd"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE id = ?`, id).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRecentThreatsOrderAndWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, offset := range []time.Duration{-48 * time.Hour, -2 * time.Hour, -1 * time.Hour, -3 * time.Hour} {
		_, err := s.SaveThreat(ctx, sampleThreat(string(rune('a'+i)), now.Add(offset), model.RiskHigh, "Malware", 0.7))
		require.NoError(t, err)
	}

	threats, err := s.RecentThreats(ctx, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, threats, 3)
	assert.Equal(t, "c", threats[0].ID)
	assert.Equal(t, "b", threats[1].ID)
	assert.Equal(t, "d", threats[2].ID)

	limited, err := s.RecentThreats(ctx, now.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].ID)
}

func TestStatistics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.SaveThreat(ctx, sampleThreat("1", now, model.RiskCritical, "Malware", 0.9))
	require.NoError(t, err)
	_, err = s.SaveThreat(ctx, sampleThreat("2", now, model.RiskHigh, "Malware", 0.7))
	require.NoError(t, err)
	_, err = s.SaveThreat(ctx, sampleThreat("3", now, model.RiskHigh, "Brute Force", 0.8))
	require.NoError(t, err)
	_, err = s.SaveThreat(ctx, sampleThreat("old", now.Add(-72*time.Hour), model.RiskLow, "Malware", 0.1))
	require.NoError(t, err)

	stats, err := s.Statistics(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[string]int{"Critical": 1, "High": 2}, stats.ByLevel)
	assert.Equal(t, map[string]int{"Malware": 2, "Brute Force": 1}, stats.ByCategory)
	assert.Equal(t, map[string]int{"high": 3}, stats.BySeverity)
	assert.InDelta(t, 0.8, stats.AverageScore, 1e-9)
}

func TestStatisticsEmpty(t *testing.T) {
	s := openTestStore(t)
	stats, err := s.Statistics(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.AverageScore)
	assert.Empty(t, stats.ByLevel)
}

func TestPurge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.SaveThreat(ctx, sampleThreat("new", now, model.RiskHigh, "Malware", 0.7))
	require.NoError(t, err)
	_, err = s.SaveThreat(ctx, sampleThreat("old", now.Add(-40*24*time.Hour), model.RiskHigh, "Malware", 0.7))
	require.NoError(t, err)

	deleted, err := s.Purge(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = s.ThreatByID(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ThreatByID(ctx, "new")
	assert.NoError(t, err)
}

func TestOpenCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "threats.db")
	s, err := Open(utils.StorageConfig{Driver: "sqlite3", DSN: dsn}, utils.NewLogger("ERROR"))
	require.NoError(t, err)
	defer s.Close()
	assert.FileExists(t, dsn)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y > $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y > ?"))

	lite := &Store{driver: "sqlite3"}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
