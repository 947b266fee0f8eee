package alert

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleThreat(level model.RiskLevel) model.Threat {
	return model.Threat{
		ID:          "t-1",
		Timestamp:   time.Date(2024, 3, 4, 22, 15, 0, 0, time.UTC),
		ThreatName:  "SSH Brute Force",
		Description: "Many failed logins",
		Category:    model.CategoryBruteForce,
		RuleMatched: "AUTH_001",
		EventType:   model.EventAuthFailure,
		EventData:   model.AuthPayload{Username: "root", RemoteIP: "198.51.100.7", Count: 12, Service: "sshd"},
		RiskScore:   0.9,
		RiskLevel:   level,
	}
}

type recordingNotifier struct {
	mu      sync.Mutex
	threats []model.Threat
	err     error
}

func (r *recordingNotifier) SendAlert(t model.Threat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threats = append(r.threats, t)
	return r.err
}

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestWithMinLevel(t *testing.T) {
	rec := &recordingNotifier{}
	f := WithMinLevel(rec, model.RiskHigh)

	require.NoError(t, f.SendAlert(sampleThreat(model.RiskMedium)))
	require.NoError(t, f.SendAlert(sampleThreat(model.RiskHigh)))
	require.NoError(t, f.SendAlert(sampleThreat(model.RiskCritical)))

	assert.Len(t, rec.threats, 2)
	assert.Contains(t, f.Name(), "recordingNotifier")
}

func TestLogAlertNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := NewLogAlertNotifier(logger)

	require.NoError(t, n.SendAlert(sampleThreat(model.RiskCritical)))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "AUTH_001", entry.Data["rule"])
	assert.Equal(t, "198.51.100.7", entry.Data["actor"])
	assert.Equal(t, "log", NameOf(n))
}

func TestAuditNotifier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	n := NewAuditNotifier(path)

	require.NoError(t, n.SendAlert(sampleThreat(model.RiskHigh)))
	require.NoError(t, n.SendAlert(sampleThreat(model.RiskLow)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "High", lines[0]["risk_level"])
	assert.Equal(t, "198.51.100.7", lines[0]["event_data"].(map[string]interface{})["remote_ip"])
}

func TestNATSPublisher(t *testing.T) {
	logger, _ := test.NewNullLogger()
	conn := &fakeConn{}
	p, err := NewNATSPublisher(conn, utils.NATSConfig{Subject: "threats"}, logger)
	require.NoError(t, err)

	require.NoError(t, p.SendAlert(sampleThreat(model.RiskCritical)))
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	assert.Equal(t, "threats.critical", msg.Subject)
	assert.Equal(t, "AUTH_001", msg.Header.Get("Rule-Id"))
	assert.Empty(t, msg.Header.Get("Content-Encoding"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "t-1", decoded["id"])
}

func TestNATSPublisher_Compressed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	conn := &fakeConn{}
	p, err := NewNATSPublisher(conn, utils.NATSConfig{Subject: "threats", Compress: true}, logger)
	require.NoError(t, err)

	require.NoError(t, p.SendAlert(sampleThreat(model.RiskHigh)))
	msg := conn.msgs[0]
	assert.Equal(t, "zstd", msg.Header.Get("Content-Encoding"))

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	raw, err := dec.DecodeAll(msg.Data, nil)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "High", decoded["risk_level"])
}

func TestNATSPublisher_Error(t *testing.T) {
	logger, _ := test.NewNullLogger()
	p, err := NewNATSPublisher(&fakeConn{err: errors.New("no responders")}, utils.NATSConfig{Subject: "threats"}, logger)
	require.NoError(t, err)
	assert.Error(t, p.SendAlert(sampleThreat(model.RiskLow)))
}

func TestTelegramNotifier(t *testing.T) {
	var got TelegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	n := NewTelegramNotifier(utils.TelegramConfig{BotToken: "TOKEN", ChatID: "42", Enabled: true}, logger).WithAPIURL(srv.URL)

	require.NoError(t, n.SendAlert(sampleThreat(model.RiskCritical)))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got.ChatID)
	assert.Contains(t, got.Text, "SSH Brute Force")
	assert.Contains(t, got.Text, "actor: 198.51.100.7")
}

func TestTelegramNotifier_TemplateAndRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	logger, _ := test.NewNullLogger()
	n := NewTelegramNotifier(utils.TelegramConfig{
		BotToken:        "TOKEN",
		ChatID:          "42",
		Enabled:         true,
		MessageTemplate: `{{.ThreatName}} at {{formatTime .Timestamp "15:04"}}`,
	}, logger).WithAPIURL(srv.URL)
	n.retryDelay = time.Millisecond

	assert.Equal(t, "SSH Brute Force at 22:15", n.formatThreatMessage(sampleThreat(model.RiskHigh)))
	assert.Error(t, n.SendAlert(sampleThreat(model.RiskHigh)))
	assert.Equal(t, 3, calls)
}

func TestTelegramNotifier_Disabled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	n := NewTelegramNotifier(utils.TelegramConfig{}, logger)
	assert.NoError(t, n.SendAlert(sampleThreat(model.RiskHigh)))
	assert.Error(t, n.SendTestMessage())
}
