package rules

import (
	"os"
	"path/filepath"
	"testing"

	"threat-advisor/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRules_YAML(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
rules:
  - id: R1
    name: Mimikatz
    category: Malware
    severity: high
    confidence: 0.9
    impact: system_control
    conditions:
      event_type: process_start
      process_name_contains: [mimikatz]
  - id: CATCH_ALL
    name: Everything
    severity: low
    conditions: {}
`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "R1", rules[0].ID)
	assert.Equal(t, []string{"mimikatz"}, rules[0].Conditions.ProcessNameContains)
	require.NotNil(t, rules[1].Conditions)
	assert.True(t, rules[1].Conditions.Empty())
}

func TestLoadRules_JSON(t *testing.T) {
	path := writeFile(t, "rules.json", `{"rules":[{"id":"N1","name":"Backdoor port","severity":"high","confidence":0.8,
"conditions":{"event_type":"network_connection","port_in":[4444]}}]}`)

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, []int{4444}, rules[0].Conditions.PortIn)
}

func TestLoadRules_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing conditions", `{"rules":[{"id":"X","name":"x","severity":"low"}]}`},
		{"unknown clause", `{"rules":[{"id":"X","name":"x","severity":"low","conditions":{"hostname":"a"}}]}`},
		{"confidence above one", `{"rules":[{"id":"X","name":"x","severity":"low","confidence":1.5,"conditions":{}}]}`},
		{"bad severity", `{"rules":[{"id":"X","name":"x","severity":"severe","conditions":{}}]}`},
		{"port out of range", `{"rules":[{"id":"X","name":"x","severity":"low","conditions":{"port_in":[70000]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.body), FormatJSON)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestLoadRules_DuplicateIDs(t *testing.T) {
	body := `{"rules":[{"id":"X","name":"a","severity":"low","conditions":{}},{"id":"X","name":"b","severity":"low","conditions":{}}]}`
	_, err := ParseRules([]byte(body), FormatJSON)
	assert.ErrorIs(t, err, ErrDuplicateRule)
}

func TestLoadRules_Errors(t *testing.T) {
	_, err := LoadRules("")
	assert.Error(t, err)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.NotEmpty(t, rules)
	require.NoError(t, ValidateRules(rules))

	e := newTestEngine(t, rules...)
	candidate, ok := e.Check(processEvent("mimikatz.exe"))
	require.True(t, ok)
	assert.Equal(t, model.CategoryMalware, candidate.Rule.Category)

	burst := model.Event{
		Type:    model.EventMultipleConnections,
		Payload: model.ConnectionBurstPayload{ProcessName: "nginx", PID: 10, ConnectionCount: 101},
	}
	candidate, ok = e.Check(burst)
	require.True(t, ok)
	assert.Equal(t, "NET_003", candidate.Rule.ID)

	newProcess := processEvent("bash")
	_, ok = e.Check(newProcess)
	assert.False(t, ok)
}
