package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a threat id is not in the store
var ErrNotFound = errors.New("threat not found")

// timestamps are kept as fixed-width UTC text so range filters compare lexically on both drivers
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		source TEXT,
		severity_hint TEXT,
		payload TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS threats (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		event_id TEXT,
		event_type TEXT,
		source TEXT,
		threat_name TEXT NOT NULL,
		description TEXT,
		category TEXT,
		severity TEXT,
		confidence DOUBLE PRECISION,
		impact TEXT,
		advisory_template TEXT,
		rule_matched TEXT,
		event_data TEXT,
		risk_score DOUBLE PRECISION,
		risk_level TEXT,
		risk_components TEXT,
		risk_adjustments TEXT,
		context_adjusted BOOLEAN
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threats_timestamp ON threats(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
}

// Store persists events and scored threats through database/sql
type Store struct {
	db     *sql.DB
	driver string
	logger *logrus.Logger
}

// Open connects to the configured database and creates the tables when missing
func Open(cfg utils.StorageConfig, logger *logrus.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	if driver == "sqlite3" && cfg.DSN != ":memory:" && !strings.HasPrefix(cfg.DSN, "file:") {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite serializes writers; a single connection also keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, logger: logger}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	logger.Infof("Threat store opened (driver=%s)", driver)
	return s, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n for postgres
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveEvent stores a raw event and returns its id, generating one when the event has none
func (s *Store) SaveEvent(ctx context.Context, e model.Event) (string, error) {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO events (id, timestamp, event_type, source, severity_hint, payload)
		VALUES (?, ?, ?, ?, ?, ?)`),
		id, formatTime(e.Timestamp), string(e.Type), e.Source, string(e.SeverityHint), string(payload))
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

// SaveThreat stores a scored threat and returns its id
func (s *Store) SaveThreat(ctx context.Context, t model.Threat) (string, error) {
	id := t.ID
	if id == "" {
		id = uuid.NewString()
	}
	eventData, err := json.Marshal(t.EventData)
	if err != nil {
		return "", fmt.Errorf("failed to encode event data: %w", err)
	}
	components, err := json.Marshal(t.RiskComponents)
	if err != nil {
		return "", fmt.Errorf("failed to encode risk components: %w", err)
	}
	adjustments, err := json.Marshal(t.RiskAdjustments)
	if err != nil {
		return "", fmt.Errorf("failed to encode risk adjustments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO threats (
			id, timestamp, event_id, event_type, source, threat_name, description, category,
			severity, confidence, impact, advisory_template, rule_matched, event_data,
			risk_score, risk_level, risk_components, risk_adjustments, context_adjusted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, formatTime(t.Timestamp), t.EventID, string(t.EventType), t.Source, t.ThreatName,
		t.Description, t.Category, string(t.Severity), t.Confidence, t.Impact, t.AdvisoryTemplate,
		t.RuleMatched, string(eventData), t.RiskScore, string(t.RiskLevel), string(components),
		string(adjustments), t.ContextAdjusted)
	if err != nil {
		return "", fmt.Errorf("failed to insert threat: %w", err)
	}
	return id, nil
}

const threatColumns = `id, timestamp, event_id, event_type, source, threat_name, description, category,
	severity, confidence, impact, advisory_template, rule_matched, event_data,
	risk_score, risk_level, risk_components, risk_adjustments, context_adjusted`

// RecentThreats returns threats newer than since, most recent first
func (s *Store) RecentThreats(ctx context.Context, since time.Time, limit int) ([]model.Threat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+threatColumns+`
		FROM threats
		WHERE timestamp > ?
		ORDER BY timestamp DESC
		LIMIT ?`), formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query threats: %w", err)
	}
	defer rows.Close()

	var threats []model.Threat
	for rows.Next() {
		t, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		threats = append(threats, t)
	}
	return threats, rows.Err()
}

// ThreatByID loads one threat, ErrNotFound when absent
func (s *Store) ThreatByID(ctx context.Context, id string) (model.Threat, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+threatColumns+` FROM threats WHERE id = ?`), id)
	t, err := scanThreat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Threat{}, ErrNotFound
	}
	return t, err
}

// Statistics summarizes threats recorded after since
type Statistics struct {
	Total        int            `json:"total_threats"`
	ByLevel      map[string]int `json:"by_risk_level"`
	ByCategory   map[string]int `json:"by_category"`
	BySeverity   map[string]int `json:"by_severity"`
	AverageScore float64        `json:"average_risk_score"`
	Since        time.Time      `json:"since"`
}

func (s *Store) Statistics(ctx context.Context, since time.Time) (Statistics, error) {
	stats := Statistics{
		ByLevel:    map[string]int{},
		ByCategory: map[string]int{},
		BySeverity: map[string]int{},
		Since:      since,
	}
	from := formatTime(since)

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*), AVG(risk_score) FROM threats WHERE timestamp > ?`), from).Scan(&stats.Total, &avg)
	if err != nil {
		return stats, fmt.Errorf("failed to count threats: %w", err)
	}
	if avg.Valid {
		stats.AverageScore = avg.Float64
	}

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"risk_level", stats.ByLevel},
		{"category", stats.ByCategory},
		{"severity", stats.BySeverity},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, from, g.into); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (s *Store) countBy(ctx context.Context, column, from string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(fmt.Sprintf(`
		SELECT %s, COUNT(*) FROM threats WHERE timestamp > ? GROUP BY %s`, column, column)), from)
	if err != nil {
		return fmt.Errorf("failed to group threats by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   sql.NullString
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan %s group: %w", column, err)
		}
		into[key.String] += count
	}
	return rows.Err()
}

// Purge deletes events and threats older than before and returns how many threats went away
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff := formatTime(before)
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM threats WHERE timestamp < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge threats: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM events WHERE timestamp < ?`), cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.logger.Infof("Purged %d threats older than %s", deleted, before.Format(time.RFC3339))
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreat(row rowScanner) (model.Threat, error) {
	var (
		t                                                                     model.Threat
		ts, eventType, severity, level                                        string
		eventID, source, description, category, impact, advisory, ruleMatched sql.NullString
		eventData, components, adjustments                                    sql.NullString
		confidence, score                                                     sql.NullFloat64
		adjusted                                                              sql.NullBool
	)
	err := row.Scan(&t.ID, &ts, &eventID, &eventType, &source, &t.ThreatName, &description, &category,
		&severity, &confidence, &impact, &advisory, &ruleMatched, &eventData,
		&score, &level, &components, &adjustments, &adjusted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan threat: %w", err)
	}

	t.Timestamp, err = time.Parse(timeLayout, ts)
	if err != nil {
		return t, fmt.Errorf("bad timestamp on threat %s: %w", t.ID, err)
	}
	t.EventID = eventID.String
	t.EventType = model.EventType(eventType)
	t.Source = source.String
	t.Description = description.String
	t.Category = category.String
	t.Severity = model.Severity(severity)
	t.Confidence = confidence.Float64
	t.Impact = impact.String
	t.AdvisoryTemplate = advisory.String
	t.RuleMatched = ruleMatched.String
	t.RiskScore = score.Float64
	t.RiskLevel = model.RiskLevel(level)
	t.ContextAdjusted = adjusted.Bool

	if eventData.Valid && eventData.String != "null" {
		if t.EventData, err = model.DecodePayload(t.EventType, []byte(eventData.String)); err != nil {
			return t, err
		}
	}
	if components.Valid {
		if err := json.Unmarshal([]byte(components.String), &t.RiskComponents); err != nil {
			return t, fmt.Errorf("bad risk components on threat %s: %w", t.ID, err)
		}
	}
	if adjustments.Valid && adjustments.String != "null" {
		if err := json.Unmarshal([]byte(adjustments.String), &t.RiskAdjustments); err != nil {
			return t, fmt.Errorf("bad risk adjustments on threat %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
