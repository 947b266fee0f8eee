package storage

import (
	"strings"
	"sync"

	"threat-advisor/internal/model"

	"github.com/sirupsen/logrus"
)

// Storage keeps the most recent threats in memory and fans them out to
// stream subscribers. It is an alert.Notifier so the scanner feeds it directly.
type Storage struct {
	mu         sync.RWMutex
	threats    []model.Threat
	maxThreats int
	logger     *logrus.Logger
	subs       map[*ThreatSubscriber]bool
	subsMu     sync.RWMutex
}

type ThreatSubscriber struct {
	ID      string
	Channel chan model.Threat
	Filter  ThreatFilter
}

// ThreatFilter narrows a subscription or a listing; empty fields match everything
type ThreatFilter struct {
	RiskLevel string
	Category  string
	Search    string
}

// Matches reports whether t passes the filter
func (f ThreatFilter) Matches(t model.Threat) bool {
	if f.RiskLevel != "" && !strings.EqualFold(string(t.RiskLevel), f.RiskLevel) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(t.Category, f.Category) {
		return false
	}
	if f.Search != "" && !contains(t.ThreatName, f.Search) && !contains(t.Description, f.Search) {
		return false
	}
	return true
}

type ThreatStats struct {
	Total      int            `json:"total_threats"`
	ByLevel    map[string]int `json:"by_risk_level"`
	ByCategory map[string]int `json:"by_category"`
}

func NewStorage(logger *logrus.Logger) *Storage {
	return &Storage{
		threats:    make([]model.Threat, 0),
		maxThreats: 10000, // Keep last 10k threats
		logger:     logger,
		subs:       make(map[*ThreatSubscriber]bool),
	}
}

func (s *Storage) Name() string {
	return "stream"
}

// SendAlert records the threat and notifies subscribers
func (s *Storage) SendAlert(threat model.Threat) error {
	s.mu.Lock()
	s.threats = append(s.threats, threat)
	if len(s.threats) > s.maxThreats {
		s.threats = s.threats[len(s.threats)-s.maxThreats:]
	}
	s.mu.Unlock()

	s.notifySubscribers(threat)
	return nil
}

// GetThreats returns up to limit threats, latest first
func (s *Storage) GetThreats(limit int, filter ThreatFilter) []model.Threat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Threat, 0)
	for i := len(s.threats) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.Matches(s.threats[i]) {
			result = append(result, s.threats[i])
		}
	}
	return result
}

func (s *Storage) GetThreatByID(id string) *model.Threat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.threats {
		if s.threats[i].ID == id {
			t := s.threats[i]
			return &t
		}
	}
	return nil
}

func (s *Storage) GetThreatStats() ThreatStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ThreatStats{
		Total:      len(s.threats),
		ByLevel:    make(map[string]int),
		ByCategory: make(map[string]int),
	}
	for i := range s.threats {
		stats.ByLevel[string(s.threats[i].RiskLevel)]++
		stats.ByCategory[s.threats[i].Category]++
	}
	return stats
}

func (s *Storage) Subscribe(sub *ThreatSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[sub] = true
}

func (s *Storage) Unsubscribe(sub *ThreatSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.subs[sub] {
		delete(s.subs, sub)
		close(sub.Channel)
	}
}

func (s *Storage) SubscriberCount() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

func (s *Storage) notifySubscribers(threat model.Threat) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for sub := range s.subs {
		if !sub.Filter.Matches(threat) {
			continue
		}
		select {
		case sub.Channel <- threat:
		default:
			// Channel full, skip
			s.logger.Debugf("Subscriber %s lagging, dropped threat %s", sub.ID, threat.ID)
		}
	}
}

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
