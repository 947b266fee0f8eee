package risk

import (
	"strings"
	"sync"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ContextProvider derives re-scoring signals for threats.
// Repeat offenders are remembered per (rule, actor) in a bounded LRU.
type ContextProvider struct {
	startHour  int
	endHour    int
	privileged map[string]struct{}
	seen       *lru.Cache[string, int]
	mu         sync.Mutex
}

func NewContextProvider(cfg utils.RiskContextConfig) (*ContextProvider, error) {
	size := cfg.RepeatMemory
	if size <= 0 {
		size = 1024
	}
	seen, err := lru.New[string, int](size)
	if err != nil {
		return nil, err
	}

	privileged := make(map[string]struct{}, len(cfg.PrivilegedUsers))
	for _, u := range cfg.PrivilegedUsers {
		privileged[strings.ToLower(u)] = struct{}{}
	}

	return &ContextProvider{
		startHour:  cfg.BusinessHoursStart,
		endHour:    cfg.BusinessHoursEnd,
		privileged: privileged,
		seen:       seen,
	}, nil
}

// ContextFor records the threat's (rule, actor) sighting and returns its signals
func (p *ContextProvider) ContextFor(threat model.Threat) Context {
	key := threat.RuleMatched + "|" + threat.Actor()

	p.mu.Lock()
	count, repeat := p.seen.Get(key)
	p.seen.Add(key, count+1)
	p.mu.Unlock()

	_, privileged := p.privileged[strings.ToLower(threat.Username())]

	return Context{
		RepeatOffender: repeat,
		OffHours:       p.offHours(threat.Timestamp.Hour()),
		PrivilegedUser: privileged && threat.Username() != "",
	}
}

func (p *ContextProvider) offHours(hour int) bool {
	if p.startHour == p.endHour {
		return false
	}
	if p.startHour < p.endHour {
		return hour < p.startHour || hour >= p.endHour
	}
	// Business hours wrap past midnight
	return hour < p.startHour && hour >= p.endHour
}
