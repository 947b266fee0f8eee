package collector

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/nxadm/tail"
	"github.com/sirupsen/logrus"
)

// Failures at or above this count since the last sample are hinted medium
const authBurstHint = 5

var (
	reFailedInvalid = regexp.MustCompile(`Failed password for invalid user (\S+) from (\S+)`)
	reFailed        = regexp.MustCompile(`Failed password for (\S+) from (\S+)`)
)

type authFailures struct {
	username string
	count    int
}

// AuthLogCollector tails an sshd auth log and aggregates failed logins per
// remote address. Each Sample drains the counts accumulated since the last one.
type AuthLogCollector struct {
	path   string
	logger *logrus.Logger
	t      *tail.Tail

	mu       sync.Mutex
	failures map[string]*authFailures
	order    []string
}

func NewAuthLogCollector(cfg utils.AuthLogConfig, logger *logrus.Logger) *AuthLogCollector {
	return &AuthLogCollector{
		path:     cfg.Path,
		logger:   logger,
		failures: make(map[string]*authFailures),
	}
}

func (c *AuthLogCollector) Name() string {
	return SourceAuthLog
}

// Start follows the log from its current end, surviving rotation
func (c *AuthLogCollector) Start() error {
	t, err := tail.TailFile(c.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail file %s: %w", c.path, err)
	}
	c.t = t
	c.logger.Infof("Tailing auth log %s", c.path)

	go func() {
		for line := range t.Lines {
			if line.Err != nil {
				continue
			}
			c.observe(line.Text)
		}
	}()
	return nil
}

func (c *AuthLogCollector) Close() error {
	if c.t == nil {
		return nil
	}
	err := c.t.Stop()
	c.t.Cleanup()
	return err
}

func (c *AuthLogCollector) observe(line string) {
	if !strings.Contains(line, "sshd") {
		return
	}

	var user, ip string
	if m := reFailedInvalid.FindStringSubmatch(line); len(m) > 2 {
		user, ip = m[1], m[2]
	} else if m := reFailed.FindStringSubmatch(line); len(m) > 2 {
		user, ip = m[1], m[2]
	} else {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.failures[ip]
	if !ok {
		agg = &authFailures{}
		c.failures[ip] = agg
		c.order = append(c.order, ip)
	}
	agg.username = user
	agg.count++
}

func (c *AuthLogCollector) Sample(ctx context.Context) ([]model.Event, error) {
	c.mu.Lock()
	failures, order := c.failures, c.order
	c.failures = make(map[string]*authFailures)
	c.order = nil
	c.mu.Unlock()

	events := make([]model.Event, 0, len(order))
	for _, ip := range order {
		agg := failures[ip]
		hint := model.HintLow
		if agg.count >= authBurstHint {
			hint = model.HintMedium
		}
		events = append(events, newEvent(model.EventAuthFailure, SourceAuthLog, hint, model.AuthPayload{
			Username: agg.username,
			RemoteIP: ip,
			Count:    agg.count,
			Service:  "sshd",
		}))
	}
	return events, nil
}
