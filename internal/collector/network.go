package collector

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"

	"threat-advisor/internal/model"
	"threat-advisor/internal/utils"

	"github.com/sirupsen/logrus"
)

const sampleConnectionLimit = 5

// NetworkCollector samples established connections
type NetworkCollector struct {
	source          ConnectionSource
	suspiciousPorts map[int]struct{}
	allowlist       map[string]struct{}
	maxConnections  int
	reportPrivate   bool
	logger          *logrus.Logger
	mu              sync.Mutex
}

func NewNetworkCollector(cfg utils.NetworkMonitorConfig, source ConnectionSource, logger *logrus.Logger) *NetworkCollector {
	ports := make(map[int]struct{}, len(cfg.SuspiciousPorts))
	for _, p := range cfg.SuspiciousPorts {
		ports[p] = struct{}{}
	}
	allow := make(map[string]struct{}, len(cfg.IPAllowlist))
	for _, ip := range cfg.IPAllowlist {
		allow[ip] = struct{}{}
	}

	return &NetworkCollector{
		source:          source,
		suspiciousPorts: ports,
		allowlist:       allow,
		maxConnections:  cfg.MaxConnectionsPerProcess,
		reportPrivate:   cfg.ReportPrivateDestinations,
		logger:          logger,
	}
}

func (c *NetworkCollector) Name() string {
	return SourceNetwork
}

func (c *NetworkCollector) Sample(ctx context.Context) ([]model.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conns, err := c.source.Connections(ctx)
	if err != nil {
		if IsAccessDenied(err) {
			c.logger.Warnf("Access denied for network connections, run with elevated privileges: %v", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to enumerate connections: %w", err)
	}

	var suspicious, excessive, private []model.Event
	byPID := make(map[int][]ConnectionInfo)
	var pids []int

	for _, conn := range conns {
		if conn.RemoteIP == "" || conn.RemotePort == 0 {
			continue
		}
		if _, ok := c.allowlist[conn.RemoteIP]; ok {
			continue
		}

		if _, ok := c.suspiciousPorts[conn.RemotePort]; ok {
			suspicious = append(suspicious, newEvent(model.EventNetworkConnection, SourceNetwork, model.HintHigh,
				connectionPayload(conn, "Connection to suspicious port")))
			c.logger.Warnf("Suspicious port connection: %s -> %s:%d", processName(conn), conn.RemoteIP, conn.RemotePort)
		} else if c.reportPrivate && isPrivate(conn.RemoteIP) {
			private = append(private, newEvent(model.EventNetworkConnection, SourceNetwork, model.HintLow,
				connectionPayload(conn, "Connection to private IP range")))
		}

		if conn.PID > 0 {
			if _, ok := byPID[conn.PID]; !ok {
				pids = append(pids, conn.PID)
			}
			byPID[conn.PID] = append(byPID[conn.PID], conn)
		}
	}

	sort.Ints(pids)
	for _, pid := range pids {
		list := byPID[pid]
		if len(list) <= c.maxConnections {
			continue
		}
		samples := make([]string, 0, sampleConnectionLimit)
		for i := 0; i < len(list) && i < sampleConnectionLimit; i++ {
			samples = append(samples, net.JoinHostPort(list[i].RemoteIP, strconv.Itoa(list[i].RemotePort)))
		}
		excessive = append(excessive, newEvent(model.EventMultipleConnections, SourceNetwork, model.HintMedium, model.ConnectionBurstPayload{
			ProcessName:       processName(list[0]),
			PID:               pid,
			ConnectionCount:   len(list),
			Threshold:         c.maxConnections,
			SampleConnections: samples,
		}))
		c.logger.Warnf("Excessive connections: %s (PID %d) has %d connections", processName(list[0]), pid, len(list))
	}

	events := make([]model.Event, 0, len(suspicious)+len(excessive)+len(private))
	events = append(events, suspicious...)
	events = append(events, excessive...)
	events = append(events, private...)

	c.logger.Debugf("Network scan complete: %d connections, %d events", len(conns), len(events))
	return events, nil
}

func connectionPayload(conn ConnectionInfo, reason string) model.ConnectionPayload {
	return model.ConnectionPayload{
		ProcessName:  processName(conn),
		PID:          conn.PID,
		RemoteIP:     conn.RemoteIP,
		RemotePort:   conn.RemotePort,
		LocalAddress: net.JoinHostPort(conn.LocalIP, strconv.Itoa(conn.LocalPort)),
		Status:       conn.Status,
		Reason:       reason,
	}
}

func processName(conn ConnectionInfo) string {
	if conn.ProcessName == "" {
		return "Unknown"
	}
	return conn.ProcessName
}

func isPrivate(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.Unmap().IsPrivate()
}
