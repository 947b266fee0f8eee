package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "configs/threat_advisor.yaml"

// Config is the root of the YAML configuration file
type Config struct {
	Application    ApplicationConfig    `yaml:"application"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Detection      DetectionConfig      `yaml:"detection"`
	RiskAssessment RiskAssessmentConfig `yaml:"risk_assessment"`
	Storage        StorageConfig        `yaml:"storage"`
	Alerting       AlertingConfig       `yaml:"alerting"`
	Logging        LoggingConfig        `yaml:"logging"`
}

func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultConfigPath
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	// Start from defaults so sections missing from the file keep sane values
	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate applies defaults to unset values and rejects impossible ones
func (c *Config) Validate() error {
	if c.Application.Name == "" {
		c.Application.Name = "threat-advisor"
	}
	if c.Application.ScanIntervalSeconds <= 0 {
		c.Application.ScanIntervalSeconds = 5
	}
	if c.Application.ErrorBackoffSeconds <= 0 {
		c.Application.ErrorBackoffSeconds = 5
	}
	if c.Application.MetricsPort == "" {
		c.Application.MetricsPort = "9090"
	}
	if c.Application.APIPort == "" {
		c.Application.APIPort = "5001"
	}

	if c.Monitoring.System.CPUThreshold <= 0 {
		c.Monitoring.System.CPUThreshold = 90
	}
	if c.Monitoring.System.MemoryThreshold <= 0 {
		c.Monitoring.System.MemoryThreshold = 85
	}
	if c.Monitoring.Network.SuspiciousPorts == nil {
		c.Monitoring.Network.SuspiciousPorts = []int{4444, 5555, 6666, 31337}
	}
	if c.Monitoring.Network.MaxConnectionsPerProcess <= 0 {
		c.Monitoring.Network.MaxConnectionsPerProcess = 100
	}
	if c.Monitoring.AuthLog.Path == "" {
		c.Monitoring.AuthLog.Path = "/var/log/auth.log"
	}

	ctx := &c.RiskAssessment.Context
	if ctx.BusinessHoursStart < 0 || ctx.BusinessHoursStart > 23 || ctx.BusinessHoursEnd < 0 || ctx.BusinessHoursEnd > 24 {
		return fmt.Errorf("business hours must be within 0-24, got %d-%d", ctx.BusinessHoursStart, ctx.BusinessHoursEnd)
	}
	if ctx.BusinessHoursStart == 0 && ctx.BusinessHoursEnd == 0 {
		ctx.BusinessHoursStart = 8
		ctx.BusinessHoursEnd = 18
	}
	if ctx.RepeatMemory <= 0 {
		ctx.RepeatMemory = 1024
	}
	for key, factor := range c.RiskAssessment.ImpactFactors {
		if factor < 1 || factor > 5 {
			return fmt.Errorf("impact factor %q must be within 1-5, got %d", key, factor)
		}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite3"
	}
	if c.Storage.Driver != "sqlite3" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "data/threats.db"
	}
	if c.Storage.RetentionDays <= 0 {
		c.Storage.RetentionDays = 30
	}

	if c.Alerting.MinRiskLevel == "" {
		c.Alerting.MinRiskLevel = "Low"
	}
	if c.Alerting.NATS.URL == "" {
		c.Alerting.NATS.URL = "nats://localhost:4222"
	}
	if c.Alerting.NATS.Subject == "" {
		c.Alerting.NATS.Subject = "threats"
	}
	if c.Alerting.Audit.Path == "" {
		c.Alerting.Audit.Path = "audit.log"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// ScanInterval returns the configured pause between continuous scan cycles
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Application.ScanIntervalSeconds) * time.Second
}

// ErrorBackoff returns the pause after a failed scan cycle
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Application.ErrorBackoffSeconds) * time.Second
}

// GetDefaultConfig returns the configuration used when no file is available
func GetDefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:                "threat-advisor",
			ScanIntervalSeconds: 5,
			ErrorBackoffSeconds: 5,
			MetricsPort:         "9090",
			APIPort:             "5001",
		},
		Monitoring: MonitoringConfig{
			System: SystemMonitorConfig{
				Enabled:                true,
				SuspiciousProcessNames: []string{"mimikatz", "nmap", "netcat", "ncat", "xmrig", "hydra", "john", "hashcat"},
				CPUThreshold:           90,
				MemoryThreshold:        85,
			},
			Network: NetworkMonitorConfig{
				Enabled:                  true,
				SuspiciousPorts:          []int{4444, 5555, 6666, 31337},
				MaxConnectionsPerProcess: 100,
			},
			AuthLog: AuthLogConfig{
				Path: "/var/log/auth.log",
			},
		},
		RiskAssessment: RiskAssessmentConfig{
			ImpactFactors: map[string]int{
				"data_access":          3,
				"system_control":       5,
				"network_access":       4,
				"privilege_escalation": 5,
			},
			Context: RiskContextConfig{
				BusinessHoursStart: 8,
				BusinessHoursEnd:   18,
				PrivilegedUsers:    []string{"root", "Administrator", "SYSTEM"},
				RepeatMemory:       1024,
			},
		},
		Storage: StorageConfig{
			Driver:        "sqlite3",
			DSN:           "data/threats.db",
			RetentionDays: 30,
		},
		Alerting: AlertingConfig{
			Enabled:      true,
			MinRiskLevel: "Low",
			Channels: AlertChannelsConfig{
				Log: true,
			},
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Subject: "threats",
			},
			Audit: AuditConfig{
				Path: "audit.log",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}
