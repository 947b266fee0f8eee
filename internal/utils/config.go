package utils

// ApplicationConfig holds process-level settings
type ApplicationConfig struct {
	Name                string `yaml:"name"`
	ScanIntervalSeconds int    `yaml:"scan_interval_seconds"`
	ErrorBackoffSeconds int    `yaml:"error_backoff_seconds"`
	MetricsPort         string `yaml:"metrics_port"`
	APIPort             string `yaml:"api_port"`
	AutoStart           bool   `yaml:"auto_start"`
}

// SystemMonitorConfig configures the process collector
type SystemMonitorConfig struct {
	Enabled                bool     `yaml:"enabled"`
	SuspiciousProcessNames []string `yaml:"suspicious_process_names"`
	ProcessAllowlist       []string `yaml:"process_allowlist"`
	CPUThreshold           float64  `yaml:"cpu_threshold"`
	MemoryThreshold        float64  `yaml:"memory_threshold"`
}

// NetworkMonitorConfig configures the connection collector
type NetworkMonitorConfig struct {
	Enabled                   bool     `yaml:"enabled"`
	SuspiciousPorts           []int    `yaml:"suspicious_ports"`
	IPAllowlist               []string `yaml:"ip_allowlist"`
	MaxConnectionsPerProcess  int      `yaml:"max_connections_per_process"`
	ReportPrivateDestinations bool     `yaml:"report_private_destinations"`
}

// AuthLogConfig configures the sshd auth log collector
type AuthLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// FileWatchConfig configures the file change collector
type FileWatchConfig struct {
	Enabled bool     `yaml:"enabled"`
	Paths   []string `yaml:"paths"`
}

// MonitoringConfig groups every collector
type MonitoringConfig struct {
	System    SystemMonitorConfig  `yaml:"system"`
	Network   NetworkMonitorConfig `yaml:"network"`
	AuthLog   AuthLogConfig        `yaml:"auth_log"`
	FileWatch FileWatchConfig      `yaml:"file_watch"`
}

// DetectionConfig points at the rule set
type DetectionConfig struct {
	RulesFile string `yaml:"rules_file"`
}

// WeightsConfig are the risk formula weights. Nil means "use the default".
type WeightsConfig struct {
	Severity   *float64 `yaml:"severity"`
	Confidence *float64 `yaml:"confidence"`
	Impact     *float64 `yaml:"impact"`
	Prevalence *float64 `yaml:"prevalence"`
}

// ThresholdsConfig are the ascending risk classification bounds
type ThresholdsConfig struct {
	Low    *float64 `yaml:"low"`
	Medium *float64 `yaml:"medium"`
	High   *float64 `yaml:"high"`
}

// RiskContextConfig drives contextual re-scoring
type RiskContextConfig struct {
	Enabled            bool     `yaml:"enabled"`
	BusinessHoursStart int      `yaml:"business_hours_start"`
	BusinessHoursEnd   int      `yaml:"business_hours_end"`
	PrivilegedUsers    []string `yaml:"privileged_users"`
	RepeatMemory       int      `yaml:"repeat_memory"`
}

// RiskAssessmentConfig configures the scorer
type RiskAssessmentConfig struct {
	Weights       WeightsConfig     `yaml:"weights"`
	Thresholds    ThresholdsConfig  `yaml:"thresholds"`
	ImpactFactors map[string]int    `yaml:"impact_factors"`
	Context       RiskContextConfig `yaml:"context"`
}

// StorageConfig selects the threat store
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
}

// AlertChannelsConfig toggles each sink
type AlertChannelsConfig struct {
	Log      bool `yaml:"log"`
	Audit    bool `yaml:"audit"`
	Telegram bool `yaml:"telegram"`
	NATS     bool `yaml:"nats"`
}

// TelegramConfig cấu hình cho Telegram bot
type TelegramConfig struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	ParseMode       string `yaml:"parse_mode"`
	Enabled         bool   `yaml:"enabled"`
	MessageTemplate string `yaml:"message_template,omitempty"`
}

// NATSConfig configures the threat publisher
type NATSConfig struct {
	URL      string `yaml:"url"`
	Subject  string `yaml:"subject"`
	Compress bool   `yaml:"compress"`
}

// AuditConfig configures the JSON-lines audit trail
type AuditConfig struct {
	Path string `yaml:"path"`
}

// AlertingConfig configures threat sinks
type AlertingConfig struct {
	Enabled      bool                `yaml:"enabled"`
	MinRiskLevel string              `yaml:"min_risk_level"`
	Channels     AlertChannelsConfig `yaml:"channels"`
	Telegram     TelegramConfig      `yaml:"telegram"`
	NATS         NATSConfig          `yaml:"nats"`
	Audit        AuditConfig         `yaml:"audit"`
}

// LoggingConfig cấu hình cho logging
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}
