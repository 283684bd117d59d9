package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/investbot/internal/domain"
	"github.com/vadiminshakov/investbot/internal/robot"
)

// Session backends.
const (
	SessionBackendFile     = "file"
	SessionBackendPostgres = "postgres"
)

// Environment overrides for secrets and deployment specific values.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvDatabaseDSN   = "DATABASE_DSN"
	EnvBrokerURL     = "INVESTBOT_BROKER_URL"
)

// GeneratedFile is the file written by the setup wizard.
const GeneratedFile = "config.gen.yaml"

type Config struct {
	LogLevel string
	Broker   BrokerConfig
	Session  SessionConfig
	Robot    RobotConfig
	Journal  JournalConfig
	Server   ServerConfig
	Telegram TelegramConfig
	Tracing  TracingConfig
}

type BrokerConfig struct {
	BaseURL         string
	UserAgent       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	SimulateFills   bool
	DefaultBalance  decimal.Decimal
	DefaultCurrency string
}

type SessionConfig struct {
	Backend string
	Path    string
	DSN     string
}

type RobotConfig struct {
	Stake           decimal.Decimal
	Asset           string
	ExpirySeconds   int
	CallCount       int
	PutCount        int
	InterTradeDelay time.Duration
	InterBatchDelay time.Duration
	Cooldown        time.Duration
}

// Configuration holds the initial robot configuration.
func (c RobotConfig) Configuration() domain.RobotConfiguration {
	return domain.RobotConfiguration{
		CallCount:     c.CallCount,
		PutCount:      c.PutCount,
		Stake:         c.Stake,
		Asset:         c.Asset,
		ExpirySeconds: c.ExpirySeconds,
	}
}

// Timings holds the cycle delays.
func (c RobotConfig) Timings() robot.Timings {
	return robot.Timings{
		InterTrade: c.InterTradeDelay,
		InterBatch: c.InterBatchDelay,
		Cooldown:   c.Cooldown,
	}
}

type JournalConfig struct {
	Dir string
	// BalanceDir holds balance snapshots.
	BalanceDir string
}

type ServerConfig struct {
	Addr string
	// Domain enables automatic TLS when set.
	Domain  string
	CertDir string
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Enabled reports whether notifications are configured.
func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

type TracingConfig struct {
	AgentHost   string
	AgentPort   int
	ServiceName string
}

// File is the yaml representation of Config. Decimals are kept as strings.
type File struct {
	LogLevel string       `yaml:"log_level,omitempty"`
	Broker   BrokerFile   `yaml:"broker"`
	Session  SessionFile  `yaml:"session"`
	Robot    RobotFile    `yaml:"robot"`
	Journal  JournalFile  `yaml:"journal"`
	Server   ServerFile   `yaml:"server"`
	Telegram TelegramFile `yaml:"telegram,omitempty"`
	Tracing  TracingFile  `yaml:"tracing,omitempty"`
}

type BrokerFile struct {
	BaseURL         string        `yaml:"base_url"`
	UserAgent       string        `yaml:"user_agent,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SimulateFills   bool          `yaml:"simulate_fills"`
	DefaultBalance  string        `yaml:"default_balance"`
	DefaultCurrency string        `yaml:"default_currency"`
}

type SessionFile struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

type RobotFile struct {
	Stake           string        `yaml:"stake"`
	Asset           string        `yaml:"asset"`
	ExpirySeconds   int           `yaml:"expiry_seconds"`
	CallCount       int           `yaml:"call_count"`
	PutCount        int           `yaml:"put_count"`
	InterTradeDelay time.Duration `yaml:"inter_trade_delay"`
	InterBatchDelay time.Duration `yaml:"inter_batch_delay"`
	Cooldown        time.Duration `yaml:"cooldown"`
}

type JournalFile struct {
	Dir        string `yaml:"dir"`
	BalanceDir string `yaml:"balance_dir"`
}

type ServerFile struct {
	Addr    string `yaml:"addr"`
	Domain  string `yaml:"domain,omitempty"`
	CertDir string `yaml:"cert_dir,omitempty"`
}

type TelegramFile struct {
	Token  string `yaml:"token,omitempty"`
	ChatID int64  `yaml:"chat_id,omitempty"`
}

type TracingFile struct {
	AgentHost   string `yaml:"agent_host,omitempty"`
	AgentPort   int    `yaml:"agent_port,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// DefaultFile returns the values used for everything the yaml leaves out.
func DefaultFile() File {
	robotCfg := domain.DefaultRobotConfiguration()
	timings := robot.DefaultTimings()

	return File{
		LogLevel: "info",
		Broker: BrokerFile{
			BaseURL:         "https://investoption.com/api",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			SimulateFills:   true,
			DefaultBalance:  "1000",
			DefaultCurrency: "USD",
		},
		Session: SessionFile{
			Backend: SessionBackendFile,
			Path:    "./data/session.json",
		},
		Robot: RobotFile{
			Stake:           robotCfg.Stake.String(),
			Asset:           robotCfg.Asset,
			ExpirySeconds:   robotCfg.ExpirySeconds,
			CallCount:       robotCfg.CallCount,
			PutCount:        robotCfg.PutCount,
			InterTradeDelay: timings.InterTrade,
			InterBatchDelay: timings.InterBatch,
			Cooldown:        timings.Cooldown,
		},
		Journal: JournalFile{Dir: "./wal/trades", BalanceDir: "./wal/balance"},
		Server:  ServerFile{Addr: ":8080", CertDir: "cert-cache"},
		Tracing: TracingFile{ServiceName: "investbot"},
	}
}

// Flags holds the command line options.
type Flags struct {
	Path  string
	Setup bool
}

// ParseFlags reads --config and --setup.
func ParseFlags() Flags {
	path := flag.String("config", "", "path to yaml config")
	setup := flag.Bool("setup", false, "run the interactive configuration wizard")
	flag.Parse()

	return Flags{Path: *path, Setup: *setup}
}

// Load reads the yaml at path on top of the defaults and applies environment overrides.
// An empty path uses defaults only.
func Load(path string) (Config, error) {
	file := DefaultFile()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, errors.Wrap(err, "decode config")
		}
	}

	applyEnv(&file)

	return file.Config()
}

func applyEnv(f *File) {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		f.Telegram.Token = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		f.Session.DSN = v
	}
	if v := os.Getenv(EnvBrokerURL); v != "" {
		f.Broker.BaseURL = v
	}
}

// Config parses and validates the file values.
func (f File) Config() (Config, error) {
	defaultBalance, err := decimal.NewFromString(f.Broker.DefaultBalance)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'broker.default_balance' param in yaml config (must be a decimal), error: %w", err)
	}
	stake, err := decimal.NewFromString(f.Robot.Stake)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'robot.stake' param in yaml config (must be a decimal), error: %w", err)
	}

	cfg := Config{
		LogLevel: f.LogLevel,
		Broker: BrokerConfig{
			BaseURL:         strings.TrimRight(strings.TrimSpace(f.Broker.BaseURL), "/"),
			UserAgent:       f.Broker.UserAgent,
			ReadTimeout:     f.Broker.ReadTimeout,
			WriteTimeout:    f.Broker.WriteTimeout,
			SimulateFills:   f.Broker.SimulateFills,
			DefaultBalance:  defaultBalance,
			DefaultCurrency: strings.ToUpper(f.Broker.DefaultCurrency),
		},
		Session: SessionConfig{
			Backend: strings.ToLower(f.Session.Backend),
			Path:    f.Session.Path,
			DSN:     f.Session.DSN,
		},
		Robot: RobotConfig{
			Stake:           stake,
			Asset:           strings.ToUpper(strings.TrimSpace(f.Robot.Asset)),
			ExpirySeconds:   f.Robot.ExpirySeconds,
			CallCount:       f.Robot.CallCount,
			PutCount:        f.Robot.PutCount,
			InterTradeDelay: f.Robot.InterTradeDelay,
			InterBatchDelay: f.Robot.InterBatchDelay,
			Cooldown:        f.Robot.Cooldown,
		},
		Journal:  JournalConfig{Dir: f.Journal.Dir, BalanceDir: f.Journal.BalanceDir},
		Server:   ServerConfig{Addr: f.Server.Addr, Domain: f.Server.Domain, CertDir: f.Server.CertDir},
		Telegram: TelegramConfig{Token: f.Telegram.Token, ChatID: f.Telegram.ChatID},
		Tracing: TracingConfig{
			AgentHost:   f.Tracing.AgentHost,
			AgentPort:   f.Tracing.AgentPort,
			ServiceName: f.Tracing.ServiceName,
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Broker.BaseURL == "" {
		return errors.New("broker.base_url is required")
	}
	if c.Broker.ReadTimeout <= 0 || c.Broker.WriteTimeout <= 0 {
		return errors.New("broker timeouts must be positive")
	}

	switch c.Session.Backend {
	case SessionBackendFile:
	case SessionBackendPostgres:
		if c.Session.DSN == "" {
			return errors.Errorf("session.dsn (or %s) is required for the postgres backend", EnvDatabaseDSN)
		}
	default:
		return errors.Errorf("unsupported session backend %q", c.Session.Backend)
	}

	if err := c.Robot.Configuration().Validate(); err != nil {
		return errors.Wrap(err, "robot")
	}
	if c.Robot.InterTradeDelay < 0 || c.Robot.InterBatchDelay < 0 || c.Robot.Cooldown < 0 {
		return errors.New("robot delays must not be negative")
	}

	if c.Telegram.Enabled() && c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required when a telegram token is set")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}

	return nil
}
