package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"clipboard-history/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g. CLIPMGR_MAX_ENTRIES.
const EnvPrefix = "CLIPMGR"

// Oversize policies for captured payloads above capture.max_payload_bytes.
const (
	OversizeReject   = "reject"
	OversizeTruncate = "truncate"
)

// Config represents the complete daemon configuration.
// It is read once at startup and never mutated afterwards.
type Config struct {
	// DataDir holds the database, socket and pid file unless overridden.
	DataDir string `mapstructure:"data_dir"`
	// DBPath is the sqlite history database (default: {data_dir}/history.db)
	DBPath string `mapstructure:"db_path"`
	// Socket is the local channel clients connect to (default: {data_dir}/clipd.sock)
	Socket string `mapstructure:"socket"`
	// MaxEntries is the retention ceiling; the oldest entries are pruned beyond it.
	MaxEntries int `mapstructure:"max_entries"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	// LogFile is empty for stderr.
	LogFile string `mapstructure:"log_file"`

	Capture CaptureConfig `mapstructure:"capture"`
	Server  ServerConfig  `mapstructure:"server"`
}

// CaptureConfig controls the clipboard watcher.
type CaptureConfig struct {
	// PollInterval is how often the generation counter is read in polling mode.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// AuditInterval is how often listener mode cross-checks the generation counter
	// to detect notifications that never arrived.
	AuditInterval time.Duration `mapstructure:"audit_interval"`
	// MissedThreshold is the number of consecutive missed notifications that
	// switches the watcher to polling.
	MissedThreshold int `mapstructure:"missed_threshold"`
	// ReregisterBackoff is the minimum time between listener re-registration attempts.
	ReregisterBackoff time.Duration `mapstructure:"reregister_backoff"`
	QueueSize         int           `mapstructure:"queue_size"`
	DedupWindow       int           `mapstructure:"dedup_window"`
	MaxPayloadBytes   int           `mapstructure:"max_payload_bytes"`
	// OversizePolicy is "reject" or "truncate". Binary payloads are always rejected.
	OversizePolicy string `mapstructure:"oversize_policy"`
}

// ServerConfig controls the protocol server and the optional HTTP surface.
type ServerConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	MaxFrameBytes int           `mapstructure:"max_frame_bytes"`
	// HTTPAddr enables the loopback status API and websocket feed when set.
	HTTPAddr string `mapstructure:"http_addr"`
}

// Default returns the default configuration rooted at ~/.clipmgr.
func Default() *Config {
	dataDir := ".clipmgr"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".clipmgr")
	}
	return &Config{
		DataDir:    dataDir,
		MaxEntries: 10000,
		LogLevel:   logging.LevelInfo,
		LogFormat:  logging.FormatText,
		Capture: CaptureConfig{
			PollInterval:      250 * time.Millisecond,
			AuditInterval:     time.Second,
			MissedThreshold:   3,
			ReregisterBackoff: 5 * time.Second,
			QueueSize:         256,
			DedupWindow:       32,
			MaxPayloadBytes:   32 << 20,
			OversizePolicy:    OversizeTruncate,
		},
		Server: ServerConfig{
			IdleTimeout:   2 * time.Minute,
			MaxFrameBytes: 64 << 20,
		},
	}
}

// SetDefaults registers every key with its default value so that environment
// variables and bound flags are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_path", "")
	v.SetDefault("socket", "")
	v.SetDefault("max_entries", d.MaxEntries)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", "")

	v.SetDefault("capture.poll_interval", d.Capture.PollInterval)
	v.SetDefault("capture.audit_interval", d.Capture.AuditInterval)
	v.SetDefault("capture.missed_threshold", d.Capture.MissedThreshold)
	v.SetDefault("capture.reregister_backoff", d.Capture.ReregisterBackoff)
	v.SetDefault("capture.queue_size", d.Capture.QueueSize)
	v.SetDefault("capture.dedup_window", d.Capture.DedupWindow)
	v.SetDefault("capture.max_payload_bytes", d.Capture.MaxPayloadBytes)
	v.SetDefault("capture.oversize_policy", d.Capture.OversizePolicy)

	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_frame_bytes", d.Server.MaxFrameBytes)
	v.SetDefault("server.http_addr", "")
}

// NewViper returns a viper instance with defaults and CLIPMGR_* environment
// overrides wired up. Nested keys map to underscores: capture.poll_interval
// is CLIPMGR_CAPTURE_POLL_INTERVAL.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load decodes the configuration from v, fills derived paths and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.resolvePaths()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

func (c *Config) resolvePaths() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "history.db")
	}
	if c.Socket == "" {
		c.Socket = filepath.Join(c.DataDir, "clipd.sock")
	}
}

// PIDPath is where the daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "clipd.pid")
}

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation errors found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.MaxEntries < 1 {
		add("max_entries", c.MaxEntries, "must be at least 1")
	}
	if c.DBPath == "" {
		add("db_path", c.DBPath, "must not be empty")
	}
	if c.Socket == "" {
		add("socket", c.Socket, "must not be empty")
	}
	if !logging.ValidLevel(c.LogLevel) {
		add("log_level", c.LogLevel, "must be one of debug, info, warn, error")
	}
	if f := strings.ToLower(c.LogFormat); f != logging.FormatText && f != logging.FormatJSON {
		add("log_format", c.LogFormat, "must be text or json")
	}

	if c.Capture.PollInterval <= 0 {
		add("capture.poll_interval", c.Capture.PollInterval, "must be positive")
	}
	if c.Capture.AuditInterval <= 0 {
		add("capture.audit_interval", c.Capture.AuditInterval, "must be positive")
	}
	if c.Capture.MissedThreshold < 1 {
		add("capture.missed_threshold", c.Capture.MissedThreshold, "must be at least 1")
	}
	if c.Capture.ReregisterBackoff < 0 {
		add("capture.reregister_backoff", c.Capture.ReregisterBackoff, "must not be negative")
	}
	if c.Capture.QueueSize < 1 {
		add("capture.queue_size", c.Capture.QueueSize, "must be at least 1")
	}
	if c.Capture.DedupWindow < 1 {
		add("capture.dedup_window", c.Capture.DedupWindow, "must be at least 1")
	}
	if c.Capture.MaxPayloadBytes < 1 {
		add("capture.max_payload_bytes", c.Capture.MaxPayloadBytes, "must be positive")
	}
	if p := c.Capture.OversizePolicy; p != OversizeReject && p != OversizeTruncate {
		add("capture.oversize_policy", p, "must be reject or truncate")
	}

	if c.Server.IdleTimeout <= 0 {
		add("server.idle_timeout", c.Server.IdleTimeout, "must be positive")
	}
	if c.Server.MaxFrameBytes < 1 {
		add("server.max_frame_bytes", c.Server.MaxFrameBytes, "must be positive")
	}
	if c.Server.HTTPAddr != "" && !isLoopback(c.Server.HTTPAddr) {
		add("server.http_addr", c.Server.HTTPAddr, "must bind a loopback address")
	}

	return errs
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
