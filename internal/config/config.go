package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/ini.v1"

	"github.com/kidoz/vmsmoke/internal/result"
)

// DefaultConfigPath is used when no config file is found in the search paths.
const DefaultConfigPath = "/etc/vmsmoke.yaml"

// EnvPrefix prefixes environment overrides, e.g. VMSMOKE_TRANSPORT_USER.
const EnvPrefix = "VMSMOKE_"

// configSearchPaths lists config file paths to try, in priority order.
var configSearchPaths = []string{
	"vmsmoke.yaml",
	"/etc/vmsmoke.yaml",
	"/etc/vmsmoke.conf", // legacy INI run defaults
}

// FindConfigPath returns the first existing config file from the search paths.
// If none exist, it returns DefaultConfigPath.
func FindConfigPath() string {
	for _, path := range configSearchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return DefaultConfigPath
}

// Config holds all configuration values for vmsmoke
type Config struct {
	Transport  TransportConfig  `koanf:"transport"`
	Escalation EscalationConfig `koanf:"escalation"`
	Probe      ProbeConfig      `koanf:"probe"`
	Reboot     RebootConfig     `koanf:"reboot"`
	Platform   PlatformConfig   `koanf:"platform"`
	History    HistoryConfig    `koanf:"history"`
	Zabbix     ZabbixConfig     `koanf:"zabbix"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Log        LogConfig        `koanf:"log"`
	// Suite holds test marker parameters (platform, category, area, ...),
	// validated by the marker package.
	Suite map[string]interface{} `koanf:"suite"`
}

// TransportConfig holds remote shell settings
type TransportConfig struct {
	Client         string `koanf:"client"` // "native" (x/crypto/ssh) or "openssh"
	User           string `koanf:"user"`
	Port           int    `koanf:"port"`
	CommandTimeout int    `koanf:"command_timeout"` // seconds
	ConnectTimeout int    `koanf:"connect_timeout"` // seconds
	PrivateKeyPath string `koanf:"private_key_path"`
	Password       string `koanf:"password"`
	KnownHostsPath string `koanf:"known_hosts_path"`
	SSHPath        string `koanf:"ssh_path"`
}

// EscalationConfig holds the fault kinds that allow falling through to the
// next strategy.
type EscalationConfig struct {
	RetryableErrors []string `koanf:"retryable_errors"`
}

// ProbeConfig holds reachability and shell probe settings
type ProbeConfig struct {
	Timeout      int    `koanf:"timeout"` // seconds
	Count        int    `koanf:"count"`
	PingPath     string `koanf:"ping_path"`
	FallbackPort int    `koanf:"fallback_port"`
	ShellCommand string `koanf:"shell_command"`
}

// RebootConfig holds the disruptive action settings
type RebootConfig struct {
	Command     string `koanf:"command"`
	SuccessWhen string `koanf:"success_when"`
	Advisory    bool   `koanf:"advisory"`
}

// PlatformConfig holds the cloud platform fallback settings
type PlatformConfig struct {
	Kind               string   `koanf:"kind"` // none, cli or http
	RestartCommand     []string `koanf:"restart_command"`
	DiagnosticsCommand []string `koanf:"diagnostics_command"`
	BaseURL            string   `koanf:"base_url"`
	Token              string   `koanf:"token"`
	Timeout            int      `koanf:"timeout"` // seconds
}

// HistoryConfig holds the run history store settings
type HistoryConfig struct {
	Path string `koanf:"path"` // empty disables history
}

// ZabbixConfig holds zabbix_sender settings for publishing reports
type ZabbixConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ServerFQDN string `koanf:"server_fqdn"`
	ServerPort int    `koanf:"server_port"`
	SenderPath string `koanf:"sender_path"`
	Host       string `koanf:"host"` // Zabbix host name; defaults to the tested host
}

// MetricsConfig holds Prometheus Pushgateway settings
type MetricsConfig struct {
	PushgatewayURL string `koanf:"pushgateway_url"`
	Job            string `koanf:"job"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `koanf:"level"`
	Path       string `koanf:"path"` // empty logs to stdout
	MaxSize    int    `koanf:"max_size"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAge     int    `koanf:"max_age"`
	Compress   bool   `koanf:"compress"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Client:         "native",
			User:           "root",
			Port:           22,
			CommandTimeout: 1200,
			ConnectTimeout: 10,
			SSHPath:        "ssh",
		},
		Escalation: EscalationConfig{
			RetryableErrors: kindStrings(result.DefaultRetryable()),
		},
		Probe: ProbeConfig{
			Timeout:      30,
			Count:        3,
			PingPath:     "ping",
			FallbackPort: 22,
			ShellCommand: "uptime",
		},
		Reboot: RebootConfig{
			Command:     "sudo reboot",
			SuccessWhen: "exit_code == -1",
			Advisory:    true,
		},
		Platform: PlatformConfig{
			Kind:    "none",
			Timeout: 300,
		},
		Zabbix: ZabbixConfig{
			ServerFQDN: "localhost",
			ServerPort: 10051,
			SenderPath: "zabbix_sender",
		},
		Metrics: MetricsConfig{
			Job: "vmsmoke",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

func kindStrings(kinds []result.ErrorKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Load reads configuration from a file, auto-detecting format by extension.
// .yaml/.yml → YAML (Koanf), .conf/.ini or anything else → legacy INI.
// Environment variables (VMSMOKE_ prefix) always override file values.
// A missing file at DefaultConfigPath is not an error: defaults and the
// environment are used instead.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path != DefaultConfigPath {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return loadDefaultsOnly()
	}

	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return loadINI(path)
	}
}

func loadDefaultsOnly() (*Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k); err != nil {
		return nil, err
	}
	if err := loadEnvOverrides(k); err != nil {
		return nil, err
	}
	return unmarshalAndValidate(k)
}

// loadYAML loads config from a YAML file with Koanf.
func loadYAML(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	if err := loadEnvOverrides(k); err != nil {
		return nil, err
	}

	return unmarshalAndValidate(k)
}

// loadINI loads config from a legacy INI file holding run defaults
// ([run] command_timeout = 1200, ...).
func loadINI(path string) (*Config, error) {
	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse INI config file: %w", err)
	}

	m, warnings := iniToMap(iniFile)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}

	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, err
	}

	if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load INI values: %w", err)
	}

	if err := loadEnvOverrides(k); err != nil {
		return nil, err
	}

	return unmarshalAndValidate(k)
}

// LoadINIWithWarnings reads a legacy INI file without env overrides and
// returns warnings for keys that were skipped. Used by migrate-config.
func LoadINIWithWarnings(path string) (*Config, []string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file not found: %s", path)
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse INI config file: %w", err)
	}

	m, warnings := iniToMap(iniFile)

	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, nil, err
	}

	if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
		return nil, nil, fmt.Errorf("failed to load INI values: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	return &cfg, warnings, nil
}

// iniKeyMap maps INI key names (lowercased, no separators) to koanf key paths.
var iniKeyMap = map[string]string{
	// [run]
	"commandtimeout":  "transport.command_timeout",
	"command_timeout": "transport.command_timeout",
	"connecttimeout":  "transport.connect_timeout",
	"connect_timeout": "transport.connect_timeout",
	"user":            "transport.user",
	"port":            "transport.port",
	"client":          "transport.client",
	"privatekey":      "transport.private_key_path",
	"key_filename":    "transport.private_key_path",
	"knownhosts":      "transport.known_hosts_path",
	"sshpath":         "transport.ssh_path",
	// [escalation]
	"retryableerrors":  "escalation.retryable_errors",
	"retryable_errors": "escalation.retryable_errors",
	// [probe]
	"probetimeout":  "probe.timeout",
	"probe_timeout": "probe.timeout",
	"pingcount":     "probe.count",
	"pingpath":      "probe.ping_path",
	"shellcommand":  "probe.shell_command",
	// [reboot]
	"rebootcommand": "reboot.command",
	"successwhen":   "reboot.success_when",
	"success_when":  "reboot.success_when",
	"advisory":      "reboot.advisory",
	// [platform]
	"platform":            "platform.kind",
	"kind":                "platform.kind",
	"restartcommand":      "platform.restart_command",
	"restart_command":     "platform.restart_command",
	"diagnosticscommand":  "platform.diagnostics_command",
	"diagnostics_command": "platform.diagnostics_command",
	"baseurl":             "platform.base_url",
	"base_url":            "platform.base_url",
	// [history]
	"historypath":  "history.path",
	"history_path": "history.path",
}

// legacyINIKeys lists run options from the original harness that have no
// equivalent here. They produce a specific warning instead of "unrecognized".
var legacyINIKeys = map[string]bool{
	"echo":      true, // commands are logged at debug level instead
	"in_stream": true, // stdin is never forwarded
	"instream":  true,
	"warn":      true, // non-zero exits never raise; they are results
	"pty":       true,
}

// listKeys are koanf keys whose INI value is a whitespace or comma
// separated list.
var listKeys = map[string]bool{
	"escalation.retryable_errors":  true,
	"platform.restart_command":     true,
	"platform.diagnostics_command": true,
}

// iniToMap maps legacy INI section/key names to the nested koanf key namespace.
// It returns the mapped values and a slice of warnings for unrecognized keys.
func iniToMap(f *ini.File) (map[string]interface{}, []string) {
	m := make(map[string]interface{})
	var warnings []string

	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			normalised := strings.ToLower(key.Name())
			if koanfKey, ok := iniKeyMap[normalised]; ok {
				if listKeys[koanfKey] {
					m[koanfKey] = splitList(key.Value())
				} else {
					m[koanfKey] = key.Value()
				}
			} else if legacyINIKeys[normalised] {
				warnings = append(warnings, fmt.Sprintf("legacy run option [%s] %s has no equivalent (skipped)", section.Name(), key.Name()))
			} else if section.Name() != "DEFAULT" {
				warnings = append(warnings, fmt.Sprintf("unrecognized INI key [%s] %s (skipped)", section.Name(), key.Name()))
			}
		}
	}

	return m, warnings
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// --- helpers ---

func loadDefaults(k *koanf.Koanf) error {
	defaults := DefaultConfig()
	return k.Load(confmap.Provider(map[string]interface{}{
		"transport.client":            defaults.Transport.Client,
		"transport.user":              defaults.Transport.User,
		"transport.port":              defaults.Transport.Port,
		"transport.command_timeout":   defaults.Transport.CommandTimeout,
		"transport.connect_timeout":   defaults.Transport.ConnectTimeout,
		"transport.ssh_path":          defaults.Transport.SSHPath,
		"escalation.retryable_errors": defaults.Escalation.RetryableErrors,
		"probe.timeout":               defaults.Probe.Timeout,
		"probe.count":                 defaults.Probe.Count,
		"probe.ping_path":             defaults.Probe.PingPath,
		"probe.fallback_port":         defaults.Probe.FallbackPort,
		"probe.shell_command":         defaults.Probe.ShellCommand,
		"reboot.command":              defaults.Reboot.Command,
		"reboot.success_when":         defaults.Reboot.SuccessWhen,
		"reboot.advisory":             defaults.Reboot.Advisory,
		"platform.kind":               defaults.Platform.Kind,
		"platform.timeout":            defaults.Platform.Timeout,
		"zabbix.enabled":              defaults.Zabbix.Enabled,
		"zabbix.server_fqdn":          defaults.Zabbix.ServerFQDN,
		"zabbix.server_port":          defaults.Zabbix.ServerPort,
		"zabbix.sender_path":          defaults.Zabbix.SenderPath,
		"metrics.job":                 defaults.Metrics.Job,
		"telemetry.enabled":           defaults.Telemetry.Enabled,
		"log.level":                   defaults.Log.Level,
		"log.max_size":                defaults.Log.MaxSize,
		"log.max_backups":             defaults.Log.MaxBackups,
		"log.max_age":                 defaults.Log.MaxAge,
		"log.compress":                defaults.Log.Compress,
	}, "."), nil)
}

func loadEnvOverrides(k *koanf.Koanf) error {
	// VMSMOKE_TRANSPORT_COMMAND_TIMEOUT → transport.command_timeout
	return k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	if idx := strings.Index(s, "_"); idx >= 0 {
		return s[:idx] + "." + s[idx+1:]
	}
	return s
}

func unmarshalAndValidate(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize splits list values that arrived as a single comma-separated
// string (environment variables, flags).
func (c *Config) normalize() {
	c.Escalation.RetryableErrors = flattenList(c.Escalation.RetryableErrors)
	c.Platform.RestartCommand = flattenCommand(c.Platform.RestartCommand)
	c.Platform.DiagnosticsCommand = flattenCommand(c.Platform.DiagnosticsCommand)
	c.Transport.Client = strings.ToLower(c.Transport.Client)
	c.Platform.Kind = strings.ToLower(c.Platform.Kind)
}

func flattenList(in []string) []string {
	if len(in) != 1 {
		return in
	}
	return splitList(in[0])
}

func flattenCommand(in []string) []string {
	if len(in) != 1 {
		return in
	}
	return strings.Fields(in[0])
}

// Validate checks that values are in range and enums are known.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport.Client {
	case "native", "openssh":
	default:
		errs = append(errs, fmt.Errorf("transport.client must be native or openssh, got %q", c.Transport.Client))
	}
	if c.Transport.User == "" {
		errs = append(errs, fmt.Errorf("transport.user is required"))
	}
	if c.Transport.Port < 1 || c.Transport.Port > 65535 {
		errs = append(errs, fmt.Errorf("transport.port must be between 1 and 65535, got %d", c.Transport.Port))
	}
	if c.Transport.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transport.command_timeout must be greater than 0, got %d", c.Transport.CommandTimeout))
	}
	if c.Transport.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transport.connect_timeout must be greater than 0, got %d", c.Transport.ConnectTimeout))
	}

	for _, s := range c.Escalation.RetryableErrors {
		if _, err := result.ParseErrorKind(s); err != nil {
			errs = append(errs, fmt.Errorf("escalation.retryable_errors: %w", err))
		}
	}

	if c.Probe.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("probe.timeout must be greater than 0, got %d", c.Probe.Timeout))
	}
	if c.Probe.Count <= 0 {
		errs = append(errs, fmt.Errorf("probe.count must be greater than 0, got %d", c.Probe.Count))
	}
	if c.Probe.FallbackPort < 1 || c.Probe.FallbackPort > 65535 {
		errs = append(errs, fmt.Errorf("probe.fallback_port must be between 1 and 65535, got %d", c.Probe.FallbackPort))
	}
	if c.Reboot.Command == "" {
		errs = append(errs, fmt.Errorf("reboot.command is required"))
	}

	switch c.Platform.Kind {
	case "none":
	case "cli":
		if len(c.Platform.RestartCommand) == 0 {
			errs = append(errs, fmt.Errorf("platform.restart_command is required for platform.kind=cli"))
		}
	case "http":
		u, err := url.Parse(c.Platform.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("platform.base_url must be a valid URL with scheme and host"))
		}
	default:
		errs = append(errs, fmt.Errorf("platform.kind must be none, cli or http, got %q", c.Platform.Kind))
	}
	if c.Platform.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("platform.timeout must be greater than 0, got %d", c.Platform.Timeout))
	}

	if c.Zabbix.Enabled && (c.Zabbix.ServerPort < 1 || c.Zabbix.ServerPort > 65535) {
		errs = append(errs, fmt.Errorf("zabbix.server_port must be between 1 and 65535, got %d", c.Zabbix.ServerPort))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// RetryableKinds returns the configured retryable error kinds. Unknown
// names are skipped; Validate reports them.
func (c *Config) RetryableKinds() []result.ErrorKind {
	kinds := make([]result.ErrorKind, 0, len(c.Escalation.RetryableErrors))
	for _, s := range c.Escalation.RetryableErrors {
		if k, err := result.ParseErrorKind(s); err == nil {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// CommandTimeout returns transport.command_timeout as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Transport.CommandTimeout) * time.Second
}

// ConnectTimeout returns transport.connect_timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Transport.ConnectTimeout) * time.Second
}

// ProbeTimeout returns probe.timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.Timeout) * time.Second
}

// PlatformTimeout returns platform.timeout as a duration.
func (c *Config) PlatformTimeout() time.Duration {
	return time.Duration(c.Platform.Timeout) * time.Second
}
