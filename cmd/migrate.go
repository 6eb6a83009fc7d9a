package cmd

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kidoz/vmsmoke/internal/config"
)

var (
	migrateInput  string
	migrateOutput string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate-config",
	Short: "Convert a legacy INI config to YAML",
	Long: `Read a legacy INI run-defaults file (e.g. /etc/vmsmoke.conf) and write
the equivalent YAML config. Only values that differ from the defaults are
written. Options without an equivalent are reported and skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, warnings, err := config.LoadINIWithWarnings(migrateInput)
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}

		out, err := renderYAML(cfg)
		if err != nil {
			return err
		}

		if migrateOutput == "" || migrateOutput == "-" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		// The file may hold transport.password or platform.token.
		if err := os.WriteFile(migrateOutput, out, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", migrateOutput, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", migrateOutput)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVarP(&migrateInput, "input", "i", "/etc/vmsmoke.conf", "legacy INI config file")
	migrateCmd.Flags().StringVarP(&migrateOutput, "output", "o", "", "YAML file to write (default stdout)")

	rootCmd.AddCommand(migrateCmd)
}

// renderYAML writes the non-default values of cfg as a YAML document.
func renderYAML(cfg *config.Config) ([]byte, error) {
	def := config.DefaultConfig()
	var b strings.Builder
	b.WriteString("# vmsmoke configuration, migrated from legacy INI\n")

	s := &yamlSection{b: &b, name: "transport"}
	s.str("client", cfg.Transport.Client, def.Transport.Client)
	s.str("user", cfg.Transport.User, def.Transport.User)
	s.int("port", cfg.Transport.Port, def.Transport.Port)
	s.int("command_timeout", cfg.Transport.CommandTimeout, def.Transport.CommandTimeout)
	s.int("connect_timeout", cfg.Transport.ConnectTimeout, def.Transport.ConnectTimeout)
	s.str("private_key_path", cfg.Transport.PrivateKeyPath, def.Transport.PrivateKeyPath)
	s.str("password", cfg.Transport.Password, def.Transport.Password)
	s.str("known_hosts_path", cfg.Transport.KnownHostsPath, def.Transport.KnownHostsPath)
	s.str("ssh_path", cfg.Transport.SSHPath, def.Transport.SSHPath)

	s = &yamlSection{b: &b, name: "escalation"}
	s.list("retryable_errors", cfg.Escalation.RetryableErrors, def.Escalation.RetryableErrors)

	s = &yamlSection{b: &b, name: "probe"}
	s.int("timeout", cfg.Probe.Timeout, def.Probe.Timeout)
	s.int("count", cfg.Probe.Count, def.Probe.Count)
	s.str("ping_path", cfg.Probe.PingPath, def.Probe.PingPath)
	s.int("fallback_port", cfg.Probe.FallbackPort, def.Probe.FallbackPort)
	s.str("shell_command", cfg.Probe.ShellCommand, def.Probe.ShellCommand)

	s = &yamlSection{b: &b, name: "reboot"}
	s.str("command", cfg.Reboot.Command, def.Reboot.Command)
	s.str("success_when", cfg.Reboot.SuccessWhen, def.Reboot.SuccessWhen)
	s.bool("advisory", cfg.Reboot.Advisory, def.Reboot.Advisory)

	s = &yamlSection{b: &b, name: "platform"}
	s.str("kind", cfg.Platform.Kind, def.Platform.Kind)
	s.list("restart_command", cfg.Platform.RestartCommand, def.Platform.RestartCommand)
	s.list("diagnostics_command", cfg.Platform.DiagnosticsCommand, def.Platform.DiagnosticsCommand)
	s.str("base_url", cfg.Platform.BaseURL, def.Platform.BaseURL)
	s.str("token", cfg.Platform.Token, def.Platform.Token)
	s.int("timeout", cfg.Platform.Timeout, def.Platform.Timeout)

	s = &yamlSection{b: &b, name: "history"}
	s.str("path", cfg.History.Path, def.History.Path)

	s = &yamlSection{b: &b, name: "zabbix"}
	s.bool("enabled", cfg.Zabbix.Enabled, def.Zabbix.Enabled)
	s.str("server_fqdn", cfg.Zabbix.ServerFQDN, def.Zabbix.ServerFQDN)
	s.int("server_port", cfg.Zabbix.ServerPort, def.Zabbix.ServerPort)
	s.str("sender_path", cfg.Zabbix.SenderPath, def.Zabbix.SenderPath)
	s.str("host", cfg.Zabbix.Host, def.Zabbix.Host)

	s = &yamlSection{b: &b, name: "metrics"}
	s.str("pushgateway_url", cfg.Metrics.PushgatewayURL, def.Metrics.PushgatewayURL)
	s.str("job", cfg.Metrics.Job, def.Metrics.Job)

	s = &yamlSection{b: &b, name: "log"}
	s.str("level", cfg.Log.Level, def.Log.Level)
	s.str("path", cfg.Log.Path, def.Log.Path)
	s.int("max_size", cfg.Log.MaxSize, def.Log.MaxSize)
	s.int("max_backups", cfg.Log.MaxBackups, def.Log.MaxBackups)
	s.int("max_age", cfg.Log.MaxAge, def.Log.MaxAge)
	s.bool("compress", cfg.Log.Compress, def.Log.Compress)

	return []byte(b.String()), nil
}

// yamlSection writes "key: value" lines under a top-level key, emitting
// the key itself only once something differs from its default.
type yamlSection struct {
	b      *strings.Builder
	name   string
	opened bool
}

func (s *yamlSection) line(key, value string) {
	if !s.opened {
		fmt.Fprintf(s.b, "\n%s:\n", s.name)
		s.opened = true
	}
	fmt.Fprintf(s.b, "  %s: %s\n", key, value)
}

func (s *yamlSection) str(key, v, def string) {
	if v != def {
		s.line(key, yamlQuote(v))
	}
}

func (s *yamlSection) int(key string, v, def int) {
	if v != def {
		s.line(key, strconv.Itoa(v))
	}
}

func (s *yamlSection) bool(key string, v, def bool) {
	if v != def {
		s.line(key, strconv.FormatBool(v))
	}
}

func (s *yamlSection) list(key string, v, def []string) {
	if slices.Equal(v, def) {
		return
	}
	items := make([]string, len(v))
	for i, item := range v {
		items[i] = yamlQuote(item)
	}
	s.line(key, "["+strings.Join(items, ", ")+"]")
}

var yamlReserved = map[string]bool{
	"true": true, "false": true, "yes": true, "no": true, "on": true, "off": true,
	"null": true, "~": true, "y": true, "n": true,
}

// yamlQuote double-quotes s when it would not survive as a plain scalar.
func yamlQuote(s string) string {
	if !needsYAMLQuote(s) {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func needsYAMLQuote(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return true
	}
	if strings.ContainsAny(s, ":#\"'{}[],&*!|>%@`") {
		return true
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "?") {
		return true
	}
	if yamlReserved[strings.ToLower(s)] {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
