package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/session"
)

// Trapper item keys populated for each tested host.
const (
	KeyPassed   = "vmsmoke.passed"
	KeyVerdict  = "vmsmoke.verdict"
	KeyWarnings = "vmsmoke.warnings"
	KeyDuration = "vmsmoke.duration"
	KeyReport   = "vmsmoke.report"
)

// StepKey returns the trapper key for a stage, e.g. vmsmoke.step[postcheck].
func StepKey(stage string) string {
	return fmt.Sprintf("vmsmoke.step[%s]", stage)
}

// Sender wraps zabbix_sender for sending data to Zabbix
type Sender struct {
	cfg config.ZabbixConfig
	log *zap.Logger
}

// SenderData represents data to be sent to Zabbix
type SenderData struct {
	Host  string
	Key   string
	Value string
}

// NewSender creates a new Zabbix sender
func NewSender(cfg *config.Config, log *zap.Logger) *Sender {
	return &Sender{
		cfg: cfg.Zabbix,
		log: log,
	}
}

// Enabled reports whether reports should be pushed to Zabbix.
func (s *Sender) Enabled() bool {
	return s.cfg.Enabled
}

// Send sends data to Zabbix using zabbix_sender
func (s *Sender) Send(ctx context.Context, data []SenderData) error {
	if len(data) == 0 {
		return nil
	}

	// Format: hostname key value, one item per line
	var lines []string
	for _, d := range data {
		value := strings.ReplaceAll(d.Value, "\n", "\\n")
		lines = append(lines, fmt.Sprintf(`%s %s %s`, quoteField(d.Host), quoteField(d.Key), quoteField(value)))
	}

	s.log.Debug("Sending data to Zabbix", zap.Int("items", len(data)))

	// Execute zabbix_sender with a timeout to prevent hanging
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, //nolint:gosec // G204: args come from validated config, not user input
		s.cfg.SenderPath,
		"-z", s.cfg.ServerFQDN,
		"-p", strconv.Itoa(s.cfg.ServerPort),
		"-i", "-", // read from stdin
	)
	cmd.Stdin = bytes.NewReader([]byte(strings.Join(lines, "\n") + "\n"))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("zabbix_sender failed: %w: %s", err, string(output))
	}

	s.log.Debug("zabbix_sender completed", zap.String("output", string(output)))
	return nil
}

// SendReport pushes the summary items of a finished session. The Zabbix
// host defaults to the tested host.
func (s *Sender) SendReport(ctx context.Context, r *session.Report) error {
	host := s.cfg.Host
	if host == "" {
		host = r.Host
	}
	items, err := BuildReportItems(host, r)
	if err != nil {
		return err
	}
	return s.Send(ctx, items)
}

// BuildReportItems converts a report into trapper values.
func BuildReportItems(host string, r *session.Report) ([]SenderData, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	items := []SenderData{
		{Host: host, Key: KeyPassed, Value: boolValue(r.OverallPassed)},
		{Host: host, Key: KeyVerdict, Value: r.Verdict()},
		{Host: host, Key: KeyWarnings, Value: strconv.Itoa(len(r.Warnings))},
		{Host: host, Key: KeyDuration, Value: strconv.FormatFloat(r.Duration().Seconds(), 'f', 3, 64)},
	}
	for _, step := range r.Steps {
		items = append(items, SenderData{Host: host, Key: StepKey(step.Name), Value: boolValue(step.Result.Succeeded)})
	}
	items = append(items, SenderData{Host: host, Key: KeyReport, Value: string(body)})
	return items, nil
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// quoteField quotes a zabbix_sender input field when it contains blanks
// or quotes.
func quoteField(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"\\") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
