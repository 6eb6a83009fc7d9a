package probe

import (
	"bytes"
	"context"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/transport"
)

// Prober answers whether a host is reachable.
type Prober interface {
	Check(ctx context.Context, host string, timeout time.Duration) bool
}

// Runner abstracts command execution for testability.
type Runner interface {
	LookPath(file string) (string, error)
	RunCommand(ctx context.Context, name string, args ...string) (output string, err error)
}

// ExecRunner implements Runner using actual OS commands.
type ExecRunner struct{}

// LookPath searches for an executable in PATH.
func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// RunCommand executes a command and returns its combined output.
func (ExecRunner) RunCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: host is validated before reaching here
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// DefaultRetryInterval is the pause between attempts while a host is down.
const DefaultRetryInterval = 2 * time.Second

// Pinger checks reachability with the system ping binary and falls back to
// a TCP connect when ping is missing or gets no reply. Attempts repeat until
// one succeeds or the timeout expires, so a rebooting host gets time to
// come back.
type Pinger struct {
	cfg      config.ProbeConfig
	runner   Runner
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	interval time.Duration
	log      *zap.Logger
}

// NewPinger creates a Pinger that executes real commands.
func NewPinger(cfg config.ProbeConfig, log *zap.Logger) *Pinger {
	return NewPingerWithRunner(cfg, ExecRunner{}, log)
}

// NewPingerWithRunner creates a Pinger with a custom command runner.
func NewPingerWithRunner(cfg config.ProbeConfig, runner Runner, log *zap.Logger) *Pinger {
	var d net.Dialer
	return &Pinger{cfg: cfg, runner: runner, dial: d.DialContext, interval: DefaultRetryInterval, log: log}
}

// WithFallbackPort returns a copy of p whose TCP fallback dials port. A
// disabled fallback stays disabled.
func (p *Pinger) WithFallbackPort(port int) Prober {
	c := *p
	if c.cfg.FallbackPort > 0 && port > 0 {
		c.cfg.FallbackPort = port
	}
	return &c
}

// Check reports whether host answered within timeout. A zero timeout
// makes a single attempt.
func (p *Pinger) Check(ctx context.Context, host string, timeout time.Duration) bool {
	if err := transport.ValidateHostTarget(host); err != nil {
		p.log.Warn("Refusing to probe invalid host", zap.String("host", host), zap.Error(err))
		return false
	}
	if timeout <= 0 {
		return p.attempt(ctx, host)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		if p.attempt(ctx, host) {
			return true
		}
		p.log.Debug("Host not reachable yet", zap.String("host", host), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.interval):
		}
	}
}

func (p *Pinger) attempt(ctx context.Context, host string) bool {
	if p.ping(ctx, host) {
		return true
	}
	if p.cfg.FallbackPort <= 0 {
		return false
	}
	return p.connect(ctx, host)
}

func (p *Pinger) ping(ctx context.Context, host string) bool {
	path, err := p.runner.LookPath(p.cfg.PingPath)
	if err != nil {
		p.log.Debug("ping binary not found, using TCP fallback", zap.String("ping_path", p.cfg.PingPath))
		return false
	}

	count := p.cfg.Count
	if count <= 0 {
		count = 3
	}
	out, err := p.runner.RunCommand(ctx, path, "-c", strconv.Itoa(count), "-W", "1", host)
	if err != nil {
		p.log.Debug("Ping failed", zap.String("host", host), zap.Error(err))
		return false
	}
	p.log.Debug("Ping succeeded", zap.String("host", host), zap.Float64("loss_pct", parsePingLoss(out)))
	return true
}

func (p *Pinger) connect(ctx context.Context, host string) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(p.cfg.FallbackPort))
	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		p.log.Debug("TCP probe failed", zap.String("addr", addr), zap.Error(err))
		return false
	}
	_ = conn.Close()
	p.log.Debug("TCP probe succeeded", zap.String("addr", addr))
	return true
}

var pingLossRe = regexp.MustCompile(`([0-9.]+)% packet loss`)

// parsePingLoss extracts the packet loss percentage, or 100 if absent.
func parsePingLoss(s string) float64 {
	m := pingLossRe.FindStringSubmatch(s)
	if len(m) == 2 {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	return 100
}
