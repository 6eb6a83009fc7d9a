package agent2

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.zabbix.com/sdk/plugin"

	"github.com/kidoz/vmsmoke/internal/history"
)

// PluginName is the name Agent 2 knows the plugin by.
const PluginName = "VMSmoke"

// DefaultRefreshInterval is the default seconds between history reloads.
const DefaultRefreshInterval = 60

// Item keys exported by the plugin.
const (
	KeyDiscovery = "vmsmoke.hosts.discovery"
	KeyPassed    = "vmsmoke.last.passed"
	KeyVerdict   = "vmsmoke.last.verdict"
	KeyWarnings  = "vmsmoke.last.warnings"
	KeyAge       = "vmsmoke.last.age"
	KeyReport    = "vmsmoke.last.report"
)

// SmokePlugin implements Configurator, Runner and Exporter for Zabbix Agent 2.
// It serves the latest run per host from the vmsmoke history database.
type SmokePlugin struct {
	plugin.Base

	historyPath     string
	refreshInterval int
	cache           *ReportCache
	now             func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPlugin creates a new SmokePlugin instance.
func NewPlugin() *SmokePlugin {
	return &SmokePlugin{
		cache:           NewReportCache(),
		refreshInterval: DefaultRefreshInterval,
		now:             time.Now,
	}
}

// --- Configurator ---

// Configure is called by Agent 2 to pass config options
// (Plugins.VMSmoke.* keys).
func (p *SmokePlugin) Configure(globalOptions *plugin.GlobalOptions, privateOptions any) {
	opts, ok := privateOptions.(map[string]string)
	if !ok {
		p.Errf("unexpected privateOptions type: %T", privateOptions)
		return
	}
	p.configure(opts)
}

func (p *SmokePlugin) configure(opts map[string]string) {
	if v, ok := opts["HistoryPath"]; ok {
		p.historyPath = v
	}
	if v, ok := opts["RefreshInterval"]; ok {
		if ri, err := strconv.Atoi(v); err == nil {
			p.refreshInterval = ri
		}
	}
}

// Validate checks mandatory configuration.
func (p *SmokePlugin) Validate(privateOptions any) error {
	opts, ok := privateOptions.(map[string]string)
	if !ok {
		return fmt.Errorf("unexpected privateOptions type: %T", privateOptions)
	}
	if opts["HistoryPath"] == "" {
		return fmt.Errorf("Plugins.VMSmoke.HistoryPath is required")
	}
	if v, ok := opts["RefreshInterval"]; ok {
		if ri, err := strconv.Atoi(v); err != nil || ri <= 0 {
			return fmt.Errorf("Plugins.VMSmoke.RefreshInterval must be a positive integer, got %q", v)
		}
	}
	return nil
}

// --- Runner ---

// Start is called when Agent 2 starts the plugin.
func (p *SmokePlugin) Start() {
	p.Infof("starting VMSmoke plugin (history: %s, refresh interval: %ds)", p.historyPath, p.refreshInterval)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.refreshLoop(ctx)
}

// Stop is called when Agent 2 shuts down.
func (p *SmokePlugin) Stop() {
	p.Infof("stopping VMSmoke plugin")
	p.cancel()
	p.wg.Wait()
}

func (p *SmokePlugin) refreshLoop(ctx context.Context) {
	defer p.wg.Done()

	// Load immediately on start, then periodically.
	p.logRefresh(ctx)

	interval := p.refreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.logRefresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *SmokePlugin) logRefresh(ctx context.Context) {
	n, err := p.refresh(ctx)
	if err != nil {
		p.Errf("history refresh failed: %s", err)
		return
	}
	p.Debugf("history refreshed: %d hosts", n)
}

// refresh reloads the latest run per host from the history database.
func (p *SmokePlugin) refresh(ctx context.Context) (int, error) {
	if p.historyPath == "" {
		return 0, fmt.Errorf("plugin not configured, HistoryPath is empty")
	}

	store, err := history.Open(ctx, p.historyPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = store.Close() }()

	latest, err := store.LatestPerHost(ctx)
	if err != nil {
		return 0, err
	}
	p.cache.Update(latest, p.now())
	return len(latest), nil
}

// --- Exporter ---

// Export handles item key requests from Agent 2.
func (p *SmokePlugin) Export(key string, params []string, ctx plugin.ContextProvider) (any, error) {
	if !p.cache.Ready() {
		return nil, fmt.Errorf("no history data available yet")
	}

	if key == KeyDiscovery {
		return p.discovery()
	}

	if len(params) < 1 || params[0] == "" {
		return nil, fmt.Errorf("%s requires host parameter", key)
	}
	entry, ok := p.cache.Get(params[0])
	if !ok {
		return nil, fmt.Errorf("no smoke run recorded for host %s", params[0])
	}

	switch key {
	case KeyPassed:
		if entry.Passed {
			return 1, nil
		}
		return 0, nil
	case KeyVerdict:
		return entry.Verdict, nil
	case KeyWarnings:
		return entry.Warnings, nil
	case KeyAge:
		return int64(p.now().Sub(entry.FinishedAt).Seconds()), nil
	case KeyReport:
		b, err := json.Marshal(entry.Report)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report: %w", err)
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("unknown key: %s", key)
	}
}

func (p *SmokePlugin) discovery() (string, error) {
	hosts := p.cache.Hosts()
	data := make([]map[string]string, 0, len(hosts))
	for _, h := range hosts {
		data = append(data, map[string]string{"{#HOST}": h})
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal LLD data: %w", err)
	}
	return string(b), nil
}
