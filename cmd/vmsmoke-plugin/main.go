package main

import (
	"fmt"
	"os"

	"golang.zabbix.com/sdk/plugin"
	"golang.zabbix.com/sdk/plugin/container"

	"github.com/kidoz/vmsmoke/internal/agent2"
)

func main() {
	p := agent2.NewPlugin()

	err := plugin.RegisterMetrics(
		p, agent2.PluginName,
		agent2.KeyDiscovery, "Returns LLD JSON for hosts with a stored smoke run.",
		agent2.KeyPassed, "Returns 1 if the latest smoke run of a host passed.",
		agent2.KeyVerdict, "Returns the verdict of the latest smoke run of a host.",
		agent2.KeyWarnings, "Returns the warning count of the latest smoke run of a host.",
		agent2.KeyAge, "Returns seconds since the latest smoke run of a host finished.",
		agent2.KeyReport, "Returns the latest smoke report of a host as JSON.",
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register metrics: %s\n", err)
		os.Exit(1)
	}

	h, err := container.NewHandler(agent2.PluginName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create handler: %s\n", err)
		os.Exit(1)
	}

	if err := h.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "plugin execution failed: %s\n", err)
		os.Exit(1)
	}
}
