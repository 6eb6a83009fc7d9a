package zabbix

import "go.uber.org/fx"

// Module provides the Zabbix sender for fx injection.
var Module = fx.Module("zabbix",
	fx.Provide(NewSender),
)
