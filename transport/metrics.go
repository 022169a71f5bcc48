package transport

const (
	// MetricSwitches 路径切换次数 (Counter)，标签: from, to, reason
	MetricSwitches = "transport_switches_total"

	// MetricFailures 当前失败计数 (Gauge)
	MetricFailures = "transport_failures"

	// 切换原因
	ReasonFailures      = "failures"
	ReasonRevert        = "revert"
	ReasonForced        = "forced"
	ReasonProxyDisabled = "proxy_disabled"
)
